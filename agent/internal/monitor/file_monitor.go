package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chunk-relay/agent/internal/logger"

	"github.com/fsnotify/fsnotify"
)

type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionModify ActionType = "modify"
	ActionDelete ActionType = "delete"
	ActionRename ActionType = "rename"
)

type FileEvent struct {
	Action    ActionType
	Path      string
	Timestamp time.Time
}

const eventQueueSize = 128

// FileMonitor watches directories (not their subdirectories) with fsnotify
// and turns raw notifications into FileEvents.
type FileMonitor struct {
	watcher *fsnotify.Watcher
	dirs    map[string]struct{}
	ignore  []string

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewFileMonitor watches each directory in paths. Events for anything under
// an ignored directory are dropped.
func NewFileMonitor(paths []string, ignore ...string) (*FileMonitor, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fm := &FileMonitor{
		watcher: watcher,
		dirs:    make(map[string]struct{}),
		stop:    make(chan struct{}),
	}
	for _, dir := range ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			fm.ignore = append(fm.ignore, filepath.Clean(abs))
		}
	}

	for _, raw := range paths {
		abs, err := filepath.Abs(raw)
		if err != nil {
			logger.Errorf("Failed to resolve %s: %v", raw, err)
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			logger.Errorf("Invalid path %s: %v", abs, err)
			continue
		}
		dir := abs
		if !info.IsDir() {
			dir = filepath.Dir(abs)
		}
		dir = filepath.Clean(dir)
		if _, ok := fm.dirs[dir]; ok {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logger.Errorf("Failed to watch %s: %v", dir, err)
			continue
		}
		logger.Infof("Watching path: %s", dir)
		fm.dirs[dir] = struct{}{}
	}

	if len(fm.dirs) == 0 {
		_ = watcher.Close()
		return nil, errors.New("file monitor: no valid directories to watch")
	}
	return fm, nil
}

// MonitorFiles starts the event loop. The channel closes after Close.
func (f *FileMonitor) MonitorFiles() <-chan FileEvent {
	out := make(chan FileEvent, eventQueueSize)

	f.wg.Add(1)
	go f.processEvents(out)

	go func() {
		f.wg.Wait()
		close(out)
	}()
	return out
}

func (f *FileMonitor) processEvents(out chan<- FileEvent) {
	defer f.wg.Done()
	for {
		select {
		case <-f.stop:
			return
		case evt, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(evt, out)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			logger.Errorf("File watcher error: %v", err)
		}
	}
}

func (f *FileMonitor) handleEvent(evt fsnotify.Event, out chan<- FileEvent) {
	path := filepath.Clean(evt.Name)
	if f.ignored(path) {
		return
	}
	now := time.Now()
	switch {
	case evt.Op&fsnotify.Create != 0:
		emitEvent(out, FileEvent{Action: ActionCreate, Path: path, Timestamp: now})
	case evt.Op&fsnotify.Write != 0:
		emitEvent(out, FileEvent{Action: ActionModify, Path: path, Timestamp: now})
	case evt.Op&fsnotify.Remove != 0:
		emitEvent(out, FileEvent{Action: ActionDelete, Path: path, Timestamp: now})
	case evt.Op&fsnotify.Rename != 0:
		emitEvent(out, FileEvent{Action: ActionRename, Path: path, Timestamp: now})
	}
}

func (f *FileMonitor) ignored(path string) bool {
	for _, dir := range f.ignore {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Close stops the watcher and waits for the event loop to exit.
func (f *FileMonitor) Close() error {
	var closeErr error
	f.once.Do(func() {
		close(f.stop)
		closeErr = f.watcher.Close()
	})
	f.wg.Wait()
	return closeErr
}

func emitEvent(out chan<- FileEvent, evt FileEvent) {
	select {
	case out <- evt:
	default:
		logger.Errorf("File monitor backpressure, dropping event %+v", evt)
	}
}
