// Package capture turns files dropped into the input directory into chunk
// messages and follows the backend's results for them.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chunk-relay/agent/internal/db"
	"chunk-relay/agent/internal/logger"
	"chunk-relay/agent/internal/monitor"
	"chunk-relay/queue"
	"chunk-relay/transfer"

	"gorm.io/gorm"
)

const processedDirName = "processed"

var ErrNotReady = errors.New("file not ready")

type Options struct {
	InputDir      string
	SourceID      string
	Extensions    []string
	ChunkTopic    string
	ResultTopic   string
	MessageTTL    time.Duration
	SettleDelay   time.Duration
	ReadyPoll     time.Duration
	ReadyAttempts int
	ResultWait    time.Duration
	ErrorBackoff  time.Duration
	ProgressEvery int
}

func (o *Options) defaults() {
	if o.InputDir == "" {
		o.InputDir = "input"
	}
	if o.ChunkTopic == "" {
		o.ChunkTopic = queue.TopicChunks
	}
	if o.ResultTopic == "" {
		o.ResultTopic = queue.TopicResults
	}
	if o.MessageTTL <= 0 {
		o.MessageTTL = queue.DefaultMessageTTL
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.ReadyPoll <= 0 {
		o.ReadyPoll = 250 * time.Millisecond
	}
	if o.ReadyAttempts <= 0 {
		o.ReadyAttempts = 20
	}
	if o.ResultWait <= 0 {
		o.ResultWait = 5 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 50
	}
}

type Service struct {
	transport    queue.Transport
	encoder      *transfer.Encoder
	files        *gorm.DB
	opts         Options
	processedDir string
	exts         map[string]struct{}

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New prepares the input and processed directories. files may be nil, in
// which case dispatches are not recorded.
func New(transport queue.Transport, encoder *transfer.Encoder, files *gorm.DB, opts Options) (*Service, error) {
	opts.defaults()
	processed := filepath.Join(opts.InputDir, processedDirName)
	if err := os.MkdirAll(processed, 0o755); err != nil {
		return nil, fmt.Errorf("create input dir: %w", err)
	}
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	return &Service{
		transport:    transport,
		encoder:      encoder,
		files:        files,
		opts:         opts,
		processedDir: processed,
		exts:         exts,
		inFlight:     make(map[string]struct{}),
	}, nil
}

func (s *Service) InputDir() string     { return s.opts.InputDir }
func (s *Service) ProcessedDir() string { return s.processedDir }

// Supported reports whether path has an accepted extension. An empty
// extension list accepts everything.
func (s *Service) Supported(path string) bool {
	if len(s.exts) == 0 {
		return true
	}
	_, ok := s.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Run processes files already waiting, then follows events and results until
// ctx is done.
func (s *Service) Run(ctx context.Context, events <-chan monitor.FileEvent) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.ListenResults(ctx)
	}()

	s.ProcessExisting(ctx)
	s.Watch(ctx, events)
	wg.Wait()
}

// ProcessExisting sends every supported file currently in the input
// directory and returns how many were sent.
func (s *Service) ProcessExisting(ctx context.Context) int {
	entries, err := os.ReadDir(s.opts.InputDir)
	if err != nil {
		logger.Errorf("Read input dir %s: %v", s.opts.InputDir, err)
		return 0
	}
	sent := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if e.IsDir() || !s.Supported(e.Name()) {
			continue
		}
		path := filepath.Join(s.opts.InputDir, e.Name())
		if err := s.ProcessFile(ctx, path); err != nil {
			logger.Errorf("Send %s: %v", path, err)
			continue
		}
		sent++
	}
	if sent > 0 {
		logger.Infof("Sent %d existing file(s) from %s", sent, s.opts.InputDir)
	}
	return sent
}

// Watch handles create events one at a time until events closes or ctx is done.
func (s *Service) Watch(ctx context.Context, events <-chan monitor.FileEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Action != monitor.ActionCreate || !s.Supported(evt.Path) {
				continue
			}
			if filepath.Dir(evt.Path) == filepath.Clean(s.processedDir) {
				continue
			}
			logger.Infof("New file detected: %s", filepath.Base(evt.Path))
			if err := s.waitUntilReady(ctx, evt.Path); err != nil {
				logger.Warnf("Skipping %s: %v", evt.Path, err)
				continue
			}
			if err := s.ProcessFile(ctx, evt.Path); err != nil {
				logger.Errorf("Send %s: %v", evt.Path, err)
			}
		}
	}
}

// waitUntilReady waits out the settle delay, then until the file opens and
// its size holds still between two polls.
func (s *Service) waitUntilReady(ctx context.Context, path string) error {
	if !sleepCtx(ctx, s.opts.SettleDelay) {
		return ctx.Err()
	}
	last := int64(-1)
	for i := 0; i < s.opts.ReadyAttempts; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrNotReady, path)
		}
		if info.Size() == last {
			f, err := os.Open(path)
			if err == nil {
				_ = f.Close()
				return nil
			}
		}
		last = info.Size()
		if !sleepCtx(ctx, s.opts.ReadyPoll) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s still changing after %d checks", ErrNotReady, path, s.opts.ReadyAttempts)
}

// ProcessFile encodes path, sends every chunk and moves the file into the
// processed directory. On failure the file stays where it is.
func (s *Service) ProcessFile(ctx context.Context, path string) error {
	if !s.claim(path) {
		return nil
	}
	defer s.release(path)

	r, err := s.encoder.Open(path, s.opts.SourceID)
	if err != nil {
		return err
	}
	sessionID, total := r.SessionID(), r.TotalChunks()
	if total == 0 {
		_ = r.Close()
		logger.Warnf("Skipping empty file %s", path)
		return s.moveToProcessed(path)
	}
	logger.Infof("Sending %s (%d bytes) as %d chunk(s), session %s", r.FileName(), r.FileSize(), total, sessionID)
	s.record(&db.DispatchedFile{
		SessionID:   sessionID,
		Path:        path,
		FileName:    r.FileName(),
		FileSize:    r.FileSize(),
		TotalChunks: total,
		Status:      db.StatusSending,
	})

	sent, err := s.sendChunks(ctx, r)
	_ = r.Close()
	if err != nil {
		s.progress(sessionID, sent, db.StatusSendError, err.Error())
		return err
	}
	s.progress(sessionID, sent, db.StatusSent, "")
	if err := s.moveToProcessed(path); err != nil {
		return err
	}
	logger.Infof("File %s sent successfully", r.FileName())
	return nil
}

func (s *Service) sendChunks(ctx context.Context, r *transfer.ChunkReader) (int, error) {
	total := r.TotalChunks()
	sent := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		body, err := transfer.EncodeChunk(rec)
		if err != nil {
			return sent, fmt.Errorf("encode chunk %d: %w", rec.ChunkIndex, err)
		}
		if err := s.transport.Send(ctx, s.opts.ChunkTopic, rec.MessageID(), body, s.opts.MessageTTL); err != nil {
			return sent, fmt.Errorf("send chunk %d: %w", rec.ChunkIndex, err)
		}
		sent++
		if sent%s.opts.ProgressEvery == 0 || sent == total {
			logger.Infof("Sent %d/%d chunks of %s", sent, total, r.FileName())
		}
	}
}

func (s *Service) moveToProcessed(path string) error {
	dst := filepath.Join(s.processedDir, filepath.Base(path))
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("replace processed file: %w", err)
	}
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("move to processed: %w", err)
	}
	return nil
}

func (s *Service) claim(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[path]; busy {
		return false
	}
	s.inFlight[path] = struct{}{}
	return true
}

func (s *Service) release(path string) {
	s.mu.Lock()
	delete(s.inFlight, path)
	s.mu.Unlock()
}

// ListenResults logs the backend's result records until ctx is done.
func (s *Service) ListenResults(ctx context.Context) {
	logger.Infof("Listening for results on %s", s.opts.ResultTopic)
	for ctx.Err() == nil {
		msg, err := s.transport.Receive(ctx, s.opts.ResultTopic, s.opts.ResultWait)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.Errorf("Receive results: %v", err)
			sleepCtx(ctx, s.opts.ErrorBackoff)
			continue
		}
		if msg == nil {
			continue
		}
		rec, err := transfer.DecodeResult(msg.Body)
		if err != nil {
			logger.Warnf("Dropping undecodable result %s: %v", msg.ID, err)
		} else {
			s.HandleResult(rec)
		}
		if err := s.transport.Ack(ctx, msg); err != nil {
			logger.Warnf("Ack result %s: %v", msg.ID, err)
		}
	}
}

// HandleResult logs a result and, for final statuses, updates the dispatch record.
func (s *Service) HandleResult(rec transfer.ResultRecord) {
	logger.Infof("Result: %s - %s", rec.FileName, rec.Status)
	if rec.Message != "" {
		logger.Infof("  %s", rec.Message)
	}
	if s.files == nil {
		return
	}
	if rec.Status != transfer.StatusCompleted && rec.Status != transfer.StatusFailed {
		return
	}
	if _, err := db.ApplyResult(s.files, rec.SessionID, string(rec.Status), rec.Message, rec.ProcessedAt); err != nil {
		logger.Warnf("Update dispatch %s: %v", rec.SessionID, err)
	}
}

func (s *Service) record(f *db.DispatchedFile) {
	if s.files == nil {
		return
	}
	if err := db.RecordDispatch(s.files, f); err != nil {
		logger.Warnf("Record dispatch %s: %v", f.SessionID, err)
	}
}

func (s *Service) progress(sessionID string, sent int, status, message string) {
	if s.files == nil {
		return
	}
	if err := db.UpdateProgress(s.files, sessionID, sent, status, message); err != nil {
		logger.Warnf("Update dispatch %s: %v", sessionID, err)
	}
}

// sleepCtx returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
