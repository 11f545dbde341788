package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, events <-chan FileEvent, action ActionType, path string) {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			require.True(t, ok, "event channel closed")
			if evt.Action == action && evt.Path == path {
				return
			}
		case <-timeout:
			t.Fatalf("no %s event for %s", action, path)
		}
	}
}

func TestFileMonitor_ReportsCreate(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileMonitor([]string{dir})
	require.NoError(t, err)
	events := fm.MonitorFiles()

	path := filepath.Join(dir, "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	waitFor(t, events, ActionCreate, path)

	require.NoError(t, fm.Close())
	for range events {
	}
}

func TestFileMonitor_IgnoresDirectory(t *testing.T) {
	dir := t.TempDir()
	processed := filepath.Join(dir, "processed")
	require.NoError(t, os.MkdirAll(processed, 0o755))

	fm, err := NewFileMonitor([]string{dir, processed}, processed)
	require.NoError(t, err)
	events := fm.MonitorFiles()
	defer fm.Close()

	require.NoError(t, os.WriteFile(filepath.Join(processed, "old.pdf"), []byte("x"), 0o644))
	visible := filepath.Join(dir, "new.pdf")
	require.NoError(t, os.WriteFile(visible, []byte("x"), 0o644))

	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-events:
			assert.NotContains(t, evt.Path, "old.pdf")
			if evt.Path == visible && evt.Action == ActionCreate {
				return
			}
		case <-timeout:
			t.Fatal("no event for visible file")
		}
	}
}

func TestFileMonitor_NoValidDirectory(t *testing.T) {
	_, err := NewFileMonitor([]string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
