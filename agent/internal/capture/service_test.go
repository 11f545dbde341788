package capture

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chunk-relay/agent/internal/db"
	"chunk-relay/agent/internal/monitor"
	"chunk-relay/queue"
	"chunk-relay/transfer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	svc       *Service
	transport *queue.Memory
	files     *gorm.DB
	input     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	input := filepath.Join(t.TempDir(), "input")
	files, err := db.Init(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	enc, err := transfer.NewEncoder(4, transfer.AlgSHA256, nil)
	require.NoError(t, err)
	transport := queue.NewMemory(time.Second)

	svc, err := New(transport, enc, files, Options{
		InputDir:     input,
		SourceID:     "scanner-1",
		Extensions:   []string{".pdf", "zip"},
		SettleDelay:  0,
		ReadyPoll:    5 * time.Millisecond,
		ResultWait:   10 * time.Millisecond,
		ErrorBackoff: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, transport: transport, files: files, input: input}
}

func (f *fixture) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.input, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) chunks(t *testing.T) []transfer.ChunkRecord {
	t.Helper()
	var out []transfer.ChunkRecord
	for {
		msg, err := f.transport.Receive(context.Background(), queue.TopicChunks, time.Millisecond)
		require.NoError(t, err)
		if msg == nil {
			return out
		}
		rec, err := transfer.DecodeChunk(msg.Body)
		require.NoError(t, err)
		require.NoError(t, f.transport.Ack(context.Background(), msg))
		out = append(out, rec)
	}
}

func TestSupported(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.svc.Supported("a.pdf"))
	assert.True(t, f.svc.Supported("A.PDF"))
	assert.True(t, f.svc.Supported("b.zip"))
	assert.False(t, f.svc.Supported("c.txt"))

	all, err := New(f.transport, f.svc.encoder, nil, Options{InputDir: t.TempDir()})
	require.NoError(t, err)
	assert.True(t, all.Supported("c.txt"))
}

func TestProcessExisting_SendsAndMoves(t *testing.T) {
	f := newFixture(t)
	doc := f.write(t, "doc.pdf", "ABCDEFGHIJ")
	f.write(t, "notes.txt", "skip me")
	require.NoError(t, os.WriteFile(filepath.Join(f.svc.ProcessedDir(), "doc.pdf"), []byte("stale"), 0o644))

	assert.Equal(t, 1, f.svc.ProcessExisting(context.Background()))

	chunks := f.chunks(t)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "doc.pdf", c.FileName)
		assert.Equal(t, "scanner-1", c.SourceID)
		assert.Equal(t, chunks[0].SessionID, c.SessionID)
	}

	_, err := os.Stat(doc)
	assert.True(t, os.IsNotExist(err))
	moved, err := os.ReadFile(filepath.Join(f.svc.ProcessedDir(), "doc.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJ", string(moved))
	_, err = os.Stat(filepath.Join(f.input, "notes.txt"))
	assert.NoError(t, err)

	rec, err := db.FindBySession(f.files, chunks[0].SessionID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSent, rec.Status)
	assert.Equal(t, 3, rec.TotalChunks)
	assert.Equal(t, 3, rec.SentChunks)
}

func TestProcessFile_EmptyFileIsMovedWithoutChunks(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "empty.pdf", "")
	require.NoError(t, f.svc.ProcessFile(context.Background(), path))
	assert.Empty(t, f.chunks(t))
	_, err := os.Stat(filepath.Join(f.svc.ProcessedDir(), "empty.pdf"))
	assert.NoError(t, err)
}

func TestProcessFile_SendFailureKeepsFile(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "doc.pdf", "ABCDEFGHIJ")
	require.NoError(t, f.transport.Close())

	err := f.svc.ProcessFile(context.Background(), path)
	assert.ErrorIs(t, err, queue.ErrClosed)
	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)

	var rows []db.DispatchedFile
	require.NoError(t, f.files.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, db.StatusSendError, rows[0].Status)
	assert.Equal(t, 0, rows[0].SentChunks)
}

func TestWatch_ProcessesCreatedFiles(t *testing.T) {
	f := newFixture(t)
	events := make(chan monitor.FileEvent, 4)
	path := f.write(t, "scan.zip", "0123456789")
	events <- monitor.FileEvent{Action: monitor.ActionModify, Path: path}
	events <- monitor.FileEvent{Action: monitor.ActionCreate, Path: filepath.Join(f.input, "ignored.txt")}
	events <- monitor.FileEvent{Action: monitor.ActionCreate, Path: path}
	close(events)

	f.svc.Watch(context.Background(), events)

	assert.Len(t, f.chunks(t), 3)
	_, err := os.Stat(filepath.Join(f.svc.ProcessedDir(), "scan.zip"))
	assert.NoError(t, err)
}

func TestWatch_VanishedFileIsSkipped(t *testing.T) {
	f := newFixture(t)
	events := make(chan monitor.FileEvent, 1)
	events <- monitor.FileEvent{Action: monitor.ActionCreate, Path: filepath.Join(f.input, "gone.pdf")}
	close(events)

	f.svc.Watch(context.Background(), events)
	assert.Empty(t, f.chunks(t))
}

func TestListenResults_UpdatesDispatch(t *testing.T) {
	f := newFixture(t)
	f.write(t, "doc.pdf", "ABCD")
	require.Equal(t, 1, f.svc.ProcessExisting(context.Background()))
	chunks := f.chunks(t)
	require.Len(t, chunks, 1)
	sessionID := chunks[0].SessionID

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.svc.ListenResults(ctx)
	}()

	for _, rec := range []transfer.ResultRecord{
		{SessionID: sessionID, FileName: "doc.pdf", Status: transfer.StatusInProgress, Message: "progress: 100.0%"},
		{SessionID: sessionID, FileName: "doc.pdf", Status: transfer.StatusCompleted, Message: "File successfully processed and saved"},
	} {
		body, err := transfer.EncodeResult(rec)
		require.NoError(t, err)
		require.NoError(t, f.transport.Send(ctx, queue.TopicResults, string(rec.Status), body, time.Hour))
	}

	require.Eventually(t, func() bool {
		row, err := db.FindBySession(f.files, sessionID)
		return err == nil && row.Status == string(transfer.StatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	wg.Wait()

	row, err := db.FindBySession(f.files, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "File successfully processed and saved", row.Message)
	assert.NotNil(t, row.CompletedAt)
	assert.Equal(t, 0, f.transport.Pending(queue.TopicResults))
}
