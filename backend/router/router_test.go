package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chunk-relay/backend/app/controllers"
	"chunk-relay/backend/app/db"
	"chunk-relay/backend/app/dto"
	"chunk-relay/backend/app/metrics"
	"chunk-relay/backend/app/models"
	"chunk-relay/backend/app/repo"
	"chunk-relay/backend/app/session"
	"chunk-relay/backend/global"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) (http.Handler, *session.Store, *repo.TransferResultRepository) {
	t.Helper()
	global.Logger = zerolog.Nop()
	gdb, err := db.Connect(db.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "r.db")})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&models.TransferResult{}))
	results := repo.NewTransferResultRepository(gdb)

	store := session.NewStore(4)
	m := metrics.New(func() float64 { return float64(store.Len()) })
	h := NewRouter(controllers.NewHTTPController(), controllers.NewTransferController(store, results), m.Handler())
	return h, store, results
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Livez(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(t, h, "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_SessionsReflectStore(t *testing.T) {
	h, store, _ := newTestRouter(t)
	now := time.Now()
	_, _, err := store.Touch(session.Meta{ID: "s1", FileName: "a.pdf", FileSize: 8, TotalChunks: 4, SourceID: "src"}, now)
	require.NoError(t, err)
	_, err = store.Put("s1", 2, []byte("xx"), now)
	require.NoError(t, err)

	rec := get(t, h, "/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var list dto.SessionListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "s1", list.Sessions[0].SessionID)
	assert.Equal(t, 1, list.Sessions[0].ReceivedChunks)
	assert.InDelta(t, 25.0, list.Sessions[0].Progress, 0.001)

	rec = get(t, h, "/sessions/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var one dto.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, []int{2}, one.Received)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/sessions/nope").Code)

	_, removed := store.Remove("s1", now)
	require.True(t, removed)
	assert.Equal(t, http.StatusGone, get(t, h, "/sessions/s1").Code)
}

func TestRouter_Results(t *testing.T) {
	h, _, results := newTestRouter(t)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/results/s1").Code)

	require.NoError(t, results.Create(&models.TransferResult{SessionID: "s1", FileName: "a.pdf", Status: "Completed", ProcessedFileSize: 8, ProcessedAt: time.Now()}))
	rec := get(t, h, "/results/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp dto.ResultListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Completed", resp.Results[0].Status)
}

func TestRouter_Metrics(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chunk_relay_active_sessions")
}
