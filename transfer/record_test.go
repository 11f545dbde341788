package transfer

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRecord_WireFields(t *testing.T) {
	rec := ChunkRecord{
		SessionID:   "s-1",
		FileName:    "a.pdf",
		FileSize:    10,
		ChunkIndex:  2,
		TotalChunks: 3,
		Payload:     []byte("IJ"),
		Checksum:    "c2hh",
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SourceID:    "capture-1",
	}
	body, err := EncodeChunk(rec)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("IJ")), raw["chunkData"])
	for _, key := range []string{"sessionId", "fileName", "fileSize", "chunkIndex", "totalChunks", "checksum", "timestamp", "sourceId"} {
		assert.Contains(t, raw, key)
	}
	assert.NotContains(t, raw, "checksumAlgorithm")
	assert.NotContains(t, raw, "sourceToken")
}

func TestDecodeChunk_Validation(t *testing.T) {
	cases := map[string]string{
		"garbage":        `{not json`,
		"missingSession": `{"fileName":"a","fileSize":1,"chunkIndex":0,"totalChunks":1}`,
		"zeroTotal":      `{"sessionId":"s","fileSize":1,"chunkIndex":0,"totalChunks":0}`,
		"indexTooBig":    `{"sessionId":"s","fileSize":1,"chunkIndex":1,"totalChunks":1}`,
		"negativeIndex":  `{"sessionId":"s","fileSize":1,"chunkIndex":-1,"totalChunks":1}`,
		"badBase64":      `{"sessionId":"s","fileSize":1,"chunkIndex":0,"totalChunks":1,"chunkData":"%%%"}`,
		"sessionPath":    `{"sessionId":"../../etc/x","fileSize":1,"chunkIndex":0,"totalChunks":1}`,
		"sessionAbs":     `{"sessionId":"/tmp/x","fileSize":1,"chunkIndex":0,"totalChunks":1}`,
		"sessionDotDot":  `{"sessionId":"..","fileSize":1,"chunkIndex":0,"totalChunks":1}`,
		"moreChunks":     `{"sessionId":"s","fileSize":2,"chunkIndex":0,"totalChunks":3}`,
		"emptyFile":      `{"sessionId":"s","fileSize":0,"chunkIndex":0,"totalChunks":1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeChunk([]byte(body))
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}

	rec, err := DecodeChunk([]byte(`{"sessionId":"s","fileSize":2,"chunkIndex":0,"totalChunks":1,"chunkData":"SUo="}`))
	require.NoError(t, err)
	assert.Equal(t, []byte("IJ"), rec.Payload)
}

func TestResultRecord_RoundTripStatus(t *testing.T) {
	body, err := EncodeResult(ResultRecord{SessionID: "s", Status: StatusCompleted, ProcessedFileSize: 10})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"Completed"`)

	got, err := DecodeResult(body)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, int64(10), got.ProcessedFileSize)
}
