package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the outcome carried by a ResultRecord.
type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

var ErrInvalidRecord = errors.New("invalid chunk record")

// ChunkRecord is the unit published on the chunk topic. Payload travels as
// base64 text under the chunkData key.
type ChunkRecord struct {
	SessionID         string    `json:"sessionId"`
	FileName          string    `json:"fileName"`
	FileSize          int64     `json:"fileSize"`
	ChunkIndex        int       `json:"chunkIndex"`
	TotalChunks       int       `json:"totalChunks"`
	Payload           []byte    `json:"chunkData"`
	Checksum          string    `json:"checksum"`
	Timestamp         time.Time `json:"timestamp"`
	SourceID          string    `json:"sourceId"`
	ChecksumAlgorithm string    `json:"checksumAlgorithm,omitempty"`
	SourceToken       string    `json:"sourceToken,omitempty"`
}

// MessageID is the transport-level id of a chunk, stable across resends.
func (c ChunkRecord) MessageID() string {
	return fmt.Sprintf("%s-%d", c.SessionID, c.ChunkIndex)
}

func (c ChunkRecord) Validate() error {
	switch {
	case c.SessionID == "":
		return fmt.Errorf("%w: missing session id", ErrInvalidRecord)
	case !validSessionID(c.SessionID):
		return fmt.Errorf("%w: malformed session id %q", ErrInvalidRecord, c.SessionID)
	case c.FileSize < 0:
		return fmt.Errorf("%w: negative file size %d", ErrInvalidRecord, c.FileSize)
	case c.TotalChunks <= 0:
		return fmt.Errorf("%w: total chunks %d", ErrInvalidRecord, c.TotalChunks)
	case int64(c.TotalChunks) > c.FileSize:
		return fmt.Errorf("%w: %d chunks for %d bytes", ErrInvalidRecord, c.TotalChunks, c.FileSize)
	case c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks:
		return fmt.Errorf("%w: chunk index %d outside [0,%d)", ErrInvalidRecord, c.ChunkIndex, c.TotalChunks)
	}
	return nil
}

const maxSessionIDLen = 128

// validSessionID accepts ids usable as a single path element.
func validSessionID(id string) bool {
	if len(id) > maxSessionIDLen || id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

func EncodeChunk(c ChunkRecord) ([]byte, error) {
	return json.Marshal(c)
}

// DecodeChunk parses and validates a chunk message body.
func DecodeChunk(body []byte) (ChunkRecord, error) {
	var c ChunkRecord
	if err := json.Unmarshal(body, &c); err != nil {
		return ChunkRecord{}, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := c.Validate(); err != nil {
		return ChunkRecord{}, err
	}
	return c, nil
}

// ResultRecord reports the progress or outcome of one session.
type ResultRecord struct {
	SessionID         string    `json:"sessionId"`
	FileName          string    `json:"fileName"`
	Status            Status    `json:"status"`
	Message           string    `json:"message"`
	ProcessedAt       time.Time `json:"processedAt"`
	ProcessedFileSize int64     `json:"processedFileSize"`
	OutputPath        string    `json:"outputPath"`
}

func EncodeResult(r ResultRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeResult(body []byte) (ResultRecord, error) {
	var r ResultRecord
	if err := json.Unmarshal(body, &r); err != nil {
		return ResultRecord{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}
