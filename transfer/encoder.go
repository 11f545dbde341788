package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const DefaultChunkSize = 900 * 1024

var ErrEncodeIO = errors.New("encode io")

// TotalChunks is ceil(fileSize / chunkSize).
func TotalChunks(fileSize int64, chunkSize int) int {
	if fileSize <= 0 || chunkSize <= 0 {
		return 0
	}
	cs := int64(chunkSize)
	return int((fileSize + cs - 1) / cs)
}

// Encoder splits files into checksummed chunk records.
type Encoder struct {
	chunkSize int
	algorithm string
	tokens    *TokenSigner
}

func NewEncoder(chunkSize int, algorithm string, tokens *TokenSigner) (*Encoder, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if _, err := digest(algorithm, nil); err != nil {
		return nil, err
	}
	return &Encoder{chunkSize: chunkSize, algorithm: algorithm, tokens: tokens}, nil
}

func (e *Encoder) ChunkSize() int { return e.chunkSize }

// Open starts a new session over the file at path. The caller must Close the reader.
func (e *Encoder) Open(path, sourceID string) (*ChunkReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrEncodeIO, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: stat %s: %w", ErrEncodeIO, path, err)
	}
	cr, err := e.NewReader(f, filepath.Base(path), info.Size(), sourceID)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	cr.closer = f
	return cr, nil
}

// NewReader starts a new session over r, which must yield exactly fileSize bytes.
func (e *Encoder) NewReader(r io.Reader, fileName string, fileSize int64, sourceID string) (*ChunkReader, error) {
	sessionID := uuid.NewString()
	var token string
	if e.tokens != nil {
		t, err := e.tokens.Sign(sourceID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("sign source token: %w", err)
		}
		token = t
	}
	return &ChunkReader{
		enc:       e,
		r:         r,
		sessionID: sessionID,
		fileName:  fileName,
		fileSize:  fileSize,
		sourceID:  sourceID,
		token:     token,
		total:     TotalChunks(fileSize, e.chunkSize),
	}, nil
}

// ChunkReader yields the chunks of one file lazily, in index order.
type ChunkReader struct {
	enc       *Encoder
	r         io.Reader
	closer    io.Closer
	sessionID string
	fileName  string
	fileSize  int64
	sourceID  string
	token     string
	total     int
	next      int
	err       error
}

func (c *ChunkReader) SessionID() string { return c.sessionID }
func (c *ChunkReader) FileName() string  { return c.fileName }
func (c *ChunkReader) FileSize() int64   { return c.fileSize }
func (c *ChunkReader) TotalChunks() int  { return c.total }

// Next returns the next chunk, or io.EOF after the last one. A read failure
// is sticky: every later call returns the same ErrEncodeIO error.
func (c *ChunkReader) Next() (ChunkRecord, error) {
	if c.err != nil {
		return ChunkRecord{}, c.err
	}
	if c.next >= c.total {
		return ChunkRecord{}, io.EOF
	}
	size := int64(c.enc.chunkSize)
	if remaining := c.fileSize - int64(c.next)*size; remaining < size {
		size = remaining
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		c.err = fmt.Errorf("%w: read chunk %d of %s: %w", ErrEncodeIO, c.next, c.fileName, err)
		return ChunkRecord{}, c.err
	}
	sum, err := Checksum(c.enc.algorithm, payload)
	if err != nil {
		c.err = err
		return ChunkRecord{}, err
	}
	rec := ChunkRecord{
		SessionID:   c.sessionID,
		FileName:    c.fileName,
		FileSize:    c.fileSize,
		ChunkIndex:  c.next,
		TotalChunks: c.total,
		Payload:     payload,
		Checksum:    sum,
		Timestamp:   time.Now().UTC(),
		SourceID:    c.sourceID,
		SourceToken: c.token,
	}
	if c.enc.algorithm != "" && c.enc.algorithm != AlgSHA256 {
		rec.ChecksumAlgorithm = c.enc.algorithm
	}
	c.next++
	return rec, nil
}

func (c *ChunkReader) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}
