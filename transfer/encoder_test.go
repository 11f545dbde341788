package transfer

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, cr *ChunkReader) []ChunkRecord {
	t.Helper()
	var out []ChunkRecord
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestTotalChunks(t *testing.T) {
	cases := []struct {
		size  int64
		chunk int
		want  int
	}{
		{0, 4, 0},
		{1, 4, 1},
		{4, 4, 1},
		{5, 4, 2},
		{10, 4, 3},
		{12, 4, 3},
		{900*1024 + 1, 900 * 1024, 2},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, TotalChunks(c.size, c.chunk), "size=%d chunk=%d", c.size, c.chunk)
	}
}

func TestEncoder_ChunkSizesAndConcatenation(t *testing.T) {
	for _, chunkSize := range []int{1, 3, 4, 7, 64} {
		for size := 0; size <= 70; size++ {
			data := bytes.Repeat([]byte{'x'}, size)
			for i := range data {
				data[i] = byte(i)
			}
			enc, err := NewEncoder(chunkSize, "", nil)
			require.NoError(t, err)
			cr, err := enc.NewReader(bytes.NewReader(data), "f.bin", int64(size), "src")
			require.NoError(t, err)

			chunks := readAll(t, cr)
			require.Len(t, chunks, TotalChunks(int64(size), chunkSize))

			var joined []byte
			for i, c := range chunks {
				assert.Equal(t, i, c.ChunkIndex)
				assert.Equal(t, len(chunks), c.TotalChunks)
				assert.Equal(t, cr.SessionID(), c.SessionID)
				require.NoError(t, VerifyChecksum(c))
				joined = append(joined, c.Payload...)
			}
			assert.Equal(t, data, joined, "chunk=%d size=%d", chunkSize, size)
		}
	}
}

func TestEncoder_OpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "letters.txt")
	require.NoError(t, os.WriteFile(path, []byte("ABCDEFGHIJ"), 0o644))

	enc, err := NewEncoder(4, AlgSHA256, nil)
	require.NoError(t, err)
	cr, err := enc.Open(path, "capture-1")
	require.NoError(t, err)
	defer cr.Close()

	chunks := readAll(t, cr)
	require.Len(t, chunks, 3)
	assert.Equal(t, []byte("ABCD"), chunks[0].Payload)
	assert.Equal(t, []byte("EFGH"), chunks[1].Payload)
	assert.Equal(t, []byte("IJ"), chunks[2].Payload)
	for _, c := range chunks {
		assert.Equal(t, "letters.txt", c.FileName)
		assert.Equal(t, int64(10), c.FileSize)
		assert.Equal(t, "capture-1", c.SourceID)
		assert.Empty(t, c.ChecksumAlgorithm)
	}
	assert.Equal(t, chunks[1].SessionID+"-1", chunks[1].MessageID())
}

func TestEncoder_EmptyFileYieldsNoChunks(t *testing.T) {
	enc, err := NewEncoder(4, "", nil)
	require.NoError(t, err)
	cr, err := enc.NewReader(bytes.NewReader(nil), "empty", 0, "src")
	require.NoError(t, err)
	_, err = cr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestEncoder_ShortReadAborts(t *testing.T) {
	enc, err := NewEncoder(4, "", nil)
	require.NoError(t, err)
	cr, err := enc.NewReader(bytes.NewReader([]byte("ABCDEF")), "short", 10, "src")
	require.NoError(t, err)

	_, err = cr.Next()
	require.NoError(t, err)
	_, err = cr.Next()
	require.ErrorIs(t, err, ErrEncodeIO)
	_, err = cr.Next()
	assert.ErrorIs(t, err, ErrEncodeIO)
}

func TestEncoder_MissingFile(t *testing.T) {
	enc, err := NewEncoder(4, "", nil)
	require.NoError(t, err)
	_, err = enc.Open(filepath.Join(t.TempDir(), "nope"), "src")
	assert.ErrorIs(t, err, ErrEncodeIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewEncoder_Rejects(t *testing.T) {
	_, err := NewEncoder(0, "", nil)
	assert.Error(t, err)
	_, err = NewEncoder(4, "md5", nil)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestEncoder_AttachesSourceToken(t *testing.T) {
	signer := NewTokenSigner("s3cret", "chunk-relay", 0)
	enc, err := NewEncoder(4, AlgBlake2b256, signer)
	require.NoError(t, err)
	cr, err := enc.NewReader(bytes.NewReader([]byte("ABCDEFGHIJ")), "f", 10, "capture-1")
	require.NoError(t, err)

	for _, c := range readAll(t, cr) {
		assert.Equal(t, AlgBlake2b256, c.ChecksumAlgorithm)
		require.NoError(t, VerifyChecksum(c))
		require.NoError(t, signer.Verify(c.SourceToken, "capture-1", c.SessionID))
	}
}
