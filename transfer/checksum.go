package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	AlgSHA256     = "sha256"
	AlgBlake2b256 = "blake2b-256"
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrUnknownAlgorithm = errors.New("unknown checksum algorithm")
)

// Checksum returns the base64 digest of data. An empty algorithm means sha256.
func Checksum(alg string, data []byte) (string, error) {
	sum, err := digest(alg, data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sum), nil
}

// VerifyChecksum recomputes the digest of the record payload.
func VerifyChecksum(c ChunkRecord) error {
	want, err := base64.StdEncoding.DecodeString(c.Checksum)
	if err != nil {
		return fmt.Errorf("%w: chunk %d of %s: undecodable checksum", ErrChecksumMismatch, c.ChunkIndex, c.SessionID)
	}
	got, err := digest(c.ChecksumAlgorithm, c.Payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%w: chunk %d of %s", ErrChecksumMismatch, c.ChunkIndex, c.SessionID)
	}
	return nil
}

func digest(alg string, data []byte) ([]byte, error) {
	switch alg {
	case "", AlgSHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case AlgBlake2b256:
		sum := blake2b.Sum256(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
}
