package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"chunk-relay/backend/app/session"
)

var (
	ErrMissingChunk = errors.New("missing chunk")
	ErrSizeMismatch = errors.New("assembled size mismatch")
	ErrOutputExists = errors.New("output file already exists")
)

// AssemblyService writes complete sessions to the output directory. Files are
// built under tempDir and moved into place without replacing anything.
type AssemblyService struct {
	outputDir string
	tempDir   string
}

func NewAssemblyService(outputDir, tempDir string) (*AssemblyService, error) {
	if outputDir == "" {
		outputDir = "output"
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	for _, dir := range []string{outputDir, tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create dir %s: %w", dir, err)
		}
	}
	return &AssemblyService{outputDir: outputDir, tempDir: tempDir}, nil
}

func (s *AssemblyService) OutputDir() string { return s.outputDir }

// Assemble writes the chunks in index order and returns the final path and size.
func (s *AssemblyService) Assemble(asm *session.Assembly) (string, int64, error) {
	name := safeFileName(asm.FileName)
	tempPath := filepath.Join(s.tempDir, fmt.Sprintf("%s_%s.tmp", safeFileName(asm.ID), name))
	finalPath := filepath.Join(s.outputDir, name)

	if _, err := os.Lstat(finalPath); err == nil {
		return "", 0, fmt.Errorf("%w: %s", ErrOutputExists, finalPath)
	}

	size, err := writeChunks(tempPath, asm)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", 0, err
	}
	if err := moveNoReplace(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, err
	}
	return finalPath, size, nil
}

func writeChunks(tempPath string, asm *session.Assembly) (int64, error) {
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	var written int64
	for i := 0; i < asm.TotalChunks; i++ {
		data, ok := asm.Chunks[i]
		if !ok {
			_ = f.Close()
			return 0, fmt.Errorf("%w: index %d of session %s", ErrMissingChunk, i, asm.ID)
		}
		n, err := f.Write(data)
		written += int64(n)
		if err != nil {
			_ = f.Close()
			return 0, fmt.Errorf("write temp file: %w", err)
		}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if written != asm.FileSize {
		return 0, fmt.Errorf("%w: wrote %d bytes, expected %d", ErrSizeMismatch, written, asm.FileSize)
	}
	return written, nil
}

// safeFileName strips any directory part a sender put into the name.
func safeFileName(name string) string {
	base := filepath.Base(filepath.Clean("/" + filepath.ToSlash(name)))
	if base == "/" || base == "." || base == "" {
		return "unnamed"
	}
	return base
}

// linkMove moves src to dst with a hard link, which fails if dst exists.
func linkMove(src, dst string) error {
	if err := os.Link(src, dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrOutputExists, dst)
		}
		// cross-device or no hard link support
		return copyNoReplace(src, dst)
	}
	return os.Remove(src)
}

func copyNoReplace(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrOutputExists, dst)
		}
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy output: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close output: %w", err)
	}
	return os.Remove(src)
}
