package services

import (
	"os"
	"path/filepath"
	"testing"

	"chunk-relay/backend/app/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAssembly(id string, size int64, chunks map[int][]byte, total int) *session.Assembly {
	return &session.Assembly{
		Meta:   session.Meta{ID: id, FileName: "doc.zip", FileSize: size, TotalChunks: total},
		Chunks: chunks,
	}
}

func tempEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return entries
}

func TestAssembly_WritesInIndexOrder(t *testing.T) {
	out, tmp := t.TempDir(), t.TempDir()
	svc, err := NewAssemblyService(out, tmp)
	require.NoError(t, err)

	path, size, err := svc.Assemble(newAssembly("s1", 10, map[int][]byte{
		2: []byte("IJ"), 0: []byte("ABCD"), 1: []byte("EFGH"),
	}, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	assert.Equal(t, filepath.Join(out, "doc.zip"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJ", string(got))
	assert.Empty(t, tempEntries(t, tmp))
}

func TestAssembly_TempFileStaysInTempDir(t *testing.T) {
	root := t.TempDir()
	out, tmp := filepath.Join(root, "out"), filepath.Join(root, "tmp")
	svc, err := NewAssemblyService(out, tmp)
	require.NoError(t, err)

	path, _, err := svc.Assemble(newAssembly("../escape", 4, map[int][]byte{0: []byte("ABCD")}, 1))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, "doc.zip"), path)

	names := []string{}
	for _, e := range tempEntries(t, root) {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"out", "tmp"}, names)
}

func TestAssembly_Failures(t *testing.T) {
	tests := []struct {
		name    string
		asm     *session.Assembly
		prepare func(t *testing.T, out string)
		wantErr error
	}{
		{
			name:    "missing chunk",
			asm:     newAssembly("s1", 8, map[int][]byte{0: []byte("ABCD")}, 2),
			wantErr: ErrMissingChunk,
		},
		{
			name:    "size mismatch",
			asm:     newAssembly("s2", 9, map[int][]byte{0: []byte("ABCD"), 1: []byte("EFGH")}, 2),
			wantErr: ErrSizeMismatch,
		},
		{
			name: "output exists",
			asm:  newAssembly("s3", 4, map[int][]byte{0: []byte("ABCD")}, 1),
			prepare: func(t *testing.T, out string) {
				require.NoError(t, os.WriteFile(filepath.Join(out, "doc.zip"), []byte("keep"), 0o644))
			},
			wantErr: ErrOutputExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, tmp := t.TempDir(), t.TempDir()
			svc, err := NewAssemblyService(out, tmp)
			require.NoError(t, err)
			if tt.prepare != nil {
				tt.prepare(t, out)
			}
			_, _, err = svc.Assemble(tt.asm)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, tempEntries(t, tmp))
		})
	}
}

func TestAssembly_MoveNeverReplaces(t *testing.T) {
	dir := t.TempDir()
	src, dst := filepath.Join(dir, "a.tmp"), filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	assert.ErrorIs(t, moveNoReplace(src, dst), ErrOutputExists)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(got))

	require.NoError(t, os.Remove(dst))
	require.NoError(t, moveNoReplace(src, dst))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestSafeFileName(t *testing.T) {
	for in, want := range map[string]string{
		"report.pdf":       "report.pdf",
		"../../etc/passwd": "passwd",
		"/abs/dir/x.mp4":   "x.mp4",
		"":                 "unnamed",
		"..":               "unnamed",
	} {
		assert.Equal(t, want, safeFileName(in), in)
	}
}
