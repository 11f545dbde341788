//go:build linux

package services

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

func moveNoReplace(src, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, src, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST):
		return fmt.Errorf("%w: %s", ErrOutputExists, dst)
	case errors.Is(err, unix.EXDEV):
		return copyNoReplace(src, dst)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOSYS):
		// filesystem without RENAME_NOREPLACE
		return linkMove(src, dst)
	default:
		return fmt.Errorf("move %s: %w", dst, err)
	}
}
