//go:build !linux

package services

func moveNoReplace(src, dst string) error {
	return linkMove(src, dst)
}
