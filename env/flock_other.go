//go:build !unix

package env

import "os"

// flock/funlock degrade to a no-op lock on non-unix platforms: no lock
// is taken there, so a second process opening the same data directory
// is not refused.
func flock(f *os.File) error   { return nil }
func funlock(f *os.File) error { return nil }
