//go:build linux

// Advisory lock-file acquisition on Linux, using golang.org/x/sys/unix
// for the flock syscall rather than shelling out, matching the
// teacher's direct unix use for platform syscalls
// (internal/fs/devicelister_linux.go).
package orchestrator

import (
	"os"

	"golang.org/x/sys/unix"
)

// acquireLock opens (creating if necessary) the advisory lock file at
// path and takes an exclusive, non-blocking flock on it. A second
// process finding the lock already held gets a plain "would block"
// error (§4.10: "acquire a lock file in the library folder").
func acquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func releaseLock(f *os.File) error {
	if f == nil {
		return nil
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}
