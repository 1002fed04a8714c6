//go:build unix

package certdb

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockStorage takes an exclusive, non-blocking flock on path.
func lockStorage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking storage: %w", err)
	}
	return f, nil
}

func unlockStorage(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("unlocking storage: %w", err)
	}
	return f.Close()
}
