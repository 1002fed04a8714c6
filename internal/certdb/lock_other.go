//go:build !unix

package certdb

import (
	"fmt"
	"os"
)

// lockStorage only creates the lock file; advisory locking is unix only.
func lockStorage(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	return f, nil
}

func unlockStorage(f *os.File) error {
	return f.Close()
}
