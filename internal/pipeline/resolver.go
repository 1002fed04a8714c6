package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sensiblebit/chainscan/internal/certdb"
)

// Resolver materializes chain certificates as PEM files in an export
// directory. A file already present is reused without locking; otherwise
// the export runs under the resolver's mutex after a second check, so each
// fingerprint is exported at most once per directory.
type Resolver struct {
	store certdb.Reader
	dir   string
	mu    sync.Mutex
}

// NewResolver returns a resolver exporting from store into dir.
func NewResolver(store certdb.Reader, dir string) *Resolver {
	return &Resolver{store: store, dir: dir}
}

// Dir returns the export directory.
func (r *Resolver) Dir() string { return r.dir }

// Resolve returns the file path of each fingerprint in chain, in order.
// A fingerprint the store cannot provide yields an error wrapping
// ErrBrokenChain; any other error is an I/O failure.
func (r *Resolver) Resolve(chain []string) ([]string, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty chain", ErrBrokenChain)
	}
	paths := make([]string, len(chain))
	for i, fp := range chain {
		p, err := r.resolve(fp)
		if err != nil {
			return nil, err
		}
		paths[i] = p
	}
	return paths, nil
}

func (r *Resolver) resolve(fp string) (string, error) {
	if fp == "" || fp == "." || fp == ".." || strings.ContainsAny(fp, `/\`) {
		return "", fmt.Errorf("%w: bad fingerprint %q", ErrBrokenChain, fp)
	}
	p := r.path(fp)
	if ok, err := fileExists(p); err != nil || ok {
		return p, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, err := fileExists(p); err != nil || ok {
		return p, err
	}
	exported, err := r.store.Export(fp, r.dir, true)
	if err != nil {
		if errors.Is(err, certdb.ErrCertNotAvailable) || errors.Is(err, certdb.ErrInvalidFingerprint) {
			return "", fmt.Errorf("%w: %w", ErrBrokenChain, err)
		}
		return "", fmt.Errorf("exporting %s: %w", fp, err)
	}
	return exported, nil
}

func (r *Resolver) path(fp string) string {
	return filepath.Join(r.dir, fp+".pem")
}

func fileExists(p string) (bool, error) {
	_, err := os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking %s: %w", p, err)
	}
}
