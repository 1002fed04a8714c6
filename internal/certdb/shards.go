package certdb

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	pemExt = ".pem"
	zipExt = ".zip"
	// flatArchive is the shard archive name used by the flat schema.
	flatArchive = "archive" + zipExt
	// maxEntrySize caps reads of a single archived certificate.
	maxEntrySize = 1 << 20
)

// shardArchives caches the fingerprint listing of each shard archive so
// existence checks do not reopen the zip. Listings are dropped whenever a
// shard archive is rewritten.
type shardArchives struct {
	mu       sync.Mutex
	listings map[string]map[string]struct{}
}

func newShardArchives() *shardArchives {
	return &shardArchives{listings: make(map[string]map[string]struct{})}
}

func (a *shardArchives) contains(archivePath, fp string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	listing, ok := a.listings[archivePath]
	if !ok {
		var err error
		listing, err = listArchive(archivePath)
		if err != nil {
			return false, err
		}
		a.listings[archivePath] = listing
	}
	_, found := listing[fp]
	return found, nil
}

func (a *shardArchives) invalidate(archivePath string) {
	a.mu.Lock()
	delete(a.listings, archivePath)
	a.mu.Unlock()
}

func listArchive(archivePath string) (map[string]struct{}, error) {
	listing := make(map[string]struct{})
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return listing, nil
		}
		return nil, fmt.Errorf("opening shard archive %s: %w", archivePath, err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil {
			slog.Warn("closing shard archive", "archive", archivePath, "error", closeErr)
		}
	}()
	for _, f := range zr.File {
		if fp, ok := strings.CutSuffix(f.Name, pemExt); ok {
			listing[fp] = struct{}{}
		}
	}
	return listing, nil
}

// readArchived returns the PEM entry for fp, or fs.ErrNotExist.
func readArchived(archivePath, fp string) ([]byte, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening shard archive %s: %w", archivePath, err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil {
			slog.Warn("closing shard archive", "archive", archivePath, "error", closeErr)
		}
	}()

	f, err := zr.Open(fp + pemExt)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", fp, archivePath, err)
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("archived entry %s exceeds %d bytes", fp, maxEntrySize)
	}
	return data, nil
}

// rewriteArchive replaces archivePath with a copy that keeps every existing
// entry for which keep returns true and appends the files in add (entry name
// to source path). An archive left without entries is removed. The new
// archive is written beside the old one and renamed over it.
func rewriteArchive(archivePath string, keep func(name string) bool, add map[string]string) (int, error) {
	dir := filepath.Dir(archivePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*"+zipExt)
	if err != nil {
		return 0, fmt.Errorf("creating temp archive: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	entries, err := copyEntries(zw, archivePath, func(name string) bool {
		_, replaced := add[name]
		return !replaced && keep(name)
	})
	if err != nil {
		return 0, err
	}

	for name, src := range add {
		data, err := os.ReadFile(src)
		if err != nil {
			return 0, fmt.Errorf("reading %s: %w", src, err)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			return 0, fmt.Errorf("adding %s: %w", name, err)
		}
		if _, err := w.Write(data); err != nil {
			return 0, fmt.Errorf("adding %s: %w", name, err)
		}
		entries++
	}

	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("finishing archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("closing archive: %w", err)
	}

	committed = true
	if entries == 0 {
		_ = os.Remove(tmpName)
		if err := os.Remove(archivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("removing empty archive %s: %w", archivePath, err)
		}
		return 0, nil
	}
	if err := os.Rename(tmpName, archivePath); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("replacing archive %s: %w", archivePath, err)
	}
	return entries, nil
}

// copyEntries copies the entries of archivePath accepted by keep into zw
// without recompressing them. A missing archive copies nothing.
func copyEntries(zw *zip.Writer, archivePath string, keep func(name string) bool) (int, error) {
	old, err := zip.OpenReader(archivePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening shard archive %s: %w", archivePath, err)
	}
	defer func() { _ = old.Close() }()

	n := 0
	for _, f := range old.File {
		if !keep(f.Name) {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return 0, fmt.Errorf("copying %s: %w", f.Name, err)
		}
		n++
	}
	return n, nil
}
