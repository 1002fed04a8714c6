// Package certdb implements a content-addressed certificate store. Each
// certificate is kept as a PEM file named by its SHA-256 fingerprint in a
// directory chosen by the store's Schema; loose files can be folded into
// per-shard zip archives. Certificate states live in a SQLite index next to
// the file tree.
package certdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/sensiblebit/chainscan"
)

// Record is a certificate to insert. Fingerprint may be left empty, in which
// case it is computed from DER.
type Record struct {
	Fingerprint string
	DER         []byte
	State       State
}

// Reader is the read side of a certificate store, as consumed by the
// analysis pipeline.
type Reader interface {
	Exists(fp string) (bool, error)
	GetState(fp string) (State, error)
	Get(fp string) ([]byte, error)
	Export(fp, targetDir string, keepArchived bool) (string, error)
}

// Writer is a Reader that also accepts inserts and deletes.
type Writer interface {
	Reader
	Insert(rec Record) (bool, error)
	Delete(fp string) error
}

// SetupInput holds the parameters for creating a storage.
type SetupInput struct {
	// Schema defaults to DefaultSchema when nil.
	Schema      Schema
	Owner       string
	Description string
}

// OpenOptions controls how a storage is opened.
type OpenOptions struct {
	// ReadOnly skips the storage lock and rejects mutations.
	ReadOnly bool
}

// Stats summarizes the index.
type Stats struct {
	Total   int
	ByState map[State]int
}

// ArchiveStats reports the result of folding loose files into archives.
type ArchiveStats struct {
	Shards   int
	Archived int
}

// Store is an opened certificate storage. It is safe for concurrent use.
type Store struct {
	root     string
	certs    string
	cfg      *StorageConfig
	schema   Schema
	index    *stateIndex
	archives *shardArchives
	lock     *os.File
	readOnly bool

	// mu is held for reading by single-certificate operations and for
	// writing while shard archives are rewritten.
	mu sync.RWMutex
}

// Setup creates a new storage under root.
func Setup(root string, in SetupInput) error {
	if _, err := os.Stat(filepath.Join(root, ConfigFile)); err == nil {
		return fmt.Errorf("setting up %s: %w", root, ErrAlreadyInitialized)
	}
	schema := in.Schema
	if schema == nil {
		schema = DefaultSchema()
	}
	if err := os.MkdirAll(filepath.Join(root, CertsDir), 0755); err != nil {
		return fmt.Errorf("creating storage directory: %w", err)
	}

	idx, err := openIndex(filepath.Join(root, IndexFile), false)
	if err != nil {
		return err
	}
	if err := idx.Close(); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}

	cfg := &StorageConfig{
		Version:     configVersion,
		Schema:      schemaConfig(schema),
		Created:     time.Now().UTC().Truncate(time.Second),
		Owner:       in.Owner,
		Description: in.Description,
	}
	if err := writeConfig(root, cfg); err != nil {
		return err
	}
	slog.Info("storage created", "root", root, "schema", schema.Name())
	return nil
}

// Open opens the storage under root. Read-write opens take an exclusive
// lock held until Close.
func Open(root string, opts OpenOptions) (*Store, error) {
	cfg, err := LoadConfig(root)
	if err != nil {
		return nil, err
	}
	schema, err := SchemaFromConfig(cfg.Schema)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", root, err)
	}

	s := &Store{
		root:     root,
		certs:    filepath.Join(root, CertsDir),
		cfg:      cfg,
		schema:   schema,
		archives: newShardArchives(),
		readOnly: opts.ReadOnly,
	}
	if !opts.ReadOnly {
		if s.lock, err = lockStorage(filepath.Join(root, LockFile)); err != nil {
			return nil, fmt.Errorf("opening %s: %w", root, err)
		}
	}
	s.index, err = openIndex(filepath.Join(root, IndexFile), opts.ReadOnly)
	if err != nil {
		if s.lock != nil {
			_ = unlockStorage(s.lock)
		}
		return nil, err
	}
	slog.Debug("storage opened", "root", root, "read_only", opts.ReadOnly)
	return s, nil
}

// Close releases the index and the storage lock.
func (s *Store) Close() error {
	var errs []error
	if err := s.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing index: %w", err))
	}
	if s.lock != nil {
		if err := unlockStorage(s.lock); err != nil {
			errs = append(errs, err)
		}
		s.lock = nil
	}
	return errors.Join(errs...)
}

// Root returns the storage directory.
func (s *Store) Root() string { return s.root }

// Config returns the storage config read at open.
func (s *Store) Config() StorageConfig { return *s.cfg }

// Schema returns the storage layout.
func (s *Store) Schema() Schema { return s.schema }

func (s *Store) loosePath(fp string) string {
	return filepath.Join(s.certs, filepath.FromSlash(s.schema.Dir(fp)), fp+pemExt)
}

func (s *Store) archivePath(fp string) string {
	return s.shardArchive(s.schema.Dir(fp))
}

func (s *Store) shardArchive(dir string) string {
	if dir == "" {
		return filepath.Join(s.certs, flatArchive)
	}
	return filepath.Join(s.certs, filepath.FromSlash(dir)+zipExt)
}

func checkFingerprint(fp string) error {
	if !chainscan.IsFingerprint(fp) {
		return fmt.Errorf("%w: %q", ErrInvalidFingerprint, fp)
	}
	return nil
}

// Insert stores rec. A given fingerprint may use uppercase or colon
// notation. The PEM file is written only when the certificate is
// not yet present; the recorded state is replaced only by a superseding
// one. Reports whether anything changed.
func (s *Store) Insert(rec Record) (bool, error) {
	if s.readOnly {
		return false, ErrReadOnly
	}
	if len(rec.DER) == 0 {
		return false, errors.New("inserting certificate: empty DER")
	}
	fp := chainscan.FingerprintDER(rec.DER)
	if listed := chainscan.NormalizeFingerprint(rec.Fingerprint); listed != "" && listed != fp {
		return false, fmt.Errorf("inserting %s: %w (computed %s)", rec.Fingerprint, ErrFingerprintMismatch, fp)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	present, err := s.exists(fp)
	if err != nil {
		return false, err
	}
	written := false
	if !present {
		if err := writeFileAtomic(s.loosePath(fp), chainscan.DERToPEM(rec.DER), 0644); err != nil {
			return false, fmt.Errorf("inserting %s: %w", fp, err)
		}
		written = true
	}
	updated, err := s.index.upsert(fp, rec.State)
	if err != nil {
		return written, err
	}
	if updated {
		slog.Debug("certificate stored", "fingerprint", fp, "state", rec.State, "new", written)
	}
	return written || updated, nil
}

// Exists reports whether the store holds fp.
func (s *Store) Exists(fp string) (bool, error) {
	if err := checkFingerprint(fp); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exists(fp)
}

// ExistsAll reports whether the store holds every fingerprint in fps.
func (s *Store) ExistsAll(fps []string) (bool, error) {
	for _, fp := range fps {
		ok, err := s.Exists(fp)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (s *Store) exists(fp string) (bool, error) {
	if _, err := os.Stat(s.loosePath(fp)); err == nil {
		return true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("checking %s: %w", fp, err)
	}
	return s.archives.contains(s.archivePath(fp), fp)
}

// GetState returns the recorded state of fp. A certificate present in the
// file tree without an index row is StateUnknown.
func (s *Store) GetState(fp string) (State, error) {
	ok, err := s.Exists(fp)
	if err != nil {
		return StateUnknown, err
	}
	if !ok {
		return StateUnknown, fmt.Errorf("state of %s: %w", fp, ErrNotFound)
	}
	state, _, err := s.index.state(fp)
	return state, err
}

// Get returns the PEM encoding of fp.
func (s *Store) Get(fp string) ([]byte, error) {
	if err := checkFingerprint(fp); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(fp)
}

func (s *Store) read(fp string) ([]byte, error) {
	data, err := os.ReadFile(s.loosePath(fp))
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", fp, err)
	}
	archived, err := s.archives.contains(s.archivePath(fp), fp)
	if err != nil {
		return nil, err
	}
	if !archived {
		return nil, fmt.Errorf("reading %s: %w", fp, ErrCertNotAvailable)
	}
	data, err = readArchived(s.archivePath(fp), fp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", fp, ErrCertNotAvailable)
		}
		return nil, err
	}
	return data, nil
}

// Export writes fp as <targetDir>/<fp>.pem and returns the path. With
// keepArchived false the store's own copy and index row are removed once
// the export is on disk.
func (s *Store) Export(fp, targetDir string, keepArchived bool) (string, error) {
	if err := checkFingerprint(fp); err != nil {
		return "", err
	}
	if !keepArchived && s.readOnly {
		return "", ErrReadOnly
	}
	if keepArchived {
		s.mu.RLock()
		defer s.mu.RUnlock()
	} else {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	data, err := s.read(fp)
	if err != nil {
		return "", err
	}
	target := filepath.Join(targetDir, fp+pemExt)
	if err := writeFileAtomic(target, data, 0644); err != nil {
		return "", fmt.Errorf("exporting %s: %w", fp, err)
	}
	if !keepArchived {
		if err := s.remove(fp); err != nil {
			return target, err
		}
	}
	return target, nil
}

// Delete removes fp from the file tree, its shard archive and the index.
func (s *Store) Delete(fp string) error {
	if err := checkFingerprint(fp); err != nil {
		return err
	}
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ok, err := s.exists(fp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("deleting %s: %w", fp, ErrNotFound)
	}
	return s.remove(fp)
}

// remove drops every copy of fp. Callers hold s.mu for writing.
func (s *Store) remove(fp string) error {
	if err := os.Remove(s.loosePath(fp)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", fp, err)
	}
	archive := s.archivePath(fp)
	archived, err := s.archives.contains(archive, fp)
	if err != nil {
		return err
	}
	if archived {
		entry := fp + pemExt
		_, err := rewriteArchive(archive, func(name string) bool { return name != entry }, nil)
		s.archives.invalidate(archive)
		if err != nil {
			return fmt.Errorf("removing %s from archive: %w", fp, err)
		}
	}
	if err := s.index.remove(fp); err != nil {
		return err
	}
	slog.Debug("certificate removed", "fingerprint", fp)
	return nil
}

// Archive folds the loose files of every shard into the shard's zip
// archive and removes them. Readers wait while archives are rewritten.
func (s *Store) Archive() (ArchiveStats, error) {
	if s.readOnly {
		return ArchiveStats{}, ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	shards, err := s.looseFiles()
	if err != nil {
		return ArchiveStats{}, err
	}

	var stats ArchiveStats
	for dir, files := range shards {
		archive := s.shardArchive(dir)
		add := make(map[string]string, len(files))
		for _, f := range files {
			add[filepath.Base(f)] = f
		}
		_, err := rewriteArchive(archive, func(string) bool { return true }, add)
		s.archives.invalidate(archive)
		if err != nil {
			return stats, fmt.Errorf("archiving shard %q: %w", dir, err)
		}
		for _, f := range files {
			if err := os.Remove(f); err != nil {
				return stats, fmt.Errorf("removing archived file %s: %w", f, err)
			}
		}
		stats.Shards++
		stats.Archived += len(files)
		slog.Debug("shard archived", "shard", dir, "files", len(files))
	}
	slog.Info("storage archived", "root", s.root, "shards", stats.Shards, "certificates", stats.Archived)
	return stats, nil
}

// looseFiles groups the loose certificate files of the tree by shard
// directory (slash separated, relative to the certificate tree).
func (s *Store) looseFiles() (map[string][]string, error) {
	shards := make(map[string][]string)
	err := filepath.WalkDir(s.certs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fp, ok := cutPEMName(d.Name())
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(s.certs, filepath.Dir(p))
		if err != nil {
			return err
		}
		dir := filepath.ToSlash(rel)
		if dir == "." {
			dir = ""
		}
		if dir != s.schema.Dir(fp) {
			slog.Warn("skipping certificate outside its shard", "path", p)
			return nil
		}
		shards[dir] = append(shards[dir], p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking certificate tree: %w", err)
	}
	return shards, nil
}

func cutPEMName(name string) (string, bool) {
	if path.Ext(name) != pemExt {
		return "", false
	}
	fp := name[:len(name)-len(pemExt)]
	return fp, chainscan.IsFingerprint(fp)
}

// Stats returns certificate counts by state.
func (s *Store) Stats() (Stats, error) {
	counts, err := s.index.counts()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByState: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

// Fingerprints calls fn for every indexed fingerprint in ascending order.
func (s *Store) Fingerprints(ctx context.Context, fn func(fp string) error) error {
	return s.index.walk(ctx, fn)
}
