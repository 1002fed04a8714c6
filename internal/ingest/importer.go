package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sensiblebit/chainscan"
	"github.com/sensiblebit/chainscan/internal/certdb"
)

// ImportStats counts the certificates an Importer has handled.
type ImportStats struct {
	Seen       int
	Inserted   int
	Duplicates int
	Failed     int
}

// Importer inserts certificates from dataset files into a store, deriving
// each certificate's state from its validity period at ReferenceTime.
// An Importer is not safe for concurrent use.
type Importer struct {
	Store         certdb.Writer
	ReferenceTime time.Time
	Passwords     []string
	// Limits defaults to DefaultArchiveLimits when zero.
	Limits ArchiveLimits

	stats ImportStats
}

// Stats returns the counters accumulated so far.
func (im *Importer) Stats() ImportStats { return im.stats }

// StateOf derives the stored state of a certificate: broken when it cannot
// be parsed even leniently, expired when at lies outside its validity
// period, valid otherwise.
func StateOf(der []byte, at time.Time) certdb.State {
	cert, err := chainscan.ParseCertificateLax(der)
	if err != nil {
		return certdb.StateBroken
	}
	if at.Before(cert.NotBefore) || at.After(cert.NotAfter) {
		return certdb.StateExpired
	}
	return certdb.StateValid
}

// ImportDER inserts one certificate. listed is the fingerprint the dataset
// gave for it, if any; a SHA-256 listed fingerprint must match the DER.
// Only store failures are returned; a rejected certificate is counted as
// failed.
func (im *Importer) ImportDER(der []byte, listed string) error {
	im.stats.Seen++
	rec := certdb.Record{DER: der, State: StateOf(der, im.ReferenceTime)}
	if fp := chainscan.NormalizeFingerprint(listed); chainscan.IsFingerprint(fp) {
		rec.Fingerprint = fp
	}

	changed, err := im.Store.Insert(rec)
	switch {
	case errors.Is(err, certdb.ErrFingerprintMismatch):
		im.stats.Failed++
		slog.Warn("skipping certificate", "fingerprint", listed, "error", err)
		return nil
	case err != nil:
		im.stats.Failed++
		return err
	case changed:
		im.stats.Inserted++
	default:
		im.stats.Duplicates++
	}
	return nil
}

// ImportFile imports a certificate file, container, archive or certificate
// list (".csv" or ".csv.gz").
func (im *Importer) ImportFile(path string) error {
	limits := im.limits()
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if isCertList(path) {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		err = ReadCertList(f, func(fp string, der []byte) error {
			return im.ImportDER(der, fp)
		})
		if err != nil {
			return fmt.Errorf("importing %s: %w", path, err)
		}
		return nil
	}

	format := ArchiveFormat(path)
	if format == "" && info.Size() > limits.MaxEntrySize {
		slog.Debug("skipping oversized file", "path", path, "size", info.Size())
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if format != "" {
		_, err := ReadArchive(ArchiveInput{
			Path:      path,
			Data:      data,
			Format:    format,
			Limits:    limits,
			Passwords: im.Passwords,
			Handle:    func(_ string, ders [][]byte) error { return im.importAll(ders) },
		})
		return err
	}

	ders, err := DecodeCertificates(data, path, im.Passwords)
	if err != nil {
		slog.Debug("no certificates in file", "path", path, "error", err)
		return nil
	}
	return im.importAll(ders)
}

// ImportPath imports path, walking it recursively when it is a directory.
func (im *Importer) ImportPath(ctx context.Context, path string) error {
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		return im.ImportFile(p)
	})
}

func (im *Importer) importAll(ders [][]byte) error {
	for _, der := range ders {
		if err := im.ImportDER(der, ""); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) limits() ArchiveLimits {
	if im.Limits == (ArchiveLimits{}) {
		return DefaultArchiveLimits()
	}
	return im.Limits
}

func isCertList(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".csv") || strings.HasSuffix(lower, ".csv.gz")
}
