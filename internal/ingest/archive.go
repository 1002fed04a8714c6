package ingest

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
)

// ArchiveLimits controls zip bomb protection thresholds.
type ArchiveLimits struct {
	// MaxDecompressionRatio is the maximum allowed ratio of uncompressed to
	// compressed size for a single ZIP entry. TAR entries are not
	// ratio-checked because TAR stores uncompressed data.
	MaxDecompressionRatio int64

	// MaxTotalSize is the maximum total bytes extracted from one archive.
	MaxTotalSize int64

	// MaxEntryCount is the maximum number of entries processed from one
	// archive.
	MaxEntryCount int

	// MaxEntrySize is the maximum size of a single decompressed entry.
	// Larger entries are skipped.
	MaxEntrySize int64
}

// DefaultArchiveLimits returns conservative defaults for archive extraction.
func DefaultArchiveLimits() ArchiveLimits {
	return ArchiveLimits{
		MaxDecompressionRatio: 100,
		MaxTotalSize:          1024 * 1024 * 1024, // 1 GB
		MaxEntryCount:         1_000_000,
		MaxEntrySize:          10 * 1024 * 1024, // 10 MB
	}
}

// ArchiveInput holds the parameters for reading an archive.
type ArchiveInput struct {
	Path      string
	Data      []byte
	Format    string
	Limits    ArchiveLimits
	Passwords []string
	// Handle receives the certificates of every entry that decoded. The
	// path is "<archive>:<entry>". A Handle error stops the read.
	Handle func(path string, ders [][]byte) error
}

var archiveExtensions = map[string]string{
	".zip": "zip",
	".tar": "tar",
	".tgz": "tar.gz",
}

// ArchiveFormat returns the archive format for path based on its extension,
// or "" if path is not a recognized archive.
func ArchiveFormat(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tar.gz") {
		return "tar.gz"
	}
	return archiveExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsArchive reports whether path has a recognized archive extension.
func IsArchive(path string) bool {
	return ArchiveFormat(path) != ""
}

// ReadArchive decodes every entry of an archive and passes the certificates
// found to input.Handle. Entries without certificates are skipped. Returns
// the number of entries read. Nested archives are not recursed into.
func ReadArchive(input ArchiveInput) (int, error) {
	if input.Handle == nil {
		return 0, errors.New("reading archive: no handler")
	}
	switch input.Format {
	case "zip":
		return readZipArchive(input)
	case "tar":
		return readTarArchive(input, false)
	case "tar.gz":
		return readTarArchive(input, true)
	default:
		return 0, fmt.Errorf("unsupported archive format: %q", input.Format)
	}
}

func readZipArchive(input ArchiveInput) (int, error) {
	reader, err := zip.NewReader(bytes.NewReader(input.Data), int64(len(input.Data)))
	if err != nil {
		return 0, fmt.Errorf("opening ZIP archive %s: %w", input.Path, err)
	}

	var totalSize int64
	processed := 0

	for _, f := range reader.File {
		if processed >= input.Limits.MaxEntryCount {
			slog.Warn("archive entry count limit reached, stopping",
				"archive", input.Path, "limit", input.Limits.MaxEntryCount)
			break
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if IsArchive(f.Name) {
			slog.Debug("skipping nested archive", "archive", input.Path, "entry", f.Name)
			continue
		}

		if f.CompressedSize64 > 0 {
			ratio := int64(f.UncompressedSize64) / int64(f.CompressedSize64)
			if ratio > input.Limits.MaxDecompressionRatio {
				slog.Warn("skipping suspicious ZIP entry: decompression ratio too high",
					"archive", input.Path, "entry", f.Name,
					"ratio", ratio, "limit", input.Limits.MaxDecompressionRatio)
				continue
			}
		}
		if int64(f.UncompressedSize64) > input.Limits.MaxEntrySize {
			slog.Debug("skipping oversized ZIP entry",
				"archive", input.Path, "entry", f.Name,
				"size", f.UncompressedSize64, "limit", input.Limits.MaxEntrySize)
			continue
		}
		if totalSize+int64(f.UncompressedSize64) > input.Limits.MaxTotalSize {
			slog.Warn("archive total size limit reached, stopping",
				"archive", input.Path, "limit", input.Limits.MaxTotalSize)
			break
		}

		data, err := readZipEntry(f, input.Limits.MaxEntrySize)
		if err != nil {
			slog.Debug("reading ZIP entry", "archive", input.Path, "entry", f.Name, "error", err)
			continue
		}
		totalSize += int64(len(data))
		processed++

		if err := handleEntry(input, input.Path+":"+f.Name, data); err != nil {
			return processed, err
		}
	}

	slog.Info("read archive", "archive", input.Path, "format", "zip", "entries", processed)
	return processed, nil
}

func readTarArchive(input ArchiveInput, gzipped bool) (int, error) {
	var reader io.Reader = bytes.NewReader(input.Data)
	if gzipped {
		gr, err := gzip.NewReader(reader)
		if err != nil {
			return 0, fmt.Errorf("opening gzip layer for %s: %w", input.Path, err)
		}
		defer func() {
			if closeErr := gr.Close(); closeErr != nil {
				slog.Warn("closing gzip reader", "archive", input.Path, "error", closeErr)
			}
		}()
		reader = gr
	}

	tr := tar.NewReader(reader)
	var totalSize int64
	processed := 0

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Corrupted tar: keep what was read so far.
			if processed > 0 {
				slog.Warn("tar read error after reading entries",
					"archive", input.Path, "processed", processed, "error", err)
				break
			}
			return 0, fmt.Errorf("reading TAR archive %s: %w", input.Path, err)
		}

		if processed >= input.Limits.MaxEntryCount {
			slog.Warn("archive entry count limit reached, stopping",
				"archive", input.Path, "limit", input.Limits.MaxEntryCount)
			break
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if IsArchive(header.Name) {
			slog.Debug("skipping nested archive", "archive", input.Path, "entry", header.Name)
			continue
		}
		if header.Size > input.Limits.MaxEntrySize {
			slog.Debug("skipping oversized TAR entry",
				"archive", input.Path, "entry", header.Name,
				"size", header.Size, "limit", input.Limits.MaxEntrySize)
			continue
		}
		if totalSize+header.Size > input.Limits.MaxTotalSize {
			slog.Warn("archive total size limit reached, stopping",
				"archive", input.Path, "limit", input.Limits.MaxTotalSize)
			break
		}

		data, err := io.ReadAll(io.LimitReader(tr, safeLimitSize(input.Limits.MaxEntrySize)))
		if err != nil {
			slog.Debug("reading TAR entry", "archive", input.Path, "entry", header.Name, "error", err)
			continue
		}
		// The header lied about the size.
		if int64(len(data)) > input.Limits.MaxEntrySize {
			slog.Warn("TAR entry exceeded max size despite header claim",
				"archive", input.Path, "entry", header.Name)
			continue
		}
		totalSize += int64(len(data))
		processed++

		if err := handleEntry(input, input.Path+":"+header.Name, data); err != nil {
			return processed, err
		}
	}

	slog.Info("read archive", "archive", input.Path, "format", input.Format, "entries", processed)
	return processed, nil
}

func handleEntry(input ArchiveInput, virtualPath string, data []byte) error {
	ders, err := DecodeCertificates(data, virtualPath, input.Passwords)
	if err != nil {
		slog.Debug("skipping archive entry", "path", virtualPath, "error", err)
		return nil
	}
	return input.Handle(virtualPath, ders)
}

// readZipEntry reads a ZIP entry with the size limit enforced regardless of
// what the ZIP header claims.
func readZipEntry(f *zip.File, maxSize int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening ZIP entry %s: %w", f.Name, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			slog.Warn("closing ZIP entry", "entry", f.Name, "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(rc, safeLimitSize(maxSize)))
	if err != nil {
		return nil, fmt.Errorf("reading ZIP entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("ZIP entry %s exceeds max size (%d bytes)", f.Name, maxSize)
	}
	return data, nil
}

// safeLimitSize returns maxSize+1 for overflow detection in io.LimitReader,
// clamped to math.MaxInt64.
func safeLimitSize(maxSize int64) int64 {
	if maxSize == math.MaxInt64 {
		return math.MaxInt64
	}
	return maxSize + 1
}
