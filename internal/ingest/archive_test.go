package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestArchiveFormat(t *testing.T) {
	// WHY: All supported archive extensions must be detected
	// case-insensitively, and IsArchive must agree with ArchiveFormat.
	t.Parallel()

	tests := []struct {
		name      string
		path      string
		want      string
		isArchive bool
	}{
		{"zip", "certs.zip", "zip", true},
		{"tar", "certs.tar", "tar", true},
		{"tgz", "certs.tgz", "tar.gz", true},
		{"tar.gz", "certs.tar.gz", "tar.gz", true},
		{"uppercase ZIP", "certs.ZIP", "zip", true},
		{"mixed case TaR.Gz", "certs.TaR.Gz", "tar.gz", true},
		{"pem file", "cert.pem", "", false},
		{"cert list", "certs.csv.gz", "", false},
		{"no extension", "certs", "", false},
		{"tar.gz.bak", "certs.tar.gz.bak", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ArchiveFormat(tt.path); got != tt.want {
				t.Errorf("ArchiveFormat(%q) = %q, want %q", tt.path, got, tt.want)
			}
			if got := IsArchive(tt.path); got != tt.isArchive {
				t.Errorf("IsArchive(%q) = %v, want %v", tt.path, got, tt.isArchive)
			}
		})
	}
}

// collect returns an ArchiveInput handler that records every certificate.
func collect(ders *[][]byte, paths *[]string) func(string, [][]byte) error {
	return func(path string, found [][]byte) error {
		*paths = append(*paths, path)
		*ders = append(*ders, found...)
		return nil
	}
}

func TestReadArchive_AllFormats(t *testing.T) {
	// WHY: Certificates must be found in every archive format, with non
	// certificate entries and nested archives skipped.
	t.Parallel()
	leaf := newValidCert(t, "leaf.example.com")
	ca := newValidCert(t, "ca.example.com")
	files := map[string][]byte{
		"certs/chain.pem": pemOf(leaf, ca),
		"certs/ca.der":    ca.Raw,
		"README.md":       []byte("# bundle\n"),
		"empty.pem":       {},
		"nested.zip":      []byte("PK"),
	}

	tests := []struct {
		name    string
		format  string
		builder func(*testing.T, map[string][]byte) []byte
	}{
		{"zip", "zip", createTestZip},
		{"tar", "tar", createTestTar},
		{"tar.gz", "tar.gz", createTestTarGz},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ders [][]byte
			var paths []string
			n, err := ReadArchive(ArchiveInput{
				Path:   "dataset." + tt.name,
				Data:   tt.builder(t, files),
				Format: tt.format,
				Limits: DefaultArchiveLimits(),
				Handle: collect(&ders, &paths),
			})
			if err != nil {
				t.Fatal(err)
			}
			if n != 4 {
				t.Errorf("read %d entries, want 4", n)
			}
			if len(ders) != 3 {
				t.Errorf("found %d certificates, want 3", len(ders))
			}
			for _, p := range paths {
				if !strings.HasPrefix(p, "dataset."+tt.name+":certs/") {
					t.Errorf("unexpected entry path %q", p)
				}
			}
		})
	}
}

func TestReadArchive_Limits(t *testing.T) {
	// WHY: Zip bomb guards must skip oversized entries and stop at the
	// entry count limit without failing the archive.
	t.Parallel()
	a := newValidCert(t, "a")
	b := newValidCert(t, "b")

	t.Run("entry size", func(t *testing.T) {
		t.Parallel()
		limits := DefaultArchiveLimits()
		limits.MaxEntrySize = 16
		var ders [][]byte
		var paths []string
		n, err := ReadArchive(ArchiveInput{
			Path:   "big.zip",
			Data:   createTestZip(t, map[string][]byte{"a.pem": pemOf(a)}),
			Format: "zip",
			Limits: limits,
			Handle: collect(&ders, &paths),
		})
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 || len(ders) != 0 {
			t.Errorf("oversized entry was read: n=%d certs=%d", n, len(ders))
		}
	})

	t.Run("entry count", func(t *testing.T) {
		t.Parallel()
		limits := DefaultArchiveLimits()
		limits.MaxEntryCount = 1
		var ders [][]byte
		var paths []string
		n, err := ReadArchive(ArchiveInput{
			Path:   "many.tar",
			Data:   createTestTar(t, map[string][]byte{"a.pem": pemOf(a), "b.pem": pemOf(b)}),
			Format: "tar",
			Limits: limits,
			Handle: collect(&ders, &paths),
		})
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 || len(ders) != 1 {
			t.Errorf("entry limit not applied: n=%d certs=%d", n, len(ders))
		}
	})
}

func TestReadArchive_HandlerErrorStops(t *testing.T) {
	t.Parallel()
	a := newValidCert(t, "a")
	b := newValidCert(t, "b")
	stop := errors.New("store failed")
	calls := 0
	_, err := ReadArchive(ArchiveInput{
		Path:   "x.zip",
		Data:   createTestZip(t, map[string][]byte{"a.pem": pemOf(a), "b.pem": pemOf(b)}),
		Format: "zip",
		Limits: DefaultArchiveLimits(),
		Handle: func(string, [][]byte) error {
			calls++
			return stop
		},
	})
	if !errors.Is(err, stop) {
		t.Errorf("expected handler error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestReadArchive_Invalid(t *testing.T) {
	t.Parallel()
	noop := func(string, [][]byte) error { return nil }
	tests := []struct {
		name  string
		input ArchiveInput
	}{
		{"unknown format", ArchiveInput{Path: "x.rar", Data: []byte("x"), Format: "rar", Handle: noop}},
		{"corrupt zip", ArchiveInput{Path: "x.zip", Data: []byte("not a zip"), Format: "zip", Handle: noop}},
		{"corrupt gzip", ArchiveInput{Path: "x.tgz", Data: bytes.Repeat([]byte{0}, 32), Format: "tar.gz", Handle: noop}},
		{"no handler", ArchiveInput{Path: "x.zip", Format: "zip"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.input.Limits = DefaultArchiveLimits()
			if _, err := ReadArchive(tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}
