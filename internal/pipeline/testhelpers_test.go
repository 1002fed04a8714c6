package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sensiblebit/chainscan/internal/certdb"
	"github.com/sensiblebit/chainscan/internal/validation"
)

// fakeStore is an in-memory certdb.Reader that counts exports per
// fingerprint. Any string is accepted as a fingerprint.
type fakeStore struct {
	certs     map[string][]byte
	delay     time.Duration
	exportErr error

	mu      sync.Mutex
	exports map[string]int
}

func newFakeStore(fps ...string) *fakeStore {
	s := &fakeStore{certs: make(map[string][]byte), exports: make(map[string]int)}
	for _, fp := range fps {
		s.certs[fp] = []byte("-----BEGIN CERTIFICATE-----\n" + fp + "\n-----END CERTIFICATE-----\n")
	}
	return s
}

func (s *fakeStore) Exists(fp string) (bool, error) {
	_, ok := s.certs[fp]
	return ok, nil
}

func (s *fakeStore) GetState(fp string) (certdb.State, error) {
	if _, ok := s.certs[fp]; !ok {
		return certdb.StateUnknown, certdb.ErrNotFound
	}
	return certdb.StateValid, nil
}

func (s *fakeStore) Get(fp string) ([]byte, error) {
	data, ok := s.certs[fp]
	if !ok {
		return nil, certdb.ErrCertNotAvailable
	}
	return data, nil
}

func (s *fakeStore) Export(fp, dir string, _ bool) (string, error) {
	if s.exportErr != nil {
		return "", s.exportErr
	}
	data, ok := s.certs[fp]
	if !ok {
		return "", fmt.Errorf("exporting %s: %w", fp, certdb.ErrCertNotAvailable)
	}
	s.mu.Lock()
	s.exports[fp]++
	s.mu.Unlock()
	time.Sleep(s.delay)

	target := filepath.Join(dir, fp+".pem")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	return target, os.Rename(tmp, target)
}

func (s *fakeStore) exportCount(fp string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exports[fp]
}

// lenMethod returns the chain length.
var lenMethod = validation.MethodFunc{
	MethodName: "len",
	Desc:       "chain length",
	Fn: func(_ context.Context, paths []string, _ validation.Config) []string {
		return []string{fmt.Sprint(len(paths))}
	},
}

func registryOf(t *testing.T, methods ...validation.Method) *validation.Registry {
	t.Helper()
	r := validation.NewRegistry()
	for _, m := range methods {
		if err := r.Register(m); err != nil {
			t.Fatal(err)
		}
	}
	r.Freeze()
	return r
}

func testConfig(t *testing.T, store certdb.Reader, methods ...validation.Method) Config {
	t.Helper()
	if len(methods) == 0 {
		methods = []validation.Method{lenMethod}
	}
	return Config{
		Store:         store,
		ReferenceTime: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		Registry:      registryOf(t, methods...),
	}
}

// closingBuffer records whether the pipeline closed its sink.
type closingBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closingBuffer) Close() error {
	b.closed = true
	return nil
}

// failingWriter fails every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

// dataRows returns the output lines after the header, sorted.
func dataRows(t *testing.T, out string) []string {
	t.Helper()
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "HOST,") {
		t.Fatalf("output has no header: %q", out)
	}
	rows := lines[1:]
	sort.Strings(rows)
	return rows
}
