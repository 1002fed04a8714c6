package validation

import (
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrUnknownMethod is returned when a method name is not registered.
	ErrUnknownMethod = errors.New("unknown validation method")
	// ErrFrozen is returned when registering into a frozen registry.
	ErrFrozen = errors.New("validation registry is frozen")
)

// Registry maps method names to methods, keeping registration order as
// the report column order.
type Registry struct {
	mu      sync.RWMutex
	methods []Method
	byName  map[string]Method
	frozen  bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Method)}
}

// Register adds m under m.Name().
func (r *Registry) Register(m Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	name := m.Name()
	if name == "" {
		return errors.New("registering method: empty name")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("registering method %q: already registered", name)
	}
	r.methods = append(r.methods, m)
	r.byName[name] = m
	return nil
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Get returns the method registered under name.
func (r *Registry) Get(name string) (Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
	return m, nil
}

// All returns every method in registration order.
func (r *Registry) All() []Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Method, len(r.methods))
	copy(out, r.methods)
	return out
}

// Names returns the method names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.methods))
	for i, m := range r.methods {
		names[i] = m.Name()
	}
	return names
}

// Select resolves names to methods, in the order given. No names selects
// every registered method.
func (r *Registry) Select(names []string) ([]Method, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	methods := make([]Method, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		m, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}

// Describe returns one "name - description" line per method.
func (r *Registry) Describe() []string {
	var lines []string
	for _, m := range r.All() {
		lines = append(lines, fmt.Sprintf("%-14s - %s", m.Name(), m.Description()))
	}
	return lines
}

// DefaultOptions configures the built-in methods.
type DefaultOptions struct {
	// Roots is the trust pool of the x509 method. Nil uses the embedded
	// Mozilla roots.
	Roots *x509.CertPool
	// OpenSSLBinary defaults to "openssl" looked up in PATH.
	OpenSSLBinary string
	// OpenSSLCAFile is the trust bundle passed to openssl verify. The
	// openssl method is only registered when it is set and readable.
	OpenSSLCAFile string
}

// NewDefaultRegistry returns a registry holding the built-in methods in
// report order: chainInspector, x509, expiry and, when available, openssl.
func NewDefaultRegistry(opts DefaultOptions) (*Registry, error) {
	r := NewRegistry()
	x509Method, err := NewX509Verifier(opts.Roots)
	if err != nil {
		return nil, err
	}
	for _, m := range []Method{ChainInspector{}, x509Method, Expiry{}} {
		if err := r.Register(m); err != nil {
			return nil, err
		}
	}

	ossl, err := NewOpenSSL(opts.OpenSSLBinary, opts.OpenSSLCAFile)
	if err != nil {
		slog.Info("openssl method unavailable", "error", err)
		return r, nil
	}
	if err := r.Register(ossl); err != nil {
		return nil, err
	}
	return r, nil
}
