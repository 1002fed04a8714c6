package certdb

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Composite answers reads from a list of child stores. The first child
// holding a certificate serves it.
type Composite struct {
	mu       sync.RWMutex
	children []Reader
}

// NewComposite returns a Composite over readers, in lookup order.
func NewComposite(readers ...Reader) *Composite {
	return &Composite{children: slices.Clone(readers)}
}

// Register appends r to the lookup order. Registering the same reader
// twice is a no-op.
func (c *Composite) Register(r Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.children, r) {
		c.children = append(c.children, r)
	}
}

// Unregister removes r from the lookup order.
func (c *Composite) Unregister(r Reader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.children = slices.DeleteFunc(c.children, func(child Reader) bool { return child == r })
}

// Len returns the number of registered children.
func (c *Composite) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.children)
}

func (c *Composite) snapshot() []Reader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.children)
}

// Exists reports whether any child holds fp.
func (c *Composite) Exists(fp string) (bool, error) {
	for _, r := range c.snapshot() {
		ok, err := r.Exists(fp)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// ExistsAll reports whether every fingerprint is held by some child.
func (c *Composite) ExistsAll(fps []string) (bool, error) {
	for _, fp := range fps {
		ok, err := c.Exists(fp)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// GetState returns the state from the first child holding fp.
func (c *Composite) GetState(fp string) (State, error) {
	for _, r := range c.snapshot() {
		state, err := r.GetState(fp)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return state, err
	}
	return StateUnknown, fmt.Errorf("state of %s: %w", fp, ErrNotFound)
}

// Get returns the PEM bytes from the first child holding fp.
func (c *Composite) Get(fp string) ([]byte, error) {
	for _, r := range c.snapshot() {
		data, err := r.Get(fp)
		if errors.Is(err, ErrCertNotAvailable) {
			continue
		}
		return data, err
	}
	return nil, fmt.Errorf("reading %s: %w", fp, ErrCertNotAvailable)
}

// Export exports fp from the first child holding it.
func (c *Composite) Export(fp, targetDir string, keepArchived bool) (string, error) {
	for _, r := range c.snapshot() {
		p, err := r.Export(fp, targetDir, keepArchived)
		if errors.Is(err, ErrCertNotAvailable) {
			continue
		}
		return p, err
	}
	return "", fmt.Errorf("exporting %s: %w", fp, ErrCertNotAvailable)
}
