// Package validation defines the chain validation methods run by the
// analysis pipeline and the registry that names them.
package validation

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sensiblebit/chainscan"
)

// Config is passed to every method invocation.
type Config struct {
	// ReferenceTime is the instant the chain is validated at.
	ReferenceTime time.Time
}

// ReferenceUnix returns the reference time in seconds since the epoch.
func (c Config) ReferenceUnix() int64 {
	return c.ReferenceTime.Unix()
}

// Method validates a certificate chain given as PEM file paths, leaf
// first, and returns one or more result values. Methods report failures
// through their values; they never abort a run.
type Method interface {
	Name() string
	Description() string
	Validate(ctx context.Context, paths []string, cfg Config) []string
}

// MethodFunc adapts a function to the Method interface.
type MethodFunc struct {
	MethodName string
	Desc       string
	Fn         func(ctx context.Context, paths []string, cfg Config) []string
}

func (m MethodFunc) Name() string        { return m.MethodName }
func (m MethodFunc) Description() string { return m.Desc }

func (m MethodFunc) Validate(ctx context.Context, paths []string, cfg Config) []string {
	return m.Fn(ctx, paths, cfg)
}

// readChainDER reads the first certificate of each PEM file.
func readChainDER(paths []string) ([][]byte, error) {
	ders := make([][]byte, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		der, err := chainscan.PEMToDER(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", p, err)
		}
		ders = append(ders, der)
	}
	return ders, nil
}
