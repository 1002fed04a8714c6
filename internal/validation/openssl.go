package validation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
)

var opensslErrorRe = regexp.MustCompile(`\nerror (\d+) at`)

// OpenSSL runs "openssl verify" against a trust bundle at the reference
// time. Values are "0" on success, the sorted unique OpenSSL error numbers
// on a verification failure, or "-1" when openssl failed otherwise.
type OpenSSL struct {
	binary string
	caFile string
}

// NewOpenSSL returns the openssl method, or an error when the binary or
// the trust bundle is missing.
func NewOpenSSL(binary, caFile string) (*OpenSSL, error) {
	if binary == "" {
		binary = "openssl"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("finding openssl: %w", err)
	}
	if caFile == "" {
		return nil, errors.New("no openssl trust bundle configured")
	}
	if _, err := os.Stat(caFile); err != nil {
		return nil, fmt.Errorf("openssl trust bundle: %w", err)
	}
	return &OpenSSL{binary: path, caFile: caFile}, nil
}

func (*OpenSSL) Name() string { return "openssl" }

func (*OpenSSL) Description() string {
	return "verify the chain with command-line OpenSSL at the reference time"
}

// Args returns the openssl command line for a chain. Intermediates are
// passed as untrusted certificates, furthest from the leaf first.
func (o *OpenSSL) Args(paths []string, cfg Config) []string {
	args := []string{"verify", "-CAfile", o.caFile, "-no-CApath"}
	if !cfg.ReferenceTime.IsZero() {
		args = append(args, "-attime", strconv.FormatInt(cfg.ReferenceUnix(), 10))
	}
	for i := len(paths) - 1; i >= 1; i-- {
		args = append(args, "-untrusted", paths[i])
	}
	return append(args, paths[0])
}

func (o *OpenSSL) Validate(ctx context.Context, paths []string, cfg Config) []string {
	if len(paths) == 0 {
		return []string{CodeUnreadable}
	}
	out, err := exec.CommandContext(ctx, o.binary, o.Args(paths, cfg)...).CombinedOutput()
	if err == nil {
		return []string{CodeOK}
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || ctx.Err() != nil {
		return []string{CodeUnreadable}
	}
	return parseOpenSSLErrors(out)
}

// parseOpenSSLErrors extracts the error numbers from openssl verify output.
func parseOpenSSLErrors(out []byte) []string {
	var codes []int
	for _, m := range opensslErrorRe.FindAllSubmatch(out, -1) {
		n, err := strconv.Atoi(string(m[1]))
		if err == nil && !slices.Contains(codes, n) {
			codes = append(codes, n)
		}
	}
	if len(codes) == 0 {
		return []string{CodeUnreadable}
	}
	slices.Sort(codes)
	values := make([]string, len(codes))
	for i, n := range codes {
		values[i] = strconv.Itoa(n)
	}
	return values
}
