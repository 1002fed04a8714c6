package ingest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sensiblebit/chainscan"
)

// ErrMalformedLine is wrapped by list readers for lines they cannot split.
var ErrMalformedLine = errors.New("malformed line")

// maxLineSize bounds one list line. Certificate lines carry base64 DER.
const maxLineSize = 4 * 1024 * 1024

var gzipMagic = []byte{0x1f, 0x8b}

// ReadCertList reads a scan certificate list, one "fingerprint,base64(DER)"
// line per certificate, and calls fn for each. Gzip input is decompressed
// transparently. The fingerprint column is passed through as found; it may
// use another digest than the store.
func ReadCertList(r io.Reader, fn func(fp string, der []byte) error) error {
	return scanLines(r, func(n int, line string) error {
		fp, encoded, ok := strings.Cut(line, ",")
		fp, encoded = strings.TrimSpace(fp), strings.TrimSpace(encoded)
		if !ok || encoded == "" {
			return fmt.Errorf("line %d: %w: expected fingerprint,certificate", n, ErrMalformedLine)
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("line %d: %w: %w", n, ErrMalformedLine, err)
		}
		return fn(fp, der)
	})
}

// ReadChains reads a chain list, one "host,fp1,fp2,..." line per chain with
// the leaf first, and calls fn for each. Blank lines and lines starting with
// "#" are skipped. Gzip input is decompressed transparently.
//
// Damaged chains are passed on as found: a host without fingerprints
// yields an empty chain and an empty column an empty fingerprint, which
// the pipeline drops and counts as broken. Only lines without a host are
// skipped, with a warning naming the line.
func ReadChains(r io.Reader, fn func(host string, chain []string) error) error {
	return scanLines(r, func(n int, line string) error {
		fields := strings.Split(line, ",")
		host := strings.TrimSpace(fields[0])
		if host == "" {
			slog.Warn("skipping chain line without host", "line", n)
			return nil
		}
		chain := make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			chain = append(chain, chainscan.NormalizeFingerprint(f))
		}
		return fn(host, chain)
	})
}

// scanLines calls fn with every non-blank, non-comment line and its 1-based
// line number.
func scanLines(r io.Reader, fn func(n int, line string) error) error {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(magic, gzipMagic) {
		gr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("opening gzip stream: %w", err)
		}
		defer func() { _ = gr.Close() }()
		r = gr
	} else {
		r = br
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading line %d: %w", n+1, err)
	}
	return nil
}
