// Package ingest parses the inputs of a scan dataset: certificate files and
// containers, archives of them, certificate lists and chain lists.
package ingest

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sensiblebit/chainscan"
)

// ErrNoCertificates is returned when data holds no recognizable certificate.
var ErrNoCertificates = errors.New("no certificates found")

// jksMagic starts every Java KeyStore file.
var jksMagic = []byte{0xfe, 0xed, 0xfe, 0xed}

// pkcs12Extensions are tried with passwords even when other formats fail.
var pkcs12Extensions = map[string]bool{
	".p12": true,
	".pfx": true,
}

// DecodeCertificates returns the DER encoding of every certificate in data.
// PEM, DER (single or concatenated), PKCS#7, JKS and PKCS#12 are accepted.
// Certificates Go refuses to parse are kept when the lenient parser accepts
// them, so malformed scan certificates still enter the store. path is only
// used for format hints and error messages.
func DecodeCertificates(data []byte, path string, passwords []string) ([][]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("decoding %s: %w", path, ErrNoCertificates)
	}

	if chainscan.IsPEM(data) {
		if ders := chainscan.PEMBlocksDER(data); len(ders) > 0 {
			return ders, nil
		}
		return nil, fmt.Errorf("decoding %s: %w", path, ErrNoCertificates)
	}

	if bytes.HasPrefix(data, jksMagic) {
		ders, err := chainscan.DecodeJKS(data, passwords)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		return ders, nil
	}

	if certs, err := x509.ParseCertificates(data); err == nil && len(certs) > 0 {
		return rawDER(certs), nil
	}

	if certs, err := chainscan.DecodePKCS7(data); err == nil && len(certs) > 0 {
		return rawDER(certs), nil
	}

	candidates := passwords
	if len(candidates) == 0 && pkcs12Extensions[strings.ToLower(filepath.Ext(path))] {
		candidates = []string{""}
	}
	for _, pw := range candidates {
		if certs, err := chainscan.DecodePKCS12(data, pw); err == nil && len(certs) > 0 {
			return rawDER(certs), nil
		}
	}

	if _, err := chainscan.ParseCertificateLax(data); err == nil {
		return [][]byte{data}, nil
	}

	return nil, fmt.Errorf("decoding %s: %w", path, ErrNoCertificates)
}

func rawDER(certs []*x509.Certificate) [][]byte {
	ders := make([][]byte, len(certs))
	for i, c := range certs {
		ders[i] = c.Raw
	}
	return ders
}
