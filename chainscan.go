// Package chainscan provides certificate helpers shared by the certificate
// store, the ingest parsers and the validation methods: fingerprinting,
// PEM/DER conversion, container decoding and trust pool loading.
package chainscan

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	ctx509 "github.com/google/certificate-transparency-go/x509"
)

// FingerprintLength is the length of a hex-encoded SHA-256 fingerprint.
const FingerprintLength = sha256.Size * 2

// ParsePEMCertificates parses all certificates from a PEM bundle.
func ParsePEMCertificates(pemData []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := pemData
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found in PEM data")
	}
	return certs, nil
}

// PEMBlocksDER returns the DER payload of every CERTIFICATE block in data
// without parsing it, so certificates Go refuses to parse are kept.
func PEMBlocksDER(data []byte) [][]byte {
	var ders [][]byte
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return ders
		}
		if block.Type == "CERTIFICATE" && len(block.Bytes) > 0 {
			ders = append(ders, block.Bytes)
		}
	}
}

// ParseCertificatesAny attempts to parse certificates from raw bytes, trying
// DER encoding first, then PEM, then PKCS#7.
func ParseCertificatesAny(data []byte) ([]*x509.Certificate, error) {
	certs, derErr := x509.ParseCertificates(data)
	if derErr == nil && len(certs) > 0 {
		return certs, nil
	}
	certs, pemErr := ParsePEMCertificates(data)
	if pemErr == nil {
		return certs, nil
	}
	certs, p7Err := DecodePKCS7(data)
	if p7Err == nil {
		return certs, nil
	}
	return nil, fmt.Errorf("not DER (%v) or PEM (%v) or PKCS#7 (%v)", derErr, pemErr, p7Err)
}

// ParseCertificateLax parses a DER certificate with the certificate
// transparency parser, which tolerates the encoding mistakes common in
// internet scan data. Only fatal parse errors are returned.
func ParseCertificateLax(der []byte) (*ctx509.Certificate, error) {
	cert, err := ctx509.ParseCertificate(der)
	if err != nil && ctx509.IsFatal(err) {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	if cert == nil {
		return nil, errors.New("parsing certificate: no certificate returned")
	}
	return cert, nil
}

// CertToPEM encodes a certificate as PEM.
func CertToPEM(cert *x509.Certificate) string {
	return string(DERToPEM(cert.Raw))
}

// DERToPEM wraps DER certificate bytes in a CERTIFICATE PEM block.
func DERToPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: der,
	})
}

// PEMToDER returns the DER bytes of the first CERTIFICATE block in data.
func PEMToDER(data []byte) ([]byte, error) {
	ders := PEMBlocksDER(data)
	if len(ders) == 0 {
		return nil, errors.New("no CERTIFICATE PEM block found")
	}
	return ders[0], nil
}

// CertFingerprint returns the SHA-256 fingerprint of a certificate as a lowercase hex string.
func CertFingerprint(cert *x509.Certificate) string {
	return FingerprintDER(cert.Raw)
}

// FingerprintDER returns the SHA-256 fingerprint of DER bytes as a lowercase hex string.
func FingerprintDER(der []byte) string {
	hash := sha256.Sum256(der)
	return hex.EncodeToString(hash[:])
}

// NormalizeFingerprint lowercases a fingerprint and strips the colon
// separators used by OpenSSL and browser viewers.
func NormalizeFingerprint(fp string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(fp), ":", ""))
}

// IsFingerprint reports whether fp is a lowercase hex SHA-256 fingerprint.
func IsFingerprint(fp string) bool {
	if len(fp) != FingerprintLength {
		return false
	}
	for i := 0; i < len(fp); i++ {
		c := fp[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ColonHex formats a byte slice as colon-separated lowercase hex.
func ColonHex(b []byte) string {
	h := hex.EncodeToString(b)
	parts := make([]string, 0, len(h)/2)
	for i := 0; i < len(h); i += 2 {
		end := min(i+2, len(h))
		parts = append(parts, h[i:end])
	}
	return strings.Join(parts, ":")
}

// IsPEM returns true if the data appears to contain PEM-encoded content.
func IsPEM(data []byte) bool {
	return bytes.Contains(data, []byte("-----BEGIN"))
}

// GetCertificateType determines if a certificate is root, intermediate, or leaf.
func GetCertificateType(cert *x509.Certificate) string {
	if cert.IsCA {
		if bytes.Equal(cert.RawIssuer, cert.RawSubject) {
			return "root"
		}
		return "intermediate"
	}
	return "leaf"
}
