package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sensiblebit/chainscan"
)

type testChain struct {
	root, intermediate, leaf *x509.Certificate
}

// newTestChain builds root -> intermediate -> leaf, all valid from
// notBefore to notAfter.
func newTestChain(t *testing.T, prefix string, notBefore, notAfter time.Time) testChain {
	t.Helper()
	rootKey := newKey(t)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: prefix + " Root CA"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	root := signCert(t, rootTmpl, rootTmpl, rootKey, rootKey)

	intKey := newKey(t)
	intTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: prefix + " Intermediate CA"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	intermediate := signCert(t, intTmpl, root, intKey, rootKey)

	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: prefix + ".example.com"},
		DNSNames:     []string{prefix + ".example.com"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leaf := signCert(t, leafTmpl, intermediate, newKey(t), intKey)

	return testChain{root: root, intermediate: intermediate, leaf: leaf}
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func signCert(t *testing.T, tmpl, parent *x509.Certificate, key, parentKey *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, parentKey)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

// writeChain writes each certificate to its own PEM file and returns the
// paths in order.
func writeChain(t *testing.T, certs ...*x509.Certificate) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(certs))
	for i, cert := range certs {
		p := filepath.Join(dir, chainscan.CertFingerprint(cert)+".pem")
		if err := os.WriteFile(p, chainscan.DERToPEM(cert.Raw), 0644); err != nil {
			t.Fatal(err)
		}
		paths[i] = p
	}
	return paths
}

func validWindow() (time.Time, time.Time) {
	return time.Now().Add(-time.Hour), time.Now().Add(24 * time.Hour)
}
