package chainscan

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

func TestDecodePKCS7_RoundTrip(t *testing.T) {
	// WHY: PKCS#7 round-trip must preserve all certs; any loss drops chain
	// members at import. Set-based check because PKCS#7 does not guarantee
	// ordering.
	t.Parallel()
	pki := generateTestPKI(t)
	original := []*x509.Certificate{pki.leaf, pki.intermediate, pki.root}

	data, err := EncodePKCS7([][]byte{pki.leaf.Raw, pki.intermediate.Raw, pki.root.Raw})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodePKCS7(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 certs, got %d", len(decoded))
	}
	for _, orig := range original {
		found := false
		for _, dec := range decoded {
			if dec.Equal(orig) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("cert CN=%q missing from decoded PKCS#7", orig.Subject.CommonName)
		}
	}
}

func TestEncodePKCS7_Empty(t *testing.T) {
	t.Parallel()
	_, err := EncodePKCS7(nil)
	if err == nil || !strings.Contains(err.Error(), "no certificates") {
		t.Fatalf("expected no certificates error, got %v", err)
	}
}

func TestDecodePKCS7_GarbageInput(t *testing.T) {
	t.Parallel()
	_, err := DecodePKCS7([]byte("this is not pkcs7 data"))
	if err == nil || !strings.Contains(err.Error(), "parsing PKCS#7") {
		t.Fatalf("expected wrapped PKCS#7 error, got %v", err)
	}
}

func TestDecodePKCS12_KeyBundle(t *testing.T) {
	// WHY: Key bundles must yield the leaf first so the chain order stored
	// at import follows the bundle.
	t.Parallel()
	pki := generateTestPKI(t)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	// The key does not match the leaf; DecodeChain does not check pairing.
	pfx, err := gopkcs12.Modern.Encode(key, pki.leaf, []*x509.Certificate{pki.intermediate}, "secret")
	if err != nil {
		t.Fatal(err)
	}

	certs, err := DecodePKCS12(pfx, "secret")
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Fatalf("expected 2 certs, got %d", len(certs))
	}
	if !certs[0].Equal(pki.leaf) {
		t.Error("first certificate should be the leaf")
	}
}

func TestDecodePKCS12_TrustStore(t *testing.T) {
	// WHY: Trust stores have no key; they must fall back to the trusted
	// entries rather than failing like a broken key bundle.
	t.Parallel()
	pki := generateTestPKI(t)
	pfx, err := EncodePKCS12TrustStore([]*x509.Certificate{pki.root, pki.intermediate}, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	certs, err := DecodePKCS12(pfx, "changeit")
	if err != nil {
		t.Fatal(err)
	}
	if len(certs) != 2 {
		t.Fatalf("expected 2 certs, got %d", len(certs))
	}
}

func TestDecodePKCS12_WrongPassword(t *testing.T) {
	t.Parallel()
	pki := generateTestPKI(t)
	pfx, err := EncodePKCS12TrustStore([]*x509.Certificate{pki.root}, "right")
	if err != nil {
		t.Fatal(err)
	}
	_, err = DecodePKCS12(pfx, "wrong")
	if err == nil || !strings.Contains(err.Error(), "decoding PKCS#12") {
		t.Fatalf("expected decoding error, got %v", err)
	}
}

func buildJKS(t *testing.T, password string, pki testPKI) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pkcs8Key, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	ks := keystore.New()
	if err := ks.SetTrustedCertificateEntry("ca", keystore.TrustedCertificateEntry{
		CreationTime: time.Now(),
		Certificate:  keystore.Certificate{Type: "X.509", Content: pki.root.Raw},
	}); err != nil {
		t.Fatal(err)
	}
	if err := ks.SetPrivateKeyEntry("server", keystore.PrivateKeyEntry{
		CreationTime: time.Now(),
		PrivateKey:   pkcs8Key,
		CertificateChain: []keystore.Certificate{
			{Type: "X.509", Content: pki.leaf.Raw},
			{Type: "X.509", Content: pki.intermediate.Raw},
		},
	}, []byte(password)); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ks.Store(&buf, []byte(password)); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeJKS(t *testing.T) {
	// WHY: Both trusted entries and key entry chains carry certificates the
	// store should learn about; the second password must be tried when the
	// first fails.
	t.Parallel()
	pki := generateTestPKI(t)
	data := buildJKS(t, "changeit", pki)

	ders, err := DecodeJKS(data, []string{"wrong", "changeit"})
	if err != nil {
		t.Fatal(err)
	}
	if len(ders) != 3 {
		t.Fatalf("expected 3 certificates, got %d", len(ders))
	}
	seen := make(map[string]bool)
	for _, der := range ders {
		seen[FingerprintDER(der)] = true
	}
	for _, c := range []*x509.Certificate{pki.root, pki.intermediate, pki.leaf} {
		if !seen[CertFingerprint(c)] {
			t.Errorf("missing %s", c.Subject.CommonName)
		}
	}
}

func TestDecodeJKS_NoPassword(t *testing.T) {
	t.Parallel()
	pki := generateTestPKI(t)
	data := buildJKS(t, "changeit", pki)
	if _, err := DecodeJKS(data, nil); err == nil {
		t.Fatal("expected error without passwords")
	}
	if _, err := DecodeJKS(data, []string{"nope"}); err == nil {
		t.Fatal("expected error for wrong password")
	}
}

func TestLoadTrustPool(t *testing.T) {
	// WHY: Each trust store selection must produce a usable pool, and a bad
	// selection must fail before any validation starts.
	t.Parallel()
	pki := generateTestPKI(t)
	file := filepath.Join(t.TempDir(), "roots.pem")
	if err := os.WriteFile(file, DERToPEM(pki.root.Raw), 0600); err != nil {
		t.Fatal(err)
	}

	pool, err := LoadTrustPool(TrustPoolInput{Store: TrustStoreFile, File: file})
	if err != nil {
		t.Fatal(err)
	}
	inter := x509.NewCertPool()
	inter.AddCert(pki.intermediate)
	if _, err := pki.leaf.Verify(x509.VerifyOptions{Roots: pool, Intermediates: inter}); err != nil {
		t.Errorf("leaf should verify against file pool: %v", err)
	}

	if _, err := LoadTrustPool(TrustPoolInput{Store: TrustStoreMozilla}); err != nil {
		t.Errorf("mozilla pool: %v", err)
	}
	if _, err := LoadTrustPool(TrustPoolInput{Store: TrustStoreFile}); err == nil {
		t.Error("expected error for file store without path")
	}
	if _, err := LoadTrustPool(TrustPoolInput{Store: "bogus"}); err == nil {
		t.Error("expected error for unknown store")
	}
}
