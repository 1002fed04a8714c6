package chainscan

import (
	"bytes"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	"github.com/smallstep/pkcs7"
	gopkcs12 "software.sslmate.com/src/go-pkcs12"
)

// DecodePKCS7 decodes a DER-encoded PKCS#7 bundle and returns the certificates it contains.
// Returns an error if decoding fails or the bundle contains no certificates.
func DecodePKCS7(derData []byte) ([]*x509.Certificate, error) {
	p7, err := pkcs7.Parse(derData)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#7: %w", err)
	}
	if len(p7.Certificates) == 0 {
		return nil, errors.New("PKCS#7 bundle contains no certificates")
	}
	return p7.Certificates, nil
}

// EncodePKCS7 creates a certs-only PKCS#7/P7B bundle from DER certificates.
func EncodePKCS7(ders [][]byte) ([]byte, error) {
	if len(ders) == 0 {
		return nil, errors.New("no certificates to encode")
	}
	var derBytes []byte
	for _, der := range ders {
		derBytes = append(derBytes, der...)
	}
	return pkcs7.DegenerateCertificate(derBytes)
}

// DecodePKCS12 returns the certificates held in a PKCS#12/PFX bundle. Key
// bundles yield the leaf followed by its CA certificates; trust stores
// without a key yield their trusted entries. The private key is discarded.
func DecodePKCS12(pfxData []byte, password string) ([]*x509.Certificate, error) {
	_, leaf, caCerts, err := gopkcs12.DecodeChain(pfxData, password)
	if err == nil {
		return append([]*x509.Certificate{leaf}, caCerts...), nil
	}
	certs, tsErr := gopkcs12.DecodeTrustStore(pfxData, password)
	if tsErr != nil {
		return nil, fmt.Errorf("decoding PKCS#12: %w", err)
	}
	if len(certs) == 0 {
		return nil, errors.New("PKCS#12 trust store contains no certificates")
	}
	return certs, nil
}

// EncodePKCS12TrustStore creates a password protected PKCS#12 trust store
// holding the given certificates.
func EncodePKCS12TrustStore(certs []*x509.Certificate, password string) ([]byte, error) {
	if len(certs) == 0 {
		return nil, errors.New("no certificates to encode")
	}
	return gopkcs12.Modern.EncodeTrustStore(certs, password)
}

// DecodeJKS returns the DER certificates held in a Java KeyStore. Trusted
// certificate entries and the certificate chains of private key entries are
// both collected. Each password is tried against the store until one loads;
// the same password then unlocks key entries (standard Java convention).
// Individual entry errors are skipped.
func DecodeJKS(data []byte, passwords []string) ([][]byte, error) {
	var (
		ks       keystore.KeyStore
		password []byte
		loadErr  error
	)
	for _, pw := range passwords {
		ks = keystore.New()
		if loadErr = ks.Load(bytes.NewReader(data), []byte(pw)); loadErr == nil {
			password = []byte(pw)
			break
		}
	}
	if password == nil {
		if loadErr == nil {
			loadErr = errors.New("no passwords supplied")
		}
		return nil, fmt.Errorf("loading JKS: %w", loadErr)
	}

	var ders [][]byte
	for _, alias := range ks.Aliases() {
		switch {
		case ks.IsTrustedCertificateEntry(alias):
			entry, err := ks.GetTrustedCertificateEntry(alias)
			if err != nil {
				continue
			}
			ders = append(ders, entry.Certificate.Content)
		case ks.IsPrivateKeyEntry(alias):
			entry, err := ks.GetPrivateKeyEntry(alias, password)
			if err != nil {
				continue
			}
			for _, c := range entry.CertificateChain {
				ders = append(ders, c.Content)
			}
		}
	}

	if len(ders) == 0 {
		return nil, errors.New("JKS contains no usable certificates")
	}
	return ders, nil
}
