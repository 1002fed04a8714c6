package chainscan

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"github.com/breml/rootcerts/embedded"
)

// Trust store names accepted by LoadTrustPool.
const (
	TrustStoreMozilla = "mozilla"
	TrustStoreSystem  = "system"
	TrustStoreFile    = "file"
)

// TrustPoolInput selects the root certificate pool used for verification.
type TrustPoolInput struct {
	// Store is one of "mozilla", "system" or "file".
	Store string
	// File is a PEM bundle of roots, required when Store is "file".
	File string
}

// LoadTrustPool builds the root certificate pool described by input.
func LoadTrustPool(input TrustPoolInput) (*x509.CertPool, error) {
	switch input.Store {
	case TrustStoreSystem:
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("loading system cert pool: %w", err)
		}
		return pool, nil
	case TrustStoreMozilla, "":
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(embedded.MozillaCACertificatesPEM())) {
			return nil, errors.New("parsing embedded Mozilla root certificates")
		}
		return pool, nil
	case TrustStoreFile:
		if input.File == "" {
			return nil, errors.New("trust store file not set")
		}
		data, err := os.ReadFile(input.File)
		if err != nil {
			return nil, fmt.Errorf("reading trust store %s: %w", input.File, err)
		}
		certs, err := ParseCertificatesAny(data)
		if err != nil {
			return nil, fmt.Errorf("parsing trust store %s: %w", input.File, err)
		}
		pool := x509.NewCertPool()
		for _, cert := range certs {
			pool.AddCert(cert)
		}
		return pool, nil
	default:
		return nil, fmt.Errorf("unknown trust store: %q", input.Store)
	}
}

// MozillaRootsPEM returns the embedded Mozilla root bundle, used when an
// external verifier needs the trust anchors as a file.
func MozillaRootsPEM() []byte {
	return []byte(embedded.MozillaCACertificatesPEM())
}
