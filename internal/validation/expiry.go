package validation

import (
	"context"

	"github.com/sensiblebit/chainscan"
)

// Expiry result values, one per chain certificate.
const (
	ExpiryValid       = "VALID"
	ExpiryExpired     = "EXPIRED"
	ExpiryNotYetValid = "NOTYETVALID"
	ExpiryError       = "ERROR"
)

// Expiry reports the validity period status of each chain certificate at
// the reference time.
type Expiry struct{}

func (Expiry) Name() string { return "expiry" }

func (Expiry) Description() string {
	return "validity period of each certificate at the reference time"
}

func (Expiry) Validate(_ context.Context, paths []string, cfg Config) []string {
	ders, err := readChainDER(paths)
	if err != nil {
		return []string{ExpiryError}
	}
	values := make([]string, 0, len(ders))
	for _, der := range ders {
		cert, err := chainscan.ParseCertificateLax(der)
		switch {
		case err != nil:
			values = append(values, ExpiryError)
		case cfg.ReferenceTime.Before(cert.NotBefore):
			values = append(values, ExpiryNotYetValid)
		case cfg.ReferenceTime.After(cert.NotAfter):
			values = append(values, ExpiryExpired)
		default:
			values = append(values, ExpiryValid)
		}
	}
	return values
}
