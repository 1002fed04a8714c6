package validation

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sensiblebit/chainscan"
)

// Result codes of the x509 method.
const (
	CodeOK                   = "0"
	CodeUnreadable           = "-1"
	CodeExpired              = "CERT_HAS_EXPIRED"
	CodeNotYetValid          = "CERT_NOT_YET_VALID"
	CodeUnknownAuthority     = "UNKNOWN_AUTHORITY"
	CodeHostname             = "HOSTNAME"
	CodeNotAuthorizedToSign  = "NOT_AUTHORIZED_TO_SIGN"
	CodeIncompatibleUsage    = "INCOMPATIBLE_USAGE"
	CodeTooManyIntermediates = "TOO_MANY_INTERMEDIATES"
	CodeInvalid              = "INVALID"
)

// X509Verifier verifies the chain with crypto/x509 at the reference time.
// The first certificate is the leaf; the rest are offered as intermediates.
type X509Verifier struct {
	roots *x509.CertPool
}

// NewX509Verifier returns a verifier trusting roots, or the embedded
// Mozilla roots when roots is nil.
func NewX509Verifier(roots *x509.CertPool) (*X509Verifier, error) {
	if roots == nil {
		var err error
		roots, err = chainscan.LoadTrustPool(chainscan.TrustPoolInput{Store: chainscan.TrustStoreMozilla})
		if err != nil {
			return nil, fmt.Errorf("loading x509 trust pool: %w", err)
		}
	}
	return &X509Verifier{roots: roots}, nil
}

func (*X509Verifier) Name() string { return "x509" }

func (*X509Verifier) Description() string {
	return "verify the chain with Go crypto/x509 at the reference time"
}

func (v *X509Verifier) Validate(_ context.Context, paths []string, cfg Config) []string {
	ders, err := readChainDER(paths)
	if err != nil || len(ders) == 0 {
		return []string{CodeUnreadable}
	}
	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return []string{CodeUnreadable}
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err = certs[0].Verify(x509.VerifyOptions{
		Roots:         v.roots,
		Intermediates: intermediates,
		CurrentTime:   cfg.ReferenceTime,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err == nil {
		return []string{CodeOK}
	}
	return verifyErrorCodes(err, certs, cfg.ReferenceTime)
}

// verifyErrorCodes maps a crypto/x509 verification error to sorted unique
// codes. Verify stops at the first problem, so the validity period of every
// supplied certificate is checked and reported alongside it.
func verifyErrorCodes(err error, certs []*x509.Certificate, at time.Time) []string {
	var codes []string
	add := func(code string) {
		if !slices.Contains(codes, code) {
			codes = append(codes, code)
		}
	}

	var invalid x509.CertificateInvalidError
	var unknown x509.UnknownAuthorityError
	var hostname x509.HostnameError
	outsideValidity := false
	switch {
	case errors.As(err, &invalid):
		switch invalid.Reason {
		case x509.Expired:
			// Also used for certificates that are not valid yet.
			outsideValidity = true
		case x509.NotAuthorizedToSign:
			add(CodeNotAuthorizedToSign)
		case x509.IncompatibleUsage:
			add(CodeIncompatibleUsage)
		case x509.TooManyIntermediates:
			add(CodeTooManyIntermediates)
		default:
			add(CodeInvalid)
		}
	case errors.As(err, &unknown):
		add(CodeUnknownAuthority)
	case errors.As(err, &hostname):
		add(CodeHostname)
	default:
		add(CodeInvalid)
	}
	for _, cert := range certs {
		if at.After(cert.NotAfter) {
			add(CodeExpired)
		}
		if at.Before(cert.NotBefore) {
			add(CodeNotYetValid)
		}
	}
	if outsideValidity && len(codes) == 0 {
		add(CodeExpired)
	}
	slices.Sort(codes)
	return codes
}
