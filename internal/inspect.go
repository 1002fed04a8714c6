package internal

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/sensiblebit/chainscan"
)

// InspectResult holds the details of one stored certificate.
type InspectResult struct {
	Fingerprint string   `json:"sha256_fingerprint"`
	State       string   `json:"state,omitempty"`
	Subject     string   `json:"subject,omitempty"`
	Issuer      string   `json:"issuer,omitempty"`
	Serial      string   `json:"serial,omitempty"`
	NotBefore   string   `json:"not_before,omitempty"`
	NotAfter    string   `json:"not_after,omitempty"`
	CertType    string   `json:"cert_type,omitempty"`
	KeyAlgo     string   `json:"key_algorithm,omitempty"`
	KeySize     string   `json:"key_size,omitempty"`
	SANs        []string `json:"sans,omitempty"`
	SigAlg      string   `json:"signature_algorithm,omitempty"`
	// Lenient is set when only the lenient parser accepted the certificate.
	Lenient    bool   `json:"lenient,omitempty"`
	ParseError string `json:"parse_error,omitempty"`
}

// InspectDER describes a certificate. Certificates the standard parser
// rejects are described from the lenient parse with fewer fields.
func InspectDER(der []byte, state string) InspectResult {
	r := InspectResult{Fingerprint: chainscan.FingerprintDER(der), State: state}

	if cert, err := x509.ParseCertificate(der); err == nil {
		r.Subject = cert.Subject.String()
		r.Issuer = cert.Issuer.String()
		r.Serial = cert.SerialNumber.String()
		r.NotBefore = cert.NotBefore.UTC().Format(time.RFC3339)
		r.NotAfter = cert.NotAfter.UTC().Format(time.RFC3339)
		r.CertType = chainscan.GetCertificateType(cert)
		r.KeyAlgo = cert.PublicKeyAlgorithm.String()
		r.KeySize = publicKeySize(cert.PublicKey)
		r.SANs = slices.Concat(cert.DNSNames, formatIPs(cert.IPAddresses))
		r.SigAlg = cert.SignatureAlgorithm.String()
		return r
	}

	cert, err := chainscan.ParseCertificateLax(der)
	if err != nil {
		r.ParseError = err.Error()
		return r
	}
	r.Lenient = true
	r.Subject = cert.Subject.String()
	r.Issuer = cert.Issuer.String()
	if cert.SerialNumber != nil {
		r.Serial = cert.SerialNumber.String()
	}
	r.NotBefore = cert.NotBefore.UTC().Format(time.RFC3339)
	r.NotAfter = cert.NotAfter.UTC().Format(time.RFC3339)
	r.SANs = slices.Concat(cert.DNSNames, formatIPs(cert.IPAddresses))
	return r
}

func formatIPs(ips []net.IP) []string {
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}

func publicKeySize(pub any) string {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("%d", k.N.BitLen())
	case *ecdsa.PublicKey:
		return k.Curve.Params().Name
	case ed25519.PublicKey:
		return "256"
	default:
		return "unknown"
	}
}

// FormatInspectResults formats inspection results as text or JSON.
func FormatInspectResults(results []InspectResult, format string) (string, error) {
	switch format {
	case "text":
		return formatInspectText(results), nil
	case "json":
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling JSON: %w", err)
		}
		return string(data) + "\n", nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use text or json)", format)
	}
}

func formatInspectText(results []InspectResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Certificate %s:\n", r.Fingerprint)
		if r.State != "" {
			fmt.Fprintf(&sb, "  State:       %s\n", r.State)
		}
		if r.ParseError != "" {
			fmt.Fprintf(&sb, "  Unparseable: %s\n", r.ParseError)
			continue
		}
		fmt.Fprintf(&sb, "  Subject:     %s\n", r.Subject)
		if len(r.SANs) > 0 {
			fmt.Fprintf(&sb, "  SANs:        %s\n", strings.Join(r.SANs, ", "))
		}
		fmt.Fprintf(&sb, "  Issuer:      %s\n", r.Issuer)
		fmt.Fprintf(&sb, "  Serial:      %s\n", r.Serial)
		if r.CertType != "" {
			fmt.Fprintf(&sb, "  Type:        %s\n", r.CertType)
		}
		fmt.Fprintf(&sb, "  Not Before:  %s\n", r.NotBefore)
		fmt.Fprintf(&sb, "  Not After:   %s\n", r.NotAfter)
		if r.KeyAlgo != "" {
			fmt.Fprintf(&sb, "  Key:         %s %s\n", r.KeyAlgo, r.KeySize)
			fmt.Fprintf(&sb, "  Signature:   %s\n", r.SigAlg)
		}
		if r.Lenient {
			fmt.Fprintf(&sb, "  Note:        malformed, parsed leniently\n")
		}
	}
	return sb.String()
}
