package validation

import (
	"context"
	"fmt"
	"slices"

	"github.com/sensiblebit/chainscan"
)

// Chain order classifications.
const (
	OrderOK           = "OK"
	OrderReversed     = "REVERSED"
	OrderReordered    = "REORDERED"
	OrderDisconnected = "DISCONNECTED"
	OrderTooLong      = "TOOLONG"
	OrderError        = "ERROR"
)

// maxReorderCerts bounds the chain length searched for a valid reordering.
const maxReorderCerts = 8

// ChainInspector classifies the order of a chain as sent by a server and
// counts its self-signed certificates, e.g. "REVERSED-1CA". Certificates
// are parsed leniently so malformed scan data still classifies.
type ChainInspector struct{}

func (ChainInspector) Name() string { return "chainInspector" }

func (ChainInspector) Description() string {
	return "classify chain order (OK, REVERSED, REORDERED, DISCONNECTED, TOOLONG) and count self-signed CAs"
}

func (ChainInspector) Validate(_ context.Context, paths []string, _ Config) []string {
	ders, err := readChainDER(paths)
	if err != nil {
		return []string{OrderError}
	}
	links := make([]nameLink, 0, len(ders))
	for _, der := range ders {
		cert, err := chainscan.ParseCertificateLax(der)
		if err != nil {
			return []string{OrderError}
		}
		links = append(links, nameLink{subject: cert.Subject.String(), issuer: cert.Issuer.String()})
	}
	return []string{fmt.Sprintf("%s-%dCA", classifyOrder(links), selfSignedCount(links))}
}

// nameLink is the subject and issuer of one chain certificate.
type nameLink struct {
	subject, issuer string
}

func classifyOrder(links []nameLink) string {
	if len(links) > maxReorderCerts {
		return OrderTooLong
	}
	if continuous(links) {
		return OrderOK
	}
	reversed := slices.Clone(links)
	slices.Reverse(reversed)
	if continuous(reversed) {
		return OrderReversed
	}
	if reorderable(links) {
		return OrderReordered
	}
	return OrderDisconnected
}

// continuous reports whether every certificate's subject is the issuer of
// the certificate before it.
func continuous(links []nameLink) bool {
	for i := 1; i < len(links); i++ {
		if links[i].subject != links[i-1].issuer {
			return false
		}
	}
	return true
}

// reorderable reports whether some permutation of links is continuous.
func reorderable(links []nameLink) bool {
	used := make([]bool, len(links))
	var extend func(prev, depth int) bool
	extend = func(prev, depth int) bool {
		if depth == len(links) {
			return true
		}
		for i := range links {
			if used[i] || (prev >= 0 && links[i].subject != links[prev].issuer) {
				continue
			}
			used[i] = true
			if extend(i, depth+1) {
				return true
			}
			used[i] = false
		}
		return false
	}
	return extend(-1, 0)
}

func selfSignedCount(links []nameLink) int {
	n := 0
	for _, l := range links {
		if l.subject == l.issuer {
			n++
		}
	}
	return n
}
