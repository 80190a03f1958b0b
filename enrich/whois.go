package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// WhoisASN resolves origin-ASN data over DNS TXT records in the
// Team Cymru style. It is the fallback when the offline database leaves
// the ASN unknown; answers look like:
//
//	"64496 | 192.0.2.0/24 | NL | ripencc | 2001-05-04"
//	"Acme Networking B.V., NL" (from the AS description zone)
type WhoisASN struct {
	resolver *net.Resolver
	// zone suffixes, overridable in tests.
	originZone string
	asZone     string
}

// NewWhoisASN returns the DNS-based ASN source. A nil resolver uses the
// system default.
func NewWhoisASN(resolver *net.Resolver) *WhoisASN {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &WhoisASN{
		resolver:   resolver,
		originZone: "origin.asn.cymru.com",
		asZone:     "asn.cymru.com",
	}
}

// Name implements Source.
func (w *WhoisASN) Name() cowrieprocessor.Service { return cowrieprocessor.ServiceWhoisASN }

// Lookup implements Source.
func (w *WhoisASN) Lookup(ctx context.Context, key string) (*Result, error) {
	ip := net.ParseIP(key).To4()
	if ip == nil {
		// v6 origin lookups use a different zone; sensors overwhelmingly
		// see v4, so v6 is simply not found here.
		return &Result{Status: cowrieprocessor.StatusNotFound}, nil
	}
	name := fmt.Sprintf("%d.%d.%d.%d.%s", ip[3], ip[2], ip[1], ip[0], w.originZone)
	txts, err := w.resolver.LookupTXT(ctx, name)
	if err != nil {
		if dnsNotFound(err) {
			return &Result{Status: cowrieprocessor.StatusNotFound}, nil
		}
		return nil, fmt.Errorf("enrich: origin lookup %s: %w", name, err)
	}
	if len(txts) == 0 {
		return &Result{Status: cowrieprocessor.StatusNotFound}, nil
	}

	fields := splitPipes(txts[0])
	if len(fields) < 1 {
		return &Result{Status: cowrieprocessor.StatusNotFound}, nil
	}
	// Multi-origin prefixes list several ASNs; the first is the
	// conventional pick.
	asnStr := strings.Fields(fields[0])
	n, err := strconv.ParseInt(asnStr[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("enrich: unparseable ASN %q: %w", fields[0], err)
	}
	res := Result{ASN: &n, Status: cowrieprocessor.StatusSuccess}
	if len(fields) >= 3 {
		res.Country = fields[2]
	}

	// Second query resolves the AS description for the org name.
	if txts, err := w.resolver.LookupTXT(ctx, fmt.Sprintf("AS%d.%s", n, w.asZone)); err == nil && len(txts) > 0 {
		f := splitPipes(txts[0])
		if len(f) >= 5 {
			res.ASNOrg = f[4]
		}
	}
	res.Raw, _ = json.Marshal(map[string]any{"origin": txts[0], "asn": n, "asn_org": res.ASNOrg})
	return &res, nil
}

func splitPipes(s string) []string {
	parts := strings.Split(s, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func dnsNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}
