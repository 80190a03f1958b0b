package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// GeoIP is the offline geo/ASN database source. It is always consulted
// first: it costs nothing per lookup and is authoritative for geography.
//
// The databases are MaxMind-format files refreshed out of band; staleness
// is judged by file mtime, not per-entry TTL.
type GeoIP struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
	age  time.Duration
}

// StaleAfter is how old the database files may grow before Age starts
// warning. The weekly upstream publishing cadence plus slack.
const StaleAfter = 14 * 24 * time.Hour

// NewGeoIP opens the city and ASN databases. Either path may be empty,
// leaving the corresponding fields unpopulated in results.
func NewGeoIP(ctx context.Context, cityPath, asnPath string) (*GeoIP, error) {
	g := GeoIP{}
	var newest time.Time
	for _, p := range []struct {
		path string
		dst  **geoip2.Reader
	}{
		{cityPath, &g.city},
		{asnPath, &g.asn},
	} {
		if p.path == "" {
			continue
		}
		r, err := geoip2.Open(p.path)
		if err != nil {
			return nil, fmt.Errorf("enrich: opening geo database %q: %w", p.path, err)
		}
		*p.dst = r
		if fi, err := os.Stat(p.path); err == nil && fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	if g.city == nil && g.asn == nil {
		return nil, fmt.Errorf("enrich: no geo database configured")
	}
	if !newest.IsZero() {
		g.age = time.Since(newest)
		if g.age > StaleAfter {
			zlog.Warn(ctx).
				Dur("age", g.age).
				Msg("offline geo database is stale; refresh it")
		}
	}
	return &g, nil
}

// Name implements Source.
func (g *GeoIP) Name() cowrieprocessor.Service { return cowrieprocessor.ServiceGeoIP }

// Age reports how old the database files were at open time.
func (g *GeoIP) Age() time.Duration { return g.age }

// Lookup implements Source.
func (g *GeoIP) Lookup(_ context.Context, key string) (*Result, error) {
	ip := net.ParseIP(key)
	if ip == nil {
		return nil, fmt.Errorf("enrich: %q is not an IP address", key)
	}
	res := Result{Status: cowrieprocessor.StatusSuccess}
	type raw struct {
		Country string `json:"country,omitempty"`
		ASN     uint   `json:"asn,omitempty"`
		ASNOrg  string `json:"asn_org,omitempty"`
	}
	var doc raw
	if g.city != nil {
		c, err := g.city.Country(ip)
		if err != nil {
			return nil, fmt.Errorf("enrich: country lookup: %w", err)
		}
		res.Country = c.Country.IsoCode
		doc.Country = c.Country.IsoCode
	}
	if g.asn != nil {
		a, err := g.asn.ASN(ip)
		if err != nil {
			return nil, fmt.Errorf("enrich: asn lookup: %w", err)
		}
		if a.AutonomousSystemNumber != 0 {
			n := int64(a.AutonomousSystemNumber)
			res.ASN = &n
			res.ASNOrg = a.AutonomousSystemOrganization
			doc.ASN = a.AutonomousSystemNumber
			doc.ASNOrg = a.AutonomousSystemOrganization
		}
	}
	if res.Country == "" && res.ASN == nil {
		res.Status = cowrieprocessor.StatusNotFound
		return &res, nil
	}
	res.Raw, _ = json.Marshal(doc)
	return &res, nil
}

// Close releases the database handles.
func (g *GeoIP) Close() error {
	var err error
	if g.city != nil {
		err = g.city.Close()
	}
	if g.asn != nil {
		if cerr := g.asn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
