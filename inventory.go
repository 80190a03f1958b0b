package cowrieprocessor

import "time"

// IPType is the coarse classification of the host behind an address.
type IPType string

// Known IP classifications, ordered here by descending merge precedence.
// When two enrichment sources disagree on the classification, the higher
// ranked value wins.
const (
	IPTypeTor         IPType = "tor"
	IPTypeCloud       IPType = "cloud"
	IPTypeDatacenter  IPType = "datacenter"
	IPTypeVPN         IPType = "vpn"
	IPTypeProxy       IPType = "proxy"
	IPTypeResidential IPType = "residential"
	IPTypeUnknown     IPType = "unknown"
)

// Rank reports the merge precedence of the classification. Larger is
// stronger. Unknown ranks below everything.
func (t IPType) Rank() int {
	switch t {
	case IPTypeTor:
		return 6
	case IPTypeCloud:
		return 5
	case IPTypeDatacenter:
		return 4
	case IPTypeVPN:
		return 3
	case IPTypeProxy:
		return 2
	case IPTypeResidential:
		return 1
	}
	return 0
}

// IPInventory is the current best-known enrichment for one IP address.
//
// One row per address; unlike RawEvent these rows are refreshed in place.
// Each enriched field carries the source that produced it and the time the
// source reported it, so staleness is judged per field.
type IPInventory struct {
	IPAddress    string     `json:"ip_address"`
	CountryCode  string     `json:"country_code,omitempty"`
	ASNNumber    *int64     `json:"asn_number,omitempty"`
	ASNOrg       string     `json:"asn_org,omitempty"`
	IPType       IPType     `json:"ip_type"`
	FirstSeen    time.Time  `json:"first_seen"`
	LastSeen     time.Time  `json:"last_seen"`
	EnrichmentTS time.Time  `json:"enrichment_ts"`
	GeoSource    Service    `json:"geo_source,omitempty"`
	GeoAt        *time.Time `json:"geo_at,omitempty"`
	ASNSource    Service    `json:"asn_source,omitempty"`
	ASNAt        *time.Time `json:"asn_at,omitempty"`
	TypeSource   Service    `json:"type_source,omitempty"`
	TypeAt       *time.Time `json:"type_at,omitempty"`
}

// NeverEnriched reports whether no source has ever contributed to the row.
// The cascade returns such a sentinel when every source was denied or
// errored and nothing was cached.
func (i *IPInventory) NeverEnriched() bool {
	return i.GeoAt == nil && i.ASNAt == nil && i.TypeAt == nil
}

// ASNInventory is the org-level record for an autonomous system, created
// lazily the first time an IP resolves to the ASN.
type ASNInventory struct {
	ASNNumber   int64     `json:"asn_number"`
	ASNOrg      string    `json:"asn_org,omitempty"`
	CountryHint string    `json:"country_hint,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}
