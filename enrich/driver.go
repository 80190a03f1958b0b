// Package enrich implements the enrichment cascade: the ordered
// consultation of external intelligence sources for an IP address or file
// hash, with per-field merging, caching, and rate limiting.
package enrich

import (
	"context"
	"encoding/json"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Result is one source's contribution for one key. Empty fields mean the
// source had nothing to say about them; the cascade merges contributions
// by the per-field priority rules.
type Result struct {
	Country string                 `json:"country,omitempty"`
	ASN     *int64                 `json:"asn,omitempty"`
	ASNOrg  string                 `json:"asn_org,omitempty"`
	IPType  cowrieprocessor.IPType `json:"ip_type,omitempty"`
	// Confidence ranks this source's IPType claim against other sources.
	// Ties are broken by the classification's own rank.
	Confidence int                         `json:"confidence,omitempty"`
	Status     cowrieprocessor.CacheStatus `json:"status"`
	// Raw is the provider response, preserved for the cache tiers and
	// for operators spelunking a classification.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Fields used by non-IP lookups.
	Flagged    *bool  `json:"flagged,omitempty"`
	Prevalence *int64 `json:"prevalence,omitempty"`
}

// Source is a single external enrichment service.
//
// Sources are composed in an ordered list rather than by inheritance; the
// cascade decides whether a source is worth consulting for a given key.
type Source interface {
	// Name identifies the service for caching, rate limiting, and
	// provenance.
	Name() cowrieprocessor.Service
	// Lookup fetches the source's view of the key. A nil Result with a
	// nil error means the source has no data (distinct from an error).
	Lookup(ctx context.Context, key string) (*Result, error)
}
