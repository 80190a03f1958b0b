package enrich

import (
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/sanitize"
)

// Contribution is one source's result plus the provenance the merge
// records on the inventory row.
type Contribution struct {
	Source    cowrieprocessor.Service
	Result    *Result
	FetchedAt time.Time
}

// Merge folds a cascade run's contributions into an inventory row.
//
// Contributions must be in cascade order. Geography is first-writer-wins
// across that order, so the offline database beats everything downstream.
// ASN number and org likewise prefer the earliest source that has them.
// The classification instead goes to the highest-confidence claimant,
// with ties broken by the classification's own rank.
//
// Fields no contribution speaks to keep whatever the row already holds;
// a degraded run never erases prior enrichment.
func Merge(inv *cowrieprocessor.IPInventory, contribs []Contribution, now time.Time) {
	var (
		geoDone, asnDone bool
		bestType         *Contribution
	)
	for i := range contribs {
		c := &contribs[i]
		r := c.Result
		if r == nil || r.Status != cowrieprocessor.StatusSuccess {
			continue
		}
		// Strings from remote registries are attacker-adjacent data;
		// scrub them like any other captured text.
		if !geoDone && r.Country != "" {
			inv.CountryCode = sanitize.String(r.Country)
			inv.GeoSource = c.Source
			at := c.FetchedAt
			inv.GeoAt = &at
			geoDone = true
		}
		if !asnDone && r.ASN != nil {
			inv.ASNNumber = r.ASN
			inv.ASNOrg = sanitize.String(r.ASNOrg)
			inv.ASNSource = c.Source
			at := c.FetchedAt
			inv.ASNAt = &at
			asnDone = true
		}
		if r.IPType != "" && r.IPType != cowrieprocessor.IPTypeUnknown {
			if bestType == nil || betterType(r, bestType.Result) {
				bestType = c
			}
		}
	}
	if bestType != nil {
		inv.IPType = bestType.Result.IPType
		inv.TypeSource = bestType.Source
		at := bestType.FetchedAt
		inv.TypeAt = &at
	} else if inv.IPType == "" {
		inv.IPType = cowrieprocessor.IPTypeUnknown
	}
	inv.EnrichmentTS = now
}

func betterType(a, b *Result) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.IPType.Rank() > b.IPType.Rank()
}
