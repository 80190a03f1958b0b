package enrich

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

func asn(n int64) *int64 { return &n }

func TestMerge(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := t0.Add(time.Hour)

	tt := []struct {
		name     string
		in       cowrieprocessor.IPInventory
		contribs []Contribution
		want     cowrieprocessor.IPInventory
	}{
		{
			name: "OfflineWinsGeo",
			contribs: []Contribution{
				{
					Source:    cowrieprocessor.ServiceGeoIP,
					Result:    &Result{Country: "NL", ASN: asn(64496), ASNOrg: "Example", Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
				{
					Source:    cowrieprocessor.ServiceWhoisASN,
					Result:    &Result{Country: "DE", ASN: asn(64511), Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
			},
			want: cowrieprocessor.IPInventory{
				CountryCode:  "NL",
				ASNNumber:    asn(64496),
				ASNOrg:       "Example",
				IPType:       cowrieprocessor.IPTypeUnknown,
				GeoSource:    cowrieprocessor.ServiceGeoIP,
				GeoAt:        &t0,
				ASNSource:    cowrieprocessor.ServiceGeoIP,
				ASNAt:        &t0,
				EnrichmentTS: now,
			},
		},
		{
			name: "FallbackASN",
			contribs: []Contribution{
				{
					Source:    cowrieprocessor.ServiceGeoIP,
					Result:    &Result{Country: "NL", Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
				{
					Source:    cowrieprocessor.ServiceWhoisASN,
					Result:    &Result{ASN: asn(64511), ASNOrg: "Fallback", Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
			},
			want: cowrieprocessor.IPInventory{
				CountryCode:  "NL",
				ASNNumber:    asn(64511),
				ASNOrg:       "Fallback",
				IPType:       cowrieprocessor.IPTypeUnknown,
				GeoSource:    cowrieprocessor.ServiceGeoIP,
				GeoAt:        &t0,
				ASNSource:    cowrieprocessor.ServiceWhoisASN,
				ASNAt:        &t0,
				EnrichmentTS: now,
			},
		},
		{
			name: "TypeConfidenceWins",
			contribs: []Contribution{
				{
					Source:    cowrieprocessor.ServiceScanner,
					Result:    &Result{IPType: cowrieprocessor.IPTypeDatacenter, Confidence: 80, Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
				{
					Source:    cowrieprocessor.ServiceWhoisASN,
					Result:    &Result{IPType: cowrieprocessor.IPTypeResidential, Confidence: 20, Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
			},
			want: cowrieprocessor.IPInventory{
				IPType:       cowrieprocessor.IPTypeDatacenter,
				TypeSource:   cowrieprocessor.ServiceScanner,
				TypeAt:       &t0,
				EnrichmentTS: now,
			},
		},
		{
			name: "TypeTieBrokenByRank",
			contribs: []Contribution{
				{
					Source:    cowrieprocessor.ServiceWhoisASN,
					Result:    &Result{IPType: cowrieprocessor.IPTypeVPN, Confidence: 80, Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
				{
					Source:    cowrieprocessor.ServiceScanner,
					Result:    &Result{IPType: cowrieprocessor.IPTypeTor, Confidence: 80, Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
			},
			want: cowrieprocessor.IPInventory{
				IPType:       cowrieprocessor.IPTypeTor,
				TypeSource:   cowrieprocessor.ServiceScanner,
				TypeAt:       &t0,
				EnrichmentTS: now,
			},
		},
		{
			name: "DegradedRunKeepsPriorFields",
			in: cowrieprocessor.IPInventory{
				CountryCode: "NL",
				ASNNumber:   asn(64496),
				IPType:      cowrieprocessor.IPTypeCloud,
				GeoSource:   cowrieprocessor.ServiceGeoIP,
				GeoAt:       &t0,
				ASNSource:   cowrieprocessor.ServiceGeoIP,
				ASNAt:       &t0,
				TypeSource:  cowrieprocessor.ServiceScanner,
				TypeAt:      &t0,
			},
			contribs: []Contribution{
				{
					Source:    cowrieprocessor.ServiceScanner,
					Result:    &Result{Status: cowrieprocessor.StatusError},
					FetchedAt: now,
				},
			},
			want: cowrieprocessor.IPInventory{
				CountryCode:  "NL",
				ASNNumber:    asn(64496),
				IPType:       cowrieprocessor.IPTypeCloud,
				GeoSource:    cowrieprocessor.ServiceGeoIP,
				GeoAt:        &t0,
				ASNSource:    cowrieprocessor.ServiceGeoIP,
				ASNAt:        &t0,
				TypeSource:   cowrieprocessor.ServiceScanner,
				TypeAt:       &t0,
				EnrichmentTS: now,
			},
		},
		{
			name: "RegistryStringsScrubbed",
			contribs: []Contribution{
				{
					Source:    cowrieprocessor.ServiceWhoisASN,
					Result:    &Result{Country: "N\x00L", ASN: asn(64511), ASNOrg: "Ev\x1bil Org\x7f", Status: cowrieprocessor.StatusSuccess},
					FetchedAt: t0,
				},
			},
			want: cowrieprocessor.IPInventory{
				CountryCode:  "NL",
				ASNNumber:    asn(64511),
				ASNOrg:       "Evil Org",
				IPType:       cowrieprocessor.IPTypeUnknown,
				GeoSource:    cowrieprocessor.ServiceWhoisASN,
				GeoAt:        &t0,
				ASNSource:    cowrieprocessor.ServiceWhoisASN,
				ASNAt:        &t0,
				EnrichmentTS: now,
			},
		},
		{
			name:     "NoContributions",
			contribs: nil,
			want: cowrieprocessor.IPInventory{
				IPType:       cowrieprocessor.IPTypeUnknown,
				EnrichmentTS: now,
			},
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in
			Merge(&got, tc.contribs, now)
			if !cmp.Equal(tc.want, got) {
				t.Error(cmp.Diff(tc.want, got))
			}
		})
	}
}
