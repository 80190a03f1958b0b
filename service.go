package cowrieprocessor

// Service names an external enrichment source. The same identifiers key the
// cache tiers, the rate limiter registry, and the per-field provenance on
// IPInventory.
type Service string

// Known enrichment services.
const (
	ServiceGeoIP     Service = "geoip"     // offline geo/ASN database
	ServiceWhoisASN  Service = "whois_asn" // online whois/DNS ASN lookup
	ServiceScanner   Service = "scanner"   // scanner intelligence API
	ServiceHashRep   Service = "hash_rep"  // file-hash reputation
	ServiceBreach    Service = "breach"    // password breach check
	ServiceUnmanaged Service = ""          // zero value; no provenance
)

// CacheStatus classifies the outcome recorded with a cached response.
type CacheStatus string

// Cache entry statuses.
const (
	StatusSuccess     CacheStatus = "success"
	StatusNotFound    CacheStatus = "not_found"
	StatusError       CacheStatus = "error"
	StatusRateLimited CacheStatus = "rate_limited"
)
