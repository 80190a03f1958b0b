package cache

import (
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Per-service freshness policy. The offline geo database never expires
// here; its age is tracked by the database file's mtime and refreshed out
// of band.
const (
	TTLWhoisASN    = 90 * 24 * time.Hour
	TTLScanner     = 7 * 24 * time.Hour
	TTLHashRep     = 30 * 24 * time.Hour
	TTLHashRepMiss = 12 * time.Hour
	TTLBreach      = 60 * 24 * time.Hour
)

// TTLFor returns the time-to-live for a service's response. Not-found
// responses from the hash reputation service age out quickly so a later
// submission of the sample is picked up.
func TTLFor(svc cowrieprocessor.Service, status cowrieprocessor.CacheStatus) time.Duration {
	switch svc {
	case cowrieprocessor.ServiceGeoIP:
		return 0 // never expires
	case cowrieprocessor.ServiceWhoisASN:
		return TTLWhoisASN
	case cowrieprocessor.ServiceScanner:
		return TTLScanner
	case cowrieprocessor.ServiceHashRep:
		if status == cowrieprocessor.StatusNotFound {
			return TTLHashRepMiss
		}
		return TTLHashRep
	case cowrieprocessor.ServiceBreach:
		return TTLBreach
	}
	return 24 * time.Hour
}

// Expiry converts a TTL into an absolute expiry; a zero TTL means never.
func Expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl == 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
