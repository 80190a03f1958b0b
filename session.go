package cowrieprocessor

import (
	"encoding/json"
	"time"
)

// SessionSummary is the per-session aggregate maintained by the loaders and
// decorated by the enrichment cascade.
//
// Counters and timestamp bounds are recomputed from the stored raw events
// on every update, so re-ingesting a file leaves them unchanged. The
// Snapshot* columns record the enrichment state at the time enrichment
// first attached to the session; once non-null they are never overwritten.
type SessionSummary struct {
	SessionID        string          `json:"session_id"`
	FirstEventAt     time.Time       `json:"first_event_at"`
	LastEventAt      time.Time       `json:"last_event_at"`
	EventCount       int64           `json:"event_count"`
	CommandCount     int64           `json:"command_count"`
	LoginAttempts    int64           `json:"login_attempts"`
	FileDownloads    int64           `json:"file_downloads"`
	SSHKeyInjections int64           `json:"ssh_key_injections"`
	UniqueSSHKeys    int64           `json:"unique_ssh_keys"`
	VTFlagged        bool            `json:"vt_flagged"`
	DShieldFlagged   bool            `json:"dshield_flagged"`
	RiskScore        int             `json:"risk_score"`
	Matcher          string          `json:"matcher,omitempty"`
	SourceFiles      []string        `json:"source_files"`
	Enrichment       json.RawMessage `json:"enrichment,omitempty"`

	// Snapshot columns, sealed after the first enrichment pass.
	SourceIP        string     `json:"source_ip,omitempty"`
	SnapshotASN     *int64     `json:"snapshot_asn,omitempty"`
	SnapshotCountry string     `json:"snapshot_country,omitempty"`
	SnapshotIPType  IPType     `json:"snapshot_ip_type,omitempty"`
	EnrichmentAt    *time.Time `json:"enrichment_at,omitempty"`
}

// SessionDelta names a session touched by one ingest batch. The batcher
// produces one delta per session per batch; the store recomputes that
// session's counters from the raw events already committed, so the delta
// only has to carry what cannot be derived there: the canonical source
// address (earliest by event timestamp) and the contributing file.
type SessionDelta struct {
	SessionID  string
	SourceIP   string
	SourceFile string
}
