package cowrieprocessor

import (
	"encoding/json"
	"time"
)

// SSHKeyIntelligence tracks a public key observed being injected or offered
// during sessions. Keys are identified by their SHA-256 fingerprint.
type SSHKeyIntelligence struct {
	ID             int64     `json:"id"`
	KeyType        string    `json:"key_type"`
	KeyData        string    `json:"key_data"`
	KeyFingerprint string    `json:"key_fingerprint"`
	KeyHash        string    `json:"key_hash"`
	KeyComment     string    `json:"key_comment,omitempty"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	TotalAttempts  int64     `json:"total_attempts"`
	UniqueSources  int64     `json:"unique_sources"`
	UniqueSessions int64     `json:"unique_sessions"`
	KeyBits        int       `json:"key_bits,omitempty"`
}

// PasswordTracking tracks a credential observed in login attempts. The
// cleartext column is honeypot-captured attacker input; retention of it is
// a site-policy decision, so stores must treat it as optional.
type PasswordTracking struct {
	PasswordHash      string     `json:"password_hash"`
	PasswordText      string     `json:"password_text,omitempty"`
	FirstSeen         time.Time  `json:"first_seen"`
	LastSeen          time.Time  `json:"last_seen"`
	TimesSeen         int64      `json:"times_seen"`
	UniqueSessions    int64      `json:"unique_sessions"`
	Breached          *bool      `json:"breached,omitempty"`
	BreachPrevalence  *int64     `json:"breach_prevalence,omitempty"`
	LastBreachCheckAt *time.Time `json:"last_breach_check_at,omitempty"`
}

// FileArtifact is a downloaded or uploaded file observed in a session,
// identified by content hash.
type FileArtifact struct {
	SHA256     string          `json:"sha256"`
	FirstSeen  time.Time       `json:"first_seen"`
	LastSeen   time.Time       `json:"last_seen"`
	Size       int64           `json:"size,omitempty"`
	URLSamples []string        `json:"url_samples,omitempty"`
	VTAnalysis json.RawMessage `json:"vt_analysis,omitempty"`
	VTFlagged  bool            `json:"vt_flagged"`
}
