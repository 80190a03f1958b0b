package cowrieprocessor

import (
	"encoding/json"
	"time"
)

// RawEvent is one ingested honeypot event, exactly as it appeared in a
// source file after sanitization.
//
// Rows are append-only: once written a RawEvent is never mutated, and the
// triple (Source, SourceOffset, PayloadHash) is unique so that reprocessing
// the same file is idempotent.
type RawEvent struct {
	ID           int64           `json:"id"`
	IngestID     string          `json:"ingest_id"`
	IngestAt     time.Time       `json:"ingest_at"`
	Source       string          `json:"source"`
	SourceOffset int64           `json:"source_offset"`
	SourceInode  string          `json:"source_inode"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	SessionID    string          `json:"session_id,omitempty"`
	EventType    string          `json:"event_type"`
	EventAt      time.Time       `json:"event_timestamp"`
	RiskScore    int             `json:"risk_score"`
	Quarantined  bool            `json:"quarantined"`
}

// QuarantineThreshold is the risk score at and above which an event is
// persisted with the quarantined flag set.
const QuarantineThreshold = 80
