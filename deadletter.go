package cowrieprocessor

import "time"

// DeadLetterReason classifies why an event landed in the dead-letter queue.
type DeadLetterReason string

// Dead-letter reasons.
const (
	ReasonParse       DeadLetterReason = "parse"
	ReasonValidation  DeadLetterReason = "validation"
	ReasonSanitize    DeadLetterReason = "sanitize"
	ReasonDedup       DeadLetterReason = "dedup"
	ReasonIngestError DeadLetterReason = "ingest-error"
)

// DeadLetterEvent is a durable record of input that could not be ingested.
// The raw bytes are kept verbatim so a later repair pass can retry with a
// different strategy.
type DeadLetterEvent struct {
	ID            int64            `json:"id"`
	Source        string           `json:"source"`
	SourceOffset  int64            `json:"source_offset"`
	Reason        DeadLetterReason `json:"reason"`
	Payload       []byte           `json:"payload"`
	RetryCount    int              `json:"retry_count"`
	CreatedAt     time.Time        `json:"created_at"`
	LastRetriedAt *time.Time       `json:"last_retried_at,omitempty"`
}
