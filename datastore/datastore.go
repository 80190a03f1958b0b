// Package datastore defines the persistence contracts the engine's
// components program against.
//
// Implementations live in sub-packages (currently only postgres). No
// component outside a datastore implementation sees SQL, except the
// migrator.
package datastore

import (
	"context"
	"encoding/json"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Batch is the unit of ingest commitment. Everything in a Batch is applied
// in one transaction together with its checkpoint, so a crash can never
// record progress past unpersisted events.
type Batch struct {
	Events     []cowrieprocessor.RawEvent
	Sessions   []cowrieprocessor.SessionDelta
	SSHKeys    []SSHKeyObservation
	Passwords  []PasswordObservation
	Files      []FileObservation
	Checkpoint *cowrieprocessor.Checkpoint
}

// BatchResult reports what a commit actually changed.
type BatchResult struct {
	EventsInserted  int64
	EventsDeduped   int64
	SessionsTouched int64
}

// SSHKeyObservation is one sighting of a public key in a session.
type SSHKeyObservation struct {
	SessionID   string
	SrcIP       string
	KeyType     string
	KeyData     string
	Fingerprint string
	Comment     string
	Bits        int
	SeenAt      time.Time
}

// PasswordObservation is one credential use in a login attempt.
type PasswordObservation struct {
	SessionID    string
	Username     string
	PasswordHash string
	PasswordText string
	SeenAt       time.Time
}

// FileObservation is one file transfer seen in a session.
type FileObservation struct {
	SessionID string
	SHA256    string
	URL       string
	Size      int64
	SeenAt    time.Time
}

// SnapshotFill carries the values the snapshot builder seals onto a
// session.
type SnapshotFill struct {
	SessionID string
	SourceIP  string
	ASN       *int64
	Country   string
	IPType    cowrieprocessor.IPType
	At        time.Time
}

// SweepRow is a candidate row for the sanitization sweeper.
type SweepRow struct {
	ID      int64
	Payload []byte
}

// IngestStore persists raw events and their session aggregates.
type IngestStore interface {
	// CommitBatch applies the batch atomically. Duplicate events, judged
	// by (source, source_offset, payload_hash), are counted but not
	// inserted.
	CommitBatch(ctx context.Context, b *Batch) (BatchResult, error)
}

// SessionStore reads and decorates session summaries.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*cowrieprocessor.SessionSummary, error)
	// SessionsMissingSnapshots pages through sessions that have a source
	// IP but unsealed snapshot columns.
	SessionsMissingSnapshots(ctx context.Context, afterID string, limit int) ([]cowrieprocessor.SessionSummary, error)
	// SealSnapshots fills snapshot columns that are still null; already
	// sealed sessions are untouched. Reports rows changed.
	SealSnapshots(ctx context.Context, fills []SnapshotFill) (int64, error)
	// MergeEnrichment merges a JSON enrichment document into the session,
	// preserving existing keys on conflict.
	MergeEnrichment(ctx context.Context, sessionID string, doc json.RawMessage, at time.Time) error
}

// InventoryStore maintains per-IP and per-ASN enrichment state.
type InventoryStore interface {
	// GetIP returns the inventory row, or nil when the address is unknown.
	GetIP(ctx context.Context, ip string) (*cowrieprocessor.IPInventory, error)
	// UpsertIP writes the row. When the row names an ASN, the matching
	// ASNInventory row is created first under a row-level lock so
	// concurrent enrichers cannot race the foreign key.
	UpsertIP(ctx context.Context, inv *cowrieprocessor.IPInventory) error
	// StaleIPs pages through addresses whose enrichment timestamp is
	// older than the cutoff.
	StaleIPs(ctx context.Context, olderThan time.Time, afterIP string, limit int) ([]string, error)
}

// FactStore updates the specialized fact tables outside the ingest path.
type FactStore interface {
	UpdateBreachStatus(ctx context.Context, passwordHash string, breached bool, prevalence int64, at time.Time) error
	UpdateFileAnalysis(ctx context.Context, sha256 string, analysis json.RawMessage, flagged bool, at time.Time) error
	// PasswordsNeedingBreachCheck pages through hashes never checked or
	// checked before the cutoff.
	PasswordsNeedingBreachCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]cowrieprocessor.PasswordTracking, error)
	// FilesNeedingAnalysis pages through artifacts with no stored
	// analysis, newest first.
	FilesNeedingAnalysis(ctx context.Context, limit int) ([]cowrieprocessor.FileArtifact, error)
}

// CacheStore is the database cache tier (L2).
type CacheStore interface {
	// GetCache returns the entry, or nil on miss. Expired entries are
	// misses; the implementation updates hit bookkeeping.
	GetCache(ctx context.Context, svc cowrieprocessor.Service, keyHash string, now time.Time) (*cowrieprocessor.CacheEntry, error)
	PutCache(ctx context.Context, e *cowrieprocessor.CacheEntry) error
	// PurgeExpiredCache deletes entries past their expiry, reporting the
	// count removed.
	PurgeExpiredCache(ctx context.Context, now time.Time) (int64, error)
}

// DeadLetterStore is the durable dead-letter queue.
type DeadLetterStore interface {
	InsertDeadLetter(ctx context.Context, dl *cowrieprocessor.DeadLetterEvent) error
	// ListDeadLetters pages by id.
	ListDeadLetters(ctx context.Context, afterID int64, limit int) ([]cowrieprocessor.DeadLetterEvent, error)
	// MarkRetried bumps the retry counter after a failed repair.
	MarkRetried(ctx context.Context, id int64, at time.Time) error
	// ResolveDeadLetter removes a row whose payload was promoted into the
	// raw event log.
	ResolveDeadLetter(ctx context.Context, id int64) error
	DeadLetterStats(ctx context.Context) (total int64, lastReason cowrieprocessor.DeadLetterReason, err error)
}

// CheckpointStore reads ingest checkpoints. Writing happens inside
// [IngestStore.CommitBatch].
type CheckpointStore interface {
	// GetCheckpoint returns the checkpoint, or nil when the (phase,
	// source) pair has never committed.
	GetCheckpoint(ctx context.Context, phase, source string) (*cowrieprocessor.Checkpoint, error)
}

// SweepStore supports the sanitization sweeper's cursor pagination.
type SweepStore interface {
	// SweepCandidates returns rows after the cursor whose payload text
	// matches the escape pre-filter, in id order.
	SweepCandidates(ctx context.Context, afterID int64, limit int) ([]SweepRow, error)
	// SweepCount counts matching rows without touching them (dry run).
	SweepCount(ctx context.Context) (int64, error)
	// SweepRewrite replaces the payloads of the identified rows with
	// their sanitized forms, one statement per batch.
	SweepRewrite(ctx context.Context, rows []SweepRow) (int64, error)
}

// Store is the union the facade wires together.
type Store interface {
	IngestStore
	SessionStore
	InventoryStore
	FactStore
	CacheStore
	DeadLetterStore
	CheckpointStore
	SweepStore
}
