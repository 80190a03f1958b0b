package cowrieprocessor

import "time"

// Checkpoint records ingest progress for one source file within one phase.
// It is committed in the same transaction as the batch it covers, so a
// crashed loader resumes without skipping or double-counting events.
type Checkpoint struct {
	Phase        string    `json:"phase"`
	Source       string    `json:"source"`
	SourceInode  string    `json:"source_inode"`
	SourceOffset int64     `json:"source_offset"`
	UpdatedAt    time.Time `json:"updated_at"`
}
