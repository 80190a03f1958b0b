package ingest

import (
	"time"

	"github.com/datagen24/cowrieprocessor-sub005/datastore"
)

// Builder exposes batch construction to components that recover events
// outside the file loaders, such as dead-letter replay. Events added
// here go through the same sanitization, hashing, and session
// aggregation as loader-ingested events.
type Builder struct {
	bb *batchBuilder
}

// NewBuilder builds batches attributed to source under the given phase's
// checkpoint namespace. now may be nil.
func NewBuilder(opts Options, ingestID, source string, now func() time.Time) *Builder {
	opts.defaults("repair")
	if now == nil {
		now = time.Now
	}
	return &Builder{bb: newBatchBuilder(opts, ingestID, fileRef{path: source}, now)}
}

// Add queues one parsed payload at the given source offset.
func (b *Builder) Add(off int64, m map[string]any) error {
	return b.bb.add(off, m)
}

// Len reports queued events.
func (b *Builder) Len() int {
	if b.bb.b == nil {
		return 0
	}
	return len(b.bb.b.Events)
}

// Take finalizes and returns the pending batch, or nil when nothing is
// queued.
func (b *Builder) Take() *datastore.Batch {
	return b.bb.take()
}
