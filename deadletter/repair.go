// Package deadletter replays the dead-letter queue, promoting payloads
// that a cheaper or smarter parse can still recover.
package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/cowrie"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
	"github.com/datagen24/cowrieprocessor-sub005/ingest"
	"github.com/datagen24/cowrieprocessor-sub005/sanitize"
)

var replayCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cowrieprocessor",
		Subsystem: "deadletter",
		Name:      "replay_total",
		Help:      "Total dead-letter rows replayed, by outcome.",
	},
	[]string{"outcome"},
)

// maxStitch bounds how many adjacent fragments the stitch strategy will
// concatenate before giving up on a block.
const maxStitch = 8

// pageSize is how many rows one replay iteration claims.
const pageSize = 200

// Store is the persistence surface replay needs.
type Store interface {
	datastore.DeadLetterStore
	datastore.IngestStore
}

// Stats reports what one replay run did.
type Stats struct {
	Scanned  int64
	Promoted int64
	Stitched int64
	Failed   int64
}

// Replayer walks the dead-letter queue and retries each payload with a
// sequence of recovery strategies. Recovered events are committed
// through the regular ingest batch path and their queue rows resolved;
// everything else gets its retry counter bumped.
type Replayer struct {
	store Store
	opts  ingest.Options
	now   func() time.Time
}

// New builds a Replayer. now may be nil.
func New(store Store, opts ingest.Options, now func() time.Time) *Replayer {
	if now == nil {
		now = time.Now
	}
	return &Replayer{store: store, opts: opts, now: now}
}

// Run replays the whole queue once.
func (r *Replayer) Run(ctx context.Context) (Stats, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "deadletter/Replayer.Run")
	ingestID := uuid.NewString()
	var stats Stats
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		rows, err := r.store.ListDeadLetters(ctx, afterID, pageSize)
		if err != nil {
			return stats, err
		}
		if len(rows) == 0 {
			break
		}
		afterID = rows[len(rows)-1].ID
		if err := r.replayPage(ctx, ingestID, rows, &stats); err != nil {
			return stats, err
		}
	}
	zlog.Info(ctx).
		Int64("scanned", stats.Scanned).
		Int64("promoted", stats.Promoted).
		Int64("stitched", stats.Stitched).
		Int64("failed", stats.Failed).
		Msg("dead-letter replay finished")
	return stats, nil
}

func (r *Replayer) replayPage(ctx context.Context, ingestID string, rows []cowrieprocessor.DeadLetterEvent, stats *Stats) error {
	builders := make(map[string]*ingest.Builder)
	var resolved []int64
	var failed []int64

	for i := 0; i < len(rows); {
		row := rows[i]
		stats.Scanned++

		m, consumed, stitched := salvage(rows, i)
		if m == nil {
			failed = append(failed, row.ID)
			stats.Failed++
			replayCounter.WithLabelValues("failed").Inc()
			i++
			continue
		}
		bb := builders[row.Source]
		if bb == nil {
			bb = ingest.NewBuilder(r.opts, ingestID, row.Source, r.now)
			builders[row.Source] = bb
		}
		if err := bb.Add(row.SourceOffset, m); err != nil {
			failed = append(failed, row.ID)
			stats.Failed++
			replayCounter.WithLabelValues("failed").Inc()
			i++
			continue
		}
		for j := 0; j < consumed; j++ {
			resolved = append(resolved, rows[i+j].ID)
		}
		stats.Scanned += int64(consumed - 1)
		stats.Promoted++
		if stitched {
			stats.Stitched++
			replayCounter.WithLabelValues("stitched").Inc()
		} else {
			replayCounter.WithLabelValues("promoted").Inc()
		}
		i += consumed
	}

	for _, bb := range builders {
		b := bb.Take()
		if b == nil {
			continue
		}
		// Promotion must not clobber the loaders' progress markers.
		b.Checkpoint = nil
		if _, err := r.store.CommitBatch(ctx, b); err != nil {
			return err
		}
	}
	for _, id := range resolved {
		if err := r.store.ResolveDeadLetter(ctx, id); err != nil {
			return err
		}
	}
	at := r.now()
	for _, id := range failed {
		if err := r.store.MarkRetried(ctx, id, at); err != nil {
			return err
		}
	}
	return nil
}

// salvage tries the strategies in escalating order against the row at i:
// a plain re-parse, stitching adjacent fragments from the same source
// back into one block, and finally sanitizing the bytes before parsing.
// It reports the recovered payload, how many rows it consumed, and
// whether stitching was the strategy that worked.
func salvage(rows []cowrieprocessor.DeadLetterEvent, i int) (map[string]any, int, bool) {
	if m := parseValid(rows[i].Payload); m != nil {
		return m, 1, false
	}
	if m, n := stitch(rows, i); m != nil {
		return m, n, true
	}
	if m := parseValid(sanitize.Bytes(rows[i].Payload)); m != nil {
		return m, 1, false
	}
	return nil, 1, false
}

// stitch concatenates consecutive fragments from the same source, in
// offset order, retrying a parse after each one. Multiline blocks that
// overflowed the parser's line bound arrive in the queue split exactly
// this way.
func stitch(rows []cowrieprocessor.DeadLetterEvent, i int) (map[string]any, int) {
	if i+1 >= len(rows) {
		return nil, 0
	}
	var buf bytes.Buffer
	buf.Write(rows[i].Payload)
	for n := 2; n <= maxStitch && i+n-1 < len(rows); n++ {
		next := rows[i+n-1]
		if next.Source != rows[i].Source || next.SourceOffset <= rows[i+n-2].SourceOffset {
			return nil, 0
		}
		buf.WriteByte('\n')
		buf.Write(next.Payload)
		if m := parseValid(buf.Bytes()); m != nil {
			return m, n
		}
	}
	return nil, 0
}

func parseValid(p []byte) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return nil
	}
	if v := cowrie.Validate(m); !v.OK() {
		return nil
	}
	return m
}
