package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
	"github.com/datagen24/cowrieprocessor-sub005/cowrie"
	"github.com/datagen24/cowrieprocessor-sub005/datastore"
	"github.com/datagen24/cowrieprocessor-sub005/pkg/zreader"
	"github.com/datagen24/cowrieprocessor-sub005/sanitize"
	"github.com/datagen24/cowrieprocessor-sub005/status"
)

var (
	ingestEventCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total number of events handled by the loaders, by outcome.",
		},
		[]string{"phase", "outcome"},
	)
	ingestFileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cowrieprocessor",
			Subsystem: "ingest",
			Name:      "file_duration_seconds",
			Help:      "Time spent ingesting one source file end to end.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"phase"},
	)
)

// Store is the persistence surface the loaders need.
type Store interface {
	datastore.IngestStore
	datastore.DeadLetterStore
	datastore.CheckpointStore
}

// Options tune a loader. The zero value gets sane defaults.
type Options struct {
	// BatchSize bounds events per committed batch.
	BatchSize int
	// FlushEvery bounds how long a partial batch may sit uncommitted.
	FlushEvery time.Duration
	// Workers bounds concurrently ingested files.
	Workers int
	// BufferSize is the read buffer per file.
	BufferSize int
	// MultilineJSON permits pretty-printed input. Without it, files are
	// read strictly one event per line and pretty-printed blocks
	// dead-letter line by line.
	MultilineJSON bool
	// Phase names the checkpoint namespace and status document.
	Phase string
	// RetainPasswordText stores attacker-supplied cleartext credentials
	// alongside their hashes. Retention is a site-policy decision.
	RetainPasswordText bool
}

func (o *Options) defaults(phase string) {
	if o.BatchSize == 0 {
		o.BatchSize = 500
	}
	if o.FlushEvery == 0 {
		o.FlushEvery = 5 * time.Second
	}
	if o.Workers == 0 {
		o.Workers = 4
	}
	if o.BufferSize == 0 {
		o.BufferSize = 1 << 20
	}
	if o.Phase == "" {
		o.Phase = phase
	}
}

// Stats reports what one loader run did.
type Stats struct {
	Files       int64
	Events      int64
	Inserted    int64
	Deduped     int64
	Sessions    int64
	DeadLetters int64
}

func (s *Stats) add(o Stats) {
	s.Files += o.Files
	s.Events += o.Events
	s.Inserted += o.Inserted
	s.Deduped += o.Deduped
	s.Sessions += o.Sessions
	s.DeadLetters += o.DeadLetters
}

// Loader ingests source files end to end: detection, parsing,
// sanitization, batching, and transactional commitment with checkpoints.
type Loader struct {
	store  Store
	status *status.Emitter
	opts   Options
	delta  bool
	now    func() time.Time

	cpMu   sync.Mutex
	lastCP *cowrieprocessor.Checkpoint
}

// NewBulk builds a loader that ingests files from their beginning.
// emitter and now may be nil.
func NewBulk(store Store, emitter *status.Emitter, opts Options, now func() time.Time) *Loader {
	opts.defaults("bulk")
	if now == nil {
		now = time.Now
	}
	return &Loader{store: store, status: emitter, opts: opts, now: now}
}

// NewDelta builds a loader that resumes each file from its stored
// checkpoint. Rotation (inode change) and truncation (size shrink)
// reset the offset to zero.
func NewDelta(store Store, emitter *status.Emitter, opts Options, now func() time.Time) *Loader {
	opts.defaults("delta")
	if now == nil {
		now = time.Now
	}
	return &Loader{store: store, status: emitter, opts: opts, delta: true, now: now}
}

// fileRef is the stable identity of one enumerated source file.
type fileRef struct {
	path  string
	inode string
	size  int64
}

// Run ingests the named files or globs. Files are processed with bounded
// parallelism; each file's batches commit with that file's checkpoint,
// so a crash resumes per file without skipping events.
func (l *Loader) Run(ctx context.Context, paths []string) (Stats, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "ingest/Loader.Run",
		"phase", l.opts.Phase)
	files, err := enumerate(paths)
	if err != nil {
		return Stats{}, err
	}
	ingestID := uuid.NewString()
	started := l.now()
	zlog.Info(ctx).
		Str("ingest_id", ingestID).
		Int("files", len(files)).
		Msg("ingest starting")

	var (
		mu    sync.Mutex
		stats Stats
	)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(l.opts.Workers)
	for _, fr := range files {
		fr := fr
		eg.Go(func() error {
			timer := prometheus.NewTimer(ingestFileDuration.WithLabelValues(l.opts.Phase))
			fs, err := l.ingestFile(gctx, ingestID, fr)
			timer.ObserveDuration()
			mu.Lock()
			stats.add(fs)
			snapshot := stats
			mu.Unlock()
			l.emit(gctx, ingestID, started, snapshot)
			if err != nil {
				return fmt.Errorf("ingesting %q: %w", fr.path, err)
			}
			return nil
		})
	}
	err = eg.Wait()
	l.emit(ctx, ingestID, started, stats)
	zlog.Info(ctx).
		Int64("events", stats.Events).
		Int64("inserted", stats.Inserted).
		Int64("deduped", stats.Deduped).
		Int64("dead_letters", stats.DeadLetters).
		Msg("ingest finished")
	return stats, err
}

// enumerate expands globs, stats each file, and sorts deterministically.
func enumerate(paths []string) ([]fileRef, error) {
	var names []string
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("ingest: bad pattern %q: %w", p, err)
		}
		if matches == nil {
			// Not a pattern, or nothing matched; require the literal
			// path to exist so typos fail loudly.
			matches = []string{p}
		}
		names = append(names, matches...)
	}
	sort.Strings(names)
	var out []fileRef
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		fi, err := os.Stat(n)
		if err != nil {
			return nil, fmt.Errorf("ingest: stat %q: %w", n, err)
		}
		if fi.IsDir() {
			continue
		}
		out = append(out, fileRef{path: n, inode: fileIdentity(fi), size: fi.Size()})
	}
	return out, nil
}

func fileIdentity(fi os.FileInfo) string {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return strconv.FormatUint(uint64(st.Ino), 10)
	}
	return ""
}

// eventParser abstracts the two file layouts.
type eventParser interface {
	Next() (int64, []byte, map[string]any, error)
}

func (l *Loader) ingestFile(ctx context.Context, ingestID string, fr fileRef) (Stats, error) {
	ctx = zlog.ContextWithValues(ctx, "source", fr.path)
	var stats Stats
	stats.Files = 1

	resumeAfter := int64(-1)
	if l.delta {
		cp, err := l.store.GetCheckpoint(ctx, l.opts.Phase, fr.path)
		if err != nil {
			return stats, err
		}
		switch {
		case cp == nil:
		case cp.SourceInode != fr.inode:
			zlog.Info(ctx).Msg("inode changed; file rotated, restarting from zero")
		case fr.size < cp.SourceOffset:
			zlog.Info(ctx).Msg("file shrank; assuming truncation, restarting from zero")
		default:
			resumeAfter = cp.SourceOffset
		}
	}

	det, err := DetectFormat(fr.path)
	if err != nil {
		return stats, err
	}
	zlog.Debug(ctx).
		Str("format", det.Format.String()).
		Str("compression", det.Compression.String()).
		Int("confidence", det.Confidence).
		Msg("format detected")

	f, err := os.Open(fr.path)
	if err != nil {
		return stats, err
	}
	defer f.Close()
	zr, _, err := zreader.Reader(f)
	if err != nil {
		return stats, err
	}
	defer zr.Close()

	deadLetter := func(reason cowrieprocessor.DeadLetterReason) OverflowFunc {
		return func(start int64, raw []byte) {
			dl := cowrieprocessor.DeadLetterEvent{
				Source:       fr.path,
				SourceOffset: start,
				Reason:       reason,
				Payload:      raw,
				CreatedAt:    l.now(),
			}
			if err := l.store.InsertDeadLetter(ctx, &dl); err != nil {
				zlog.Warn(ctx).Err(err).Msg("failed to dead-letter input")
				return
			}
			stats.DeadLetters++
			ingestEventCounter.WithLabelValues(l.opts.Phase, "dead_letter").Inc()
		}
	}

	br := bufio.NewReaderSize(zr, l.opts.BufferSize)
	var parser eventParser
	switch {
	case l.opts.MultilineJSON:
		// The multiline parser also handles one-object-per-line input,
		// so opting in covers mixed files.
		parser = NewMultilineParser(br, deadLetter(cowrieprocessor.ReasonParse))
	default:
		if det.Format == FormatMultilineJSON {
			zlog.Warn(ctx).Msg("input looks pretty-printed but multiline mode is off; its lines will dead-letter")
		}
		parser = NewLineParser(br, deadLetter(cowrieprocessor.ReasonParse))
	}

	bb := newBatchBuilder(l.opts, ingestID, fr, l.now)
	flush := func() error {
		b := bb.take()
		if b == nil {
			return nil
		}
		res, err := l.store.CommitBatch(ctx, b)
		if err != nil {
			return err
		}
		if b.Checkpoint != nil {
			l.cpMu.Lock()
			l.lastCP = b.Checkpoint
			l.cpMu.Unlock()
		}
		stats.Inserted += res.EventsInserted
		stats.Deduped += res.EventsDeduped
		stats.Sessions += res.SessionsTouched
		ingestEventCounter.WithLabelValues(l.opts.Phase, "inserted").Add(float64(res.EventsInserted))
		ingestEventCounter.WithLabelValues(l.opts.Phase, "deduped").Add(float64(res.EventsDeduped))
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			// Drain: commit what is already parsed so the checkpoint
			// covers it, then stop.
			if ferr := flush(); ferr != nil {
				return stats, ferr
			}
			return stats, err
		}
		off, raw, m, err := parser.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading %q: %w", fr.path, err)
		}
		if off <= resumeAfter {
			continue
		}
		stats.Events++
		if v := cowrie.Validate(m); !v.OK() {
			// Dead-letter the input as read, so a repair pass sees what
			// the sensor actually shipped.
			deadLetter(cowrieprocessor.ReasonValidation)(off, raw)
			continue
		}
		if err := bb.add(off, m); err != nil {
			deadLetter(cowrieprocessor.ReasonIngestError)(off, raw)
			continue
		}
		if bb.full() || bb.overdue() {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

func (l *Loader) emit(ctx context.Context, ingestID string, started time.Time, s Stats) {
	if l.status == nil {
		return
	}
	doc := status.Document{
		Phase:     l.opts.Phase,
		IngestID:  ingestID,
		StartedAt: started,
		Metrics: map[string]int64{
			"files":        s.Files,
			"events":       s.Events,
			"inserted":     s.Inserted,
			"deduped":      s.Deduped,
			"sessions":     s.Sessions,
			"dead_letters": s.DeadLetters,
		},
	}
	l.cpMu.Lock()
	doc.Checkpoint = l.lastCP
	l.cpMu.Unlock()
	if total, reason, err := l.store.DeadLetterStats(ctx); err == nil {
		doc.DeadLetter = &status.DeadLetter{Total: total, LastReason: string(reason)}
	}
	if err := l.status.Write(&doc); err != nil {
		zlog.Debug(ctx).Err(err).Msg("status emission failed")
	}
	if err := l.status.WriteAggregate(); err != nil {
		zlog.Debug(ctx).Err(err).Msg("status aggregate failed")
	}
}

// batchBuilder accumulates one file's events into a Batch, building the
// per-session deltas and fact observations as it goes.
type batchBuilder struct {
	opts     Options
	ingestID string
	fr       fileRef
	now      func() time.Time

	b         *datastore.Batch
	deltas    map[string]*cowrieprocessor.SessionDelta
	ipSetAt   map[string]time.Time
	lastTaken time.Time
	lastOff   int64
}

func newBatchBuilder(opts Options, ingestID string, fr fileRef, now func() time.Time) *batchBuilder {
	return &batchBuilder{
		opts:      opts,
		ingestID:  ingestID,
		fr:        fr,
		now:       now,
		lastTaken: now(),
	}
}

func (bb *batchBuilder) add(off int64, m map[string]any) error {
	m = sanitize.Object(m)
	ev := cowrie.FromMap(m)
	hash, err := cowrie.PayloadHash(m)
	if err != nil {
		return err
	}
	payload, err := cowrie.Canonicalize(m)
	if err != nil {
		return err
	}
	now := bb.now()
	at := ev.Timestamp
	if at.IsZero() {
		at = now
	}
	score := cowrie.RiskScore(ev)

	if bb.b == nil {
		bb.b = &datastore.Batch{}
		bb.deltas = make(map[string]*cowrieprocessor.SessionDelta)
		bb.ipSetAt = make(map[string]time.Time)
	}
	bb.b.Events = append(bb.b.Events, cowrieprocessor.RawEvent{
		IngestID:     bb.ingestID,
		IngestAt:     now,
		Source:       bb.fr.path,
		SourceOffset: off,
		SourceInode:  bb.fr.inode,
		Payload:      payload,
		PayloadHash:  hash,
		SessionID:    ev.Session,
		EventType:    ev.EventID,
		EventAt:      at,
		RiskScore:    score,
		Quarantined:  score >= cowrieprocessor.QuarantineThreshold,
	})
	bb.lastOff = off

	if ev.Session != "" {
		d := bb.deltas[ev.Session]
		if d == nil {
			d = &cowrieprocessor.SessionDelta{
				SessionID:  ev.Session,
				SourceFile: bb.fr.path,
			}
			bb.deltas[ev.Session] = d
		}
		// The canonical source address is the earliest event's, by
		// event timestamp, not file order.
		if ev.SrcIP != "" {
			if prev, ok := bb.ipSetAt[ev.Session]; !ok || at.Before(prev) {
				d.SourceIP = ev.SrcIP
				bb.ipSetAt[ev.Session] = at
			}
		}
		extractFacts(bb.b, ev, at, bb.opts.RetainPasswordText)
	}
	return nil
}

func (bb *batchBuilder) full() bool {
	return bb.b != nil && len(bb.b.Events) >= bb.opts.BatchSize
}

func (bb *batchBuilder) overdue() bool {
	return bb.b != nil && bb.now().Sub(bb.lastTaken) >= bb.opts.FlushEvery
}

// take finalizes and returns the pending batch, or nil when nothing is
// queued.
func (bb *batchBuilder) take() *datastore.Batch {
	bb.lastTaken = bb.now()
	if bb.b == nil {
		return nil
	}
	b := bb.b
	sessions := make([]string, 0, len(bb.deltas))
	for sid := range bb.deltas {
		sessions = append(sessions, sid)
	}
	sort.Strings(sessions)
	for _, sid := range sessions {
		b.Sessions = append(b.Sessions, *bb.deltas[sid])
	}
	b.Checkpoint = &cowrieprocessor.Checkpoint{
		Phase:        bb.opts.Phase,
		Source:       bb.fr.path,
		SourceInode:  bb.fr.inode,
		SourceOffset: bb.lastOff,
		UpdatedAt:    bb.now(),
	}
	bb.b = nil
	bb.deltas = nil
	bb.ipSetAt = nil
	return b
}
