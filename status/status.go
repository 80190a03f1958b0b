// Package status writes the JSON progress documents the external monitor
// samples.
//
// Emission is lossy by design: each write atomically replaces the phase's
// document and nothing blocks on a slow or absent observer.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// Document is the stable wire shape of one phase's status. Consumers may
// add fields; producers must not remove them without a version bump.
type Document struct {
	Phase       string                      `json:"phase"`
	IngestID    string                      `json:"ingest_id,omitempty"`
	StartedAt   time.Time                   `json:"started_at,omitempty"`
	LastUpdated time.Time                   `json:"last_updated"`
	Metrics     map[string]int64            `json:"metrics"`
	Checkpoint  *cowrieprocessor.Checkpoint `json:"checkpoint,omitempty"`
	DeadLetter  *DeadLetter                 `json:"dead_letter,omitempty"`
	Sources     map[string]SourceCalls      `json:"sources,omitempty"`
}

// DeadLetter is the DLQ roll-up carried in every document.
type DeadLetter struct {
	Total      int64  `json:"total"`
	LastReason string `json:"last_reason,omitempty"`
}

// SourceCalls counts per-enrichment-source activity.
type SourceCalls struct {
	Calls    int64 `json:"calls"`
	Failures int64 `json:"failures"`
}

// Emitter writes documents under a single directory, one file per phase
// plus an aggregate status.json.
type Emitter struct {
	dir string
	now func() time.Time
}

// New returns an emitter writing under dir, creating it if needed. Pass
// nil for the wall clock.
func New(dir string, now func() time.Time) (*Emitter, error) {
	if now == nil {
		now = time.Now
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("status: creating directory: %w", err)
	}
	return &Emitter{dir: dir, now: now}, nil
}

// Write publishes the phase document. The file name is derived from the
// phase, e.g. "bulk_ingest" becomes bulk_ingest.json.
func (e *Emitter) Write(doc *Document) error {
	if doc.Phase == "" {
		return fmt.Errorf("status: document missing phase")
	}
	doc.LastUpdated = e.now().UTC()
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, strings.ToLower(doc.Phase))
	return e.publish(name+".json", doc)
}

// WriteAggregate merges every per-phase document present on disk into
// status.json. Unreadable phase documents are skipped; the aggregate
// reflects whatever is currently observable.
func (e *Emitter) WriteAggregate() error {
	ents, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("status: reading directory: %w", err)
	}
	agg := aggregate{
		Phase:       "aggregate",
		LastUpdated: e.now().UTC(),
		Phases:      map[string]*Document{},
	}
	names := make([]string, 0, len(ents))
	for _, ent := range ents {
		n := ent.Name()
		if ent.IsDir() || n == "status.json" || !strings.HasSuffix(n, ".json") {
			continue
		}
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(e.dir, n))
		if err != nil {
			continue
		}
		var d Document
		if err := json.Unmarshal(b, &d); err != nil || d.Phase == "" {
			continue
		}
		agg.Phases[d.Phase] = &d
		if d.DeadLetter != nil {
			agg.DeadLetter.Total += d.DeadLetter.Total
			if d.DeadLetter.LastReason != "" {
				agg.DeadLetter.LastReason = d.DeadLetter.LastReason
			}
		}
	}
	return e.publish("status.json", &agg)
}

type aggregate struct {
	Phase       string               `json:"phase"`
	LastUpdated time.Time            `json:"last_updated"`
	Phases      map[string]*Document `json:"phases"`
	DeadLetter  DeadLetter           `json:"dead_letter"`
}

// publish writes to a temp file and renames into place so observers never
// read a torn document.
func (e *Emitter) publish(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("status: encoding %s: %w", name, err)
	}
	f, err := os.CreateTemp(e.dir, ".tmp.*")
	if err != nil {
		return fmt.Errorf("status: creating temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("status: writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("status: closing %s: %w", name, err)
	}
	if err := os.Rename(tmp, filepath.Join(e.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("status: publishing %s: %w", name, err)
	}
	return nil
}
