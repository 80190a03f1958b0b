package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/quay/zlog"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// fakeFacts is an in-memory FactStore.
type fakeFacts struct {
	pws     []cowrieprocessor.PasswordTracking
	files   []cowrieprocessor.FileArtifact
	queries int
}

func (f *fakeFacts) PasswordsNeedingBreachCheck(_ context.Context, checkedBefore time.Time, limit int) ([]cowrieprocessor.PasswordTracking, error) {
	f.queries++
	var out []cowrieprocessor.PasswordTracking
	for _, pw := range f.pws {
		if pw.LastBreachCheckAt == nil || pw.LastBreachCheckAt.Before(checkedBefore) {
			out = append(out, pw)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFacts) UpdateBreachStatus(_ context.Context, hash string, breached bool, prevalence int64, at time.Time) error {
	for i := range f.pws {
		if f.pws[i].PasswordHash == hash {
			f.pws[i].Breached = &breached
			f.pws[i].BreachPrevalence = &prevalence
			t := at
			f.pws[i].LastBreachCheckAt = &t
		}
	}
	return nil
}

func (f *fakeFacts) FilesNeedingAnalysis(_ context.Context, limit int) ([]cowrieprocessor.FileArtifact, error) {
	var out []cowrieprocessor.FileArtifact
	for _, fa := range f.files {
		if fa.VTAnalysis == nil {
			out = append(out, fa)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFacts) UpdateFileAnalysis(_ context.Context, sha256 string, analysis json.RawMessage, flagged bool, at time.Time) error {
	for i := range f.files {
		if f.files[i].SHA256 == sha256 {
			f.files[i].VTAnalysis = analysis
			f.files[i].VTFlagged = flagged
		}
	}
	return nil
}

func TestRefreshPasswords(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	nowf := func() time.Time { return now }

	t.Run("HashOnlyPageTerminates", func(t *testing.T) {
		ctx := zlog.Test(context.Background(), t)
		// A full page of rows without retained cleartext comes back
		// verbatim on every query; the sweep has to notice it made no
		// progress and stop.
		facts := &fakeFacts{pws: []cowrieprocessor.PasswordTracking{
			{PasswordHash: "h1"},
			{PasswordHash: "h2"},
		}}
		breach := &fakeSource{svc: cowrieprocessor.ServiceBreach}
		c := NewCascade(newFakeInventory(), nil, nil, 0, nowf)
		r := NewRefresher(c, facts, breach, nil, nowf)

		stats, err := r.RefreshPasswords(ctx, time.Hour, 2)
		if err != nil {
			t.Fatal(err)
		}
		if facts.queries != 1 {
			t.Errorf("sweep re-queried an unprogressable page: %d queries", facts.queries)
		}
		if stats.Scanned != 2 || stats.Refreshed != 0 {
			t.Errorf("stats: %+v", stats)
		}
		if breach.calls != 0 {
			t.Errorf("breach consulted without cleartext: %d calls", breach.calls)
		}
	})

	t.Run("RetainedTextChecked", func(t *testing.T) {
		ctx := zlog.Test(context.Background(), t)
		facts := &fakeFacts{pws: []cowrieprocessor.PasswordTracking{
			{PasswordHash: cowrieprocessor.CacheKeyHash("123456"), PasswordText: "123456"},
		}}
		flagged := true
		prevalence := int64(42)
		breach := &fakeSource{
			svc: cowrieprocessor.ServiceBreach,
			results: map[string]*Result{
				"123456": {Flagged: &flagged, Prevalence: &prevalence, Status: cowrieprocessor.StatusSuccess},
			},
		}
		c := NewCascade(newFakeInventory(), nil, nil, 0, nowf)
		r := NewRefresher(c, facts, breach, nil, nowf)

		stats, err := r.RefreshPasswords(ctx, time.Hour, 10)
		if err != nil {
			t.Fatal(err)
		}
		if stats.Refreshed != 1 {
			t.Fatalf("stats: %+v", stats)
		}
		pw := facts.pws[0]
		if pw.Breached == nil || !*pw.Breached || pw.BreachPrevalence == nil || *pw.BreachPrevalence != 42 {
			t.Errorf("breach status not recorded: %+v", pw)
		}
		if pw.LastBreachCheckAt == nil || !pw.LastBreachCheckAt.Equal(now) {
			t.Errorf("check time not stamped: %+v", pw.LastBreachCheckAt)
		}
	})
}
