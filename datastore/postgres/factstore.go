package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// UpdateBreachStatus records the outcome of a breach-corpus check for a
// credential.
func (s *Store) UpdateBreachStatus(ctx context.Context, passwordHash string, breached bool, prevalence int64, at time.Time) error {
	const query = `
UPDATE password_tracking
SET breached             = $2,
	breach_prevalence    = $3,
	last_breach_check_at = $4
WHERE password_hash = $1;
`
	if _, err := s.pool.Exec(ctx, query, passwordHash, breached, prevalence, at); err != nil {
		return fmt.Errorf("failed to update breach status: %w", err)
	}
	return nil
}

// UpdateFileAnalysis attaches a reputation verdict to a file artifact and
// flags every session the file was seen in when the verdict is bad.
func (s *Store) UpdateFileAnalysis(ctx context.Context, sha256 string, analysis json.RawMessage, flagged bool, at time.Time) error {
	const (
		update = `
UPDATE file_artifacts
SET vt_analysis   = $2,
	vt_flagged    = $3,
	vt_checked_at = $4
WHERE sha256 = $1;
`
		flagSessions = `
UPDATE session_summaries
SET vt_flagged = true
WHERE session_id IN (SELECT session_id FROM file_usage WHERE sha256 = $1);
`
	)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store:updateFileAnalysis failed to create transaction: %w", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, update, sha256, analysis, flagged, at); err != nil {
		return fmt.Errorf("failed to update file analysis: %w", err)
	}
	if flagged {
		if _, err := tx.Exec(ctx, flagSessions, sha256); err != nil {
			return fmt.Errorf("failed to flag sessions for %q: %w", sha256, err)
		}
	}
	return tx.Commit(ctx)
}

// PasswordsNeedingBreachCheck pages through credentials never checked, or
// last checked before the cutoff. Never-checked credentials sort first.
func (s *Store) PasswordsNeedingBreachCheck(ctx context.Context, checkedBefore time.Time, limit int) ([]cowrieprocessor.PasswordTracking, error) {
	const query = `
SELECT password_hash, password_text, first_seen, last_seen, times_seen,
	unique_sessions, breached, breach_prevalence, last_breach_check_at
FROM password_tracking
WHERE last_breach_check_at IS NULL
   OR last_breach_check_at < $1
ORDER BY last_breach_check_at NULLS FIRST, password_hash
LIMIT $2;
`
	rows, err := s.pool.Query(ctx, query, checkedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unchecked passwords: %w", err)
	}
	defer rows.Close()
	var out []cowrieprocessor.PasswordTracking
	for rows.Next() {
		var p cowrieprocessor.PasswordTracking
		err := rows.Scan(
			&p.PasswordHash, &p.PasswordText, &p.FirstSeen, &p.LastSeen, &p.TimesSeen,
			&p.UniqueSessions, &p.Breached, &p.BreachPrevalence, &p.LastBreachCheckAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan password tracking row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// FilesNeedingAnalysis pages through artifacts with no stored analysis,
// newest first.
func (s *Store) FilesNeedingAnalysis(ctx context.Context, limit int) ([]cowrieprocessor.FileArtifact, error) {
	const query = `
SELECT sha256, first_seen, last_seen, size, url_samples, vt_flagged
FROM file_artifacts
WHERE vt_analysis IS NULL
ORDER BY last_seen DESC
LIMIT $1;
`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unanalyzed files: %w", err)
	}
	defer rows.Close()
	var out []cowrieprocessor.FileArtifact
	for rows.Next() {
		var f cowrieprocessor.FileArtifact
		if err := rows.Scan(&f.SHA256, &f.FirstSeen, &f.LastSeen, &f.Size, &f.URLSamples, &f.VTFlagged); err != nil {
			return nil, fmt.Errorf("failed to scan file artifact row: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
