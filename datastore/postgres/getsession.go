package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// GetSession returns the stored aggregate for a session, or nil when the
// session is unknown.
func (s *Store) GetSession(ctx context.Context, id string) (*cowrieprocessor.SessionSummary, error) {
	const query = `
SELECT session_id, first_event_at, last_event_at, event_count, command_count,
	login_attempts, file_downloads, ssh_key_injections, unique_ssh_keys,
	vt_flagged, dshield_flagged, risk_score, matcher, source_files, enrichment,
	source_ip, snapshot_asn, snapshot_country, snapshot_ip_type, enrichment_at
FROM session_summaries
WHERE session_id = $1;
`
	var ss cowrieprocessor.SessionSummary
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&ss.SessionID, &ss.FirstEventAt, &ss.LastEventAt, &ss.EventCount, &ss.CommandCount,
		&ss.LoginAttempts, &ss.FileDownloads, &ss.SSHKeyInjections, &ss.UniqueSSHKeys,
		&ss.VTFlagged, &ss.DShieldFlagged, &ss.RiskScore, &ss.Matcher, &ss.SourceFiles, &ss.Enrichment,
		&ss.SourceIP, &ss.SnapshotASN, &ss.SnapshotCountry, &ss.SnapshotIPType, &ss.EnrichmentAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to retrieve session %q: %w", id, err)
	}
	return &ss, nil
}
