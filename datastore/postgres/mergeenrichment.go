package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MergeEnrichment merges a JSON document into a session's enrichment
// column. Existing keys win on conflict, so a refresh never clobbers
// detail attached by an earlier, richer pass.
func (s *Store) MergeEnrichment(ctx context.Context, sessionID string, doc json.RawMessage, at time.Time) error {
	const query = `
UPDATE session_summaries
SET enrichment    = $2::jsonb || COALESCE(enrichment, '{}'::jsonb),
	enrichment_at = COALESCE(enrichment_at, $3)
WHERE session_id = $1;
`
	if _, err := s.pool.Exec(ctx, query, sessionID, doc, at); err != nil {
		return fmt.Errorf("failed to merge enrichment for session %q: %w", sessionID, err)
	}
	return nil
}
