package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	cowrieprocessor "github.com/datagen24/cowrieprocessor-sub005"
)

// GetCheckpoint returns the stored progress for a (phase, source) pair,
// or nil when the pair has never committed.
func (s *Store) GetCheckpoint(ctx context.Context, phase, source string) (*cowrieprocessor.Checkpoint, error) {
	const query = `
SELECT phase, source, source_inode, source_offset, updated_at
FROM ingest_checkpoints
WHERE phase = $1
  AND source = $2;
`
	var cp cowrieprocessor.Checkpoint
	err := s.pool.QueryRow(ctx, query, phase, source).Scan(
		&cp.Phase, &cp.Source, &cp.SourceInode, &cp.SourceOffset, &cp.UpdatedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to retrieve checkpoint %s/%s: %w", phase, source, err)
	}
	return &cp, nil
}
