// Package microbatch batches pgx statements so that multi-million-row
// ingests spend round-trips on batches instead of single inserts.
package microbatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Insert creates batches limited by the configured batch size.
type Insert struct {
	// a transaction to send the batch on
	tx pgx.Tx
	// the current batch holding queued inserts.
	currBatch *pgx.Batch
	// the size we flush a batch
	batchSize int
	// the current queued inserts
	currQueue int
	// the total number of statements queued over the batcher's lifetime
	total int
	// rows reported affected by executed statements
	affected int64
	// the timeout specified for a batch operation
	timeout time.Duration
}

// NewInsert returns a new micro batcher sending batches on the provided
// transaction.
func NewInsert(tx pgx.Tx, batchSize int, timeout time.Duration) *Insert {
	if timeout == 0 {
		timeout = time.Minute
	}
	return &Insert{
		tx:        tx,
		batchSize: batchSize,
		timeout:   timeout,
	}
}

// Queue enqueues a query and its arguments into a batch.
//
// When Queue is called all queued inserts may be sent if the configured
// batch size is reached.
func (v *Insert) Queue(ctx context.Context, query string, args ...any) error {
	if v.currQueue == v.batchSize {
		if err := v.sendBatch(ctx); err != nil {
			return fmt.Errorf("failed to flush batch while queueing: %w", err)
		}
		v.currQueue = 0
	}

	v.currQueue++
	v.total++

	if v.currBatch == nil {
		v.currBatch = &pgx.Batch{}
	}

	v.currBatch.Queue(query, args...)
	return nil
}

// Total reports how many statements have been queued since creation.
func (v *Insert) Total() int {
	return v.total
}

// Affected reports the rows affected by all statements executed so far.
// With ON CONFLICT DO NOTHING inserts the difference between Total and
// Affected is the duplicate count. Only meaningful after Done.
func (v *Insert) Affected() int64 {
	return v.affected
}

// Done submits any remaining queued inserts.
//
// Done MUST be called once the caller has queued all statements to ensure
// the final partial batch is flushed.
func (v *Insert) Done(ctx context.Context) error {
	if v.currQueue == 0 {
		return nil
	}

	tctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	res := v.tx.SendBatch(tctx, v.currBatch)
	defer res.Close()
	for i := 0; i < v.currQueue; i++ {
		tag, err := res.Exec()
		if err != nil {
			return fmt.Errorf("failed in exec iteration %d, %w", i, err)
		}
		v.affected += tag.RowsAffected()
	}
	return nil
}

// sendBatch is called from Queue when the batchSize threshold is reached.
func (v *Insert) sendBatch(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	res := v.tx.SendBatch(tctx, v.currBatch)
	defer res.Close()
	// on exit set currBatch to nil, a new one will be created when needed
	defer func() {
		v.currBatch = nil
	}()
	for i := 0; i < v.batchSize; i++ {
		tag, err := res.Exec()
		if err != nil {
			return err
		}
		v.affected += tag.RowsAffected()
	}
	return nil
}
