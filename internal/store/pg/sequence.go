package pg

import (
	"context"
	"database/sql"
	"fmt"

	"sidra.tn/internal/sequence"
)

type CounterStore struct {
	db *sql.DB
}

var _ sequence.CounterStore = (*CounterStore)(nil)

// Next atomically increments the partition counter with an
// upsert-returning statement. Serialization failures surface as
// sequence.ErrConflict so the allocator retries.
func (s *CounterStore) Next(ctx context.Context, partition string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		insert into sequence_counters (partition, value)
		values ($1, 1)
		on conflict (partition)
		do update set value = sequence_counters.value + 1
		returning value
	`, partition).Scan(&value)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrSerializationFailure {
			return 0, fmt.Errorf("%w: partition %s", sequence.ErrConflict, partition)
		}
		return 0, err
	}
	return value, nil
}
