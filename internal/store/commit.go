package store

import "fmt"

// CommitBatch applies all buffered operations of batch within a single
// transaction and empties the batch. On error nothing is applied and the
// batch keeps its operations.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()
	if len(batch.ops) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for i, op := range batch.ops {
		if err := op(tx); err != nil {
			return fmt.Errorf("commit batch: op %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	batch.ops = nil
	return nil
}

// Commit applies the batch to the store it was created for.
func (b *BatchedStore) Commit() error {
	return b.store.CommitBatch(b)
}
