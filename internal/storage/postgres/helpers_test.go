package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every recollect table. It lives in
// the postgres package so the postgres_test package can reach the
// unexported db field.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "TRUNCATE TABLE memory_documents, memories, chunks, documents, spaces CASCADE")
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
