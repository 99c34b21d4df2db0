package store

import (
	"context"
	"fmt"
)

// RunRetention deletes expired keys and returns how many were removed.
func (s *Store) RunRetention(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?",
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired keys: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug().Int64("deleted", n).Msg("retention removed expired keys")
	}
	return int(n), nil
}
