package storage

import (
	"context"
	"time"

	"github.com/BPS-Circular-API/discord-bot/internal/logging"
)

// AppendLog implements logging.Sink. Runs outside any request context since
// the logger has none to give.
func (s *Store) AppendLog(e logging.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO logs (at, level, message) VALUES (?, ?, ?)`),
		e.At.UTC().Format(time.RFC3339), e.Level, e.Message)
	return err
}

// RecentLogs returns the newest limit rows, optionally filtered by level.
func (s *Store) RecentLogs(ctx context.Context, level string, limit int) ([]logging.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT at, level, message FROM logs ORDER BY at DESC LIMIT ?`
	args := []any{limit}
	if level != "" {
		query = `SELECT at, level, message FROM logs WHERE level = ? ORDER BY at DESC LIMIT ?`
		args = []any{level, limit}
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []logging.Entry
	for rows.Next() {
		var (
			e  logging.Entry
			at string
		)
		if err := rows.Scan(&at, &e.Level, &e.Message); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneLogs keeps the logs table bounded to maxRows, dropping oldest first.
func (s *Store) PruneLogs(ctx context.Context, maxRows int) error {
	if maxRows <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM logs WHERE at NOT IN
		          (SELECT at FROM logs ORDER BY at DESC LIMIT ?)`),
		maxRows)
	return err
}
