package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
)

// Snapshot returns the last-seen circular list for a category. ok is false
// when no snapshot exists yet (cold start for that category).
func (s *Store) Snapshot(ctx context.Context, category string) ([]circular.Circular, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT items FROM feed_snapshot WHERE category = ?`),
		category).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var items []circular.Circular
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, false, err
	}
	return items, true, nil
}

// PutSnapshot replaces the stored list for a category. The list is replaced,
// never merged, matching the upstream's own retention window.
func (s *Store) PutSnapshot(ctx context.Context, category string, items []circular.Circular) error {
	if items == nil {
		items = []circular.Circular{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO feed_snapshot (category, items) VALUES (?, ?)
		          ON CONFLICT(category) DO UPDATE SET items = excluded.items`),
		category, string(b))
	return err
}
