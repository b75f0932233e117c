package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
)

// GuildSubscriptions returns every guild notification target ordered by
// guild id. The read is a single query, so the dispatcher iterates a
// consistent point-in-time snapshot even while commands mutate the table.
func (s *Store) GuildSubscriptions(ctx context.Context) ([]circular.GuildSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT guild_id, channel_id, message FROM guild_notify ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []circular.GuildSubscription
	for rows.Next() {
		var g circular.GuildSubscription
		if err := rows.Scan(&g.GuildID, &g.ChannelID, &g.Message); err != nil {
			return nil, err
		}
		if strings.TrimSpace(g.Message) == "" {
			g.Message = circular.DefaultGuildMessage
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UserSubscriptions returns every DM opt-in in insertion order.
func (s *Store) UserSubscriptions(ctx context.Context) ([]circular.UserSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, message FROM dm_notify ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []circular.UserSubscription
	for rows.Next() {
		var u circular.UserSubscription
		if err := rows.Scan(&u.UserID, &u.Message); err != nil {
			return nil, err
		}
		if strings.TrimSpace(u.Message) == "" {
			u.Message = circular.DefaultDMMessage
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// AddGuildSubscription registers a guild's notification channel. A guild (or
// channel) that already has a row is rejected with ErrAlreadyRegistered, not
// overwritten; changing the target requires an explicit remove first.
func (s *Store) AddGuildSubscription(ctx context.Context, sub circular.GuildSubscription) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT EXISTS(SELECT 1 FROM guild_notify WHERE guild_id = ? OR channel_id = ?)`),
		sub.GuildID, sub.ChannelID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyRegistered
	}
	if strings.TrimSpace(sub.Message) == "" {
		sub.Message = circular.DefaultGuildMessage
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO guild_notify (guild_id, channel_id, message) VALUES (?, ?, ?)`),
		sub.GuildID, sub.ChannelID, sub.Message)
	return err
}

// AddUserSubscription registers a DM opt-in.
func (s *Store) AddUserSubscription(ctx context.Context, sub circular.UserSubscription) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT EXISTS(SELECT 1 FROM dm_notify WHERE user_id = ?)`),
		sub.UserID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyRegistered
	}
	if strings.TrimSpace(sub.Message) == "" {
		sub.Message = circular.DefaultDMMessage
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO dm_notify (user_id, message) VALUES (?, ?)`),
		sub.UserID, sub.Message)
	return err
}

// GetGuildSubscription looks up one guild's row.
func (s *Store) GetGuildSubscription(ctx context.Context, guildID int64) (circular.GuildSubscription, error) {
	var g circular.GuildSubscription
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT guild_id, channel_id, message FROM guild_notify WHERE guild_id = ?`),
		guildID).Scan(&g.GuildID, &g.ChannelID, &g.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return circular.GuildSubscription{}, ErrNotFound
	}
	if err != nil {
		return circular.GuildSubscription{}, err
	}
	if strings.TrimSpace(g.Message) == "" {
		g.Message = circular.DefaultGuildMessage
	}
	return g, nil
}

// GetUserSubscription looks up one user's row.
func (s *Store) GetUserSubscription(ctx context.Context, userID int64) (circular.UserSubscription, error) {
	var u circular.UserSubscription
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT user_id, message FROM dm_notify WHERE user_id = ?`),
		userID).Scan(&u.UserID, &u.Message)
	if errors.Is(err, sql.ErrNoRows) {
		return circular.UserSubscription{}, ErrNotFound
	}
	if err != nil {
		return circular.UserSubscription{}, err
	}
	if strings.TrimSpace(u.Message) == "" {
		u.Message = circular.DefaultDMMessage
	}
	return u, nil
}

// RemoveGuildSubscription deletes a guild's row. Missing rows are not an
// error: pruning may race a user-issued unsubscribe.
func (s *Store) RemoveGuildSubscription(ctx context.Context, guildID, channelID int64) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM guild_notify WHERE guild_id = ? AND channel_id = ?`),
		guildID, channelID)
	return err
}

// RemoveUserSubscription deletes a user's DM opt-in.
func (s *Store) RemoveUserSubscription(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM dm_notify WHERE user_id = ?`), userID)
	return err
}
