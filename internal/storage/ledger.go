package storage

import (
	"context"
	"database/sql"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
)

// AppendDelivery records one successfully delivered notification message.
func (s *Store) AppendDelivery(ctx context.Context, rec circular.DeliveryRecord) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO notif_msgs (circular_id, type, msg_id, channel_id, guild_id)
		          VALUES (?, ?, ?, ?, ?)`),
		rec.CircularID, string(rec.Type), rec.MessageID,
		nullInt64(rec.ChannelID), nullInt64(rec.GuildID))
	return err
}

// DeliveriesByCircular returns every recorded message for a circular,
// ordered by message id (Discord snowflakes sort chronologically).
func (s *Store) DeliveriesByCircular(ctx context.Context, circularID int) ([]circular.DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT circular_id, type, msg_id, channel_id, guild_id
		          FROM notif_msgs WHERE circular_id = ? ORDER BY msg_id`),
		circularID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []circular.DeliveryRecord
	for rows.Next() {
		var (
			rec                struct{ typ string }
			r                  circular.DeliveryRecord
			channelID, guildID sql.NullInt64
		)
		if err := rows.Scan(&r.CircularID, &rec.typ, &r.MessageID, &channelID, &guildID); err != nil {
			return nil, err
		}
		r.Type = circular.DestinationType(rec.typ)
		r.ChannelID = channelID.Int64
		r.GuildID = guildID.Int64
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteDelivery drops one ledger row, used when its message turns out to be
// gone during bulk maintenance.
func (s *Store) DeleteDelivery(ctx context.Context, messageID int64) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM notif_msgs WHERE msg_id = ?`), messageID)
	return err
}

// DeleteDeliveriesByCircular drops every ledger row for a circular after a
// bulk delete.
func (s *Store) DeleteDeliveriesByCircular(ctx context.Context, circularID int) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM notif_msgs WHERE circular_id = ?`), circularID)
	return err
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
