package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
	"github.com/BPS-Circular-API/discord-bot/internal/platform"
)

// LedgerReader is the ledger surface the maintenance operations consume.
type LedgerReader interface {
	DeliveriesByCircular(ctx context.Context, circularID int) ([]circular.DeliveryRecord, error)
	DeleteDelivery(ctx context.Context, messageID int64) error
	DeleteDeliveriesByCircular(ctx context.Context, circularID int) error
}

// Maintainer performs bulk operations over every message recorded for a
// circular: refreshing preview images, appending a developer note, or
// deleting the messages outright. Operators reach it through the owner
// commands.
type Maintainer struct {
	client   platform.Client
	ledger   LedgerReader
	registry Registry
	preview  Previewer
	renderer *Renderer
	log      zerolog.Logger
}

func NewMaintainer(client platform.Client, ledger LedgerReader, registry Registry, preview Previewer, renderer *Renderer, log zerolog.Logger) *Maintainer {
	return &Maintainer{client: client, ledger: ledger, registry: registry, preview: preview, renderer: renderer, log: log}
}

// RefreshImages re-renders a circular's preview pages and edits every
// recorded message to match. devNote, when non-empty, is appended to the
// first page as a "Message from the Developer" field. Records whose message
// turns out to be gone are dropped from the ledger.
//
// The per-destination custom message cannot be read back from the platform,
// so the description is restored from the current subscription row (or the
// default when the subscription is gone).
func (m *Maintainer) RefreshImages(ctx context.Context, category string, item circular.Circular, devNote string) (updated int, err error) {
	records, err := m.ledger.DeliveriesByCircular(ctx, item.ID)
	if err != nil {
		return 0, fmt.Errorf("ledger lookup for circular %d: %w", item.ID, err)
	}

	images, err := m.preview.PreviewImages(ctx, item.Link)
	if err != nil {
		return 0, fmt.Errorf("render previews for circular %d: %w", item.ID, err)
	}
	base := m.renderer.Render(category, item, images)

	for _, rec := range records {
		pages := make([]platform.Page, len(base))
		copy(pages, base)
		pages[0].Description = m.descriptionFor(ctx, rec)
		if devNote != "" {
			pages[0].NoteName = "Message from the Developer"
			pages[0].NoteValue = devNote
		}

		if err := m.client.EditMessage(ctx, recordRef(rec), pages); err != nil {
			if platform.IsNotFound(err) || platform.IsForbidden(err) {
				m.log.Warn().Int64("msg", rec.MessageID).Msg("recorded message unreachable; dropping ledger row")
				_ = m.ledger.DeleteDelivery(ctx, rec.MessageID)
				continue
			}
			m.log.Error().Err(err).Int64("msg", rec.MessageID).Msg("edit failed")
			continue
		}
		updated++
	}
	return updated, nil
}

// DeleteAll deletes every recorded message for a circular and clears its
// ledger rows. Messages already gone are treated as deleted.
func (m *Maintainer) DeleteAll(ctx context.Context, circularID int) (deleted int, err error) {
	records, err := m.ledger.DeliveriesByCircular(ctx, circularID)
	if err != nil {
		return 0, fmt.Errorf("ledger lookup for circular %d: %w", circularID, err)
	}

	for _, rec := range records {
		if err := m.client.DeleteMessage(ctx, recordRef(rec)); err != nil && !platform.IsNotFound(err) {
			m.log.Error().Err(err).Int64("msg", rec.MessageID).Msg("delete failed")
			continue
		}
		deleted++
	}
	if err := m.ledger.DeleteDeliveriesByCircular(ctx, circularID); err != nil {
		return deleted, fmt.Errorf("clear ledger for circular %d: %w", circularID, err)
	}
	return deleted, nil
}

func (m *Maintainer) descriptionFor(ctx context.Context, rec circular.DeliveryRecord) string {
	switch rec.Type {
	case circular.DestGuild:
		if sub, err := m.registry.GetGuildSubscription(ctx, rec.GuildID); err == nil {
			return sub.Message
		}
		return circular.DefaultGuildMessage
	default:
		if sub, err := m.registry.GetUserSubscription(ctx, rec.ChannelID); err == nil {
			return sub.Message
		}
		return circular.DefaultDMMessage
	}
}

// recordRef maps a ledger row onto a message reference. DM rows store the
// recipient's user id in the channel column, matching the table layout.
func recordRef(rec circular.DeliveryRecord) platform.MessageRef {
	if rec.Type == circular.DestDM {
		return platform.MessageRef{UserID: rec.ChannelID, MessageID: rec.MessageID}
	}
	return platform.MessageRef{ChannelID: rec.ChannelID, MessageID: rec.MessageID}
}
