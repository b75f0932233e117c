package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
	"github.com/BPS-Circular-API/discord-bot/internal/platform"
)

// Registry is the slice of the storage layer holding subscriptions.
type Registry interface {
	GuildSubscriptions(ctx context.Context) ([]circular.GuildSubscription, error)
	UserSubscriptions(ctx context.Context) ([]circular.UserSubscription, error)
	GetGuildSubscription(ctx context.Context, guildID int64) (circular.GuildSubscription, error)
	GetUserSubscription(ctx context.Context, userID int64) (circular.UserSubscription, error)
	RemoveGuildSubscription(ctx context.Context, guildID, channelID int64) error
	RemoveUserSubscription(ctx context.Context, userID int64) error
}

// Ledger records where each notification landed.
type Ledger interface {
	AppendDelivery(ctx context.Context, rec circular.DeliveryRecord) error
}

// Previewer renders a circular's document into preview image URLs.
type Previewer interface {
	PreviewImages(ctx context.Context, link string) ([]string, error)
}

// Scope narrows a dispatch to one destination kind.
type Scope int

const (
	ScopeAll Scope = iota
	ScopeGuildsOnly
	ScopeUsersOnly
)

// Summary is what one Notify call accomplished.
type Summary struct {
	GuildsNotified int
	UsersNotified  int
	GuildsPruned   int
	UsersPruned    int
	Failed         int
}

type DispatcherConfig struct {
	// RatePerSec bounds outbound sends; Discord rate-limits aggressively
	// and retry-after handling in the SDK is best not leaned on. Default 5.
	RatePerSec int
}

// Dispatcher fans a circular out to every registered destination.
//
// Every per-destination failure is classified and handled locally; nothing a
// single destination does can abort the rest of a dispatch.
type Dispatcher struct {
	cfg      DispatcherConfig
	client   platform.Client
	registry Registry
	ledger   Ledger
	preview  Previewer
	renderer *Renderer
	limiter  *rate.Limiter
	log      zerolog.Logger
}

func NewDispatcher(
	cfg DispatcherConfig,
	client platform.Client,
	registry Registry,
	ledger Ledger,
	preview Previewer,
	renderer *Renderer,
	log zerolog.Logger,
) *Dispatcher {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return &Dispatcher{
		cfg:      cfg,
		client:   client,
		registry: registry,
		ledger:   ledger,
		preview:  preview,
		renderer: renderer,
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
		log:      log,
	}
}

// Notify delivers a circular to all registered destinations.
func (d *Dispatcher) Notify(ctx context.Context, category string, item circular.Circular) (Summary, error) {
	return d.NotifyScoped(ctx, category, item, ScopeAll)
}

// NotifyScoped is Notify limited to guilds or DMs; operators use it for
// manual redelivery to one destination class.
func (d *Dispatcher) NotifyScoped(ctx context.Context, category string, item circular.Circular, scope Scope) (Summary, error) {
	pages := d.renderPages(ctx, category, item)

	var sum Summary
	if scope != ScopeUsersOnly {
		subs, err := d.registry.GuildSubscriptions(ctx)
		if err != nil {
			return sum, fmt.Errorf("list guild subscriptions: %w", err)
		}
		for _, sub := range subs {
			d.notifyGuild(ctx, pages, sub, item.ID, &sum)
		}
	}
	if scope != ScopeGuildsOnly {
		subs, err := d.registry.UserSubscriptions(ctx)
		if err != nil {
			return sum, fmt.Errorf("list user subscriptions: %w", err)
		}
		for _, sub := range subs {
			d.notifyUser(ctx, pages, sub, item.ID, &sum)
		}
	}

	d.log.Info().
		Int("circular", item.ID).
		Str("category", category).
		Int("guilds", sum.GuildsNotified).
		Int("users", sum.UsersNotified).
		Int("pruned_guilds", sum.GuildsPruned).
		Int("pruned_users", sum.UsersPruned).
		Int("failed", sum.Failed).
		Msg("circular dispatched")
	return sum, nil
}

// Target selects a single destination for NotifyTarget. Exactly one field is
// set.
type Target struct {
	GuildID int64
	UserID  int64
}

// NotifyTarget is the operator-triggered single-destination redelivery used
// to test a configuration. Unlike the fan-out path it never prunes: a
// failure is returned to the operator instead.
func (d *Dispatcher) NotifyTarget(ctx context.Context, category string, item circular.Circular, target Target) error {
	pages := d.renderPages(ctx, category, item)

	switch {
	case target.GuildID != 0:
		sub, err := d.registry.GetGuildSubscription(ctx, target.GuildID)
		if err != nil {
			return fmt.Errorf("guild %d: %w", target.GuildID, err)
		}
		pages[0].Description = sub.Message
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		msgID, err := d.client.SendToChannel(ctx, sub.ChannelID, pages)
		if err != nil {
			return fmt.Errorf("send to channel %d: %w", sub.ChannelID, err)
		}
		return d.record(ctx, circular.DeliveryRecord{
			CircularID: item.ID, Type: circular.DestGuild, MessageID: msgID,
			ChannelID: sub.ChannelID, GuildID: sub.GuildID,
		})
	case target.UserID != 0:
		sub, err := d.registry.GetUserSubscription(ctx, target.UserID)
		if err != nil {
			return fmt.Errorf("user %d: %w", target.UserID, err)
		}
		pages[0].Description = sub.Message
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		msgID, err := d.client.SendDM(ctx, sub.UserID, pages)
		if err != nil {
			return fmt.Errorf("dm user %d: %w", sub.UserID, err)
		}
		return d.record(ctx, circular.DeliveryRecord{
			CircularID: item.ID, Type: circular.DestDM, MessageID: msgID,
			ChannelID: sub.UserID,
		})
	default:
		return errors.New("notify target: no destination given")
	}
}

// renderPages renders once per circular. A preview failure downgrades to an
// imageless notification rather than skipping the circular.
func (d *Dispatcher) renderPages(ctx context.Context, category string, item circular.Circular) []platform.Page {
	images, err := d.preview.PreviewImages(ctx, item.Link)
	if err != nil {
		d.log.Warn().Err(err).Int("circular", item.ID).Msg("preview render failed; sending without images")
		images = nil
	}
	return d.renderer.Render(category, item, images)
}

func (d *Dispatcher) notifyGuild(ctx context.Context, pages []platform.Page, sub circular.GuildSubscription, circularID int, sum *Summary) {
	logger := d.log.With().Int64("guild", sub.GuildID).Int64("channel", sub.ChannelID).Int("circular", circularID).Logger()

	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	if _, err := d.client.ResolveGuild(ctx, sub.GuildID); err != nil {
		switch {
		case platform.IsNotFound(err):
			logger.Warn().Msg("guild gone (kicked or deleted); removing subscription")
			d.pruneGuild(ctx, sub, sum)
		case platform.IsForbidden(err):
			// Forbidden at the guild level means the bot lost the guild
			// itself, not one channel. Nothing will ever deliver here.
			logger.Warn().Msg("guild access forbidden; removing subscription")
			d.pruneGuild(ctx, sub, sum)
		default:
			logger.Error().Err(err).Msg("guild resolve failed")
			sum.Failed++
		}
		return
	}

	if _, err := d.client.ResolveChannel(ctx, sub.ChannelID); err != nil {
		switch {
		case platform.IsNotFound(err):
			logger.Warn().Msg("channel deleted; removing subscription")
			d.pruneGuild(ctx, sub, sum)
		case platform.IsForbidden(err):
			// The channel still exists; permissions may come back.
			logger.Warn().Msg("no permission to resolve channel; keeping subscription")
			sum.Failed++
		default:
			logger.Error().Err(err).Msg("channel resolve failed")
			sum.Failed++
		}
		return
	}

	pages[0].Description = sub.Message
	msgID, err := d.client.SendToChannel(ctx, sub.ChannelID, pages)
	if err == nil {
		if d.record(ctx, circular.DeliveryRecord{
			CircularID: circularID, Type: circular.DestGuild, MessageID: msgID,
			ChannelID: sub.ChannelID, GuildID: sub.GuildID,
		}) == nil {
			logger.Debug().Int64("msg", msgID).Msg("circular sent to guild channel")
		}
		sum.GuildsNotified++
		return
	}

	switch {
	case platform.IsForbidden(err):
		// Valid configuration, missing post permission. Try the guild's
		// other channels with an explanatory notice; never prune for this.
		if d.sendViaFallback(ctx, logger, pages, sub, circularID, sum) {
			return
		}
		logger.Warn().Msg("no postable channel found; will retry on the next circular")
		sum.Failed++
	case platform.IsNotFound(err):
		logger.Warn().Msg("channel vanished during send; removing subscription")
		d.pruneGuild(ctx, sub, sum)
	default:
		logger.Error().Err(err).Msg("send failed")
		sum.Failed++
	}
}

// sendViaFallback scans the guild's channels for one that accepts both the
// notice and the notification. Reports whether delivery succeeded.
func (d *Dispatcher) sendViaFallback(ctx context.Context, logger zerolog.Logger, pages []platform.Page, sub circular.GuildSubscription, circularID int, sum *Summary) bool {
	channels, err := d.client.GuildChannels(ctx, sub.GuildID)
	if err != nil {
		logger.Warn().Err(err).Msg("cannot list channels for fallback")
		return false
	}
	for _, ch := range channels {
		if ch.ID == sub.ChannelID {
			continue
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return false
		}
		if _, err := d.client.SendToChannel(ctx, ch.ID, d.renderer.Notice()); err != nil {
			continue
		}
		msgID, err := d.client.SendToChannel(ctx, ch.ID, pages)
		if err != nil {
			continue
		}
		logger.Info().Int64("fallback_channel", ch.ID).Msg("circular sent via fallback channel")
		_ = d.record(ctx, circular.DeliveryRecord{
			CircularID: circularID, Type: circular.DestGuild, MessageID: msgID,
			ChannelID: ch.ID, GuildID: sub.GuildID,
		})
		sum.GuildsNotified++
		return true
	}
	return false
}

func (d *Dispatcher) notifyUser(ctx context.Context, pages []platform.Page, sub circular.UserSubscription, circularID int, sum *Summary) {
	logger := d.log.With().Int64("user", sub.UserID).Int("circular", circularID).Logger()

	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	if _, err := d.client.ResolveUser(ctx, sub.UserID); err != nil {
		if platform.IsNotFound(err) {
			logger.Warn().Msg("user no longer exists; removing subscription")
			d.pruneUser(ctx, sub, sum)
			return
		}
		logger.Error().Err(err).Msg("user resolve failed")
		sum.Failed++
		return
	}

	pages[0].Description = sub.Message
	msgID, err := d.client.SendDM(ctx, sub.UserID, pages)
	switch {
	case err == nil:
		_ = d.record(ctx, circular.DeliveryRecord{
			CircularID: circularID, Type: circular.DestDM, MessageID: msgID,
			ChannelID: sub.UserID,
		})
		sum.UsersNotified++
	case platform.IsForbidden(err):
		// Closed DMs are terminal: the user opted out platform-side and the
		// bot has no way to reach them again.
		logger.Warn().Msg("DMs closed; removing subscription")
		d.pruneUser(ctx, sub, sum)
	case platform.IsNotFound(err):
		logger.Warn().Msg("user vanished during send; removing subscription")
		d.pruneUser(ctx, sub, sum)
	default:
		logger.Error().Err(err).Msg("DM send failed")
		sum.Failed++
	}
}

func (d *Dispatcher) pruneGuild(ctx context.Context, sub circular.GuildSubscription, sum *Summary) {
	if err := d.registry.RemoveGuildSubscription(ctx, sub.GuildID, sub.ChannelID); err != nil {
		d.log.Error().Err(err).Int64("guild", sub.GuildID).Msg("prune failed")
		return
	}
	sum.GuildsPruned++
}

func (d *Dispatcher) pruneUser(ctx context.Context, sub circular.UserSubscription, sum *Summary) {
	if err := d.registry.RemoveUserSubscription(ctx, sub.UserID); err != nil {
		d.log.Error().Err(err).Int64("user", sub.UserID).Msg("prune failed")
		return
	}
	sum.UsersPruned++
}

func (d *Dispatcher) record(ctx context.Context, rec circular.DeliveryRecord) error {
	if err := d.ledger.AppendDelivery(ctx, rec); err != nil {
		d.log.Error().Err(err).Int64("msg", rec.MessageID).Msg("ledger write failed")
		return err
	}
	return nil
}
