// Package discord adapts the discordgo session to the platform surface the
// engine consumes. All snowflake ids cross this boundary as int64.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/BPS-Circular-API/discord-bot/internal/platform"
)

type Adapter struct {
	session *discordgo.Session
	log     zerolog.Logger

	// DM channel ids are not stable across sessions, so they are resolved
	// per recipient and cached for the lifetime of this adapter.
	dmMu sync.Mutex
	dm   map[int64]string
}

func New(token string, log zerolog.Logger) (*Adapter, error) {
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	return &Adapter{session: s, log: log, dm: map[int64]string{}}, nil
}

// Start opens the gateway connection. The REST surface works without it,
// but presence updates and the guild cache need a live gateway.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	a.log.Info().Str("user", a.session.State.User.Username).Msg("gateway connected")
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.log.Info().Msg("closing gateway")
	return a.session.Close()
}

func (a *Adapter) ResolveGuild(ctx context.Context, guildID int64) (platform.Guild, error) {
	g, err := a.session.Guild(formatID(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return platform.Guild{}, classify(err, "guild %d", guildID)
	}
	return platform.Guild{ID: guildID, Name: g.Name}, nil
}

func (a *Adapter) ResolveChannel(ctx context.Context, channelID int64) (platform.Channel, error) {
	ch, err := a.session.Channel(formatID(channelID), discordgo.WithContext(ctx))
	if err != nil {
		return platform.Channel{}, classify(err, "channel %d", channelID)
	}
	return platform.Channel{ID: channelID, GuildID: parseID(ch.GuildID), Name: ch.Name}, nil
}

// GuildChannels returns the guild's text channels only. Callers scanning for
// an alternative delivery channel must not try voice or category channels.
func (a *Adapter) GuildChannels(ctx context.Context, guildID int64) ([]platform.Channel, error) {
	chans, err := a.session.GuildChannels(formatID(guildID), discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err, "guild %d channels", guildID)
	}
	out := make([]platform.Channel, 0, len(chans))
	for _, ch := range chans {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, platform.Channel{ID: parseID(ch.ID), GuildID: guildID, Name: ch.Name})
	}
	return out, nil
}

func (a *Adapter) ResolveUser(ctx context.Context, userID int64) (platform.User, error) {
	u, err := a.session.User(formatID(userID), discordgo.WithContext(ctx))
	if err != nil {
		return platform.User{}, classify(err, "user %d", userID)
	}
	return platform.User{ID: userID, Username: u.Username}, nil
}

func (a *Adapter) SendToChannel(ctx context.Context, channelID int64, pages []platform.Page) (int64, error) {
	msg, err := a.session.ChannelMessageSendComplex(formatID(channelID), &discordgo.MessageSend{
		Embeds: toEmbeds(pages),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, classify(err, "send to channel %d", channelID)
	}
	return parseID(msg.ID), nil
}

func (a *Adapter) SendDM(ctx context.Context, userID int64, pages []platform.Page) (int64, error) {
	chID, err := a.dmChannel(ctx, userID)
	if err != nil {
		return 0, err
	}
	msg, err := a.session.ChannelMessageSendComplex(chID, &discordgo.MessageSend{
		Embeds: toEmbeds(pages),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return 0, classify(err, "dm user %d", userID)
	}
	return parseID(msg.ID), nil
}

func (a *Adapter) EditMessage(ctx context.Context, ref platform.MessageRef, pages []platform.Page) error {
	chID, err := a.refChannel(ctx, ref)
	if err != nil {
		return err
	}
	_, err = a.session.ChannelMessageEditEmbeds(chID, formatID(ref.MessageID), toEmbeds(pages), discordgo.WithContext(ctx))
	if err != nil {
		return classify(err, "edit message %d", ref.MessageID)
	}
	return nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref platform.MessageRef) error {
	chID, err := a.refChannel(ctx, ref)
	if err != nil {
		return err
	}
	if err := a.session.ChannelMessageDelete(chID, formatID(ref.MessageID), discordgo.WithContext(ctx)); err != nil {
		return classify(err, "delete message %d", ref.MessageID)
	}
	return nil
}

// SetStatus updates the bot's presence line. Requires a live gateway.
func (a *Adapter) SetStatus(ctx context.Context, status string) error {
	return a.session.UpdateCustomStatus(status)
}

func (a *Adapter) refChannel(ctx context.Context, ref platform.MessageRef) (string, error) {
	if ref.UserID != 0 {
		return a.dmChannel(ctx, ref.UserID)
	}
	return formatID(ref.ChannelID), nil
}

func (a *Adapter) dmChannel(ctx context.Context, userID int64) (string, error) {
	a.dmMu.Lock()
	if id, ok := a.dm[userID]; ok {
		a.dmMu.Unlock()
		return id, nil
	}
	a.dmMu.Unlock()

	ch, err := a.session.UserChannelCreate(formatID(userID), discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err, "open dm with user %d", userID)
	}

	a.dmMu.Lock()
	a.dm[userID] = ch.ID
	a.dmMu.Unlock()
	return ch.ID, nil
}

// classify maps discordgo REST failures onto the engine's two sentinels.
// Anything that is not a clear 403/404 passes through unclassified.
func classify(err error, format string, args ...any) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf(format+": %w", append(args, platform.ErrNotFound)...)
		case http.StatusForbidden:
			return fmt.Errorf(format+": %w", append(args, platform.ErrForbidden)...)
		}
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf(format+": %w", append(args, platform.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

func toEmbeds(pages []platform.Page) []*discordgo.MessageEmbed {
	embeds := make([]*discordgo.MessageEmbed, 0, len(pages))
	for _, p := range pages {
		e := &discordgo.MessageEmbed{
			Title:       p.Title,
			URL:         p.URL,
			Description: p.Description,
			Color:       p.Color,
		}
		if p.FieldName != "" {
			e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: p.FieldName, Value: p.FieldValue})
		}
		if p.NoteName != "" {
			e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: p.NoteName, Value: p.NoteValue})
		}
		if p.ImageURL != "" {
			e.Image = &discordgo.MessageEmbedImage{URL: p.ImageURL}
		}
		if p.Footer != "" {
			e.Footer = &discordgo.MessageEmbedFooter{Text: p.Footer}
		}
		if p.Author != "" {
			e.Author = &discordgo.MessageEmbedAuthor{Name: p.Author}
		}
		embeds = append(embeds, e)
	}
	return embeds
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}
