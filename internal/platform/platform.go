// Package platform defines the narrow surface the engine needs from a chat
// platform. The dispatcher and maintenance code are written against these
// interfaces only; everything Discord-specific lives in the adapter below
// this package.
package platform

import (
	"context"
	"errors"
)

// Failure classification for resolve/send operations. Adapters map their
// SDK's errors onto these two sentinels; anything else passes through
// unwrapped and is treated as unclassified by callers.
var (
	// ErrNotFound: the guild, channel, user or message no longer exists.
	ErrNotFound = errors.New("platform: not found")

	// ErrForbidden: the entity exists but the bot may not touch it
	// (missing permission, closed DMs).
	ErrForbidden = errors.New("platform: forbidden")
)

func IsNotFound(err error) bool  { return errors.Is(err, ErrNotFound) }
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

type Guild struct {
	ID   int64
	Name string
}

type Channel struct {
	ID      int64
	GuildID int64
	Name    string
}

type User struct {
	ID       int64
	Username string
}

// Page is one rich message unit (a Discord embed). A notification is an
// ordered page sequence sent as a single message.
type Page struct {
	Title       string
	Description string
	FieldName   string // "Category | Title" line on the first page
	FieldValue  string // the circular link
	NoteName    string // optional overflow note
	NoteValue   string
	ImageURL    string
	Footer      string
	Author      string
	Color       int
	URL         string
}

// MessageRef points at a previously sent message. Exactly one of ChannelID
// and UserID is set; DM messages are addressed through the recipient because
// DM channel ids are not stable across sessions.
type MessageRef struct {
	ChannelID int64
	UserID    int64
	MessageID int64
}

// Client is the engine's view of the chat platform.
type Client interface {
	ResolveGuild(ctx context.Context, guildID int64) (Guild, error)
	ResolveChannel(ctx context.Context, channelID int64) (Channel, error)
	GuildChannels(ctx context.Context, guildID int64) ([]Channel, error)
	ResolveUser(ctx context.Context, userID int64) (User, error)

	SendToChannel(ctx context.Context, channelID int64, pages []Page) (messageID int64, err error)
	SendDM(ctx context.Context, userID int64, pages []Page) (messageID int64, err error)

	EditMessage(ctx context.Context, ref MessageRef, pages []Page) error
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

// StatusSetter is an optional capability for presence rotation.
type StatusSetter interface {
	SetStatus(ctx context.Context, status string) error
}
