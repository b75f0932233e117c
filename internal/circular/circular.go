// Package circular holds the domain types shared by the feed, renderer and
// dispatcher layers.
package circular

import "fmt"

// Circular is one published document as the upstream API reports it.
//
// Identity is ID alone. Title and link are informational: the upstream
// occasionally rewrites links when its index is rebuilt, and that must not
// make an old circular look new.
type Circular struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Link  string `json:"link"`
}

func (c Circular) String() string {
	return fmt.Sprintf("[%d] %s", c.ID, c.Title)
}

// ContainsID reports whether list has a circular with the given id.
func ContainsID(list []Circular, id int) bool {
	for _, c := range list {
		if c.ID == id {
			return true
		}
	}
	return false
}

// DestinationType distinguishes ledger rows for guild channels from DMs.
type DestinationType string

const (
	DestGuild DestinationType = "guild"
	DestDM    DestinationType = "dm"
)

// GuildSubscription is one community's notification target.
type GuildSubscription struct {
	GuildID   int64
	ChannelID int64
	Message   string
}

// UserSubscription is one individual's DM opt-in.
type UserSubscription struct {
	UserID  int64
	Message string
}

// DeliveryRecord remembers where a notification message for a circular ended
// up, so it can be edited or deleted later in bulk.
type DeliveryRecord struct {
	CircularID int
	Type       DestinationType
	MessageID  int64
	ChannelID  int64
	GuildID    int64
}

// Default custom messages, used when a subscription row carries none.
const (
	DefaultGuildMessage = "There's a new circular up on the website!"
	DefaultDMMessage    = "A new Circular was just posted on the website!"
)
