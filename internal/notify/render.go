// Package notify renders circulars into message pages and fans them out to
// every registered destination.
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
	"github.com/BPS-Circular-API/discord-bot/internal/platform"
)

// maxPages is the platform's cap on rich-media attachments per message.
const maxPages = 4

// EmbedStyle is the shared look of every notification.
type EmbedStyle struct {
	Title  string // author line, e.g. "BPS Circular Bot"
	Footer string
	Color  int
	URL    string
}

// ParseColor reads a hex color like "00aeff"; bad input falls back to def.
func ParseColor(hex string, def int) int {
	s := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 16, 32)
	if err != nil {
		return def
	}
	return int(v)
}

type Renderer struct {
	style EmbedStyle
}

func NewRenderer(style EmbedStyle) *Renderer {
	return &Renderer{style: style}
}

// Render builds the page sequence for one circular. Page 1 carries the
// category, title, link and first preview image; pages 2-4 one further image
// each. Extra images beyond the page cap become a note on page 1 pointing at
// the link.
//
// The returned pages are rendered once per circular and shared across
// destinations: the dispatcher writes each subscription's custom message
// into pages[0].Description immediately before the send.
func (r *Renderer) Render(category string, item circular.Circular, previewImages []string) []platform.Page {
	first := platform.Page{
		Title:      "New Circular | " + capitalize(category),
		FieldName:  fmt.Sprintf("%s | %s", capitalize(category), item.Title),
		FieldValue: item.Link,
		Footer:     r.style.Footer,
		Author:     r.style.Title,
		Color:      r.style.Color,
		URL:        r.style.URL,
	}
	if len(previewImages) > 0 {
		first.ImageURL = previewImages[0]
	}
	if len(previewImages) > maxPages {
		first.NoteName = "Note"
		first.NoteValue = fmt.Sprintf(
			"This circular has %d more pages. Please visit the [link](%s) to view them.",
			len(previewImages)-maxPages, item.Link)
	}

	pages := []platform.Page{first}
	for i := 1; i < len(previewImages) && i < maxPages; i++ {
		pages = append(pages, platform.Page{
			ImageURL: previewImages[i],
			Color:    r.style.Color,
			URL:      r.style.URL,
		})
	}
	return pages
}

// Notice is the explanation posted to a fallback channel before the
// notification itself, when the configured channel rejects the bot.
func (r *Renderer) Notice() []platform.Page {
	return []platform.Page{{
		Title: "Error!",
		Description: "Please make sure that I have the permission to send " +
			"messages in the channel you set for notifications.",
		Footer: r.style.Footer,
		Author: r.style.Title,
		Color:  r.style.Color,
	}}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
