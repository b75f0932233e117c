// Package feed talks to the circular API and turns its answers into new-item
// notifications via the poller.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/BPS-Circular-API/discord-bot/internal/circular"
)

// ClientConfig points the client at the API hosts.
type ClientConfig struct {
	BaseURL     string // with trailing slash
	FallbackURL string // optional mirror, same layout
	Timeout     time.Duration
}

// Client is a thin JSON client for the circular API. Every response is an
// envelope {"data": ...}. When the primary host times out or refuses, the
// same request is retried once against the fallback host.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  zerolog.Logger
}

func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	err := c.getFrom(ctx, c.cfg.BaseURL, path, params, out)
	if err == nil || c.cfg.FallbackURL == "" {
		return err
	}
	c.log.Warn().Err(err).Str("path", path).Msg("primary API failed; trying fallback")
	if ferr := c.getFrom(ctx, c.cfg.FallbackURL, path, params, out); ferr != nil {
		c.log.Error().Err(ferr).Str("path", path).Msg("fallback API failed too")
		return err
	}
	return nil
}

func (c *Client) getFrom(ctx context.Context, base, path string, params url.Values, out any) error {
	u := base + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api %s: status %d", path, resp.StatusCode)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("api %s: decode: %w", path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("api %s: decode data: %w", path, err)
	}
	return nil
}

// Categories returns the category names the API currently serves.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var cats []string
	if err := c.get(ctx, "categories", nil, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// List returns every circular of a category, as the API orders them.
func (c *Client) List(ctx context.Context, category string) ([]circular.Circular, error) {
	var items []circular.Circular
	if err := c.get(ctx, "list/"+url.PathEscape(category), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Latest returns the newest circular of a category.
func (c *Client) Latest(ctx context.Context, category string) (circular.Circular, error) {
	var item circular.Circular
	if err := c.get(ctx, "latest/"+url.PathEscape(category), nil, &item); err != nil {
		return circular.Circular{}, err
	}
	return item, nil
}

// PreviewImages renders the document behind link into one image URL per page.
func (c *Client) PreviewImages(ctx context.Context, link string) ([]string, error) {
	params := url.Values{"url": {link}}
	var urls []string
	if err := c.get(ctx, "getpng", params, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

// Search looks up circulars by title or id.
func (c *Client) Search(ctx context.Context, query string, amount int) ([]circular.Circular, error) {
	if amount <= 0 {
		amount = 3
	}
	params := url.Values{"query": {query}, "amount": {strconv.Itoa(amount)}}
	var items []circular.Circular
	if err := c.get(ctx, "search", params, &items); err != nil {
		return nil, err
	}
	return items, nil
}
