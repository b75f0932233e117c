package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

type Config struct {
	Discord DiscordConfig `json:"discord"`
	API     APIConfig     `json:"api"`
	Feed    FeedConfig    `json:"feed"`
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
	Embed   EmbedConfig   `json:"embed"`
}

type DiscordConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`

	// Statuses rotated by the presence job; empty disables the job.
	Statuses       []string `json:"statuses,omitempty"`
	StatusInterval string   `json:"status_interval,omitempty"` // Go duration string
}

// APIConfig points at the circular API. The fallback URL is tried once when
// the base host times out or refuses the connection.
type APIConfig struct {
	BaseURL     string `json:"base_url"`
	FallbackURL string `json:"fallback_url,omitempty"`
	Timeout     string `json:"timeout,omitempty"` // Go duration string, default "5s"
}

// FeedConfig controls the poll loop.
//
// All intervals are Go duration strings (e.g. "10s", "1h").
type FeedConfig struct {
	CheckInterval  string `json:"check_interval,omitempty"`  // default "1h"
	BackupInterval string `json:"backup_interval,omitempty"` // default "24h"; "0s" disables
	BackupDir      string `json:"backup_dir,omitempty"`      // default "./data/backups"

	// Categories pins the polled category list. When empty the list is
	// fetched from the API at startup.
	Categories []string `json:"categories,omitempty"`

	// MaxNewPerCycle is the flood safety valve: if one cycle discovers more
	// new circulars than this across all categories, dispatch is suppressed
	// for the whole cycle. Default 19.
	MaxNewPerCycle int `json:"max_new_per_cycle,omitempty"`

	// IgnoredCirculars are ids that are never dispatched.
	IgnoredCirculars []int `json:"ignored_circulars,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Driver values:
//   - "sqlite": Path is the database file (default "./data/data.db")
//   - "postgres": DSN is a pgx connection string
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Database LoggingDatabase `json:"database"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingDatabase mirrors warnings and errors into the logs table so
// operators can read them back without shell access to the host.
type LoggingDatabase struct {
	Enabled  bool   `json:"enabled"`
	MinLevel string `json:"min_level,omitempty"` // default "info"
	MaxRows  int    `json:"max_rows,omitempty"`  // default 10000
}

// EmbedConfig is the shared look of every notification embed.
type EmbedConfig struct {
	Title  string `json:"title,omitempty"`
	Footer string `json:"footer,omitempty"`
	Color  string `json:"color,omitempty"` // hex, e.g. "00aeff"
	URL    string `json:"url,omitempty"`
}

// Load reads, strictly decodes and validates the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(path, b)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes (JSON or YAML, by extension) with unknown-field
// rejection, applies defaults and validates.
func Parse(path string, data []byte) (*Config, error) {
	jb, _, err := coerceToJSONBytes(path, data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.Timeout == "" {
		c.API.Timeout = "5s"
	}
	if c.Feed.CheckInterval == "" {
		c.Feed.CheckInterval = "1h"
	}
	if c.Feed.BackupInterval == "" {
		c.Feed.BackupInterval = "24h"
	}
	if c.Feed.BackupDir == "" {
		c.Feed.BackupDir = "./data/backups"
	}
	if c.Feed.MaxNewPerCycle <= 0 {
		c.Feed.MaxNewPerCycle = 19
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "./data/data.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Database.MinLevel == "" {
		c.Logging.Database.MinLevel = "info"
	}
	if c.Logging.Database.MaxRows <= 0 {
		c.Logging.Database.MaxRows = 10000
	}
	if c.Discord.StatusInterval == "" {
		c.Discord.StatusInterval = "1m"
	}
	// Endpoint paths are joined by plain concatenation, so both hosts need
	// a trailing slash.
	c.API.BaseURL = ensureTrailingSlash(c.API.BaseURL)
	c.API.FallbackURL = ensureTrailingSlash(c.API.FallbackURL)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return errors.New("discord.token is required")
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("api.base_url is required")
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for _, field := range []struct{ path, raw string }{
		{"api.timeout", c.API.Timeout},
		{"feed.check_interval", c.Feed.CheckInterval},
		{"feed.backup_interval", c.Feed.BackupInterval},
		{"discord.status_interval", c.Discord.StatusInterval},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}
	return nil
}

func ensureTrailingSlash(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
