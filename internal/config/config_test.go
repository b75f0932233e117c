package config

import (
	"strings"
	"testing"
)

const minimalYAML = `
discord:
  token: "abc123"
api:
  base_url: "https://api.example.org"
storage:
  driver: sqlite
logging:
  level: info
  console: true
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Parse("config.yaml", []byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Feed.CheckInterval != "1h" {
		t.Fatalf("check_interval default = %q, want 1h", cfg.Feed.CheckInterval)
	}
	if cfg.Feed.MaxNewPerCycle != 19 {
		t.Fatalf("max_new_per_cycle default = %d, want 19", cfg.Feed.MaxNewPerCycle)
	}
	if cfg.Storage.Path != "./data/data.db" {
		t.Fatalf("sqlite path default = %q", cfg.Storage.Path)
	}
	if !strings.HasSuffix(cfg.API.BaseURL, "/") {
		t.Fatalf("base URL not normalized: %q", cfg.API.BaseURL)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	raw := minimalYAML + "\nbogus_section:\n  x: 1\n"
	if _, err := Parse("config.yaml", []byte(raw)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		edit func(c string) string
	}{
		{"missing token", func(c string) string { return strings.Replace(c, `token: "abc123"`, `token: ""`, 1) }},
		{"missing base url", func(c string) string { return strings.Replace(c, `base_url: "https://api.example.org"`, `base_url: ""`, 1) }},
		{"unknown driver", func(c string) string { return strings.Replace(c, "driver: sqlite", "driver: mongodb", 1) }},
		{"postgres without dsn", func(c string) string { return strings.Replace(c, "driver: sqlite", "driver: postgres", 1) }},
		{"bad interval", func(c string) string { return c + "feed:\n  check_interval: \"soon\"\n" }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Parse("config.yaml", []byte(tt.edit(minimalYAML))); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	raw := `{"discord":{"token":"t"},"api":{"base_url":"https://x/"},"storage":{"driver":"sqlite"},"logging":{"level":"debug","console":true,"file":{"enabled":false},"database":{"enabled":false}},"feed":{"categories":["ptm","general","exam"]},"embed":{}}`
	cfg, err := Parse("config.json", []byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Feed.Categories) != 3 {
		t.Fatalf("categories = %v", cfg.Feed.Categories)
	}
}
