package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"conclave/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Deck.TargetSize != 100 || cfg.Deck.TotalLands != 37 {
		t.Fatalf("deck defaults: %+v", cfg.Deck)
	}
	if cfg.Voting.Strategy != "borda" {
		t.Fatalf("voting strategy = %q", cfg.Voting.Strategy)
	}
	if len(cfg.Agents) == 0 {
		t.Fatal("default config has no agents")
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fallback config invalid: %v", err)
	}
}

func TestLoadPartialFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	partial := "deck:\n  target_size: 60\nvoting:\n  strategy: majority\n"
	if err := os.WriteFile(config.Path(dir), []byte(partial), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Deck.TargetSize != 60 {
		t.Fatalf("target_size = %d", cfg.Deck.TargetSize)
	}
	if cfg.Voting.Strategy != "majority" {
		t.Fatalf("strategy = %q", cfg.Voting.Strategy)
	}
	// untouched keys keep their defaults
	if cfg.Deck.TotalLands != 37 {
		t.Fatalf("total_lands = %d", cfg.Deck.TotalLands)
	}
	if len(cfg.Agents) == 0 {
		t.Fatal("agents lost in merge")
	}
}

func TestFromYAMLRejectsUnknownFields(t *testing.T) {
	_, err := config.FromYAML([]byte("deck:\n  target_siez: 60\n"))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestFromYAMLRejectsNegativeSignalWeight(t *testing.T) {
	_, err := config.FromYAML([]byte("scoring:\n  signals:\n    embedding_similarity: -5.0\n"))
	if err == nil {
		t.Fatal("expected signal weight error")
	}
	if !strings.Contains(err.Error(), "embedding_similarity") {
		t.Fatalf("error %q does not name the signal", err)
	}
}

func TestWithOverrides(t *testing.T) {
	base := config.Default()
	cfg, err := base.WithOverrides(map[string]any{
		"deck":   map[string]any{"target_size": 40},
		"voting": map[string]any{"top_k": 10},
	})
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if cfg.Deck.TargetSize != 40 || cfg.Voting.TopK != 10 {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Deck, cfg.Voting)
	}
	if cfg.Deck.TotalLands != base.Deck.TotalLands {
		t.Fatalf("sibling key clobbered: %d", cfg.Deck.TotalLands)
	}
	if base.Deck.TargetSize != 100 {
		t.Fatalf("base mutated: %d", base.Deck.TargetSize)
	}
}

func TestWithOverridesEmptyReturnsSame(t *testing.T) {
	base := config.Default()
	cfg, err := base.WithOverrides(nil)
	if err != nil {
		t.Fatalf("overrides: %v", err)
	}
	if cfg != base {
		t.Fatal("empty overrides should return the receiver")
	}
}

func TestWithOverridesRejectsInvalid(t *testing.T) {
	base := config.Default()
	if _, err := base.WithOverrides(map[string]any{"deck": map[string]any{"target_size": 1}}); err == nil {
		t.Fatal("expected validation error for target_size 1")
	}
	if _, err := base.WithOverrides(map[string]any{"dekc": map[string]any{}}); err == nil {
		t.Fatal("expected unknown key error")
	}
}

func TestValidateFailures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad voting strategy", func(c *config.Config) { c.Voting.Strategy = "plurality" }, "voting strategy"},
		{"alpha too high", func(c *config.Config) { c.Deck.Alpha = 1.0 }, "alpha"},
		{"no agents", func(c *config.Config) { c.Agents = nil }, "at least one agent"},
		{"duplicate agent id", func(c *config.Config) { c.Agents = append(c.Agents, c.Agents[0]) }, "duplicate agent id"},
		{"unknown agent type", func(c *config.Config) { c.Agents[0].Type = "oracle" }, "unknown type"},
		{"unknown routed agent", func(c *config.Config) { c.Routing.AgentIDs = []string{"ghost"} }, "unknown agent"},
		{"debate without adjudicator", func(c *config.Config) { c.Routing.Strategy = "debate" }, "debate_adjudicator_id"},
		{"unknown gated role", func(c *config.Config) {
			min := 5
			c.Scoring.RoleGate.Minimums = map[string]*int{"mana-rocks": &min}
		}, "unknown role"},
		{"zero timeout", func(c *config.Config) { c.Routing.AgentTimeoutSeconds = 0 }, "agent_timeout_seconds"},
		{"negative signal weight", func(c *config.Config) { c.Scoring.Signals.EmbeddingSimilarity = -5.0 }, "scoring.signals.embedding_similarity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestRoutedAgents(t *testing.T) {
	cfg := config.Default()
	if got := len(cfg.RoutedAgents()); got != len(cfg.Agents) {
		t.Fatalf("empty agent_ids should route all agents, got %d", got)
	}
	cfg.Routing.AgentIDs = []string{cfg.Agents[1].ID, cfg.Agents[0].ID}
	routed := cfg.RoutedAgents()
	if len(routed) != 2 || routed[0].ID != cfg.Agents[1].ID {
		t.Fatalf("routing order not honored: %+v", routed)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conclave.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated config invalid: %v", err)
	}
}
