package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"conclave/internal/roles"
	"conclave/internal/scoring"
)

// Config models conclave.yml: the operator-facing council configuration.
type Config struct {
	Version int        `yaml:"version"`
	Deck    DeckConfig `yaml:"deck"`
	Voting  Voting     `yaml:"voting"`
	Routing Routing    `yaml:"routing"`
	Scoring Scoring    `yaml:"scoring"`
	LLM     LLM        `yaml:"llm"`
	Agents  []Agent    `yaml:"agents"`
	// TaxonomyPath optionally replaces the built-in archetype set.
	TaxonomyPath string `yaml:"taxonomy_path"`
}

type DeckConfig struct {
	TargetSize int     `yaml:"target_size"`
	TotalLands int     `yaml:"total_lands"`
	Alpha      float64 `yaml:"alpha"`
}

type Voting struct {
	Strategy string `yaml:"strategy"` // borda or majority
	TopK     int    `yaml:"top_k"`
}

type Routing struct {
	Strategy            string   `yaml:"strategy"` // parallel, sequential, debate
	AgentIDs            []string `yaml:"agent_ids"`
	DebateAdjudicatorID string   `yaml:"debate_adjudicator_id"`
	AgentTimeoutSeconds int      `yaml:"agent_timeout_seconds"`
	MaxRetries          int      `yaml:"max_retries"`
	RetryBaseDelayMS    int      `yaml:"retry_base_delay_ms"`
}

type Scoring struct {
	Signals  scoring.SignalWeights `yaml:"signals"`
	RoleGate RoleGate              `yaml:"role_gate"`
}

type RoleGate struct {
	// Minimums ship empty: role gating is an explicit operator opt-in.
	Minimums  map[string]*int `yaml:"minimums"`
	Decrement float64         `yaml:"decrement"`
	Floor     float64         `yaml:"floor"`
}

type LLM struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	APIKeyEnv      string `yaml:"api_key_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// RefineIdentity lets the model propose a replacement identity after
	// deterministic extraction, clamped to the baseline.
	RefineIdentity bool `yaml:"refine_identity"`
}

type Agent struct {
	ID          string       `yaml:"id"`
	Type        string       `yaml:"type"` // heuristic, scoring, or llm
	DisplayName string       `yaml:"display_name"`
	Weight      float64      `yaml:"weight"`
	Model       string       `yaml:"model"`
	Temperature float64      `yaml:"temperature"`
	// SelfQuery lets an llm agent expand its candidate pool with its own
	// structured search queries before ranking.
	SelfQuery   bool         `yaml:"self_query"`
	Preferences Preferences  `yaml:"preferences"`
	Context     AgentContext `yaml:"context"`
}

type Preferences struct {
	ThemeWeight      float64  `yaml:"theme_weight"`
	EfficiencyWeight float64  `yaml:"efficiency_weight"`
	BudgetWeight     float64  `yaml:"budget_weight"`
	PriceCapUSD      *float64 `yaml:"price_cap_usd"`
}

type AgentContext struct {
	Budget  ContextBudget  `yaml:"budget"`
	Filters ContextFilters `yaml:"filters"`
}

type ContextBudget struct {
	MaxDeckCards            int `yaml:"max_deck_cards"`
	MaxCandidates           int `yaml:"max_candidates"`
	MaxCommanderTextChars   int `yaml:"max_commander_text_chars"`
	MaxCandidateOracleChars int `yaml:"max_candidate_oracle_chars"`
}

type ContextFilters struct {
	IncludeCommanderText     bool `yaml:"include_commander_text"`
	IncludeDeckCards         bool `yaml:"include_deck_cards"`
	IncludeCandidateOracle   bool `yaml:"include_candidate_oracle"`
	IncludeCandidateTypeLine bool `yaml:"include_candidate_type_line"`
	IncludeCandidateCMC      bool `yaml:"include_candidate_cmc"`
	IncludeCandidatePrice    bool `yaml:"include_candidate_price"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "conclave.yml")
}

// Load reads and validates config from the workspace, falling back to the
// default configuration when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes. The bytes are
// merged over the default template so partial files stay valid.
func FromYAML(data []byte) (*Config, error) {
	merged, err := mergeYAML([]byte(defaultTemplate), data)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// WithOverrides deep-merges request overrides over this config. Only the
// leaf keys present in the override document are replaced; unknown keys
// are rejected before a run starts.
func (c *Config) WithOverrides(overrides map[string]any) (*Config, error) {
	if len(overrides) == 0 {
		return c, nil
	}
	base, err := yaml.Marshal(c)
	if err != nil {
		return nil, err
	}
	over, err := yaml.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("encode overrides: %w", err)
	}
	merged, err := mergeYAML(base, over)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(merged)
	if err != nil {
		return nil, fmt.Errorf("invalid override: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid override: %w", err)
	}
	return cfg, nil
}

func decodeStrict(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return &cfg, nil
}

// mergeYAML recursively merges the incoming document over the base.
// Mappings merge per key; everything else (including lists) replaces.
func mergeYAML(base, incoming []byte) ([]byte, error) {
	var baseDoc, inDoc map[string]any
	if err := yaml.Unmarshal(base, &baseDoc); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := yaml.Unmarshal(incoming, &inDoc); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return yaml.Marshal(deepMerge(baseDoc, inDoc))
}

func deepMerge(base, incoming map[string]any) map[string]any {
	merged := map[string]any{}
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range incoming {
		inMap, inOK := v.(map[string]any)
		baseMap, baseOK := merged[k].(map[string]any)
		if inOK && baseOK {
			merged[k] = deepMerge(baseMap, inMap)
			continue
		}
		merged[k] = v
	}
	return merged
}

// Validate ensures the configuration can drive a run. Violations here are
// fatal before any agent call is made.
func (c *Config) Validate() error {
	if c.Deck.TargetSize <= 1 {
		return fmt.Errorf("config.deck.target_size must be at least 2")
	}
	if c.Deck.Alpha <= 0 || c.Deck.Alpha >= 1 {
		return fmt.Errorf("config.deck.alpha must be in (0,1)")
	}
	switch c.Voting.Strategy {
	case "borda", "majority":
	default:
		return fmt.Errorf("unknown voting strategy %q", c.Voting.Strategy)
	}
	if c.Voting.TopK <= 0 {
		return fmt.Errorf("config.voting.top_k must be positive")
	}
	switch c.Routing.Strategy {
	case "parallel", "sequential", "debate":
	default:
		return fmt.Errorf("unknown routing strategy %q", c.Routing.Strategy)
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config.agents must list at least one agent")
	}
	ids := map[string]bool{}
	for i, agent := range c.Agents {
		if agent.ID == "" {
			return fmt.Errorf("agent %d has no id", i)
		}
		if ids[agent.ID] {
			return fmt.Errorf("duplicate agent id %q", agent.ID)
		}
		ids[agent.ID] = true
		switch agent.Type {
		case "heuristic", "scoring", "llm":
		default:
			return fmt.Errorf("agent %s has unknown type %q", agent.ID, agent.Type)
		}
		if agent.Weight < 0 {
			return fmt.Errorf("agent %s weight must not be negative", agent.ID)
		}
	}
	for _, id := range c.Routing.AgentIDs {
		if !ids[id] {
			return fmt.Errorf("routing references unknown agent %q", id)
		}
	}
	if c.Routing.Strategy == "debate" {
		adj := c.Routing.DebateAdjudicatorID
		if adj == "" {
			return fmt.Errorf("debate routing requires debate_adjudicator_id")
		}
		if !ids[adj] {
			return fmt.Errorf("debate adjudicator %q is not a configured agent", adj)
		}
	}
	signals := map[string]float64{
		"embedding_similarity": c.Scoring.Signals.EmbeddingSimilarity,
		"archetype_match":      c.Scoring.Signals.ArchetypeMatch,
		"keyword_overlap":      c.Scoring.Signals.KeywordOverlap,
		"learned_synergy":      c.Scoring.Signals.LearnedSynergy,
	}
	for name, w := range signals {
		if w < 0 {
			return fmt.Errorf("scoring.signals.%s must not be negative", name)
		}
	}
	for role := range c.Scoring.RoleGate.Minimums {
		if !roles.Known(role) {
			return fmt.Errorf("role_gate.minimums references unknown role %q", role)
		}
	}
	if c.Scoring.RoleGate.Decrement < 0 || c.Scoring.RoleGate.Decrement > 1 {
		return fmt.Errorf("role_gate.decrement must be in [0,1]")
	}
	if c.Scoring.RoleGate.Floor < 0 || c.Scoring.RoleGate.Floor > 1 {
		return fmt.Errorf("role_gate.floor must be in [0,1]")
	}
	if c.Routing.AgentTimeoutSeconds <= 0 {
		return fmt.Errorf("routing.agent_timeout_seconds must be positive")
	}
	if c.Routing.MaxRetries < 0 {
		return fmt.Errorf("routing.max_retries must not be negative")
	}
	return nil
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := decodeStrict([]byte(defaultTemplate))
	if err != nil {
		panic(err)
	}
	return cfg
}

// GenerateDefault returns the default config YAML for `cv init`.
func GenerateDefault() string {
	return defaultTemplate
}

// Agent returns the agent config with the given id.
func (c *Config) Agent(id string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// RoutedAgents resolves routing.agent_ids against the agent list, keeping
// declaration order. An empty id list routes every configured agent.
func (c *Config) RoutedAgents() []Agent {
	if len(c.Routing.AgentIDs) == 0 {
		return c.Agents
	}
	var out []Agent
	for _, id := range c.Routing.AgentIDs {
		if a, ok := c.Agent(id); ok {
			out = append(out, a)
		}
	}
	return out
}

const defaultTemplate = `version: 1

deck:
  target_size: 100
  total_lands: 37
  alpha: 0.1

voting:
  strategy: borda
  top_k: 25

routing:
  strategy: parallel
  agent_ids: []
  debate_adjudicator_id: ""
  agent_timeout_seconds: 30
  max_retries: 2
  retry_base_delay_ms: 250

scoring:
  signals:
    embedding_similarity: 0.25
    archetype_match: 0.35
    keyword_overlap: 0.20
    learned_synergy: 0.20
  role_gate:
    # No minimums are enforced by default. Opt in per deployment, e.g.:
    #   lands: 35
    #   ramp: 10
    #   draw: 8
    #   removal: 6
    #   wincons: 3
    minimums: {}
    decrement: 0.1
    floor: 0.5

llm:
  base_url: https://api.openai.com/v1
  model: gpt-4o-mini
  api_key_env: OPENAI_API_KEY
  timeout_seconds: 30
  refine_identity: false

agents:
  - id: heuristic-core
    type: heuristic
    display_name: Core Heuristic
    weight: 1.0
    temperature: 0.3
    preferences:
      theme_weight: 0.5
      efficiency_weight: 0.25
      budget_weight: 0.25
      price_cap_usd: null
    context:
      budget:
        max_deck_cards: 40
        max_candidates: 60
        max_commander_text_chars: 1200
        max_candidate_oracle_chars: 600
      filters:
        include_commander_text: true
        include_deck_cards: true
        include_candidate_oracle: true
        include_candidate_type_line: true
        include_candidate_cmc: true
        include_candidate_price: true
  - id: scoring-core
    type: scoring
    display_name: Blended Scorer
    weight: 1.0
    temperature: 0.3
    preferences:
      theme_weight: 0.5
      efficiency_weight: 0.25
      budget_weight: 0.25
      price_cap_usd: null
    context:
      budget:
        max_deck_cards: 40
        max_candidates: 60
        max_commander_text_chars: 1200
        max_candidate_oracle_chars: 600
      filters:
        include_commander_text: true
        include_deck_cards: true
        include_candidate_oracle: true
        include_candidate_type_line: true
        include_candidate_cmc: true
        include_candidate_price: true
  - id: llm-theme
    type: llm
    display_name: Theme Advocate
    weight: 1.0
    temperature: 0.3
    self_query: true
    preferences:
      theme_weight: 0.7
      efficiency_weight: 0.15
      budget_weight: 0.15
      price_cap_usd: null
    context:
      budget:
        max_deck_cards: 40
        max_candidates: 60
        max_commander_text_chars: 1200
        max_candidate_oracle_chars: 600
      filters:
        include_commander_text: true
        include_deck_cards: true
        include_candidate_oracle: true
        include_candidate_type_line: true
        include_candidate_cmc: true
        include_candidate_price: true
  - id: llm-budget
    type: llm
    display_name: Budget Advocate
    weight: 1.0
    temperature: 0.3
    preferences:
      theme_weight: 0.25
      efficiency_weight: 0.25
      budget_weight: 0.5
      price_cap_usd: 20
    context:
      budget:
        max_deck_cards: 40
        max_candidates: 60
        max_commander_text_chars: 1200
        max_candidate_oracle_chars: 600
      filters:
        include_commander_text: true
        include_deck_cards: true
        include_candidate_oracle: true
        include_candidate_type_line: true
        include_candidate_cmc: true
        include_candidate_price: true

taxonomy_path: ""
`
