package council

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"conclave/internal/config"
	"conclave/internal/domain"
	"conclave/internal/roles"
)

// ChatClient talks to an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// NewChatClient builds a client from the llm config block. The caller
// resolves the API key, typically from the configured environment variable.
func NewChatClient(cfg config.LLM, apiKey string) *ChatClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatClient{
		BaseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		APIKey:  apiKey,
		Timeout: timeout,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ErrNoAPIKey means the client cannot authenticate; LLM agents degrade to
// empty opinions rather than failing the round.
var ErrNoAPIKey = errors.New("llm api key not configured")

// Complete performs one chat call. Rate limits and upstream 5xx come back
// wrapped as transient so the router retries them with backoff.
func (c *ChatClient) Complete(ctx context.Context, model string, temperature float64, system, user string) (string, error) {
	if c.APIKey == "" {
		return "", ErrNoAPIKey
	}
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", Transient(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transient(err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", Transient(fmt.Errorf("llm status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// LLMAgent ranks candidates by asking a language model for a strict JSON
// array of card names. Every response is untrusted: entries that are not
// valid candidate names are dropped silently, and unparseable output
// degrades to an empty opinion.
type LLMAgent struct {
	AgentID     string
	AgentWeight float64
	Model       string
	Temperature float64
	Preferences config.Preferences
	Context     config.AgentContext
	Client      *ChatClient
	// SelfQuery expands the candidate pool with the agent's own search
	// queries before ranking; Search executes one such query.
	SelfQuery bool
	Search    SearchFunc
}

// SearchFunc runs one structured pool search on behalf of an agent.
// Results must already be color-identity legal and deduplicated against
// the current deck.
type SearchFunc func(ctx context.Context, q domain.SearchQuery, limit int) ([]domain.Card, error)

// searchLimit caps the pool rows one self-query may pull in.
const searchLimit = 50

// NewLLMAgent builds the LLM-backed agent variant from config.
func NewLLMAgent(cfg config.Agent, llmCfg config.LLM, client *ChatClient, search SearchFunc) *LLMAgent {
	model := cfg.Model
	if model == "" {
		model = llmCfg.Model
	}
	return &LLMAgent{
		AgentID:     cfg.ID,
		AgentWeight: cfg.Weight,
		Model:       model,
		Temperature: cfg.Temperature,
		Preferences: cfg.Preferences,
		Context:     cfg.Context,
		Client:      client,
		SelfQuery:   cfg.SelfQuery,
		Search:      search,
	}
}

func (a *LLMAgent) ID() string      { return a.AgentID }
func (a *LLMAgent) Weight() float64 { return a.AgentWeight }

func (a *LLMAgent) Rank(ctx context.Context, task Task) (domain.AgentOpinion, error) {
	if err := ValidateTask(task); err != nil {
		return emptyOpinion(a.AgentID, a.AgentWeight, false), nil
	}
	if a.SelfQuery && a.Search != nil {
		task.Candidates = a.expandCandidates(ctx, task)
	}
	system, user := a.buildPrompt(task)
	content, err := a.Client.Complete(ctx, a.Model, a.Temperature, system, user)
	if errors.Is(err, ErrNoAPIKey) {
		return emptyOpinion(a.AgentID, a.AgentWeight, false), nil
	}
	if err != nil {
		return emptyOpinion(a.AgentID, a.AgentWeight, true), err
	}
	valid := candidateNames(task.Candidates)
	var ranked []string
	for _, name := range ParseRankedNames(content) {
		if valid[name] {
			ranked = append(ranked, name)
		}
	}
	if ranked == nil {
		ranked = []string{}
	}
	return domain.AgentOpinion{AgentID: a.AgentID, Ranked: ranked, Weight: a.AgentWeight}, nil
}

// expandCandidates asks the model for structured pool searches and merges
// the hits into the task's candidate list. Any failure along the way
// leaves the original candidates untouched.
func (a *LLMAgent) expandCandidates(ctx context.Context, task Task) []domain.Card {
	system := "You produce structured search queries for Commander deckbuilding. " +
		"Return ONLY a JSON array of search objects, with no extra text. " +
		"Each object must use these keys: oracle_contains (list), type_contains (list), " +
		"cmc_min (number or null), cmc_max (number or null), colors (list)."

	deckCtx := BuildDeckContext(task.AgentTask, a.Context)
	var b strings.Builder
	fmt.Fprintf(&b, "Commander: %s\n", deckCtx.CommanderName)
	fmt.Fprintf(&b, "Commander text: %s\n", deckCtx.CommanderText)
	fmt.Fprintf(&b, "Deck so far: %s\n", strings.Join(deckCtx.DeckCards, ", "))
	fmt.Fprintf(&b, "Role needed: %s\n", task.Role)
	fmt.Fprintf(&b, "Count: %d\n", task.Count)

	content, err := a.Client.Complete(ctx, a.Model, a.Temperature, system, b.String())
	if err != nil {
		return task.Candidates
	}
	queries := ParseSearchQueries(content)
	if len(queries) == 0 {
		return task.Candidates
	}

	seen := make(map[string]bool, len(task.Candidates))
	for _, c := range task.Candidates {
		seen[c.Name] = true
	}
	merged := append([]domain.Card(nil), task.Candidates...)
	for _, q := range queries {
		found, err := a.Search(ctx, q, searchLimit)
		if err != nil {
			continue
		}
		for _, card := range found {
			if seen[card.Name] {
				continue
			}
			seen[card.Name] = true
			merged = append(merged, card)
		}
	}
	return merged
}

func (a *LLMAgent) buildPrompt(task Task) (string, string) {
	system := "You are a Commander deckbuilding council agent. " +
		"Follow the user preferences exactly. " +
		"Return ONLY a JSON array of card names in ranked order, best to worst."

	deckCtx := BuildDeckContext(task.AgentTask, a.Context)
	payload := BuildCandidateContext(task.Candidates, a.Context)
	candidateJSON, _ := json.Marshal(payload)
	prefsJSON, _ := json.Marshal(a.Preferences)

	var b strings.Builder
	fmt.Fprintf(&b, "Agent ID: %s\n", a.AgentID)
	fmt.Fprintf(&b, "Role needed: %s\n", task.Role)
	fmt.Fprintf(&b, "Role definition: %s\n", roles.Description(task.Role))
	fmt.Fprintf(&b, "Commander: %s\n", deckCtx.CommanderName)
	fmt.Fprintf(&b, "Commander text: %s\n", deckCtx.CommanderText)
	fmt.Fprintf(&b, "Deck so far: %s\n", strings.Join(deckCtx.DeckCards, ", "))
	fmt.Fprintf(&b, "Preferences: %s\n", prefsJSON)
	if len(task.DebateOpinions) > 0 {
		b.WriteString("You are the adjudicator. Merge or overrule the debater rankings below.\n")
		for _, op := range task.DebateOpinions {
			opJSON, _ := json.Marshal(op.Ranked)
			fmt.Fprintf(&b, "Debater %s (weight %.2f): %s\n", op.AgentID, op.Weight, opJSON)
		}
	}
	fmt.Fprintf(&b, "Candidates (JSON list):\n%s\n", candidateJSON)
	b.WriteString("Return ONLY a JSON array of card names.")
	return system, b.String()
}

// ParseRankedNames extracts a JSON string array from LLM output,
// tolerating surrounding prose. Anything unparseable yields nil.
func ParseRankedNames(text string) []string {
	payload, ok := extractArray(text)
	if !ok {
		return nil
	}
	var raw []any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil
	}
	var names []string
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			names = append(names, s)
		}
	}
	return names
}

// ParseSearchQueries extracts the pool search sub-schema from LLM output.
// Malformed entries are skipped, never surfaced as errors.
func ParseSearchQueries(text string) []domain.SearchQuery {
	payload, ok := extractArray(text)
	if !ok {
		return nil
	}
	var raw []map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil
	}
	var queries []domain.SearchQuery
	for _, item := range raw {
		q := domain.SearchQuery{
			OracleContains: stringList(item["oracle_contains"], strings.ToLower),
			TypeContains:   stringList(item["type_contains"], strings.ToLower),
			Colors:         stringList(item["colors"], strings.ToUpper),
		}
		if v, ok := item["cmc_min"].(float64); ok {
			q.CMCMin = &v
		}
		if v, ok := item["cmc_max"].(float64); ok {
			q.CMCMax = &v
		}
		queries = append(queries, q)
	}
	return queries
}

func extractArray(text string) (string, bool) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

func stringList(v any, normalize func(string) string) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, normalize(s))
		}
	}
	return out
}
