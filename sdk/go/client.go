package conclavesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Conclave HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 60 * time.Second,
	}
}

// GenerateRequest mirrors the API generation body.
type GenerateRequest struct {
	Commander   string             `json:"commander"`
	Seeds       []string           `json:"seeds,omitempty"`
	Objectives  map[string]float64 `json:"objectives,omitempty"`
	Constraints map[string]any     `json:"constraints,omitempty"`
	Overrides   map[string]any     `json:"overrides,omitempty"`
}

// GenerationResult is the API deck output (partial).
type GenerationResult struct {
	DeckID      string             `json:"deck_id"`
	TraceID     string             `json:"trace_id"`
	Commander   string             `json:"commander"`
	Identity    map[string]float64 `json:"identity"`
	EmptyRounds []map[string]any   `json:"empty_rounds,omitempty"`
}

// Preference is one pairwise training judgment.
type Preference struct {
	ID         string `json:"id,omitempty"`
	CardAID    string `json:"card_a_id"`
	CardBID    string `json:"card_b_id"`
	Preference int    `json:"preference"`
	Context    string `json:"context,omitempty"`
}

// TrainingStats summarizes the learner's standing.
type TrainingStats struct {
	Preferences  int      `json:"preferences"`
	ModelVersion int      `json:"model_version"`
	Samples      int      `json:"samples"`
	Trained      bool     `json:"trained"`
	TopWeights   []string `json:"top_weights,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Generate runs a full deck build.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerationResult, error) {
	var resp GenerationResult
	err := c.do(ctx, http.MethodPost, "v0/decks/generate", req, &resp)
	return resp, err
}

// GetDeck fetches a persisted deck.
func (c *Client) GetDeck(ctx context.Context, deckID string) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "v0/decks/"+url.PathEscape(deckID), nil, &resp)
	return resp, err
}

// SubmitPreference records one pairwise judgment.
func (c *Client) SubmitPreference(ctx context.Context, pref Preference) (Preference, error) {
	var resp Preference
	err := c.do(ctx, http.MethodPost, "v0/training/preferences", pref, &resp)
	return resp, err
}

// Train retrains the synergy model from all stored preferences.
func (c *Client) Train(ctx context.Context) (TrainingStats, error) {
	var resp TrainingStats
	err := c.do(ctx, http.MethodPost, "v0/training/train", nil, &resp)
	return resp, err
}

// Stats returns training statistics.
func (c *Client) Stats(ctx context.Context) (TrainingStats, error) {
	var resp TrainingStats
	err := c.do(ctx, http.MethodGet, "v0/training/stats", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
