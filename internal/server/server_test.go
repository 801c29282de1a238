package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"conclave/internal/config"
	"conclave/internal/db"
	"conclave/internal/domain"
	"conclave/internal/engine"
	"conclave/internal/migrate"
	"conclave/internal/server"
)

type serverEnv struct {
	Server    *httptest.Server
	Engine    engine.Engine
	Workspace string
}

func newServerEnv(t *testing.T, auth server.AuthConfig) *serverEnv {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Routing.AgentIDs = []string{"heuristic-core", "scoring-core"}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }

	handler, err := server.New(server.Config{Engine: eng, Workspace: workspace, Auth: auth})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &serverEnv{Server: srv, Engine: eng, Workspace: workspace}
}

func (env *serverEnv) seed(t *testing.T) {
	t.Helper()
	cards := []domain.Card{
		{ID: "cmd-vale", Name: "Elder of the Vale", TypeLine: "Legendary Creature — Elf Druid", CMC: 4, ColorIdentity: []string{"G"},
			OracleText: "At the beginning of your upkeep, create a 1/1 green Elf creature token."},
		{ID: "ramp-1", Name: "Verdant Stone", TypeLine: "Artifact", CMC: 2, OracleText: "{T}: Add {G}."},
		{ID: "draw-1", Name: "Verdant Insight", TypeLine: "Enchantment", CMC: 3, ColorIdentity: []string{"G"},
			OracleText: "At the beginning of your upkeep, draw a card."},
		{ID: "rem-1", Name: "Crushing Vines", TypeLine: "Instant", CMC: 2, ColorIdentity: []string{"G"},
			OracleText: "Destroy target creature with flying or target artifact."},
		{ID: "syn-1", Name: "Token Chorus", TypeLine: "Enchantment", CMC: 3, ColorIdentity: []string{"G"},
			OracleText: "Whenever you create a token, you gain 1 life."},
	}
	if _, err := env.Engine.UpsertCards(context.Background(), cards); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (env *serverEnv) do(t *testing.T, method, path string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, env.Server.URL+path, payload)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var envlp errorEnvelope
	if err := json.Unmarshal(data, &envlp); err != nil {
		t.Fatalf("decode error envelope %s: %v", data, err)
	}
	return envlp
}

func TestHealth(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})
	resp, body := env.do(t, http.MethodGet, "/v0/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var parsed map[string]string
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["status"] != "ok" {
		t.Fatalf("body = %s", body)
	}
}

func TestGenerateAndFetchDeck(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})
	env.seed(t)

	reqBody := map[string]any{
		"commander": "Elder of the Vale",
		"overrides": map[string]any{"deck": map[string]any{"target_size": 15, "total_lands": 4}},
	}
	resp, body := env.do(t, http.MethodPost, "/v0/decks/generate", reqBody, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var result domain.GenerationResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if result.DeckID == "" || result.Commander != "Elder of the Vale" {
		t.Fatalf("result = %+v", result)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/decks/"+result.DeckID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var deck server.DeckResponse
	if err := json.Unmarshal(body, &deck); err != nil {
		t.Fatal(err)
	}
	if deck.DeckID != result.DeckID || len(deck.Cards) == 0 {
		t.Fatalf("deck = %+v", deck)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/decks", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), result.DeckID) {
		t.Fatalf("deck listing missing deck: %s", body)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/events?trace_id="+result.TraceID, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "generation.complete") {
		t.Fatalf("events missing completion: %s", body)
	}
}

func TestGenerateMissingCommander(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})
	resp, body := env.do(t, http.MethodPost, "/v0/decks/generate", map[string]any{}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	envlp := decodeError(t, body)
	if envlp.Error.Code != "bad_request" {
		t.Fatalf("code = %q", envlp.Error.Code)
	}
}

func TestGetDeckNotFound(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})
	resp, body := env.do(t, http.MethodGet, "/v0/decks/missing", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if envlp := decodeError(t, body); envlp.Error.Code != "not_found" {
		t.Fatalf("code = %q", envlp.Error.Code)
	}
}

func TestPreferenceEndpoints(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})
	env.seed(t)

	valid := map[string]any{"card_a_id": "syn-1", "card_b_id": "rem-1", "preference": 2}
	resp, body := env.do(t, http.MethodPost, "/v0/training/preferences", valid, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	outOfRange := map[string]any{"card_a_id": "syn-1", "card_b_id": "rem-1", "preference": 3}
	resp, body = env.do(t, http.MethodPost, "/v0/training/preferences", outOfRange, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/v0/training/train", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var stats engine.TrainingStats
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Preferences != 1 || !stats.Trained {
		t.Fatalf("stats = %+v", stats)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/training/stats", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestPoolImportEndpoint(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})
	cards := []map[string]any{
		{"name": "Study Hall", "type_line": "Enchantment", "oracle_text": "At the beginning of your end step, draw a card.", "cmc": 2},
	}
	resp, body := env.do(t, http.MethodPost, "/v0/pool/cards", cards, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var parsed map[string]int
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["imported"] != 1 {
		t.Fatalf("body = %s", body)
	}
}

func TestCouncilConfigEndpoints(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})

	resp, body := env.do(t, http.MethodGet, "/v0/council/config", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	var got server.CouncilConfigResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Version != 1 || got.YAML == "" {
		t.Fatalf("config = %+v", got)
	}

	update := map[string]any{"yaml": "deck:\n  target_size: 60\n"}
	resp, body = env.do(t, http.MethodPut, "/v0/council/config", update, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if env.Engine.Config.Deck.TargetSize != 60 {
		t.Fatalf("live config not swapped: %d", env.Engine.Config.Deck.TargetSize)
	}
	if _, err := config.Load(env.Workspace); err != nil {
		t.Fatalf("persisted config unreadable: %v", err)
	}

	bad := map[string]any{"yaml": "deck:\n  target_siez: 60\n"}
	resp, body = env.do(t, http.MethodPut, "/v0/council/config", bad, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func mintToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestAuthGate(t *testing.T) {
	const secret = "test-secret"
	env := newServerEnv(t, server.AuthConfig{JWTSecret: secret})

	// health stays open
	resp, body := env.do(t, http.MethodGet, "/v0/health", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/decks", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if envlp := decodeError(t, body); envlp.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envlp.Error.Code)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/decks", nil, "garbage-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
	if envlp := decodeError(t, body); envlp.Error.Code != "invalid_credentials" {
		t.Fatalf("code = %q", envlp.Error.Code)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/decks", nil, mintToken(t, secret, "tester"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/v0/decks", nil, mintToken(t, "wrong-secret", "tester"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}

func TestAuthDisabledByDefault(t *testing.T) {
	env := newServerEnv(t, server.AuthConfig{})
	resp, body := env.do(t, http.MethodGet, "/v0/decks", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d: %s", resp.StatusCode, body)
	}
}
