package council_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"unicode/utf8"

	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/domain"
	"conclave/internal/roles"
)

func TestParseRankedNames(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`["Sol Ring", "Cultivate"]`, []string{"Sol Ring", "Cultivate"}},
		{"Here is my ranking:\n[\"Sol Ring\"]\nHope that helps!", []string{"Sol Ring"}},
		{`["Sol Ring", 42, "", "Cultivate"]`, []string{"Sol Ring", "Cultivate"}},
		{`no array here`, nil},
		{`{"ranked": true}`, nil},
		{`[not json`, nil},
	}
	for _, tc := range cases {
		if got := council.ParseRankedNames(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseRankedNames(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseSearchQueries(t *testing.T) {
	text := `[{"oracle_contains": ["Draw a Card"], "colors": ["g"], "cmc_max": 3}]`
	queries := council.ParseSearchQueries(text)
	if len(queries) != 1 {
		t.Fatalf("queries = %v", queries)
	}
	q := queries[0]
	if !reflect.DeepEqual(q.OracleContains, []string{"draw a card"}) {
		t.Fatalf("oracle terms not lowercased: %v", q.OracleContains)
	}
	if !reflect.DeepEqual(q.Colors, []string{"G"}) {
		t.Fatalf("colors not uppercased: %v", q.Colors)
	}
	if q.CMCMax == nil || *q.CMCMax != 3 {
		t.Fatalf("cmc_max = %v", q.CMCMax)
	}
	if q.CMCMin != nil {
		t.Fatalf("cmc_min should be unset")
	}

	if got := council.ParseSearchQueries("nothing here"); got != nil {
		t.Fatalf("expected nil for non-JSON input, got %v", got)
	}
}

func llmAgentConfig() config.Agent {
	return config.Agent{
		ID: "llm-test", Type: "llm", Weight: 1.0,
		Context: config.AgentContext{
			Filters: config.ContextFilters{
				IncludeCommanderText:   true,
				IncludeDeckCards:       true,
				IncludeCandidateOracle: true,
			},
		},
	}
}

func llmTask(names ...string) council.Task {
	cards := make([]domain.Card, len(names))
	for i, n := range names {
		cards[i] = domain.Card{ID: n, Name: n}
	}
	return council.Task{
		AgentTask:  domain.AgentTask{Role: roles.Draw, Count: 2, CommanderName: "Test Commander"},
		Candidates: cards,
	}
}

func TestLLMAgentDropsOutOfPoolNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"[\"Rhystic Study\", \"Fake Card\", \"Mystic Remora\"]"}}]}`))
	}))
	defer srv.Close()

	client := &council.ChatClient{BaseURL: srv.URL, APIKey: "test-key", HTTPClient: srv.Client()}
	agent := council.NewLLMAgent(llmAgentConfig(), config.LLM{Model: "test-model"}, client, nil)

	op, err := agent.Rank(context.Background(), llmTask("Rhystic Study", "Mystic Remora"))
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if !reflect.DeepEqual(op.Ranked, []string{"Rhystic Study", "Mystic Remora"}) {
		t.Fatalf("hallucinated names not dropped: %v", op.Ranked)
	}
}

func TestLLMAgentSelfQueryExpandsPool(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.Write([]byte(`{"choices":[{"message":{"content":"[{\"oracle_contains\":[\"create a\"],\"type_contains\":[],\"cmc_min\":null,\"cmc_max\":4,\"colors\":[\"G\"]}]"}}]}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"[\"Scute Swarm\", \"Rhystic Study\"]"}}]}`))
	}))
	defer srv.Close()

	var got domain.SearchQuery
	search := func(ctx context.Context, q domain.SearchQuery, limit int) ([]domain.Card, error) {
		got = q
		return []domain.Card{{ID: "scute", Name: "Scute Swarm"}}, nil
	}

	cfg := llmAgentConfig()
	cfg.SelfQuery = true
	client := &council.ChatClient{BaseURL: srv.URL, APIKey: "test-key", HTTPClient: srv.Client()}
	agent := council.NewLLMAgent(cfg, config.LLM{Model: "test-model"}, client, search)

	op, err := agent.Rank(context.Background(), llmTask("Rhystic Study", "Mystic Remora"))
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected search then ranking call, got %d calls", calls)
	}
	if !reflect.DeepEqual(got.OracleContains, []string{"create a"}) || !reflect.DeepEqual(got.Colors, []string{"G"}) {
		t.Fatalf("search query not forwarded: %+v", got)
	}
	if !reflect.DeepEqual(op.Ranked, []string{"Scute Swarm", "Rhystic Study"}) {
		t.Fatalf("self-query hit not rankable: %v", op.Ranked)
	}
}

func TestLLMAgentSelfQueryFailureKeepsPool(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			w.Write([]byte(`{"choices":[{"message":{"content":"no queries today"}}]}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"[\"Rhystic Study\"]"}}]}`))
	}))
	defer srv.Close()

	cfg := llmAgentConfig()
	cfg.SelfQuery = true
	client := &council.ChatClient{BaseURL: srv.URL, APIKey: "test-key", HTTPClient: srv.Client()}
	agent := council.NewLLMAgent(cfg, config.LLM{Model: "test-model"}, client, func(ctx context.Context, q domain.SearchQuery, limit int) ([]domain.Card, error) {
		t.Fatal("search must not run without parsed queries")
		return nil, nil
	})

	op, err := agent.Rank(context.Background(), llmTask("Rhystic Study"))
	if err != nil {
		t.Fatalf("Rank: %v", err)
	}
	if !reflect.DeepEqual(op.Ranked, []string{"Rhystic Study"}) {
		t.Fatalf("ranking should proceed on the original pool: %v", op.Ranked)
	}
}

func TestLLMAgentNoAPIKeyDegrades(t *testing.T) {
	client := &council.ChatClient{BaseURL: "http://unused.invalid", APIKey: ""}
	agent := council.NewLLMAgent(llmAgentConfig(), config.LLM{}, client, nil)

	op, err := agent.Rank(context.Background(), llmTask("Rhystic Study"))
	if err != nil {
		t.Fatalf("missing key must not error: %v", err)
	}
	if op.Failed || len(op.Ranked) != 0 {
		t.Fatalf("expected empty non-failed opinion: %+v", op)
	}
}

func TestChatClientTransientStatuses(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := &council.ChatClient{BaseURL: srv.URL, APIKey: "test-key", HTTPClient: srv.Client()}

	_, err := client.Complete(context.Background(), "m", 0, "s", "u")
	if !council.IsTransient(err) {
		t.Fatalf("429 should be transient: %v", err)
	}

	status = http.StatusBadGateway
	_, err = client.Complete(context.Background(), "m", 0, "s", "u")
	if !council.IsTransient(err) {
		t.Fatalf("502 should be transient: %v", err)
	}

	status = http.StatusBadRequest
	_, err = client.Complete(context.Background(), "m", 0, "s", "u")
	if err == nil || council.IsTransient(err) {
		t.Fatalf("400 should be a final error: %v", err)
	}
}

func TestBuildDeckContext(t *testing.T) {
	task := domain.AgentTask{
		CommanderName: "Test Commander",
		CommanderText: "This is a long commander ability text.",
		DeckCards:     []string{"A", "B", "C", "D"},
	}
	cfg := config.AgentContext{
		Budget: config.ContextBudget{MaxDeckCards: 2, MaxCommanderTextChars: 9},
		Filters: config.ContextFilters{
			IncludeCommanderText: true,
			IncludeDeckCards:     true,
		},
	}
	ctx := council.BuildDeckContext(task, cfg)
	if !reflect.DeepEqual(ctx.DeckCards, []string{"A", "B"}) {
		t.Fatalf("deck cards = %v", ctx.DeckCards)
	}
	if ctx.CommanderText != "This is a" {
		t.Fatalf("commander text = %q", ctx.CommanderText)
	}

	cfg.Filters = config.ContextFilters{}
	ctx = council.BuildDeckContext(task, cfg)
	if len(ctx.DeckCards) != 0 || ctx.CommanderText != "" {
		t.Fatalf("filters off should strip the view: %+v", ctx)
	}
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	task := domain.AgentTask{
		CommanderName: "Test Commander",
		CommanderText: "Flying — vigilance",
	}
	cfg := config.AgentContext{
		Budget:  config.ContextBudget{MaxCommanderTextChars: 8},
		Filters: config.ContextFilters{IncludeCommanderText: true},
	}
	ctx := council.BuildDeckContext(task, cfg)
	if ctx.CommanderText != "Flying —" {
		t.Fatalf("commander text = %q", ctx.CommanderText)
	}
	if !utf8.ValidString(ctx.CommanderText) {
		t.Fatalf("truncation produced invalid UTF-8: %q", ctx.CommanderText)
	}

	cards := []domain.Card{{Name: "A", OracleText: "• Destroy target creature."}}
	ccfg := config.AgentContext{
		Budget:  config.ContextBudget{MaxCandidateOracleChars: 2},
		Filters: config.ContextFilters{IncludeCandidateOracle: true},
	}
	payload := council.BuildCandidateContext(cards, ccfg)
	if payload[0].Oracle != "• " {
		t.Fatalf("oracle = %q", payload[0].Oracle)
	}
	if !utf8.ValidString(payload[0].Oracle) {
		t.Fatalf("truncation produced invalid UTF-8: %q", payload[0].Oracle)
	}
}

func TestBuildCandidateContext(t *testing.T) {
	price := 4.5
	cards := []domain.Card{
		{Name: "A", TypeLine: "Instant", OracleText: "Draw two cards at the beginning of your upkeep.", CMC: 2, PriceUSD: &price},
		{Name: "B", TypeLine: "Sorcery", CMC: 3},
		{Name: "C", TypeLine: "Creature", CMC: 4},
	}
	cfg := config.AgentContext{
		Budget: config.ContextBudget{MaxCandidates: 2, MaxCandidateOracleChars: 4},
		Filters: config.ContextFilters{
			IncludeCandidateOracle:   true,
			IncludeCandidateTypeLine: true,
			IncludeCandidateCMC:      true,
		},
	}
	payload := council.BuildCandidateContext(cards, cfg)
	if len(payload) != 2 {
		t.Fatalf("candidate budget not applied: %d", len(payload))
	}
	if payload[0].Oracle != "Draw" {
		t.Fatalf("oracle = %q", payload[0].Oracle)
	}
	if payload[0].TypeLine != "Instant" || payload[0].CMC == nil || *payload[0].CMC != 2 {
		t.Fatalf("payload = %+v", payload[0])
	}
	if payload[0].PriceUSD != nil {
		t.Fatalf("price filter off, got %v", *payload[0].PriceUSD)
	}
}
