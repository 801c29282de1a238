package council_test

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/domain"
)

func refineApprox(t *testing.T, got, want float64, key string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s = %v, want %v", key, got, want)
	}
}

func TestRefineIdentityClampsProposal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Here you go: {\"tokens\": 0.9, \"stax\": 0.9, \"notes\": \"ignore\"}"}}]}`))
	}))
	defer srv.Close()

	client := &council.ChatClient{BaseURL: srv.URL, APIKey: "test-key", HTTPClient: srv.Client()}
	baseline := domain.Identity{"tokens": 1.0, "aristocrats": 0.4}
	commander := domain.Card{Name: "Jetmir", OracleText: "Creatures you control get +1/+0."}

	refined := council.RefineIdentity(context.Background(), client, config.LLM{Model: "m"}, commander, baseline)
	refineApprox(t, refined["tokens"], 0.9, "tokens")
	refineApprox(t, refined["aristocrats"], 0.4, "aristocrats")
	refineApprox(t, refined["stax"], 0.2, "stax")
	if _, ok := refined["notes"]; ok {
		t.Fatal("non-numeric entry should be dropped")
	}
	refineApprox(t, baseline["tokens"], 1.0, "baseline tokens")
}

func TestRefineIdentityDegradesToBaseline(t *testing.T) {
	baseline := domain.Identity{"tokens": 1.0}
	commander := domain.Card{Name: "Jetmir"}

	noKey := &council.ChatClient{BaseURL: "http://unused.invalid", APIKey: ""}
	if got := council.RefineIdentity(context.Background(), noKey, config.LLM{}, commander, baseline); got["tokens"] != 1.0 || len(got) != 1 {
		t.Fatalf("missing key should keep baseline: %v", got)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"I cannot answer that."}}]}`))
	}))
	defer srv.Close()
	client := &council.ChatClient{BaseURL: srv.URL, APIKey: "test-key", HTTPClient: srv.Client()}
	if got := council.RefineIdentity(context.Background(), client, config.LLM{Model: "m"}, commander, baseline); got["tokens"] != 1.0 || len(got) != 1 {
		t.Fatalf("unparseable output should keep baseline: %v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	client = &council.ChatClient{BaseURL: failing.URL, APIKey: "test-key", HTTPClient: failing.Client()}
	if got := council.RefineIdentity(context.Background(), client, config.LLM{Model: "m"}, commander, baseline); got["tokens"] != 1.0 || len(got) != 1 {
		t.Fatalf("transport failure should keep baseline: %v", got)
	}
}

func TestParseIdentity(t *testing.T) {
	got := council.ParseIdentity(`prose {"tokens": 0.7, "bad": "x"} trailing`)
	if len(got) != 1 || got["tokens"] != 0.7 {
		t.Fatalf("ParseIdentity = %v", got)
	}
	if council.ParseIdentity("no object") != nil {
		t.Fatal("expected nil for non-JSON input")
	}
	if council.ParseIdentity(`{broken`) != nil {
		t.Fatal("expected nil for malformed JSON")
	}
}
