package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"

	"conclave/internal/config"
	"conclave/internal/domain"
	"conclave/internal/engine"
	"conclave/internal/learner"
	"conclave/internal/repo"
	"conclave/internal/scoring"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Workspace string
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"brief.commander is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Conclave API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Conclave API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerDecks(group, cfg.Engine)
	registerPool(group, cfg.Engine)
	registerCouncil(group, cfg.Engine, cfg.Workspace)
	registerTraining(group, cfg.Engine)
	registerEvents(group, cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, learner.ErrPreferenceRange) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") ||
		strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerDecks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generate-deck",
		Method:        http.MethodPost,
		Path:          "/decks/generate",
		Summary:       "Generate a deck",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body GenerateRequest `json:"body"`
	}) (*struct {
		Body domain.GenerationResult `json:"body"`
	}, error) {
		result, err := e.Generate(ctx, input.Body.brief(), input.Body.Overrides)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GenerationResult `json:"body"`
		}{Body: result}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decks",
		Method:      http.MethodGet,
		Path:        "/decks",
		Summary:     "List decks",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []repo.DeckSummary `json:"body"`
	}, error) {
		decks, err := e.Repo.ListDecks(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if decks == nil {
			decks = []repo.DeckSummary{}
		}
		return &struct {
			Body []repo.DeckSummary `json:"body"`
		}{Body: decks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-deck",
		Method:      http.MethodGet,
		Path:        "/decks/{deck_id}",
		Summary:     "Get a deck",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DeckID string `path:"deck_id"`
	}) (*struct {
		Body DeckResponse `json:"body"`
	}, error) {
		result, err := e.Repo.GetDeck(ctx, input.DeckID)
		if err != nil {
			return nil, handleError(err)
		}
		rows, err := e.Repo.ListDeckCards(ctx, input.DeckID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeckResponse `json:"body"`
		}{Body: DeckResponse{
			DeckID:    result.DeckID,
			TraceID:   result.TraceID,
			Commander: result.Commander,
			Identity:  result.Identity,
			Cards:     rows,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "score-card",
		Method:      http.MethodPost,
		Path:        "/decks/{deck_id}/score",
		Summary:     "Score a card against a deck",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DeckID string `path:"deck_id"`
		Body   struct {
			Card string `json:"card"`
		} `json:"body"`
	}) (*struct {
		Body scoring.Breakdown `json:"body"`
	}, error) {
		if input.Body.Card == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "card is required", nil)
		}
		breakdown, err := e.ScoreCard(ctx, input.DeckID, input.Body.Card)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scoring.Breakdown `json:"body"`
		}{Body: breakdown}, nil
	})
}

func registerPool(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-cards",
		Method:        http.MethodPost,
		Path:          "/pool/cards",
		Summary:       "Import cards into the pool",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body []domain.Card `json:"body"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		count, err := e.UpsertCards(ctx, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"imported": count}}, nil
	})
}

func registerCouncil(api huma.API, e engine.Engine, workspace string) {
	huma.Register(api, huma.Operation{
		OperationID: "get-council-config",
		Method:      http.MethodGet,
		Path:        "/council/config",
		Summary:     "Current council configuration",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CouncilConfigResponse `json:"body"`
	}, error) {
		encoded, err := yaml.Marshal(e.Config)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CouncilConfigResponse `json:"body"`
		}{Body: CouncilConfigResponse{Version: e.Config.Version, YAML: string(encoded)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-council-config",
		Method:      http.MethodPut,
		Path:        "/council/config",
		Summary:     "Replace council configuration",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CouncilConfigRequest `json:"body"`
	}) (*struct {
		Body CouncilConfigResponse `json:"body"`
	}, error) {
		cfg, err := config.FromYAML([]byte(input.Body.YAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if err := os.WriteFile(config.Path(workspace), []byte(input.Body.YAML), 0o644); err != nil {
			return nil, handleError(err)
		}
		*e.Config = *cfg
		encoded, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CouncilConfigResponse `json:"body"`
		}{Body: CouncilConfigResponse{Version: cfg.Version, YAML: string(encoded)}}, nil
	})
}

func registerTraining(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-preference",
		Method:        http.MethodPost,
		Path:          "/training/preferences",
		Summary:       "Submit a pairwise preference",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body PreferenceRequest `json:"body"`
	}) (*struct {
		Body domain.PairwisePreference `json:"body"`
	}, error) {
		pref, err := e.IngestPreference(ctx, input.Body.preference())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PairwisePreference `json:"body"`
		}{Body: pref}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "train-model",
		Method:      http.MethodPost,
		Path:        "/training/train",
		Summary:     "Retrain the synergy model",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.TrainingStats `json:"body"`
	}, error) {
		if _, err := e.TrainModel(ctx); err != nil {
			return nil, handleError(err)
		}
		stats, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TrainingStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "training-stats",
		Method:      http.MethodGet,
		Path:        "/training/stats",
		Summary:     "Training statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.TrainingStats `json:"body"`
	}, error) {
		stats, err := e.Stats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TrainingStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Trace log entries, newest first",
	}, func(ctx context.Context, input *struct {
		TraceID string `query:"trace_id"`
		Limit   int    `query:"limit" default:"100"`
	}) (*struct {
		Body []map[string]any `json:"body"`
	}, error) {
		entries, err := e.Repo.ListEvents(ctx, input.TraceID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []map[string]any{}
		}
		return &struct {
			Body []map[string]any `json:"body"`
		}{Body: entries}, nil
	})
}
