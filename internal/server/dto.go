package server

import (
	"conclave/internal/domain"
	"conclave/internal/repo"
)

// GenerateRequest is the deck generation request body. Overrides are
// deep-merged over the server's council config for this run only.
type GenerateRequest struct {
	Commander   string                   `json:"commander"`
	Seeds       []string                 `json:"seeds,omitempty"`
	Objectives  *domain.ObjectiveWeights `json:"objectives,omitempty"`
	Constraints domain.DeckConstraints   `json:"constraints,omitempty"`
	Overrides   map[string]any           `json:"overrides,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func (r GenerateRequest) brief() domain.DeckBrief {
	objectives := domain.DefaultObjectives()
	if r.Objectives != nil {
		objectives = *r.Objectives
	}
	return domain.DeckBrief{
		Commander:   r.Commander,
		Seeds:       r.Seeds,
		Objectives:  objectives,
		Constraints: r.Constraints,
	}
}

// DeckResponse is a persisted deck with its slots.
type DeckResponse struct {
	DeckID    string             `json:"deck_id"`
	TraceID   string             `json:"trace_id"`
	Commander string             `json:"commander"`
	Identity  domain.Identity    `json:"identity"`
	Cards     []repo.DeckCardRow `json:"cards"`
}

// PreferenceRequest is one pairwise training judgment.
type PreferenceRequest struct {
	Identity   domain.Identity `json:"deck_identity_vector,omitempty"`
	CardAID    string          `json:"card_a_id"`
	CardBID    string          `json:"card_b_id"`
	Preference int             `json:"preference" minimum:"-2" maximum:"2"`
	Context    string          `json:"context,omitempty"`
}

func (r PreferenceRequest) preference() domain.PairwisePreference {
	return domain.PairwisePreference{
		Identity:   r.Identity,
		CardAID:    r.CardAID,
		CardBID:    r.CardBID,
		Preference: r.Preference,
		Context:    r.Context,
	}
}

// CouncilConfigResponse carries the active config as YAML so the wire
// format matches what operators edit on disk.
type CouncilConfigResponse struct {
	Version int    `json:"version"`
	YAML    string `json:"yaml"`
}

// CouncilConfigRequest replaces the council config.
type CouncilConfigRequest struct {
	YAML string `json:"yaml"`
}
