package council

import (
	"context"
	"fmt"
	"sort"

	"conclave/internal/config"
	"conclave/internal/domain"
	"conclave/internal/scoring"
)

// ScoringAgent ranks candidates with the full blended scoring engine over
// a read-only snapshot of the deck under construction. Like HeuristicAgent
// it is deterministic for identical inputs.
type ScoringAgent struct {
	AgentID     string
	AgentWeight float64
	Engine      scoring.Engine
	Model       scoring.SynergyModel
}

// NewScoringAgent builds the scoring agent variant from config.
func NewScoringAgent(cfg config.Agent, engine scoring.Engine, model scoring.SynergyModel) *ScoringAgent {
	return &ScoringAgent{
		AgentID:     cfg.ID,
		AgentWeight: cfg.Weight,
		Engine:      engine,
		Model:       model,
	}
}

func (a *ScoringAgent) ID() string      { return a.AgentID }
func (a *ScoringAgent) Weight() float64 { return a.AgentWeight }

// Rank orders the pool by blended score against the deck snapshot.
func (a *ScoringAgent) Rank(_ context.Context, task Task) (domain.AgentOpinion, error) {
	if err := ValidateTask(task); err != nil {
		return emptyOpinion(a.AgentID, a.AgentWeight, false), nil
	}

	type scored struct {
		score float64
		name  string
	}
	results := make([]scored, 0, len(task.Candidates))
	scores := make(map[string]float64, len(task.Candidates))
	for _, card := range task.Candidates {
		s := a.Engine.Score(card, task.Snapshot, task.Brief, a.Model)
		results = append(results, scored{score: s, name: card.Name})
		scores[card.Name] = s
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return results[i].name < results[j].name
		}
		return results[i].score > results[j].score
	})

	ranked := make([]string, 0, len(results))
	for _, r := range results {
		ranked = append(ranked, r.name)
	}
	return domain.AgentOpinion{
		AgentID: a.AgentID,
		Ranked:  ranked,
		Scores:  scores,
		Reason:  fmt.Sprintf("blended score over %d candidates for role %s", len(task.Candidates), task.Role),
		Weight:  a.AgentWeight,
	}, nil
}
