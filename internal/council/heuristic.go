package council

import (
	"context"
	"fmt"
	"sort"

	"conclave/internal/archetype"
	"conclave/internal/config"
	"conclave/internal/domain"
	"conclave/internal/roles"
)

// HeuristicAgent ranks candidates as a pure function of the task, the
// candidate pool, and its preference weights. Identical inputs always
// yield identical output.
type HeuristicAgent struct {
	AgentID     string
	AgentWeight float64
	Preferences config.Preferences
	Taxonomy    archetype.Taxonomy
}

// NewHeuristicAgent builds the rule-based agent variant from config.
func NewHeuristicAgent(cfg config.Agent, taxonomy archetype.Taxonomy) *HeuristicAgent {
	return &HeuristicAgent{
		AgentID:     cfg.ID,
		AgentWeight: cfg.Weight,
		Preferences: cfg.Preferences,
		Taxonomy:    taxonomy,
	}
}

func (a *HeuristicAgent) ID() string      { return a.AgentID }
func (a *HeuristicAgent) Weight() float64 { return a.AgentWeight }

// Rank blends theme, mana efficiency, and budget per the agent's
// preference weights, with a small bonus for exact role matches.
func (a *HeuristicAgent) Rank(_ context.Context, task Task) (domain.AgentOpinion, error) {
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
		theme := 0.5
		if len(task.Identity) > 0 {
			tags := card.ArchetypeTags
			if tags == nil {
				tags = a.Taxonomy.ExtractTags(card)
			}
			theme = archetype.ScoreForIdentity(tags, task.Identity)
		}
		cmc := card.CMC
		if cmc < 0 {
			cmc = 0
		}
		efficiency := 1.0 / (1.0 + cmc)
		budget := priceScore(card.PriceUSD, a.Preferences.PriceCapUSD)

		total := a.Preferences.ThemeWeight + a.Preferences.EfficiencyWeight + a.Preferences.BudgetWeight
		if total <= 0 {
			total = 1.0
		}
		weighted := (theme*a.Preferences.ThemeWeight +
			efficiency*a.Preferences.EfficiencyWeight +
			budget*a.Preferences.BudgetWeight) / total
		if roles.Classify(card.TypeLine, card.OracleText, card.CMC) == task.Role {
			weighted += 0.1
		}
		results = append(results, scored{score: weighted, name: card.Name})
		scores[card.Name] = weighted
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
		Reason:  fmt.Sprintf("heuristic blend theme=%.2f efficiency=%.2f budget=%.2f", a.Preferences.ThemeWeight, a.Preferences.EfficiencyWeight, a.Preferences.BudgetWeight),
		Weight:  a.AgentWeight,
	}, nil
}

func priceScore(price, cap *float64) float64 {
	if price == nil {
		return 0.5
	}
	limit := 20.0
	if cap != nil {
		limit = *cap
	}
	if limit <= 0 {
		return 0
	}
	ratio := *price / limit
	if ratio > 1 {
		ratio = 1
	}
	return 1.0 - ratio
}
