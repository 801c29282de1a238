package council

import (
	"conclave/internal/config"
	"conclave/internal/domain"
)

// DeckContext is the trimmed deck view an agent is allowed to see.
type DeckContext struct {
	CommanderName string
	CommanderText string
	DeckCards     []string
}

// CandidatePayload is one candidate as exposed to an agent, with fields
// filtered per the agent's context configuration.
type CandidatePayload struct {
	Name     string   `json:"name"`
	TypeLine string   `json:"type,omitempty"`
	CMC      *float64 `json:"cmc,omitempty"`
	PriceUSD *float64 `json:"price_usd,omitempty"`
	Oracle   string   `json:"oracle,omitempty"`
}

// truncate limits text to maxChars characters. Counting runes keeps
// multibyte oracle symbols intact at the cut point.
func truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}

// BuildDeckContext trims the deck view to the agent's budget. Earliest
// committed cards are retained so repeated calls with the same state see
// the same prefix.
func BuildDeckContext(task domain.AgentTask, cfg config.AgentContext) DeckContext {
	var deckCards []string
	if cfg.Filters.IncludeDeckCards {
		deckCards = append(deckCards, task.DeckCards...)
		if cfg.Budget.MaxDeckCards > 0 && len(deckCards) > cfg.Budget.MaxDeckCards {
			deckCards = deckCards[:cfg.Budget.MaxDeckCards]
		}
	}
	commanderText := ""
	if cfg.Filters.IncludeCommanderText {
		commanderText = truncate(task.CommanderText, cfg.Budget.MaxCommanderTextChars)
	}
	return DeckContext{
		CommanderName: task.CommanderName,
		CommanderText: commanderText,
		DeckCards:     deckCards,
	}
}

// BuildCandidateContext trims and filters the candidate pool view.
// Candidates arrive lexically ordered from the pool, so budget truncation
// keeps the lexically-first entries.
func BuildCandidateContext(candidates []domain.Card, cfg config.AgentContext) []CandidatePayload {
	limited := candidates
	if cfg.Budget.MaxCandidates > 0 && len(limited) > cfg.Budget.MaxCandidates {
		limited = limited[:cfg.Budget.MaxCandidates]
	}
	payload := make([]CandidatePayload, 0, len(limited))
	for _, card := range limited {
		entry := CandidatePayload{Name: card.Name}
		if cfg.Filters.IncludeCandidateTypeLine {
			entry.TypeLine = card.TypeLine
		}
		if cfg.Filters.IncludeCandidateCMC {
			cmc := card.CMC
			entry.CMC = &cmc
		}
		if cfg.Filters.IncludeCandidatePrice {
			entry.PriceUSD = card.PriceUSD
		}
		if cfg.Filters.IncludeCandidateOracle {
			entry.Oracle = truncate(card.OracleText, cfg.Budget.MaxCandidateOracleChars)
		}
		payload = append(payload, entry)
	}
	return payload
}
