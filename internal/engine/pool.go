package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"conclave/internal/domain"
	"conclave/internal/events"
	"conclave/internal/roles"
)

// ImportCards reads a JSON array of cards and upserts them into the pool.
// Role classification and archetype tags are computed at import time so
// candidate queries stay index-backed.
func (e Engine) ImportCards(ctx context.Context, r io.Reader) (int, error) {
	var cards []domain.Card
	if err := json.NewDecoder(r).Decode(&cards); err != nil {
		return 0, fmt.Errorf("decode cards: %w", err)
	}
	return e.UpsertCards(ctx, cards)
}

// UpsertCards writes a card batch in one transaction.
func (e Engine) UpsertCards(ctx context.Context, cards []domain.Card) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	count := 0
	for _, card := range cards {
		if card.Name == "" {
			return count, fmt.Errorf("card %d has no name", count)
		}
		if card.ID == "" {
			card.ID = uuid.NewString()
		}
		if card.ArchetypeTags == nil {
			card.ArchetypeTags = e.Taxonomy.ExtractTags(card)
		}
		role := roles.Classify(card.TypeLine, card.OracleText, card.CMC)
		if err := e.Repo.UpsertCard(ctx, tx, card, role, commanderLegal(card)); err != nil {
			return count, fmt.Errorf("upsert %q: %w", card.Name, err)
		}
		count++
	}
	if err := e.Events.Append(ctx, tx, "pool.import", "", "pool", "", events.EventPayload{
		"count": count,
	}); err != nil {
		return count, err
	}
	return count, tx.Commit()
}

// commanderLegal is a pool-level eligibility gate, not a rules engine.
// Anything that is not clearly format-illegal stays in the pool.
func commanderLegal(card domain.Card) bool {
	t := strings.ToLower(card.TypeLine)
	return !strings.Contains(t, "conspiracy") && !strings.Contains(t, "scheme") && !strings.Contains(t, "vanguard")
}
