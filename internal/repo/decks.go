package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"conclave/internal/domain"
)

// InsertDeck persists a finished generation result inside the caller's
// transaction.
func (r Repo) InsertDeck(ctx context.Context, tx *sql.Tx, result domain.GenerationResult, brief domain.DeckBrief, createdAt string) error {
	identity, err := encodeJSON(result.Identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	briefJSON, err := encodeJSON(brief)
	if err != nil {
		return fmt.Errorf("marshal brief: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO decks(id,trace_id,commander,identity_json,brief_json,created_at) VALUES (?,?,?,?,?,?)`,
		result.DeckID, result.TraceID, result.Commander, identity, briefJSON, createdAt); err != nil {
		return fmt.Errorf("insert deck: %w", err)
	}
	return nil
}

// InsertDeckCard appends one committed card to a persisted deck.
func (r Repo) InsertDeckCard(ctx context.Context, tx *sql.Tx, deckID string, card domain.Card, role string, position, quantity int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO deck_cards(deck_id,card_id,card_name,role,position,quantity) VALUES (?,?,?,?,?,?)
		 ON CONFLICT(deck_id,card_id) DO UPDATE SET quantity=quantity+excluded.quantity`,
		deckID, card.ID, card.Name, role, position, quantity)
	return err
}

// FinalizeDeck rewrites a deck's identity vector and coherence metrics
// after generation finishes; the row is created before rounds run and the
// identity drifts as cards commit.
func (r Repo) FinalizeDeck(ctx context.Context, tx *sql.Tx, deckID string, identity domain.Identity, metrics domain.CoherenceMetrics) error {
	encoded, err := encodeJSON(identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	metricsJSON, err := encodeJSON(metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE decks SET identity_json=?, metrics_json=? WHERE id=?`, encoded, metricsJSON, deckID); err != nil {
		return fmt.Errorf("finalize deck: %w", err)
	}
	return nil
}

// DeckCardRow is one persisted deck slot, quantity included.
type DeckCardRow struct {
	CardID   string `json:"card_id"`
	CardName string `json:"card_name"`
	Role     string `json:"role"`
	Position int    `json:"position"`
	Quantity int    `json:"quantity"`
}

// ListDeckCards returns a deck's slots in commit order.
func (r Repo) ListDeckCards(ctx context.Context, deckID string) ([]DeckCardRow, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT card_id,card_name,role,position,quantity FROM deck_cards WHERE deck_id=? ORDER BY position`, deckID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeckCardRow
	for rows.Next() {
		var row DeckCardRow
		if err := rows.Scan(&row.CardID, &row.CardName, &row.Role, &row.Position, &row.Quantity); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeckSummary is one row of the deck listing.
type DeckSummary struct {
	DeckID    string `json:"deck_id"`
	TraceID   string `json:"trace_id"`
	Commander string `json:"commander"`
	CreatedAt string `json:"created_at"`
}

// ListDecks returns persisted decks, newest first.
func (r Repo) ListDecks(ctx context.Context, limit int) ([]DeckSummary, error) {
	query := `SELECT id,trace_id,commander,created_at FROM decks ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DeckSummary
	for rows.Next() {
		var d DeckSummary
		if err := rows.Scan(&d.DeckID, &d.TraceID, &d.Commander, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDeck loads a persisted deck with its cards in commit order.
func (r Repo) GetDeck(ctx context.Context, deckID string) (domain.GenerationResult, error) {
	var result domain.GenerationResult
	var identity, metrics string
	row := r.DB.QueryRowContext(ctx, `SELECT id,trace_id,commander,identity_json,metrics_json FROM decks WHERE id=?`, deckID)
	err := row.Scan(&result.DeckID, &result.TraceID, &result.Commander, &identity, &metrics)
	if err == sql.ErrNoRows {
		return result, ErrNotFound
	}
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(identity), &result.Identity); err != nil {
		return result, fmt.Errorf("deck %s identity: %w", deckID, err)
	}
	if err := json.Unmarshal([]byte(metrics), &result.Metrics); err != nil {
		return result, fmt.Errorf("deck %s metrics: %w", deckID, err)
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT card_id FROM deck_cards WHERE deck_id=? ORDER BY position`, deckID)
	if err != nil {
		return result, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return result, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return result, err
	}
	for _, id := range ids {
		card, err := r.GetCard(ctx, id)
		if err != nil {
			return result, err
		}
		result.Cards = append(result.Cards, card)
	}
	return result, nil
}

// ListEvents returns trace log entries, newest first, optionally filtered
// by trace id.
func (r Repo) ListEvents(ctx context.Context, traceID string, limit int) ([]map[string]any, error) {
	query := `SELECT id,ts,type,COALESCE(trace_id,''),entity_kind,COALESCE(entity_id,''),payload_json FROM events`
	var args []any
	if traceID != "" {
		query += ` WHERE trace_id=?`
		args = append(args, traceID)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		var id int64
		var ts, evtType, trace, entityKind, entityID, payload string
		if err := rows.Scan(&id, &ts, &evtType, &trace, &entityKind, &entityID, &payload); err != nil {
			return nil, err
		}
		entry := map[string]any{
			"id": id, "ts": ts, "type": evtType, "trace_id": trace,
			"entity_kind": entityKind, "entity_id": entityID,
		}
		var decoded map[string]any
		if json.Unmarshal([]byte(payload), &decoded) == nil {
			entry["payload"] = decoded
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
