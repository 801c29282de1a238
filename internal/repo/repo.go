package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"conclave/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func scanCard(scanner interface{ Scan(...any) error }) (domain.Card, error) {
	var c domain.Card
	var typeLine, oracle, colors, keywords, tags sql.NullString
	var price sql.NullFloat64
	var embedding sql.NullString
	err := scanner.Scan(&c.ID, &c.Name, &typeLine, &oracle, &c.CMC, &colors, &price, &keywords, &tags, &embedding)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.TypeLine = typeLine.String
	c.OracleText = oracle.String
	if price.Valid {
		p := price.Float64
		c.PriceUSD = &p
	}
	if colors.Valid && colors.String != "" {
		if err := json.Unmarshal([]byte(colors.String), &c.ColorIdentity); err != nil {
			return c, fmt.Errorf("card %s color_identity: %w", c.Name, err)
		}
	}
	if keywords.Valid && keywords.String != "" {
		if err := json.Unmarshal([]byte(keywords.String), &c.Keywords); err != nil {
			return c, fmt.Errorf("card %s keywords: %w", c.Name, err)
		}
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &c.ArchetypeTags); err != nil {
			return c, fmt.Errorf("card %s archetype_tags: %w", c.Name, err)
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &c.Embedding); err != nil {
			return c, fmt.Errorf("card %s embedding: %w", c.Name, err)
		}
	}
	return c, nil
}

const cardColumns = `id,name,type_line,oracle_text,cmc,color_identity,price_usd,keywords,archetype_tags,embedding`

// GetCardByName looks a card up by exact name.
func (r Repo) GetCardByName(ctx context.Context, name string) (domain.Card, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE name=?`, name)
	return scanCard(row)
}

// GetCard looks a card up by id.
func (r Repo) GetCard(ctx context.Context, id string) (domain.Card, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id=?`, id)
	return scanCard(row)
}

// CardsByNames resolves a name list, skipping unknown names.
func (r Repo) CardsByNames(ctx context.Context, names []string) ([]domain.Card, error) {
	var out []domain.Card
	for _, name := range names {
		card, err := r.GetCardByName(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, nil
}

// UpsertCard inserts or replaces one pool card with its precomputed role.
func (r Repo) UpsertCard(ctx context.Context, tx *sql.Tx, card domain.Card, role string, commanderLegal bool) error {
	colors, err := encodeJSON(card.ColorIdentity)
	if err != nil {
		return err
	}
	keywords, err := encodeJSON(card.Keywords)
	if err != nil {
		return err
	}
	tags, err := encodeJSON(card.ArchetypeTags)
	if err != nil {
		return err
	}
	var embedding any
	if len(card.Embedding) > 0 {
		s, err := encodeJSON(card.Embedding)
		if err != nil {
			return err
		}
		embedding = s
	}
	var price any
	if card.PriceUSD != nil {
		price = *card.PriceUSD
	}
	legal := 0
	if commanderLegal {
		legal = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO cards(id,name,type_line,oracle_text,cmc,color_identity,price_usd,keywords,archetype_tags,embedding,role,commander_legal)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		card.ID, card.Name, card.TypeLine, card.OracleText, card.CMC, colors, price, keywords, tags, embedding, role, legal)
	return err
}

// CountCards returns the pool size.
func (r Repo) CountCards(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&n)
	return n, err
}

// Candidates implements the candidate pool provider boundary: commander
// legal cards of the given role whose color identity is a subset of the
// commander's, excluding named cards, ordered by name for reproducibility.
func (r Repo) Candidates(ctx context.Context, role string, colorIdentity []string, exclude map[string]bool, limit int) ([]domain.Card, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE role=? AND commander_legal=1 ORDER BY name`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commanderColors := map[string]bool{}
	for _, c := range colorIdentity {
		commanderColors[c] = true
	}

	var out []domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		if exclude[card.Name] {
			continue
		}
		subset := true
		for _, c := range card.ColorIdentity {
			if !commanderColors[c] {
				subset = false
				break
			}
		}
		if !subset {
			continue
		}
		out = append(out, card)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// SearchCards runs one LLM search sub-query against the pool. A query
// whose requested colors fall outside the commander's identity matches
// nothing; per-card results are always restricted to that identity.
func (r Repo) SearchCards(ctx context.Context, q domain.SearchQuery, colorIdentity []string, exclude map[string]bool, limit int) ([]domain.Card, error) {
	if len(q.Colors) > 0 {
		allowed := map[string]bool{}
		for _, c := range colorIdentity {
			allowed[c] = true
		}
		for _, c := range q.Colors {
			if !allowed[c] {
				return nil, nil
			}
		}
	}
	query := `SELECT ` + cardColumns + ` FROM cards WHERE commander_legal=1`
	var args []any
	for _, frag := range q.OracleContains {
		query += ` AND LOWER(oracle_text) LIKE ?`
		args = append(args, "%"+frag+"%")
	}
	for _, frag := range q.TypeContains {
		query += ` AND LOWER(type_line) LIKE ?`
		args = append(args, "%"+frag+"%")
	}
	if q.CMCMin != nil {
		query += ` AND cmc >= ?`
		args = append(args, *q.CMCMin)
	}
	if q.CMCMax != nil {
		query += ` AND cmc <= ?`
		args = append(args, *q.CMCMax)
	}
	query += ` ORDER BY name`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commanderColors := map[string]bool{}
	for _, c := range colorIdentity {
		commanderColors[c] = true
	}
	var out []domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		if exclude[card.Name] {
			continue
		}
		subset := true
		for _, c := range card.ColorIdentity {
			if !commanderColors[c] {
				subset = false
				break
			}
		}
		if !subset {
			continue
		}
		out = append(out, card)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}
