package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"conclave/internal/domain"
)

// InsertPreference appends one pairwise judgment inside the caller's
// transaction. Rows are append-only.
func (r Repo) InsertPreference(ctx context.Context, tx *sql.Tx, p domain.PairwisePreference) error {
	identity, err := encodeJSON(p.Identity)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO preferences(id,identity_json,card_a_id,card_b_id,preference,context,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, identity, p.CardAID, p.CardBID, p.Preference, nullableStr(p.Context), p.CreatedAt)
	return err
}

// ListPreferences returns the full preference batch in insertion order.
func (r Repo) ListPreferences(ctx context.Context) ([]domain.PairwisePreference, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,identity_json,card_a_id,card_b_id,preference,COALESCE(context,''),created_at FROM preferences ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PairwisePreference
	for rows.Next() {
		var p domain.PairwisePreference
		var identity string
		if err := rows.Scan(&p.ID, &identity, &p.CardAID, &p.CardBID, &p.Preference, &p.Context, &p.CreatedAt); err != nil {
			return nil, err
		}
		if identity != "" {
			if err := json.Unmarshal([]byte(identity), &p.Identity); err != nil {
				return nil, fmt.Errorf("preference %s identity: %w", p.ID, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountPreferences returns the number of stored judgments.
func (r Repo) CountPreferences(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM preferences`).Scan(&n)
	return n, err
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
