package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"conclave/internal/learner"
)

// SaveModel persists one trained model version inside the caller's
// transaction. Versions are append-only; retraining always writes a new
// row.
func (r Repo) SaveModel(ctx context.Context, tx *sql.Tx, m *learner.Model, createdAt string) error {
	weights, err := encodeJSON(m.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO learner_models(version,weights_json,bias,samples,created_at) VALUES (?,?,?,?,?)`,
		m.Version, weights, m.Bias, m.Samples, createdAt); err != nil {
		return fmt.Errorf("insert model: %w", err)
	}
	return nil
}

// LatestModel returns the highest persisted model version, or nil when no
// model has been trained yet.
func (r Repo) LatestModel(ctx context.Context) (*learner.Model, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT version,weights_json,bias,samples FROM learner_models ORDER BY version DESC LIMIT 1`)
	var m learner.Model
	var weights string
	err := row.Scan(&m.Version, &weights, &m.Bias, &m.Samples)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(weights), &m.Weights); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	return &m, nil
}
