package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conclave/internal/domain"
	"conclave/internal/events"
	"conclave/internal/learner"
)

// IngestPreference validates and appends one pairwise judgment. Both
// cards must exist in the pool; the sample is otherwise opaque to the
// engine until the next full retrain.
func (e Engine) IngestPreference(ctx context.Context, pref domain.PairwisePreference) (domain.PairwisePreference, error) {
	if err := learner.ValidatePreference(pref); err != nil {
		return pref, err
	}
	if _, err := e.Repo.GetCard(ctx, pref.CardAID); err != nil {
		return pref, fmt.Errorf("card_a %q: %w", pref.CardAID, err)
	}
	if _, err := e.Repo.GetCard(ctx, pref.CardBID); err != nil {
		return pref, fmt.Errorf("card_b %q: %w", pref.CardBID, err)
	}
	if pref.ID == "" {
		pref.ID = uuid.NewString()
	}
	pref.CreatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return pref, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPreference(ctx, tx, pref); err != nil {
		return pref, err
	}
	if err := e.Events.Append(ctx, tx, "training.preference", "", "preference", pref.ID, events.EventPayload{
		"card_a": pref.CardAID, "card_b": pref.CardBID, "preference": pref.Preference,
	}); err != nil {
		return pref, err
	}
	return pref, tx.Commit()
}

// TrainModel rebuilds the synergy model from every stored preference and
// persists it as a new version. Retraining is a full rebuild, never an
// incremental update.
func (e Engine) TrainModel(ctx context.Context) (*learner.Model, error) {
	prefs, err := e.Repo.ListPreferences(ctx)
	if err != nil {
		return nil, err
	}
	prior, err := e.Repo.LatestModel(ctx)
	if err != nil {
		return nil, err
	}

	tagsOf := func(cardID string) (map[string]float64, bool) {
		card, err := e.Repo.GetCard(ctx, cardID)
		if err != nil {
			return nil, false
		}
		tags := card.ArchetypeTags
		if tags == nil {
			tags = e.Taxonomy.ExtractTags(card)
		}
		return tags, true
	}
	model := learner.Train(prefs, tagsOf, prior)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	createdAt := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.SaveModel(ctx, tx, model, createdAt); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "learner.trained", "", "model", fmt.Sprintf("%d", model.Version), events.EventPayload{
		"version": model.Version, "samples": model.Samples,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return model, nil
}

// TrainingStats summarizes the learner's current standing.
type TrainingStats struct {
	Preferences  int      `json:"preferences"`
	ModelVersion int      `json:"model_version"`
	Samples      int      `json:"samples"`
	Trained      bool     `json:"trained"`
	TopWeights   []string `json:"top_weights,omitempty"`
}

// Stats reports preference and model counts for the training surface.
func (e Engine) Stats(ctx context.Context) (TrainingStats, error) {
	var stats TrainingStats
	count, err := e.Repo.CountPreferences(ctx)
	if err != nil {
		return stats, err
	}
	stats.Preferences = count
	model, err := e.Repo.LatestModel(ctx)
	if err != nil {
		return stats, err
	}
	if model != nil {
		stats.ModelVersion = model.Version
		stats.Samples = model.Samples
		stats.Trained = model.Trained()
		stats.TopWeights = model.TopWeights(5)
	}
	return stats, nil
}
