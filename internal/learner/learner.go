package learner

import (
	"errors"
	"math"
	"sort"

	"conclave/internal/domain"
)

// ErrPreferenceRange rejects judgments outside the -2..2 scale.
var ErrPreferenceRange = errors.New("preference must be between -2 and 2")

// ValidatePreference checks the recorded judgment before it is stored.
func ValidatePreference(p domain.PairwisePreference) error {
	if p.Preference < -2 || p.Preference > 2 {
		return ErrPreferenceRange
	}
	if p.CardAID == "" || p.CardBID == "" {
		return errors.New("both card ids are required")
	}
	return nil
}

// Model is the trained synergy predictor: one weight per archetype plus a
// bias, fit over pairwise judgments. The zero value is the untrained
// cold-start model and predicts the neutral 0.5.
type Model struct {
	Version int                `json:"version"`
	Weights map[string]float64 `json:"weights"`
	Bias    float64            `json:"bias"`
	Samples int                `json:"samples"`
}

// Trained reports whether the model has been fit on at least one sample.
func (m *Model) Trained() bool {
	return m != nil && m.Samples > 0
}

// Predict returns a synergy estimate in (0,1) for a card's archetype tags
// against the deck identity. Untrained models return 0.5 exactly.
func (m *Model) Predict(tags map[string]float64, identity domain.Identity) float64 {
	if !m.Trained() {
		return 0.5
	}
	return sigmoid(m.activation(tags, identity))
}

func (m *Model) activation(tags map[string]float64, identity domain.Identity) float64 {
	z := m.Bias
	for arch, w := range m.Weights {
		z += w * tags[arch] * (1 + identity[arch])
	}
	return z
}

// TagsFunc resolves a card id to its archetype tags during training.
type TagsFunc func(cardID string) (map[string]float64, bool)

const (
	learningRate = 0.1
	epochs       = 50
)

// Train rebuilds the model in full from a preference batch. There is no
// incremental update: every invocation starts from scratch, so the same
// batch always yields the same model. Samples whose cards cannot be
// resolved are skipped, and a batch with no usable samples returns the
// untrained model.
func Train(prefs []domain.PairwisePreference, tagsOf TagsFunc, prior *Model) *Model {
	version := 1
	if prior != nil {
		version = prior.Version + 1
	}
	model := &Model{Version: version, Weights: map[string]float64{}}

	type sample struct {
		diff  map[string]float64 // tagA - tagB per archetype, identity-weighted
		label float64            // 1 favors A, 0 favors B
		mass  float64            // judgment strength
	}
	var samples []sample
	for _, p := range prefs {
		if p.Preference == 0 {
			continue
		}
		tagsA, okA := tagsOf(p.CardAID)
		tagsB, okB := tagsOf(p.CardBID)
		if !okA || !okB {
			continue
		}
		diff := map[string]float64{}
		keys := map[string]struct{}{}
		for k := range tagsA {
			keys[k] = struct{}{}
		}
		for k := range tagsB {
			keys[k] = struct{}{}
		}
		for k := range keys {
			scale := 1 + p.Identity[k]
			diff[k] = (tagsA[k] - tagsB[k]) * scale
		}
		label := 0.0
		if p.Preference > 0 {
			label = 1.0
		}
		samples = append(samples, sample{
			diff:  diff,
			label: label,
			mass:  math.Abs(float64(p.Preference)) / 2,
		})
	}
	if len(samples) == 0 {
		return model
	}

	for epoch := 0; epoch < epochs; epoch++ {
		for _, s := range samples {
			z := model.Bias
			for k, d := range s.diff {
				z += model.Weights[k] * d
			}
			grad := (sigmoid(z) - s.label) * s.mass
			model.Bias -= learningRate * grad
			for k, d := range s.diff {
				model.Weights[k] -= learningRate * grad * d
			}
		}
	}
	model.Samples = len(samples)
	return model
}

// TopWeights returns the strongest learned archetype weights for display.
func (m *Model) TopWeights(n int) []string {
	if !m.Trained() {
		return nil
	}
	keys := make([]string, 0, len(m.Weights))
	for k := range m.Weights {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		wi, wj := math.Abs(m.Weights[keys[i]]), math.Abs(m.Weights[keys[j]])
		if wi == wj {
			return keys[i] < keys[j]
		}
		return wi > wj
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
