package scoring

import (
	"math"

	"conclave/internal/archetype"
	"conclave/internal/deck"
	"conclave/internal/domain"
	"conclave/internal/roles"
)

// SignalWeights blend the four raw signals. They need not sum to 1.
type SignalWeights struct {
	EmbeddingSimilarity float64 `yaml:"embedding_similarity"`
	ArchetypeMatch      float64 `yaml:"archetype_match"`
	KeywordOverlap      float64 `yaml:"keyword_overlap"`
	LearnedSynergy      float64 `yaml:"learned_synergy"`
}

// DefaultSignalWeights returns the standard blend.
func DefaultSignalWeights() SignalWeights {
	return SignalWeights{
		EmbeddingSimilarity: 0.25,
		ArchetypeMatch:      0.35,
		KeywordOverlap:      0.20,
		LearnedSynergy:      0.20,
	}
}

// GateConfig is the soft role gate: once a role's count reaches its
// configured minimum, each extra unit multiplies the penalty down by
// Decrement, floored at Floor. A nil minimum disables the gate for that
// role.
type GateConfig struct {
	Minimums  map[string]*int `yaml:"minimums"`
	Decrement float64         `yaml:"decrement"`
	Floor     float64         `yaml:"floor"`
}

// DefaultGateConfig ships with no enforced minimums: gating is an operator
// opt-in decision.
func DefaultGateConfig() GateConfig {
	return GateConfig{Minimums: map[string]*int{}, Decrement: 0.1, Floor: 0.5}
}

// SynergyModel is the learned-synergy predictor. The zero value (or nil)
// must return the neutral 0.5.
type SynergyModel interface {
	Predict(tags map[string]float64, identity domain.Identity) float64
}

// RatingFunc supplies an external 0..1 rating (power, novelty) for a card.
type RatingFunc func(card domain.Card) float64

// Breakdown exposes every intermediate term for attribution and logging.
type Breakdown struct {
	Embedding    float64 `json:"embedding_similarity"`
	Archetype    float64 `json:"archetype_match"`
	Keyword      float64 `json:"keyword_overlap"`
	Learned      float64 `json:"learned_synergy"`
	RawBlend     float64 `json:"raw_blend"`
	ObjectiveFit float64 `json:"objective_fit"`
	RolePenalty  float64 `json:"role_penalty"`
	Score        float64 `json:"score"`
}

// Engine computes the blended per-card score.
type Engine struct {
	Taxonomy archetype.Taxonomy
	Signals  SignalWeights
	Gate     GateConfig
	Power    RatingFunc // external power rating, neutral when nil
	Novelty  RatingFunc // external novelty rating, neutral when nil
}

// New returns an Engine with default weights and gate.
func New(taxonomy archetype.Taxonomy) Engine {
	return Engine{
		Taxonomy: taxonomy,
		Signals:  DefaultSignalWeights(),
		Gate:     DefaultGateConfig(),
	}
}

const neutral = 0.5

// Score computes the candidate's score against the deck state and brief.
// The result never exceeds the raw blend and never drops below half of it.
func (e Engine) Score(card domain.Card, state deck.Snapshot, brief domain.DeckBrief, model SynergyModel) float64 {
	return e.ScoreWithBreakdown(card, state, brief, model).Score
}

// ScoreWithBreakdown is Score with every intermediate term reported.
func (e Engine) ScoreWithBreakdown(card domain.Card, state deck.Snapshot, brief domain.DeckBrief, model SynergyModel) Breakdown {
	tags := card.ArchetypeTags
	if tags == nil {
		tags = e.Taxonomy.ExtractTags(card)
	}

	var b Breakdown
	b.Embedding = embeddingSimilarity(card.Embedding, state.Centroid)
	b.Archetype = archetypeMatch(tags, state.Identity)
	b.Keyword = keywordOverlap(card.Keywords, state.Keywords)
	b.Learned = learnedSynergy(model, tags, state.Identity)

	w := e.Signals
	b.RawBlend = b.Embedding*w.EmbeddingSimilarity +
		b.Archetype*w.ArchetypeMatch +
		b.Keyword*w.KeywordOverlap +
		b.Learned*w.LearnedSynergy

	b.ObjectiveFit = e.objectiveFit(card, tags, state, brief)
	score := b.RawBlend * (0.5 + 0.5*b.ObjectiveFit)

	b.RolePenalty = e.rolePenalty(card, state)
	b.Score = score * b.RolePenalty
	return b
}

func embeddingSimilarity(vec, centroid []float64) float64 {
	if len(centroid) == 0 || len(vec) == 0 || len(vec) != len(centroid) {
		return neutral
	}
	// Negative similarity is floored so the blend stays non-negative.
	return clamp01(cosine(vec, centroid))
}

func archetypeMatch(tags map[string]float64, identity domain.Identity) float64 {
	if len(identity) == 0 {
		return neutral
	}
	return archetype.ScoreForIdentity(tags, identity)
}

func keywordOverlap(cardKeywords []string, deckKeywords map[string]struct{}) float64 {
	if len(cardKeywords) == 0 || len(deckKeywords) == 0 {
		return 0
	}
	inter := 0
	seen := map[string]struct{}{}
	for _, kw := range cardKeywords {
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if _, ok := deckKeywords[kw]; ok {
			inter++
		}
	}
	union := len(deckKeywords) + len(seen) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func learnedSynergy(model SynergyModel, tags map[string]float64, identity domain.Identity) float64 {
	if model == nil {
		return neutral
	}
	return model.Predict(tags, identity)
}

// objectiveFit is a weighted average over the objectives with positive
// weight, never multiplicative chaining. All weights zero means fully
// neutral: 1.0.
func (e Engine) objectiveFit(card domain.Card, tags map[string]float64, state deck.Snapshot, brief domain.DeckBrief) float64 {
	obj := brief.Objectives
	total := 0.0
	sum := 0.0
	add := func(weight, value float64) {
		if weight > 0 {
			total += weight
			sum += weight * value
		}
	}
	add(obj.Power, e.rate(e.Power, card))
	add(obj.Theme, themeFit(tags, state.Identity))
	add(obj.Budget, budgetFit(card.PriceUSD, brief.Constraints))
	add(obj.Consistency, consistencyFit(card.Keywords, state.Keywords))
	add(obj.Novelty, e.rate(e.Novelty, card))
	if total <= 0 {
		return 1.0
	}
	return sum / total
}

func (e Engine) rate(fn RatingFunc, card domain.Card) float64 {
	if fn == nil {
		return neutral
	}
	return clamp01(fn(card))
}

func themeFit(tags map[string]float64, identity domain.Identity) float64 {
	if len(identity) == 0 {
		return neutral
	}
	return archetype.ScoreForIdentity(tags, identity)
}

// budgetFit: 1.0 when no cap is configured, hard zero above the per-card
// cap, neutral for unknown prices, otherwise a linear decay to zero at the
// deck budget.
func budgetFit(price *float64, constraints domain.DeckConstraints) float64 {
	cap := constraints.CardPriceCapUSD
	total := constraints.MaxTotalPriceUSD
	if cap == nil && total == nil {
		return 1.0
	}
	if price == nil {
		return neutral
	}
	if cap != nil && *price > *cap {
		return 0
	}
	limit := 0.0
	if total != nil {
		limit = *total
	} else {
		limit = *cap
	}
	if limit <= 0 {
		return 0
	}
	return clamp01(1.0 - *price/limit)
}

// consistencyFit measures effect redundancy: the share of the card's
// keywords the deck already covers. Neutral when nothing is comparable.
func consistencyFit(cardKeywords []string, deckKeywords map[string]struct{}) float64 {
	if len(cardKeywords) == 0 || len(deckKeywords) == 0 {
		return neutral
	}
	hit := 0
	for _, kw := range cardKeywords {
		if _, ok := deckKeywords[kw]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(cardKeywords))
}

// rolePenalty applies the soft gate. Below the configured minimum (or with
// no minimum at all) the penalty is exactly 1.0. Role flex is never gated.
func (e Engine) rolePenalty(card domain.Card, state deck.Snapshot) float64 {
	role := roles.Classify(card.TypeLine, card.OracleText, card.CMC)
	if !roles.Known(role) || role == roles.Flex {
		return 1.0
	}
	min := e.Gate.Minimums[role]
	if min == nil {
		return 1.0
	}
	over := state.RoleCounts[role] - *min
	if over <= 0 {
		return 1.0
	}
	penalty := 1.0 - e.Gate.Decrement*float64(over)
	if penalty < e.Gate.Floor {
		penalty = e.Gate.Floor
	}
	return penalty
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return neutral
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
