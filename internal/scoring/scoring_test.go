package scoring_test

import (
	"math"
	"testing"

	"conclave/internal/archetype"
	"conclave/internal/deck"
	"conclave/internal/domain"
	"conclave/internal/scoring"
)

func newEngine() scoring.Engine {
	return scoring.New(archetype.Default())
}

func emptySnapshot() deck.Snapshot {
	return deck.Snapshot{
		Identity:   domain.Identity{},
		Keywords:   map[string]struct{}{},
		RoleCounts: map[string]int{},
	}
}

func approx(t *testing.T, got, want float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s: got %v, want %v", msg, got, want)
	}
}

func TestColdStartNeutral(t *testing.T) {
	e := newEngine()
	card := domain.Card{ID: "c1", Name: "Plain Creature", TypeLine: "Creature", CMC: 3}
	b := e.ScoreWithBreakdown(card, emptySnapshot(), domain.DeckBrief{}, nil)

	approx(t, b.Embedding, 0.5, "embedding with no centroid")
	approx(t, b.Archetype, 0.5, "archetype with empty identity")
	approx(t, b.Keyword, 0, "keyword with empty deck")
	approx(t, b.Learned, 0.5, "learned with nil model")
	// 0.25*0.5 + 0.35*0.5 + 0.20*0 + 0.20*0.5
	approx(t, b.RawBlend, 0.4, "cold-start blend")
	// zero objective weights are fully neutral
	approx(t, b.ObjectiveFit, 1.0, "objective fit without objectives")
	approx(t, b.Score, 0.4, "cold-start score")
}

func TestScoreDeterministic(t *testing.T) {
	e := newEngine()
	card := domain.Card{
		ID: "c1", Name: "Token Maker", TypeLine: "Sorcery",
		OracleText: "Create a 1/1 white Soldier creature token.",
		Keywords:   []string{"Lifelink"},
	}
	snap := deck.Snapshot{
		Identity:   domain.Identity{"tokens": 1.0},
		Keywords:   map[string]struct{}{"Lifelink": {}, "Flying": {}},
		RoleCounts: map[string]int{"synergy": 5},
	}
	brief := domain.DeckBrief{Objectives: domain.DefaultObjectives()}
	first := e.Score(card, snap, brief, nil)
	for i := 0; i < 10; i++ {
		if got := e.Score(card, snap, brief, nil); got != first {
			t.Fatalf("score changed between identical calls: %v vs %v", got, first)
		}
	}
}

func TestScoreBoundedByBlend(t *testing.T) {
	e := newEngine()
	cards := []domain.Card{
		{ID: "a", Name: "A", TypeLine: "Creature", CMC: 2, Keywords: []string{"Flying"}},
		{ID: "b", Name: "B", TypeLine: "Sorcery", OracleText: "Create a token.", CMC: 4},
		{ID: "c", Name: "C", TypeLine: "Instant", OracleText: "Counter target spell.", CMC: 2},
	}
	snap := deck.Snapshot{
		Identity:   domain.Identity{"control": 0.8, "tokens": 0.4},
		Keywords:   map[string]struct{}{"Flying": {}},
		RoleCounts: map[string]int{},
	}
	brief := domain.DeckBrief{Objectives: domain.DefaultObjectives()}
	for _, card := range cards {
		b := e.ScoreWithBreakdown(card, snap, brief, nil)
		if b.Score < 0 {
			t.Fatalf("card %s: score %v below zero", card.Name, b.Score)
		}
		if b.Score > b.RawBlend+1e-9 {
			t.Fatalf("card %s: score %v exceeds raw blend %v", card.Name, b.Score, b.RawBlend)
		}
		if b.RolePenalty == 1.0 && b.Score < b.RawBlend*0.5-1e-9 {
			t.Fatalf("card %s: score %v below half the blend %v", card.Name, b.Score, b.RawBlend)
		}
	}
}

func TestEmbeddingSimilarity(t *testing.T) {
	e := newEngine()
	snap := emptySnapshot()
	snap.Centroid = []float64{1, 0}
	brief := domain.DeckBrief{}

	aligned := domain.Card{ID: "a", Name: "A", Embedding: []float64{2, 0}}
	approx(t, e.ScoreWithBreakdown(aligned, snap, brief, nil).Embedding, 1.0, "aligned vectors")

	opposed := domain.Card{ID: "b", Name: "B", Embedding: []float64{-1, 0}}
	approx(t, e.ScoreWithBreakdown(opposed, snap, brief, nil).Embedding, 0, "opposed vectors floor at zero")

	mismatched := domain.Card{ID: "c", Name: "C", Embedding: []float64{1, 0, 0}}
	approx(t, e.ScoreWithBreakdown(mismatched, snap, brief, nil).Embedding, 0.5, "dimension mismatch is neutral")
}

func TestKeywordOverlapJaccard(t *testing.T) {
	e := newEngine()
	snap := emptySnapshot()
	snap.Keywords = map[string]struct{}{"Flying": {}}
	card := domain.Card{ID: "a", Name: "A", Keywords: []string{"Flying", "Haste"}}
	// intersection 1, union 2
	approx(t, e.ScoreWithBreakdown(card, snap, domain.DeckBrief{}, nil).Keyword, 0.5, "jaccard overlap")
}

func TestRoleGatePenalty(t *testing.T) {
	e := newEngine()
	minimum := 2
	e.Gate.Minimums = map[string]*int{"ramp": &minimum}

	rampCard := domain.Card{
		ID: "r1", Name: "Mana Stone", TypeLine: "Artifact", CMC: 2,
		OracleText: "{T}: Add {C}.",
	}
	brief := domain.DeckBrief{}
	cases := []struct {
		count int
		want  float64
	}{
		{0, 1.0},
		{2, 1.0},  // at the minimum, no penalty yet
		{3, 0.9},  // one over
		{5, 0.7},  // three over
		{20, 0.5}, // floored
	}
	for _, tc := range cases {
		snap := emptySnapshot()
		snap.RoleCounts["ramp"] = tc.count
		got := e.ScoreWithBreakdown(rampCard, snap, brief, nil).RolePenalty
		approx(t, got, tc.want, "penalty at ramp count")
	}
}

func TestFlexNeverGated(t *testing.T) {
	e := newEngine()
	minimum := 0
	e.Gate.Minimums = map[string]*int{"flex": &minimum}
	snap := emptySnapshot()
	snap.RoleCounts["flex"] = 50

	// a card with no role signals classifies as synergy; force flex via a
	// plain utility artifact that matches no role pattern
	card := domain.Card{ID: "f1", Name: "Trinket", TypeLine: "Artifact", CMC: 4}
	got := e.ScoreWithBreakdown(card, snap, domain.DeckBrief{}, nil).RolePenalty
	approx(t, got, 1.0, "synergy/flex cards bypass the gate")
}

func TestBudgetObjective(t *testing.T) {
	e := newEngine()
	snap := emptySnapshot()
	cap := 5.0
	brief := domain.DeckBrief{
		Objectives:  domain.ObjectiveWeights{Budget: 1.0},
		Constraints: domain.DeckConstraints{CardPriceCapUSD: &cap},
	}

	expensive := 9.0
	over := domain.Card{ID: "a", Name: "A", PriceUSD: &expensive}
	approx(t, e.ScoreWithBreakdown(over, snap, brief, nil).ObjectiveFit, 0, "over the card cap")

	unknown := domain.Card{ID: "b", Name: "B"}
	approx(t, e.ScoreWithBreakdown(unknown, snap, brief, nil).ObjectiveFit, 0.5, "unknown price is neutral")

	cheap := 1.0
	under := domain.Card{ID: "c", Name: "C", PriceUSD: &cheap}
	approx(t, e.ScoreWithBreakdown(under, snap, brief, nil).ObjectiveFit, 0.8, "linear decay against the cap")
}

type fixedModel struct{ v float64 }

func (m fixedModel) Predict(map[string]float64, domain.Identity) float64 { return m.v }

func TestLearnedSignalUsesModel(t *testing.T) {
	e := newEngine()
	card := domain.Card{ID: "a", Name: "A"}
	b := e.ScoreWithBreakdown(card, emptySnapshot(), domain.DeckBrief{}, fixedModel{v: 0.9})
	approx(t, b.Learned, 0.9, "model prediction flows into the blend")
}
