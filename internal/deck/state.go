package deck

import (
	"conclave/internal/archetype"
	"conclave/internal/domain"
	"conclave/internal/roles"
)

// State is the mutable in-progress selection. It is owned exclusively by
// the generation engine for the duration of a run; agents only ever see a
// trimmed snapshot. Identity is recomputed via Commit, never overwritten
// directly.
type State struct {
	Commander  domain.Card
	Cards      []domain.Card
	RoleCounts map[string]int
	Identity   domain.Identity
	Centroid   []float64 // nil until a committed card carries an embedding
	Keywords   map[string]struct{}

	embedded int // committed cards contributing to the centroid
}

// NewState seeds a state from a commander and an initial identity.
func NewState(commander domain.Card, identity domain.Identity) *State {
	return &State{
		Commander:  commander,
		RoleCounts: map[string]int{},
		Identity:   identity.Clone(),
		Keywords:   map[string]struct{}{},
	}
}

// Commit appends a card and folds it into role counts, identity, keyword
// union, and the embedding centroid in one step.
func (s *State) Commit(card domain.Card, tags map[string]float64, alpha float64) {
	s.Cards = append(s.Cards, card)

	role := roles.Classify(card.TypeLine, card.OracleText, card.CMC)
	s.RoleCounts[role]++

	s.Identity = archetype.UpdateIdentity(s.Identity, tags, alpha)

	for _, kw := range card.Keywords {
		s.Keywords[kw] = struct{}{}
	}

	if len(card.Embedding) > 0 {
		s.foldEmbedding(card.Embedding)
	}
}

// foldEmbedding maintains a running mean over committed embeddings.
func (s *State) foldEmbedding(vec []float64) {
	if s.Centroid == nil {
		s.Centroid = make([]float64, len(vec))
		copy(s.Centroid, vec)
		s.embedded = 1
		return
	}
	if len(vec) != len(s.Centroid) {
		return
	}
	n := float64(s.embedded)
	for i := range s.Centroid {
		s.Centroid[i] = (s.Centroid[i]*n + vec[i]) / (n + 1)
	}
	s.embedded++
}

// Snapshot is the read-only view of a state handed to scoring and to
// rule-based agents. Mutating a snapshot never touches the state.
type Snapshot struct {
	Identity   domain.Identity
	Centroid   []float64
	Keywords   map[string]struct{}
	RoleCounts map[string]int
}

// Snapshot captures the current state for read-only consumers.
func (s *State) Snapshot() Snapshot {
	keywords := make(map[string]struct{}, len(s.Keywords))
	for k := range s.Keywords {
		keywords[k] = struct{}{}
	}
	counts := make(map[string]int, len(s.RoleCounts))
	for k, v := range s.RoleCounts {
		counts[k] = v
	}
	var centroid []float64
	if s.Centroid != nil {
		centroid = append([]float64{}, s.Centroid...)
	}
	return Snapshot{
		Identity:   s.Identity.Clone(),
		Centroid:   centroid,
		Keywords:   keywords,
		RoleCounts: counts,
	}
}

// CardNames returns committed card names in commit order.
func (s *State) CardNames() []string {
	names := make([]string, 0, len(s.Cards))
	for _, c := range s.Cards {
		names = append(names, c.Name)
	}
	return names
}

// Contains reports whether a card name is already committed.
func (s *State) Contains(name string) bool {
	for _, c := range s.Cards {
		if c.Name == name {
			return true
		}
	}
	return false
}
