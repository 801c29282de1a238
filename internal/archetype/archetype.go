package archetype

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"conclave/internal/domain"
)

// Definition describes one archetype and its indicator patterns. The
// taxonomy is data, not logic: operators can extend it via a YAML file.
type Definition struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Weight       float64  `yaml:"weight"`
	TextPatterns []string `yaml:"text_patterns"`
	TypePatterns []string `yaml:"type_patterns"`
	NamePatterns []string `yaml:"name_patterns"`
}

// Taxonomy is an ordered archetype set used for deterministic extraction.
type Taxonomy struct {
	Definitions []Definition
}

// Default returns the built-in archetype taxonomy.
func Default() Taxonomy {
	return Taxonomy{Definitions: []Definition{
		{
			Name:        "voltron",
			Description: "Commander damage, protection, evasion, auras/equipment.",
			Weight:      0.6,
			TextPatterns: []string{
				"commander damage", "double strike", "hexproof", "indestructible",
				"protection from", "enchanted creature gets", "equipped creature", "attach",
			},
			TypePatterns: []string{"aura", "equipment"},
		},
		{
			Name:         "equipment",
			Description:  "Equipment-focused strategy.",
			Weight:       0.7,
			TextPatterns: []string{"equip", "equipped creature"},
			TypePatterns: []string{"equipment"},
		},
		{
			Name:         "spellslinger",
			Description:  "Instants/sorceries matter, copy, storm.",
			Weight:       0.6,
			TextPatterns: []string{"when you cast", "copy target", "magecraft", "storm"},
			TypePatterns: []string{"instant", "sorcery"},
		},
		{
			Name:         "aristocrats",
			Description:  "Sacrifice and death triggers.",
			Weight:       0.6,
			TextPatterns: []string{"sacrifice a creature", "when a creature dies", "dies"},
			NamePatterns: []string{"blood artist", "zulaport"},
		},
		{
			Name:        "tribal",
			Description: "Creature type synergies and lords.",
			Weight:      0.5,
			TextPatterns: []string{
				"choose a creature type", "creature type",
				"other creatures you control", "creatures you control get",
			},
			TypePatterns: []string{"tribal"},
		},
		{
			Name:         "tokens",
			Description:  "Token generation and go-wide payoffs.",
			Weight:       0.6,
			TextPatterns: []string{"create a", "token", "populate"},
		},
		{
			Name:         "control",
			Description:  "Reactive answers and permission.",
			Weight:       0.5,
			TextPatterns: []string{"counter target", "destroy all", "exile all"},
		},
		{
			Name:         "combo",
			Description:  "Tutor and combo-enabling pieces.",
			Weight:       0.4,
			TextPatterns: []string{"search your library", "tutor", "untap all"},
		},
		{
			Name:        "reanimator",
			Description: "Graveyard recursion.",
			Weight:      0.6,
			TextPatterns: []string{
				"return target creature card from your graveyard",
				"return target creature card from a graveyard",
				"reanimate",
			},
		},
		{
			Name:         "stax",
			Description:  "Tax and resource denial.",
			Weight:       0.6,
			TextPatterns: []string{"players can't", "can't untap", "unless they pay"},
		},
		{
			Name:         "landfall",
			Description:  "Land-based triggers and extra land drops.",
			Weight:       0.6,
			TextPatterns: []string{"landfall", "whenever a land enters", "play an additional land"},
		},
		{
			Name:         "plus1_counters",
			Description:  "+1/+1 counter synergies.",
			Weight:       0.6,
			TextPatterns: []string{"+1/+1 counter", "proliferate"},
		},
		{
			Name:         "enchantress",
			Description:  "Enchantment-focused value.",
			Weight:       0.6,
			TextPatterns: []string{"constellation", "enchantment"},
			TypePatterns: []string{"enchantment"},
		},
		{
			Name:         "wheels",
			Description:  "Hand refills and wheel effects.",
			Weight:       0.6,
			TextPatterns: []string{"discard your hand", "draw seven", "each player discards"},
		},
	}}
}

// LoadTaxonomy reads archetype definitions from a YAML file. A missing
// path returns the default taxonomy.
func LoadTaxonomy(path string) (Taxonomy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Taxonomy{}, err
	}
	var defs []Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return Taxonomy{}, fmt.Errorf("invalid taxonomy yaml: %w", err)
	}
	for i, def := range defs {
		if def.Name == "" {
			return Taxonomy{}, fmt.Errorf("taxonomy entry %d has no name", i)
		}
		if def.Weight <= 0 || def.Weight > 1 {
			return Taxonomy{}, fmt.Errorf("archetype %s weight must be in (0,1]", def.Name)
		}
	}
	if len(defs) == 0 {
		return Default(), nil
	}
	return Taxonomy{Definitions: defs}, nil
}

func countMatches(text string, patterns []string) int {
	n := 0
	for _, p := range patterns {
		if p != "" && strings.Contains(text, p) {
			n++
		}
	}
	return n
}

// ExtractTags derives per-archetype weights for a card from pattern
// matches, each capped at 1.0.
func (t Taxonomy) ExtractTags(card domain.Card) map[string]float64 {
	oracle := strings.ToLower(card.OracleText)
	typeLine := strings.ToLower(card.TypeLine)
	name := strings.ToLower(card.Name)

	tags := map[string]float64{}
	for _, def := range t.Definitions {
		matches := countMatches(oracle, def.TextPatterns) +
			countMatches(typeLine, def.TypePatterns) +
			countMatches(name, def.NamePatterns)
		if matches > 0 {
			w := def.Weight * float64(matches)
			if w > 1.0 {
				w = 1.0
			}
			tags[def.Name] = w
		}
	}
	return tags
}

// ExtractIdentity builds the initial identity from commander plus seeds:
// per-archetype max over all cards, normalized so the max weight is 1.0.
func (t Taxonomy) ExtractIdentity(commander domain.Card, seeds []domain.Card) domain.Identity {
	identity := domain.Identity{}
	for _, card := range append([]domain.Card{commander}, seeds...) {
		for arch, w := range t.ExtractTags(card) {
			if w > identity[arch] {
				identity[arch] = w
			}
		}
	}
	if len(identity) == 0 {
		return domain.Identity{}
	}
	maxW := 0.0
	for _, w := range identity {
		if w > maxW {
			maxW = w
		}
	}
	if maxW <= 0 {
		return domain.Identity{}
	}
	for arch, w := range identity {
		identity[arch] = w / maxW
	}
	return identity
}

// UpdateIdentity blends a card's tags into the identity with an
// exponential moving average over the union of keys.
func UpdateIdentity(identity domain.Identity, tags map[string]float64, alpha float64) domain.Identity {
	if alpha <= 0 || len(tags) == 0 {
		return identity.Clone()
	}
	updated := identity.Clone()
	keys := map[string]struct{}{}
	for k := range updated {
		keys[k] = struct{}{}
	}
	for k := range tags {
		keys[k] = struct{}{}
	}
	for k := range keys {
		updated[k] = updated[k]*(1-alpha) + tags[k]*alpha
	}
	return updated
}

// ClampRefinement bounds an LLM-proposed replacement vector to within 0.2
// of the deterministic baseline per archetype. Archetypes the proposal
// introduces are clamped against a baseline of zero.
func ClampRefinement(baseline, proposed domain.Identity) domain.Identity {
	const maxShift = 0.2
	refined := domain.Identity{}
	keys := map[string]struct{}{}
	for k := range baseline {
		keys[k] = struct{}{}
	}
	for k := range proposed {
		keys[k] = struct{}{}
	}
	for k := range keys {
		base := baseline[k]
		v, ok := proposed[k]
		if !ok {
			v = base
		}
		if v > base+maxShift {
			v = base + maxShift
		}
		if v < base-maxShift {
			v = base - maxShift
		}
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		refined[k] = v
	}
	return refined
}

// ScoreForIdentity measures weighted agreement between card tags and the
// identity, normalized by the identity weight sum. Zero on empty identity.
func ScoreForIdentity(tags map[string]float64, identity domain.Identity) float64 {
	if len(identity) == 0 {
		return 0
	}
	weightSum := 0.0
	for _, w := range identity {
		weightSum += w
	}
	if weightSum <= 0 {
		return 0
	}
	score := 0.0
	for arch, w := range identity {
		score += tags[arch] * w
	}
	return score / weightSum
}

// ComputeIdentityFromDeck replays extraction plus incremental blending over
// an ordered card history, producing the same path-dependent identity the
// generator would reach.
func (t Taxonomy) ComputeIdentityFromDeck(commander domain.Card, cards []domain.Card, alpha float64) domain.Identity {
	identity := t.ExtractIdentity(commander, nil)
	for _, card := range cards {
		identity = UpdateIdentity(identity, t.ExtractTags(card), alpha)
	}
	return identity
}
