package roles_test

import (
	"testing"

	"conclave/internal/roles"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		typeLine string
		oracle   string
		cmc      float64
		want     string
	}{
		{"basic land", "Basic Land — Forest", "({T}: Add {G}.)", 0, roles.Lands},
		{"utility land", "Land", "{T}: Add {C}. {T}, Sacrifice this land: draw a card.", 0, roles.Lands},
		{"land ramp spell", "Sorcery", "Search your library for a basic land card, put it onto the battlefield tapped.", 2, roles.Ramp},
		{"mana rock", "Artifact", "{T}: Add {C}{C}.", 1, roles.Ramp},
		{"mana dork", "Creature — Elf Druid", "{T}: Add {G}.", 1, roles.Ramp},
		{"expensive rock still ramps via text", "Artifact", "{T}: Add {W}{U}{B}{R}{G}.", 5, roles.Ramp},
		{"draw spell", "Instant", "Draw two cards.", 2, roles.Draw},
		{"enchantment draw", "Enchantment", "At the beginning of your upkeep, you draw a card and you lose 1 life.", 3, roles.Draw},
		{"creature cantrip is synergy", "Creature — Human Wizard", "When this creature enters, draw a card.", 3, roles.Synergy},
		{"spot removal", "Instant", "Destroy target creature.", 2, roles.Removal},
		{"board wipe", "Sorcery", "Destroy all creatures.", 4, roles.Removal},
		{"bounce", "Instant", "Return target nonland permanent to its owner's hand.", 1, roles.Removal},
		{"big mana value", "Sorcery", "Each player shuffles their graveyard into their library.", 8, roles.Wincons},
		{"explicit win condition", "Enchantment", "At the beginning of your upkeep, you win the game.", 5, roles.Wincons},
		{"big creature", "Creature — Dragon", "Flying, haste.", 6, roles.Wincons},
		{"plain synergy piece", "Enchantment", "Creatures you control have flying.", 3, roles.Synergy},
		{"no text", "Creature — Bear", "", 2, roles.Synergy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := roles.Classify(tc.typeLine, tc.oracle, tc.cmc); got != tc.want {
				t.Fatalf("Classify(%q) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestKnownAndDescription(t *testing.T) {
	for _, role := range roles.All() {
		if !roles.Known(role) {
			t.Fatalf("role %q not known", role)
		}
		if roles.Description(role) == "" {
			t.Fatalf("role %q has no description", role)
		}
	}
	if roles.Known("mana-rocks") {
		t.Fatal("unexpected role")
	}
}
