package roles

import "strings"

const (
	Lands   = "lands"
	Ramp    = "ramp"
	Draw    = "draw"
	Removal = "removal"
	Wincons = "wincons"
	Synergy = "synergy"
	Flex    = "flex"
)

var descriptions = map[string]string{
	Lands:   "Mana-producing or mana-fixing lands.",
	Ramp:    "Acceleration pieces that increase mana production or land count.",
	Draw:    "Repeatable or burst card draw and card advantage.",
	Removal: "Targeted or mass removal, interaction, or disruption.",
	Wincons: "Primary finishers or explicit win conditions.",
	Synergy: "Theme enablers and commander-specific synergies.",
	Flex:    "Utility slots that cover gaps not captured by other roles.",
}

// All returns the known role set in a stable order.
func All() []string {
	return []string{Lands, Ramp, Draw, Removal, Wincons, Synergy, Flex}
}

// Known reports whether role names a valid deck role.
func Known(role string) bool {
	_, ok := descriptions[role]
	return ok
}

// Description returns a short operator-facing description of a role.
func Description(role string) string {
	if d, ok := descriptions[role]; ok {
		return d
	}
	return "General support for the deck plan."
}

var rampPatterns = []string{
	"add {",
	"search your library for a land",
	"search your library for a basic land",
	"search your library for up to",
	"put a land card",
}

var drawPatterns = []string{
	"draw a card",
	"draw cards",
	"draw two cards",
	"draw three cards",
	"you draw",
	"target player draws",
}

var removalPatterns = []string{
	"destroy target",
	"destroy all",
	"exile target",
	"exile all",
	"return target",
	"return all",
	"gets -",
	"put target",
	"sacrifice target",
	"sacrifice all",
}

var winconPatterns = []string{
	"you win the game",
	"target player loses the game",
	"each opponent loses",
}

func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Classify assigns a card its primary deck role from type line, oracle
// text, and mana value. Cards that match nothing fall through to synergy.
func Classify(typeLine, oracleText string, cmc float64) string {
	typeLine = strings.ToLower(typeLine)
	oracleText = strings.ToLower(oracleText)

	if strings.Contains(typeLine, "land") {
		return Lands
	}
	if containsAny(oracleText, rampPatterns) {
		return Ramp
	}
	// Mana rocks and dorks: cheap permanents that tap for mana.
	if strings.Contains(typeLine, "artifact") && cmc <= 3 && strings.Contains(oracleText, "add {") {
		return Ramp
	}
	if strings.Contains(typeLine, "creature") && cmc <= 3 && strings.Contains(oracleText, "{t}: add {") {
		return Ramp
	}
	if containsAny(oracleText, drawPatterns) {
		// Creature cantrips are more likely synergy pieces than draw slots.
		if !(strings.Contains(typeLine, "creature") && strings.Contains(oracleText, "enters")) {
			return Draw
		}
	}
	if containsAny(oracleText, removalPatterns) {
		return Removal
	}
	if cmc >= 7 {
		return Wincons
	}
	if containsAny(oracleText, winconPatterns) {
		return Wincons
	}
	if strings.Contains(typeLine, "creature") && cmc >= 6 {
		return Wincons
	}
	return Synergy
}
