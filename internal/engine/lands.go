package engine

import "sort"

// basicLandNames maps a color letter to its basic land.
var basicLandNames = map[string]string{
	"W": "Plains",
	"U": "Island",
	"B": "Swamp",
	"R": "Mountain",
	"G": "Forest",
	"C": "Wastes",
}

// LandDistribution splits the land budget across the commander's colors.
// Colorless decks get Wastes, monocolor decks get a single basic, and
// multicolor decks reserve one slot for Command Tower before distributing
// the rest equally, remainder to the alphabetically first colors.
func LandDistribution(colorIdentity []string, totalLands int) map[string]int {
	if totalLands <= 0 {
		return map[string]int{}
	}
	if len(colorIdentity) == 0 {
		return map[string]int{"C": totalLands}
	}
	if len(colorIdentity) == 1 {
		return map[string]int{colorIdentity[0]: totalLands}
	}

	colors := append([]string(nil), colorIdentity...)
	sort.Strings(colors)

	basics := totalLands - 1 // one slot for Command Tower
	per := basics / len(colors)
	remainder := basics % len(colors)

	distribution := make(map[string]int, len(colors))
	for i, color := range colors {
		count := per
		if i < remainder {
			count++
		}
		distribution[color] = count
	}
	return distribution
}

// NeedsCommandTower reports whether the deck runs two or more colors.
func NeedsCommandTower(colorIdentity []string) bool {
	return len(colorIdentity) > 1
}
