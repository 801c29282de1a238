package deck

import (
	"sort"

	"conclave/internal/domain"
	"conclave/internal/roles"
)

// Metrics computes coherence metrics over the committed nonland cards.
// Purity is the strongest identity weight, concentration is the Gini
// coefficient over all identity weights, and the synergy ratio is the
// share of committed slots the synergy role claimed.
func (s *State) Metrics() domain.CoherenceMetrics {
	values := make([]float64, 0, len(s.Identity))
	purity := 0.0
	for _, v := range s.Identity {
		values = append(values, v)
		if v > purity {
			purity = v
		}
	}

	balance := make(map[string]int, len(s.RoleCounts))
	total := 0
	for role, count := range s.RoleCounts {
		balance[role] = count
		if role != roles.Lands {
			total += count
		}
	}
	ratio := 0.0
	if total > 0 {
		ratio = float64(s.RoleCounts[roles.Synergy]) / float64(total)
	}

	return domain.CoherenceMetrics{
		ArchetypePurity:       purity,
		IdentityConcentration: gini(values),
		SynergyRatio:          ratio,
		RoleBalance:           balance,
	}
}

// gini measures concentration over non-negative values: 0 when all
// weights are equal, approaching 1 when one archetype dominates.
func gini(values []float64) float64 {
	kept := make([]float64, 0, len(values))
	total := 0.0
	for _, v := range values {
		if v < 0 {
			continue
		}
		kept = append(kept, v)
		total += v
	}
	if len(kept) == 0 || total == 0 {
		return 0
	}
	sort.Float64s(kept)
	n := float64(len(kept))
	cumulative := 0.0
	for i, v := range kept {
		cumulative += float64(i+1) * v
	}
	return (2*cumulative)/(n*total) - (n+1)/n
}
