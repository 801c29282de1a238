package council

import (
	"fmt"
	"sort"

	"conclave/internal/domain"
)

// BordaCount scores each of an agent's top-k entries with N-idx points
// (N = that agent's list length) times the agent's weight, summed across
// agents. Ties break by lexical card name so the result is deterministic
// regardless of input order.
func BordaCount(opinions []domain.AgentOpinion, topK int) []string {
	scores := map[string]float64{}
	for _, op := range opinions {
		n := len(op.Ranked)
		for idx, name := range op.Ranked {
			if idx >= topK {
				break
			}
			if name == "" {
				continue
			}
			scores[name] += float64(n-idx) * op.Weight
		}
	}
	return sortByScore(scores)
}

// MajorityVote gives each agent one weighted vote per top-k entry.
func MajorityVote(opinions []domain.AgentOpinion, topK int) []string {
	scores := map[string]float64{}
	for _, op := range opinions {
		for idx, name := range op.Ranked {
			if idx >= topK {
				break
			}
			if name == "" {
				continue
			}
			scores[name] += op.Weight
		}
	}
	return sortByScore(scores)
}

func sortByScore(scores map[string]float64) []string {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		si, sj := scores[names[i]], scores[names[j]]
		if si == sj {
			return names[i] < names[j]
		}
		return si > sj
	})
	return names
}

// Aggregate merges opinions under the named strategy. Agents that returned
// empty lists contribute nothing; they never cause an error.
func Aggregate(opinions []domain.AgentOpinion, strategy string, topK int) (domain.VotingResult, error) {
	var ranked []string
	switch strategy {
	case "borda":
		ranked = BordaCount(opinions, topK)
	case "majority":
		ranked = MajorityVote(opinions, topK)
	default:
		return domain.VotingResult{}, fmt.Errorf("unknown voting strategy %q", strategy)
	}
	contributions := make([]domain.AgentOpinion, len(opinions))
	copy(contributions, opinions)
	sort.Slice(contributions, func(i, j int) bool { return contributions[i].AgentID < contributions[j].AgentID })
	return domain.VotingResult{Ranked: ranked, Contributions: contributions, Strategy: strategy}, nil
}
