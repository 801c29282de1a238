package domain

// Identity maps archetype name to a weight in [0,1].
type Identity map[string]float64

// Clone returns a copy so callers never share the underlying map.
func (id Identity) Clone() Identity {
	out := make(Identity, len(id))
	for k, v := range id {
		out[k] = v
	}
	return out
}

// Card is an immutable scoring candidate. Scoring never mutates a Card.
type Card struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	TypeLine      string             `json:"type_line,omitempty"`
	OracleText    string             `json:"oracle_text,omitempty"`
	CMC           float64            `json:"cmc"`
	ColorIdentity []string           `json:"color_identity,omitempty"`
	PriceUSD      *float64           `json:"price_usd,omitempty"`
	Keywords      []string           `json:"keywords,omitempty"`
	ArchetypeTags map[string]float64 `json:"archetype_tags,omitempty"`
	Embedding     []float64          `json:"embedding,omitempty"`
}

// ObjectiveWeights are relative goal priorities, each in [0,1].
type ObjectiveWeights struct {
	Power       float64 `json:"power"`
	Theme       float64 `json:"theme"`
	Budget      float64 `json:"budget"`
	Consistency float64 `json:"consistency"`
	Novelty     float64 `json:"novelty"`
}

// DefaultObjectives returns the weights used when a brief omits them.
func DefaultObjectives() ObjectiveWeights {
	return ObjectiveWeights{Power: 0.5, Theme: 0.5, Budget: 0.5, Consistency: 0.5, Novelty: 0.0}
}

// DeckConstraints are hard/soft limits for generation.
type DeckConstraints struct {
	MaxTotalPriceUSD *float64 `json:"max_total_price_usd,omitempty"`
	CardPriceCapUSD  *float64 `json:"card_price_cap_usd,omitempty"`
	MustInclude      []string `json:"must_include,omitempty"`
	MustExclude      []string `json:"must_exclude,omitempty"`
}

// DeckBrief is the immutable generation request.
type DeckBrief struct {
	Commander   string           `json:"commander"`
	Seeds       []string         `json:"seeds,omitempty"`
	Objectives  ObjectiveWeights `json:"objectives"`
	Constraints DeckConstraints  `json:"constraints"`
}

// AgentTask is the wire contract every agent accepts.
type AgentTask struct {
	Role          string   `json:"role"`
	Count         int      `json:"count"`
	CommanderName string   `json:"commander_name"`
	CommanderText string   `json:"commander_text,omitempty"`
	DeckCards     []string `json:"deck_cards,omitempty"`
}

// AgentOpinion is one agent's ranked answer to one task. An empty ranking
// is a valid result, not an error.
type AgentOpinion struct {
	AgentID string             `json:"agent_id"`
	Ranked  []string           `json:"ranked"`
	Scores  map[string]float64 `json:"scores,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	Weight  float64            `json:"weight"`
	Failed  bool               `json:"failed,omitempty"`
}

// VotingResult is a deterministic aggregation of opinions.
type VotingResult struct {
	Ranked        []string       `json:"ranked"`
	Contributions []AgentOpinion `json:"contributions"`
	Strategy      string         `json:"strategy"`
}

// RoundResult records one orchestration round for attribution.
type RoundResult struct {
	TraceID   string         `json:"trace_id"`
	Round     int            `json:"round"`
	Role      string         `json:"role"`
	Requested int            `json:"requested"`
	Selected  []string       `json:"selected"`
	Opinions  []AgentOpinion `json:"opinions"`
	Strategy  string         `json:"strategy"`
}

// GenerationResult is the terminal output of one generation run: whatever
// partial deck was built plus every round that yielded no candidate.
type GenerationResult struct {
	DeckID      string           `json:"deck_id"`
	TraceID     string           `json:"trace_id"`
	Commander   string           `json:"commander"`
	Cards       []Card           `json:"cards"`
	Identity    Identity         `json:"identity"`
	Rounds      []RoundResult    `json:"rounds"`
	EmptyRounds []RoundResult    `json:"empty_rounds,omitempty"`
	Metrics     CoherenceMetrics `json:"metrics"`
}

// CoherenceMetrics summarizes how focused a finished deck is: how pure
// its dominant archetype is, how concentrated the identity vector is
// (Gini coefficient), and what share of nonland slots went to synergy.
type CoherenceMetrics struct {
	ArchetypePurity       float64        `json:"archetype_purity"`
	IdentityConcentration float64        `json:"identity_concentration"`
	SynergyRatio          float64        `json:"synergy_ratio"`
	RoleBalance           map[string]int `json:"role_balance,omitempty"`
}

// PairwisePreference is an append-only human judgment sample.
// Preference is -2..2: negative favors card B, positive favors card A.
type PairwisePreference struct {
	ID         string   `json:"id"`
	Identity   Identity `json:"deck_identity_vector"`
	CardAID    string   `json:"card_a_id"`
	CardBID    string   `json:"card_b_id"`
	Preference int      `json:"preference"`
	Context    string   `json:"context,omitempty"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

// SearchQuery is the LLM search sub-schema for pool self-queries.
type SearchQuery struct {
	OracleContains []string `json:"oracle_contains,omitempty"`
	TypeContains   []string `json:"type_contains,omitempty"`
	CMCMin         *float64 `json:"cmc_min,omitempty"`
	CMCMax         *float64 `json:"cmc_max,omitempty"`
	Colors         []string `json:"colors,omitempty"`
}
