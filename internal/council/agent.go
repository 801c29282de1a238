package council

import (
	"context"
	"errors"
	"fmt"

	"conclave/internal/deck"
	"conclave/internal/domain"
	"conclave/internal/roles"
)

// Task is the unit of work dispatched to every agent in a round: the wire
// AgentTask plus the candidate pool snapshot and the current identity.
// Agents never see, and cannot mutate, the deck state itself.
type Task struct {
	domain.AgentTask
	TraceID        string
	Candidates     []domain.Card
	Identity       domain.Identity
	Snapshot       deck.Snapshot
	Brief          domain.DeckBrief
	DebateOpinions []domain.AgentOpinion // set only for a debate adjudicator
}

// Agent is the single capability every variant implements. Weight is used
// only during voting, never inside an agent's own ranking.
type Agent interface {
	ID() string
	Weight() float64
	Rank(ctx context.Context, task Task) (domain.AgentOpinion, error)
}

// transientError marks failures worth retrying (timeouts, rate limits,
// upstream 5xx). Anything else is treated as final.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so the router will retry it with backoff.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ValidateTask checks the task contract. A violation degrades to an empty
// opinion at the call site; it is never fatal.
func ValidateTask(task Task) error {
	if !roles.Known(task.Role) {
		return fmt.Errorf("unknown role %q", task.Role)
	}
	if task.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", task.Count)
	}
	return nil
}

// emptyOpinion is the degraded result for failed or invalid agent calls.
func emptyOpinion(agentID string, weight float64, failed bool) domain.AgentOpinion {
	return domain.AgentOpinion{AgentID: agentID, Ranked: []string{}, Weight: weight, Failed: failed}
}

// candidateNames builds the valid-name set used to drop out-of-pool
// entries from LLM output.
func candidateNames(candidates []domain.Card) map[string]bool {
	names := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		names[c.Name] = true
	}
	return names
}
