package council

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"conclave/internal/archetype"
	"conclave/internal/config"
	"conclave/internal/domain"
	"conclave/internal/scoring"
)

// Router executes one council round under the configured topology. Each
// round walks Dispatch -> Collect -> Aggregate; Commit belongs to the
// generation engine, which owns the deck state.
type Router struct {
	cfg         *config.Config
	agents      []Agent
	adjudicator Agent
	debaters    []Agent
	sleep       func(time.Duration)
}

// NewRouter resolves the topology against concrete agents. Configuration
// errors are fatal here, before any agent call is made.
func NewRouter(cfg *config.Config, agents []Agent) (*Router, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("topology requires at least one agent")
	}
	r := &Router{cfg: cfg, agents: agents, sleep: time.Sleep}
	if cfg.Routing.Strategy == "debate" {
		adjID := cfg.Routing.DebateAdjudicatorID
		for _, a := range agents {
			if a.ID() == adjID {
				r.adjudicator = a
				continue
			}
			r.debaters = append(r.debaters, a)
		}
		if r.adjudicator == nil {
			return nil, fmt.Errorf("debate adjudicator %q is not among the routed agents", adjID)
		}
		if len(r.debaters) < 2 {
			return nil, fmt.Errorf("debate topology requires at least two debaters")
		}
		if len(r.debaters) > 2 {
			r.debaters = r.debaters[:2]
		}
	}
	return r, nil
}

// RunRound dispatches the task per topology, collects opinions with
// per-agent timeout and failover, and aggregates the consensus ranking.
func (r *Router) RunRound(ctx context.Context, task Task) (domain.VotingResult, error) {
	var opinions []domain.AgentOpinion
	switch r.cfg.Routing.Strategy {
	case "sequential":
		opinions = r.runSequential(ctx, task)
	case "debate":
		return r.runDebate(ctx, task)
	default:
		opinions = r.runParallel(ctx, task)
	}
	return Aggregate(opinions, r.cfg.Voting.Strategy, r.cfg.Voting.TopK)
}

// runParallel fans the same task out to every agent concurrently and
// waits for all of them, each under its own timeout.
func (r *Router) runParallel(ctx context.Context, task Task) []domain.AgentOpinion {
	opinions := make([]domain.AgentOpinion, len(r.agents))
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range r.agents {
		g.Go(func() error {
			opinions[i] = r.callWithRetry(gctx, agent, task)
			return nil
		})
	}
	_ = g.Wait()
	return opinions
}

// runSequential runs agents in declared order; each successful agent's
// ranking narrows the candidate list handed to the next. A failed agent is
// skipped and the chain continues with the input it received.
func (r *Router) runSequential(ctx context.Context, task Task) []domain.AgentOpinion {
	opinions := make([]domain.AgentOpinion, 0, len(r.agents))
	current := task
	for _, agent := range r.agents {
		op := r.callWithRetry(ctx, agent, current)
		opinions = append(opinions, op)
		if op.Failed || len(op.Ranked) == 0 {
			continue
		}
		byName := map[string]domain.Card{}
		for _, c := range current.Candidates {
			byName[c.Name] = c
		}
		narrowed := make([]domain.Card, 0, len(op.Ranked))
		for _, name := range op.Ranked {
			if c, ok := byName[name]; ok {
				narrowed = append(narrowed, c)
			}
		}
		if len(narrowed) > 0 {
			current.Candidates = narrowed
		}
	}
	return opinions
}

// runDebate runs the two debaters concurrently, then hands both opinions
// to the adjudicator, whose ranking is used verbatim as the round result.
// The generic voting aggregator is bypassed.
func (r *Router) runDebate(ctx context.Context, task Task) (domain.VotingResult, error) {
	debated := make([]domain.AgentOpinion, len(r.debaters))
	g, gctx := errgroup.WithContext(ctx)
	for i, agent := range r.debaters {
		g.Go(func() error {
			debated[i] = r.callWithRetry(gctx, agent, task)
			return nil
		})
	}
	_ = g.Wait()

	adjTask := task
	adjTask.DebateOpinions = debated
	verdict := r.callWithRetry(ctx, r.adjudicator, adjTask)

	contributions := append(append([]domain.AgentOpinion{}, debated...), verdict)
	return domain.VotingResult{
		Ranked:        verdict.Ranked,
		Contributions: contributions,
		Strategy:      "debate",
	}, nil
}

// callWithRetry applies the per-agent timeout and bounded backoff. Only
// transient failures are retried; an agent that keeps failing is degraded
// to an attributed empty opinion and never blocks the round.
func (r *Router) callWithRetry(ctx context.Context, agent Agent, task Task) domain.AgentOpinion {
	timeout := time.Duration(r.cfg.Routing.AgentTimeoutSeconds) * time.Second
	baseDelay := time.Duration(r.cfg.Routing.RetryBaseDelayMS) * time.Millisecond

	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		op, err := agent.Rank(callCtx, task)
		cancel()
		if err == nil {
			op.AgentID = agent.ID()
			op.Weight = agent.Weight()
			if op.Ranked == nil {
				op.Ranked = []string{}
			}
			return op
		}
		if !IsTransient(err) || attempt >= r.cfg.Routing.MaxRetries || ctx.Err() != nil {
			log.Printf("council: agent %s failed: %v", agent.ID(), err)
			return emptyOpinion(agent.ID(), agent.Weight(), true)
		}
		r.sleep(baseDelay * time.Duration(1<<attempt))
	}
}

// BuildAgents instantiates the routed agent set from configuration.
func BuildAgents(cfg *config.Config, taxonomy archetype.Taxonomy, engine scoring.Engine, model scoring.SynergyModel, client *ChatClient, search SearchFunc) ([]Agent, error) {
	var out []Agent
	for _, ac := range cfg.RoutedAgents() {
		switch ac.Type {
		case "heuristic":
			out = append(out, NewHeuristicAgent(ac, taxonomy))
		case "scoring":
			out = append(out, NewScoringAgent(ac, engine, model))
		case "llm":
			out = append(out, NewLLMAgent(ac, cfg.LLM, client, search))
		default:
			return nil, fmt.Errorf("agent %s has unknown type %q", ac.ID, ac.Type)
		}
	}
	return out, nil
}
