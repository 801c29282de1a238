package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"conclave/internal/archetype"
	"conclave/internal/config"
	"conclave/internal/council"
	"conclave/internal/deck"
	"conclave/internal/domain"
	"conclave/internal/events"
	"conclave/internal/repo"
	"conclave/internal/roles"
	"conclave/internal/scoring"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Taxonomy archetype.Taxonomy
	Scoring  scoring.Engine
	Client   *council.ChatClient
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	taxonomy, err := archetype.LoadTaxonomy(cfg.TaxonomyPath)
	if err != nil {
		return Engine{}, fmt.Errorf("load taxonomy: %w", err)
	}
	scorer := scoring.Engine{
		Taxonomy: taxonomy,
		Signals:  cfg.Scoring.Signals,
		Gate: scoring.GateConfig{
			Minimums:  cfg.Scoring.RoleGate.Minimums,
			Decrement: cfg.Scoring.RoleGate.Decrement,
			Floor:     cfg.Scoring.RoleGate.Floor,
		},
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Taxonomy: taxonomy,
		Scoring:  scorer,
		Client:   council.NewChatClient(cfg.LLM, os.Getenv(cfg.LLM.APIKeyEnv)),
		Now:      time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// roleTargets is the non-land role plan before synergy fill. Synergy takes
// every slot the named roles leave open, shortfalls included.
var roleTargets = []struct {
	Role  string
	Count int
}{
	{roles.Ramp, 10},
	{roles.Draw, 10},
	{roles.Removal, 10},
	{roles.Wincons, 5},
	{roles.Flex, 3},
}

// ValidateBrief checks the generation request before any work starts.
func ValidateBrief(brief domain.DeckBrief) error {
	if brief.Commander == "" {
		return errors.New("brief.commander is required")
	}
	excluded := map[string]bool{}
	for _, name := range brief.Constraints.MustExclude {
		excluded[name] = true
	}
	for _, name := range brief.Constraints.MustInclude {
		if excluded[name] {
			return fmt.Errorf("card %q is both must_include and must_exclude", name)
		}
	}
	for _, pair := range []struct {
		name  string
		value float64
	}{
		{"power", brief.Objectives.Power},
		{"theme", brief.Objectives.Theme},
		{"budget", brief.Objectives.Budget},
		{"consistency", brief.Objectives.Consistency},
		{"novelty", brief.Objectives.Novelty},
	} {
		if pair.value < 0 || pair.value > 1 {
			return fmt.Errorf("objective %s must be in [0,1], got %v", pair.name, pair.value)
		}
	}
	return nil
}

// Generate runs one full deck build: identity extraction, must-include
// commits, one council round per role batch, synergy fill, then lands.
// Overrides are deep-merged over the engine's config for this run only.
func (e Engine) Generate(ctx context.Context, brief domain.DeckBrief, overrides map[string]any) (domain.GenerationResult, error) {
	var result domain.GenerationResult
	if err := ValidateBrief(brief); err != nil {
		return result, err
	}
	cfg := e.Config
	if len(overrides) > 0 {
		merged, err := cfg.WithOverrides(overrides)
		if err != nil {
			return result, fmt.Errorf("apply overrides: %w", err)
		}
		cfg = merged
	}

	commander, err := e.Repo.GetCardByName(ctx, brief.Commander)
	if err != nil {
		return result, fmt.Errorf("commander %q: %w", brief.Commander, err)
	}
	seeds, err := e.Repo.CardsByNames(ctx, brief.Seeds)
	if err != nil {
		return result, err
	}
	identity := e.Taxonomy.ExtractIdentity(commander, seeds)
	if cfg.LLM.RefineIdentity {
		identity = council.RefineIdentity(ctx, e.Client, cfg.LLM, commander, identity)
	}

	model, err := e.Repo.LatestModel(ctx)
	if err != nil {
		return result, fmt.Errorf("load model: %w", err)
	}

	result.DeckID = uuid.NewString()
	result.TraceID = uuid.NewString()
	result.Commander = commander.Name

	state := deck.NewState(commander, identity)
	exclude := map[string]bool{commander.Name: true}
	for _, name := range brief.Constraints.MustExclude {
		exclude[name] = true
	}

	// Self-querying agents search the live pool; sharing the exclusion map
	// keeps already-committed cards out of their hits as rounds progress.
	search := func(ctx context.Context, q domain.SearchQuery, limit int) ([]domain.Card, error) {
		return e.Repo.SearchCards(ctx, q, commander.ColorIdentity, exclude, limit)
	}
	agents, err := council.BuildAgents(cfg, e.Taxonomy, e.Scoring, model, e.Client, search)
	if err != nil {
		return result, err
	}
	router, err := council.NewRouter(cfg, agents)
	if err != nil {
		return result, err
	}

	run := &generationRun{
		Engine:   e,
		cfg:      cfg,
		brief:    brief,
		router:   router,
		state:    state,
		exclude:  exclude,
		result:   &result,
		position: 0,
	}

	if err := run.open(ctx); err != nil {
		return result, err
	}
	if err := run.commitMustInclude(ctx); err != nil {
		return result, err
	}

	round := 0
	for _, target := range roleTargets {
		want := target.Count - state.RoleCounts[target.Role]
		if want <= 0 {
			continue
		}
		round++
		if err := run.runRound(ctx, round, target.Role, want); err != nil {
			return result, err
		}
	}
	synergyTarget := cfg.Deck.TargetSize - cfg.Deck.TotalLands - 1 - len(state.Cards)
	if synergyTarget > 0 {
		round++
		if err := run.runRound(ctx, round, roles.Synergy, synergyTarget); err != nil {
			return result, err
		}
	}

	result.Cards = append([]domain.Card(nil), state.Cards...)
	result.Identity = state.Identity.Clone()
	result.Metrics = state.Metrics()
	if err := run.fillLands(ctx, commander.ColorIdentity); err != nil {
		return result, err
	}
	if err := run.close(ctx); err != nil {
		return result, err
	}
	return result, nil
}

// generationRun carries the per-run mutable pieces so Generate stays a
// readable sequence of phases.
type generationRun struct {
	Engine
	cfg      *config.Config
	brief    domain.DeckBrief
	router   *council.Router
	state    *deck.State
	exclude  map[string]bool
	result   *domain.GenerationResult
	position int
}

// open writes the deck row and the start event before any round runs, so
// round commits have a parent row to attach to.
func (r *generationRun) open(ctx context.Context) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	createdAt := r.now().UTC().Format(time.RFC3339)
	if err := r.Repo.InsertDeck(ctx, tx, *r.result, r.brief, createdAt); err != nil {
		return err
	}
	if err := r.Events.Append(ctx, tx, "generation.start", r.result.TraceID, "deck", r.result.DeckID, events.EventPayload{
		"commander": r.result.Commander,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// commitMustInclude commits every must-include card before rounds run.
// Unknown names fail the run; a forced card the pool cannot resolve is an
// unsatisfiable brief, not a soft shortfall.
func (r *generationRun) commitMustInclude(ctx context.Context) error {
	for _, name := range r.brief.Constraints.MustInclude {
		card, err := r.Repo.GetCardByName(ctx, name)
		if err != nil {
			return fmt.Errorf("must_include %q: %w", name, err)
		}
		role := roles.Classify(card.TypeLine, card.OracleText, card.CMC)
		tx, err := r.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := r.commitCard(ctx, tx, card, role, 1); err != nil {
			tx.Rollback()
			return err
		}
		if err := r.Events.Append(ctx, tx, "deck.must_include", r.result.TraceID, "card", card.ID, events.EventPayload{
			"name": card.Name, "role": role,
		}); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// runRound dispatches one council round for a role and commits the
// winners atomically with the round event.
func (r *generationRun) runRound(ctx context.Context, round int, role string, count int) error {
	poolLimit := count * 6
	if poolLimit < r.cfg.Voting.TopK {
		poolLimit = r.cfg.Voting.TopK
	}
	pool, err := r.Repo.Candidates(ctx, role, r.state.Commander.ColorIdentity, r.exclude, poolLimit)
	if err != nil {
		return fmt.Errorf("candidates for %s: %w", role, err)
	}
	if len(pool) == 0 {
		return r.recordEmptyRound(ctx, round, role, count, nil)
	}

	task := council.Task{
		AgentTask: domain.AgentTask{
			Role:          role,
			Count:         count,
			CommanderName: r.state.Commander.Name,
			CommanderText: r.state.Commander.OracleText,
			DeckCards:     r.state.CardNames(),
		},
		TraceID:    r.result.TraceID,
		Candidates: pool,
		Identity:   r.state.Identity.Clone(),
		Snapshot:   r.state.Snapshot(),
		Brief:      r.brief,
	}
	voting, err := r.router.RunRound(ctx, task)
	if err != nil {
		return fmt.Errorf("round %d (%s): %w", round, role, err)
	}

	byName := make(map[string]domain.Card, len(pool))
	for _, c := range pool {
		byName[c.Name] = c
	}
	var selected []domain.Card
	for _, name := range voting.Ranked {
		if len(selected) >= count {
			break
		}
		card, ok := byName[name]
		if !ok {
			// Self-querying agents can rank pool cards beyond the round's
			// candidate slice; resolve those against the store before use.
			fetched, err := r.Repo.GetCardByName(ctx, name)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			card = fetched
		}
		if r.exclude[card.Name] {
			continue
		}
		selected = append(selected, card)
	}
	if len(selected) == 0 {
		return r.recordEmptyRound(ctx, round, role, count, voting.Contributions)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	names := make([]string, 0, len(selected))
	for _, card := range selected {
		if err := r.commitCard(ctx, tx, card, role, 1); err != nil {
			return err
		}
		names = append(names, card.Name)
	}
	if err := r.Events.Append(ctx, tx, "council.round", r.result.TraceID, "deck", r.result.DeckID, events.EventPayload{
		"round": round, "role": role, "requested": count,
		"selected": names, "strategy": voting.Strategy,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.result.Rounds = append(r.result.Rounds, domain.RoundResult{
		TraceID:   r.result.TraceID,
		Round:     round,
		Role:      role,
		Requested: count,
		Selected:  names,
		Opinions:  voting.Contributions,
		Strategy:  voting.Strategy,
	})
	return nil
}

// recordEmptyRound logs a round that produced no committable candidate.
// Empty rounds are recorded, never silently skipped.
func (r *generationRun) recordEmptyRound(ctx context.Context, round int, role string, count int, opinions []domain.AgentOpinion) error {
	rr := domain.RoundResult{
		TraceID:   r.result.TraceID,
		Round:     round,
		Role:      role,
		Requested: count,
		Selected:  []string{},
		Opinions:  opinions,
		Strategy:  r.cfg.Routing.Strategy,
	}
	r.result.EmptyRounds = append(r.result.EmptyRounds, rr)
	return r.Events.Log(ctx, "council.round.empty", r.result.TraceID, "deck", r.result.DeckID, events.EventPayload{
		"round": round, "role": role, "requested": count,
	})
}

// commitCard folds one card into the deck state and persists its slot
// inside the caller's transaction.
func (r *generationRun) commitCard(ctx context.Context, tx *sql.Tx, card domain.Card, role string, quantity int) error {
	tags := card.ArchetypeTags
	if tags == nil {
		tags = r.Taxonomy.ExtractTags(card)
	}
	r.state.Commit(card, tags, r.cfg.Deck.Alpha)
	r.exclude[card.Name] = true
	r.position++
	return r.Repo.InsertDeckCard(ctx, tx, r.result.DeckID, card, role, r.position, quantity)
}

// fillLands completes the deck with basics and, for multicolor decks,
// Command Tower. Basics are upserted into the pool as non-candidates so
// deck loading resolves them.
func (r *generationRun) fillLands(ctx context.Context, colorIdentity []string) error {
	distribution := LandDistribution(colorIdentity, r.cfg.Deck.TotalLands)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	addLand := func(card domain.Card, quantity int) error {
		if err := r.Repo.UpsertCard(ctx, tx, card, roles.Lands, false); err != nil {
			return err
		}
		r.position++
		if err := r.Repo.InsertDeckCard(ctx, tx, r.result.DeckID, card, roles.Lands, r.position, quantity); err != nil {
			return err
		}
		r.result.Cards = append(r.result.Cards, card)
		return nil
	}

	for _, color := range sortedKeys(distribution) {
		quantity := distribution[color]
		if quantity <= 0 {
			continue
		}
		name := basicLandNames[color]
		card, err := r.landCard(ctx, name, "Basic Land")
		if err != nil {
			return err
		}
		if err := addLand(card, quantity); err != nil {
			return err
		}
	}
	if NeedsCommandTower(colorIdentity) {
		card, err := r.landCard(ctx, "Command Tower", "Land")
		if err != nil {
			return err
		}
		if err := addLand(card, 1); err != nil {
			return err
		}
	}
	if err := r.Events.Append(ctx, tx, "deck.lands", r.result.TraceID, "deck", r.result.DeckID, events.EventPayload{
		"distribution": distribution, "command_tower": NeedsCommandTower(colorIdentity),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// landCard resolves a land by name, synthesizing a pool entry when the
// imported pool does not carry it.
func (r *generationRun) landCard(ctx context.Context, name, typeLine string) (domain.Card, error) {
	card, err := r.Repo.GetCardByName(ctx, name)
	if err == nil {
		return card, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Card{}, err
	}
	return domain.Card{ID: uuid.NewString(), Name: name, TypeLine: typeLine}, nil
}

// close persists the final identity, coherence metrics, and the
// completion event.
func (r *generationRun) close(ctx context.Context) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.Repo.FinalizeDeck(ctx, tx, r.result.DeckID, r.state.Identity, r.result.Metrics); err != nil {
		return err
	}
	if err := r.Events.Append(ctx, tx, "generation.complete", r.result.TraceID, "deck", r.result.DeckID, events.EventPayload{
		"cards": len(r.state.Cards), "empty_rounds": len(r.result.EmptyRounds),
		"archetype_purity": r.result.Metrics.ArchetypePurity, "synergy_ratio": r.result.Metrics.SynergyRatio,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ScoreCard rebuilds a persisted deck's state and scores one candidate
// against it with full breakdown.
func (e Engine) ScoreCard(ctx context.Context, deckID, cardName string) (scoring.Breakdown, error) {
	var breakdown scoring.Breakdown
	persisted, err := e.Repo.GetDeck(ctx, deckID)
	if err != nil {
		return breakdown, err
	}
	card, err := e.Repo.GetCardByName(ctx, cardName)
	if err != nil {
		return breakdown, fmt.Errorf("card %q: %w", cardName, err)
	}
	commander, err := e.Repo.GetCardByName(ctx, persisted.Commander)
	if err != nil {
		return breakdown, fmt.Errorf("commander %q: %w", persisted.Commander, err)
	}

	state := deck.NewState(commander, persisted.Identity)
	for _, c := range persisted.Cards {
		tags := c.ArchetypeTags
		if tags == nil {
			tags = e.Taxonomy.ExtractTags(c)
		}
		state.Commit(c, tags, e.Config.Deck.Alpha)
	}
	model, err := e.Repo.LatestModel(ctx)
	if err != nil {
		return breakdown, err
	}
	var brief domain.DeckBrief
	brief.Objectives = domain.DefaultObjectives()
	return e.Scoring.ScoreWithBreakdown(card, state.Snapshot(), brief, model), nil
}
