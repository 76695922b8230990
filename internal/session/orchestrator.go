// Package session drives the research state machine: it owns every phase
// transition, emits progress events, honors cancellation and persists the
// session at each boundary so partial results always survive.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"deepresearch/internal/config"
	"deepresearch/internal/domain"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/pipeline"
	"deepresearch/internal/types"
)

// Store is the memory slice the orchestrator needs beyond what the
// pipeline nodes use.
type Store interface {
	pipeline.Memory
	SaveSession(s *types.Session) error
	LoadSession(id string) (*types.Session, error)
	ObserveEffectiveness(d types.Domain, source string, observed float64) error
	Overrides(d types.Domain) (map[string]json.RawMessage, error)
}

// Orchestrator runs research sessions. One goroutine drives each session
// serially through its phases; fan-out happens inside the nodes.
type Orchestrator struct {
	cfg      *config.Config
	router   pipeline.LLM
	registry pipeline.ProviderSource
	fetcher  pipeline.ContentFetcher
	store    Store

	mu       sync.RWMutex
	sessions map[string]*running
	wg       sync.WaitGroup
}

// running is one live session with its control surfaces. The driver
// goroutine works on a private session the pipeline nodes mutate without
// locking; session holds the latest published snapshot and is only ever
// replaced whole under mu, never mutated in place, so readers get a
// consistent view no matter what the nodes are doing.
type running struct {
	id       string
	cancel   context.CancelFunc
	approved chan string

	mu      sync.RWMutex
	session *types.Session
	subs    map[chan Event]struct{}
}

// New creates an orchestrator over the given collaborators.
func New(cfg *config.Config, router pipeline.LLM, registry pipeline.ProviderSource, fetcher pipeline.ContentFetcher, store Store) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		router:   router,
		registry: registry,
		fetcher:  fetcher,
		store:    store,
		sessions: make(map[string]*running),
	}
}

// Start creates a session and launches its driver goroutine. The returned
// id addresses the session on every other operation.
func (o *Orchestrator) Start(query string, privacy types.PrivacyMode) (string, error) {
	if query == "" {
		return "", fmt.Errorf("query must not be empty")
	}
	if privacy == "" {
		privacy = types.PrivacyLocalOnly
	}

	s := &types.Session{
		ID:        uuid.NewString(),
		Query:     query,
		Privacy:   privacy,
		Phase:     types.PhaseStarting,
		StartedAt: time.Now().UTC(),
	}
	r := &running{
		id:       s.ID,
		session:  s.Clone(),
		approved: make(chan string, 1),
		subs:     make(map[chan Event]struct{}),
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if o.cfg.Limits.SessionTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), o.cfg.Limits.SessionTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	r.cancel = cancel

	o.mu.Lock()
	o.sessions[s.ID] = r
	o.mu.Unlock()

	logging.Session("session %s started: %q (privacy=%s)", s.ID, query, privacy)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(ctx, r, s)
	}()
	return s.ID, nil
}

// Approve releases a session waiting in awaiting_approval, optionally
// with a restated query.
func (o *Orchestrator) Approve(id, restated string) error {
	r, err := o.get(id)
	if err != nil {
		return err
	}
	r.mu.RLock()
	phase := r.session.Phase
	r.mu.RUnlock()
	if phase != types.PhaseAwaitingApproval {
		return fmt.Errorf("session %s is not awaiting approval (phase %s)", id, phase)
	}
	select {
	case r.approved <- restated:
		return nil
	default:
		return fmt.Errorf("session %s already approved", id)
	}
}

// Stop requests cooperative cancellation. The current I/O unit finishes,
// then the session lands in a terminal phase with stop_reason cancelled.
func (o *Orchestrator) Stop(id string) error {
	r, err := o.get(id)
	if err != nil {
		return err
	}
	logging.Session("session %s: stop requested", id)
	r.cancel()
	return nil
}

// Status returns a consistent snapshot of the session.
func (o *Orchestrator) Status(id string) (*types.Session, error) {
	r, err := o.get(id)
	if err != nil {
		if archived, aerr := o.store.LoadSession(id); aerr == nil {
			return archived, nil
		}
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.session.Clone(), nil
}

// ReportFor returns the final report, from the live session or the
// archive.
func (o *Orchestrator) ReportFor(id string) (*types.Report, error) {
	s, err := o.Status(id)
	if err != nil {
		return nil, err
	}
	if s.Report == nil {
		return nil, fmt.Errorf("session %s has no report yet (phase %s)", id, s.Phase)
	}
	return s.Report, nil
}

// Subscribe attaches a progress observer. The returned cancel func must
// be called to release the subscription.
func (o *Orchestrator) Subscribe(id string) (<-chan Event, func(), error) {
	r, err := o.get(id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Event, subscriberBuffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if _, ok := r.subs[ch]; ok {
			delete(r.subs, ch)
			close(ch)
		}
		r.mu.Unlock()
	}
	return ch, cancel, nil
}

// Wait blocks until every running session finishes. Used by shutdown and
// the CLI's one-shot mode.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) get(id string) (*running, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.sessions[id]
	if !ok {
		return nil, fmt.Errorf("unknown session %s", id)
	}
	return r, nil
}

// publish replaces the snapshot readers see. The driver owns s
// exclusively, so cloning outside the lock is safe.
func (o *Orchestrator) publish(r *running, s *types.Session) {
	snap := s.Clone()
	r.mu.Lock()
	r.session = snap
	r.mu.Unlock()
}

// run drives one session start to terminal phase. All transitions happen
// here; nodes never self-transition. s stays private to this goroutine,
// readers only ever see published clones.
func (o *Orchestrator) run(ctx context.Context, r *running, s *types.Session) {
	deps, err := o.buildDeps(ctx, r, s)
	if err != nil {
		o.fail(r, s, err)
		return
	}

	// Clarify.
	o.transition(r, s, types.PhaseClarify)
	if pipeline.Clarify(s) {
		o.transition(r, s, types.PhaseAwaitingApproval)
		select {
		case restated := <-r.approved:
			pipeline.Approve(s, restated)
		case <-ctx.Done():
			o.cancelled(r, s)
			return
		}
	}

	// Plan.
	o.transition(r, s, types.PhasePlan)
	if err := pipeline.Plan(ctx, deps, s); err != nil {
		o.fail(r, s, err)
		return
	}

	// Research cycles.
	for {
		s.Cycle++

		type step struct {
			phase types.Phase
			fn    func() error
		}
		steps := []step{
			{types.PhaseCollect, func() error { return pipeline.Collect(ctx, deps, s) }},
			{types.PhaseProcess, func() error { return pipeline.Process(ctx, deps, s) }},
			{types.PhaseAnalyze, func() error { pipeline.Analyze(s); return nil }},
		}
		if deps.Playbook.VerifyFacts {
			steps = append(steps, step{types.PhaseVerify, func() error { return pipeline.Verify(ctx, deps, s) }})
		}
		for _, st := range steps {
			if ctx.Err() != nil {
				o.cancelled(r, s)
				return
			}
			o.transition(r, s, st.phase)
			if err := st.fn(); err != nil {
				if ctx.Err() != nil {
					o.cancelled(r, s)
					return
				}
				o.fail(r, s, err)
				return
			}
			o.emitStats(r, s)
		}

		o.transition(r, s, types.PhaseEvaluate)
		reason := pipeline.Evaluate(deps, s)
		o.publish(r, s)
		o.persist(s)
		if reason != "" {
			s.StopReason = reason
			break
		}
	}

	// Synthesize and export.
	if ctx.Err() != nil {
		o.cancelled(r, s)
		return
	}
	o.transition(r, s, types.PhaseSynthesize)
	if err := pipeline.Synthesize(ctx, deps, s); err != nil {
		o.fail(r, s, err)
		return
	}

	o.transition(r, s, types.PhaseExport)
	o.persist(s)

	o.transition(r, s, types.PhaseComplete)
	o.persist(s)
	o.learn(s)
	o.emit(r, Event{Kind: EventDone, StopReason: s.StopReason})
	logging.Session("session %s complete: %s (%d facts, %d entities)",
		s.ID, s.StopReason, len(s.Facts), len(s.Entities))
}

// buildDeps classifies the domain, loads the playbook with persisted
// overrides, and assembles the node collaborators.
func (o *Orchestrator) buildDeps(ctx context.Context, r *running, s *types.Session) (*pipeline.Deps, error) {
	s.Domain = domain.Classify(ctx, o.router, s.Query, s.Privacy)

	overrides, err := o.store.Overrides(s.Domain)
	if err != nil {
		logging.SessionWarn("session %s: override load failed, using playbook only: %v", s.ID, err)
		overrides = nil
	}
	playbook, err := domain.Load(o.cfg.DomainConfigDir(), s.Domain, overrides)
	if err != nil {
		return nil, fmt.Errorf("failed to load domain config: %w", err)
	}

	return &pipeline.Deps{
		Router:    o.router,
		Registry:  o.registry,
		Fetcher:   o.fetcher,
		Memory:    o.store,
		Playbook:  playbook,
		Limits:    o.cfg.Limits,
		Sensitive: llm.Sensitive(s.Query),
		OnToken: func(chunk string) {
			o.emit(r, Event{Kind: EventToken, Token: chunk})
		},
	}, nil
}

// transition moves the session to the next phase, publishes the snapshot
// and notifies observers.
func (o *Orchestrator) transition(r *running, s *types.Session, phase types.Phase) {
	s.Phase = phase
	s.UpdatedAt = time.Now().UTC()
	o.publish(r, s)

	logging.SessionDebug("session %s -> %s", s.ID, phase)
	o.emit(r, Event{Kind: EventPhase, Phase: phase, Cycle: s.Cycle})
}

// emitStats publishes the post-node snapshot and reports progress counts.
func (o *Orchestrator) emitStats(r *running, s *types.Session) {
	o.publish(r, s)
	sat := s.Saturation
	o.emit(r, Event{
		Kind:           EventStats,
		Phase:          s.Phase,
		Cycle:          s.Cycle,
		EntitiesFound:  len(s.Entities),
		FactsExtracted: len(s.Facts),
		Saturation:     &sat,
	})
}

// cancelled finishes a session whose context was cancelled: partial
// results are preserved and exactly one stop reason is recorded.
func (o *Orchestrator) cancelled(r *running, s *types.Session) {
	s.StopReason = types.StopCancelled
	s.Phase = types.PhaseComplete
	s.UpdatedAt = time.Now().UTC()
	o.publish(r, s)

	o.persist(s)
	o.learn(s)
	o.emit(r, Event{Kind: EventDone, StopReason: types.StopCancelled})
	logging.Session("session %s cancelled, partial results persisted", s.ID)
}

// fail records the error, persists partial results and lands in failed.
func (o *Orchestrator) fail(r *running, s *types.Session, err error) {
	s.Error = err.Error()
	s.StopReason = types.StopFatalError
	s.Phase = types.PhaseFailed
	s.UpdatedAt = time.Now().UTC()
	o.publish(r, s)

	o.persist(s)
	o.emit(r, Event{Kind: EventError, Error: err.Error(), StopReason: types.StopFatalError})
	logging.SessionError("session %s failed: %v", s.ID, err)
}

func (o *Orchestrator) persist(s *types.Session) {
	if err := o.store.SaveSession(s); err != nil {
		logging.SessionWarn("session %s: persist failed: %v", s.ID, err)
	}
}

// learn feeds post-run source effectiveness back into memory: for each
// queried provider, the observation is the fraction of its entities that
// ended up cited by at least one fact.
func (o *Orchestrator) learn(s *types.Session) {
	if len(s.Stats.SourcesQueried) == 0 {
		return
	}

	cited := map[string]bool{}
	for _, f := range s.Facts {
		cited[f.Source] = true
	}
	total := map[string]int{}
	useful := map[string]int{}
	for _, e := range s.Entities {
		total[e.Provider]++
		if cited[e.URL] {
			useful[e.Provider]++
		}
	}

	for _, provider := range s.Stats.SourcesQueried {
		observed := 0.0
		if total[provider] > 0 {
			observed = float64(useful[provider]) / float64(total[provider])
		}
		if err := o.store.ObserveEffectiveness(s.Domain, provider, observed); err != nil {
			logging.SessionWarn("session %s: effectiveness update for %s failed: %v", s.ID, provider, err)
		}
	}
}

// emit delivers an event to all subscribers without ever blocking the
// driver; a full subscriber drops the event.
func (o *Orchestrator) emit(r *running, ev Event) {
	ev.SessionID = r.id
	ev.Time = time.Now().UTC()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
