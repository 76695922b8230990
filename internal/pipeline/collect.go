package pipeline

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"deepresearch/internal/logging"
	"deepresearch/internal/types"
)

// collectParallelism caps the provider fan-out; actual fan-out is
// min(this, available providers).
const collectParallelism = 4

// enrichParallelism caps concurrent headless fetches. Per-host
// serialization lives in the fetcher; this caps total browser pressure.
const enrichParallelism = 2

// Collect fans out to the planned providers, merges results by normalized
// URL and enriches the top-K new entities with fetched content. Provider
// failures are skips, never session failures.
func Collect(ctx context.Context, deps *Deps, s *types.Session) error {
	timer := logging.StartTimer(logging.CategoryPipeline, "Collect")
	defer timer.Stop()

	effectiveness, err := deps.Memory.Effectiveness(s.Domain)
	if err != nil {
		effectiveness = nil
	}
	providers := deps.Registry.Ordered(s.Plan.Providers, effectiveness)
	if len(providers) == 0 {
		logging.PipelineWarn("session %s: no providers available this cycle", s.ID)
		return nil
	}

	query := collectQuery(s)
	logging.Pipeline("session %s cycle %d: querying %d providers for %q", s.ID, s.Cycle, len(providers), query)

	// Fan out; each provider writes only its own slot, and the session is
	// touched after Wait, so the merge is single-writer and deterministic
	// regardless of response order.
	results := make([][]types.Entity, len(providers))
	skipped := make([]bool, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(collectParallelism)
	for i, p := range providers {
		g.Go(func() error {
			entities, err := p.Search(gctx, query, s.Plan.SourcesPerProvider)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// Transport and circuit errors become empty results.
				skipped[i] = true
				return nil
			}
			results[i] = entities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, p := range providers {
		if skipped[i] {
			s.Stats.ProvidersSkipped++
		} else {
			s.Stats.SourcesQueried = appendUnique(s.Stats.SourcesQueried, p.Name())
		}
	}

	fresh := mergeResults(s, entityRoom(deps, s), results)
	s.Entities = append(s.Entities, fresh...)
	s.NewEntitiesThisCycle += len(fresh)

	if err := enrich(ctx, deps, s, fresh); err != nil {
		return err
	}
	logging.Pipeline("session %s cycle %d: %d new entities (%d total)", s.ID, s.Cycle, len(fresh), len(s.Entities))
	return nil
}

func collectQuery(s *types.Session) string {
	parts := []string{s.RefinedQuery}
	parts = append(parts, s.GapTerms...)
	if s.Cycle == 1 {
		parts = append(parts, s.Plan.PriorQueryTerms...)
	}
	return strings.Join(parts, " ")
}

// entityRoom returns how many more entities the session budget admits;
// negative means unbounded.
func entityRoom(deps *Deps, s *types.Session) int {
	if deps.Limits.MaxEntities <= 0 {
		return -1
	}
	room := deps.Limits.MaxEntities - len(s.Entities)
	if room < 0 {
		room = 0
	}
	return room
}

// mergeResults dedupes by normalized URL. Conflicts resolve by provider
// priority (slot order) then per-result score; the output is sorted by
// the dedup key so downstream ordering is reproducible. Results come in
// provider-priority slot order.
func mergeResults(s *types.Session, room int, results [][]types.Entity) []types.Entity {
	byURL := make(map[string]types.Entity)
	for _, slot := range results {
		for _, e := range slot {
			e.URL = types.NormalizeURL(e.URL)
			if e.URL == "" || s.HasEntity(e.URL) {
				continue
			}
			prev, seen := byURL[e.URL]
			if !seen {
				byURL[e.URL] = e
				continue
			}
			// Earlier slots carry higher priority; within a slot the
			// higher score wins.
			if prev.Provider == e.Provider && e.Score > prev.Score {
				byURL[e.URL] = e
			}
		}
	}

	urls := make([]string, 0, len(byURL))
	for u := range byURL {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	out := make([]types.Entity, 0, len(byURL))
	for _, u := range urls {
		if room >= 0 && len(out) >= room {
			break
		}
		out = append(out, byURL[u])
	}
	return out
}

// enrich fetches full content for the highest-scored new entities,
// skipping URLs memory knows to be dead. Fetch failures keep the entity
// with its snippet.
func enrich(ctx context.Context, deps *Deps, s *types.Session, fresh []types.Entity) error {
	k := deps.Playbook.EnrichTopK
	if deps.Limits.EnrichTopK > 0 && deps.Limits.EnrichTopK < k {
		k = deps.Limits.EnrichTopK
	}
	if k <= 0 || len(fresh) == 0 {
		return nil
	}

	ranked := make([]string, 0, len(fresh))
	for _, e := range fresh {
		ranked = append(ranked, e.URL)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return s.EntityByURL(ranked[i]).Score > s.EntityByURL(ranked[j]).Score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	fetchCtx := ctx
	if deps.Limits.MaxFetchSeconds > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, time.Duration(deps.Limits.MaxFetchSeconds)*time.Second)
		defer cancel()
	}

	type fetched struct {
		url, title, text string
		failed           bool
	}
	out := make([]fetched, len(ranked))

	g, gctx := errgroup.WithContext(fetchCtx)
	g.SetLimit(enrichParallelism)
	for i, u := range ranked {
		if deps.Memory.KnownDead(u) {
			logging.PipelineDebug("skipping known-dead url %s", u)
			continue
		}
		g.Go(func() error {
			res, err := deps.Fetcher.Fetch(gctx, u)
			if err != nil {
				if gctx.Err() != nil && ctx.Err() != nil {
					return ctx.Err()
				}
				out[i] = fetched{url: u, failed: true}
				return nil
			}
			out[i] = fetched{url: u, title: res.Title, text: res.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, f := range out {
		if f.url == "" {
			continue
		}
		entity := s.EntityByURL(f.url)
		if entity == nil {
			continue
		}
		if f.failed {
			s.Stats.FetchFailures++
			if err := deps.Memory.RecordAccessFailure(f.url, "fetcher", "fetch_failed"); err != nil {
				logging.PipelineDebug("failed to record fetch failure: %v", err)
			}
			continue
		}
		entity.Content = f.text
		if entity.Title == "" {
			entity.Title = f.title
		}
		if f.text != "" {
			if err := deps.Memory.StoreDocument(ctx, f.url, f.text, map[string]string{
				"url":   f.url,
				"query": s.RefinedQuery,
			}); err != nil {
				logging.PipelineDebug("failed to archive document %s: %v", f.url, err)
			}
		}
	}
	return nil
}
