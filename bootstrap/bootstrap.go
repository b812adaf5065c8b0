// Package bootstrap orchestrates agent acquisition across the registered
// sources, serially or in priority-ordered parallel batches.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/papernet/papergw/agent"
	"github.com/papernet/papergw/config"
	"github.com/papernet/papergw/loader"
	"github.com/papernet/papergw/source"
)

// ErrInProgress is returned when a bootstrap run is already in flight.
// Concurrent callers fail fast instead of piling on.
var ErrInProgress = errors.New("bootstrap already in progress")

// Orchestrator drives bootstrap runs. Only one run may be in flight at a
// time across all callers.
type Orchestrator struct {
	cfg      *config.Config
	registry *source.Registry
	loader   *loader.Loader
	slot     *agent.Slot

	inFlight atomic.Bool

	mu       sync.Mutex
	lastGood string
	stats    Stats
}

// Stats accumulates across runs until Reset.
type Stats struct {
	TotalAttempts     int
	SuccessfulSources []string
	FailedSources     []string
	AverageLatency    time.Duration
	LastRunDuration   time.Duration
}

// New returns an orchestrator over the given registry and loader.
func New(cfg *config.Config, registry *source.Registry, l *loader.Loader, slot *agent.Slot) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		loader:   l,
		slot:     slot,
	}
}

// Bootstrap tries sources serially in priority order and stops at the first
// success. The source that last succeeded, if still enabled, is tried before
// the ordered walk and evicted when it fails. A live agent returns
// immediately without any attempt.
func (o *Orchestrator) Bootstrap(ctx context.Context) (loader.LoadResult, error) {
	if o.slot.IsActive() {
		return loader.LoadResult{Success: true}, nil
	}

	if !o.inFlight.CompareAndSwap(false, true) {
		return loader.LoadResult{}, ErrInProgress
	}
	defer o.inFlight.Store(false)

	start := time.Now()
	defer o.recordRun(start)

	tried := ""
	if cached, ok := o.cachedSource(); ok {
		res := o.attempt(ctx, cached)
		if res.Success {
			return res, nil
		}

		o.evictCached()
		tried = cached.ID
	}

	enabled := o.registry.ListEnabled()

	attempts := 0
	for _, src := range enabled {
		if src.ID == tried {
			continue
		}

		if attempts > 0 || tried != "" {
			if err := o.pause(ctx); err != nil {
				return loader.LoadResult{}, err
			}
		}
		attempts++

		res := o.attempt(ctx, src)
		if res.Success {
			o.cacheSource(src.ID)
			return res, nil
		}
	}

	return loader.LoadResult{}, o.exhausted(enabled)
}

// BootstrapParallel races sources in batches of maxParallel, walking the
// priority-sorted list from the top. The first success in a batch wins; the
// rest of the batch is allowed to finish and its results are discarded.
func (o *Orchestrator) BootstrapParallel(ctx context.Context) (loader.LoadResult, error) {
	if o.slot.IsActive() {
		return loader.LoadResult{Success: true}, nil
	}

	if !o.inFlight.CompareAndSwap(false, true) {
		return loader.LoadResult{}, ErrInProgress
	}
	defer o.inFlight.Store(false)

	start := time.Now()
	defer o.recordRun(start)

	enabled := o.registry.ListEnabled()

	for i, batch := range batches(enabled, o.cfg.MaxParallel) {
		if i > 0 {
			if err := o.pause(ctx); err != nil {
				return loader.LoadResult{}, err
			}
		}

		results := make(chan loader.LoadResult, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for _, src := range batch {
			g.Go(func() error {
				results <- o.attempt(gctx, src)
				return nil
			})
		}
		go func() {
			_ = g.Wait()
			close(results)
		}()

		// resolve on the first success; stragglers run to completion and
		// their results are discarded
		for res := range results {
			if res.Success {
				o.cacheSource(res.Source.ID)
				return res, nil
			}
		}
	}

	return loader.LoadResult{}, o.exhausted(enabled)
}

// Stats returns a snapshot of the accumulated counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.stats
	s.SuccessfulSources = append([]string(nil), o.stats.SuccessfulSources...)
	s.FailedSources = append([]string(nil), o.stats.FailedSources...)

	return s
}

// ResetStats clears the accumulated counters.
func (o *Orchestrator) ResetStats() {
	o.mu.Lock()
	o.stats = Stats{}
	o.mu.Unlock()
}

func (o *Orchestrator) attempt(ctx context.Context, src source.Source) loader.LoadResult {
	res := o.loader.LoadFromSource(ctx, src)

	o.mu.Lock()
	o.stats.TotalAttempts++
	if res.Success {
		n := len(o.stats.SuccessfulSources)
		o.stats.AverageLatency = (o.stats.AverageLatency*time.Duration(n) + res.Latency) / time.Duration(n+1)
		o.stats.SuccessfulSources = append(o.stats.SuccessfulSources, src.ID)
	} else {
		o.stats.FailedSources = append(o.stats.FailedSources, src.ID)
	}
	o.mu.Unlock()

	return res
}

func (o *Orchestrator) pause(ctx context.Context) error {
	delay := o.cfg.AttemptDelay.Duration
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) cachedSource() (source.Source, bool) {
	o.mu.Lock()
	id := o.lastGood
	o.mu.Unlock()

	if id == "" {
		return source.Source{}, false
	}

	src, ok := o.registry.Get(id)
	if !ok || !src.Enabled {
		return source.Source{}, false
	}

	return src, true
}

func (o *Orchestrator) cacheSource(id string) {
	o.mu.Lock()
	o.lastGood = id
	o.mu.Unlock()
}

func (o *Orchestrator) evictCached() {
	o.mu.Lock()
	o.lastGood = ""
	o.mu.Unlock()
}

func (o *Orchestrator) recordRun(start time.Time) {
	o.mu.Lock()
	o.stats.LastRunDuration = time.Since(start)
	o.mu.Unlock()
}

func (o *Orchestrator) exhausted(enabled []source.Source) error {
	first := "none"
	if len(enabled) > 0 {
		first = enabled[0].ID
	}

	zlog.Error("All bootstrap sources exhausted", "sources", len(enabled), "first", first)

	return fmt.Errorf("all %d bootstrap sources failed, starting from %s", len(enabled), first)
}

// batches chunks the priority-sorted source list into groups of maxParallel,
// walked highest priority first.
func batches(sources []source.Source, maxParallel int) [][]source.Source {
	if maxParallel < 1 {
		maxParallel = 1
	}

	var out [][]source.Source

	for i := 0; i < len(sources); i += maxParallel {
		out = append(out, sources[i:min(i+maxParallel, len(sources))])
	}

	return out
}
