package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/serial-archiver/internal/metrics"
	"github.com/JakeFAU/serial-archiver/internal/novel"
)

// Config bounds the coordinator.
type Config struct {
	// Concurrency is the default worker pool size per job.
	Concurrency int
	// MaxListingPages caps the sequential probe used when the unit count is unknown.
	MaxListingPages int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.MaxListingPages <= 0 {
		c.MaxListingPages = 100
	}
	return c
}

// ProgressFunc receives the running completed count after every unit.
type ProgressFunc func(completed, total int)

// Coordinator resolves listings and unit content through the cache and fetcher.
type Coordinator struct {
	fetcher novel.Fetcher
	cache   novel.UnitCache
	clock   novel.Clock
	logger  *zap.Logger
	cfg     Config
}

// New wires a Coordinator.
func New(fetcher novel.Fetcher, cache novel.UnitCache, clock novel.Clock, logger *zap.Logger, cfg Config) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		fetcher: fetcher,
		cache:   cache,
		clock:   clock,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

// FetchListing retrieves every listing page of a work and returns the merged
// units indexed 0..N-1. unitCount <= 0 means the count is unknown, in which
// case pages are probed one at a time until a short page.
func (c *Coordinator) FetchListing(ctx context.Context, ref novel.WorkRef, unitCount int) ([]novel.Unit, error) {
	pageSize := c.fetcher.ListingPageSize(ref.Platform)
	if pageSize <= 0 {
		return nil, fmt.Errorf("listing page size for %s: %w", ref.Platform, novel.ErrInvalidID)
	}
	if unitCount <= 0 {
		return c.probeListing(ctx, ref, pageSize)
	}

	pages := (unitCount + pageSize - 1) / pageSize
	results := make([][]novel.Unit, pages)
	g, gctx := errgroup.WithContext(ctx)
	for page := 0; page < pages; page++ {
		g.Go(func() error {
			units, err := c.fetcher.FetchUnitListingPage(gctx, ref, page)
			if err != nil {
				return fmt.Errorf("listing page %d: %w", page, err)
			}
			results[page] = units
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	units := mergePages(results)
	c.logger.Debug("listing merged",
		zap.String("work", ref.String()),
		zap.Int("pages", pages),
		zap.Int("expected", unitCount),
		zap.Int("units", len(units)),
	)
	return units, nil
}

func (c *Coordinator) probeListing(ctx context.Context, ref novel.WorkRef, pageSize int) ([]novel.Unit, error) {
	var results [][]novel.Unit
	for page := 0; page < c.cfg.MaxListingPages; page++ {
		units, err := c.fetcher.FetchUnitListingPage(ctx, ref, page)
		if err != nil {
			return nil, fmt.Errorf("listing page %d: %w", page, err)
		}
		results = append(results, units)
		if len(units) < pageSize {
			break
		}
	}
	units := mergePages(results)
	c.logger.Info("listing probed without unit count",
		zap.String("work", ref.String()),
		zap.Int("pages", len(results)),
		zap.Int("units", len(units)),
	)
	return units, nil
}

// mergePages concatenates pages in order, drops repeated unit ids and
// assigns the authoritative index.
func mergePages(pages [][]novel.Unit) []novel.Unit {
	seen := make(map[string]struct{})
	var out []novel.Unit
	for _, page := range pages {
		for _, u := range page {
			if _, dup := seen[u.ID]; dup {
				continue
			}
			seen[u.ID] = struct{}{}
			u.Index = len(out)
			out = append(out, u)
		}
	}
	return out
}

// RunJob resolves every unit with a pool of concurrency workers and returns
// the results in unit order. Per-unit failures are recorded on the result
// and never abort the run. onProgress is invoked exactly once per unit with
// a strictly increasing completed count.
func (c *Coordinator) RunJob(ctx context.Context, ref novel.WorkRef, units []novel.Unit, concurrency int, onProgress ProgressFunc) []novel.AcquiredUnit {
	total := len(units)
	results := make([]novel.AcquiredUnit, total)
	if total == 0 {
		return results
	}
	if concurrency <= 0 {
		concurrency = c.cfg.Concurrency
	}
	if concurrency > total {
		concurrency = total
	}

	var (
		next      atomic.Int64
		mu        sync.Mutex
		completed int
		wg        sync.WaitGroup
	)
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1)) - 1
				if i >= total {
					return
				}
				results[i] = c.acquire(ctx, ref, units[i])
				metrics.ObserveUnit(string(results[i].Outcome))

				mu.Lock()
				completed++
				if onProgress != nil {
					onProgress(completed, total)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return results
}

func (c *Coordinator) acquire(ctx context.Context, ref novel.WorkRef, unit novel.Unit) novel.AcquiredUnit {
	out := novel.AcquiredUnit{Unit: unit}
	key := cacheKey(ref)
	entry, err := c.cache.Get(ctx, key, unit.ID)
	switch {
	case err == nil:
		metrics.ObserveCacheLookup("hit")
		out.Outcome = novel.OutcomeCached
		out.Content = entry.Content()
		return out
	case errors.Is(err, novel.ErrCacheMiss):
		metrics.ObserveCacheLookup("miss")
	default:
		metrics.ObserveCacheLookup("error")
		c.logger.Warn("unit cache read failed; fetching",
			zap.String("work", ref.String()),
			zap.String("unit_id", unit.ID),
			zap.Error(err),
		)
	}

	// Entitlement gates the fetch only; cached content is served to every session.
	if !unit.Entitled() {
		out.Outcome = novel.OutcomeNotSubscribed
		out.Content = novel.UnitContent{Title: unit.Title, Text: novel.SentinelNotSubscribed}
		return out
	}

	content, err := c.fetcher.FetchUnitContent(ctx, ref, unit.ID)
	if err != nil {
		c.logger.Warn("unit fetch failed",
			zap.String("work", ref.String()),
			zap.String("unit_id", unit.ID),
			zap.Int("index", unit.Index),
			zap.Error(err),
		)
		out.Outcome = novel.OutcomeFailed
		out.Err = err.Error()
		out.Content = novel.UnitContent{Title: unit.Title, Text: novel.SentinelFailed}
		return out
	}

	put := novel.CacheEntry{
		WorkID:    key,
		UnitID:    unit.ID,
		Title:     content.Title,
		Markup:    content.Markup,
		Text:      content.Text,
		UpdatedAt: c.clock.Now(),
	}
	if err := c.cache.Put(ctx, put); err != nil {
		c.logger.Warn("unit cache write failed",
			zap.String("work", ref.String()),
			zap.String("unit_id", unit.ID),
			zap.Error(err),
		)
	}
	out.Outcome = novel.OutcomeFetched
	out.Content = content
	return out
}

// cacheKey namespaces work ids by platform so equal ids on two sites never share entries.
func cacheKey(ref novel.WorkRef) string {
	return ref.String()
}

// Summary counts units by outcome.
type Summary struct {
	Fetched       int
	Cached        int
	NotSubscribed int
	Failed        int
}

// Summarize tallies acquired units by outcome.
func Summarize(units []novel.AcquiredUnit) Summary {
	var s Summary
	for _, u := range units {
		switch u.Outcome {
		case novel.OutcomeFetched:
			s.Fetched++
		case novel.OutcomeCached:
			s.Cached++
		case novel.OutcomeNotSubscribed:
			s.NotSubscribed++
		case novel.OutcomeFailed:
			s.Failed++
		}
	}
	return s
}
