package checker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"linkrescue/internal/models"
	"linkrescue/internal/urlutil"
)

const (
	DefaultConcurrency = 6
	DefaultMaxURLs     = 30
)

// Prober reports the liveness of a URL.
type Prober interface {
	Probe(ctx context.Context, rawURL string) models.LivenessResult
}

// Archiver queues an archive lookup for a URL.
type Archiver interface {
	Enqueue(ctx context.Context, rawURL string) *Future[models.ArchiveResult]
}

// Options configures a Checker.
type Options struct {
	Concurrency int
	MaxURLs     int
	Logger      *slog.Logger
}

// Checker runs the two-phase check: liveness for every URL on a bounded
// worker pool, then archive lookups for the dead ones, one at a time.
type Checker struct {
	probe   Prober
	archive Archiver
	pool    *WorkerPool
	maxURLs int
	logger  *slog.Logger
}

// New creates a Checker.
func New(probe Prober, archive Archiver, opts Options) *Checker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxURLs <= 0 {
		opts.MaxURLs = DefaultMaxURLs
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Checker{
		probe:   probe,
		archive: archive,
		pool:    NewWorkerPool(opts.Concurrency),
		maxURLs: opts.MaxURLs,
		logger:  opts.Logger.With("component", "checker"),
	}
}

// Prepare merges targets that normalize to the same URL, keeping discovery
// order and every occurrence, and drops everything past limit (0 keeps all).
func Prepare(targets []models.LinkTarget, limit int) []models.LinkTarget {
	index := make(map[string]int, len(targets))
	var out []models.LinkTarget
	for _, t := range targets {
		key, err := urlutil.Canonicalize(t.URL)
		if err != nil {
			key = strings.TrimSpace(t.URL)
		}
		if key == "" {
			continue
		}
		if i, ok := index[key]; ok {
			out[i].Occurrences = append(out[i].Occurrences, t.Occurrences...)
			continue
		}
		index[key] = len(out)
		out = append(out, models.LinkTarget{
			URL:         key,
			Occurrences: append([]any(nil), t.Occurrences...),
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Run checks targets and streams one CheckResult per retained URL as soon
// as it is final. The channel is closed when every result has been sent.
// Alive URLs are reported during phase 1; archive lookups start only after
// every liveness probe has finished, and only if some URL is dead. Dead
// URLs are reported in the order their lookups settle.
func (c *Checker) Run(ctx context.Context, targets []models.LinkTarget) <-chan models.CheckResult {
	retained := Prepare(targets, 0)
	runID := uuid.Must(uuid.NewV7()).String()
	logger := c.logger.With("run_id", runID)
	if len(retained) > c.maxURLs {
		logger.Info("url cap reached, extra urls not checked", "max_urls", c.maxURLs, "dropped", len(retained)-c.maxURLs)
		retained = retained[:c.maxURLs]
	}
	out := make(chan models.CheckResult, len(retained))

	go func() {
		defer close(out)
		start := time.Now()

		// Phase 1
		probes := make([]func(context.Context) models.LivenessResult, len(retained))
		for i, t := range retained {
			probes[i] = func(ctx context.Context) models.LivenessResult {
				res := c.probe.Probe(ctx, t.URL)
				if res.Alive {
					out <- models.CheckResult{URL: t.URL, Occurrences: t.Occurrences, Alive: true}
				}
				return res
			}
		}
		liveness := RunAll(ctx, c.pool, probes)

		var dead []int
		for i := range retained {
			if !liveness[i].Alive {
				dead = append(dead, i)
			}
		}
		logger.Info("liveness phase done", "urls", len(retained), "dead", len(dead), "elapsed_ms", time.Since(start).Milliseconds())
		if len(dead) == 0 || ctx.Err() != nil {
			return
		}

		// Phase 2: lookups are queued in discovery order, results are sent
		// as each one settles, so cache hits never wait behind the network.
		var wg sync.WaitGroup
		wg.Add(len(dead))
		for _, i := range dead {
			t := retained[i]
			f := c.archive.Enqueue(ctx, t.URL)
			go func() {
				defer wg.Done()
				res, ok := f.Wait(ctx)
				if !ok {
					res = models.ArchiveResult{Unconfirmed: true}
				}
				out <- models.CheckResult{URL: t.URL, Occurrences: t.Occurrences, Alive: false, Archive: &res}
			}()
		}
		wg.Wait()
		logger.Info("archive phase done", "lookups", len(dead), "elapsed_ms", time.Since(start).Milliseconds())
	}()

	return out
}

// Check runs the pipeline and collects every result.
func (c *Checker) Check(ctx context.Context, targets []models.LinkTarget) []models.CheckResult {
	var results []models.CheckResult
	for r := range c.Run(ctx, targets) {
		results = append(results, r)
	}
	return results
}
