package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"linkrescue/internal/storage"
)

// Sweeper periodically reclaims expired entries from a store.
// Reads never depend on it; it only keeps the store from growing.
type Sweeper struct {
	store    storage.Store
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSweeper creates a Sweeper. A nil logger uses slog.Default().
func NewSweeper(store storage.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		now:      time.Now,
		logger:   logger.With("component", "sweeper"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (s *Sweeper) Start() {
	s.logger.Info("starting cache sweeper", "interval", s.interval.String())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Sweep(context.Background())

		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info("cache sweeper stopped")
}

// Sweep runs one purge pass and returns the number of entries removed.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		s.logger.Warn("cache sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Debug("purged expired cache entries", "count", n)
	}
	return n
}
