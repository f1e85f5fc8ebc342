package checker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"linkrescue/internal/cache"
	"linkrescue/internal/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache() (*cache.TimedCache, *memory.MemoryStore, *testClock) {
	store := memory.New(0)
	clk := newTestClock()
	c := cache.New(store, cache.Options{
		LivenessTTL: 24 * time.Hour,
		ArchiveTTL:  7 * 24 * time.Hour,
		Now:         clk.Now,
		Logger:      discardLogger(),
	})
	return c, store, clk
}

// fakeTransport answers availability queries from a map and records calls.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	delay     time.Duration
	calls     []string
	starts    []time.Time
	ends      []time.Time
}

func (f *fakeTransport) FetchAvailability(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.starts = append(f.starts, time.Now())
	body, hasBody := f.responses[rawURL]
	err := f.errs[rawURL]
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.ends = append(f.ends, time.Now())
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !hasBody {
		return []byte(`{"url":"` + rawURL + `","archived_snapshots":{}}`), nil
	}
	return []byte(body), nil
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
