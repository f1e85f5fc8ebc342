package checker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"linkrescue/internal/cache"
	"linkrescue/internal/models"
)

// fakeProber reports hosts in alive as alive and counts calls per URL.
type fakeProber struct {
	mu    sync.Mutex
	alive map[string]bool
	calls map[string]int
	delay time.Duration
	done  []time.Time
}

func newFakeProber(alive ...string) *fakeProber {
	p := &fakeProber{alive: map[string]bool{}, calls: map[string]int{}}
	for _, u := range alive {
		p.alive[u] = true
	}
	return p
}

func (p *fakeProber) Probe(ctx context.Context, rawURL string) models.LivenessResult {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[rawURL]++
	p.done = append(p.done, time.Now())
	return models.LivenessResult{Alive: p.alive[rawURL]}
}

func (p *fakeProber) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

func targets(urls ...string) []models.LinkTarget {
	out := make([]models.LinkTarget, len(urls))
	for i, u := range urls {
		out[i] = models.LinkTarget{URL: u, Occurrences: []any{i}}
	}
	return out
}

func byURL(results []models.CheckResult) map[string]models.CheckResult {
	m := make(map[string]models.CheckResult, len(results))
	for _, r := range results {
		m[r.URL] = r
	}
	return m
}

func newTestChecker(p Prober, tr Transport, opts Options) (*Checker, func()) {
	c, _, _ := newTestCache()
	th := NewThrottle(time.Millisecond)
	ac := NewArchiveClient(c, tr, th, ArchiveOptions{Timeout: 200 * time.Millisecond, Logger: discardLogger()})
	opts.Logger = discardLogger()
	return New(p, ac, opts), th.Close
}

func TestPrepare(t *testing.T) {
	in := []models.LinkTarget{
		{URL: "https://B.example/x/", Occurrences: []any{"b1"}},
		{URL: "https://a.example/", Occurrences: []any{"a1"}},
		{URL: "https://b.example/x#frag", Occurrences: []any{"b2"}},
		{URL: "https://b.example:443/x", Occurrences: []any{"b3"}},
		{URL: "  ", Occurrences: []any{"blank"}},
		{URL: "https://c.example/", Occurrences: []any{"c1"}},
	}

	got := Prepare(in, 0)
	want := []models.LinkTarget{
		{URL: "https://b.example/x", Occurrences: []any{"b1", "b2", "b3"}},
		{URL: "https://a.example/", Occurrences: []any{"a1"}},
		{URL: "https://c.example/", Occurrences: []any{"c1"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Prepare() = %+v, want %+v", got, want)
	}

	if capped := Prepare(in, 2); len(capped) != 2 || capped[1].URL != "https://a.example/" {
		t.Errorf("Prepare(limit=2) = %+v", capped)
	}
}

func TestRunCapsURLsInDiscoveryOrder(t *testing.T) {
	var urls []string
	for i := 0; i < 45; i++ {
		urls = append(urls, fmt.Sprintf("https://site%02d.example/", i))
	}
	p := newFakeProber(urls...)
	chk, closeFn := newTestChecker(p, &fakeTransport{}, Options{Concurrency: 4, MaxURLs: 30})
	defer closeFn()

	results := chk.Check(context.Background(), targets(urls...))
	if len(results) != 30 {
		t.Fatalf("got %d results, want 30", len(results))
	}
	got := byURL(results)
	for i, u := range urls {
		_, ok := got[u]
		if i < 30 && !ok {
			t.Errorf("url %d (%s) within the cap got no result", i, u)
		}
		if i >= 30 && ok {
			t.Errorf("url %d (%s) beyond the cap got a result", i, u)
		}
	}
	if p.total() != 30 {
		t.Errorf("probed %d urls, want 30", p.total())
	}
}

func TestRunDeduplicates(t *testing.T) {
	p := newFakeProber("https://dup.example/a")
	chk, closeFn := newTestChecker(p, &fakeTransport{}, Options{})
	defer closeFn()

	in := targets("https://dup.example/a", "https://other.example/", "https://DUP.example/a#x", "https://dup.example/a/")
	results := chk.Check(context.Background(), in)

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	dup := byURL(results)["https://dup.example/a"]
	if !reflect.DeepEqual(dup.Occurrences, []any{0, 2, 3}) {
		t.Errorf("occurrences = %v, want [0 2 3]", dup.Occurrences)
	}
	if p.calls["https://dup.example/a"] != 1 {
		t.Errorf("duplicate probed %d times, want 1", p.calls["https://dup.example/a"])
	}
}

func TestRunArchiveOnlyForDeadURLs(t *testing.T) {
	p := newFakeProber("https://up.example/")
	tr := &fakeTransport{responses: map[string]string{"https://down.example/": archivedBody}}
	chk, closeFn := newTestChecker(p, tr, Options{})
	defer closeFn()

	results := byURL(chk.Check(context.Background(), targets("https://up.example/", "https://down.example/", "https://lost.example/")))

	up := results["https://up.example/"]
	if !up.Alive || up.Archive != nil {
		t.Errorf("alive url = %+v, want alive with no archive", up)
	}
	down := results["https://down.example/"]
	if down.Alive || down.Archive == nil || !down.Archive.Archived {
		t.Fatalf("archived dead url = %+v", down)
	}
	if down.Archive.ArchiveURL != "https://web.archive.org/web/20230101000000/x" || down.Archive.SnapshotDate() != "2023-01-01" {
		t.Errorf("archive = %+v", down.Archive)
	}
	lost := results["https://lost.example/"]
	if lost.Alive || lost.Archive == nil || lost.Archive.Archived {
		t.Errorf("unarchived dead url = %+v", lost)
	}

	for _, u := range tr.Calls() {
		if u == "https://up.example/" {
			t.Error("archive lookup issued for an alive url")
		}
	}
	if len(tr.Calls()) != 2 {
		t.Errorf("archive calls = %v, want the two dead urls", tr.Calls())
	}
}

func TestRunAllAliveSkipsArchivePhase(t *testing.T) {
	p := newFakeProber("https://a.example/", "https://b.example/")
	tr := &fakeTransport{}
	chk, closeFn := newTestChecker(p, tr, Options{})
	defer closeFn()

	results := chk.Check(context.Background(), targets("https://a.example/", "https://b.example/"))
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if len(tr.Calls()) != 0 {
		t.Errorf("archive calls = %v, want none", tr.Calls())
	}
}

func TestRunPhaseOneIsABarrier(t *testing.T) {
	p := newFakeProber("https://slow-alive.example/")
	p.delay = 20 * time.Millisecond
	tr := &fakeTransport{}
	chk, closeFn := newTestChecker(p, tr, Options{Concurrency: 2})
	defer closeFn()

	urls := []string{"https://dead1.example/", "https://slow-alive.example/", "https://dead2.example/", "https://dead3.example/"}
	chk.Check(context.Background(), targets(urls...))

	p.mu.Lock()
	lastProbe := p.done[len(p.done)-1]
	p.mu.Unlock()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.starts) == 0 {
		t.Fatal("no archive lookups")
	}
	if tr.starts[0].Before(lastProbe) {
		t.Error("archive phase started before every liveness probe finished")
	}
}

func TestRunEmitsAliveBeforeArchiveResults(t *testing.T) {
	p := newFakeProber("https://alive.example/")
	tr := &fakeTransport{delay: 30 * time.Millisecond}
	chk, closeFn := newTestChecker(p, tr, Options{})
	defer closeFn()

	var order []string
	for r := range chk.Run(context.Background(), targets("https://dead.example/", "https://alive.example/")) {
		order = append(order, r.URL)
	}
	if !reflect.DeepEqual(order, []string{"https://alive.example/", "https://dead.example/"}) {
		t.Errorf("emission order = %v", order)
	}
}

func TestRunQueuesLookupsInDiscoveryOrder(t *testing.T) {
	p := newFakeProber()
	tr := &fakeTransport{}
	chk, closeFn := newTestChecker(p, tr, Options{Concurrency: 3})
	defer closeFn()

	urls := []string{"https://d1.example/", "https://d2.example/", "https://d3.example/", "https://d4.example/"}
	results := chk.Check(context.Background(), targets(urls...))
	if len(results) != len(urls) {
		t.Fatalf("got %d results, want %d", len(results), len(urls))
	}
	if !reflect.DeepEqual(tr.Calls(), urls) {
		t.Errorf("lookup order = %v, want %v", tr.Calls(), urls)
	}
}

// A dead URL answered from cache is reported without waiting for network
// lookups queued ahead of it.
func TestRunCachedDeadResultNotHeldBehindLookups(t *testing.T) {
	const lookupDelay = 500 * time.Millisecond
	tc, _, _ := newTestCache()
	ctx := context.Background()
	tc.Set(ctx, cache.Archive, "https://cached.example/", archivePayload{
		ArchiveURL:   "https://web.archive.org/web/20200101000000/https://cached.example/",
		SnapshotTime: "20200101000000",
	}, 0)

	tr := &fakeTransport{delay: lookupDelay}
	th := NewThrottle(time.Millisecond)
	defer th.Close()
	ac := NewArchiveClient(tc, tr, th, ArchiveOptions{Timeout: 5 * time.Second, Logger: discardLogger()})
	chk := New(newFakeProber(), ac, Options{Logger: discardLogger()})

	start := time.Now()
	var order []string
	var cachedAt time.Duration
	for r := range chk.Run(ctx, targets("https://slow.example/", "https://cached.example/")) {
		order = append(order, r.URL)
		if r.URL == "https://cached.example/" {
			cachedAt = time.Since(start)
			if r.Archive == nil || !r.Archive.Archived {
				t.Errorf("cached result = %+v", r.Archive)
			}
		}
	}

	if !reflect.DeepEqual(order, []string{"https://cached.example/", "https://slow.example/"}) {
		t.Errorf("emission order = %v, want the cached result first", order)
	}
	if cachedAt >= lookupDelay {
		t.Errorf("cached result arrived after %v, held behind a %v lookup", cachedAt, lookupDelay)
	}
	if calls := tr.Calls(); len(calls) != 1 || calls[0] != "https://slow.example/" {
		t.Errorf("archive calls = %v", calls)
	}
}

func TestRunEmptyInput(t *testing.T) {
	chk, closeFn := newTestChecker(newFakeProber(), &fakeTransport{}, Options{})
	defer closeFn()
	if results := chk.Check(context.Background(), nil); len(results) != 0 {
		t.Errorf("got %d results for no input", len(results))
	}
}

// End to end with the real probe, cache and archive client.
func TestRunIdempotentWithinTTL(t *testing.T) {
	var liveHits atomic.Int32
	live := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		liveHits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer live.Close()
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	goneURL := gone.URL + "/"
	gone.Close()

	tc, _, _ := newTestCache()
	probe := NewLivenessProbe(tc, LivenessOptions{Timeout: time.Second, Logger: discardLogger()})
	tr := &fakeTransport{responses: map[string]string{goneURL: archivedBody}}
	th := NewThrottle(time.Millisecond)
	defer th.Close()
	ac := NewArchiveClient(tc, tr, th, ArchiveOptions{Logger: discardLogger()})
	chk := New(probe, ac, Options{Logger: discardLogger()})

	in := targets(live.URL+"/", goneURL)
	first := chk.Check(context.Background(), in)
	second := chk.Check(context.Background(), in)

	if liveHits.Load() != 1 {
		t.Errorf("live host probed %d times, want 1", liveHits.Load())
	}
	if len(tr.Calls()) != 1 {
		t.Errorf("archive queried %d times, want 1", len(tr.Calls()))
	}

	sortResults(first)
	sortResults(second)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("second run differs:\n first=%+v\nsecond=%+v", first, second)
	}
}

// A dead URL with a fresh archived entry resolves without archive traffic.
func TestRunDeadWithCachedArchive(t *testing.T) {
	tc, _, _ := newTestCache()
	ctx := context.Background()
	tc.Set(ctx, cache.Archive, "https://gone.example/page", archivePayload{
		ArchiveURL:   "https://web.archive.org/web/20200101000000/https://gone.example/page",
		SnapshotTime: "20200101000000",
	}, 0)

	tr := &fakeTransport{}
	th := NewThrottle(time.Millisecond)
	defer th.Close()
	ac := NewArchiveClient(tc, tr, th, ArchiveOptions{Logger: discardLogger()})
	chk := New(newFakeProber(), ac, Options{Logger: discardLogger()})

	results := chk.Check(ctx, targets("https://gone.example/page"))
	if len(results) != 1 || results[0].Alive || results[0].Archive == nil || !results[0].Archive.Archived {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Archive.SnapshotDate() != "2020-01-01" {
		t.Errorf("snapshot date = %q", results[0].Archive.SnapshotDate())
	}
	if len(tr.Calls()) != 0 {
		t.Errorf("archive calls = %v, want none", tr.Calls())
	}
}

func TestRunArchiveTimeoutYieldsUnconfirmed(t *testing.T) {
	tr := &fakeTransport{delay: time.Second}
	chk, closeFn := newTestChecker(newFakeProber(), tr, Options{})
	defer closeFn()

	results := chk.Check(context.Background(), targets("https://slow-archive.example/"))
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	a := results[0].Archive
	if results[0].Alive || a == nil || a.Archived || !a.Unconfirmed {
		t.Errorf("result = %+v archive=%+v, want dead, NotArchived, unconfirmed", results[0], a)
	}
}

func sortResults(rs []models.CheckResult) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].URL < rs[j].URL })
}
