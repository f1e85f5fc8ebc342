package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type span struct{ start, end time.Time }

func TestThrottleRunsSequentiallyWithDelay(t *testing.T) {
	const delay = 40 * time.Millisecond
	th := NewThrottle(delay)
	defer th.Close()

	var mu sync.Mutex
	var spans []span
	var futures []*Future[int]
	for i := 0; i < 4; i++ {
		futures = append(futures, Submit(th, context.Background(), func(ctx context.Context) (int, error) {
			s := span{start: time.Now()}
			time.Sleep(10 * time.Millisecond)
			s.end = time.Now()
			mu.Lock()
			spans = append(spans, s)
			mu.Unlock()
			return i, nil
		}))
	}

	for i, f := range futures {
		v, ok := f.Wait(context.Background())
		if !ok || v != i {
			t.Fatalf("future %d = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(spans); i++ {
		gap := spans[i].start.Sub(spans[i-1].end)
		if gap < delay {
			t.Errorf("gap between task %d and %d = %v, want >= %v", i-1, i, gap, delay)
		}
	}
}

func TestThrottleFailureDoesNotStopQueue(t *testing.T) {
	th := NewThrottle(time.Millisecond)
	defer th.Close()

	bad := Submit(th, context.Background(), func(ctx context.Context) (string, error) {
		return "ignored", errors.New("boom")
	})
	panicky := Submit(th, context.Background(), func(ctx context.Context) (string, error) {
		panic("kaboom")
	})
	good := Submit(th, context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	if v, ok := bad.Wait(context.Background()); ok || v != "" {
		t.Errorf("failed task = (%q, %v), want zero value and false", v, ok)
	}
	if _, ok := panicky.Wait(context.Background()); ok {
		t.Error("panicking task should resolve with ok == false")
	}
	if v, ok := good.Wait(context.Background()); !ok || v != "ok" {
		t.Errorf("task after failures = (%q, %v), want (ok, true)", v, ok)
	}
}

func TestThrottleCancelledJobIsSkipped(t *testing.T) {
	th := NewThrottle(time.Millisecond)
	defer th.Close()

	block := make(chan struct{})
	first := Submit(th, context.Background(), func(ctx context.Context) (int, error) {
		<-block
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	called := false
	second := Submit(th, ctx, func(ctx context.Context) (int, error) {
		called = true
		return 2, nil
	})
	cancel()
	close(block)

	if _, ok := first.Wait(context.Background()); !ok {
		t.Fatal("first task should succeed")
	}
	<-second.Done()
	if _, ok := second.Wait(context.Background()); ok {
		t.Error("cancelled task should resolve with ok == false")
	}
	if called {
		t.Error("cancelled task should never run")
	}
}

func TestThrottleClose(t *testing.T) {
	th := NewThrottle(time.Hour)

	first := Submit(th, context.Background(), func(ctx context.Context) (int, error) { return 1, nil })
	if _, ok := first.Wait(context.Background()); !ok {
		t.Fatal("first task should run immediately")
	}
	// The hour-long delay keeps this one queued until Close.
	second := Submit(th, context.Background(), func(ctx context.Context) (int, error) { return 2, nil })

	th.Close()
	if _, ok := second.Wait(context.Background()); ok {
		t.Error("task pending at Close should resolve with ok == false")
	}
	late := Submit(th, context.Background(), func(ctx context.Context) (int, error) { return 3, nil })
	if _, ok := late.Wait(context.Background()); ok {
		t.Error("task submitted after Close should resolve with ok == false")
	}
	if th.Pending() != 0 {
		t.Errorf("Pending() = %d after Close", th.Pending())
	}
}

func TestThrottleRateCeiling(t *testing.T) {
	// 600/min = one start every 100ms, which dominates the 1ms delay.
	th := NewThrottle(time.Millisecond, WithRatePerMinute(600))
	defer th.Close()

	var starts []time.Time
	var mu sync.Mutex
	var futures []*Future[struct{}]
	for i := 0; i < 3; i++ {
		futures = append(futures, Submit(th, context.Background(), func(ctx context.Context) (struct{}, error) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			return struct{}{}, nil
		}))
	}
	for _, f := range futures {
		f.Wait(context.Background())
	}
	if total := starts[2].Sub(starts[0]); total < 180*time.Millisecond {
		t.Errorf("three starts spanned %v, want >= ~200ms under the rate ceiling", total)
	}
}

func TestThrottleCloseWhileWaitingOnRateCeiling(t *testing.T) {
	th := NewThrottle(0, WithRatePerMinute(1))
	first := Submit(th, context.Background(), func(ctx context.Context) (int, error) { return 1, nil })
	if _, ok := first.Wait(context.Background()); !ok {
		t.Fatal("first task should run at once")
	}

	second := Submit(th, context.Background(), func(ctx context.Context) (int, error) { return 2, nil })
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		th.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on the rate ceiling")
	}
	if _, ok := second.Wait(context.Background()); ok {
		t.Error("task waiting on the ceiling should fail when the throttle closes")
	}
}

func TestFutureWaitHonoursContext(t *testing.T) {
	f := &Future[int]{done: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := f.Wait(ctx); ok {
		t.Error("Wait should give up when ctx ends")
	}
	if v, ok := Resolved(7).Wait(context.Background()); !ok || v != 7 {
		t.Errorf("Resolved(7) = (%d, %v)", v, ok)
	}
}
