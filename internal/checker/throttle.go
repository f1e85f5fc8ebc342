package checker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Future is the pending result of a task submitted to a Throttle.
type Future[T any] struct {
	done chan struct{}
	val  T
	ok   bool
}

// Resolved returns a Future that is already complete with v.
func Resolved[T any](v T) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), val: v, ok: true}
	close(f.done)
	return f
}

// Done is closed when the task has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx is done. ok is false when the
// task failed, panicked, was dropped, or ctx ended first; v is then the
// zero value.
func (f *Future[T]) Wait(ctx context.Context) (v T, ok bool) {
	select {
	case <-f.done:
		return f.val, f.ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

type throttleJob struct {
	ctx  context.Context
	run  func(ctx context.Context)
	fail func()
}

// Throttle runs submitted tasks one at a time, leaving at least delay
// between the end of one task and the start of the next. An optional
// per-minute ceiling can be layered on top.
type Throttle struct {
	delay   time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	mu     sync.Mutex
	queue  []throttleJob
	closed bool
	wake   chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ThrottleOption customises a Throttle.
type ThrottleOption func(*Throttle)

// WithRatePerMinute caps starts at n per minute. n <= 0 leaves it uncapped.
func WithRatePerMinute(n int) ThrottleOption {
	return func(t *Throttle) {
		if n > 0 {
			t.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
		}
	}
}

// WithThrottleLogger sets the logger.
func WithThrottleLogger(l *slog.Logger) ThrottleOption {
	return func(t *Throttle) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewThrottle creates a Throttle and starts its dispatch loop.
func NewThrottle(delay time.Duration, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		delay:    delay,
		logger:   slog.Default(),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	for _, o := range opts {
		o(t)
	}
	t.wg.Add(1)
	go t.loop()
	return t
}

// Submit queues task on t. The returned Future never carries task's error:
// a failing task resolves with ok == false so the queue keeps moving.
func Submit[T any](t *Throttle, ctx context.Context, task func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	var once sync.Once
	finish := func(v T, ok bool) {
		once.Do(func() {
			f.val, f.ok = v, ok
			close(f.done)
		})
	}

	job := throttleJob{
		ctx: ctx,
		run: func(ctx context.Context) {
			var zero T
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("throttled task panicked", "panic", fmt.Sprint(r))
					finish(zero, false)
				}
			}()
			v, err := task(ctx)
			if err != nil {
				finish(zero, false)
				return
			}
			finish(v, true)
		},
		fail: func() {
			var zero T
			finish(zero, false)
		},
	}

	if !t.enqueue(job) {
		job.fail()
	}
	return f
}

// Pending returns the number of queued tasks not yet started.
func (t *Throttle) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Close stops the dispatch loop. Tasks still queued resolve with ok == false.
func (t *Throttle) Close() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.stopChan)
	})
	t.wg.Wait()

	t.mu.Lock()
	rest := t.queue
	t.queue = nil
	t.mu.Unlock()
	for _, j := range rest {
		j.fail()
	}
}

func (t *Throttle) enqueue(j throttleJob) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false
	}
	t.queue = append(t.queue, j)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	return true
}

func (t *Throttle) next() (throttleJob, bool) {
	for {
		t.mu.Lock()
		if len(t.queue) > 0 {
			j := t.queue[0]
			t.queue[0] = throttleJob{}
			t.queue = t.queue[1:]
			t.mu.Unlock()
			return j, true
		}
		t.mu.Unlock()

		select {
		case <-t.wake:
		case <-t.stopChan:
			return throttleJob{}, false
		}
	}
}

func (t *Throttle) loop() {
	defer t.wg.Done()

	var lastDone time.Time
	for {
		job, ok := t.next()
		if !ok {
			return
		}

		// A job whose caller already gave up is resolved without touching
		// the remote side, so it does not consume a slot in the spacing.
		if job.ctx.Err() != nil {
			job.fail()
			continue
		}

		if !lastDone.IsZero() {
			if wait := t.delay - time.Since(lastDone); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-job.ctx.Done():
					timer.Stop()
					job.fail()
					continue
				case <-t.stopChan:
					timer.Stop()
					job.fail()
					return
				}
			}
		}

		if t.limiter != nil {
			if err := t.waitRate(job.ctx); err != nil {
				job.fail()
				if t.stopped() {
					return
				}
				continue
			}
		}

		job.run(job.ctx)
		lastDone = time.Now()
	}
}

// waitRate blocks on the per-minute ceiling until a token is free, ctx is
// done, or the throttle is closed.
func (t *Throttle) waitRate(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return t.limiter.Wait(ctx)
}

func (t *Throttle) stopped() bool {
	select {
	case <-t.stopChan:
		return true
	default:
		return false
	}
}
