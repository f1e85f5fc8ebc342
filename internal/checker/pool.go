package checker

import (
	"context"
	"sync"
)

// Task is a unit of work for the WorkerPool.
type Task func(ctx context.Context)

// WorkerPool runs a batch of tasks with at most Concurrency in flight.
// Each call to Run starts min(Concurrency, len(tasks)) workers that pull
// from a shared queue until it is empty; there are no retries.
type WorkerPool struct {
	concurrency int
}

// NewWorkerPool creates a pool. Concurrency below 1 is treated as 1.
func NewWorkerPool(concurrency int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WorkerPool{concurrency: concurrency}
}

// Concurrency returns the in-flight cap.
func (p *WorkerPool) Concurrency() int { return p.concurrency }

// Run executes every task and returns once all of them have finished.
// Tasks not yet started when ctx is cancelled are skipped.
func (p *WorkerPool) Run(ctx context.Context, tasks []Task) {
	if len(tasks) == 0 {
		return
	}

	jobs := make(chan Task, len(tasks))
	for _, t := range tasks {
		jobs <- t
	}
	close(jobs)

	workers := min(p.concurrency, len(tasks))
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for task := range jobs {
				if ctx.Err() != nil {
					continue
				}
				task(ctx)
			}
		}()
	}
	wg.Wait()
}

// RunAll runs fns on p and returns their results indexed like fns.
// Skipped tasks leave the zero value in their slot.
func RunAll[T any](ctx context.Context, p *WorkerPool, fns []func(context.Context) T) []T {
	results := make([]T, len(fns))
	tasks := make([]Task, len(fns))
	for i, fn := range fns {
		tasks[i] = func(ctx context.Context) {
			results[i] = fn(ctx)
		}
	}
	p.Run(ctx, tasks)
	return results
}
