package checker

import (
	"context"
	"sync"
)

// HostLimiter bounds how many operations may run against one host at a time.
// Unlike a plain semaphore it keeps one slot set per host and forgets hosts
// once nobody holds or waits for them.
type HostLimiter struct {
	perHost int
	mu      sync.Mutex
	hosts   map[string]*hostSlots
}

type hostSlots struct {
	sem  chan struct{}
	refs int
}

// NewHostLimiter creates a HostLimiter. perHost <= 0 disables limiting.
func NewHostLimiter(perHost int) *HostLimiter {
	return &HostLimiter{
		perHost: perHost,
		hosts:   make(map[string]*hostSlots),
	}
}

// Acquire blocks until a slot for host is free or ctx is done.
// Every successful Acquire must be paired with Release.
func (hl *HostLimiter) Acquire(ctx context.Context, host string) error {
	if hl == nil || hl.perHost <= 0 {
		return nil
	}

	hl.mu.Lock()
	slots, ok := hl.hosts[host]
	if !ok {
		slots = &hostSlots{sem: make(chan struct{}, hl.perHost)}
		hl.hosts[host] = slots
	}
	slots.refs++
	hl.mu.Unlock()

	select {
	case slots.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		hl.unref(host, slots)
		return ctx.Err()
	}
}

// Release frees a slot acquired for host.
func (hl *HostLimiter) Release(host string) {
	if hl == nil || hl.perHost <= 0 {
		return
	}
	hl.mu.Lock()
	slots, ok := hl.hosts[host]
	hl.mu.Unlock()
	if !ok {
		return
	}
	<-slots.sem
	hl.unref(host, slots)
}

func (hl *HostLimiter) unref(host string, slots *hostSlots) {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	slots.refs--
	if slots.refs == 0 {
		delete(hl.hosts, host)
	}
}

// tracked returns the number of hosts currently held or waited on.
func (hl *HostLimiter) tracked() int {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	return len(hl.hosts)
}
