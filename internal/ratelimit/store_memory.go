package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryEntry is the window state of one key.
type memoryEntry struct {
	windowStart time.Time   // Fixed: first request of the current window.
	count       int         // Fixed: requests seen in the current window.
	hits        []time.Time // Sliding: admitted instants, oldest first.
	lastSeen    time.Time
	window      time.Duration
}

// MemoryStore is a process-local Store. Idle keys are evicted on access
// once SweepInterval has passed, and by Run when started.
type MemoryStore struct {
	mu            sync.Mutex
	algorithm     Algorithm
	entries       map[string]*memoryEntry
	idleTimeout   time.Duration
	sweepInterval time.Duration
	lastSweep     time.Time
}

// MemoryOptions configures a MemoryStore.
type MemoryOptions struct {
	Algorithm     Algorithm
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts MemoryOptions) *MemoryStore {
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmSliding
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &MemoryStore{
		algorithm:     opts.Algorithm,
		entries:       make(map[string]*memoryEntry),
		idleTimeout:   opts.IdleTimeout,
		sweepInterval: opts.SweepInterval,
	}
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error) {
	if window <= 0 || max <= 0 {
		return Decision{}, ErrInvalidBudget
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= s.sweepInterval {
		s.sweepLocked(now)
		s.lastSweep = now
	}

	entry, ok := s.entries[key]
	if !ok {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	entry.lastSeen = now
	entry.window = window

	if s.algorithm == AlgorithmFixed {
		return takeFixed(entry, now, window, max), nil
	}
	return takeSliding(entry, now, window, max), nil
}

func takeFixed(entry *memoryEntry, now time.Time, window time.Duration, max int) Decision {
	if entry.count == 0 || now.Sub(entry.windowStart) >= window {
		entry.windowStart = now
		entry.count = 1
		return Decision{Allowed: true, Limit: max, Remaining: remaining(max, 1)}
	}
	entry.count++
	if entry.count <= max {
		return Decision{Allowed: true, Limit: max, Remaining: remaining(max, entry.count)}
	}
	return Decision{
		Allowed:    false,
		Limit:      max,
		Remaining:  0,
		RetryAfter: entry.windowStart.Add(window).Sub(now),
	}
}

func takeSliding(entry *memoryEntry, now time.Time, window time.Duration, max int) Decision {
	keep := 0
	for keep < len(entry.hits) && now.Sub(entry.hits[keep]) >= window {
		keep++
	}
	if keep > 0 {
		entry.hits = append(entry.hits[:0], entry.hits[keep:]...)
	}
	if len(entry.hits) < max {
		entry.hits = append(entry.hits, now)
		return Decision{Allowed: true, Limit: max, Remaining: remaining(max, len(entry.hits))}
	}
	return Decision{
		Allowed:    false,
		Limit:      max,
		Remaining:  0,
		RetryAfter: entry.hits[0].Add(window).Sub(now),
	}
}

// Sweep evicts keys idle for longer than both the idle timeout and their window.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSweep = now
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	evicted := 0
	for key, entry := range s.entries {
		idleFor := now.Sub(entry.lastSeen)
		if idleFor >= s.idleTimeout && idleFor >= entry.window {
			delete(s.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps on every interval tick until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, now func() time.Time) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(now())
		}
	}
}
