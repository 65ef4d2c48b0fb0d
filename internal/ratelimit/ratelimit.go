// Package ratelimit admits or rejects requests per client key against a
// window budget. Two algorithms are provided: a fixed window counter and a
// sliding log that bounds admissions in every span of one window length.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/router-for-me/chatgate/internal/clock"
	"github.com/router-for-me/chatgate/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Algorithm selects the windowing strategy of a store.
type Algorithm string

const (
	// AlgorithmFixed resets the counter once the window has elapsed since its first request.
	AlgorithmFixed Algorithm = "fixed"
	// AlgorithmSliding keeps admitted timestamps and counts those inside the trailing window.
	AlgorithmSliding Algorithm = "sliding"
)

// ErrInvalidBudget is returned for a non-positive window or request budget.
var ErrInvalidBudget = errors.New("ratelimit: window and max must be positive")

// ParseAlgorithm maps a config string to an Algorithm.
func ParseAlgorithm(raw string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(raw))) {
	case AlgorithmFixed:
		return AlgorithmFixed, nil
	case AlgorithmSliding, "":
		return AlgorithmSliding, nil
	default:
		return "", fmt.Errorf("ratelimit: unknown algorithm %q", raw)
	}
}

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // Meaningful only when denied.
}

// Store keeps per-key window state. Implementations must be safe for concurrent use.
type Store interface {
	// Take records one request for key at now and reports whether it fits the budget.
	Take(ctx context.Context, key string, now time.Time, window time.Duration, max int) (Decision, error)
}

// Options configures a Limiter.
type Options struct {
	Name    string // Band name, part of every store key.
	Window  time.Duration
	Max     int
	Store   Store
	Clock   clock.Clock
	Metrics *metrics.Metrics
}

// Limiter applies one budget to client keys.
type Limiter struct {
	name    string
	window  time.Duration
	max     int
	store   Store
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewLimiter validates opts and builds a Limiter.
func NewLimiter(opts Options) (*Limiter, error) {
	if opts.Window <= 0 || opts.Max <= 0 {
		return nil, ErrInvalidBudget
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "default"
	}
	return &Limiter{
		name:    name,
		window:  opts.Window,
		max:     opts.Max,
		store:   opts.Store,
		clock:   clock.OrSystem(opts.Clock),
		metrics: opts.Metrics,
	}, nil
}

// Name returns the band name.
func (l *Limiter) Name() string { return l.name }

// Admit records a request for clientKey. A store failure admits the request.
func (l *Limiter) Admit(ctx context.Context, clientKey string) Decision {
	gate := "rate_" + l.name
	decision, err := l.store.Take(ctx, l.name+"|"+clientKey, l.clock.Now(), l.window, l.max)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"limiter":    l.name,
			"client_key": clientKey,
		}).Warn("rate limit store unavailable, admitting request")
		l.metrics.GateDecision(gate, metrics.OutcomeFailOpen)
		return Decision{Allowed: true, Limit: l.max, Remaining: l.max}
	}
	if decision.Allowed {
		l.metrics.GateDecision(gate, metrics.OutcomeAllowed)
	} else {
		l.metrics.GateDecision(gate, metrics.OutcomeDenied)
	}
	return decision
}

// ClientKey joins a network address and a route class.
func ClientKey(addr, routeClass string) string {
	return strings.TrimSpace(addr) + "#" + strings.TrimSpace(routeClass)
}

func remaining(max, count int) int {
	if count >= max {
		return 0
	}
	return max - count
}
