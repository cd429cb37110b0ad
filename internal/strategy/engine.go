package strategy

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/epimap/geodispatch/internal/providers"
)

// Domain errors for provider selection
var (
	ErrUnknownStrategy = errors.New("unknown selection strategy")
	ErrNoCandidates    = errors.New("empty candidate set")
)

// Kind identifies a selection strategy
type Kind string

const (
	KindFailover   Kind = "failover"
	KindRoundRobin Kind = "round_robin"
	KindWeighted   Kind = "weighted"
)

// ParseKind validates a strategy name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFailover, KindRoundRobin, KindWeighted:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Engine picks one provider from an ordered candidate set. The active
// strategy can be switched at runtime; a switch takes effect for selections
// that start after it and never disturbs selections already in flight.
type Engine struct {
	mu      sync.Mutex
	kind    Kind
	cursors map[string]int
	weights map[string]int
	rng     *rand.Rand
}

// Option configures the engine
type Option func(*Engine)

// WithRandSource injects a deterministic randomness source for the weighted
// strategy. Tests use this to make draws reproducible.
func WithRandSource(src rand.Source) Option {
	return func(e *Engine) {
		e.rng = rand.New(src)
	}
}

// NewEngine creates an engine with the given initial strategy and provider
// weights. Providers absent from the weight map get weight 1.
func NewEngine(kind string, weights map[string]int, opts ...Option) (*Engine, error) {
	parsed, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		kind:    parsed,
		cursors: make(map[string]int),
		weights: make(map[string]int, len(weights)),
	}
	for id, w := range weights {
		if w > 0 {
			e.weights[id] = w
		}
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return e, nil
}

// Kind returns the active strategy.
func (e *Engine) Kind() Kind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kind
}

// SetKind switches the active strategy. Round-robin cursors survive a switch
// so returning to round-robin resumes the rotation rather than restarting it.
func (e *Engine) SetKind(kind string) error {
	parsed, err := ParseKind(kind)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.kind = parsed
	return nil
}

// Select picks one provider from the candidate set for the given tier.
// Candidate order encodes preference; the failover strategy always takes the
// head, round-robin rotates a per-tier cursor across the set, and weighted
// draws proportionally to configured weights.
func (e *Engine) Select(tier string, candidates []providers.Provider) (providers.Provider, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(candidates) == 0 {
		// An emptied tier restarts its rotation from the head once
		// candidates reappear.
		delete(e.cursors, tier)
		return providers.Provider{}, ErrNoCandidates
	}

	switch e.kind {
	case KindFailover:
		return candidates[0], nil
	case KindRoundRobin:
		idx := e.cursors[tier] % len(candidates)
		e.cursors[tier]++
		return candidates[idx], nil
	case KindWeighted:
		return e.selectWeighted(candidates), nil
	default:
		return providers.Provider{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, e.kind)
	}
}

// selectWeighted draws a candidate proportionally to its weight using a
// cumulative weight table. Caller holds e.mu.
func (e *Engine) selectWeighted(candidates []providers.Provider) providers.Provider {
	total := 0
	cumulative := make([]int, len(candidates))
	for i, p := range candidates {
		weight := e.weights[p.ID]
		if weight <= 0 {
			weight = 1
		}
		total += weight
		cumulative[i] = total
	}

	draw := e.rng.Intn(total)
	for i, bound := range cumulative {
		if draw < bound {
			return candidates[i]
		}
	}
	return candidates[len(candidates)-1]
}
