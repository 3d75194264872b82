// Package resilience keeps calls alive when a backing service degrades.
//
// Every provider Donna leans on mid-call is wrapped in a failover chain: an
// ordered list of interchangeable backends, each guarded by its own [Breaker].
// A backend that keeps failing is tripped and left to cool down while traffic
// flows to the next entry, so a provider outage costs the caller one failed
// request rather than a dead line.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBackendDown is returned by [Breaker.Call] when the backend is tripped
// and not yet accepting probe traffic.
var ErrBackendDown = errors.New("backend is down")

// BreakerConfig tunes a [Breaker]. Zero-value fields fall back to defaults
// chosen for live calls: trip fast, stay out of the way, recover quietly.
type BreakerConfig struct {
	// Name labels the backend in log lines.
	Name string

	// TripAfter is the consecutive-failure count that trips the breaker.
	// Default: 3.
	TripAfter int

	// Cooldown is how long a tripped backend is left alone before probe
	// calls are admitted. Default: 30s.
	Cooldown time.Duration

	// Probes is both the probe budget after a cooldown and the number of
	// consecutive probe successes required before traffic resumes.
	// Default: 2.
	Probes int
}

// Breaker guards a single backend. While the backend is healthy every call
// passes through. After TripAfter consecutive failures the breaker trips:
// calls are refused with [ErrBackendDown] until Cooldown elapses, then a
// small number of probe calls are admitted. Probes all succeeding restores
// the backend; any probe failing re-trips it and restarts the cooldown.
type Breaker struct {
	name      string
	tripAfter int
	cooldown  time.Duration
	probes    int

	mu         sync.Mutex
	streak     int // consecutive failures while passing traffic
	down       bool
	probing    bool // cooldown lapsed, probe calls admitted
	downSince  time.Time
	probesUsed int
	probeWins  int
}

// NewBreaker creates a [Breaker] from cfg, filling in defaults for zero
// fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	return &Breaker{
		name:      cfg.Name,
		tripAfter: cfg.TripAfter,
		cooldown:  cfg.Cooldown,
		probes:    cfg.Probes,
	}
}

// Call runs fn unless the breaker is refusing traffic, in which case it
// returns [ErrBackendDown] without invoking fn. The error from fn is
// returned as-is so callers can fail over on it.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.down {
		if !b.probing {
			if time.Since(b.downSince) < b.cooldown {
				b.mu.Unlock()
				return ErrBackendDown
			}
			b.probing = true
			b.probesUsed = 0
			b.probeWins = 0
			slog.Info("backend cooldown over, probing", "backend", b.name)
		}
		if b.probesUsed >= b.probes {
			// Probe budget spent. Outstanding probes decide what
			// happens next.
			b.mu.Unlock()
			return ErrBackendDown
		}
		b.probesUsed++
	}
	probe := b.probing
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.noteFailure(probe)
	} else {
		b.noteSuccess(probe)
	}
	return err
}

// noteFailure records a failed call. Caller holds b.mu.
func (b *Breaker) noteFailure(probe bool) {
	b.downSince = time.Now()

	if probe {
		// One bad probe re-trips immediately.
		b.probing = false
		slog.Warn("probe failed, backend stays down", "backend", b.name)
		return
	}

	b.streak++
	if b.streak >= b.tripAfter {
		b.down = true
		b.probing = false
		slog.Warn("backend tripped",
			"backend", b.name,
			"consecutive_failures", b.streak)
	}
}

// noteSuccess records a successful call. Caller holds b.mu.
func (b *Breaker) noteSuccess(probe bool) {
	if probe {
		b.probeWins++
		if b.probeWins >= b.probes {
			b.down = false
			b.probing = false
			b.streak = 0
			slog.Info("backend recovered", "backend", b.name)
		}
		return
	}
	b.streak = 0
}

// Down reports whether the breaker would refuse a call right now. A tripped
// breaker whose cooldown has lapsed reports false while probe budget
// remains, since the next call would be admitted as a probe.
func (b *Breaker) Down() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.down {
		return false
	}
	if b.probing {
		return b.probesUsed >= b.probes
	}
	return time.Since(b.downSince) < b.cooldown
}

// Reset forces the breaker back to passing traffic, clearing all failure
// accounting. Used when an operator knows the backend is healthy again.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.down = false
	b.probing = false
	b.streak = 0
	b.probesUsed = 0
	b.probeWins = 0
	slog.Info("breaker reset", "backend", b.name)
}
