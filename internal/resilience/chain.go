package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrChainExhausted is returned when every backend in a chain failed or was
// refusing traffic.
var ErrChainExhausted = errors.New("all backends unavailable")

// FallbackConfig tunes the per-backend breakers of a failover chain. The
// zero value uses the [BreakerConfig] defaults.
type FallbackConfig struct {
	// TripAfter is the consecutive-failure count that takes a backend out
	// of rotation.
	TripAfter int

	// Cooldown is how long a tripped backend sits out before being probed.
	Cooldown time.Duration

	// Probes is the number of consecutive probe successes that bring a
	// backend back.
	Probes int
}

// backend pairs one provider instance with its breaker.
type backend[T any] struct {
	name    string
	impl    T
	breaker *Breaker
}

// chain is an ordered list of interchangeable backends. Calls go to the
// first entry whose breaker admits them; a failure moves on to the next.
// Backends are never removed, only tripped, so a recovered primary takes
// preference again on the next call.
type chain[T any] struct {
	backends []backend[T]
	cfg      FallbackConfig
}

func newChain[T any](primary T, name string, cfg FallbackConfig) *chain[T] {
	c := &chain[T]{cfg: cfg}
	c.add(name, primary)
	return c
}

// add appends a backend. Order of addition is order of preference.
func (c *chain[T]) add(name string, impl T) {
	c.backends = append(c.backends, backend[T]{
		name: name,
		impl: impl,
		breaker: NewBreaker(BreakerConfig{
			Name:      name,
			TripAfter: c.cfg.TripAfter,
			Cooldown:  c.cfg.Cooldown,
			Probes:    c.cfg.Probes,
		}),
	})
}

// try runs fn against each backend in preference order until one answers.
// Backends refusing traffic are skipped without being invoked. When the
// whole chain is spent the last error is wrapped in [ErrChainExhausted].
//
// This is a free function because methods cannot introduce the result type
// parameter R.
func try[T any, R any](c *chain[T], fn func(T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for i := range c.backends {
		b := &c.backends[i]
		var out R
		err := b.breaker.Call(func() error {
			var callErr error
			out, callErr = fn(b.impl)
			return callErr
		})
		if err == nil {
			if i > 0 {
				slog.Info("fallback backend took the call", "backend", b.name)
			}
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrBackendDown) {
			slog.Debug("skipping backend in cooldown", "backend", b.name)
		} else {
			slog.Warn("backend failed, trying next",
				"backend", b.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrChainExhausted, lastErr)
}
