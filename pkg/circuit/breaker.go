// Package circuit stops hammering a dead message broker. After MaxFailures
// consecutive publish errors the breaker opens and rejects calls until an
// exponentially growing backoff elapses; then a few probe calls decide
// whether it closes again.
package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/T3-Labs/edge-surface/pkg/logger"
	"github.com/T3-Labs/edge-surface/pkg/metrics"
)

var ErrOpen = errors.New("circuit breaker aberto")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

type Options struct {
	MaxFailures int64
	// InitialBackoff is the first open period; it doubles on every reopen.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// HalfOpenSuccesses probes must succeed before the breaker closes.
	HalfOpenSuccesses int
}

func DefaultOptions() Options {
	return Options{
		MaxFailures:       5,
		InitialBackoff:    5 * time.Second,
		MaxBackoff:        5 * time.Minute,
		HalfOpenSuccesses: 2,
	}
}

type Breaker struct {
	name string
	opts Options
	now  func() time.Time

	mu            sync.Mutex
	state         State
	failures      int64
	successes     int
	backoff       time.Duration
	openedAt      time.Time
	lastStateTime time.Time
}

func NewBreaker(name string, opts Options) *Breaker {
	def := DefaultOptions()
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = def.MaxFailures
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = def.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.HalfOpenSuccesses <= 0 {
		opts.HalfOpenSuccesses = def.HalfOpenSuccesses
	}

	b := &Breaker{
		name:    name,
		opts:    opts,
		now:     time.Now,
		backoff: opts.InitialBackoff,
	}
	b.lastStateTime = b.now()
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

// Call runs fn unless the breaker is open, in which case it returns ErrOpen.
func (b *Breaker) Call(fn func() error) error {
	if !b.Allow() {
		return fmt.Errorf("%w: %s", ErrOpen, b.name)
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.backoff {
			return false
		}
		b.setState(StateHalfOpen)
	}
	return true
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.opts.HalfOpenSuccesses {
			b.failures = 0
			b.backoff = b.opts.InitialBackoff
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.opts.MaxFailures {
			b.open()
		}
	case StateHalfOpen:
		b.backoff *= 2
		if b.backoff > b.opts.MaxBackoff {
			b.backoff = b.opts.MaxBackoff
		}
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.setState(StateOpen)
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}
	old := b.state
	b.state = state
	b.successes = 0
	b.lastStateTime = b.now()
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(state))

	logger.L().Warnw("Circuit breaker mudou de estado",
		"breaker", b.name,
		"old_state", old,
		"new_state", state,
		"failures", b.failures,
		"backoff", b.backoff)
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerStats{
		Name:            b.name,
		State:           b.state,
		Failures:        b.failures,
		MaxFailures:     b.opts.MaxFailures,
		Backoff:         b.backoff,
		LastStateChange: b.lastStateTime,
	}
}

type BreakerStats struct {
	Name            string
	State           State
	Failures        int64
	MaxFailures     int64
	Backoff         time.Duration
	LastStateChange time.Time
}

func (bs BreakerStats) String() string {
	return fmt.Sprintf("Circuit[%s]: %s, Failures: %d/%d, Backoff: %v",
		bs.Name, bs.State, bs.Failures, bs.MaxFailures, bs.Backoff)
}
