package capability

import (
	"errors"
	"fmt"
	"time"
)

type State int

const (
	StateUnknown State = iota
	StateSupported
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "UNKNOWN"
	case StateSupported:
		return "SUPPORTED"
	case StateBroken:
		return "BROKEN"
	default:
		return "INVALID"
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch s {
	case "UNKNOWN", "":
		return StateUnknown, nil
	case "SUPPORTED":
		return StateSupported, nil
	case "BROKEN":
		return StateBroken, nil
	default:
		return StateUnknown, fmt.Errorf("estado de capability inválido: %q", s)
	}
}

var ErrBroken = errors.New("capability quebrada")

// Capability is a sticky discovery about the platform, e.g. "zero-copy
// works". Once broken it stays broken for the owner's lifetime and is never
// probed again.
//
// A Capability is not safe for concurrent use; the owner guards it with its
// own lock.
type Capability struct {
	name       string
	state      State
	lastErr    error
	failures   int64
	checks     int64
	lastChange time.Time

	onChange func(name string, old, new State)
}

func New(name string, initial State) *Capability {
	return &Capability{
		name:       name,
		state:      initial,
		lastChange: time.Now(),
	}
}

// OnChange registers fn to be called on every state transition.
func (c *Capability) OnChange(fn func(name string, old, new State)) {
	c.onChange = fn
}

func (c *Capability) Name() string { return c.name }
func (c *Capability) State() State { return c.state }

// Works reports whether the capability is known or assumed to work.
func (c *Capability) Works() bool { return c.state != StateBroken }

func (c *Capability) Broken() bool { return c.state == StateBroken }

func (c *Capability) Known() bool { return c.state != StateUnknown }

// MarkSupported records a successful observation. It never revives a broken
// capability.
func (c *Capability) MarkSupported() {
	if c.state == StateUnknown {
		c.setState(StateSupported)
	}
}

// MarkBroken records a failure; the capability stays broken from now on.
func (c *Capability) MarkBroken(reason error) {
	c.failures++
	c.lastErr = reason
	c.setState(StateBroken)
}

// Check runs fn only while the state is unknown and records the outcome.
// Known-good capabilities return nil without calling fn and broken ones
// return ErrBroken.
func (c *Capability) Check(fn func() error) error {
	switch c.state {
	case StateSupported:
		return nil
	case StateBroken:
		return fmt.Errorf("%s: %w", c.name, ErrBroken)
	}

	c.checks++
	if err := fn(); err != nil {
		c.MarkBroken(err)
		return fmt.Errorf("%s: %w: %v", c.name, ErrBroken, err)
	}
	c.MarkSupported()
	return nil
}

func (c *Capability) setState(newState State) {
	if c.state == newState {
		return
	}
	old := c.state
	c.state = newState
	c.lastChange = time.Now()
	if c.onChange != nil {
		c.onChange(c.name, old, newState)
	}
}

func (c *Capability) Stats() Stats {
	return Stats{
		Name:       c.name,
		State:      c.state,
		Failures:   c.failures,
		Checks:     c.checks,
		LastError:  c.lastErr,
		LastChange: c.lastChange,
	}
}

type Stats struct {
	Name       string
	State      State
	Failures   int64
	Checks     int64
	LastError  error
	LastChange time.Time
}

func (s Stats) String() string {
	if s.LastError != nil {
		return fmt.Sprintf("Capability[%s]: %s, Checks: %d, Failures: %d, LastError: %v",
			s.Name, s.State, s.Checks, s.Failures, s.LastError)
	}
	return fmt.Sprintf("Capability[%s]: %s, Checks: %d, Failures: %d",
		s.Name, s.State, s.Checks, s.Failures)
}
