package oidc

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"k8s.io/utils/clock"
)

// TokenKind identifies which token a token_expires event is about.
type TokenKind string

const (
	AccessTokenKind TokenKind = "access_token"
	IdTokenKind     TokenKind = "id_token"
)

// SchedulerState is the state of an ExpirationScheduler.
type SchedulerState int

const (
	SchedulerIdle SchedulerState = iota
	SchedulerArmed
	SchedulerFired
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerArmed:
		return "armed"
	case SchedulerFired:
		return "fired"
	default:
		return fmt.Sprintf("SchedulerState(%d)", int(s))
	}
}

// ExpirationScheduler publishes a single token_expires event once a token has
// used up TimeoutFactor of its lifetime. Only the most recently armed timer
// can fire.
type ExpirationScheduler struct {
	mu      sync.Mutex
	clock   clock.WithDelayedExecution
	events  *Events
	factor  float64
	logger  hclog.Logger
	state   SchedulerState
	kind    TokenKind
	firesAt time.Time
	timer   clock.Timer
	gen     uint64
}

// schedulerOptions is the set of available options for ExpirationScheduler
// functions
type schedulerOptions struct {
	withClock  clock.WithDelayedExecution
	withLogger hclog.Logger
}

func schedulerDefaults() schedulerOptions {
	return schedulerOptions{
		withClock:  clock.RealClock{},
		withLogger: hclog.NewNullLogger(),
	}
}

func getSchedulerOpts(opt ...Option) schedulerOptions {
	opts := schedulerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewExpirationScheduler creates an idle scheduler publishing to events.
// factor must be within (0, 1].
//
// Supported options: WithClock, WithLogger
func NewExpirationScheduler(events *Events, factor float64, opt ...Option) (*ExpirationScheduler, error) {
	const op = "NewExpirationScheduler"
	switch {
	case events == nil:
		return nil, fmt.Errorf("%s: events is nil: %w", op, ErrNilParameter)
	case factor <= 0 || factor > 1:
		return nil, fmt.Errorf("%s: timeout factor %v is not within (0, 1]: %w", op, factor, ErrInvalidParameter)
	}
	opts := getSchedulerOpts(opt...)
	if opts.withClock == nil {
		return nil, fmt.Errorf("%s: clock is nil: %w", op, ErrNilParameter)
	}
	return &ExpirationScheduler{
		clock:  opts.withClock,
		events: events,
		factor: factor,
		logger: opts.withLogger,
	}, nil
}

// Arm cancels any pending timer and schedules token_expires for kind at
// storedAt + (expiresAt-storedAt)*factor. Timestamps are epoch milliseconds.
// A deadline already in the past fires as soon as possible.
func (s *ExpirationScheduler) Arm(kind TokenKind, storedAt, expiresAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	now := s.clock.Now()
	deadline := storedAt + int64(float64(expiresAt-storedAt)*s.factor)
	timeout := time.Duration(deadline-now.UnixMilli()) * time.Millisecond
	if timeout < 0 {
		timeout = 0
	}

	s.gen++
	gen := s.gen
	s.state = SchedulerArmed
	s.kind = kind
	s.firesAt = now.Add(timeout)
	s.timer = s.clock.AfterFunc(timeout, func() { s.fire(gen) })
	s.logger.Debug("armed expiration timer", "kind", kind, "timeout", timeout)
}

// Cancel stops a pending timer and returns the scheduler to idle.
func (s *ExpirationScheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.state = SchedulerIdle
	s.kind = ""
	s.firesAt = time.Time{}
}

// State returns the current state with the armed (or fired) token kind and
// deadline.
func (s *ExpirationScheduler) State() (SchedulerState, TokenKind, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.kind, s.firesAt
}

func (s *ExpirationScheduler) stopLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// fire must not call the clock: fake clocks run it while holding their lock.
func (s *ExpirationScheduler) fire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != SchedulerArmed {
		s.mu.Unlock()
		return
	}
	s.state = SchedulerFired
	s.timer = nil
	kind := s.kind
	s.mu.Unlock()

	s.logger.Debug("token expiration timer fired", "kind", kind)
	s.events.Publish(InfoEvent{Type: EventTokenExpires, Info: kind})
}
