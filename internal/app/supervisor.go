package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrReconnectExhausted is non-fatal: only this endpoint's delivery is
// degraded, the room and its state are untouched. Manual retry is
// allowed afterwards.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

const (
	DefaultBackoffStep = time.Second
	DefaultBackoffCap  = 5 * time.Second
	DefaultMaxAttempts = 5
)

// SupervisorState is the reconnect state machine.
type SupervisorState int

const (
	SupDisconnected SupervisorState = iota
	SupConnected
	SupReconnecting
	SupGivenUp
)

func (s SupervisorState) String() string {
	switch s {
	case SupConnected:
		return "connected"
	case SupReconnecting:
		return "reconnecting"
	case SupGivenUp:
		return "given_up"
	}
	return "disconnected"
}

// Supervisor retries a dropped connection with linear capped backoff.
// One instance supervises one endpoint; it is reused across drops
// because a successful reconnect resets the attempt counter.
type Supervisor struct {
	dial        DialFunc
	step        time.Duration
	cap         time.Duration
	maxAttempts int

	// onConnected runs after every successful dial, inside Connect and
	// Reconnect. The relay session uses it for its load-target
	// handshake.
	onConnected func(ctx context.Context) error

	mu      sync.Mutex
	state   SupervisorState
	attempt int
}

type SupervisorOption func(*Supervisor)

func WithBackoff(step, cap time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.step = step
		s.cap = cap
	}
}

func WithMaxAttempts(n int) SupervisorOption {
	return func(s *Supervisor) { s.maxAttempts = n }
}

func WithOnConnected(fn func(ctx context.Context) error) SupervisorOption {
	return func(s *Supervisor) { s.onConnected = fn }
}

func NewSupervisor(dial DialFunc, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		dial:        dial,
		step:        DefaultBackoffStep,
		cap:         DefaultBackoffCap,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) State() SupervisorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state SupervisorState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Delay is the backoff before the given 1-based attempt.
func (s *Supervisor) Delay(attempt int) time.Duration {
	d := time.Duration(attempt) * s.step
	if d > s.cap {
		d = s.cap
	}
	return d
}

// Connect performs the initial dial without backoff.
func (s *Supervisor) Connect(ctx context.Context) error {
	if err := s.dial(ctx); err != nil {
		s.setState(SupDisconnected)
		return err
	}
	return s.connected(ctx)
}

// MarkDisconnected records a transport drop; call Reconnect after.
func (s *Supervisor) MarkDisconnected() {
	s.setState(SupDisconnected)
}

// Reconnect loops dial attempts with backoff until Connected, the
// context ends, or the attempt budget is spent. Exhaustion transitions
// to GivenUp and returns ErrReconnectExhausted; the caller surfaces a
// soft notice and may call Reconnect again later for a manual retry.
func (s *Supervisor) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	s.attempt = 0
	s.state = SupReconnecting
	s.mu.Unlock()

	for {
		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		if attempt > s.maxAttempts {
			s.setState(SupGivenUp)
			log.Warn().Str("module", "app.supervisor").
				Int("attempts", s.maxAttempts).Msg("reconnect exhausted")
			return ErrReconnectExhausted
		}

		timer := time.NewTimer(s.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(SupDisconnected)
			return ctx.Err()
		case <-timer.C:
		}

		log.Info().Str("module", "app.supervisor").Int("attempt", attempt).Msg("reconnecting")
		if err := s.dial(ctx); err != nil {
			log.Warn().Err(err).Str("module", "app.supervisor").
				Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}
		return s.connected(ctx)
	}
}

func (s *Supervisor) connected(ctx context.Context) error {
	s.mu.Lock()
	s.attempt = 0
	s.state = SupConnected
	s.mu.Unlock()

	if s.onConnected != nil {
		if err := s.onConnected(ctx); err != nil {
			s.setState(SupDisconnected)
			return err
		}
	}
	return nil
}
