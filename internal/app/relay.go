package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// RelayTransport is the session to an external display adapter. Only
// its reconnection behavior is in scope here; the concrete transport
// lives behind this interface.
type RelayTransport interface {
	Dial(ctx context.Context) error
	// LoadTarget points the adapter at the current viewing endpoint.
	// The adapter has no persisted memory of it, so it must be resent
	// after every reconnect.
	LoadTarget(ctx context.Context, url string) error
	Close() error
}

// RelaySession supervises the secondary relay. It remembers the
// viewing endpoint so the one-time load-target handshake can be
// replayed when the supervisor re-establishes the session.
type RelaySession struct {
	transport RelayTransport
	sup       *Supervisor

	mu     sync.Mutex
	target string
}

func NewRelaySession(transport RelayTransport, target string, opts ...SupervisorOption) *RelaySession {
	r := &RelaySession{transport: transport, target: target}
	opts = append(opts, WithOnConnected(r.handshake))
	r.sup = NewSupervisor(transport.Dial, opts...)
	return r
}

func (r *RelaySession) handshake(ctx context.Context) error {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	if target == "" {
		return nil
	}
	if err := r.transport.LoadTarget(ctx, target); err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("load target handshake")
		return err
	}
	log.Info().Str("module", "app.relay").Str("target", target).Msg("target loaded")
	return nil
}

// SetTarget updates the viewing endpoint and pushes it out if the
// session is currently up.
func (r *RelaySession) SetTarget(ctx context.Context, url string) error {
	r.mu.Lock()
	r.target = url
	r.mu.Unlock()
	if r.sup.State() != SupConnected {
		return nil
	}
	return r.handshake(ctx)
}

func (r *RelaySession) Start(ctx context.Context) error {
	return r.sup.Connect(ctx)
}

// OnDrop runs the reconnect loop after a transport failure. GivenUp is
// surfaced to the operator as a soft notice; the room is unaffected.
func (r *RelaySession) OnDrop(ctx context.Context) error {
	r.sup.MarkDisconnected()
	return r.sup.Reconnect(ctx)
}

func (r *RelaySession) State() SupervisorState { return r.sup.State() }

func (r *RelaySession) Close() error {
	return r.transport.Close()
}
