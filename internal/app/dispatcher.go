// Package app wires control sessions, command dispatch and delivery
// resilience on top of the core room loop.
package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/domain"
)

var (
	ErrNoActiveRoom   = errors.New("no active room")
	ErrConnectTimeout = errors.New("connect timeout")
	ErrSuperseded     = errors.New("connect attempt superseded")
)

const (
	// DefaultConnectTimeout bounds how long a control-channel connect
	// may sit in Connecting before it fails.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultResumeGrace is how long a dropped controller connection
	// may resume before its room is torn down.
	DefaultResumeGrace = 30 * time.Second
)

// ControlState is the control-channel connection lifecycle.
type ControlState int

const (
	ControlDisconnected ControlState = iota
	ControlConnecting
	ControlConnected
)

func (s ControlState) String() string {
	switch s {
	case ControlConnecting:
		return "connecting"
	case ControlConnected:
		return "connected"
	}
	return "disconnected"
}

// DialFunc establishes the underlying transport. It must respect ctx.
type DialFunc func(ctx context.Context) error

// ControlSession is one controller's control channel. It holds at most
// one pending on-connect callback; a newer connect attempt supersedes
// the older one, which becomes inert instead of firing twice.
type ControlSession struct {
	id      string
	timeout time.Duration

	mu        sync.Mutex
	state     ControlState
	room      *core.Coordinator
	gen       uint64
	onConnect func()
}

func NewControlSession(id string) *ControlSession {
	return &ControlSession{id: id, timeout: DefaultConnectTimeout}
}

func (s *ControlSession) ID() string { return s.id }

// SetConnectTimeout overrides the Connecting deadline.
func (s *ControlSession) SetConnectTimeout(d time.Duration) { s.timeout = d }

func (s *ControlSession) State() ControlState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ControlSession) Room() *core.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *ControlSession) bind(room *core.Coordinator) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

func (s *ControlSession) unbind() *core.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.room
	s.room = nil
	return room
}

// Connect runs one connect attempt. onConnect fires exactly once when
// this attempt reaches Connected; if a later attempt replaces it first,
// it never fires. A join or command issued while Connecting queues
// behind this slot.
func (s *ControlSession) Connect(ctx context.Context, dial DialFunc, onConnect func()) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = ControlConnecting
	s.onConnect = onConnect
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- dial(ctx) }()

	select {
	case err := <-errc:
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return ErrSuperseded
		}
		if err != nil {
			s.state = ControlDisconnected
			s.onConnect = nil
			s.mu.Unlock()
			return err
		}
		s.state = ControlConnected
		cb := s.onConnect
		s.onConnect = nil
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
		return nil

	case <-ctx.Done():
		s.mu.Lock()
		if s.gen == gen {
			s.state = ControlDisconnected
			s.onConnect = nil
		}
		s.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return ctx.Err()
	}
}

// markConnected is the adapter path for transports that arrive already
// established (an accepted websocket has no dial step).
func (s *ControlSession) markConnected() {
	s.mu.Lock()
	s.gen++
	s.state = ControlConnected
	s.onConnect = nil
	s.mu.Unlock()
}

func (s *ControlSession) markDisconnected() {
	s.mu.Lock()
	s.state = ControlDisconnected
	s.mu.Unlock()
}

// reaper is one armed teardown timer. The generation distinguishes a
// stale fired callback from the currently armed one.
type reaper struct {
	timer *time.Timer
	gen   uint64
}

// Dispatcher validates commands against the session's room and routes
// them to the room loop. No business interpretation happens here.
type Dispatcher struct {
	rooms *core.Manager
	grace time.Duration

	mu         sync.Mutex
	sessions   map[string]*ControlSession
	reapers    map[string]*reaper
	reapGen    uint64
	onTeardown func(id string)
}

func NewDispatcher(rooms *core.Manager) *Dispatcher {
	return &Dispatcher{
		rooms:    rooms,
		grace:    DefaultResumeGrace,
		sessions: make(map[string]*ControlSession),
		reapers:  make(map[string]*reaper),
	}
}

// SetResumeGrace overrides the controller resume window.
func (d *Dispatcher) SetResumeGrace(grace time.Duration) { d.grace = grace }

// SetOnTeardown registers a hook run after a session's room is torn
// down (explicit End or reaped disconnect), so adapters can drop their
// session-scoped state.
func (d *Dispatcher) SetOnTeardown(fn func(id string)) {
	d.mu.Lock()
	d.onTeardown = fn
	d.mu.Unlock()
}

// Session returns the control session for a client token, creating it
// on first sight.
func (d *Dispatcher) Session(id string) *ControlSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionLocked(id)
}

func (d *Dispatcher) sessionLocked(id string) *ControlSession {
	if s, ok := d.sessions[id]; ok {
		return s
	}
	s := NewControlSession(id)
	d.sessions[id] = s
	return s
}

// Open creates a room for the session's controller and binds it. The
// room lives until End or an unresumed disconnect.
func (d *Dispatcher) Open(id string) (*core.Coordinator, error) {
	s := d.Session(id)
	if room := s.Room(); room != nil {
		return room, nil // already live; reconnect resumes the same room
	}
	room, err := d.rooms.CreateRoom()
	if err != nil {
		return nil, err
	}
	s.bind(room)
	s.markConnected()
	log.Info().Str("module", "app.dispatch").Str("session", id).
		Str("pin", string(room.Pin())).Msg("control session opened")
	return room, nil
}

// Dispatch forwards one command unmodified to the session's room.
func (d *Dispatcher) Dispatch(id string, cmd domain.Command) error {
	s := d.Session(id)
	room := s.Room()
	if room == nil {
		return ErrNoActiveRoom
	}
	return room.Apply(cmd)
}

// Resume cancels a pending teardown after a controller reconnect. The
// reaper check and the Connected transition happen under one lock, so
// a timer firing at the same instant either loses (finds no armed
// reaper) or wins before Resume reads the room.
func (d *Dispatcher) Resume(id string) (*core.Coordinator, bool) {
	d.mu.Lock()
	if r, ok := d.reapers[id]; ok {
		r.timer.Stop()
		delete(d.reapers, id)
	}
	s := d.sessionLocked(id)
	room := s.Room()
	if room == nil {
		d.mu.Unlock()
		return nil, false
	}
	s.markConnected()
	d.mu.Unlock()

	log.Info().Str("module", "app.dispatch").Str("session", id).
		Str("pin", string(room.Pin())).Msg("control session resumed")
	return room, true
}

// OnDisconnect arms the teardown timer. The room survives the grace
// window so a flapping controller connection does not kill the session.
func (d *Dispatcher) OnDisconnect(id string) {
	s := d.Session(id)
	s.markDisconnected()
	if s.Room() == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.reapers[id]; ok {
		r.timer.Stop()
	}
	d.reapGen++
	gen := d.reapGen
	r := &reaper{gen: gen}
	r.timer = time.AfterFunc(d.grace, func() {
		d.reap(id, gen)
	})
	d.reapers[id] = r
	log.Info().Str("module", "app.dispatch").Str("session", id).
		Dur("grace", d.grace).Msg("controller disconnected, teardown armed")
}

func (d *Dispatcher) reap(id string, gen uint64) {
	d.mu.Lock()
	r, ok := d.reapers[id]
	if !ok || r.gen != gen {
		// Resumed, ended, or re-armed since this timer was set.
		d.mu.Unlock()
		return
	}
	delete(d.reapers, id)
	s := d.sessionLocked(id)
	if s.State() == ControlConnected {
		d.mu.Unlock()
		return
	}
	room := s.unbind()
	td := d.onTeardown
	d.mu.Unlock()

	if room != nil {
		d.rooms.CloseRoom(room.Pin())
		log.Info().Str("module", "app.dispatch").Str("session", id).
			Str("pin", string(room.Pin())).Msg("controller gone, room torn down")
	}
	if td != nil {
		td(id)
	}
}

// End is the explicit session close: the room dies immediately.
func (d *Dispatcher) End(id string) {
	d.mu.Lock()
	if r, ok := d.reapers[id]; ok {
		r.timer.Stop()
		delete(d.reapers, id)
	}
	s := d.sessionLocked(id)
	room := s.unbind()
	s.markDisconnected()
	td := d.onTeardown
	d.mu.Unlock()

	if room != nil {
		d.rooms.CloseRoom(room.Pin())
	}
	if td != nil {
		td(id)
	}
}
