// Package signal carries the websocket transports: the subscriber
// fan-out channel and the controller's control channel.
package signal

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/app"
	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/midi"
	"github.com/openworship/cast/internal/repository"
	"github.com/openworship/cast/internal/setlist"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WsConn is a closable websocket endpoint with a buffered send queue.
// TrySend never blocks; a full queue is backpressure and the caller
// decides what to do with the slow peer.
type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsConn(ws *websocket.Conn, buffer int) *WsConn {
	return &WsConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// Controller serves both ws endpoints.
type Controller struct {
	Rooms    *core.Manager
	Dispatch *app.Dispatcher
	Setlists repository.SetlistRepository
	Limiter  *JoinRateLimiter

	ReadLimit  int64
	PingPeriod time.Duration

	newDecoder func() *midi.Decoder

	mu          sync.Mutex
	reconcilers map[string]*setlist.Reconciler
	decoders    map[string]*midi.Decoder
}

func NewController(rooms *core.Manager, dispatch *app.Dispatcher, setlists repository.SetlistRepository, newDecoder func() *midi.Decoder) *Controller {
	ctl := &Controller{
		Rooms:       rooms,
		Dispatch:    dispatch,
		Setlists:    setlists,
		Limiter:     NewJoinRateLimiter(10, defaultLimiterWindow),
		ReadLimit:   32768,
		PingPeriod:  54 * time.Second,
		newDecoder:  newDecoder,
		reconcilers: make(map[string]*setlist.Reconciler),
		decoders:    make(map[string]*midi.Decoder),
	}
	dispatch.SetOnTeardown(ctl.release)
	return ctl
}

// reconciler returns the per-controller working setlist.
func (ctl *Controller) reconciler(sid string) *setlist.Reconciler {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if r, ok := ctl.reconcilers[sid]; ok {
		return r
	}
	r := setlist.NewReconciler(ctl.Setlists)
	ctl.reconcilers[sid] = r
	return r
}

// decoder returns the per-controller pairing decoder. The pairing
// buffer is defined over one device's event stream, so sessions must
// never share a decoder.
func (ctl *Controller) decoder(sid string) *midi.Decoder {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if d, ok := ctl.decoders[sid]; ok {
		return d
	}
	d := ctl.newDecoder()
	ctl.decoders[sid] = d
	return d
}

// release drops the session-scoped caches when the dispatcher tears the
// session's room down.
func (ctl *Controller) release(sid string) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	delete(ctl.reconcilers, sid)
	delete(ctl.decoders, sid)
}

func (ctl *Controller) sendJSON(c *WsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *WsConn, code string) {
	ctl.sendJSON(c, map[string]any{"type": "error", "error": code})
}

// errorCode maps typed core/app errors to wire codes. Raw transport
// errors never cross this boundary.
func errorCode(err error) string {
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, core.ErrRoomNotLive):
		return "room_not_live"
	case errors.Is(err, app.ErrNoActiveRoom):
		return "no_active_room"
	case errors.Is(err, app.ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, app.ErrReconnectExhausted):
		return "delivery_degraded"
	case errors.Is(err, setlist.ErrLoadCancelled):
		return "load_cancelled"
	case errors.Is(err, repository.ErrSetlistNotFound):
		return "setlist_not_found"
	default:
		return "internal"
	}
}
