package signal

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/domain"
)

type joinPayload struct {
	Type string `json:"type"`
	Pin  string `json:"pin,omitempty"`
	Slug string `json:"slug,omitempty"`
	Role string `json:"role,omitempty"`
}

// subscriberConn tracks which room this socket is attached to, so a
// dropped transport detaches it from fan-out immediately.
type subscriberConn struct {
	conn *WsConn
	sid  core.SubscriberID

	mu   sync.Mutex
	room *core.Coordinator
}

func (s *subscriberConn) attach(room *core.Coordinator) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

func (s *subscriberConn) detach() {
	s.mu.Lock()
	room := s.room
	s.room = nil
	s.mu.Unlock()
	if room != nil {
		room.Leave(s.sid)
	}
}

// HandleSubscribe is the viewer endpoint. The socket joins at most one
// room at a time; the join reply is the full snapshot, and every later
// frame is a total state replacement.
func (ctl *Controller) HandleSubscribe(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sub := &subscriberConn{
		conn: newWsConn(ws, 32),
		sid:  core.SubscriberID(uuid.NewString()),
	}
	log.Info().Str("module", "signal").Str("sid", string(sub.sid)).Msg("new subscriber connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, sub.conn)
	go ctl.readPump(ctx, sub.conn,
		func(data []byte) { ctl.handleSubscriberMsg(ctx, token, sub, data) },
		func() {
			sub.detach()
			cancel()
		})
}

func (ctl *Controller) handleSubscriberMsg(ctx context.Context, token string, sub *subscriberConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleSubscriberJoin(ctx, token, sub, data)
	case "leave":
		sub.detach()
		ctl.sendJSON(sub.conn, map[string]any{"type": "left"})
	case "ping":
		ctl.sendJSON(sub.conn, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown subscriber signal")
	}
}

func (ctl *Controller) handleSubscriberJoin(ctx context.Context, token string, sub *subscriberConn, data []byte) {
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sub.conn, "bad_payload")
		return
	}
	if !ctl.Limiter.Allow(token) {
		ctl.sendError(sub.conn, "too_many_attempts")
		return
	}

	// Re-join moves the socket; it never holds two rooms.
	sub.detach()

	role := domain.ParseRole(p.Role)
	sess := core.NewSubscriberSession(role, sub.conn)

	var (
		snap core.Snapshot
		room *core.Coordinator
		err  error
	)
	switch {
	case p.Pin != "":
		pin := domain.RoomPin(p.Pin)
		if vErr := domain.ValidatePin(pin); vErr != nil {
			ctl.sendError(sub.conn, "bad_pin")
			return
		}
		snap, room, err = ctl.Rooms.JoinByPin(pin, sub.sid, sess)
	case p.Slug != "":
		snap, room, err = ctl.Rooms.JoinBySlug(ctx, domain.RoomSlug(p.Slug), sub.sid, sess)
	default:
		ctl.sendError(sub.conn, "bad_payload")
		return
	}
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sub.sid)).Msg("join refused")
		ctl.sendError(sub.conn, errorCode(err))
		return
	}

	// The snapshot frame was already queued by the room loop.
	sub.attach(room)
	log.Info().Str("module", "signal").Str("sid", string(sub.sid)).
		Str("pin", string(snap.Pin)).Str("role", string(role)).Msg("subscriber joined")
}
