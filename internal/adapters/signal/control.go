package signal

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/domain"
	"github.com/openworship/cast/internal/midi"
	"github.com/openworship/cast/internal/setlist"
)

// HandleControl is the controller endpoint. The client token cookie
// identifies the control session, so a reconnecting controller resumes
// its room instead of minting a new one.
func (ctl *Controller) HandleControl(ctx context.Context, c *gin.Context) {
	sid := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("session", sid).Msg("new control connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsConn(ws, 32)
	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn,
		func(data []byte) { ctl.handleControlMsg(ctx, sid, conn, data) },
		func() {
			ctl.Dispatch.OnDisconnect(sid)
			cancel()
		})
}

func (ctl *Controller) handleControlMsg(ctx context.Context, sid string, conn *WsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "open":
		ctl.handleOpen(sid, conn)
	case "resume":
		ctl.handleResume(sid, conn)
	case "end":
		ctl.Dispatch.End(sid)
		ctl.sendJSON(conn, map[string]any{"type": "ended"})
	case "command":
		ctl.handleCommand(sid, conn, data)
	case "midi":
		ctl.handleMidi(sid, conn, data)
	case "set_state":
		ctl.handleSetState(sid, conn, data)
	case "blank":
		ctl.withRoom(sid, conn, func(room *core.Coordinator) error {
			return room.ToggleBlank()
		})
	case "background":
		ctl.handleBackground(sid, conn, data)
	case "display_mode":
		ctl.handleDisplayMode(sid, conn, data)
	case "quick_text":
		ctl.handleQuickText(sid, conn, data)
	case "claim_slug":
		ctl.handleClaimSlug(ctx, sid, conn, data)
	case "select_item":
		ctl.handleSelectItem(sid, conn, data)
	case "setlist_add", "setlist_remove", "setlist_move", "setlist_update":
		ctl.handleSetlistEdit(sid, conn, env.Type, data)
	case "setlist_save":
		ctl.handleSetlistSave(ctx, sid, conn)
	case "setlist_load":
		ctl.handleSetlistLoad(ctx, sid, conn, data)
	case "ping":
		ctl.sendJSON(conn, map[string]any{"type": "pong"})
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown control signal")
	}
}

// withRoom runs fn against the session's room, translating the missing
// room and any typed error to a wire code and acking on success.
func (ctl *Controller) withRoom(sid string, conn *WsConn, fn func(*core.Coordinator) error) {
	room := ctl.Dispatch.Session(sid).Room()
	if room == nil {
		ctl.sendError(conn, "no_active_room")
		return
	}
	if err := fn(room); err != nil {
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "ack"})
}

func (ctl *Controller) handleOpen(sid string, conn *WsConn) {
	room, err := ctl.Dispatch.Open(sid)
	if err != nil {
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type": "room_opened",
		"pin":  room.Pin(),
	})
}

func (ctl *Controller) handleResume(sid string, conn *WsConn) {
	room, ok := ctl.Dispatch.Resume(sid)
	if !ok {
		ctl.sendError(conn, "no_active_room")
		return
	}
	snap, err := room.Snapshot()
	if err != nil {
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.sendJSON(conn, map[string]any{
		"type": "resumed",
		"pin":  room.Pin(),
		"room": snap,
	})
}

func (ctl *Controller) handleCommand(sid string, conn *WsConn, data []byte) {
	var p struct {
		Type    string         `json:"type"`
		Command domain.Command `json:"command"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	if err := ctl.Dispatch.Dispatch(sid, p.Command); err != nil {
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "ack"})
}

// handleMidi feeds one raw input event through the decoder. Dead-zone
// notes, releases and half pairs decode to nothing; that is normal and
// acked, never an error.
func (ctl *Controller) handleMidi(sid string, conn *WsConn, data []byte) {
	var p struct {
		Type  string `json:"type"`
		Event struct {
			Channel int    `json:"channel"`
			Kind    string `json:"kind"`
			Data1   byte   `json:"data1"`
			Data2   byte   `json:"data2"`
		} `json:"event"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	ev := midi.InputEvent{
		Channel: p.Event.Channel,
		Data1:   p.Event.Data1,
		Data2:   p.Event.Data2,
	}
	switch p.Event.Kind {
	case "note_on":
		ev.Kind = midi.NoteOn
	case "note_off":
		ev.Kind = midi.NoteOff
	case "control_change":
		ev.Kind = midi.ControlChange
	case "program_change":
		ev.Kind = midi.ProgramChange
	default:
		ctl.sendError(conn, "bad_payload")
		return
	}

	cmd, ok := ctl.decoder(sid).Decode(ev)
	if !ok {
		ctl.sendJSON(conn, map[string]any{"type": "ack", "decoded": false})
		return
	}
	if err := ctl.Dispatch.Dispatch(sid, cmd); err != nil {
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "ack", "decoded": true})
}

func (ctl *Controller) handleSetState(sid string, conn *WsConn, data []byte) {
	var p struct {
		Type  string                   `json:"type"`
		State domain.PresentationState `json:"state"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.withRoom(sid, conn, func(room *core.Coordinator) error {
		return room.SetState(p.State)
	})
}

func (ctl *Controller) handleBackground(sid string, conn *WsConn, data []byte) {
	var p struct {
		Type       string                `json:"type"`
		Background domain.BackgroundSpec `json:"background"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.withRoom(sid, conn, func(room *core.Coordinator) error {
		return room.SetBackground(p.Background)
	})
}

func (ctl *Controller) handleDisplayMode(sid string, conn *WsConn, data []byte) {
	var p struct {
		Type string             `json:"type"`
		Mode domain.DisplayMode `json:"mode"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.withRoom(sid, conn, func(room *core.Coordinator) error {
		return room.SetDisplayMode(p.Mode)
	})
}

func (ctl *Controller) handleQuickText(sid string, conn *WsConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	rec := ctl.reconciler(sid)
	rec.SetQuickItem(p.Text)
	ctl.withRoom(sid, conn, func(room *core.Coordinator) error {
		if err := room.SetQuickText(p.Text); err != nil {
			return err
		}
		return room.LinkSetlist(rec.ID(), rec.Items())
	})
}

func (ctl *Controller) handleClaimSlug(ctx context.Context, sid string, conn *WsConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		Slug string `json:"slug"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.withRoom(sid, conn, func(room *core.Coordinator) error {
		return ctl.Rooms.ClaimSlug(ctx, room.Pin(), domain.RoomSlug(p.Slug))
	})
}

func (ctl *Controller) handleSelectItem(sid string, conn *WsConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.withRoom(sid, conn, func(room *core.Coordinator) error {
		return room.SelectItem(p.ID)
	})
}

func (ctl *Controller) handleSetlistEdit(sid string, conn *WsConn, kind string, data []byte) {
	var p struct {
		Type string              `json:"type"`
		Item *domain.SetlistItem `json:"item,omitempty"`
		ID   string              `json:"id,omitempty"`
		To   int                 `json:"to,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	rec := ctl.reconciler(sid)
	switch kind {
	case "setlist_add":
		if p.Item == nil {
			ctl.sendError(conn, "bad_payload")
			return
		}
		rec.AddItem(*p.Item)
	case "setlist_remove":
		rec.RemoveItem(p.ID)
	case "setlist_move":
		rec.MoveItem(p.ID, p.To)
	case "setlist_update":
		if p.Item == nil {
			ctl.sendError(conn, "bad_payload")
			return
		}
		rec.UpdateItem(*p.Item)
	}

	// Keep the live room in sync so hash lookups and slide counts see
	// the edited list.
	if room := ctl.Dispatch.Session(sid).Room(); room != nil {
		if err := room.LinkSetlist(rec.ID(), rec.Items()); err != nil {
			ctl.sendError(conn, errorCode(err))
			return
		}
	}
	ctl.sendJSON(conn, map[string]any{"type": "ack", "dirty": rec.Dirty()})
}

func (ctl *Controller) handleSetlistSave(ctx context.Context, sid string, conn *WsConn) {
	rec := ctl.reconciler(sid)
	if err := rec.Save(ctx); err != nil {
		ctl.sendError(conn, errorCode(err))
		return
	}
	ctl.sendJSON(conn, map[string]any{"type": "saved", "id": rec.ID()})
}

func (ctl *Controller) handleSetlistLoad(ctx context.Context, sid string, conn *WsConn, data []byte) {
	var p struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Resolution string `json:"resolution,omitempty"` // save | discard | cancel
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}

	decide := func() setlist.Decision {
		switch p.Resolution {
		case "save":
			return setlist.SaveThenLoad
		case "discard":
			return setlist.DiscardThenLoad
		default:
			// Unstated resolution over unsaved edits cancels; the UI
			// retries with an explicit choice.
			return setlist.CancelLoad
		}
	}

	rec := ctl.reconciler(sid)
	if err := rec.Load(ctx, p.ID, decide); err != nil {
		ctl.sendError(conn, errorCode(err))
		return
	}
	if room := ctl.Dispatch.Session(sid).Room(); room != nil {
		if err := room.LinkSetlist(rec.ID(), rec.Items()); err != nil {
			ctl.sendError(conn, errorCode(err))
			return
		}
	}
	ctl.sendJSON(conn, map[string]any{"type": "loaded", "id": rec.ID(), "items": rec.Items()})
}
