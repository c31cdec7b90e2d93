package core

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/domain"
)

// Coordinator is the authoritative holder of one room's state. All
// mutation goes through a single run loop, so command application is
// serialized per room while rooms stay independent. Nothing outside
// the loop ever touches the state directly.
type Coordinator struct {
	pin domain.RoomPin
	// id outlives pin recycling; slug bindings are verified against it.
	id string

	ctx    context.Context
	cancel context.CancelFunc
	ops    chan func()

	// Everything below is owned by the run loop.
	meta        domain.Room
	phase       domain.RoomPhase
	current     domain.PresentationState
	prior       *domain.PresentationState // remembered non-blank state while blanked
	background  domain.BackgroundSpec
	displayMode domain.DisplayMode
	currentItem *domain.SetlistItem
	setlist     []domain.SetlistItem
	subs        map[SubscriberID]SubscriberSession
}

func NewCoordinator(parent context.Context, meta domain.Room) *Coordinator {
	ctx, cancel := context.WithCancel(parent)
	c := &Coordinator{
		pin:         meta.Pin,
		id:          uuid.NewString(),
		ctx:         ctx,
		cancel:      cancel,
		ops:         make(chan func(), 16),
		meta:        meta,
		phase:       domain.PhaseLive,
		current:     domain.BlankState(),
		displayMode: domain.ModeFull,
		subs:        make(map[SubscriberID]SubscriberSession),
	}
	go c.run()
	log.Info().Str("module", "core.room").Str("pin", string(meta.Pin)).Msg("room live")
	return c
}

func (c *Coordinator) Pin() domain.RoomPin { return c.pin }
func (c *Coordinator) ID() string          { return c.id }

func (c *Coordinator) run() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case fn := <-c.ops:
			fn()
		}
	}
}

// do runs fn on the room loop and waits for it. A closed room returns
// ErrRoomNotLive instead of blocking forever.
func (c *Coordinator) do(fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case c.ops <- wrapped:
	case <-c.ctx.Done():
		return ErrRoomNotLive
	}
	select {
	case <-done:
		return nil
	case <-c.ctx.Done():
		return ErrRoomNotLive
	}
}

// Join adds a subscriber and pushes the snapshot frame in the same
// loop turn, before any later broadcast can be queued. A subscriber
// therefore always sees snapshot-then-broadcasts, never a broadcast
// without a base state.
func (c *Coordinator) Join(sid SubscriberID, sess SubscriberSession) (Snapshot, error) {
	var snap Snapshot
	err := c.do(func() {
		snap = c.snapshotLocked()
		if frame, mErr := json.Marshal(SnapshotReply{Type: "snapshot", Room: snap}); mErr == nil {
			_ = sess.Signal().TrySend(frame)
		}
		c.subs[sid] = sess
		log.Info().Str("module", "core.room").Str("pin", string(c.pin)).
			Str("sid", string(sid)).Str("role", string(sess.Role())).Msg("subscriber joined")
	})
	return snap, err
}

// Leave removes a subscriber from fan-out. Room lifecycle is untouched;
// a room survives subscriber churn and dies only with its controller.
func (c *Coordinator) Leave(sid SubscriberID) {
	_ = c.do(func() {
		if _, ok := c.subs[sid]; ok {
			delete(c.subs, sid)
			log.Info().Str("module", "core.room").Str("pin", string(c.pin)).
				Str("sid", string(sid)).Msg("subscriber left")
		}
	})
}

func (c *Coordinator) SubscriberCount() int {
	n := 0
	_ = c.do(func() { n = len(c.subs) })
	return n
}

func (c *Coordinator) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := c.do(func() { snap = c.snapshotLocked() })
	return snap, err
}

func (c *Coordinator) Info() RoomInfo {
	info := RoomInfo{Pin: c.pin, Phase: domain.PhaseClosed.String()}
	_ = c.do(func() {
		info.Slug = c.meta.Slug
		info.Phase = c.phase.String()
		info.SubscriberCount = len(c.subs)
	})
	return info
}

func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		Pin:         c.pin,
		Slug:        c.meta.Slug,
		State:       c.current,
		Background:  c.background,
		DisplayMode: c.displayMode,
	}
}

// Apply runs one command against the room. Every successful change
// produces exactly one broadcast; no-ops produce none.
func (c *Coordinator) Apply(cmd domain.Command) error {
	return c.do(func() { c.applyLocked(cmd) })
}

func (c *Coordinator) applyLocked(cmd domain.Command) {
	switch cmd.Kind {
	case domain.CmdGotoSlide:
		// The index is stored as given; an out-of-range slide renders
		// as "no content" on the subscriber side.
		c.setSongSlideLocked(cmd.Index)

	case domain.CmdNextSlide:
		idx, count, ok := c.slidePositionLocked()
		if !ok || idx >= count-1 {
			return // edge: no broadcast, no wrap
		}
		c.setSongSlideLocked(idx + 1)

	case domain.CmdPrevSlide:
		idx, _, ok := c.slidePositionLocked()
		if !ok || idx <= 0 {
			return
		}
		c.setSongSlideLocked(idx - 1)

	case domain.CmdIdentifySong:
		item := c.lookupHashLocked(cmd.Hash)
		if item == nil {
			// Stray or garbled pairing; fire-and-forget tolerance.
			log.Debug().Str("module", "core.room").Str("pin", string(c.pin)).
				Uint32("hash", cmd.Hash).Msg("unresolved song hash")
			return
		}
		c.currentItem = item
		c.setSongSlideLocked(0)
	}
}

// slidePositionLocked reports the current slide index and the current
// item's slide count. Next/Prev need both; without them they no-op.
func (c *Coordinator) slidePositionLocked() (idx, count int, ok bool) {
	if c.current.Kind != domain.StateSong || c.currentItem == nil {
		return 0, 0, false
	}
	return c.current.SlideIndex, len(c.currentItem.Slides), true
}

func (c *Coordinator) setSongSlideLocked(index int) {
	var content *domain.SlideContent
	if c.currentItem != nil && index >= 0 && index < len(c.currentItem.Slides) {
		sc := c.currentItem.Slides[index]
		content = &sc
	}
	c.current = domain.SongState(index, content, c.displayMode)
	c.prior = nil
	c.broadcastStateLocked()
}

func (c *Coordinator) lookupHashLocked(hash uint32) *domain.SetlistItem {
	for i := range c.setlist {
		if c.setlist[i].SongHash != 0 && c.setlist[i].SongHash == hash {
			return &c.setlist[i]
		}
	}
	return nil
}

// SetState replaces the current state wholesale (image, tool, explicit
// song slide from the operator UI).
func (c *Coordinator) SetState(state domain.PresentationState) error {
	return c.do(func() {
		c.current = state
		c.prior = nil
		c.broadcastStateLocked()
	})
}

// ToggleBlank is an overlay: entering blank remembers the prior
// non-blank state, leaving blank restores it without the controller
// resending content.
func (c *Coordinator) ToggleBlank() error {
	return c.do(func() {
		if c.current.Kind != domain.StateBlank {
			prior := c.current
			c.prior = &prior
			c.current = domain.BlankState()
			c.broadcastStateLocked()
			return
		}
		if c.prior == nil {
			return // blank with nothing underneath, nothing to restore
		}
		c.current = *c.prior
		c.prior = nil
		c.broadcastStateLocked()
	})
}

func (c *Coordinator) SetBackground(bg domain.BackgroundSpec) error {
	return c.do(func() {
		c.background = bg
		c.broadcastStateLocked()
	})
}

func (c *Coordinator) SetDisplayMode(mode domain.DisplayMode) error {
	return c.do(func() {
		c.displayMode = mode
		if c.current.Kind == domain.StateSong {
			c.current.DisplayMode = mode
		}
		c.broadcastStateLocked()
	})
}

// SetQuickText stores the scratch text on the room; the reconciler
// turns it into the sentinel quick item.
func (c *Coordinator) SetQuickText(text string) error {
	return c.do(func() { c.meta.QuickText = text })
}

func (c *Coordinator) QuickText() string {
	var text string
	_ = c.do(func() { text = c.meta.QuickText })
	return text
}

// LinkSetlist attaches the working setlist the room resolves hashes
// and slide counts against. Items carry full content inline, so no
// lookups happen at command time.
func (c *Coordinator) LinkSetlist(id string, items []domain.SetlistItem) error {
	return c.do(func() {
		c.meta.LinkedSetlistID = id
		c.setlist = items
		c.currentItem = nil
	})
}

// SelectItem makes a setlist item current and shows its first slide.
func (c *Coordinator) SelectItem(itemID string) error {
	return c.do(func() {
		for i := range c.setlist {
			if c.setlist[i].ID != itemID {
				continue
			}
			item := &c.setlist[i]
			c.currentItem = item
			switch item.Kind {
			case domain.ItemImage:
				c.current = domain.ImageState(item.ImageURL)
				c.prior = nil
				c.broadcastStateLocked()
			case domain.ItemBlank:
				c.current = domain.BlankState()
				c.prior = nil
				c.broadcastStateLocked()
			default:
				c.setSongSlideLocked(0)
			}
			return
		}
	})
}

func (c *Coordinator) SetSlug(slug domain.RoomSlug) error {
	return c.do(func() { c.meta.Slug = slug })
}

// Close ends the session: one room_closed push to every subscriber,
// then the loop stops and all further operations fail ErrRoomNotLive.
func (c *Coordinator) Close() {
	_ = c.do(func() {
		c.phase = domain.PhaseClosed
		frame, err := json.Marshal(RoomClosed{Type: "room_closed", Pin: c.pin})
		if err == nil {
			for _, sess := range c.subs {
				_ = sess.Signal().TrySend(frame)
			}
		}
		c.subs = make(map[SubscriberID]SubscriberSession)
		log.Info().Str("module", "core.room").Str("pin", string(c.pin)).Msg("room closed")
	})
	c.cancel()
}

// broadcastStateLocked serializes once and fans out in loop order, so
// every subscriber observes the same sequence of states. Subscribers
// that cannot keep up are dropped from fan-out; their delivery is
// their own concern, never the room's.
func (c *Coordinator) broadcastStateLocked() {
	update := StateUpdate{
		Type:        "state_update",
		State:       c.current,
		Background:  &c.background,
		DisplayMode: c.displayMode,
	}
	frame, err := json.Marshal(update)
	if err != nil {
		log.Error().Err(err).Str("module", "core.room").Msg("marshal state update")
		return
	}
	var dropped []SubscriberID
	for sid, sess := range c.subs {
		if err := sess.Signal().TrySend(frame); err != nil {
			dropped = append(dropped, sid)
		}
	}
	for _, sid := range dropped {
		delete(c.subs, sid)
		log.Warn().Str("module", "core.room").Str("pin", string(c.pin)).
			Str("sid", string(sid)).Msg("dropped slow subscriber")
	}
	log.Debug().Str("module", "core.room").Str("pin", string(c.pin)).
		Str("kind", string(c.current.Kind)).Int("sent_to", len(c.subs)).Msg("state broadcast")
}
