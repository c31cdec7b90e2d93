package core

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/cache"
	"github.com/openworship/cast/internal/domain"
)

// pinAlphabet avoids ambiguous glyphs; codes are read out loud.
const pinAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Manager owns the pin and slug namespaces. Pins are private join
// codes; slugs are public handles kept in a directory that may outlive
// the process (redis) or not (memory). Both resolve to the same room.
type Manager struct {
	ctx   context.Context
	slugs cache.SlugDirectory

	mu    sync.RWMutex
	rooms map[domain.RoomPin]*Coordinator
}

func NewManager(ctx context.Context, slugs cache.SlugDirectory) *Manager {
	return &Manager{
		ctx:   ctx,
		slugs: slugs,
		rooms: make(map[domain.RoomPin]*Coordinator),
	}
}

// CreateRoom mints a fresh pin and starts the room loop. Called when a
// controller connects; the controller owns the room's lifetime.
func (m *Manager) CreateRoom() (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pin domain.RoomPin
	for attempt := 0; ; attempt++ {
		if attempt >= 32 {
			return nil, errors.New("pin space exhausted")
		}
		p, err := randomPin()
		if err != nil {
			return nil, fmt.Errorf("generate pin: %w", err)
		}
		if _, taken := m.rooms[p]; !taken {
			pin = p
			break
		}
	}

	room := NewCoordinator(m.ctx, domain.Room{Pin: pin})
	m.rooms[pin] = room
	return room, nil
}

func randomPin() (domain.RoomPin, error) {
	buf := make([]byte, domain.PinLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, domain.PinLen)
	for i, b := range buf {
		out[i] = pinAlphabet[int(b)%len(pinAlphabet)]
	}
	return domain.RoomPin(out), nil
}

// GetRoom resolves a pin to its live room.
func (m *Manager) GetRoom(pin domain.RoomPin) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[pin]
	return room, ok
}

// JoinByPin attaches a subscriber and returns its snapshot. A pin that
// resolves to nothing is RoomNotFound; pins of closed rooms have been
// removed, so they read the same.
func (m *Manager) JoinByPin(pin domain.RoomPin, sid SubscriberID, sess SubscriberSession) (Snapshot, *Coordinator, error) {
	room, ok := m.GetRoom(pin)
	if !ok {
		return Snapshot{}, nil, ErrRoomNotFound
	}
	snap, err := room.Join(sid, sess)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, room, nil
}

// JoinBySlug resolves the public handle first. A slug bound to a room
// whose controller session ended is RoomNotLive, not RoomNotFound: the
// handle exists, the session behind it is gone. The binding carries the
// room's id, so a recycled pin under a stale binding also reads
// RoomNotLive instead of joining an unrelated room.
func (m *Manager) JoinBySlug(ctx context.Context, slug domain.RoomSlug, sid SubscriberID, sess SubscriberSession) (Snapshot, *Coordinator, error) {
	b, err := m.slugs.Resolve(ctx, slug)
	if err != nil {
		if errors.Is(err, cache.ErrNotBound) {
			return Snapshot{}, nil, ErrRoomNotFound
		}
		return Snapshot{}, nil, fmt.Errorf("resolve slug: %w", err)
	}
	room, ok := m.GetRoom(b.Pin)
	if !ok || room.ID() != b.RoomID {
		return Snapshot{}, nil, ErrRoomNotLive
	}
	snap, err := room.Join(sid, sess)
	if err != nil {
		return Snapshot{}, nil, err
	}
	return snap, room, nil
}

// ClaimSlug binds a public handle to a live room.
func (m *Manager) ClaimSlug(ctx context.Context, pin domain.RoomPin, slug domain.RoomSlug) error {
	if err := domain.ValidateSlug(slug); err != nil {
		return err
	}
	room, ok := m.GetRoom(pin)
	if !ok {
		return ErrRoomNotFound
	}
	if err := m.slugs.Bind(ctx, slug, cache.Binding{Pin: pin, RoomID: room.ID()}); err != nil {
		return fmt.Errorf("bind slug: %w", err)
	}
	if err := room.SetSlug(slug); err != nil {
		return err
	}
	log.Info().Str("module", "core.manager").Str("pin", string(pin)).
		Str("slug", string(slug)).Msg("slug claimed")
	return nil
}

func (m *Manager) ReleaseSlug(ctx context.Context, slug domain.RoomSlug) error {
	return m.slugs.Unbind(ctx, slug)
}

// CloseRoom tears the room down: subscribers get one room_closed push,
// the pin is freed. The slug binding is left in the directory so a
// late slug join reads RoomNotLive rather than RoomNotFound.
func (m *Manager) CloseRoom(pin domain.RoomPin) {
	m.mu.Lock()
	room, ok := m.rooms[pin]
	if ok {
		delete(m.rooms, pin)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	room.Close()
}

func (m *Manager) List() []RoomInfo {
	m.mu.RLock()
	rooms := make([]*Coordinator, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	return out
}
