package core

import (
	"errors"

	"github.com/openworship/cast/internal/domain"
)

// Frame is a serialized payload pushed to a subscriber.
type Frame []byte

type SubscriberID string

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomNotLive  = errors.New("room not live")
	ErrBackpressure = errors.New("backpressure")
)

// SignalConnection abstracts the subscriber messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SubscriberSession binds a role and its transport endpoint.
// This is what a room stores and fans out to.
type SubscriberSession interface {
	Role() domain.Role
	Signal() SignalConnection
}

type subscriberSession struct {
	role domain.Role
	conn SignalConnection
}

func NewSubscriberSession(role domain.Role, conn SignalConnection) SubscriberSession {
	return &subscriberSession{role: role, conn: conn}
}

func (s *subscriberSession) Role() domain.Role        { return s.role }
func (s *subscriberSession) Signal() SignalConnection { return s.conn }

// Snapshot is the full current state delivered synchronously to a
// newly joined subscriber, so late joiners converge without replay.
type Snapshot struct {
	Pin         domain.RoomPin           `json:"pin"`
	Slug        domain.RoomSlug          `json:"slug,omitempty"`
	State       domain.PresentationState `json:"state"`
	Background  domain.BackgroundSpec    `json:"background"`
	DisplayMode domain.DisplayMode       `json:"displayMode"`
}

// SnapshotReply is the first frame a new subscriber receives, pushed
// from the room loop before any subsequent broadcast.
type SnapshotReply struct {
	Type string   `json:"type"`
	Room Snapshot `json:"room"`
}

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	Pin             domain.RoomPin  `json:"pin"`
	Slug            domain.RoomSlug `json:"slug,omitempty"`
	Phase           string          `json:"phase"`
	SubscriberCount int             `json:"subscriber_count"`
}

// StateUpdate is the broadcast envelope. Always a total replacement;
// deltas are never sent, so a client that missed intermediate states
// still converges on the next one.
type StateUpdate struct {
	Type        string                   `json:"type"`
	State       domain.PresentationState `json:"state"`
	Background  *domain.BackgroundSpec   `json:"background,omitempty"`
	DisplayMode domain.DisplayMode       `json:"displayMode,omitempty"`
}

// RoomClosed is pushed once to every subscriber when the controller
// ends the session.
type RoomClosed struct {
	Type string         `json:"type"`
	Pin  domain.RoomPin `json:"pin"`
}
