// Package cache holds the slug directory: the public-handle namespace
// mapping slugs to room pins. The memory implementation is the
// default; redis keeps bindings across restarts so a published handle
// keeps answering "not live" instead of "not found".
package cache

import (
	"context"
	"errors"

	"github.com/openworship/cast/internal/domain"
)

var ErrNotBound = errors.New("slug not bound")

// Binding carries the room's unique id alongside its pin. Pins are
// recycled after a room closes while bindings can outlive the room, so
// resolving by pin alone could hand a stale slug an unrelated new room.
type Binding struct {
	Pin    domain.RoomPin
	RoomID string
}

type SlugDirectory interface {
	Bind(ctx context.Context, slug domain.RoomSlug, b Binding) error
	Resolve(ctx context.Context, slug domain.RoomSlug) (Binding, error)
	Unbind(ctx context.Context, slug domain.RoomSlug) error
	Close() error
}
