// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"regexp"
)

const (
	PinLen     = 4
	MaxSlugLen = 36
)

var (
	ErrBadPin  = errors.New("pin must be 4 alphanumeric characters")
	ErrBadSlug = errors.New("slug must be lowercase letters, digits or dashes")
)

var (
	pinRe  = regexp.MustCompile(`^[A-Z0-9]{4}$`)
	slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

type (
	// RoomPin is the 4-character join code handed to the controller.
	RoomPin string
	// RoomSlug is an optional public handle for the same room.
	RoomSlug string
)

// RoomPhase is the room lifecycle. Idle rooms have no controller yet,
// closed rooms are terminal.
type RoomPhase int

const (
	PhaseIdle RoomPhase = iota
	PhaseLive
	PhaseClosed
)

func (p RoomPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLive:
		return "live"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

type Room struct {
	Pin             RoomPin
	Slug            RoomSlug
	LinkedSetlistID string
	// QuickText is the last-known scratch text for ad-hoc slides.
	QuickText string
}

func ValidatePin(pin RoomPin) error {
	if !pinRe.MatchString(string(pin)) {
		return ErrBadPin
	}
	return nil
}

func ValidateSlug(slug RoomSlug) error {
	if len(slug) == 0 || len(slug) > MaxSlugLen || !slugRe.MatchString(string(slug)) {
		return ErrBadSlug
	}
	return nil
}

// Role classifies a passive client attached to a room.
type Role string

const (
	RoleDisplay Role = "display"
	RoleMonitor Role = "monitor"
	RoleOverlay Role = "overlay"
	RoleBridge  Role = "bridge"
)

// ParseRole never fails; anything unrecognized joins as a plain display.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleMonitor, RoleOverlay, RoleBridge:
		return Role(s)
	default:
		return RoleDisplay
	}
}
