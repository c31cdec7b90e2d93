// Package midi turns raw controller input events into presentation
// commands. The mapping is deliberately lossy: releases, reserved
// ranges and unmatched pairings are absorbed here and never escalate,
// because the physical input stream is noisy by nature.
package midi

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openworship/cast/internal/domain"
)

// EventKind is the raw event class as it arrives off the wire.
type EventKind int

const (
	NoteOn EventKind = iota
	NoteOff
	ControlChange
	ProgramChange
)

// InputEvent is ephemeral; it is consumed by Decode and discarded.
type InputEvent struct {
	Channel int // 1..16
	Kind    EventKind
	Data1   byte
	Data2   byte
}

const (
	ccNext = 1
	ccPrev = 2

	gotoMax  = 59  // NoteOn data1 0..59 maps straight to GotoSlide
	deadMax  = 95  // 60..95 is a reserved dead zone
	pairBase = 96  // 96..127 feeds the pairing scheme
	pairSpan = 127 // velocity offsets per pitch offset

	// PairValues is the number of distinct values one qualifying note
	// encodes: pitch offset 0..31 times velocity offset 0..126.
	PairValues = 4064

	// DefaultPairWindow is how long a buffered first note stays valid.
	DefaultPairWindow = 200 * time.Millisecond
)

type pendingNote struct {
	value uint32
	at    time.Time
	gen   uint64
	timer *time.Timer
}

// Decoder is safe for concurrent use; the pairing buffer holds at most
// one pending entry.
type Decoder struct {
	channel int
	window  time.Duration
	now     func() time.Time

	mu      sync.Mutex
	pending *pendingNote
	gen     uint64
}

type Option func(*Decoder)

// WithPairWindow overrides the pairing validity window.
func WithPairWindow(d time.Duration) Option {
	return func(dec *Decoder) { dec.window = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(dec *Decoder) { dec.now = now }
}

func NewDecoder(channel int, opts ...Option) *Decoder {
	d := &Decoder{
		channel: channel,
		window:  DefaultPairWindow,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode classifies one event. The boolean reports whether a command
// was produced; most events produce none.
func (d *Decoder) Decode(ev InputEvent) (domain.Command, bool) {
	if ev.Channel != d.channel {
		return domain.Command{}, false
	}

	switch ev.Kind {
	case ControlChange:
		if ev.Data2 == 0 { // release
			return domain.Command{}, false
		}
		switch ev.Data1 {
		case ccNext:
			return domain.NextSlide(), true
		case ccPrev:
			return domain.PrevSlide(), true
		}
		return domain.Command{}, false

	case NoteOn:
		if ev.Data2 == 0 { // velocity 0 is a release
			return domain.Command{}, false
		}
		switch {
		case ev.Data1 <= gotoMax:
			return domain.GotoSlide(int(ev.Data1)), true
		case ev.Data1 <= deadMax:
			return domain.Command{}, false
		default:
			return d.pair(ev.Data1, ev.Data2)
		}

	case NoteOff, ProgramChange:
		// Song selection is delegated to the pairing scheme, not
		// program numbers.
		return domain.Command{}, false
	}
	return domain.Command{}, false
}

// pair runs the two-note identifier scheme. Each qualifying note packs
// pitch offset (0..31) and velocity offset (0..126) into one value;
// two values combine into a ~24-bit song hash.
func (d *Decoder) pair(pitch, velocity byte) (domain.Command, bool) {
	value := uint32(pitch-pairBase)*pairSpan + uint32(velocity-1)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if p := d.pending; p != nil {
		// The timer should have cleared a stale entry already; the
		// age check keeps a late timer from pairing unrelated notes.
		if now.Sub(p.at) <= d.window {
			p.timer.Stop()
			d.pending = nil
			hash := p.value*PairValues + value
			log.Debug().Str("module", "midi").Uint32("hash", hash).Msg("pair completed")
			return domain.IdentifySong(hash), true
		}
		p.timer.Stop()
		d.pending = nil
	}

	d.gen++
	gen := d.gen
	p := &pendingNote{value: value, at: now, gen: gen}
	p.timer = time.AfterFunc(d.window, func() { d.expire(gen) })
	d.pending = p
	return domain.Command{}, false
}

// expire clears the buffer when no second note arrived in time. The
// generation guard keeps a stale timer from dropping a newer entry.
func (d *Decoder) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil && d.pending.gen == gen {
		d.pending = nil
		log.Debug().Str("module", "midi").Msg("pair window expired")
	}
}

// PendingPair reports whether a first note is buffered. Test hook.
func (d *Decoder) PendingPair() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// SplitHash is the inverse of the pairing combination.
func SplitHash(hash uint32) (first, second uint32) {
	return hash / PairValues, hash % PairValues
}
