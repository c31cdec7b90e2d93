package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openworship/cast/internal/cache"
	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/domain"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	rooms := core.NewManager(context.Background(), cache.NewMemorySlugDirectory())
	return NewDispatcher(rooms)
}

func TestDispatchWithoutRoom(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.Dispatch("ctl-1", domain.NextSlide())
	assert.ErrorIs(t, err, ErrNoActiveRoom)
}

func TestOpenThenDispatch(t *testing.T) {
	d := newTestDispatcher(t)
	room, err := d.Open("ctl-1")
	require.NoError(t, err)
	t.Cleanup(func() { d.End("ctl-1") })

	require.NoError(t, d.Dispatch("ctl-1", domain.GotoSlide(3)))
	assert.Equal(t, ControlConnected, d.Session("ctl-1").State())

	// Opening again resumes the same room rather than minting a new pin.
	again, err := d.Open("ctl-1")
	require.NoError(t, err)
	assert.Same(t, room, again)
}

func TestConnectTimeout(t *testing.T) {
	s := NewControlSession("ctl-1")
	s.SetConnectTimeout(20 * time.Millisecond)

	var fired atomic.Bool
	err := s.Connect(context.Background(),
		func(ctx context.Context) error {
			<-ctx.Done() // never connects
			return ctx.Err()
		},
		func() { fired.Store(true) })

	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, ControlDisconnected, s.State())
	assert.False(t, fired.Load(), "queued callback must be cleared on timeout")
}

func TestConnectRunsCallbackOnce(t *testing.T) {
	s := NewControlSession("ctl-1")

	var fired atomic.Int32
	err := s.Connect(context.Background(),
		func(ctx context.Context) error { return nil },
		func() { fired.Add(1) })

	require.NoError(t, err)
	assert.Equal(t, ControlConnected, s.State())
	assert.Equal(t, int32(1), fired.Load())
}

func TestSupersededAttemptIsInert(t *testing.T) {
	s := NewControlSession("ctl-1")
	s.SetConnectTimeout(time.Second)

	release := make(chan struct{})
	var staleFired, freshFired atomic.Bool

	done := make(chan error, 1)
	go func() {
		done <- s.Connect(context.Background(),
			func(ctx context.Context) error {
				<-release
				return nil
			},
			func() { staleFired.Store(true) })
	}()

	// Give the first attempt time to register its callback, then
	// replace it with a second attempt.
	time.Sleep(10 * time.Millisecond)
	err := s.Connect(context.Background(),
		func(ctx context.Context) error { return nil },
		func() { freshFired.Store(true) })
	require.NoError(t, err)

	close(release)
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.False(t, staleFired.Load(), "stale callback must never fire")
	assert.True(t, freshFired.Load())
	assert.Equal(t, ControlConnected, s.State())
}

func TestConnectDialError(t *testing.T) {
	s := NewControlSession("ctl-1")
	dialErr := errors.New("refused")

	err := s.Connect(context.Background(),
		func(ctx context.Context) error { return dialErr },
		nil)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, ControlDisconnected, s.State())
}

func TestDisconnectWithoutResumeTearsRoomDown(t *testing.T) {
	d := newTestDispatcher(t)
	d.SetResumeGrace(20 * time.Millisecond)

	room, err := d.Open("ctl-1")
	require.NoError(t, err)

	d.OnDisconnect("ctl-1")
	assert.Eventually(t, func() bool {
		_, ok := d.rooms.GetRoom(room.Pin())
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, d.Dispatch("ctl-1", domain.NextSlide()), ErrNoActiveRoom)
}

func TestResumeWithinGraceKeepsRoom(t *testing.T) {
	d := newTestDispatcher(t)
	d.SetResumeGrace(30 * time.Millisecond)

	room, err := d.Open("ctl-1")
	require.NoError(t, err)
	t.Cleanup(func() { d.End("ctl-1") })

	d.OnDisconnect("ctl-1")
	resumed, ok := d.Resume("ctl-1")
	require.True(t, ok)
	assert.Same(t, room, resumed)

	time.Sleep(60 * time.Millisecond)
	_, alive := d.rooms.GetRoom(room.Pin())
	assert.True(t, alive, "resume must cancel the teardown")
}

func TestResumeNeverReturnsReapedRoom(t *testing.T) {
	d := newTestDispatcher(t)
	d.SetResumeGrace(time.Millisecond)

	room, err := d.Open("ctl-1")
	require.NoError(t, err)

	// Land resumes right at the teardown deadline; either the resume
	// wins and the room stays alive, or the reaper wins and the resume
	// reports no room. A resumed-but-closing room is never handed out.
	for i := 0; i < 50; i++ {
		d.OnDisconnect("ctl-1")
		time.Sleep(time.Millisecond)
		resumed, ok := d.Resume("ctl-1")
		if !ok {
			_, alive := d.rooms.GetRoom(room.Pin())
			assert.False(t, alive)
			return
		}
		require.Same(t, room, resumed)
		_, alive := d.rooms.GetRoom(room.Pin())
		require.True(t, alive, "resumed room must stay alive")
	}
	d.End("ctl-1")
}

func TestEndClosesRoomImmediately(t *testing.T) {
	d := newTestDispatcher(t)
	room, err := d.Open("ctl-1")
	require.NoError(t, err)

	d.End("ctl-1")
	_, ok := d.rooms.GetRoom(room.Pin())
	assert.False(t, ok)
	assert.ErrorIs(t, room.Apply(domain.NextSlide()), core.ErrRoomNotLive)
}
