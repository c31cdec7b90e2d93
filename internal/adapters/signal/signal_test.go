package signal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openworship/cast/internal/app"
	"github.com/openworship/cast/internal/cache"
	"github.com/openworship/cast/internal/core"
	"github.com/openworship/cast/internal/midi"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	rooms := core.NewManager(context.Background(), cache.NewMemorySlugDirectory())
	dispatch := app.NewDispatcher(rooms)
	return NewController(rooms, dispatch, nil, func() *midi.Decoder {
		return midi.NewDecoder(1, midi.WithPairWindow(time.Second))
	})
}

func pairingNote(pitch, velocity byte) midi.InputEvent {
	return midi.InputEvent{Channel: 1, Kind: midi.NoteOn, Data1: pitch, Data2: velocity}
}

func TestDecodersAreSessionScoped(t *testing.T) {
	ctl := newTestController(t)

	dA := ctl.decoder("ctl-a")
	dB := ctl.decoder("ctl-b")
	require.NotSame(t, dA, dB)
	assert.Same(t, dA, ctl.decoder("ctl-a"))

	// Session A buffers its first pairing note.
	_, ok := dA.Decode(pairingNote(96, 1))
	require.False(t, ok)
	require.True(t, dA.PendingPair())

	// Session B's opening note must not close A's pair; each stream
	// pairs only with itself.
	_, ok = dB.Decode(pairingNote(101, 60))
	assert.False(t, ok)
	assert.True(t, dA.PendingPair())
	assert.True(t, dB.PendingPair())

	// A's own second note completes A's pair with A's values.
	cmd, ok := dA.Decode(pairingNote(97, 3))
	require.True(t, ok)
	assert.Equal(t, uint32(129), cmd.Hash) // 0*4064 + (1*127+2)
}

func TestSessionCachesDroppedOnEnd(t *testing.T) {
	ctl := newTestController(t)
	_, err := ctl.Dispatch.Open("ctl-a")
	require.NoError(t, err)

	ctl.reconciler("ctl-a")
	ctl.decoder("ctl-a")

	ctl.Dispatch.End("ctl-a")

	ctl.mu.Lock()
	_, hasRec := ctl.reconcilers["ctl-a"]
	_, hasDec := ctl.decoders["ctl-a"]
	ctl.mu.Unlock()
	assert.False(t, hasRec)
	assert.False(t, hasDec)
}

func TestSessionCachesDroppedOnReap(t *testing.T) {
	ctl := newTestController(t)
	ctl.Dispatch.SetResumeGrace(20 * time.Millisecond)
	_, err := ctl.Dispatch.Open("ctl-b")
	require.NoError(t, err)

	ctl.decoder("ctl-b")
	ctl.Dispatch.OnDisconnect("ctl-b")

	assert.Eventually(t, func() bool {
		ctl.mu.Lock()
		defer ctl.mu.Unlock()
		_, ok := ctl.decoders["ctl-b"]
		return !ok
	}, time.Second, 5*time.Millisecond)
}
