package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayIsLinearAndCapped(t *testing.T) {
	s := NewSupervisor(nil)
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		3 * time.Second,
		4 * time.Second,
		5 * time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, s.Delay(i+1))
	}
	// Past the cap the delay stays flat.
	assert.Equal(t, 5*time.Second, s.Delay(17))
}

func TestReconnectExhaustionGivesUp(t *testing.T) {
	dials := 0
	s := NewSupervisor(
		func(ctx context.Context) error {
			dials++
			return errors.New("still down")
		},
		WithBackoff(time.Millisecond, 5*time.Millisecond),
	)
	s.MarkDisconnected()

	err := s.Reconnect(context.Background())
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, SupGivenUp, s.State())
	assert.Equal(t, DefaultMaxAttempts, dials, "stops retrying after the budget")
}

func TestReconnectSuccessResetsAttempts(t *testing.T) {
	failures := 3
	s := NewSupervisor(
		func(ctx context.Context) error {
			if failures > 0 {
				failures--
				return errors.New("not yet")
			}
			return nil
		},
		WithBackoff(time.Millisecond, 5*time.Millisecond),
	)
	s.MarkDisconnected()

	require.NoError(t, s.Reconnect(context.Background()))
	assert.Equal(t, SupConnected, s.State())
	assert.Equal(t, 0, s.attempt)

	// A later drop gets the full budget again.
	failures = 2
	require.NoError(t, s.Reconnect(context.Background()))
	assert.Equal(t, SupConnected, s.State())
}

func TestReconnectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewSupervisor(
		func(ctx context.Context) error { return errors.New("down") },
		WithBackoff(time.Hour, time.Hour),
	)
	err := s.Reconnect(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, SupDisconnected, s.State())
}

func TestConnectRunsOnConnectedHook(t *testing.T) {
	var hooked bool
	s := NewSupervisor(
		func(ctx context.Context) error { return nil },
		WithOnConnected(func(ctx context.Context) error {
			hooked = true
			return nil
		}),
	)
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, hooked)
	assert.Equal(t, SupConnected, s.State())
}

// fakeRelay records dials and load-target handshakes.
type fakeRelay struct {
	mu       sync.Mutex
	dialErrs []error
	dials    int
	targets  []string
}

func (f *fakeRelay) Dial(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		return err
	}
	return nil
}

func (f *fakeRelay) LoadTarget(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, url)
	return nil
}

func (f *fakeRelay) Close() error { return nil }

func TestRelayReplaysHandshakeAfterReconnect(t *testing.T) {
	relay := &fakeRelay{}
	sess := NewRelaySession(relay, "https://cast.example/view/AB12",
		WithBackoff(time.Millisecond, 5*time.Millisecond))

	require.NoError(t, sess.Start(context.Background()))
	assert.Equal(t, []string{"https://cast.example/view/AB12"}, relay.targets)

	// The relay has no memory of the target; every reconnect resends it.
	relay.dialErrs = []error{errors.New("dropped")}
	require.NoError(t, sess.OnDrop(context.Background()))
	assert.Equal(t, SupConnected, sess.State())
	assert.Equal(t, 2, len(relay.targets))
	assert.Equal(t, 3, relay.dials) // start + 1 failed + 1 ok
}

func TestRelaySetTargetPushesWhenConnected(t *testing.T) {
	relay := &fakeRelay{}
	sess := NewRelaySession(relay, "")

	// Not connected yet: only remembered.
	require.NoError(t, sess.SetTarget(context.Background(), "https://cast.example/view/XY77"))
	assert.Empty(t, relay.targets)

	require.NoError(t, sess.Start(context.Background()))
	assert.Equal(t, []string{"https://cast.example/view/XY77"}, relay.targets)

	require.NoError(t, sess.SetTarget(context.Background(), "https://cast.example/view/ZZ11"))
	assert.Equal(t, "https://cast.example/view/ZZ11", relay.targets[len(relay.targets)-1])
}
