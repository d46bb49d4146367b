package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("start: %w", &Error{Kind: SignalingRejected, Op: "offer", Status: 401, Body: "bad token"})

	assert.ErrorIs(t, err, SignalingRejected)
	assert.NotErrorIs(t, err, CredentialUnavailable)
	assert.Equal(t, SignalingRejected, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "signaling rejected: offer: status 401: bad token")
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &Error{Kind: CredentialUnavailable, Err: cause}
	assert.ErrorIs(t, err, cause)
}

func TestEmitterOrderAndRemoval(t *testing.T) {
	e := NewEmitter()
	var got []string

	first := e.AddListener(EventPlay, func(Event) { got = append(got, "first") })
	e.AddListener(EventPlay, func(Event) { got = append(got, "second") })
	e.AddListener(EventEnded, func(Event) { got = append(got, "ended") })

	e.Emit(Event{Type: EventPlay})
	require.Equal(t, []string{"first", "second"}, got)

	e.RemoveListener(EventPlay, first)
	e.RemoveListener(EventPlay, 999)
	got = nil
	e.Emit(Event{Type: EventPlay})
	assert.Equal(t, []string{"second"}, got)
	assert.Equal(t, 1, e.ListenerCount(EventPlay))
}

func TestEmitterListenerMayDetachItself(t *testing.T) {
	e := NewEmitter()
	calls := 0
	var id ListenerID
	id = e.AddListener(EventWaiting, func(Event) {
		calls++
		e.RemoveListener(EventWaiting, id)
	})

	e.Emit(Event{Type: EventWaiting})
	e.Emit(Event{Type: EventWaiting})
	assert.Equal(t, 1, calls)
}
