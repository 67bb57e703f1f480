package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStates = []State{Creating, AwaitingQr, AwaitingPairing, Connecting, Linked, Disconnected, Terminated}

func TestTerminatedIsAbsorbing(t *testing.T) {
	for _, to := range allStates {
		assert.False(t, CanTransition(Terminated, to), "Terminated -> %s", to)
	}
}

func TestEveryStateCanTerminate(t *testing.T) {
	for _, from := range allStates[:len(allStates)-1] {
		assert.True(t, CanTransition(from, Terminated), "%s -> Terminated", from)
	}
}

func TestNothingReentersCreating(t *testing.T) {
	for _, from := range allStates {
		assert.False(t, CanTransition(from, Creating), "%s -> Creating", from)
	}
}

func TestLegalEdges(t *testing.T) {
	assert.True(t, CanTransition(Creating, AwaitingQr))
	assert.True(t, CanTransition(Creating, AwaitingPairing))
	assert.True(t, CanTransition(Creating, Connecting))
	assert.True(t, CanTransition(AwaitingQr, Connecting))
	assert.True(t, CanTransition(Connecting, Linked))
	assert.True(t, CanTransition(Linked, Disconnected))
	assert.True(t, CanTransition(Disconnected, Connecting))

	assert.False(t, CanTransition(AwaitingQr, Linked))
	assert.False(t, CanTransition(Linked, Connecting))
	assert.False(t, CanTransition(Connecting, AwaitingQr))
	assert.False(t, CanTransition(Disconnected, Linked))
}

func TestStateText(t *testing.T) {
	for _, st := range allStates {
		text, err := st.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, st, back)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("Zombie")))
	assert.Equal(t, "Unknown", State(42).String())
	assert.True(t, Connecting.Pending())
	assert.False(t, Linked.Pending())
}
