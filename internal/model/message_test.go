package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionsToggle(t *testing.T) {
	r := Reactions{}

	assert.True(t, r.Toggle("👍", 3))
	assert.Equal(t, []uint64{3}, r["👍"])

	assert.True(t, r.Toggle("👍", 5))
	assert.Equal(t, []uint64{3, 5}, r["👍"])

	// Removing one user keeps the token for the others.
	assert.False(t, r.Toggle("👍", 3))
	assert.Equal(t, []uint64{5}, r["👍"])

	// Removing the last user drops the token entirely.
	assert.False(t, r.Toggle("👍", 5))
	_, exists := r["👍"]
	assert.False(t, exists)
}

func TestReactionsToggleTwiceRestoresState(t *testing.T) {
	r := Reactions{}
	r.Toggle("🎉", 7)
	r.Toggle("🎉", 7)
	assert.Empty(t, r)
}

func TestMarshalReactionsRoundTrip(t *testing.T) {
	m := Message{Reactions: Reactions{"👍": {1, 2}}}

	raw, err := m.MarshalReactions()
	require.NoError(t, err)
	require.True(t, raw.Valid)

	var out Message
	require.NoError(t, out.UnmarshalReactions(raw))
	assert.Equal(t, m.Reactions, out.Reactions)
}

func TestMarshalReactionsEmptyIsNull(t *testing.T) {
	m := Message{}
	raw, err := m.MarshalReactions()
	require.NoError(t, err)
	assert.False(t, raw.Valid, "empty reaction map should store NULL")

	var out Message
	require.NoError(t, out.UnmarshalReactions(raw))
	assert.Empty(t, out.Reactions)
}
