package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSixIDStringRoundTrip(t *testing.T) {
	id := NewSixID()
	s := id.String()
	assert.Len(t, s, 10)

	parsed, err := ParseSixID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseSixIDRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "short", "this-is-way-too-long", "!!!!!!!!!!"} {
		_, err := ParseSixID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestSixIDJSONRoundTrip(t *testing.T) {
	id := NewSixID()
	data, err := json.Marshal(id)
	require.NoError(t, err)

	var parsed SixID
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, id, parsed)
}

func TestNewSixIDUniqueness(t *testing.T) {
	seen := make(map[SixID]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := NewSixID()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
	assert.True(t, NewSixID().IsZero() == false)
}
