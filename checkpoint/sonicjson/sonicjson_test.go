package sonicjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	s := New()

	type payload struct {
		Channels map[string]string `json:"channels"`
		State    any                `json:"state"`
	}

	in := payload{Channels: map[string]string{"nodeA": "v1"}, State: map[string]any{"count": float64(3)}}

	data, err := s.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
