package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count uint64 `json:"count"`
}

func TestJSONRoundTrip(t *testing.T) {
	in := payload{Name: "snapshot", Count: 42}

	data, err := JSON{}.Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, JSON{}.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestByName(t *testing.T) {
	c, ok := ByName("json")
	require.True(t, ok)
	assert.Equal(t, "json", c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestMustMarshalDefaultsAndPanics(t *testing.T) {
	b := MustMarshal(nil, payload{Name: "x"})
	assert.NotEmpty(t, b)

	assert.Panics(t, func() {
		MustMarshal(JSON{}, func() {})
	})
}
