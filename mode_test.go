package memsentry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseModeAliases(t *testing.T) {
	tests := []struct {
		input string
		want  Mode
	}{
		{"strict", Strict},
		{"STRICT", Strict},
		{"", Strict},
		{"  strict  ", Strict},
		{"hardened", Hardened},
		{"Hardened", Hardened},
		{"heal", Hardened},
		{"healing", Hardened},
		{"repair", Hardened},
		{"2", Hardened},
		{"off", Off},
		{"none", Off},
		{"passthrough", Off},
		{"disabled", Off},
		{"0", Off},
		// A typo must fail safe, never open.
		{"hardned", Strict},
		{"garbage", Strict},
	}
	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMode(tt.input))
		})
	}
}

func TestModeStrings(t *testing.T) {
	assert.Equal(t, "strict", Strict.String())
	assert.Equal(t, "hardened", Hardened.String())
	assert.Equal(t, "off", Off.String())
	assert.Equal(t, "unknown", Mode(99).String())
}

func TestModeOverrideWinsOverEnvironment(t *testing.T) {
	t.Setenv(ModeEnvVar, "hardened")

	m, err := New(WithMode(Strict))
	assert.NoError(t, err)
	defer m.Close()

	assert.Equal(t, Strict, m.Mode())
}
