package memsentry

import (
	"os"
	"strings"
	"sync"

	"github.com/hupe1980/memsentry/internal/kernel"
)

// Mode selects how the membrane reacts to violations.
type Mode uint8

const (
	// Strict observes and reports. Violations surface as errors, the
	// operation itself is never altered.
	Strict Mode = iota
	// Hardened applies the deterministic healing policy.
	Hardened
	// Off disables the pipeline entirely. Benchmarking escape hatch.
	Off
)

func (m Mode) String() string {
	switch m {
	case Strict:
		return "strict"
	case Hardened:
		return "hardened"
	case Off:
		return "off"
	}
	return "unknown"
}

func (m Mode) kernelMode() kernel.Mode {
	switch m {
	case Hardened:
		return kernel.ModeHardened
	case Off:
		return kernel.ModeOff
	default:
		return kernel.ModeStrict
	}
}

// ModeEnvVar is the environment variable consulted by DefaultMode.
const ModeEnvVar = "MEMSENTRY_MODE"

// DefaultMode resolves the operating mode from the environment,
// exactly once per process. Unset or unrecognized values resolve to
// Strict: the membrane fails safe, never open.
var DefaultMode = sync.OnceValue(func() Mode {
	return parseMode(os.Getenv(ModeEnvVar))
})

// parseMode is deliberately loose: deployment configs spell the modes
// in several ways and a typo must not silently disable checking.
func parseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hardened", "heal", "healing", "repair", "2":
		return Hardened
	case "off", "none", "passthrough", "disabled", "0":
		return Off
	default:
		return Strict
	}
}
