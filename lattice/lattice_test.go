package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStates = []State{Valid, Readable, Writable, Quarantined, Freed, Invalid, Unknown}

func TestJoinCommutative(t *testing.T) {
	for _, a := range allStates {
		for _, b := range allStates {
			assert.Equal(t, a.Join(b), b.Join(a), "join(%s,%s)", a, b)
		}
	}
}

func TestJoinAssociative(t *testing.T) {
	for _, a := range allStates {
		for _, b := range allStates {
			for _, c := range allStates {
				assert.Equal(t, a.Join(b).Join(c), a.Join(b.Join(c)), "(%s,%s,%s)", a, b, c)
			}
		}
	}
}

func TestJoinIdempotent(t *testing.T) {
	for _, s := range allStates {
		assert.Equal(t, s, s.Join(s))
	}
}

func TestMeetCommutative(t *testing.T) {
	for _, a := range allStates {
		for _, b := range allStates {
			assert.Equal(t, a.Meet(b), b.Meet(a), "meet(%s,%s)", a, b)
		}
	}
}

func TestMeetIdempotent(t *testing.T) {
	for _, s := range allStates {
		assert.Equal(t, s, s.Meet(s))
	}
}

func TestReadableWritableDiamond(t *testing.T) {
	// Readable and Writable are incomparable: their join is the most
	// restrictive common refinement, their meet the most permissive.
	assert.Equal(t, Quarantined, Readable.Join(Writable))
	assert.Equal(t, Valid, Readable.Meet(Writable))
}

func TestJoinTakesMoreRestrictive(t *testing.T) {
	assert.Equal(t, Freed, Valid.Join(Freed))
	assert.Equal(t, Unknown, Readable.Join(Unknown))
	assert.Equal(t, Invalid, Quarantined.Join(Invalid))
	assert.Equal(t, Readable, Valid.Join(Readable))
	assert.Equal(t, Writable, Valid.Join(Writable))
}

func TestMeetTakesMorePermissive(t *testing.T) {
	assert.Equal(t, Valid, Freed.Meet(Valid))
	assert.Equal(t, Readable, Unknown.Meet(Readable))
}

func TestJoinNeverLoosens(t *testing.T) {
	// Monotonicity: joining can only move a state toward restriction.
	for _, a := range allStates {
		for _, b := range allStates {
			j := a.Join(b)
			if a != Readable && a != Writable && b != Readable && b != Writable {
				assert.LessOrEqual(t, uint8(j), uint8(a), "join(%s,%s) loosened %s", a, b, a)
				assert.LessOrEqual(t, uint8(j), uint8(b), "join(%s,%s) loosened %s", a, b, b)
			}
		}
	}
}

func TestAccessPermissions(t *testing.T) {
	assert.True(t, Valid.CanRead())
	assert.True(t, Valid.CanWrite())
	assert.True(t, Readable.CanRead())
	assert.False(t, Readable.CanWrite())
	assert.False(t, Writable.CanRead())
	assert.True(t, Writable.CanWrite())
	assert.False(t, Freed.CanRead())
	assert.False(t, Quarantined.CanWrite())
	assert.False(t, Unknown.CanRead())
}

func TestLiveness(t *testing.T) {
	for _, s := range []State{Valid, Readable, Writable} {
		assert.True(t, s.IsLive(), "%s", s)
	}
	for _, s := range []State{Quarantined, Freed, Invalid, Unknown} {
		assert.False(t, s.IsLive(), "%s", s)
	}
	assert.True(t, Invalid.IsTerminal())
	assert.True(t, Unknown.IsTerminal())
	assert.False(t, Quarantined.IsTerminal())
}

func TestAbstractionRefineMonotone(t *testing.T) {
	a := Tracked(0x1000, Valid, 0x1000, 64, 1)
	a = a.Refine(Readable)
	assert.Equal(t, Readable, a.State)
	a = a.Refine(Valid) // cannot loosen back
	assert.Equal(t, Readable, a.State)
	a = a.Refine(Freed)
	assert.Equal(t, Freed, a.State)
}

func TestForeignAbstractionIsUnknown(t *testing.T) {
	a := Foreign(0xDEAD)
	assert.Equal(t, Unknown, a.State)
	assert.False(t, a.Tracked)
	assert.Equal(t, Invalid, Null().State)
}
