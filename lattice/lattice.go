// Package lattice defines the safety-state lattice used to classify
// tracked memory regions.
//
// The lattice is a partial order on pointer safety states with a diamond
// at the top: Readable and Writable are incomparable (neither implies the
// other), and Valid implies both.
//
//	      Valid
//	     /     \
//	Readable  Writable
//	     \     /
//	  Quarantined
//	       |
//	     Freed
//	       |
//	    Invalid
//	       |
//	    Unknown
//
// States only ever become more restrictive on new information. Join is the
// least upper bound in restrictiveness; joining two observations about the
// same region always yields the more conservative conclusion.
package lattice

// State classifies a tracked memory region.
type State uint8

// States, ordered from most to least permissive.
const (
	// Unknown means no metadata is available for the region. Bottom element.
	Unknown State = iota
	// Invalid means the region is known to be unusable.
	Invalid
	// Freed means the region has been released and recycled.
	Freed
	// Quarantined means the region has been freed but is still withheld
	// from reuse so stale accesses remain detectable.
	Quarantined
	// Writable means the region accepts writes only.
	Writable
	// Readable means the region accepts reads only.
	Readable
	// Valid means the region is fully usable for reads and writes.
	Valid
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Quarantined:
		return "quarantined"
	case Freed:
		return "freed"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Join returns the least upper bound in restrictiveness: the most
// conservative state consistent with both inputs. Commutative,
// associative, idempotent.
//
// The Readable/Writable diamond joins to Quarantined: a region claimed to
// be read-only by one observer and write-only by another cannot be trusted
// for either.
func (s State) Join(other State) State {
	switch {
	case s == other:
		return s
	case s == Valid:
		return other
	case other == Valid:
		return s
	case (s == Readable && other == Writable) || (s == Writable && other == Readable):
		return Quarantined
	case s < other:
		return s
	default:
		return other
	}
}

// Meet returns the greatest lower bound in restrictiveness: the most
// permissive state consistent with both inputs.
func (s State) Meet(other State) State {
	switch {
	case s == other:
		return s
	case (s == Readable && other == Writable) || (s == Writable && other == Readable):
		return Valid
	case s > other:
		return s
	default:
		return other
	}
}

// CanRead reports whether the state permits reads.
func (s State) CanRead() bool { return s == Valid || s == Readable }

// CanWrite reports whether the state permits writes.
func (s State) CanWrite() bool { return s == Valid || s == Writable }

// IsLive reports whether the region is usable at all.
func (s State) IsLive() bool { return s == Valid || s == Readable || s == Writable }

// IsTerminal reports whether no further operations are possible.
func (s State) IsTerminal() bool { return s == Invalid || s == Unknown }
