package lattice

// Abstraction is the membrane's view of one pointer: the most permissive
// interpretation of everything observed about it.
//
// The guiding property is that this abstraction must never be stricter
// than what a well-behaved program legitimately needs. A pointer the
// membrane has never seen maps to Unknown and is passed through rather
// than rejected; only positively detected violations restrict it further.
type Abstraction struct {
	// Addr is the queried address.
	Addr uint64
	// State is the lattice classification.
	State State
	// Base is the user base of the containing allocation, when tracked.
	Base uint64
	// Remaining is the number of usable bytes from Addr to the end of the
	// allocation. Zero and meaningless unless Tracked.
	Remaining uint64
	// Generation of the containing allocation, when tracked.
	Generation uint32
	// Tracked reports whether the arena knows this pointer.
	Tracked bool
}

// Null is the abstraction of the null pointer.
func Null() Abstraction {
	return Abstraction{State: Invalid}
}

// Foreign is the abstraction of an address the arena does not own.
// Foreign pointers carry Unknown, not Invalid: the membrane has no
// evidence against them.
func Foreign(addr uint64) Abstraction {
	return Abstraction{Addr: addr, State: Unknown}
}

// Tracked builds the abstraction of an address inside a known allocation.
func Tracked(addr uint64, state State, base, remaining uint64, generation uint32) Abstraction {
	return Abstraction{
		Addr:       addr,
		State:      state,
		Base:       base,
		Remaining:  remaining,
		Generation: generation,
		Tracked:    true,
	}
}

// Refine folds a new observation into the abstraction. The state moves
// monotonically toward the more restrictive interpretation.
func (a Abstraction) Refine(observed State) Abstraction {
	a.State = a.State.Join(observed)
	return a
}
