package heal

// Outcome classifies the result of validating one address against the
// arena. Derived per call, never stored.
type Outcome uint8

const (
	// Valid means every consulted stage agreed the operation is safe.
	Valid Outcome = iota
	// NullPointer means the address is zero.
	NullPointer
	// ForeignPointer means no tracked allocation contains the address.
	ForeignPointer
	// TemporalViolation means the allocation was freed or quarantined,
	// or the generation no longer matches (use-after-free class).
	TemporalViolation
	// BoundsViolation means the requested length exceeds the bytes
	// remaining in the allocation.
	BoundsViolation
	// CanaryMismatch means boundary corruption was detected.
	CanaryMismatch
	// Ambiguous means the fast-path indexes disagreed or the budget ran
	// out before a conclusive answer.
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case NullPointer:
		return "null_pointer"
	case ForeignPointer:
		return "foreign_pointer"
	case TemporalViolation:
		return "temporal_violation"
	case BoundsViolation:
		return "bounds_violation"
	case CanaryMismatch:
		return "canary_mismatch"
	case Ambiguous:
		return "ambiguous"
	}
	return "unknown"
}

// IsViolation reports whether the outcome requires healing or an error.
func (o Outcome) IsViolation() bool { return o != Valid }

// OpKind is the operation class the caller is about to perform.
type OpKind uint8

const (
	// OpRead reads caller memory.
	OpRead OpKind = iota
	// OpWrite writes caller memory.
	OpWrite
	// OpString writes with string semantics (null termination matters).
	OpString
	// OpFree releases an allocation.
	OpFree
	// OpRealloc resizes an allocation.
	OpRealloc
)

func (k OpKind) String() string {
	switch k {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpString:
		return "string"
	case OpFree:
		return "free"
	case OpRealloc:
		return "realloc"
	}
	return "unknown"
}
