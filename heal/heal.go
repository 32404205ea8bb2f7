// Package heal turns a validation outcome into a deterministic
// corrective action. Strict mode never rewrites caller-visible
// behavior; every violation surfaces as a POSIX-style error. Hardened
// mode maps each (outcome, operation) pair to exactly one action, so
// no violation has an undefined exit.
package heal

import (
	"errors"

	"github.com/hupe1980/memsentry/internal/kernel"
)

// Errors surfaced in strict mode, one per violation outcome.
var (
	ErrNullPointer    = errors.New("memsentry: null pointer")
	ErrForeignPointer = errors.New("memsentry: pointer not tracked by this arena")
	ErrUseAfterFree   = errors.New("memsentry: use of freed allocation")
	ErrOutOfBounds    = errors.New("memsentry: request exceeds allocation bounds")
	ErrCorrupted      = errors.New("memsentry: boundary corruption detected")
	ErrAmbiguous      = errors.New("memsentry: validation inconclusive")
)

// Unbounded marks an unknown remaining-bytes bound.
const Unbounded = ^uint64(0)

// Action is the closed set of corrective transformations.
type Action uint8

const (
	// ActionNone means the operation proceeds unchanged.
	ActionNone Action = iota
	// ActionClampSize shrinks a length to the tracked boundary.
	ActionClampSize
	// ActionTruncateWithNull truncates a string write and terminates it.
	ActionTruncateWithNull
	// ActionIgnoreDoubleFree absorbs a free of a quarantined address.
	ActionIgnoreDoubleFree
	// ActionIgnoreForeignFree absorbs a free of an untracked address.
	ActionIgnoreForeignFree
	// ActionReallocAsMalloc treats realloc of an untracked address as a
	// fresh allocation.
	ActionReallocAsMalloc
	// ActionReturnSafeDefault replaces the result with a safe value.
	ActionReturnSafeDefault
	// ActionUpgradeToSafeVariant reruns the operation through its
	// bounded variant.
	ActionUpgradeToSafeVariant
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionClampSize:
		return "clamp_size"
	case ActionTruncateWithNull:
		return "truncate_with_null"
	case ActionIgnoreDoubleFree:
		return "ignore_double_free"
	case ActionIgnoreForeignFree:
		return "ignore_foreign_free"
	case ActionReallocAsMalloc:
		return "realloc_as_malloc"
	case ActionReturnSafeDefault:
		return "return_safe_default"
	case ActionUpgradeToSafeVariant:
		return "upgrade_to_safe_variant"
	}
	return "unknown"
}

// Applied records one selected action with its size adjustment.
type Applied struct {
	Action Action
	// Requested is the size the caller asked for, where applicable.
	Requested uint64
	// Adjusted is the size the operation proceeds with.
	Adjusted uint64
}

// IsHeal reports whether the record represents an actual correction.
func (a Applied) IsHeal() bool { return a.Action != ActionNone }

// StrictError maps an outcome to its strict-mode error. Valid maps to
// nil.
func StrictError(o Outcome) error {
	switch o {
	case Valid:
		return nil
	case NullPointer:
		return ErrNullPointer
	case ForeignPointer:
		return ErrForeignPointer
	case TemporalViolation:
		return ErrUseAfterFree
	case BoundsViolation:
		return ErrOutOfBounds
	case CanaryMismatch:
		return ErrCorrupted
	case Ambiguous:
		return ErrAmbiguous
	}
	return ErrAmbiguous
}

// Decide selects the action for an outcome under a mode and operation
// kind. Every reachable (outcome, mode) pair has exactly one mapping;
// the cases below enumerate the full outcome set for each mode.
func Decide(o Outcome, mode kernel.Mode, op OpKind) Applied {
	if o == Valid || !mode.HealsEnabled() {
		// Strict and off modes are observational: the caller surfaces
		// StrictError and proceeds (or not) unchanged.
		return Applied{Action: ActionNone}
	}

	switch o {
	case NullPointer:
		return Applied{Action: ActionReturnSafeDefault}

	case ForeignPointer:
		switch op {
		case OpFree:
			return Applied{Action: ActionIgnoreForeignFree}
		case OpRealloc:
			return Applied{Action: ActionReallocAsMalloc}
		default:
			return Applied{Action: ActionReturnSafeDefault}
		}

	case TemporalViolation:
		switch op {
		case OpFree:
			return Applied{Action: ActionIgnoreDoubleFree}
		case OpRealloc:
			return Applied{Action: ActionReallocAsMalloc}
		default:
			return Applied{Action: ActionReturnSafeDefault}
		}

	case BoundsViolation:
		if op == OpString {
			return Applied{Action: ActionTruncateWithNull}
		}
		return Applied{Action: ActionClampSize}

	case CanaryMismatch:
		// The boundary is already damaged; nothing downstream may trust
		// the region.
		return Applied{Action: ActionReturnSafeDefault}

	case Ambiguous:
		return Applied{Action: ActionUpgradeToSafeVariant}
	}

	// Unreachable for the closed outcome set above.
	return Applied{Action: ActionReturnSafeDefault}
}

// HealCopyBounds decides the action for a bounded copy of requested
// bytes given the remaining capacity of source and destination. Pass
// Unbounded for an unknown side.
func HealCopyBounds(requested, srcRemaining, dstRemaining uint64) Applied {
	available := srcRemaining
	switch {
	case srcRemaining == Unbounded && dstRemaining == Unbounded:
		return Applied{Action: ActionNone, Requested: requested, Adjusted: requested}
	case srcRemaining == Unbounded:
		available = dstRemaining
	case dstRemaining != Unbounded && dstRemaining < srcRemaining:
		available = dstRemaining
	}

	if requested > available {
		return Applied{Action: ActionClampSize, Requested: requested, Adjusted: available}
	}
	return Applied{Action: ActionNone, Requested: requested, Adjusted: requested}
}

// HealStringBounds decides the action for a string write of srcLen
// bytes into a destination with dstRemaining capacity. The adjusted
// length leaves room for the terminator.
func HealStringBounds(srcLen, dstRemaining uint64) Applied {
	if dstRemaining == Unbounded || srcLen < dstRemaining {
		return Applied{Action: ActionNone, Requested: srcLen, Adjusted: srcLen}
	}
	truncated := uint64(0)
	if dstRemaining > 0 {
		truncated = dstRemaining - 1
	}
	return Applied{Action: ActionTruncateWithNull, Requested: srcLen, Adjusted: truncated}
}
