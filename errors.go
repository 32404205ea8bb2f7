package memsentry

import (
	"errors"
	"fmt"

	"github.com/hupe1980/memsentry/heal"
	"github.com/hupe1980/memsentry/internal/arena"
)

var (
	// ErrClosed is returned for operations on a closed membrane.
	ErrClosed = errors.New("memsentry: membrane is closed")
	// ErrSizeOverflow is returned when a count*size product overflows.
	ErrSizeOverflow = errors.New("memsentry: allocation size overflows")

	// Violation sentinels, shared with the heal package so callers can
	// errors.Is against a single set.
	ErrNullPointer    = heal.ErrNullPointer
	ErrForeignPointer = heal.ErrForeignPointer
	ErrUseAfterFree   = heal.ErrUseAfterFree
	ErrOutOfBounds    = heal.ErrOutOfBounds
	ErrCorrupted      = heal.ErrCorrupted
	ErrAmbiguous      = heal.ErrAmbiguous
)

// ErrAllocTooLarge indicates a request above the maximum tracked size.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrAllocTooLarge struct {
	Size  uint64
	cause error
}

func (e *ErrAllocTooLarge) Error() string {
	return fmt.Sprintf("allocation too large: %d bytes", e.Size)
}

func (e *ErrAllocTooLarge) Unwrap() error { return e.cause }

func translateAllocError(size uint64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, arena.ErrSizeTooLarge) {
		return &ErrAllocTooLarge{Size: size, cause: err}
	}
	return err
}
