package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrSlotUnavailable: reserve did not hand out a reservation id. Expected
	// while racing a release; the caller needs a fresh candidate.
	ErrSlotUnavailable = errors.New("booking: slot no longer available")

	ErrConfirmationFailed = errors.New("booking: confirmation failed")

	// ErrAttemptsExhausted: every reserve/confirm round for the candidate
	// ended in a confirmation failure.
	ErrAttemptsExhausted = errors.New("booking: attempts exhausted")
)

// ConfirmationError reports an abandoned reservation.
type ConfirmationError struct {
	ReservationID string
	Err           error
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("booking: confirm %s: %v", e.ReservationID, e.Err)
}

func (e *ConfirmationError) Unwrap() error { return e.Err }

func (e *ConfirmationError) Is(target error) bool { return target == ErrConfirmationFailed }
