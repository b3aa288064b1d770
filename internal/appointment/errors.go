package appointment

import (
	"errors"
	"fmt"
)

// Error classes. Callers match with errors.Is against these.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("slot conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
)

var (
	ErrAppointmentNotFound = fmt.Errorf("appointment %w", ErrNotFound)
	ErrReferenceNotFound   = fmt.Errorf("patient or doctor %w", ErrNotFound)

	ErrSlotAlreadyBooked = fmt.Errorf("%w: slot already has an active appointment for this doctor", ErrConflict)
	ErrSlotBeingBooked   = fmt.Errorf("%w: slot is currently being booked, please retry", ErrConflict)
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
