package store

import (
	"errors"
	"fmt"
)

var (
	ErrTokenNotFound       = errors.New("token not found")
	ErrVisitNotFound       = errors.New("visit not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrQueueEntryNotFound  = errors.New("queue entry not found")
	ErrStatusChanged       = errors.New("status changed")
	ErrInvalidState        = errors.New("invalid status transition")

	ErrDuplicateTokenNumber = errors.New("token number already issued")
	ErrActiveTokenExists    = errors.New("patient already has a live token")
	ErrOpenVisitExists      = errors.New("patient already has an open visit")
	ErrQueueEntryExists     = errors.New("appointment already queued")
	ErrDuplicatePosition    = errors.New("queue position already taken")
	ErrVisitAlreadyLinked   = errors.New("token already linked to a visit")

	// ErrTransient marks failures that may succeed when the whole unit of
	// work is retried (serialization failures, deadlocks, dropped connections).
	ErrTransient = errors.New("transient datastore failure")
)

// StatusChangedError reports the status observed when a conditional update
// found the row in a status outside its allowed from-set.
type StatusChangedError struct {
	Entity   string
	Observed string
}

func (e *StatusChangedError) Error() string {
	return fmt.Sprintf("%s status changed to %q", e.Entity, e.Observed)
}

func (e *StatusChangedError) Unwrap() error {
	return ErrStatusChanged
}

// ObservedStatus extracts the observed status from a StatusChangedError.
func ObservedStatus(err error) (string, bool) {
	var changed *StatusChangedError
	if errors.As(err, &changed) {
		return changed.Observed, true
	}
	return "", false
}
