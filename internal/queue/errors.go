package queue

import (
	"errors"
	"fmt"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

// ConflictError means the request collides with existing state: the patient
// already holds a live token, or numbering kept colliding.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict: %s: %v", e.Reason, e.Err)
	}
	return "conflict: " + e.Reason
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// ForbiddenTransitionError means the role may not apply the action to an
// entity in the observed status. Observed is set when a concurrent writer
// moved the row first.
type ForbiddenTransitionError struct {
	Role     Role
	Action   Action
	Status   string
	Observed string
}

func (e *ForbiddenTransitionError) Error() string {
	if e.Observed != "" {
		return fmt.Sprintf("%s cannot apply %q: status changed to %q", e.Role, e.Action, e.Observed)
	}
	return fmt.Sprintf("%s cannot apply %q from status %q", e.Role, e.Action, e.Status)
}

// InvalidRequestError means the caller asked for something the queue cannot
// act on, such as reconciling a clinic day that has not started.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid request: " + e.Reason
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// PersistenceError wraps an unexpected repository failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether retrying the whole operation may succeed.
func IsRetriable(err error) bool {
	var persistence *PersistenceError
	return errors.As(err, &persistence)
}

func isTransient(err error) bool {
	return IsRetriable(err) && errors.Is(err, store.ErrTransient)
}

// classify turns a repository error into the domain error the caller sees.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		conflict   *ConflictError
		forbidden  *ForbiddenTransitionError
		notFound   *NotFoundError
		persisting *PersistenceError
		invalid    *InvalidRequestError
	)
	if errors.As(err, &conflict) || errors.As(err, &forbidden) || errors.As(err, &notFound) || errors.As(err, &persisting) || errors.As(err, &invalid) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrTokenNotFound):
		return &NotFoundError{Entity: "token"}
	case errors.Is(err, store.ErrVisitNotFound):
		return &NotFoundError{Entity: "visit"}
	case errors.Is(err, store.ErrAppointmentNotFound):
		return &NotFoundError{Entity: "appointment"}
	case errors.Is(err, store.ErrQueueEntryNotFound):
		return &NotFoundError{Entity: "queue entry"}
	case errors.Is(err, store.ErrActiveTokenExists):
		return &ConflictError{Reason: "patient already has a live token today", Err: err}
	case errors.Is(err, store.ErrDuplicateTokenNumber):
		return &ConflictError{Reason: "token number collision", Err: err}
	}
	return &PersistenceError{Op: op, Err: err}
}
