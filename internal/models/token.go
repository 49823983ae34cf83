package models

import (
	"time"

	"github.com/google/uuid"
)

type TokenStatus string

const (
	TokenWaiting   TokenStatus = "waiting"
	TokenCalled    TokenStatus = "called"
	TokenServing   TokenStatus = "serving"
	TokenDone      TokenStatus = "done"
	TokenCancelled TokenStatus = "cancelled"
)

func (s TokenStatus) Live() bool {
	return s == TokenWaiting || s == TokenCalled || s == TokenServing
}

func (s TokenStatus) Valid() bool {
	switch s {
	case TokenWaiting, TokenCalled, TokenServing, TokenDone, TokenCancelled:
		return true
	}
	return false
}

// Token is a patient's place in one clinic-day's queue.
type Token struct {
	ID            uuid.UUID   `json:"id"`
	TokenNumber   int         `json:"token_number"`
	Scope         string      `json:"scope"`
	PatientID     uuid.UUID   `json:"patient_id"`
	DoctorID      uuid.UUID   `json:"doctor_id"`
	AppointmentID *uuid.UUID  `json:"appointment_id,omitempty"`
	VisitID       *uuid.UUID  `json:"visit_id,omitempty"`
	Status        TokenStatus `json:"status"`
	IssuedDate    string      `json:"issued_date"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CalledAt      *time.Time  `json:"called_at,omitempty"`
	ServedAt      *time.Time  `json:"served_at,omitempty"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

const (
	ScopeGlobal = "global"
	ScopeDoctor = "doctor"
)

// ScopeKey is the key token numbers are unique under for a clinic-day.
func ScopeKey(scope string, doctorID uuid.UUID) string {
	if scope == ScopeDoctor {
		return doctorID.String()
	}
	return ScopeGlobal
}
