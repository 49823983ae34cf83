package models

import (
	"time"

	"github.com/google/uuid"
)

type VisitStatus string

const (
	VisitInProgress VisitStatus = "in_progress"
	VisitCompleted  VisitStatus = "completed"
	VisitCancelled  VisitStatus = "cancelled"
)

type VisitType string

const (
	VisitTypeAppointment VisitType = "appointment"
	VisitTypeWalkIn      VisitType = "walk_in"
)

const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentWaived  = "waived"
)

// Visit is the clinical encounter a token points at.
type Visit struct {
	ID            uuid.UUID   `json:"id"`
	PatientID     uuid.UUID   `json:"patient_id"`
	DoctorID      uuid.UUID   `json:"doctor_id"`
	AppointmentID *uuid.UUID  `json:"appointment_id,omitempty"`
	VisitType     VisitType   `json:"visit_type"`
	VisitDate     string      `json:"visit_date"`
	VisitedAt     time.Time   `json:"visited_at"`
	Status        VisitStatus `json:"status"`
	PaymentStatus string      `json:"payment_status"`
	UpdatedAt     time.Time   `json:"updated_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}
