package models

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentScheduled      AppointmentStatus = "scheduled"
	AppointmentReady          AppointmentStatus = "ready"
	AppointmentLate           AppointmentStatus = "late"
	AppointmentNoShow         AppointmentStatus = "no-show"
	AppointmentVitalsTaken    AppointmentStatus = "vitals-taken"
	AppointmentReadyForDoctor AppointmentStatus = "ready-for-doctor"
	AppointmentConsulting     AppointmentStatus = "consulting"
	AppointmentCompleted      AppointmentStatus = "completed"
)

// AppointmentStatuses lists every appointment status in lifecycle order.
var AppointmentStatuses = []AppointmentStatus{
	AppointmentScheduled,
	AppointmentReady,
	AppointmentLate,
	AppointmentNoShow,
	AppointmentVitalsTaken,
	AppointmentReadyForDoctor,
	AppointmentConsulting,
	AppointmentCompleted,
}

func (s AppointmentStatus) Terminal() bool {
	return s == AppointmentNoShow || s == AppointmentCompleted
}

func (s AppointmentStatus) Valid() bool {
	for _, status := range AppointmentStatuses {
		if status == s {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID         `json:"id"`
	PatientID       uuid.UUID         `json:"patient_id"`
	DoctorID        uuid.UUID         `json:"doctor_id"`
	Date            string            `json:"appointment_date"`
	Time            string            `json:"appointment_time"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          AppointmentStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

type QueueEntryStatus string

const (
	EntryQueued     QueueEntryStatus = "queued"
	EntryInProgress QueueEntryStatus = "in-progress"
	EntryCompleted  QueueEntryStatus = "completed"
	EntryExpired    QueueEntryStatus = "expired"
)

// QueueEntry tracks a scheduled patient's place in a doctor's queue for a day.
type QueueEntry struct {
	ID            uuid.UUID        `json:"id"`
	AppointmentID uuid.UUID        `json:"appointment_id"`
	QueueDate     string           `json:"queue_date"`
	DoctorID      uuid.UUID        `json:"doctor_id"`
	Position      int              `json:"position"`
	Status        QueueEntryStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}
