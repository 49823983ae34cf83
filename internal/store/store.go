package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
)

type CreateVisitInput struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	AppointmentID *uuid.UUID
	VisitType     models.VisitType
	VisitDate     string
	VisitedAt     time.Time
}

type CreateTokenInput struct {
	TokenNumber   int
	Scope         string
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	AppointmentID *uuid.UUID
	VisitID       *uuid.UUID
	IssuedDate    string
	CreatedAt     time.Time
}

type CreateAppointmentInput struct {
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	Date            string
	Time            string
	DurationMinutes int
	Status          models.AppointmentStatus
	CreatedAt       time.Time
}

type CreateQueueEntryInput struct {
	AppointmentID uuid.UUID
	QueueDate     string
	DoctorID      uuid.UUID
	CreatedAt     time.Time
}

// VisitRepository persists clinical visits.
type VisitRepository interface {
	FindOpenVisit(ctx context.Context, patientID uuid.UUID, day string) (models.Visit, bool, error)
	CreateVisit(ctx context.Context, input CreateVisitInput) (models.Visit, error)
	GetVisit(ctx context.Context, visitID uuid.UUID) (models.Visit, error)
	UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, from []models.VisitStatus, to models.VisitStatus, at time.Time) (models.Visit, error)
	// ListAbandonedVisits returns in-progress visits dated before the given
	// day that no live token references.
	ListAbandonedVisits(ctx context.Context, before string, limit int) ([]models.Visit, error)
}

// TokenRepository persists queue tokens. Every create and status change
// appends to the token's event chain.
type TokenRepository interface {
	FindActiveToken(ctx context.Context, patientID uuid.UUID, day string) (models.Token, bool, error)
	FindAppointmentToken(ctx context.Context, appointmentID uuid.UUID, day string) (models.Token, bool, error)
	GetToken(ctx context.Context, tokenID uuid.UUID) (models.Token, error)
	NextTokenNumber(ctx context.Context, day, scope string) (int, error)
	CreateToken(ctx context.Context, input CreateTokenInput) (models.Token, error)
	UpdateTokenStatus(ctx context.Context, tokenID uuid.UUID, from []models.TokenStatus, to models.TokenStatus, at time.Time) (models.Token, error)
	// LinkTokenVisit sets visit_id only while it is still null.
	LinkTokenVisit(ctx context.Context, tokenID, visitID uuid.UUID, at time.Time) (models.Token, error)
	ListLiveTokens(ctx context.Context, day string, doctorID *uuid.UUID) ([]models.Token, error)
	CountAhead(ctx context.Context, day, scope string, tokenNumber int) (int, error)
	ListOrphanTokens(ctx context.Context, day string, limit int) ([]models.Token, error)
	ListStaleTokens(ctx context.Context, before string, limit int) ([]models.Token, error)
	ListTokenEvents(ctx context.Context, tokenID uuid.UUID) ([]TokenEvent, error)
}

// AppointmentRepository persists appointments and their queue entries.
type AppointmentRepository interface {
	CreateAppointment(ctx context.Context, input CreateAppointmentInput) (models.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (models.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, from []models.AppointmentStatus, to models.AppointmentStatus, at time.Time) (models.Appointment, error)
	FindQueueEntry(ctx context.Context, appointmentID uuid.UUID) (models.QueueEntry, bool, error)
	CreateQueueEntry(ctx context.Context, input CreateQueueEntryInput) (models.QueueEntry, error)
	UpdateQueueEntryStatus(ctx context.Context, entryID uuid.UUID, from []models.QueueEntryStatus, to models.QueueEntryStatus, at time.Time) (models.QueueEntry, error)
	// ListStaleQueueEntries returns queued entries whose appointment date
	// precedes the given day.
	ListStaleQueueEntries(ctx context.Context, before string, limit int) ([]models.QueueEntry, error)
}

type SettingsRepository interface {
	GetClinicSettings(ctx context.Context) (models.ClinicSettings, bool, error)
	SaveClinicSettings(ctx context.Context, settings models.ClinicSettings) (models.ClinicSettings, error)
}

// Transactor runs fn inside one datastore transaction. Repository calls made
// with the ctx passed to fn join that transaction; a nested InTx becomes a
// savepoint.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Store interface {
	Transactor
	VisitRepository
	TokenRepository
	AppointmentRepository
	SettingsRepository
	Ping(ctx context.Context) error
}
