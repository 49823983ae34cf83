// Package queue moves patients through a clinic-day: it issues tokens,
// applies role-gated status transitions with their coupled writes, answers
// queue position queries and reconciles drift across day boundaries.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

const (
	defaultMaxAttempts = 3
	defaultBatchSize   = 200
	tracerName         = "github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/queue"
)

// SettingsReader supplies the current clinic settings, typically from a
// read-through cache.
type SettingsReader interface {
	Get(ctx context.Context) (models.ClinicSettings, error)
}

type Config struct {
	// MaxAttempts bounds how often a transition is retried as a unit after a
	// transient datastore failure.
	MaxAttempts int
	BatchSize   int
}

type Orchestrator struct {
	store    store.Store
	calendar *clock.Calendar
	settings SettingsReader
	logger   zerolog.Logger
	tracer   trace.Tracer
	cfg      Config
}

func NewOrchestrator(st store.Store, calendar *clock.Calendar, settings SettingsReader, logger zerolog.Logger, cfg Config) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if calendar == nil {
		calendar = clock.NewCalendar(nil)
	}
	return &Orchestrator{
		store:    st,
		calendar: calendar,
		settings: settings,
		logger:   logger.With().Str("component", "queue").Logger(),
		tracer:   otel.Tracer(tracerName),
		cfg:      cfg,
	}
}

type IssueRequest struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	DoctorID      uuid.UUID  `json:"doctor_id"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

// IssueToken gives the patient a waiting token for today, linked to a reused
// or newly created in-progress visit.
func (o *Orchestrator) IssueToken(ctx context.Context, req IssueRequest) (models.Token, error) {
	ctx, span := o.tracer.Start(ctx, "queue.IssueToken", trace.WithAttributes(
		attribute.String("patient_id", req.PatientID.String()),
		attribute.String("doctor_id", req.DoctorID.String()),
	))
	defer span.End()

	day, settings, err := o.today(ctx)
	if err != nil {
		endSpan(span, err)
		return models.Token{}, err
	}

	if req.AppointmentID != nil {
		if _, err := o.store.GetAppointment(ctx, *req.AppointmentID); err != nil {
			if errors.Is(err, store.ErrAppointmentNotFound) {
				err = &NotFoundError{Entity: "appointment", ID: req.AppointmentID.String()}
			} else {
				err = classify("get appointment", err)
			}
			endSpan(span, err)
			return models.Token{}, err
		}
	}

	token, err := o.issue(ctx, req, day, settings)
	if err != nil {
		endSpan(span, err)
		return models.Token{}, err
	}
	span.SetAttributes(attribute.Int("token_number", token.TokenNumber))
	o.logger.Info().
		Str("token_id", token.ID.String()).
		Str("patient_id", token.PatientID.String()).
		Int("token_number", token.TokenNumber).
		Str("clinic_day", day.Date).
		Msg("token issued")
	return token, nil
}

func (o *Orchestrator) issue(ctx context.Context, req IssueRequest, day clock.ClinicDay, settings models.ClinicSettings) (models.Token, error) {
	_, found, err := o.store.FindActiveToken(ctx, req.PatientID, day.Date)
	if err != nil {
		return models.Token{}, classify("find active token", err)
	}
	if found {
		return models.Token{}, &ConflictError{Reason: "patient already has a live token today"}
	}

	visit, err := o.ensureVisit(ctx, req.PatientID, req.DoctorID, req.AppointmentID, day)
	if err != nil {
		return models.Token{}, err
	}

	scope := models.ScopeKey(settings.NumberingScope, req.DoctorID)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		number, err := o.store.NextTokenNumber(ctx, day.Date, scope)
		if err != nil {
			return models.Token{}, classify("next token number", err)
		}
		token, err := o.store.CreateToken(ctx, store.CreateTokenInput{
			TokenNumber:   number,
			Scope:         scope,
			PatientID:     req.PatientID,
			DoctorID:      req.DoctorID,
			AppointmentID: req.AppointmentID,
			VisitID:       &visit.ID,
			IssuedDate:    day.Date,
			CreatedAt:     o.calendar.Now().UTC(),
		})
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, store.ErrDuplicateTokenNumber) {
			return models.Token{}, classify("create token", err)
		}
		lastErr = err
		o.logger.Warn().Int("token_number", number).Str("scope", scope).Msg("token number taken, recomputing")
	}
	return models.Token{}, &ConflictError{Reason: "token number collision", Err: lastErr}
}

// ensureVisit returns the patient's open visit for day, creating one when
// none exists. Losing the creation race to a concurrent issuer reuses the
// winner's visit.
func (o *Orchestrator) ensureVisit(ctx context.Context, patientID, doctorID uuid.UUID, appointmentID *uuid.UUID, day clock.ClinicDay) (models.Visit, error) {
	visit, found, err := o.store.FindOpenVisit(ctx, patientID, day.Date)
	if err != nil {
		return models.Visit{}, classify("find open visit", err)
	}
	if found {
		return visit, nil
	}

	visitType := models.VisitTypeWalkIn
	if appointmentID != nil {
		visitType = models.VisitTypeAppointment
	}
	visit, err = o.store.CreateVisit(ctx, store.CreateVisitInput{
		PatientID:     patientID,
		DoctorID:      doctorID,
		AppointmentID: appointmentID,
		VisitType:     visitType,
		VisitDate:     day.Date,
		VisitedAt:     o.calendar.Now().UTC(),
	})
	if err == nil {
		o.logger.Info().Str("visit_id", visit.ID.String()).Str("patient_id", patientID.String()).Msg("visit opened")
		return visit, nil
	}
	if !errors.Is(err, store.ErrOpenVisitExists) {
		return models.Visit{}, classify("create visit", err)
	}
	visit, found, err = o.store.FindOpenVisit(ctx, patientID, day.Date)
	if err != nil {
		return models.Visit{}, classify("find open visit", err)
	}
	if !found {
		return models.Visit{}, &ConflictError{Reason: "open visit vanished during issuance"}
	}
	return visit, nil
}

// today resolves the clinic day in the configured clinic timezone.
func (o *Orchestrator) today(ctx context.Context) (clock.ClinicDay, models.ClinicSettings, error) {
	settings, err := o.currentSettings(ctx)
	if err != nil {
		return clock.ClinicDay{}, models.ClinicSettings{}, err
	}
	loc, err := settings.Location()
	if err != nil {
		return clock.ClinicDay{}, models.ClinicSettings{}, &PersistenceError{Op: "load clinic timezone", Err: err}
	}
	return o.calendar.CurrentClinicDay(loc), settings, nil
}

func (o *Orchestrator) currentSettings(ctx context.Context) (models.ClinicSettings, error) {
	if o.settings == nil {
		return models.ClinicSettings{NumberingScope: models.ScopeGlobal, StaleEntryPolicy: models.StalePolicyCompleted}, nil
	}
	settings, err := o.settings.Get(ctx)
	if err != nil {
		return models.ClinicSettings{}, &PersistenceError{Op: "load clinic settings", Err: err}
	}
	return settings, nil
}

// Location returns the clinic timezone currently in effect.
func (o *Orchestrator) Location(ctx context.Context) (*time.Location, error) {
	settings, err := o.currentSettings(ctx)
	if err != nil {
		return nil, err
	}
	loc, err := settings.Location()
	if err != nil {
		return nil, &PersistenceError{Op: "load clinic timezone", Err: err}
	}
	return loc, nil
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
