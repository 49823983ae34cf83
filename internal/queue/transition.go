package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

type TransitionRequest struct {
	EntityID uuid.UUID  `json:"entity_id"`
	Action   Action     `json:"action"`
	Role     Role       `json:"role"`
	StaffID  *uuid.UUID `json:"staff_id,omitempty"`
}

// UpdatedState is everything a transition touched, plus what the acting role
// may do next.
type UpdatedState struct {
	Appointment *models.Appointment `json:"appointment,omitempty"`
	Token       *models.Token       `json:"token,omitempty"`
	Visit       *models.Visit       `json:"visit,omitempty"`
	QueueEntry  *models.QueueEntry  `json:"queue_entry,omitempty"`
	Actions     []Action            `json:"actions"`
}

// ApplyTransition applies one role action and its coupled writes inside a
// single transaction. Transient datastore failures retry the whole unit.
func (o *Orchestrator) ApplyTransition(ctx context.Context, req TransitionRequest) (UpdatedState, error) {
	ctx, span := o.tracer.Start(ctx, "queue.ApplyTransition", trace.WithAttributes(
		attribute.String("entity_id", req.EntityID.String()),
		attribute.String("action", string(req.Action)),
		attribute.String("role", string(req.Role)),
	))
	defer span.End()
	if req.StaffID != nil {
		span.SetAttributes(attribute.String("staff_id", req.StaffID.String()))
	}

	if _, err := ParseRole(string(req.Role)); err != nil {
		err := &ForbiddenTransitionError{Role: req.Role, Action: req.Action}
		endSpan(span, err)
		return UpdatedState{}, err
	}
	if req.Action.Kind() == "" {
		err := &ForbiddenTransitionError{Role: req.Role, Action: req.Action}
		endSpan(span, err)
		return UpdatedState{}, err
	}

	day, settings, err := o.today(ctx)
	if err != nil {
		endSpan(span, err)
		return UpdatedState{}, err
	}

	var state UpdatedState
	for attempt := 1; ; attempt++ {
		err = o.store.InTx(ctx, func(ctx context.Context) error {
			var txErr error
			if req.Action.Kind() == KindToken {
				state, txErr = o.applyTokenAction(ctx, req, day)
			} else {
				state, txErr = o.applyAppointmentAction(ctx, req, day, settings)
			}
			return txErr
		})
		err = classify("apply transition", err)
		if err == nil || !isTransient(err) || attempt >= o.cfg.MaxAttempts {
			break
		}
		o.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("entity_id", req.EntityID.String()).
			Str("action", string(req.Action)).
			Msg("transition failed transiently, retrying")
	}
	if err != nil {
		endSpan(span, err)
		return UpdatedState{}, err
	}

	evt := o.logger.Info().
		Str("entity_id", req.EntityID.String()).
		Str("action", string(req.Action)).
		Str("role", string(req.Role))
	if req.StaffID != nil {
		evt = evt.Str("staff_id", req.StaffID.String())
	}
	evt.Msg("transition applied")
	return state, nil
}

func (o *Orchestrator) applyAppointmentAction(ctx context.Context, req TransitionRequest, day clock.ClinicDay, settings models.ClinicSettings) (UpdatedState, error) {
	appointment, err := o.store.GetAppointment(ctx, req.EntityID)
	if err != nil {
		if errors.Is(err, store.ErrAppointmentNotFound) {
			return UpdatedState{}, &NotFoundError{Entity: "appointment", ID: req.EntityID.String()}
		}
		return UpdatedState{}, classify("get appointment", err)
	}
	if !appointmentPermits(req.Role, appointment.Status, req.Action) {
		return UpdatedState{}, &ForbiddenTransitionError{Role: req.Role, Action: req.Action, Status: string(appointment.Status)}
	}
	// Check-in only queues today's appointments.
	if req.Action == ActionReady && appointment.Date != day.Date {
		return UpdatedState{}, &ConflictError{Reason: "appointment is for " + appointment.Date + ", not today (" + day.Date + ")"}
	}

	now := o.calendar.Now().UTC()
	updated, err := o.store.UpdateAppointmentStatus(ctx, appointment.ID, []models.AppointmentStatus{appointment.Status}, req.Action.Target(), now)
	if err != nil {
		return UpdatedState{}, transitionError(req, "update appointment", err)
	}
	state := UpdatedState{Appointment: &updated}

	switch req.Action {
	case ActionReady:
		err = o.checkIn(ctx, req, updated, day, settings, &state)
	case ActionVitalsTaken:
		err = o.stepAppointmentToken(ctx, req, updated, day, models.TokenCalled, &state)
	case ActionConsulting:
		err = o.stepAppointmentToken(ctx, req, updated, day, models.TokenServing, &state)
		if err == nil {
			err = o.stepEntry(ctx, req, updated.ID, models.EntryInProgress, now, &state)
		}
	case ActionCompleted:
		err = o.stepAppointmentToken(ctx, req, updated, day, models.TokenDone, &state)
		if err == nil {
			err = o.closeVisit(ctx, req, state.Token, models.VisitCompleted, now, &state)
		}
		if err == nil {
			err = o.stepEntry(ctx, req, updated.ID, models.EntryCompleted, now, &state)
		}
	case ActionNoShow:
		err = o.dropAppointmentToken(ctx, req, updated, day, &state)
		if err == nil {
			err = o.closeVisit(ctx, req, state.Token, models.VisitCancelled, now, &state)
		}
		if err == nil {
			err = o.stepEntry(ctx, req, updated.ID, models.EntryCompleted, now, &state)
		}
	}
	if err != nil {
		return UpdatedState{}, err
	}

	state.Actions = AppointmentActions(req.Role, updated.Status)
	return state, nil
}

// checkIn issues the appointment's token unless one is already live and makes
// sure the appointment holds a queue position.
func (o *Orchestrator) checkIn(ctx context.Context, req TransitionRequest, appointment models.Appointment, day clock.ClinicDay, settings models.ClinicSettings, state *UpdatedState) error {
	live, found, err := o.store.FindActiveToken(ctx, appointment.PatientID, day.Date)
	if err != nil {
		return classify("find active token", err)
	}
	if found {
		if live.AppointmentID == nil || *live.AppointmentID != appointment.ID {
			return &ConflictError{Reason: "patient already has a live token today"}
		}
		state.Token = &live
	} else {
		appointmentID := appointment.ID
		token, err := o.issue(ctx, IssueRequest{
			PatientID:     appointment.PatientID,
			DoctorID:      appointment.DoctorID,
			AppointmentID: &appointmentID,
		}, day, settings)
		if err != nil {
			return err
		}
		state.Token = &token
	}

	if state.Token.VisitID != nil {
		visit, err := o.store.GetVisit(ctx, *state.Token.VisitID)
		if err != nil {
			return classify("get visit", err)
		}
		state.Visit = &visit
	}

	entry, found, err := o.store.FindQueueEntry(ctx, appointment.ID)
	if err != nil {
		return classify("find queue entry", err)
	}
	if !found {
		entry, err = o.createEntry(ctx, appointment)
		if err != nil {
			return err
		}
	}
	state.QueueEntry = &entry
	return nil
}

func (o *Orchestrator) createEntry(ctx context.Context, appointment models.Appointment) (models.QueueEntry, error) {
	input := store.CreateQueueEntryInput{
		AppointmentID: appointment.ID,
		QueueDate:     appointment.Date,
		DoctorID:      appointment.DoctorID,
		CreatedAt:     o.calendar.Now().UTC(),
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		entry, err := o.store.CreateQueueEntry(ctx, input)
		switch {
		case err == nil:
			return entry, nil
		case errors.Is(err, store.ErrQueueEntryExists):
			entry, found, findErr := o.store.FindQueueEntry(ctx, appointment.ID)
			if findErr != nil {
				return models.QueueEntry{}, classify("find queue entry", findErr)
			}
			if found {
				return entry, nil
			}
			lastErr = err
		case errors.Is(err, store.ErrDuplicatePosition):
			lastErr = err
		default:
			return models.QueueEntry{}, classify("create queue entry", err)
		}
	}
	return models.QueueEntry{}, &ConflictError{Reason: "queue position collision", Err: lastErr}
}

// stepAppointmentToken moves the appointment's live token to target. A token
// already at target is left alone; no token means nothing to move.
func (o *Orchestrator) stepAppointmentToken(ctx context.Context, req TransitionRequest, appointment models.Appointment, day clock.ClinicDay, target models.TokenStatus, state *UpdatedState) error {
	token, found, err := o.store.FindAppointmentToken(ctx, appointment.ID, day.Date)
	if err != nil {
		return classify("find appointment token", err)
	}
	if !found {
		return nil
	}
	if token.Status == target {
		state.Token = &token
		return nil
	}
	from := tokenSources(target)
	if !store.Contains(from, token.Status) {
		return &ForbiddenTransitionError{Role: req.Role, Action: req.Action, Status: string(appointment.Status), Observed: string(token.Status)}
	}
	updated, err := o.store.UpdateTokenStatus(ctx, token.ID, from, target, o.calendar.Now().UTC())
	if err != nil {
		return transitionError(req, "update token", err)
	}
	state.Token = &updated
	return nil
}

// dropAppointmentToken ends the token of a patient marked no-show: unserved
// tokens are cancelled, a token already being served is closed as done.
func (o *Orchestrator) dropAppointmentToken(ctx context.Context, req TransitionRequest, appointment models.Appointment, day clock.ClinicDay, state *UpdatedState) error {
	token, found, err := o.store.FindAppointmentToken(ctx, appointment.ID, day.Date)
	if err != nil {
		return classify("find appointment token", err)
	}
	if !found {
		return nil
	}
	if !token.Status.Live() {
		state.Token = &token
		return nil
	}
	target := models.TokenCancelled
	if token.Status == models.TokenServing {
		target = models.TokenDone
	}
	updated, err := o.store.UpdateTokenStatus(ctx, token.ID, []models.TokenStatus{token.Status}, target, o.calendar.Now().UTC())
	if err != nil {
		return transitionError(req, "update token", err)
	}
	state.Token = &updated
	return nil
}

// closeVisit moves the token's visit out of in_progress. Tokens without a
// visit have nothing to close.
func (o *Orchestrator) closeVisit(ctx context.Context, req TransitionRequest, token *models.Token, target models.VisitStatus, at time.Time, state *UpdatedState) error {
	if token == nil || token.VisitID == nil {
		return nil
	}
	visit, err := o.store.GetVisit(ctx, *token.VisitID)
	if err != nil {
		return classify("get visit", err)
	}
	if visit.Status == target {
		state.Visit = &visit
		return nil
	}
	updated, err := o.store.UpdateVisitStatus(ctx, visit.ID, []models.VisitStatus{models.VisitInProgress}, target, at)
	if err != nil {
		return transitionError(req, "update visit", err)
	}
	state.Visit = &updated
	return nil
}

// stepEntry advances the appointment's queue entry when it is in a status the
// target can be reached from. Positions never change.
func (o *Orchestrator) stepEntry(ctx context.Context, req TransitionRequest, appointmentID uuid.UUID, target models.QueueEntryStatus, at time.Time, state *UpdatedState) error {
	entry, found, err := o.store.FindQueueEntry(ctx, appointmentID)
	if err != nil {
		return classify("find queue entry", err)
	}
	if !found {
		return nil
	}
	if !store.ValidQueueEntryTransition(entry.Status, target) {
		state.QueueEntry = &entry
		return nil
	}
	updated, err := o.store.UpdateQueueEntryStatus(ctx, entry.ID, []models.QueueEntryStatus{entry.Status}, target, at)
	if err != nil {
		return transitionError(req, "update queue entry", err)
	}
	state.QueueEntry = &updated
	return nil
}

func (o *Orchestrator) applyTokenAction(ctx context.Context, req TransitionRequest, day clock.ClinicDay) (UpdatedState, error) {
	token, err := o.store.GetToken(ctx, req.EntityID)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return UpdatedState{}, &NotFoundError{Entity: "token", ID: req.EntityID.String()}
		}
		return UpdatedState{}, classify("get token", err)
	}
	if !tokenPermits(req.Role, token.Status, req.Action) {
		return UpdatedState{}, &ForbiddenTransitionError{Role: req.Role, Action: req.Action, Status: string(token.Status)}
	}

	now := o.calendar.Now().UTC()
	updated, err := o.store.UpdateTokenStatus(ctx, token.ID, []models.TokenStatus{token.Status}, tokenTargets[req.Action], now)
	if err != nil {
		return UpdatedState{}, transitionError(req, "update token", err)
	}
	state := UpdatedState{Token: &updated}

	switch req.Action {
	case ActionServe:
		if updated.AppointmentID != nil {
			err = o.stepEntry(ctx, req, *updated.AppointmentID, models.EntryInProgress, now, &state)
		}
	case ActionComplete:
		if updated.AppointmentID != nil {
			err = o.finishAppointment(ctx, req, *updated.AppointmentID, now, &state)
			if err == nil {
				err = o.stepEntry(ctx, req, *updated.AppointmentID, models.EntryCompleted, now, &state)
			}
		}
		if err == nil {
			err = o.closeVisit(ctx, req, &updated, models.VisitCompleted, now, &state)
		}
	case ActionCancel:
		err = o.closeVisit(ctx, req, &updated, models.VisitCancelled, now, &state)
	}
	if err != nil {
		return UpdatedState{}, err
	}

	state.Actions = TokenActions(req.Role, updated.Status)
	return state, nil
}

// finishAppointment completes a linked appointment that is in consultation.
func (o *Orchestrator) finishAppointment(ctx context.Context, req TransitionRequest, appointmentID uuid.UUID, at time.Time, state *UpdatedState) error {
	appointment, err := o.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return classify("get appointment", err)
	}
	if appointment.Status != models.AppointmentConsulting {
		state.Appointment = &appointment
		return nil
	}
	updated, err := o.store.UpdateAppointmentStatus(ctx, appointment.ID, []models.AppointmentStatus{models.AppointmentConsulting}, models.AppointmentCompleted, at)
	if err != nil {
		return transitionError(req, "update appointment", err)
	}
	state.Appointment = &updated
	return nil
}

func tokenSources(target models.TokenStatus) []models.TokenStatus {
	switch target {
	case models.TokenCalled:
		return []models.TokenStatus{models.TokenWaiting}
	case models.TokenServing:
		return []models.TokenStatus{models.TokenWaiting, models.TokenCalled}
	case models.TokenDone:
		return []models.TokenStatus{models.TokenServing}
	case models.TokenCancelled:
		return []models.TokenStatus{models.TokenWaiting, models.TokenCalled}
	}
	return nil
}

// transitionError reports a lost conditional update as a forbidden
// transition carrying the status the row actually had.
func transitionError(req TransitionRequest, op string, err error) error {
	if observed, ok := store.ObservedStatus(err); ok {
		return &ForbiddenTransitionError{Role: req.Role, Action: req.Action, Observed: observed}
	}
	if errors.Is(err, store.ErrInvalidState) {
		return &ForbiddenTransitionError{Role: req.Role, Action: req.Action}
	}
	return classify(op, err)
}
