package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

type Report struct {
	AsOf            string `json:"as_of"`
	OrphansFixed    int    `json:"orphans_fixed"`
	StaleClosed     int    `json:"stale_closed"`
	TokensExpired   int    `json:"tokens_expired"`
	VisitsAbandoned int    `json:"visits_abandoned"`
}

// Reconcile repairs drift for the clinic day asOf (today when nil; a day after
// today is rejected): it links orphaned live tokens to a visit, closes queue
// entries and tokens left over from earlier days and cancels visits nobody is
// queued for anymore. Every
// write is conditional on the row still matching its predicate, so running
// it again, or alongside live traffic, changes nothing already repaired.
func (o *Orchestrator) Reconcile(ctx context.Context, asOf *clock.ClinicDay) (Report, error) {
	ctx, span := o.tracer.Start(ctx, "queue.Reconcile")
	defer span.End()

	day, settings, err := o.today(ctx)
	if err != nil {
		endSpan(span, err)
		return Report{}, err
	}
	if asOf != nil {
		if day.Before(*asOf) {
			err := &InvalidRequestError{Reason: "cannot reconcile " + asOf.Date + " before it starts, today is " + day.Date}
			endSpan(span, err)
			return Report{}, err
		}
		day = *asOf
	}
	report := Report{AsOf: day.Date}

	report.OrphansFixed, err = sweep(ctx, o.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]models.Token, error) {
			return o.store.ListOrphanTokens(ctx, day.Date, limit)
		},
		func(t models.Token) uuid.UUID { return t.ID },
		func(ctx context.Context, t models.Token) (bool, error) { return o.fixOrphan(ctx, t, day) },
	)
	if err != nil {
		return o.sweepFailed(span, report, "orphaned tokens", err)
	}

	report.StaleClosed, err = sweep(ctx, o.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]models.QueueEntry, error) {
			return o.store.ListStaleQueueEntries(ctx, day.Date, limit)
		},
		func(e models.QueueEntry) uuid.UUID { return e.ID },
		func(ctx context.Context, e models.QueueEntry) (bool, error) {
			_, err := o.store.UpdateQueueEntryStatus(ctx, e.ID, []models.QueueEntryStatus{models.EntryQueued}, settings.StaleEntryStatus(), o.calendar.Now().UTC())
			return skipChanged(err)
		},
	)
	if err != nil {
		return o.sweepFailed(span, report, "stale queue entries", err)
	}

	report.TokensExpired, err = sweep(ctx, o.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]models.Token, error) {
			return o.store.ListStaleTokens(ctx, day.Date, limit)
		},
		func(t models.Token) uuid.UUID { return t.ID },
		o.expireToken,
	)
	if err != nil {
		return o.sweepFailed(span, report, "stale tokens", err)
	}

	report.VisitsAbandoned, err = sweep(ctx, o.cfg.BatchSize,
		func(ctx context.Context, limit int) ([]models.Visit, error) {
			return o.store.ListAbandonedVisits(ctx, day.Date, limit)
		},
		func(v models.Visit) uuid.UUID { return v.ID },
		func(ctx context.Context, v models.Visit) (bool, error) {
			_, err := o.store.UpdateVisitStatus(ctx, v.ID, []models.VisitStatus{models.VisitInProgress}, models.VisitCancelled, o.calendar.Now().UTC())
			return skipChanged(err)
		},
	)
	if err != nil {
		return o.sweepFailed(span, report, "abandoned visits", err)
	}

	span.SetAttributes(
		attribute.String("as_of", report.AsOf),
		attribute.Int("orphans_fixed", report.OrphansFixed),
		attribute.Int("stale_closed", report.StaleClosed),
		attribute.Int("tokens_expired", report.TokensExpired),
		attribute.Int("visits_abandoned", report.VisitsAbandoned),
	)
	o.logger.Info().
		Str("as_of", report.AsOf).
		Int("orphans_fixed", report.OrphansFixed).
		Int("stale_closed", report.StaleClosed).
		Int("tokens_expired", report.TokensExpired).
		Int("visits_abandoned", report.VisitsAbandoned).
		Msg("reconciliation finished")
	return report, nil
}

// fixOrphan gives a live token without a visit the patient's open visit for
// the day, creating one if needed.
func (o *Orchestrator) fixOrphan(ctx context.Context, token models.Token, day clock.ClinicDay) (bool, error) {
	linked := false
	err := o.store.InTx(ctx, func(ctx context.Context) error {
		visit, err := o.ensureVisit(ctx, token.PatientID, token.DoctorID, token.AppointmentID, day)
		if err != nil {
			return err
		}
		_, err = o.store.LinkTokenVisit(ctx, token.ID, visit.ID, o.calendar.Now().UTC())
		if errors.Is(err, store.ErrVisitAlreadyLinked) {
			return nil
		}
		if err != nil {
			return classify("link token visit", err)
		}
		linked = true
		o.logger.Info().Str("token_id", token.ID.String()).Str("visit_id", visit.ID.String()).Msg("orphaned token linked")
		return nil
	})
	return linked, err
}

// expireToken closes a live token from an earlier day along with its visit:
// a token being served ends as done and completes the visit, anything else
// is cancelled.
func (o *Orchestrator) expireToken(ctx context.Context, token models.Token) (bool, error) {
	tokenTarget, visitTarget := models.TokenCancelled, models.VisitCancelled
	if token.Status == models.TokenServing {
		tokenTarget, visitTarget = models.TokenDone, models.VisitCompleted
	}
	expired := false
	err := o.store.InTx(ctx, func(ctx context.Context) error {
		now := o.calendar.Now().UTC()
		updated, err := o.store.UpdateTokenStatus(ctx, token.ID, []models.TokenStatus{token.Status}, tokenTarget, now)
		if errors.Is(err, store.ErrStatusChanged) {
			return nil
		}
		if err != nil {
			return classify("expire token", err)
		}
		if updated.VisitID != nil {
			_, err = o.store.UpdateVisitStatus(ctx, *updated.VisitID, []models.VisitStatus{models.VisitInProgress}, visitTarget, now)
			if err != nil && !errors.Is(err, store.ErrStatusChanged) {
				return classify("close visit", err)
			}
		}
		expired = true
		return nil
	})
	return expired, err
}

func (o *Orchestrator) sweepFailed(span trace.Span, report Report, phase string, err error) (Report, error) {
	endSpan(span, err)
	o.logger.Error().Err(err).Str("phase", phase).Str("as_of", report.AsOf).Msg("reconciliation aborted")
	return report, err
}

// sweep pages through rows matching a repair predicate until a page brings
// nothing new. Rows fix skips stay matched, so seen keeps them from being
// revisited forever.
func sweep[T any](ctx context.Context, batch int, list func(context.Context, int) ([]T, error), id func(T) uuid.UUID, fix func(context.Context, T) (bool, error)) (int, error) {
	seen := make(map[uuid.UUID]struct{})
	fixed := 0
	for {
		if err := ctx.Err(); err != nil {
			return fixed, err
		}
		rows, err := list(ctx, batch)
		if err != nil {
			return fixed, classify("list reconciliation rows", err)
		}
		progress := false
		for _, row := range rows {
			key := id(row)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			progress = true
			ok, err := fix(ctx, row)
			if err != nil {
				return fixed, err
			}
			if ok {
				fixed++
			}
		}
		if !progress || len(rows) < batch {
			return fixed, nil
		}
	}
}

// skipChanged counts a conditional write as applied, and treats losing it to
// a concurrent writer as nothing to do.
func skipChanged(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrStatusChanged) {
		return false, nil
	}
	return false, classify("reconcile row", err)
}
