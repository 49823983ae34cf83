package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

const defaultListLimit = 500

type txKey struct{}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// q returns the transaction carried by ctx, or the pool.
func (s *Store) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// InTx begins a transaction, or a savepoint when ctx already carries one.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	var tx pgx.Tx
	if outer, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		tx, err = outer.Begin(ctx)
	} else {
		tx, err = s.pool.BeginTx(ctx, pgx.TxOptions{})
	}
	if err != nil {
		return mapError(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// Visits

const visitColumns = `id, patient_id, doctor_id, appointment_id, visit_type, to_char(visit_date, 'YYYY-MM-DD'),
	visited_at, status, payment_status, updated_at, completed_at`

func scanVisit(row scanner) (models.Visit, error) {
	var visit models.Visit
	var appointmentID uuid.NullUUID
	var visitType, status string
	var completedAt sql.NullTime
	if err := row.Scan(&visit.ID, &visit.PatientID, &visit.DoctorID, &appointmentID, &visitType, &visit.VisitDate,
		&visit.VisitedAt, &status, &visit.PaymentStatus, &visit.UpdatedAt, &completedAt); err != nil {
		return models.Visit{}, err
	}
	visit.AppointmentID = nullUUIDPtr(appointmentID)
	visit.VisitType = models.VisitType(visitType)
	visit.Status = models.VisitStatus(status)
	visit.CompletedAt = nullTimePtr(completedAt)
	return visit, nil
}

func (s *Store) FindOpenVisit(ctx context.Context, patientID uuid.UUID, day string) (models.Visit, bool, error) {
	visit, err := scanVisit(s.q(ctx).QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits
		WHERE patient_id = $1 AND visit_date = $2::date AND status = 'in_progress'
	`, patientID, day))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, false, nil
		}
		return models.Visit{}, false, mapError(err)
	}
	return visit, true, nil
}

func (s *Store) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	visitedAt := stamp(input.VisitedAt)
	var visit models.Visit
	err := s.InTx(ctx, func(ctx context.Context) error {
		var err error
		visit, err = scanVisit(s.q(ctx).QueryRow(ctx, `
			INSERT INTO visits (id, patient_id, doctor_id, appointment_id, visit_type, visit_date, visited_at, status, payment_status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $7)
			RETURNING `+visitColumns,
			uuid.New(), input.PatientID, input.DoctorID, nullUUID(input.AppointmentID), string(input.VisitType),
			input.VisitDate, visitedAt, string(models.VisitInProgress), models.PaymentPending))
		return mapError(err)
	})
	return visit, err
}

func (s *Store) GetVisit(ctx context.Context, visitID uuid.UUID) (models.Visit, error) {
	visit, err := scanVisit(s.q(ctx).QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE id = $1`, visitID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, store.ErrVisitNotFound
		}
		return models.Visit{}, mapError(err)
	}
	return visit, nil
}

func (s *Store) UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, from []models.VisitStatus, to models.VisitStatus, at time.Time) (models.Visit, error) {
	if err := store.CheckFromStatuses(from, to, store.ValidVisitTransition); err != nil {
		return models.Visit{}, err
	}
	q := s.q(ctx)
	visit, err := scanVisit(q.QueryRow(ctx, `
		UPDATE visits
		SET status = $1,
			updated_at = $2,
			completed_at = CASE WHEN $1 = 'completed' THEN $2 ELSE completed_at END
		WHERE id = $3 AND status = ANY($4)
		RETURNING `+visitColumns,
		string(to), stamp(at), visitID, statusStrings(from)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Visit{}, changedOrMissing(ctx, q, "visits", "visit", visitID, store.ErrVisitNotFound)
		}
		return models.Visit{}, mapError(err)
	}
	return visit, nil
}

func (s *Store) ListAbandonedVisits(ctx context.Context, before string, limit int) ([]models.Visit, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits v
		WHERE v.status = 'in_progress'
			AND v.visit_date < $1::date
			AND NOT EXISTS (
				SELECT 1 FROM queue_tokens t
				WHERE t.visit_id = v.id AND t.status IN ('waiting', 'called', 'serving')
			)
		ORDER BY v.visited_at ASC
		LIMIT $2
	`, before, listLimit(limit))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var visits []models.Visit
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return nil, mapError(err)
		}
		visits = append(visits, visit)
	}
	return visits, mapError(rows.Err())
}

// Tokens

const tokenColumns = `id, token_number, number_scope, patient_id, doctor_id, appointment_id, visit_id, status,
	to_char(issued_date, 'YYYY-MM-DD'), created_at, updated_at, called_at, served_at, completed_at`

func scanToken(row scanner) (models.Token, error) {
	var token models.Token
	var appointmentID, visitID uuid.NullUUID
	var status string
	var calledAt, servedAt, completedAt sql.NullTime
	if err := row.Scan(&token.ID, &token.TokenNumber, &token.Scope, &token.PatientID, &token.DoctorID, &appointmentID,
		&visitID, &status, &token.IssuedDate, &token.CreatedAt, &token.UpdatedAt, &calledAt, &servedAt, &completedAt); err != nil {
		return models.Token{}, err
	}
	token.AppointmentID = nullUUIDPtr(appointmentID)
	token.VisitID = nullUUIDPtr(visitID)
	token.Status = models.TokenStatus(status)
	token.CalledAt = nullTimePtr(calledAt)
	token.ServedAt = nullTimePtr(servedAt)
	token.CompletedAt = nullTimePtr(completedAt)
	return token, nil
}

func (s *Store) queryTokens(ctx context.Context, query string, args ...any) ([]models.Token, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, mapError(err)
		}
		tokens = append(tokens, token)
	}
	return tokens, mapError(rows.Err())
}

func (s *Store) findToken(ctx context.Context, query string, args ...any) (models.Token, bool, error) {
	token, err := scanToken(s.q(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, false, nil
		}
		return models.Token{}, false, mapError(err)
	}
	return token, true, nil
}

func (s *Store) FindActiveToken(ctx context.Context, patientID uuid.UUID, day string) (models.Token, bool, error) {
	return s.findToken(ctx, `
		SELECT `+tokenColumns+`
		FROM queue_tokens
		WHERE patient_id = $1 AND issued_date = $2::date AND status IN ('waiting', 'called', 'serving')
	`, patientID, day)
}

func (s *Store) FindAppointmentToken(ctx context.Context, appointmentID uuid.UUID, day string) (models.Token, bool, error) {
	return s.findToken(ctx, `
		SELECT `+tokenColumns+`
		FROM queue_tokens
		WHERE appointment_id = $1 AND issued_date = $2::date
		ORDER BY (status IN ('waiting', 'called', 'serving')) DESC, created_at DESC
		LIMIT 1
	`, appointmentID, day)
}

func (s *Store) GetToken(ctx context.Context, tokenID uuid.UUID) (models.Token, error) {
	token, found, err := s.findToken(ctx, `SELECT `+tokenColumns+` FROM queue_tokens WHERE id = $1`, tokenID)
	if err != nil {
		return models.Token{}, err
	}
	if !found {
		return models.Token{}, store.ErrTokenNotFound
	}
	return token, nil
}

func (s *Store) NextTokenNumber(ctx context.Context, day, scope string) (int, error) {
	var next int
	err := s.q(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) + 1
		FROM queue_tokens
		WHERE issued_date = $1::date AND number_scope = $2
	`, day, scope).Scan(&next)
	if err != nil {
		return 0, mapError(err)
	}
	return next, nil
}

func (s *Store) CreateToken(ctx context.Context, input store.CreateTokenInput) (models.Token, error) {
	createdAt := stamp(input.CreatedAt)
	var token models.Token
	err := s.InTx(ctx, func(ctx context.Context) error {
		var err error
		q := s.q(ctx)
		token, err = scanToken(q.QueryRow(ctx, `
			INSERT INTO queue_tokens (
				id, token_number, number_scope, patient_id, doctor_id, appointment_id, visit_id,
				status, issued_date, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10, $10)
			RETURNING `+tokenColumns,
			uuid.New(), input.TokenNumber, input.Scope, input.PatientID, input.DoctorID,
			nullUUID(input.AppointmentID), nullUUID(input.VisitID), string(models.TokenWaiting), input.IssuedDate, createdAt))
		if err != nil {
			return mapError(err)
		}
		return insertTokenEvent(ctx, q, token, store.TokenEventIssued)
	})
	return token, err
}

func (s *Store) UpdateTokenStatus(ctx context.Context, tokenID uuid.UUID, from []models.TokenStatus, to models.TokenStatus, at time.Time) (models.Token, error) {
	if err := store.CheckFromStatuses(from, to, store.ValidTokenTransition); err != nil {
		return models.Token{}, err
	}
	var token models.Token
	err := s.InTx(ctx, func(ctx context.Context) error {
		var err error
		q := s.q(ctx)
		token, err = scanToken(q.QueryRow(ctx, `
			UPDATE queue_tokens
			SET status = $1,
				updated_at = $2,
				called_at = CASE WHEN $1 = 'called' THEN $2 ELSE called_at END,
				served_at = CASE WHEN $1 = 'serving' THEN $2 ELSE served_at END,
				completed_at = CASE WHEN $1 IN ('done', 'cancelled') THEN $2 ELSE completed_at END
			WHERE id = $3 AND status = ANY($4)
			RETURNING `+tokenColumns,
			string(to), stamp(at), tokenID, statusStrings(from)))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return changedOrMissing(ctx, q, "queue_tokens", "token", tokenID, store.ErrTokenNotFound)
			}
			return mapError(err)
		}
		return insertTokenEvent(ctx, q, token, store.TokenEventStatus)
	})
	return token, err
}

func (s *Store) LinkTokenVisit(ctx context.Context, tokenID, visitID uuid.UUID, at time.Time) (models.Token, error) {
	var token models.Token
	err := s.InTx(ctx, func(ctx context.Context) error {
		var err error
		q := s.q(ctx)
		token, err = scanToken(q.QueryRow(ctx, `
			UPDATE queue_tokens
			SET visit_id = $1, updated_at = $2
			WHERE id = $3 AND visit_id IS NULL
			RETURNING `+tokenColumns,
			visitID, stamp(at), tokenID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				if _, getErr := s.GetToken(ctx, tokenID); getErr != nil {
					return getErr
				}
				return store.ErrVisitAlreadyLinked
			}
			return mapError(err)
		}
		return insertTokenEvent(ctx, q, token, store.TokenEventVisitLinked)
	})
	return token, err
}

func (s *Store) ListLiveTokens(ctx context.Context, day string, doctorID *uuid.UUID) ([]models.Token, error) {
	return s.queryTokens(ctx, `
		SELECT `+tokenColumns+`
		FROM queue_tokens
		WHERE issued_date = $1::date
			AND status IN ('waiting', 'called', 'serving')
			AND ($2::uuid IS NULL OR doctor_id = $2)
		ORDER BY token_number ASC, created_at ASC
	`, day, nullUUID(doctorID))
}

func (s *Store) CountAhead(ctx context.Context, day, scope string, tokenNumber int) (int, error) {
	var ahead int
	err := s.q(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM queue_tokens
		WHERE issued_date = $1::date
			AND number_scope = $2
			AND token_number < $3
			AND status IN ('waiting', 'called')
	`, day, scope, tokenNumber).Scan(&ahead)
	if err != nil {
		return 0, mapError(err)
	}
	return ahead, nil
}

func (s *Store) ListOrphanTokens(ctx context.Context, day string, limit int) ([]models.Token, error) {
	return s.queryTokens(ctx, `
		SELECT `+tokenColumns+`
		FROM queue_tokens
		WHERE issued_date = $1::date
			AND visit_id IS NULL
			AND status IN ('waiting', 'called', 'serving')
		ORDER BY token_number ASC
		LIMIT $2
	`, day, listLimit(limit))
}

func (s *Store) ListStaleTokens(ctx context.Context, before string, limit int) ([]models.Token, error) {
	return s.queryTokens(ctx, `
		SELECT `+tokenColumns+`
		FROM queue_tokens
		WHERE issued_date < $1::date
			AND status IN ('waiting', 'called', 'serving')
		ORDER BY issued_date ASC, token_number ASC
		LIMIT $2
	`, before, listLimit(limit))
}

func (s *Store) ListTokenEvents(ctx context.Context, tokenID uuid.UUID) ([]store.TokenEvent, error) {
	if _, err := s.GetToken(ctx, tokenID); err != nil {
		return nil, err
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT token_id, seq, type, payload, created_at, prev_hash, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY seq ASC
	`, tokenID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var events []store.TokenEvent
	for rows.Next() {
		var event store.TokenEvent
		if err := rows.Scan(&event.TokenID, &event.Seq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, mapError(err)
		}
		events = append(events, event)
	}
	return events, mapError(rows.Err())
}

// insertTokenEvent appends to the token's hash chain. The advisory lock
// serializes appenders for one token within concurrent transactions.
func insertTokenEvent(ctx context.Context, q querier, token models.Token, eventType string) error {
	payload, err := store.TokenEventPayload(token)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, token.ID.String()); err != nil {
		return mapError(err)
	}

	var lastSeq int
	var prevHash sql.NullString
	row := q.QueryRow(ctx, `
		SELECT seq, hash
		FROM token_events
		WHERE token_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, token.ID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return mapError(err)
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// timestamptz keeps microseconds; hash what will be read back.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeTokenEventHash(prev, token.ID, eventType, payload, createdAt, nextSeq)

	_, err = q.Exec(ctx, `
		INSERT INTO token_events (token_id, seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, token.ID, nextSeq, eventType, payload, createdAt, prev, hash)
	return mapError(err)
}

// Appointments

const appointmentColumns = `id, patient_id, doctor_id, to_char(appointment_date, 'YYYY-MM-DD'), appointment_time,
	duration_minutes, status, created_at, updated_at`

func scanAppointment(row scanner) (models.Appointment, error) {
	var appointment models.Appointment
	var status string
	if err := row.Scan(&appointment.ID, &appointment.PatientID, &appointment.DoctorID, &appointment.Date, &appointment.Time,
		&appointment.DurationMinutes, &status, &appointment.CreatedAt, &appointment.UpdatedAt); err != nil {
		return models.Appointment{}, err
	}
	appointment.Status = models.AppointmentStatus(status)
	return appointment, nil
}

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
	status := input.Status
	if status == "" {
		status = models.AppointmentScheduled
	}
	createdAt := stamp(input.CreatedAt)
	appointment, err := scanAppointment(s.q(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, appointment_time, duration_minutes, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8, $8)
		RETURNING `+appointmentColumns,
		uuid.New(), input.PatientID, input.DoctorID, input.Date, input.Time, input.DurationMinutes, string(status), createdAt))
	if err != nil {
		return models.Appointment{}, mapError(err)
	}
	return appointment, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (models.Appointment, error) {
	appointment, err := scanAppointment(s.q(ctx).QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, store.ErrAppointmentNotFound
		}
		return models.Appointment{}, mapError(err)
	}
	return appointment, nil
}

func (s *Store) UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, from []models.AppointmentStatus, to models.AppointmentStatus, at time.Time) (models.Appointment, error) {
	if len(from) == 0 || !to.Valid() {
		return models.Appointment{}, store.ErrInvalidState
	}
	q := s.q(ctx)
	appointment, err := scanAppointment(q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
		RETURNING `+appointmentColumns,
		string(to), stamp(at), appointmentID, statusStrings(from)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Appointment{}, changedOrMissing(ctx, q, "appointments", "appointment", appointmentID, store.ErrAppointmentNotFound)
		}
		return models.Appointment{}, mapError(err)
	}
	return appointment, nil
}

const entryColumns = `id, appointment_id, to_char(queue_date, 'YYYY-MM-DD'), doctor_id, position, status, created_at, updated_at`

func scanEntry(row scanner) (models.QueueEntry, error) {
	var entry models.QueueEntry
	var status string
	if err := row.Scan(&entry.ID, &entry.AppointmentID, &entry.QueueDate, &entry.DoctorID, &entry.Position, &status,
		&entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return models.QueueEntry{}, err
	}
	entry.Status = models.QueueEntryStatus(status)
	return entry, nil
}

func (s *Store) FindQueueEntry(ctx context.Context, appointmentID uuid.UUID) (models.QueueEntry, bool, error) {
	entry, err := scanEntry(s.q(ctx).QueryRow(ctx, `
		SELECT `+entryColumns+` FROM appointment_queue_entries WHERE appointment_id = $1
	`, appointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, false, nil
		}
		return models.QueueEntry{}, false, mapError(err)
	}
	return entry, true, nil
}

// CreateQueueEntry appends the appointment after the highest position for
// its doctor and day. A concurrent append surfaces as ErrDuplicatePosition.
func (s *Store) CreateQueueEntry(ctx context.Context, input store.CreateQueueEntryInput) (models.QueueEntry, error) {
	createdAt := stamp(input.CreatedAt)
	var entry models.QueueEntry
	err := s.InTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = scanEntry(s.q(ctx).QueryRow(ctx, `
			INSERT INTO appointment_queue_entries (id, appointment_id, queue_date, doctor_id, position, status, created_at, updated_at)
			SELECT $1::uuid, $2::uuid, $3::date, $4::uuid, COALESCE(MAX(position), 0) + 1, 'queued', $5::timestamptz, $5::timestamptz
			FROM appointment_queue_entries
			WHERE queue_date = $3::date AND doctor_id = $4::uuid
			RETURNING `+entryColumns,
			uuid.New(), input.AppointmentID, input.QueueDate, input.DoctorID, createdAt))
		return mapError(err)
	})
	return entry, err
}

func (s *Store) UpdateQueueEntryStatus(ctx context.Context, entryID uuid.UUID, from []models.QueueEntryStatus, to models.QueueEntryStatus, at time.Time) (models.QueueEntry, error) {
	if err := store.CheckFromStatuses(from, to, store.ValidQueueEntryTransition); err != nil {
		return models.QueueEntry{}, err
	}
	q := s.q(ctx)
	entry, err := scanEntry(q.QueryRow(ctx, `
		UPDATE appointment_queue_entries
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
		RETURNING `+entryColumns,
		string(to), stamp(at), entryID, statusStrings(from)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueEntry{}, changedOrMissing(ctx, q, "appointment_queue_entries", "queue entry", entryID, store.ErrQueueEntryNotFound)
		}
		return models.QueueEntry{}, mapError(err)
	}
	return entry, nil
}

func (s *Store) ListStaleQueueEntries(ctx context.Context, before string, limit int) ([]models.QueueEntry, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT e.id, e.appointment_id, to_char(e.queue_date, 'YYYY-MM-DD'), e.doctor_id, e.position, e.status, e.created_at, e.updated_at
		FROM appointment_queue_entries e
		JOIN appointments a ON a.id = e.appointment_id
		WHERE e.status = 'queued' AND a.appointment_date < $1::date
		ORDER BY e.queue_date ASC, e.position ASC
		LIMIT $2
	`, before, listLimit(limit))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, mapError(err)
		}
		entries = append(entries, entry)
	}
	return entries, mapError(rows.Err())
}

// Settings

func (s *Store) GetClinicSettings(ctx context.Context) (models.ClinicSettings, bool, error) {
	var settings models.ClinicSettings
	err := s.q(ctx).QueryRow(ctx, `
		SELECT timezone, numbering_scope, stale_entry_policy, updated_at
		FROM clinic_settings
		WHERE id = 1
	`).Scan(&settings.Timezone, &settings.NumberingScope, &settings.StaleEntryPolicy, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ClinicSettings{}, false, nil
		}
		return models.ClinicSettings{}, false, mapError(err)
	}
	return settings, true, nil
}

func (s *Store) SaveClinicSettings(ctx context.Context, settings models.ClinicSettings) (models.ClinicSettings, error) {
	var saved models.ClinicSettings
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO clinic_settings (id, timezone, numbering_scope, stale_entry_policy, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET timezone = EXCLUDED.timezone,
			numbering_scope = EXCLUDED.numbering_scope,
			stale_entry_policy = EXCLUDED.stale_entry_policy,
			updated_at = EXCLUDED.updated_at
		RETURNING timezone, numbering_scope, stale_entry_policy, updated_at
	`, settings.Timezone, settings.NumberingScope, settings.StaleEntryPolicy).
		Scan(&saved.Timezone, &saved.NumberingScope, &saved.StaleEntryPolicy, &saved.UpdatedAt)
	if err != nil {
		return models.ClinicSettings{}, mapError(err)
	}
	return saved, nil
}

// changedOrMissing explains a conditional update that matched no row.
func changedOrMissing(ctx context.Context, q querier, table, entity string, id uuid.UUID, notFound error) error {
	var status string
	err := q.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, table), id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound
		}
		return mapError(err)
	}
	return &store.StatusChangedError{Entity: entity, Observed: status}
}

var uniqueViolations = map[string]error{
	"queue_tokens_number_unique":                   store.ErrDuplicateTokenNumber,
	"queue_tokens_one_live_per_patient_day":        store.ErrActiveTokenExists,
	"visits_one_open_per_patient_day":              store.ErrOpenVisitExists,
	"appointment_queue_entries_appointment_unique": store.ErrQueueEntryExists,
	"appointment_queue_entries_position_unique":    store.ErrDuplicatePosition,
}

// mapError turns driver errors into store sentinels: unique violations by
// constraint name, serialization failures and dropped connections as
// ErrTransient.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if sentinel, ok := uniqueViolations[pgErr.ConstraintName]; ok {
				return sentinel
			}
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w", store.ErrTransient, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

func stamp(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now().UTC()
	}
	return at.UTC()
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, status := range statuses {
		out[i] = string(status)
	}
	return out
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func nullUUIDPtr(value uuid.NullUUID) *uuid.UUID {
	if !value.Valid {
		return nil
	}
	id := value.UUID
	return &id
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	return &value.Time
}
