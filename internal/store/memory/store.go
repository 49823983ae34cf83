// Package memory is an in-process implementation of store.Store with the same
// uniqueness rules as the Postgres schema. Transactions are serialized and
// rolled back by restoring a snapshot.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

type txKey struct{}

type state struct {
	visits       map[uuid.UUID]models.Visit
	tokens       map[uuid.UUID]models.Token
	appointments map[uuid.UUID]models.Appointment
	entries      map[uuid.UUID]models.QueueEntry
	events       map[uuid.UUID][]store.TokenEvent
	settings     *models.ClinicSettings
}

type Store struct {
	mu    sync.Mutex
	now   func() time.Time
	state state
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		now: func() time.Time { return time.Now().UTC() },
		state: state{
			visits:       make(map[uuid.UUID]models.Visit),
			tokens:       make(map[uuid.UUID]models.Token),
			appointments: make(map[uuid.UUID]models.Appointment),
			entries:      make(map[uuid.UUID]models.QueueEntry),
			events:       make(map[uuid.UUID][]store.TokenEvent),
		},
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// lock takes the store mutex unless ctx already runs inside one of this
// store's transactions, which hold it for their whole duration.
func (s *Store) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	unlock := s.lock(ctx)
	defer unlock()

	saved := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.state = saved
		return err
	}
	return nil
}

func (st state) clone() state {
	out := state{
		visits:       make(map[uuid.UUID]models.Visit, len(st.visits)),
		tokens:       make(map[uuid.UUID]models.Token, len(st.tokens)),
		appointments: make(map[uuid.UUID]models.Appointment, len(st.appointments)),
		entries:      make(map[uuid.UUID]models.QueueEntry, len(st.entries)),
		events:       make(map[uuid.UUID][]store.TokenEvent, len(st.events)),
	}
	for k, v := range st.visits {
		out.visits[k] = v
	}
	for k, v := range st.tokens {
		out.tokens[k] = v
	}
	for k, v := range st.appointments {
		out.appointments[k] = v
	}
	for k, v := range st.entries {
		out.entries[k] = v
	}
	for k, v := range st.events {
		out.events[k] = append([]store.TokenEvent(nil), v...)
	}
	if st.settings != nil {
		settings := *st.settings
		out.settings = &settings
	}
	return out
}

func (s *Store) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return s.now()
	}
	return at.UTC()
}

// Visits

func (s *Store) FindOpenVisit(ctx context.Context, patientID uuid.UUID, day string) (models.Visit, bool, error) {
	unlock := s.lock(ctx)
	defer unlock()
	visit, ok := s.openVisit(patientID, day)
	return visit, ok, nil
}

func (s *Store) openVisit(patientID uuid.UUID, day string) (models.Visit, bool) {
	for _, visit := range s.state.visits {
		if visit.PatientID == patientID && visit.VisitDate == day && visit.Status == models.VisitInProgress {
			return visit, true
		}
	}
	return models.Visit{}, false
}

func (s *Store) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if _, exists := s.openVisit(input.PatientID, input.VisitDate); exists {
		return models.Visit{}, store.ErrOpenVisitExists
	}
	visitedAt := s.stamp(input.VisitedAt)
	visit := models.Visit{
		ID:            uuid.New(),
		PatientID:     input.PatientID,
		DoctorID:      input.DoctorID,
		AppointmentID: input.AppointmentID,
		VisitType:     input.VisitType,
		VisitDate:     input.VisitDate,
		VisitedAt:     visitedAt,
		Status:        models.VisitInProgress,
		PaymentStatus: models.PaymentPending,
		UpdatedAt:     visitedAt,
	}
	s.state.visits[visit.ID] = visit
	return visit, nil
}

func (s *Store) GetVisit(ctx context.Context, visitID uuid.UUID) (models.Visit, error) {
	unlock := s.lock(ctx)
	defer unlock()
	visit, ok := s.state.visits[visitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	return visit, nil
}

func (s *Store) UpdateVisitStatus(ctx context.Context, visitID uuid.UUID, from []models.VisitStatus, to models.VisitStatus, at time.Time) (models.Visit, error) {
	if err := store.CheckFromStatuses(from, to, store.ValidVisitTransition); err != nil {
		return models.Visit{}, err
	}
	unlock := s.lock(ctx)
	defer unlock()

	visit, ok := s.state.visits[visitID]
	if !ok {
		return models.Visit{}, store.ErrVisitNotFound
	}
	if !store.Contains(from, visit.Status) {
		return models.Visit{}, &store.StatusChangedError{Entity: "visit", Observed: string(visit.Status)}
	}
	when := s.stamp(at)
	visit.Status = to
	visit.UpdatedAt = when
	if to == models.VisitCompleted {
		visit.CompletedAt = &when
	}
	s.state.visits[visitID] = visit
	return visit, nil
}

func (s *Store) ListAbandonedVisits(ctx context.Context, before string, limit int) ([]models.Visit, error) {
	unlock := s.lock(ctx)
	defer unlock()

	referenced := make(map[uuid.UUID]bool)
	for _, token := range s.state.tokens {
		if token.Status.Live() && token.VisitID != nil {
			referenced[*token.VisitID] = true
		}
	}
	var out []models.Visit
	for _, visit := range s.state.visits {
		if visit.Status == models.VisitInProgress && visit.VisitDate < before && !referenced[visit.ID] {
			out = append(out, visit)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VisitedAt.Before(out[j].VisitedAt) })
	return truncate(out, limit), nil
}

// Tokens

func (s *Store) FindActiveToken(ctx context.Context, patientID uuid.UUID, day string) (models.Token, bool, error) {
	unlock := s.lock(ctx)
	defer unlock()
	token, ok := s.activeToken(patientID, day)
	return token, ok, nil
}

func (s *Store) activeToken(patientID uuid.UUID, day string) (models.Token, bool) {
	for _, token := range s.state.tokens {
		if token.PatientID == patientID && token.IssuedDate == day && token.Status.Live() {
			return token, true
		}
	}
	return models.Token{}, false
}

func (s *Store) FindAppointmentToken(ctx context.Context, appointmentID uuid.UUID, day string) (models.Token, bool, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var latest models.Token
	found := false
	for _, token := range s.state.tokens {
		if token.AppointmentID == nil || *token.AppointmentID != appointmentID || token.IssuedDate != day {
			continue
		}
		preferred := !found ||
			(token.Status.Live() && !latest.Status.Live()) ||
			(token.Status.Live() == latest.Status.Live() && token.CreatedAt.After(latest.CreatedAt))
		if preferred {
			latest = token
			found = true
		}
	}
	return latest, found, nil
}

func (s *Store) GetToken(ctx context.Context, tokenID uuid.UUID) (models.Token, error) {
	unlock := s.lock(ctx)
	defer unlock()
	token, ok := s.state.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	return token, nil
}

func (s *Store) NextTokenNumber(ctx context.Context, day, scope string) (int, error) {
	unlock := s.lock(ctx)
	defer unlock()

	highest := 0
	for _, token := range s.state.tokens {
		if token.IssuedDate == day && token.Scope == scope && token.TokenNumber > highest {
			highest = token.TokenNumber
		}
	}
	return highest + 1, nil
}

func (s *Store) CreateToken(ctx context.Context, input store.CreateTokenInput) (models.Token, error) {
	unlock := s.lock(ctx)
	defer unlock()

	for _, token := range s.state.tokens {
		if token.IssuedDate == input.IssuedDate && token.Scope == input.Scope && token.TokenNumber == input.TokenNumber {
			return models.Token{}, store.ErrDuplicateTokenNumber
		}
	}
	if _, exists := s.activeToken(input.PatientID, input.IssuedDate); exists {
		return models.Token{}, store.ErrActiveTokenExists
	}
	createdAt := s.stamp(input.CreatedAt)
	token := models.Token{
		ID:            uuid.New(),
		TokenNumber:   input.TokenNumber,
		Scope:         input.Scope,
		PatientID:     input.PatientID,
		DoctorID:      input.DoctorID,
		AppointmentID: input.AppointmentID,
		VisitID:       input.VisitID,
		Status:        models.TokenWaiting,
		IssuedDate:    input.IssuedDate,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	s.state.tokens[token.ID] = token
	if err := s.appendEvent(token, store.TokenEventIssued, createdAt); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) UpdateTokenStatus(ctx context.Context, tokenID uuid.UUID, from []models.TokenStatus, to models.TokenStatus, at time.Time) (models.Token, error) {
	if err := store.CheckFromStatuses(from, to, store.ValidTokenTransition); err != nil {
		return models.Token{}, err
	}
	unlock := s.lock(ctx)
	defer unlock()

	token, ok := s.state.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if !store.Contains(from, token.Status) {
		return models.Token{}, &store.StatusChangedError{Entity: "token", Observed: string(token.Status)}
	}
	when := s.stamp(at)
	token.Status = to
	token.UpdatedAt = when
	switch to {
	case models.TokenCalled:
		token.CalledAt = &when
	case models.TokenServing:
		token.ServedAt = &when
	case models.TokenDone, models.TokenCancelled:
		token.CompletedAt = &when
	}
	s.state.tokens[tokenID] = token
	if err := s.appendEvent(token, store.TokenEventStatus, when); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) LinkTokenVisit(ctx context.Context, tokenID, visitID uuid.UUID, at time.Time) (models.Token, error) {
	unlock := s.lock(ctx)
	defer unlock()

	token, ok := s.state.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	if token.VisitID != nil {
		return models.Token{}, store.ErrVisitAlreadyLinked
	}
	if _, ok := s.state.visits[visitID]; !ok {
		return models.Token{}, store.ErrVisitNotFound
	}
	when := s.stamp(at)
	token.VisitID = &visitID
	token.UpdatedAt = when
	s.state.tokens[tokenID] = token
	if err := s.appendEvent(token, store.TokenEventVisitLinked, when); err != nil {
		return models.Token{}, err
	}
	return token, nil
}

func (s *Store) ListLiveTokens(ctx context.Context, day string, doctorID *uuid.UUID) ([]models.Token, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.Token
	for _, token := range s.state.tokens {
		if token.IssuedDate != day || !token.Status.Live() {
			continue
		}
		if doctorID != nil && token.DoctorID != *doctorID {
			continue
		}
		out = append(out, token)
	}
	sortTokens(out)
	return out, nil
}

func (s *Store) CountAhead(ctx context.Context, day, scope string, tokenNumber int) (int, error) {
	unlock := s.lock(ctx)
	defer unlock()

	ahead := 0
	for _, token := range s.state.tokens {
		if token.IssuedDate != day || token.Scope != scope || token.TokenNumber >= tokenNumber {
			continue
		}
		if token.Status == models.TokenWaiting || token.Status == models.TokenCalled {
			ahead++
		}
	}
	return ahead, nil
}

func (s *Store) ListOrphanTokens(ctx context.Context, day string, limit int) ([]models.Token, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.Token
	for _, token := range s.state.tokens {
		if token.IssuedDate == day && token.Status.Live() && token.VisitID == nil {
			out = append(out, token)
		}
	}
	sortTokens(out)
	return truncate(out, limit), nil
}

func (s *Store) ListStaleTokens(ctx context.Context, before string, limit int) ([]models.Token, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.Token
	for _, token := range s.state.tokens {
		if token.IssuedDate < before && token.Status.Live() {
			out = append(out, token)
		}
	}
	sortTokens(out)
	return truncate(out, limit), nil
}

func (s *Store) ListTokenEvents(ctx context.Context, tokenID uuid.UUID) ([]store.TokenEvent, error) {
	unlock := s.lock(ctx)
	defer unlock()
	if _, ok := s.state.tokens[tokenID]; !ok {
		return nil, store.ErrTokenNotFound
	}
	return append([]store.TokenEvent(nil), s.state.events[tokenID]...), nil
}

func (s *Store) appendEvent(token models.Token, eventType string, at time.Time) error {
	payload, err := store.TokenEventPayload(token)
	if err != nil {
		return err
	}
	existing := s.state.events[token.ID]
	prev := ""
	if len(existing) > 0 {
		prev = existing[len(existing)-1].Hash
	}
	seq := len(existing) + 1
	event := store.TokenEvent{
		TokenID:   token.ID,
		Seq:       seq,
		Type:      eventType,
		Payload:   json.RawMessage(payload),
		CreatedAt: at,
		PrevHash:  prev,
		Hash:      store.ComputeTokenEventHash(prev, token.ID, eventType, payload, at, seq),
	}
	s.state.events[token.ID] = append(existing, event)
	return nil
}

// Appointments

func (s *Store) CreateAppointment(ctx context.Context, input store.CreateAppointmentInput) (models.Appointment, error) {
	unlock := s.lock(ctx)
	defer unlock()

	createdAt := s.stamp(input.CreatedAt)
	status := input.Status
	if status == "" {
		status = models.AppointmentScheduled
	}
	appointment := models.Appointment{
		ID:              uuid.New(),
		PatientID:       input.PatientID,
		DoctorID:        input.DoctorID,
		Date:            input.Date,
		Time:            input.Time,
		DurationMinutes: input.DurationMinutes,
		Status:          status,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
	s.state.appointments[appointment.ID] = appointment
	return appointment, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (models.Appointment, error) {
	unlock := s.lock(ctx)
	defer unlock()
	appointment, ok := s.state.appointments[appointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	return appointment, nil
}

func (s *Store) UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, from []models.AppointmentStatus, to models.AppointmentStatus, at time.Time) (models.Appointment, error) {
	if len(from) == 0 || !to.Valid() {
		return models.Appointment{}, store.ErrInvalidState
	}
	unlock := s.lock(ctx)
	defer unlock()

	appointment, ok := s.state.appointments[appointmentID]
	if !ok {
		return models.Appointment{}, store.ErrAppointmentNotFound
	}
	if !store.Contains(from, appointment.Status) {
		return models.Appointment{}, &store.StatusChangedError{Entity: "appointment", Observed: string(appointment.Status)}
	}
	appointment.Status = to
	appointment.UpdatedAt = s.stamp(at)
	s.state.appointments[appointmentID] = appointment
	return appointment, nil
}

func (s *Store) FindQueueEntry(ctx context.Context, appointmentID uuid.UUID) (models.QueueEntry, bool, error) {
	unlock := s.lock(ctx)
	defer unlock()
	entry, ok := s.entryFor(appointmentID)
	return entry, ok, nil
}

func (s *Store) entryFor(appointmentID uuid.UUID) (models.QueueEntry, bool) {
	for _, entry := range s.state.entries {
		if entry.AppointmentID == appointmentID {
			return entry, true
		}
	}
	return models.QueueEntry{}, false
}

func (s *Store) CreateQueueEntry(ctx context.Context, input store.CreateQueueEntryInput) (models.QueueEntry, error) {
	unlock := s.lock(ctx)
	defer unlock()

	if _, exists := s.entryFor(input.AppointmentID); exists {
		return models.QueueEntry{}, store.ErrQueueEntryExists
	}
	position := 1
	for _, entry := range s.state.entries {
		if entry.QueueDate == input.QueueDate && entry.DoctorID == input.DoctorID && entry.Position >= position {
			position = entry.Position + 1
		}
	}
	createdAt := s.stamp(input.CreatedAt)
	entry := models.QueueEntry{
		ID:            uuid.New(),
		AppointmentID: input.AppointmentID,
		QueueDate:     input.QueueDate,
		DoctorID:      input.DoctorID,
		Position:      position,
		Status:        models.EntryQueued,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
	s.state.entries[entry.ID] = entry
	return entry, nil
}

func (s *Store) UpdateQueueEntryStatus(ctx context.Context, entryID uuid.UUID, from []models.QueueEntryStatus, to models.QueueEntryStatus, at time.Time) (models.QueueEntry, error) {
	if err := store.CheckFromStatuses(from, to, store.ValidQueueEntryTransition); err != nil {
		return models.QueueEntry{}, err
	}
	unlock := s.lock(ctx)
	defer unlock()

	entry, ok := s.state.entries[entryID]
	if !ok {
		return models.QueueEntry{}, store.ErrQueueEntryNotFound
	}
	if !store.Contains(from, entry.Status) {
		return models.QueueEntry{}, &store.StatusChangedError{Entity: "queue entry", Observed: string(entry.Status)}
	}
	entry.Status = to
	entry.UpdatedAt = s.stamp(at)
	s.state.entries[entryID] = entry
	return entry, nil
}

func (s *Store) ListStaleQueueEntries(ctx context.Context, before string, limit int) ([]models.QueueEntry, error) {
	unlock := s.lock(ctx)
	defer unlock()

	var out []models.QueueEntry
	for _, entry := range s.state.entries {
		if entry.Status != models.EntryQueued {
			continue
		}
		date := entry.QueueDate
		if appointment, ok := s.state.appointments[entry.AppointmentID]; ok {
			date = appointment.Date
		}
		if date < before {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].QueueDate != out[j].QueueDate {
			return out[i].QueueDate < out[j].QueueDate
		}
		return out[i].Position < out[j].Position
	})
	return truncate(out, limit), nil
}

// Settings

func (s *Store) GetClinicSettings(ctx context.Context) (models.ClinicSettings, bool, error) {
	unlock := s.lock(ctx)
	defer unlock()
	if s.state.settings == nil {
		return models.ClinicSettings{}, false, nil
	}
	return *s.state.settings, true, nil
}

func (s *Store) SaveClinicSettings(ctx context.Context, settings models.ClinicSettings) (models.ClinicSettings, error) {
	unlock := s.lock(ctx)
	defer unlock()
	settings.UpdatedAt = s.now()
	s.state.settings = &settings
	return settings, nil
}

func sortTokens(tokens []models.Token) {
	sort.Slice(tokens, func(i, j int) bool {
		if tokens[i].IssuedDate != tokens[j].IssuedDate {
			return tokens[i].IssuedDate < tokens[j].IssuedDate
		}
		if tokens[i].TokenNumber != tokens[j].TokenNumber {
			return tokens[i].TokenNumber < tokens[j].TokenNumber
		}
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
