package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/clock"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store/memory"
)

const (
	today     = "2026-10-19"
	yesterday = "2026-10-18"
)

type fixedSettings models.ClinicSettings

func (f fixedSettings) Get(context.Context) (models.ClinicSettings, error) {
	return models.ClinicSettings(f), nil
}

type harness struct {
	orch  *Orchestrator
	store *memory.Store
	clock *clock.ManagedClock
}

func newHarness(t *testing.T, settings models.ClinicSettings, wrap func(*memory.Store) store.Store) harness {
	t.Helper()
	mem := memory.NewStore()
	var st store.Store = mem
	if wrap != nil {
		st = wrap(mem)
	}
	mc := clock.NewManaged(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	orch := NewOrchestrator(st, clock.NewCalendar(mc), fixedSettings(settings), zerolog.Nop(), Config{MaxAttempts: 3, BatchSize: 2})
	return harness{orch: orch, store: mem, clock: mc}
}

func defaultSettings() models.ClinicSettings {
	return models.ClinicSettings{Timezone: "UTC", NumberingScope: models.ScopeGlobal, StaleEntryPolicy: models.StalePolicyCompleted}
}

func (h harness) appointment(t *testing.T, date string, status models.AppointmentStatus) models.Appointment {
	t.Helper()
	appointment, err := h.store.CreateAppointment(context.Background(), store.CreateAppointmentInput{
		PatientID:       uuid.New(),
		DoctorID:        uuid.New(),
		Date:            date,
		Time:            "09:30",
		DurationMinutes: 15,
		Status:          status,
	})
	require.NoError(t, err)
	return appointment
}

func walkIn() IssueRequest {
	return IssueRequest{PatientID: uuid.New(), DoctorID: uuid.New()}
}

func TestIssueTokenCreatesVisitAndWaitingToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)

	token, err := h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)
	assert.Equal(t, models.TokenWaiting, token.Status)
	assert.Equal(t, 1, token.TokenNumber)
	assert.Equal(t, today, token.IssuedDate)
	require.NotNil(t, token.VisitID)

	visit, err := h.store.GetVisit(ctx, *token.VisitID)
	require.NoError(t, err)
	assert.Equal(t, models.VisitInProgress, visit.Status)
	assert.Equal(t, models.PaymentPending, visit.PaymentStatus)
	assert.Equal(t, models.VisitTypeWalkIn, visit.VisitType)
}

func TestIssueTokenRejectsSecondLiveToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	req := walkIn()

	_, err := h.orch.IssueToken(ctx, req)
	require.NoError(t, err)

	_, err = h.orch.IssueToken(ctx, req)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.False(t, IsRetriable(err))
}

func TestIssueTokenUnknownAppointment(t *testing.T) {
	h := newHarness(t, defaultSettings(), nil)
	missing := uuid.New()
	req := walkIn()
	req.AppointmentID = &missing

	_, err := h.orch.IssueToken(context.Background(), req)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "appointment", notFound.Entity)
}

// crashingStore fails token persistence a fixed number of times.
type crashingStore struct {
	*memory.Store
	failures int
}

func (s *crashingStore) CreateToken(ctx context.Context, input store.CreateTokenInput) (models.Token, error) {
	if s.failures > 0 {
		s.failures--
		return models.Token{}, errors.New("connection reset by peer")
	}
	return s.Store.CreateToken(ctx, input)
}

func TestIssueTokenReusesOpenVisitAfterCrash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), func(m *memory.Store) store.Store {
		return &crashingStore{Store: m, failures: 1}
	})
	req := walkIn()

	_, err := h.orch.IssueToken(ctx, req)
	require.Error(t, err)
	assert.True(t, IsRetriable(err))

	stranded, found, err := h.store.FindOpenVisit(ctx, req.PatientID, today)
	require.NoError(t, err)
	require.True(t, found, "the visit created before the crash stays open")

	token, err := h.orch.IssueToken(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, token.VisitID)
	assert.Equal(t, stranded.ID, *token.VisitID)

	report, err := h.orch.Reconcile(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, report.OrphansFixed)
}

func TestNumberingIsMonotonicWithCancellations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)

	seen := make(map[int]bool)
	var issued []models.Token
	for i := 0; i < 5; i++ {
		token, err := h.orch.IssueToken(ctx, walkIn())
		require.NoError(t, err)
		issued = append(issued, token)
	}
	for _, token := range issued[1:3] {
		_, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: token.ID, Action: ActionCancel, Role: RoleReceptionist})
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		token, err := h.orch.IssueToken(ctx, walkIn())
		require.NoError(t, err)
		issued = append(issued, token)
	}

	for i, token := range issued {
		assert.False(t, seen[token.TokenNumber], "token number %d reissued", token.TokenNumber)
		seen[token.TokenNumber] = true
		assert.Equal(t, i+1, token.TokenNumber)
	}
}

func TestDoctorScopedNumbering(t *testing.T) {
	ctx := context.Background()
	settings := defaultSettings()
	settings.NumberingScope = models.ScopeDoctor
	h := newHarness(t, settings, nil)

	doctorA, doctorB := uuid.New(), uuid.New()
	first, err := h.orch.IssueToken(ctx, IssueRequest{PatientID: uuid.New(), DoctorID: doctorA})
	require.NoError(t, err)
	second, err := h.orch.IssueToken(ctx, IssueRequest{PatientID: uuid.New(), DoctorID: doctorB})
	require.NoError(t, err)
	third, err := h.orch.IssueToken(ctx, IssueRequest{PatientID: uuid.New(), DoctorID: doctorA})
	require.NoError(t, err)

	assert.Equal(t, 1, first.TokenNumber)
	assert.Equal(t, 1, second.TokenNumber)
	assert.Equal(t, 2, third.TokenNumber)

	pos, err := h.orch.Position(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos.Ahead, "only doctor A's queue counts")
}

// staleNumberStore hands out an already-used number, as a concurrent issuer
// that read the same maximum would.
type staleNumberStore struct {
	*memory.Store
	stale int
}

func (s *staleNumberStore) NextTokenNumber(ctx context.Context, day, scope string) (int, error) {
	if s.stale > 0 {
		s.stale--
		return 1, nil
	}
	return s.Store.NextTokenNumber(ctx, day, scope)
}

func TestIssueTokenRetriesOnceOnNumberCollision(t *testing.T) {
	ctx := context.Background()
	var wrapped *staleNumberStore
	h := newHarness(t, defaultSettings(), func(m *memory.Store) store.Store {
		wrapped = &staleNumberStore{Store: m}
		return wrapped
	})

	_, err := h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)

	wrapped.stale = 1
	token, err := h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)
	assert.Equal(t, 2, token.TokenNumber)

	wrapped.stale = 2
	_, err = h.orch.IssueToken(ctx, walkIn())
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.ErrorIs(t, err, store.ErrDuplicateTokenNumber)
}

func TestAppointmentHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	require.NoError(t, err)
	require.NotNil(t, state.Token)
	require.NotNil(t, state.Visit)
	require.NotNil(t, state.QueueEntry)
	assert.Equal(t, models.AppointmentReady, state.Appointment.Status)
	assert.Equal(t, models.TokenWaiting, state.Token.Status)
	assert.Equal(t, models.VisitInProgress, state.Visit.Status)
	assert.Equal(t, models.VisitTypeAppointment, state.Visit.VisitType)
	assert.Equal(t, models.EntryQueued, state.QueueEntry.Status)
	assert.Equal(t, 1, state.QueueEntry.Position)
	assert.Empty(t, state.Actions, "receptionist has nothing to do on a ready appointment")
	tokenID := state.Token.ID

	state, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionConsulting, Role: RoleDoctor})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentConsulting, state.Appointment.Status)
	assert.Equal(t, models.TokenServing, state.Token.Status)
	assert.Equal(t, models.EntryInProgress, state.QueueEntry.Status)
	assert.ElementsMatch(t, []Action{ActionCompleted, ActionNoShow}, state.Actions)

	state, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionCompleted, Role: RoleDoctor})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentCompleted, state.Appointment.Status)
	assert.Equal(t, tokenID, state.Token.ID)
	assert.Equal(t, models.TokenDone, state.Token.Status)
	assert.Equal(t, models.VisitCompleted, state.Visit.Status)
	assert.Equal(t, models.EntryCompleted, state.QueueEntry.Status)
	assert.Equal(t, 1, state.QueueEntry.Position)
	assert.Empty(t, state.Actions)
}

func TestNursePathReachesDoctor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	steps := []struct {
		role   Role
		action Action
		token  models.TokenStatus
	}{
		{RoleReceptionist, ActionReady, models.TokenWaiting},
		{RoleNurse, ActionVitalsTaken, models.TokenCalled},
		{RoleNurse, ActionReadyForDoctor, models.TokenCalled},
		{RoleDoctor, ActionConsulting, models.TokenServing},
		{RoleDoctor, ActionCompleted, models.TokenDone},
	}
	for _, step := range steps {
		state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: step.action, Role: step.role})
		require.NoError(t, err, "%s %s", step.role, step.action)
		assert.Equal(t, step.action.Target(), state.Appointment.Status)
		token, found, err := h.store.FindAppointmentToken(ctx, appointment.ID, today)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, step.token, token.Status, "after %s", step.action)
	}
}

func TestNoShowCancelsTokenAndVisit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	_, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	require.NoError(t, err)
	state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionNoShow, Role: RoleDoctor})
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentNoShow, state.Appointment.Status)
	assert.Equal(t, models.TokenCancelled, state.Token.Status)
	assert.Equal(t, models.VisitCancelled, state.Visit.Status)
	assert.Equal(t, models.EntryCompleted, state.QueueEntry.Status)

	_, found, err := h.store.FindActiveToken(ctx, appointment.PatientID, today)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWalkInTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	token, err := h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)

	for _, step := range []struct {
		role   Role
		action Action
		status models.TokenStatus
	}{
		{RoleNurse, ActionCall, models.TokenCalled},
		{RoleDoctor, ActionServe, models.TokenServing},
		{RoleDoctor, ActionComplete, models.TokenDone},
	} {
		state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: token.ID, Action: step.action, Role: step.role})
		require.NoError(t, err)
		assert.Equal(t, step.status, state.Token.Status)
	}

	visit, err := h.store.GetVisit(ctx, *token.VisitID)
	require.NoError(t, err)
	assert.Equal(t, models.VisitCompleted, visit.Status)
}

func TestTokenCompleteFinishesLinkedAppointment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	require.NoError(t, err)
	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionConsulting, Role: RoleDoctor})
	require.NoError(t, err)

	done, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: state.Token.ID, Action: ActionComplete, Role: RoleDoctor})
	require.NoError(t, err)
	assert.Equal(t, models.TokenDone, done.Token.Status)
	require.NotNil(t, done.Appointment)
	assert.Equal(t, models.AppointmentCompleted, done.Appointment.Status)
	assert.Equal(t, models.EntryCompleted, done.QueueEntry.Status)
	assert.Equal(t, models.VisitCompleted, done.Visit.Status)
}

func TestTokenCancelCancelsVisit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	token, err := h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)

	state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: token.ID, Action: ActionCancel, Role: RoleDoctor})
	require.NoError(t, err)
	assert.Equal(t, models.TokenCancelled, state.Token.Status)
	require.NotNil(t, state.Visit)
	assert.Equal(t, models.VisitCancelled, state.Visit.Status)
}

func TestActionAddressesWrongEntityKind(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)
	token, err := h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)

	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionCall, Role: RoleNurse})
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "token", notFound.Entity)

	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: token.ID, Action: ActionReady, Role: RoleReceptionist})
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "appointment", notFound.Entity)
}

func TestUnknownRoleOrActionIsForbidden(t *testing.T) {
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	var forbidden *ForbiddenTransitionError
	_, err := h.orch.ApplyTransition(context.Background(), TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: "janitor"})
	require.ErrorAs(t, err, &forbidden)
	_, err = h.orch.ApplyTransition(context.Background(), TransitionRequest{EntityID: appointment.ID, Action: "teleport", Role: RoleDoctor})
	require.ErrorAs(t, err, &forbidden)
}

// staleReadStore returns tokens as they were before a concurrent writer
// called them.
type staleReadStore struct {
	*memory.Store
}

func (s *staleReadStore) GetToken(ctx context.Context, tokenID uuid.UUID) (models.Token, error) {
	token, err := s.Store.GetToken(ctx, tokenID)
	if err == nil && token.Status == models.TokenCalled {
		token.Status = models.TokenWaiting
	}
	return token, err
}

func TestConcurrentChangeReportsObservedStatus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), func(m *memory.Store) store.Store {
		return &staleReadStore{Store: m}
	})
	token, err := h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)
	_, err = h.store.UpdateTokenStatus(ctx, token.ID, []models.TokenStatus{models.TokenWaiting}, models.TokenCalled, time.Time{})
	require.NoError(t, err)

	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: token.ID, Action: ActionCall, Role: RoleReceptionist})
	var forbidden *ForbiddenTransitionError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, string(models.TokenCalled), forbidden.Observed)
}

// flakyStore fails appointment writes transiently a fixed number of times.
type flakyStore struct {
	*memory.Store
	failures int
	calls    int
}

func (s *flakyStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []models.AppointmentStatus, to models.AppointmentStatus, at time.Time) (models.Appointment, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return models.Appointment{}, fmt.Errorf("serialization failure: %w", store.ErrTransient)
	}
	return s.Store.UpdateAppointmentStatus(ctx, id, from, to, at)
}

func TestTransitionRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	var flaky *flakyStore
	h := newHarness(t, defaultSettings(), func(m *memory.Store) store.Store {
		flaky = &flakyStore{Store: m, failures: 2}
		return flaky
	})
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, models.AppointmentReady, state.Appointment.Status)

	next := h.appointment(t, today, models.AppointmentScheduled)
	flaky.failures = 5
	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: next.ID, Action: ActionLate, Role: RoleReceptionist})
	require.Error(t, err)
	assert.True(t, IsRetriable(err))
	assert.ErrorIs(t, err, store.ErrTransient)
}

// brokenQueueStore cannot create queue entries.
type brokenQueueStore struct {
	*memory.Store
}

func (s *brokenQueueStore) CreateQueueEntry(context.Context, store.CreateQueueEntryInput) (models.QueueEntry, error) {
	return models.QueueEntry{}, errors.New("disk full")
}

func TestFailedCoupledWriteLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), func(m *memory.Store) store.Store {
		return &brokenQueueStore{Store: m}
	})
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	_, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	require.Error(t, err)

	reloaded, err := h.store.GetAppointment(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentScheduled, reloaded.Status)
	_, found, err := h.store.FindActiveToken(ctx, appointment.PatientID, today)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = h.store.FindOpenVisit(ctx, appointment.PatientID, today)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReadyConflictsWithUnrelatedLiveToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)
	_, err := h.orch.IssueToken(ctx, IssueRequest{PatientID: appointment.PatientID, DoctorID: appointment.DoctorID})
	require.NoError(t, err)

	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestReadyRejectsAppointmentFromAnotherDay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, yesterday, models.AppointmentScheduled)

	_, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	unchanged, err := h.store.GetAppointment(ctx, appointment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AppointmentScheduled, unchanged.Status)
	_, found, err := h.store.FindActiveToken(ctx, appointment.PatientID, today)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = h.store.FindQueueEntry(ctx, appointment.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLateThenReadyKeepsSingleToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	appointment := h.appointment(t, today, models.AppointmentScheduled)

	_, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionLate, Role: RoleReceptionist})
	require.NoError(t, err)
	first, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionReady, Role: RoleReceptionist})
	require.NoError(t, err)
	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: ActionLate, Role: RoleDoctor})
	var forbidden *ForbiddenTransitionError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, string(models.AppointmentReady), forbidden.Status)

	queue, err := h.orch.Queue(ctx, nil)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, first.Token.ID, queue[0].ID)
}

func TestPositionCountsLiveTokensAhead(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)

	var tokens []models.Token
	for i := 0; i < 4; i++ {
		token, err := h.orch.IssueToken(ctx, walkIn())
		require.NoError(t, err)
		tokens = append(tokens, token)
	}
	_, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: tokens[0].ID, Action: ActionCall, Role: RoleDoctor})
	require.NoError(t, err)
	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: tokens[0].ID, Action: ActionServe, Role: RoleDoctor})
	require.NoError(t, err)
	_, err = h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: tokens[1].ID, Action: ActionCancel, Role: RoleReceptionist})
	require.NoError(t, err)

	pos, err := h.orch.Position(ctx, tokens[3].ID)
	require.NoError(t, err)
	assert.Equal(t, 4, pos.TokenNumber)
	assert.Equal(t, 1, pos.Ahead)
	assert.Nil(t, pos.QueueEntryPosition)

	serving, err := h.orch.Position(ctx, tokens[0].ID)
	require.NoError(t, err)
	assert.Zero(t, serving.Ahead)

	_, err = h.orch.Position(ctx, uuid.New())
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestQueueFiltersByDoctor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, defaultSettings(), nil)
	doctor := uuid.New()

	_, err := h.orch.IssueToken(ctx, IssueRequest{PatientID: uuid.New(), DoctorID: doctor})
	require.NoError(t, err)
	_, err = h.orch.IssueToken(ctx, walkIn())
	require.NoError(t, err)

	all, err := h.orch.Queue(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Less(t, all[0].TokenNumber, all[1].TokenNumber)

	mine, err := h.orch.Queue(ctx, &doctor)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, doctor, mine[0].DoctorID)
}
