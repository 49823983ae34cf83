package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

var appointmentActionList = []Action{
	ActionReady, ActionLate, ActionNoShow, ActionVitalsTaken, ActionReadyForDoctor, ActionConsulting, ActionCompleted,
}

var tokenActionList = []Action{ActionCall, ActionServe, ActionComplete, ActionCancel}

// permittedAppointment is the role table written out pair by pair.
var permittedAppointment = map[string]bool{
	"receptionist/scheduled/ready":          true,
	"receptionist/scheduled/late":           true,
	"receptionist/scheduled/no-show":        true,
	"receptionist/late/ready":               true,
	"receptionist/late/no-show":             true,
	"receptionist/vitals-taken/ready":       true,
	"receptionist/vitals-taken/late":        true,
	"receptionist/vitals-taken/no-show":     true,
	"receptionist/ready-for-doctor/ready":   true,
	"receptionist/ready-for-doctor/late":    true,
	"receptionist/ready-for-doctor/no-show": true,
	"receptionist/consulting/ready":         true,
	"receptionist/consulting/late":          true,
	"receptionist/consulting/no-show":       true,
	"nurse/ready/vitals-taken":              true,
	"nurse/vitals-taken/ready-for-doctor":   true,
	"doctor/scheduled/no-show":              true,
	"doctor/ready/consulting":               true,
	"doctor/ready/no-show":                  true,
	"doctor/late/no-show":                   true,
	"doctor/vitals-taken/no-show":           true,
	"doctor/ready-for-doctor/consulting":    true,
	"doctor/ready-for-doctor/no-show":       true,
	"doctor/consulting/completed":           true,
	"doctor/consulting/no-show":             true,
}

var permittedToken = map[string]bool{
	"receptionist/waiting/call":   true,
	"receptionist/waiting/cancel": true,
	"receptionist/called/cancel":  true,
	"nurse/waiting/call":          true,
	"doctor/waiting/call":         true,
	"doctor/waiting/cancel":       true,
	"doctor/called/serve":         true,
	"doctor/called/cancel":        true,
	"doctor/serving/complete":     true,
}

func TestAppointmentTableIsComplete(t *testing.T) {
	ctx := context.Background()
	for _, role := range Roles {
		for _, status := range models.AppointmentStatuses {
			for _, action := range appointmentActionList {
				key := fmt.Sprintf("%s/%s/%s", role, status, action)
				t.Run(key, func(t *testing.T) {
					h := newHarness(t, defaultSettings(), nil)
					appointment := h.appointment(t, today, status)

					state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: appointment.ID, Action: action, Role: role})
					if permittedAppointment[key] {
						require.NoError(t, err)
						assert.Equal(t, action.Target(), state.Appointment.Status)
						return
					}
					var forbidden *ForbiddenTransitionError
					require.ErrorAs(t, err, &forbidden)
					assert.Equal(t, string(status), forbidden.Status)

					reloaded, err := h.store.GetAppointment(ctx, appointment.ID)
					require.NoError(t, err)
					assert.Equal(t, status, reloaded.Status)
				})
			}
		}
	}
}

func TestTokenTableIsComplete(t *testing.T) {
	ctx := context.Background()
	statuses := []models.TokenStatus{models.TokenWaiting, models.TokenCalled, models.TokenServing, models.TokenDone, models.TokenCancelled}
	paths := map[models.TokenStatus][]models.TokenStatus{
		models.TokenWaiting:   nil,
		models.TokenCalled:    {models.TokenCalled},
		models.TokenServing:   {models.TokenCalled, models.TokenServing},
		models.TokenDone:      {models.TokenCalled, models.TokenServing, models.TokenDone},
		models.TokenCancelled: {models.TokenCancelled},
	}
	for _, role := range Roles {
		for _, status := range statuses {
			for _, action := range tokenActionList {
				key := fmt.Sprintf("%s/%s/%s", role, status, action)
				t.Run(key, func(t *testing.T) {
					h := newHarness(t, defaultSettings(), nil)
					token, err := h.orch.IssueToken(ctx, walkIn())
					require.NoError(t, err)
					for _, next := range paths[status] {
						token, err = h.store.UpdateTokenStatus(ctx, token.ID, []models.TokenStatus{token.Status}, next, time.Time{})
						require.NoError(t, err)
					}

					state, err := h.orch.ApplyTransition(ctx, TransitionRequest{EntityID: token.ID, Action: action, Role: role})
					if permittedToken[key] {
						require.NoError(t, err)
						assert.Equal(t, tokenTargets[action], state.Token.Status)
						return
					}
					var forbidden *ForbiddenTransitionError
					require.ErrorAs(t, err, &forbidden)
					assert.Equal(t, string(status), forbidden.Status)
				})
			}
		}
	}
}

func TestTablesOnlyNameReachableStatuses(t *testing.T) {
	for _, rule := range tokenTable {
		for _, action := range rule.actions {
			assert.True(t, store.ValidTokenTransition(rule.status, tokenTargets[action]), "%s %s from %s", rule.role, action, rule.status)
		}
	}
	for _, rule := range appointmentTable {
		assert.False(t, rule.status.Terminal(), "terminal status %s must not permit actions", rule.status)
		for _, action := range rule.actions {
			assert.Equal(t, KindAppointment, action.Kind())
			assert.NotEqual(t, rule.status, action.Target(), "self transition listed for %s", rule.role)
		}
	}
}

func TestResolveActions(t *testing.T) {
	actions, err := ResolveActions(RoleDoctor, KindAppointment, "consulting")
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionCompleted, ActionNoShow}, actions)

	actions, err = ResolveActions(RoleCashier, KindAppointment, "ready")
	require.NoError(t, err)
	assert.Empty(t, actions)

	actions, err = ResolveActions(RoleReceptionist, KindToken, "called")
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionCancel}, actions)

	_, err = ResolveActions(RoleDoctor, KindAppointment, "teleported")
	assert.Error(t, err)
	_, err = ResolveActions(RoleDoctor, "invoice", "ready")
	assert.Error(t, err)
}

func TestParseRoleAndAction(t *testing.T) {
	role, err := ParseRole(" Doctor ")
	require.NoError(t, err)
	assert.Equal(t, RoleDoctor, role)
	_, err = ParseRole("janitor")
	assert.Error(t, err)

	action, err := ParseAction("NO-SHOW")
	require.NoError(t, err)
	assert.Equal(t, ActionNoShow, action)
	assert.Equal(t, KindAppointment, action.Kind())
	_, err = ParseAction("hold")
	assert.Error(t, err)
}
