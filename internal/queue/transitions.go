package queue

import (
	"fmt"
	"strings"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
)

type Role string

const (
	RoleReceptionist Role = "receptionist"
	RoleNurse        Role = "nurse"
	RoleDoctor       Role = "doctor"
	RoleCashier      Role = "cashier"
)

var Roles = []Role{RoleReceptionist, RoleNurse, RoleDoctor, RoleCashier}

func ParseRole(value string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Roles {
		if role == known {
			return role, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", value)
}

type Action string

// Appointment actions are named after the status they move the appointment to.
const (
	ActionReady          Action = "ready"
	ActionLate           Action = "late"
	ActionNoShow         Action = "no-show"
	ActionVitalsTaken    Action = "vitals-taken"
	ActionReadyForDoctor Action = "ready-for-doctor"
	ActionConsulting     Action = "consulting"
	ActionCompleted      Action = "completed"
)

const (
	ActionCall     Action = "call"
	ActionServe    Action = "serve"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

type EntityKind string

const (
	KindAppointment EntityKind = "appointment"
	KindToken       EntityKind = "token"
)

func ParseAction(value string) (Action, error) {
	action := Action(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := actionKinds[action]; !ok {
		return "", fmt.Errorf("unknown action %q", value)
	}
	return action, nil
}

var actionKinds = map[Action]EntityKind{
	ActionReady:          KindAppointment,
	ActionLate:           KindAppointment,
	ActionNoShow:         KindAppointment,
	ActionVitalsTaken:    KindAppointment,
	ActionReadyForDoctor: KindAppointment,
	ActionConsulting:     KindAppointment,
	ActionCompleted:      KindAppointment,
	ActionCall:           KindToken,
	ActionServe:          KindToken,
	ActionComplete:       KindToken,
	ActionCancel:         KindToken,
}

// Kind reports which entity the action addresses.
func (a Action) Kind() EntityKind {
	return actionKinds[a]
}

// Target is the appointment status an appointment action moves to.
func (a Action) Target() models.AppointmentStatus {
	return models.AppointmentStatus(a)
}

// tokenTargets maps token actions to the token status they produce.
var tokenTargets = map[Action]models.TokenStatus{
	ActionCall:     models.TokenCalled,
	ActionServe:    models.TokenServing,
	ActionComplete: models.TokenDone,
	ActionCancel:   models.TokenCancelled,
}

type appointmentRule struct {
	status  models.AppointmentStatus
	role    Role
	actions []Action
}

type tokenRule struct {
	status  models.TokenStatus
	role    Role
	actions []Action
}

var receptionistActions = []Action{ActionReady, ActionLate, ActionNoShow}

// appointmentTable enumerates every permitted (status, role) pair. Pairs
// absent from the table permit nothing. Actions equal to the current status
// are not listed.
var appointmentTable = []appointmentRule{
	{models.AppointmentScheduled, RoleReceptionist, receptionistActions},
	{models.AppointmentLate, RoleReceptionist, []Action{ActionReady, ActionNoShow}},
	{models.AppointmentVitalsTaken, RoleReceptionist, receptionistActions},
	{models.AppointmentReadyForDoctor, RoleReceptionist, receptionistActions},
	{models.AppointmentConsulting, RoleReceptionist, receptionistActions},

	{models.AppointmentReady, RoleNurse, []Action{ActionVitalsTaken}},
	{models.AppointmentVitalsTaken, RoleNurse, []Action{ActionReadyForDoctor}},

	{models.AppointmentScheduled, RoleDoctor, []Action{ActionNoShow}},
	{models.AppointmentReady, RoleDoctor, []Action{ActionConsulting, ActionNoShow}},
	{models.AppointmentLate, RoleDoctor, []Action{ActionNoShow}},
	{models.AppointmentVitalsTaken, RoleDoctor, []Action{ActionNoShow}},
	{models.AppointmentReadyForDoctor, RoleDoctor, []Action{ActionConsulting, ActionNoShow}},
	{models.AppointmentConsulting, RoleDoctor, []Action{ActionCompleted, ActionNoShow}},
}

var tokenTable = []tokenRule{
	{models.TokenWaiting, RoleReceptionist, []Action{ActionCall, ActionCancel}},
	{models.TokenCalled, RoleReceptionist, []Action{ActionCancel}},

	{models.TokenWaiting, RoleNurse, []Action{ActionCall}},

	{models.TokenWaiting, RoleDoctor, []Action{ActionCall, ActionCancel}},
	{models.TokenCalled, RoleDoctor, []Action{ActionServe, ActionCancel}},
	{models.TokenServing, RoleDoctor, []Action{ActionComplete}},
}

// AppointmentActions returns the actions role may apply to an appointment in
// status. The result is a copy.
func AppointmentActions(role Role, status models.AppointmentStatus) []Action {
	for _, rule := range appointmentTable {
		if rule.role == role && rule.status == status {
			return append([]Action(nil), rule.actions...)
		}
	}
	return []Action{}
}

func TokenActions(role Role, status models.TokenStatus) []Action {
	for _, rule := range tokenTable {
		if rule.role == role && rule.status == status {
			return append([]Action(nil), rule.actions...)
		}
	}
	return []Action{}
}

func appointmentPermits(role Role, status models.AppointmentStatus, action Action) bool {
	for _, allowed := range AppointmentActions(role, status) {
		if allowed == action {
			return true
		}
	}
	return false
}

func tokenPermits(role Role, status models.TokenStatus, action Action) bool {
	for _, allowed := range TokenActions(role, status) {
		if allowed == action {
			return true
		}
	}
	return false
}

// ResolveActions answers "what may role do next" for an entity of kind in
// status, from the same table ApplyTransition enforces.
func ResolveActions(role Role, kind EntityKind, status string) ([]Action, error) {
	switch kind {
	case KindAppointment:
		s := models.AppointmentStatus(status)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown appointment status %q", status)
		}
		return AppointmentActions(role, s), nil
	case KindToken:
		s := models.TokenStatus(status)
		if !s.Valid() {
			return nil, fmt.Errorf("unknown token status %q", status)
		}
		return TokenActions(role, s), nil
	}
	return nil, fmt.Errorf("unknown entity kind %q", kind)
}
