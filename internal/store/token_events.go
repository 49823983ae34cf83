package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
)

const (
	TokenEventIssued      = "token.issued"
	TokenEventStatus      = "token.status_changed"
	TokenEventVisitLinked = "token.visit_linked"
)

type TokenEvent struct {
	TokenID   uuid.UUID       `json:"token_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type eventPayload struct {
	TokenID       string     `json:"token_id"`
	TokenNumber   int        `json:"token_number,omitempty"`
	Scope         string     `json:"scope,omitempty"`
	PatientID     string     `json:"patient_id,omitempty"`
	DoctorID      string     `json:"doctor_id,omitempty"`
	AppointmentID *string    `json:"appointment_id,omitempty"`
	VisitID       *string    `json:"visit_id,omitempty"`
	Status        string     `json:"status,omitempty"`
	IssuedDate    string     `json:"issued_date,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
	CalledAt      *time.Time `json:"called_at,omitempty"`
	ServedAt      *time.Time `json:"served_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TokenEventPayload snapshots the token fields carried by every event.
func TokenEventPayload(token models.Token) ([]byte, error) {
	payload := eventPayload{
		TokenID:     token.ID.String(),
		TokenNumber: token.TokenNumber,
		Scope:       token.Scope,
		PatientID:   token.PatientID.String(),
		DoctorID:    token.DoctorID.String(),
		Status:      string(token.Status),
		IssuedDate:  token.IssuedDate,
		CalledAt:    token.CalledAt,
		ServedAt:    token.ServedAt,
		CompletedAt: token.CompletedAt,
	}
	if !token.CreatedAt.IsZero() {
		createdAt := token.CreatedAt
		payload.CreatedAt = &createdAt
	}
	if token.AppointmentID != nil {
		id := token.AppointmentID.String()
		payload.AppointmentID = &id
	}
	if token.VisitID != nil {
		id := token.VisitID.String()
		payload.VisitID = &id
	}
	return json.Marshal(payload)
}

func ComputeTokenEventHash(prevHash string, tokenID uuid.UUID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, tokenID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyTokenEvents walks the chain and returns the sequence number of the
// first event whose hash does not match, or 0 when the chain is intact.
func VerifyTokenEvents(events []TokenEvent) int {
	prev := ""
	for _, event := range events {
		if event.PrevHash != prev {
			return event.Seq
		}
		if ComputeTokenEventHash(prev, event.TokenID, event.Type, event.Payload, event.CreatedAt, event.Seq) != event.Hash {
			return event.Seq
		}
		prev = event.Hash
	}
	return 0
}

func RehydrateToken(events []TokenEvent) (models.Token, error) {
	var token models.Token
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Token{}, err
		}
		if payload.TokenID != "" {
			id, err := uuid.Parse(payload.TokenID)
			if err != nil {
				return models.Token{}, err
			}
			token.ID = id
		}
		if payload.TokenNumber != 0 {
			token.TokenNumber = payload.TokenNumber
		}
		if payload.Scope != "" {
			token.Scope = payload.Scope
		}
		if id, ok := parseOptionalID(payload.PatientID); ok {
			token.PatientID = id
		}
		if id, ok := parseOptionalID(payload.DoctorID); ok {
			token.DoctorID = id
		}
		if payload.AppointmentID != nil {
			if id, ok := parseOptionalID(*payload.AppointmentID); ok {
				token.AppointmentID = &id
			}
		}
		if payload.VisitID != nil {
			if id, ok := parseOptionalID(*payload.VisitID); ok {
				token.VisitID = &id
			}
		}
		if payload.Status != "" {
			token.Status = models.TokenStatus(payload.Status)
		}
		if payload.IssuedDate != "" {
			token.IssuedDate = payload.IssuedDate
		}
		if payload.CreatedAt != nil {
			token.CreatedAt = *payload.CreatedAt
		}
		if payload.CalledAt != nil {
			token.CalledAt = payload.CalledAt
		}
		if payload.ServedAt != nil {
			token.ServedAt = payload.ServedAt
		}
		if payload.CompletedAt != nil {
			token.CompletedAt = payload.CompletedAt
		}
		token.UpdatedAt = event.CreatedAt
	}
	return token, nil
}

func parseOptionalID(value string) (uuid.UUID, bool) {
	if value == "" {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
