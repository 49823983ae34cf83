package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/store"
)

type Position struct {
	TokenID            uuid.UUID          `json:"token_id"`
	TokenNumber        int                `json:"token_number"`
	Status             models.TokenStatus `json:"status"`
	Ahead              int                `json:"ahead"`
	QueueEntryPosition *int               `json:"queue_entry_position,omitempty"`
}

// Position reports how many live, not yet serving tokens in the same
// numbering scope hold a lower number than tokenID.
func (o *Orchestrator) Position(ctx context.Context, tokenID uuid.UUID) (Position, error) {
	token, err := o.Token(ctx, tokenID)
	if err != nil {
		return Position{}, err
	}
	pos := Position{TokenID: token.ID, TokenNumber: token.TokenNumber, Status: token.Status}

	if token.Status == models.TokenWaiting || token.Status == models.TokenCalled {
		pos.Ahead, err = o.store.CountAhead(ctx, token.IssuedDate, token.Scope, token.TokenNumber)
		if err != nil {
			return Position{}, classify("count tokens ahead", err)
		}
	}
	if token.AppointmentID != nil {
		entry, found, err := o.store.FindQueueEntry(ctx, *token.AppointmentID)
		if err != nil {
			return Position{}, classify("find queue entry", err)
		}
		if found {
			position := entry.Position
			pos.QueueEntryPosition = &position
		}
	}
	return pos, nil
}

func (o *Orchestrator) Token(ctx context.Context, tokenID uuid.UUID) (models.Token, error) {
	token, err := o.store.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return models.Token{}, &NotFoundError{Entity: "token", ID: tokenID.String()}
		}
		return models.Token{}, classify("get token", err)
	}
	return token, nil
}

// Queue lists today's live tokens by token number, optionally for one doctor.
func (o *Orchestrator) Queue(ctx context.Context, doctorID *uuid.UUID) ([]models.Token, error) {
	day, _, err := o.today(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := o.store.ListLiveTokens(ctx, day.Date, doctorID)
	if err != nil {
		return nil, classify("list live tokens", err)
	}
	if tokens == nil {
		tokens = []models.Token{}
	}
	return tokens, nil
}

// TokenEvents returns the token's hash-chained history.
func (o *Orchestrator) TokenEvents(ctx context.Context, tokenID uuid.UUID) ([]store.TokenEvent, error) {
	events, err := o.store.ListTokenEvents(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrTokenNotFound) {
			return nil, &NotFoundError{Entity: "token", ID: tokenID.String()}
		}
		return nil, classify("list token events", err)
	}
	return events, nil
}
