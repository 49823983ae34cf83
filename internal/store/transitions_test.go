package store

import (
	"errors"
	"testing"

	"github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"
)

func TestValidTokenTransition(t *testing.T) {
	cases := []struct {
		from  models.TokenStatus
		to    models.TokenStatus
		valid bool
	}{
		{models.TokenWaiting, models.TokenCalled, true},
		{models.TokenServing, models.TokenCalled, false},
		{models.TokenCalled, models.TokenServing, true},
		{models.TokenWaiting, models.TokenServing, true},
		{models.TokenServing, models.TokenDone, true},
		{models.TokenCalled, models.TokenDone, false},
		{models.TokenWaiting, models.TokenCancelled, true},
		{models.TokenCalled, models.TokenCancelled, true},
		{models.TokenServing, models.TokenCancelled, false},
		{models.TokenDone, models.TokenWaiting, false},
		{models.TokenCancelled, models.TokenCalled, false},
	}

	for _, tt := range cases {
		if got := ValidTokenTransition(tt.from, tt.to); got != tt.valid {
			t.Fatalf("ValidTokenTransition(%q, %q)=%v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestValidQueueEntryTransition(t *testing.T) {
	if !ValidQueueEntryTransition(models.EntryQueued, models.EntryExpired) {
		t.Fatalf("queued entries may expire")
	}
	if ValidQueueEntryTransition(models.EntryInProgress, models.EntryExpired) {
		t.Fatalf("in-progress entries must not expire")
	}
	if ValidQueueEntryTransition(models.EntryCompleted, models.EntryQueued) {
		t.Fatalf("completed entries are terminal")
	}
}

func TestCheckFromStatuses(t *testing.T) {
	err := CheckFromStatuses([]models.TokenStatus{models.TokenWaiting, models.TokenCalled}, models.TokenCancelled, ValidTokenTransition)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = CheckFromStatuses([]models.TokenStatus{models.TokenServing}, models.TokenCancelled, ValidTokenTransition)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	err = CheckFromStatuses(nil, models.TokenDone, ValidTokenTransition)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("empty from-set must be rejected, got %v", err)
	}
}

func TestStatusChangedErrorUnwraps(t *testing.T) {
	err := error(&StatusChangedError{Entity: "token", Observed: "done"})
	if !errors.Is(err, ErrStatusChanged) {
		t.Fatalf("expected ErrStatusChanged")
	}
	observed, ok := ObservedStatus(err)
	if !ok || observed != "done" {
		t.Fatalf("observed = %q, %v", observed, ok)
	}
}
