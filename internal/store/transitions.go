package store

import "github.com/LinSwanSaung/clinicinformationsystem-sub006/internal/models"

// tokenTransitionMap lists, per target status, the statuses a token may move
// from. Repositories refuse any other status write.
var tokenTransitionMap = map[models.TokenStatus][]models.TokenStatus{
	models.TokenCalled:    {models.TokenWaiting},
	models.TokenServing:   {models.TokenWaiting, models.TokenCalled},
	models.TokenDone:      {models.TokenServing},
	models.TokenCancelled: {models.TokenWaiting, models.TokenCalled},
}

var visitTransitionMap = map[models.VisitStatus][]models.VisitStatus{
	models.VisitCompleted: {models.VisitInProgress},
	models.VisitCancelled: {models.VisitInProgress},
}

var entryTransitionMap = map[models.QueueEntryStatus][]models.QueueEntryStatus{
	models.EntryInProgress: {models.EntryQueued},
	models.EntryCompleted:  {models.EntryQueued, models.EntryInProgress},
	models.EntryExpired:    {models.EntryQueued},
}

func ValidTokenTransition(from, to models.TokenStatus) bool {
	return Contains(tokenTransitionMap[to], from)
}

func ValidVisitTransition(from, to models.VisitStatus) bool {
	return Contains(visitTransitionMap[to], from)
}

func ValidQueueEntryTransition(from, to models.QueueEntryStatus) bool {
	return Contains(entryTransitionMap[to], from)
}

// CheckFromStatuses rejects a conditional write whose allowed from-set
// contains a status the target cannot be reached from.
func CheckFromStatuses[S comparable](from []S, to S, valid func(S, S) bool) error {
	if len(from) == 0 {
		return ErrInvalidState
	}
	for _, status := range from {
		if !valid(status, to) {
			return ErrInvalidState
		}
	}
	return nil
}

// Contains reports whether status is in allowed.
func Contains[S comparable](allowed []S, status S) bool {
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}
