package models

import "time"

const (
	StalePolicyCompleted = "completed"
	StalePolicyExpired   = "expired"
)

// ClinicSettings are the runtime-tunable knobs the orchestrator reads per call.
type ClinicSettings struct {
	Timezone         string    `json:"timezone"`
	NumberingScope   string    `json:"numbering_scope"`
	StaleEntryPolicy string    `json:"stale_entry_policy"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

func (s ClinicSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// StaleEntryStatus is the status stale queued entries are closed to.
func (s ClinicSettings) StaleEntryStatus() QueueEntryStatus {
	if s.StaleEntryPolicy == StalePolicyExpired {
		return EntryExpired
	}
	return EntryCompleted
}
