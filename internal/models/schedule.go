package models

import "time"

// Upload frequencies. All recurring frequencies are fixed intervals
// anchored at NextRun; monthly is a flat 30 days, not calendar-aware.
const (
	FreqOnce    = "once"
	FreqHourly  = "hourly"
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
)

// FrequencyInterval returns the recurrence interval for a frequency, or
// false for one-shot / unknown frequencies.
func FrequencyInterval(frequency string) (time.Duration, bool) {
	switch frequency {
	case FreqHourly:
		return time.Hour, true
	case FreqDaily:
		return 24 * time.Hour, true
	case FreqWeekly:
		return 7 * 24 * time.Hour, true
	case FreqMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ScheduleDescriptor is a persisted recurring or one-shot upload job.
// The scheduler registry is rebuilt from these rows at startup; storage is
// the source of truth, never the in-process registry.
type ScheduleDescriptor struct {
	ID          int64      `json:"id"`
	Owner       string     `json:"owner"`
	SourceType  string     `json:"source_type"`
	SourcePath  string     `json:"source_path"`
	TargetTable string     `json:"target_table"`
	Frequency   string     `json:"frequency"`
	NextRun     time.Time  `json:"next_run"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsApproved  bool       `json:"is_approved"`
	Credentials string     `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Runnable reports whether the descriptor should hold a live scheduler
// registration. Activity has no effect until an admin approves.
func (d ScheduleDescriptor) Runnable() bool {
	return d.IsActive && d.IsApproved
}
