package consent

import (
	"time"

	"github.com/google/uuid"
)

// JobConfig bounds a batch run. Workers caps in-flight per-record work;
// Budget is the wall-clock limit after which the job stops taking new
// records and reports partial results.
type JobConfig struct {
	Workers int
	Budget  time.Duration
}

const (
	defaultJobWorkers = 4
	defaultJobBudget  = 60 * time.Second
)

func (c JobConfig) withDefaults() JobConfig {
	if c.Workers <= 0 {
		c.Workers = defaultJobWorkers
	}
	if c.Budget <= 0 {
		c.Budget = defaultJobBudget
	}
	return c
}

// RecordOutcome is one record's result within a job run. Populated in the
// report only for dry runs, to keep routine production payloads small.
type RecordOutcome struct {
	RecordID      uuid.UUID `json:"record_id"`
	ThresholdDays int       `json:"threshold_days,omitempty"`
	Action        string    `json:"action"`
	Reason        string    `json:"reason,omitempty"`
}

// WarningReport aggregates an expiry-warning run.
type WarningReport struct {
	DryRun       bool            `json:"dry_run"`
	Processed    int             `json:"processed"`
	Sent         int             `json:"sent"`
	Skipped      int             `json:"skipped"`
	Failed       int             `json:"failed"`
	PerThreshold map[string]int  `json:"per_threshold"`
	Details      []RecordOutcome `json:"details,omitempty"`
	Truncated    bool            `json:"truncated,omitempty"`
}

// RenewalReport aggregates an auto-renewal run.
type RenewalReport struct {
	DryRun    bool            `json:"dry_run"`
	Processed int             `json:"processed"`
	Renewed   int             `json:"renewed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	Details   []RecordOutcome `json:"details,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// startOfDay and endOfDay align a warning window to a full calendar day in UTC.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return startOfDay(t).Add(24*time.Hour - time.Nanosecond)
}
