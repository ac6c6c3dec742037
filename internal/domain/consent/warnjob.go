package consent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WarningThresholds are the day-offsets before expiry at which reminder
// emails are staged.
var WarningThresholds = []int{30, 14, 7, 1}

// ExpiryWarningJob sends staged expiry reminders. Idempotency comes from the
// notification ledger: each (record, threshold) pair is sent at most once,
// and a failed send leaves no ledger entry so the next run retries it.
type ExpiryWarningJob struct {
	store    Store
	ledger   Ledger
	notifier Notifier
	logger   zerolog.Logger
	cfg      JobConfig
	now      func() time.Time
}

func NewExpiryWarningJob(store Store, ledger Ledger, notifier Notifier, logger zerolog.Logger, cfg JobConfig) *ExpiryWarningJob {
	return &ExpiryWarningJob{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// warningKey is the ledger dedup key for a threshold.
func warningKey(thresholdDays int) string {
	return fmt.Sprintf("expiry_%dd", thresholdDays)
}

type warningCandidate struct {
	record    *Record
	threshold int
}

// Run executes one warning pass. In dry-run mode the candidate set is
// identical to a live run; only the gateway call and ledger write are
// skipped, and per-record details are included in the report.
func (j *ExpiryWarningJob) Run(ctx context.Context, dryRun bool) (*WarningReport, error) {
	now := j.now().UTC()
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Budget)
	defer cancel()

	report := &WarningReport{
		DryRun:       dryRun,
		PerThreshold: make(map[string]int, len(WarningThresholds)),
	}
	for _, t := range WarningThresholds {
		report.PerThreshold[warningKey(t)] = 0
	}

	var candidates []warningCandidate
	for _, threshold := range WarningThresholds {
		target := now.Add(time.Duration(threshold) * 24 * time.Hour)
		records, err := j.store.ListExpiringBetween(ctx, startOfDay(target), endOfDay(target))
		if err != nil {
			return nil, fmt.Errorf("query expiring records for %s: %w", warningKey(threshold), err)
		}
		for _, r := range records {
			candidates = append(candidates, warningCandidate{record: r, threshold: threshold})
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan warningCandidate)

	for i := 0; i < j.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				outcome := j.processCandidate(ctx, c, dryRun)
				mu.Lock()
				report.Processed++
				switch outcome.Action {
				case "sent", "would_send":
					report.Sent++
					report.PerThreshold[warningKey(c.threshold)]++
				case "skipped":
					report.Skipped++
				case "failed":
					report.Failed++
				}
				if dryRun {
					report.Details = append(report.Details, outcome)
				}
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, c := range candidates {
		// Budget exhausted: stop taking new records, report partial.
		if ctx.Err() != nil {
			report.Truncated = true
			break
		}
		select {
		case <-ctx.Done():
			report.Truncated = true
			break dispatch
		case work <- c:
		}
	}
	close(work)
	wg.Wait()

	j.logger.Info().
		Bool("dry_run", dryRun).
		Int("processed", report.Processed).
		Int("sent", report.Sent).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Bool("truncated", report.Truncated).
		Msg("expiry warning job finished")

	return report, nil
}

func (j *ExpiryWarningJob) processCandidate(ctx context.Context, c warningCandidate, dryRun bool) RecordOutcome {
	r := c.record
	key := warningKey(c.threshold)
	outcome := RecordOutcome{RecordID: r.ID, ThresholdDays: c.threshold}

	exists, err := j.ledger.Exists(ctx, r.ID, key)
	if err != nil {
		outcome.Action = "failed"
		outcome.Reason = (&PersistenceError{Err: err}).Error()
		return outcome
	}
	if exists {
		outcome.Action = "skipped"
		outcome.Reason = "already notified"
		return outcome
	}

	if dryRun {
		outcome.Action = "would_send"
		return outcome
	}

	_, err = j.notifier.SendFromTemplate(ctx, "consent-expiry-warning", map[string]string{
		"patient_name":   r.PatientName,
		"days_remaining": fmt.Sprintf("%d", c.threshold),
		"expires_at":     r.ExpiresAt.Format("2006-01-02"),
	}, r.PatientEmail)
	if err != nil {
		// No ledger write on failure: the absence of the entry is the sole
		// retry trigger for the next run.
		outcome.Action = "failed"
		outcome.Reason = (&TransientDeliveryError{Err: err}).Error()
		return outcome
	}

	if err := j.ledger.Record(ctx, r.ID, key, j.now().UTC()); err != nil {
		j.logger.Warn().Err(err).
			Str("record_id", r.ID.String()).
			Str("notification_type", key).
			Msg("ledger write failed after send; next run may resend")
		outcome.Action = "failed"
		outcome.Reason = (&PersistenceError{Err: err}).Error()
		return outcome
	}

	outcome.Action = "sent"
	return outcome
}
