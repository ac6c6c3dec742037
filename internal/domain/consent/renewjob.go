package consent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// autoRenewWindowDays is how far ahead of expiry a record becomes eligible
// for automatic renewal.
const autoRenewWindowDays = 7

// AutoRenewalJob renews opted-in consents that expire within the next seven
// days. Idempotency needs no flag: a successful renewal moves the expiry out
// of the query window (durations are at least one month by policy), so the
// record drops out of the next run on its own.
type AutoRenewalJob struct {
	store    Store
	ledger   Ledger
	notifier Notifier
	logger   zerolog.Logger
	cfg      JobConfig
	now      func() time.Time
}

func NewAutoRenewalJob(store Store, ledger Ledger, notifier Notifier, logger zerolog.Logger, cfg JobConfig) *AutoRenewalJob {
	return &AutoRenewalJob{
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// Run executes one auto-renewal pass.
func (j *AutoRenewalJob) Run(ctx context.Context, dryRun bool) (*RenewalReport, error) {
	now := j.now().UTC()
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Budget)
	defer cancel()

	report := &RenewalReport{DryRun: dryRun}

	candidates, err := j.store.ListAutoRenewable(ctx, now, now.Add(autoRenewWindowDays*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("query auto-renewable records: %w", err)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan *Record)

	for i := 0; i < j.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range work {
				outcome := j.processRecord(ctx, r, now, dryRun)
				mu.Lock()
				report.Processed++
				switch outcome.Action {
				case "renewed", "would_renew":
					report.Renewed++
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
	for _, r := range candidates {
		if ctx.Err() != nil {
			report.Truncated = true
			break
		}
		select {
		case <-ctx.Done():
			report.Truncated = true
			break dispatch
		case work <- r:
		}
	}
	close(work)
	wg.Wait()

	j.logger.Info().
		Bool("dry_run", dryRun).
		Int("processed", report.Processed).
		Int("renewed", report.Renewed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Bool("truncated", report.Truncated).
		Msg("auto renewal job finished")

	return report, nil
}

func (j *AutoRenewalJob) processRecord(ctx context.Context, r *Record, now time.Time, dryRun bool) RecordOutcome {
	outcome := RecordOutcome{RecordID: r.ID}

	// A template policy change after the patient opted in is honored
	// retroactively.
	if !r.Policy.AllowAutoRenewal {
		outcome.Action = "skipped"
		outcome.Reason = "template no longer allows auto-renewal"
		return outcome
	}
	if r.ExpiresAt == nil {
		outcome.Action = "skipped"
		outcome.Reason = "no expiry on record"
		return outcome
	}

	months := r.Policy.DefaultDurationMonths
	if r.DurationMonths != nil && *r.DurationMonths > 0 {
		months = *r.DurationMonths
	}
	if months < r.Policy.MinDurationMonths || months > r.Policy.MaxDurationMonths {
		outcome.Action = "failed"
		outcome.Reason = newValidationError("duration %d months is outside policy bounds [%d, %d]",
			months, r.Policy.MinDurationMonths, r.Policy.MaxDurationMonths).Error()
		return outcome
	}

	if dryRun {
		outcome.Action = "would_renew"
		outcome.Reason = fmt.Sprintf("would extend to %s", NextExpiry(*r.ExpiresAt, months).Format("2006-01-02"))
		return outcome
	}

	newExpiresAt := NextExpiry(*r.ExpiresAt, months)
	entry := NewHistoryEntry(*r.ExpiresAt, newExpiresAt, RenewedByAuto, months, now)
	history := append(append([]HistoryEntry{}, r.RenewalHistory...), entry)

	if err := j.store.ApplyRenewal(ctx, r.ID, r.RenewalCount, newExpiresAt, now, months, history); err != nil {
		outcome.Action = "failed"
		outcome.Reason = err.Error()
		return outcome
	}

	// The renewal is durable; everything below is best-effort.
	if err := j.ledger.Record(ctx, r.ID, fmt.Sprintf("auto_renewal_%d", r.RenewalCount+1), now); err != nil {
		j.logger.Warn().Err(err).Str("record_id", r.ID.String()).Msg("auto-renewal audit entry failed")
	}
	_, err := j.notifier.SendFromTemplate(ctx, "consent-auto-renewed", map[string]string{
		"patient_name": r.PatientName,
		"expires_at":   newExpiresAt.Format("2006-01-02"),
	}, r.PatientEmail)
	if err != nil {
		j.logger.Warn().Err(err).Str("record_id", r.ID.String()).Msg("auto-renewal confirmation email failed")
	}

	outcome.Action = "renewed"
	return outcome
}
