package consent

import (
	"fmt"
	"math"
	"time"
)

// Urgency thresholds in days remaining before expiry.
const (
	urgencyLowDays    = 30
	urgencyMediumDays = 14
	urgencyHighDays   = 7
)

// ComputeStatus derives a record's lifecycle status from its stored
// timestamps and the template's grace period. Pure; no I/O. Precedence:
// not-given, then withdrawal (which beats an unexpired window), then the
// expiry timeline.
//
// A nil expiresAt with given=true is a record predating duration tracking;
// it degrades to active with no days-remaining and renewal disabled rather
// than erroring.
func ComputeStatus(given bool, givenAt, expiresAt, withdrawnAt *time.Time, gracePeriodDays int, now time.Time) StatusResult {
	if !given {
		return StatusResult{
			Status:       StatusNotGiven,
			IsAccessible: false,
			Urgency:      UrgencyNone,
			CanRenew:     false,
			Message:      "Consent has not been given.",
		}
	}

	if withdrawnAt != nil {
		return StatusResult{
			Status:       StatusWithdrawn,
			IsAccessible: false,
			Urgency:      UrgencyNone,
			CanRenew:     false,
			Message:      "Consent has been withdrawn.",
		}
	}

	if expiresAt == nil {
		return StatusResult{
			Status:       StatusActive,
			IsAccessible: true,
			Urgency:      UrgencyNone,
			CanRenew:     false,
			Message:      "Consent is active.",
		}
	}

	days := daysRemaining(*expiresAt, now)

	if now.Before(*expiresAt) {
		urgency := activeUrgency(days)
		return StatusResult{
			Status:        StatusActive,
			IsAccessible:  true,
			DaysRemaining: &days,
			Urgency:       urgency,
			CanRenew:      urgency > UrgencyNone,
			Message:       fmt.Sprintf("Consent is active; %d days remaining.", days),
		}
	}

	graceEnd := expiresAt.Add(time.Duration(gracePeriodDays) * 24 * time.Hour)
	if gracePeriodDays > 0 && now.Before(graceEnd) {
		return StatusResult{
			Status:        StatusGracePeriod,
			IsAccessible:  true,
			DaysRemaining: &days,
			Urgency:       UrgencyCritical,
			CanRenew:      true,
			Message:       "Consent has expired and is in its grace period; renewal is required.",
		}
	}

	return StatusResult{
		Status:        StatusExpired,
		IsAccessible:  false,
		DaysRemaining: &days,
		Urgency:       UrgencyNone,
		CanRenew:      false,
		Message:       "Consent has expired and data is no longer accessible.",
	}
}

// ComputeRecordStatus derives the status of a full record at the given time.
func ComputeRecordStatus(r *Record, now time.Time) StatusResult {
	return ComputeStatus(r.Given, r.GivenAt, r.ExpiresAt, r.WithdrawnAt, r.Policy.GracePeriodDays, now)
}

// daysRemaining is the ceiling of (expiresAt - now) in days. Negative once
// past expiry; the grace-window math relies on that.
func daysRemaining(expiresAt, now time.Time) int {
	return int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
}

func activeUrgency(days int) Urgency {
	switch {
	case days > urgencyLowDays:
		return UrgencyNone
	case days > urgencyMediumDays:
		return UrgencyLow
	case days > urgencyHighDays:
		return UrgencyMedium
	default:
		return UrgencyHigh
	}
}
