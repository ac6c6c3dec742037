package consent

import "time"

// NextExpiry advances the current expiry by durationMonths calendar months.
// The new window is anchored on the current expiry, never on "now": a patient
// renewing three days early and one renewing three days into grace both get a
// window starting where the old one ended.
//
// Day-of-month overflow clamps to the last valid day of the target month
// (Jan 31 + 1 month = Feb 28, or Feb 29 in a leap year). time.AddDate would
// roll over into March instead, which silently lengthens the window.
func NextExpiry(currentExpiresAt time.Time, durationMonths int) time.Time {
	year, month, day := currentExpiresAt.Date()
	targetYear := year
	targetMonth := int(month) + durationMonths
	for targetMonth > 12 {
		targetMonth -= 12
		targetYear++
	}
	for targetMonth < 1 {
		targetMonth += 12
		targetYear--
	}

	if last := lastDayOfMonth(targetYear, time.Month(targetMonth)); day > last {
		day = last
	}

	h, min, sec := currentExpiresAt.Clock()
	return time.Date(targetYear, time.Month(targetMonth), day, h, min, sec,
		currentExpiresAt.Nanosecond(), currentExpiresAt.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NewHistoryEntry builds an audit-trail entry for a renewal. Pure
// constructor; the caller appends it to the existing history and persists the
// full sequence in the same write as the expiry fields.
func NewHistoryEntry(previousExpiresAt, newExpiresAt time.Time, renewedBy Renewer, durationMonths int, now time.Time) HistoryEntry {
	return HistoryEntry{
		PreviousExpiresAt: previousExpiresAt,
		NewExpiresAt:      newExpiresAt,
		RenewedBy:         renewedBy,
		DurationMonths:    durationMonths,
		OccurredAt:        now,
	}
}
