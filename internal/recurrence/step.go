package recurrence

import (
	"fmt"
	"time"

	"appdate/internal/model"
)

// advance moves the civil date (y, m, d) forward by n units. Arithmetic runs
// on UTC noon so no timezone transition can leak into the date.
//
// Months and years are counted from the given anchor and clamp to the last
// day of the target month: Jan 31 + 1 month is Feb 28 (or 29), and Feb 29
// + 1 year is Feb 28.
func advance(y int, m time.Month, d int, unit model.Recurrence, n int) (int, time.Month, int) {
	switch unit {
	case model.RecurrenceDaily:
		return time.Date(y, m, d+n, 12, 0, 0, 0, time.UTC).Date()
	case model.RecurrenceWeekly:
		return time.Date(y, m, d+7*n, 12, 0, 0, 0, time.UTC).Date()
	case model.RecurrenceMonthly:
		return addMonthsClamped(y, m, d, n)
	case model.RecurrenceYearly:
		return addMonthsClamped(y, m, d, 12*n)
	case model.RecurrenceNone:
		return y, m, d
	default:
		panic(fmt.Sprintf("recurrence: no step strategy for %v", unit))
	}
}

// addMonthsClamped adds n months to (y, m) and clamps d to the target
// month's length. It never rolls over into the following month, so Jan 31
// steps to Feb 28 and then Mar 31, not to Mar 3 and then Apr 3 as a
// normalising setMonth would.
func addMonthsClamped(y int, m time.Month, d int, n int) (int, time.Month, int) {
	first := time.Date(y, m+time.Month(n), 1, 12, 0, 0, 0, time.UTC)
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.Year(), first.Month(), d
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 12, 0, 0, 0, time.UTC).Day()
}

// daysBetween counts calendar days from a's date to b's date.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 12, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 12, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func civil(y int, m time.Month, d int) string {
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}
