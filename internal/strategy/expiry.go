package strategy

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/optionlegs/internal/models"
)

// ExpiryWeekdaySwitch is the first session date on which index options
// expire on Tuesday instead of Thursday.
var ExpiryWeekdaySwitch = time.Date(2025, time.September, 1, 0, 0, 0, 0, time.UTC)

// expiryWeekday returns the contract expiry weekday in force on date.
func expiryWeekday(date time.Time) time.Weekday {
	if !dateOnly(date).Before(ExpiryWeekdaySwitch) {
		return time.Tuesday
	}
	return time.Thursday
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeeklyExpiry returns the first expiry day on or after date. The weekday
// rule is applied to each candidate day, so a week spanning the switch
// expires on its new weekday.
func WeeklyExpiry(date time.Time) time.Time {
	d := dateOnly(date)
	for d.Weekday() != expiryWeekday(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// NextWeeklyExpiry returns the weekly expiry after WeeklyExpiry(date).
func NextWeeklyExpiry(date time.Time) time.Time {
	return WeeklyExpiry(WeeklyExpiry(date).AddDate(0, 0, 1))
}

// monthEndExpiry returns the last expiry day in the month of d.
func monthEndExpiry(d time.Time) time.Time {
	last := time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	wd := expiryWeekday(last)
	for last.Weekday() != wd {
		last = last.AddDate(0, 0, -1)
	}
	return last
}

// MonthlyExpiry returns the last expiry day of the session month. Once
// that day has passed the following month's expiry is used.
func MonthlyExpiry(date time.Time) time.Time {
	d := dateOnly(date)
	exp := monthEndExpiry(d)
	if exp.Before(d) {
		exp = monthEndExpiry(time.Date(d.Year(), d.Month()+1, 1, 0, 0, 0, 0, time.UTC))
	}
	return exp
}

// NextMonthlyExpiry returns the monthly expiry after MonthlyExpiry(date).
func NextMonthlyExpiry(date time.Time) time.Time {
	this := MonthlyExpiry(date)
	return monthEndExpiry(time.Date(this.Year(), this.Month()+1, 1, 0, 0, 0, 0, time.UTC))
}

// ResolveExpiry maps an expiry keyword to a concrete date for a session.
func ResolveExpiry(date time.Time, kw models.ExpiryKeyword) (time.Time, error) {
	switch kw {
	case models.Weekly, "":
		return WeeklyExpiry(date), nil
	case models.NextWeekly:
		return NextWeeklyExpiry(date), nil
	case models.Monthly:
		return MonthlyExpiry(date), nil
	case models.NextMonthly:
		return NextMonthlyExpiry(date), nil
	default:
		return time.Time{}, &models.ConfigurationError{
			Field:  "expiry",
			Reason: fmt.Sprintf("unknown expiry keyword %q", kw),
		}
	}
}
