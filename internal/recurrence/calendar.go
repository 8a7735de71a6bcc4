package recurrence

import (
	"fmt"
	"time"
)

// Unit is the calendar unit a rule repeats on.
type Unit string

const (
	Daily   Unit = "DAILY"
	Weekly  Unit = "WEEKLY"
	Monthly Unit = "MONTHLY"
	Yearly  Unit = "YEARLY"
)

// Valid reports whether u is one of the supported units.
func (u Unit) Valid() bool {
	switch u {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// NextOccurrence returns the first occurrence strictly after anchor for the given
// unit and interval. dayOfMonth is only consulted for Monthly and dayOfWeek
// (0 = Sunday) only for Weekly; nil means "follow the anchor".
//
// An unknown unit or an interval below 1 panics: both are rejected before a
// rule is ever stored.
func NextOccurrence(anchor time.Time, unit Unit, interval int, dayOfMonth, dayOfWeek *int) time.Time {
	if interval < 1 {
		panic(fmt.Sprintf("recurrence: invalid interval %d", interval))
	}

	switch unit {
	case Daily:
		return anchor.AddDate(0, 0, interval)
	case Weekly:
		if dayOfWeek == nil {
			return anchor.AddDate(0, 0, interval*7)
		}
		days := (*dayOfWeek - int(anchor.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return anchor.AddDate(0, 0, days+(interval-1)*7)
	case Monthly:
		day := anchor.Day()
		if dayOfMonth != nil {
			day = *dayOfMonth
		}
		// Step from the first of the month so AddDate cannot overflow into the
		// following month before the day is clamped.
		first := time.Date(anchor.Year(), anchor.Month(), 1,
			anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
		target := first.AddDate(0, interval, 0)
		if last := DaysIn(target.Year(), target.Month()); day > last {
			day = last
		}
		return target.AddDate(0, 0, day-1)
	case Yearly:
		return anchor.AddDate(interval, 0, 0)
	default:
		panic(fmt.Sprintf("recurrence: unknown frequency unit %q", unit))
	}
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Midnight truncates t to the start of its day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return Midnight(a.In(loc)).Equal(Midnight(b.In(loc)))
}
