package service

import (
	"fmt"
	"time"
)

// RescheduleAnchor decides which date a rule's next due date is recomputed from
// when its recurrence fields are edited.
type RescheduleAnchor string

const (
	// AnchorCurrentDueDate recomputes from the rule's stored next due date, even
	// when that date is already in the past.
	AnchorCurrentDueDate RescheduleAnchor = "next_due_date"
	// AnchorToday recomputes from today, or from the stored next due date when
	// that is later.
	AnchorToday RescheduleAnchor = "today"
)

// ParseRescheduleAnchor parses a RESCHEDULE_ANCHOR value.
func ParseRescheduleAnchor(s string) (RescheduleAnchor, error) {
	switch a := RescheduleAnchor(s); a {
	case AnchorCurrentDueDate, AnchorToday:
		return a, nil
	}
	return "", fmt.Errorf("unknown reschedule anchor %q", s)
}

func (a RescheduleAnchor) from(nextDue, today time.Time) time.Time {
	if a == AnchorToday && today.After(nextDue) {
		return today
	}
	return nextDue
}
