package models

import (
	"time"

	"github.com/Dan9191/recurring-service/internal/recurrence"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a cash flow.
type TransactionType string

const (
	Expense TransactionType = "EXPENSE"
	Income  TransactionType = "INCOME"
)

// Valid reports whether t is a known direction.
func (t TransactionType) Valid() bool {
	return t == Expense || t == Income
}

// Signed returns amount with the sign implied by t: expenses are negative.
func (t TransactionType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == Expense {
		return amount.Abs().Neg()
	}
	return amount.Abs()
}

// RecurringRule describes a periodic cash-flow event owned by one user.
type RecurringRule struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	AccountID   int64           `json:"account_id"`
	CategoryID  *int64          `json:"category_id,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Type        TransactionType `json:"type"`
	Notes       *string         `json:"notes,omitempty"`

	StartDate         time.Time       `json:"start_date"`
	FrequencyUnit     recurrence.Unit `json:"frequency_unit"`
	FrequencyInterval int             `json:"frequency_interval"`
	DayOfWeek         *int            `json:"day_of_week,omitempty"`
	DayOfMonth        *int            `json:"day_of_month,omitempty"`

	EndDate          *time.Time `json:"end_date,omitempty"`
	TotalOccurrences *int       `json:"total_occurrences,omitempty"`
	IsInstallment    bool       `json:"is_installment"`

	NextDueDate                time.Time  `json:"next_due_date"`
	OccurrencesGenerated       int        `json:"occurrences_generated"`
	IsFirstOccurrenceGenerated bool       `json:"is_first_occurrence_generated"`
	LastProcessedAt            *time.Time `json:"last_processed_at,omitempty"`
	IsActive                   bool       `json:"is_active"`

	// Lease held by a batch run while it mutates the rule.
	ProcessingKey       *string    `json:"-"`
	ProcessingExpiresAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Next returns the occurrence following anchor under the rule's recurrence
// settings. Calendar days are counted in loc, whatever zone anchor was read in;
// a nil loc keeps anchor's zone.
func (r *RecurringRule) Next(anchor time.Time, loc *time.Location) time.Time {
	if loc != nil {
		anchor = anchor.In(loc)
	}
	return recurrence.NextOccurrence(anchor, r.FrequencyUnit, r.FrequencyInterval, r.DayOfMonth, r.DayOfWeek)
}

// Exhausted reports whether the rule must stop generating at now: its end date
// has passed or an installment plan has produced all of its occurrences.
func (r *RecurringRule) Exhausted(now time.Time) bool {
	if r.EndDate != nil && now.After(*r.EndDate) {
		return true
	}
	if r.IsInstallment && r.TotalOccurrences != nil && r.OccurrencesGenerated >= *r.TotalOccurrences {
		return true
	}
	return false
}

// Occurrence builds the ledger transaction for the occurrence dated on.
func (r *RecurringRule) Occurrence(on time.Time) *Transaction {
	ruleID := r.ID
	return &Transaction{
		UserID:              r.UserID,
		AccountID:           r.AccountID,
		CategoryID:          r.CategoryID,
		Amount:              r.Type.Signed(r.Amount),
		Type:                r.Type,
		Description:         r.Description,
		Notes:               r.Notes,
		Date:                on,
		RecurringRuleID:     &ruleID,
		IsRecurringInstance: true,
	}
}

// DueRule is a rule selected for a batch pass together with its owner's
// notification settings.
type DueRule struct {
	Rule  RecurringRule
	Owner User
}
