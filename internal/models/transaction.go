package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents a ledger entry. Amount is signed: expenses are negative.
type Transaction struct {
	ID                  int64           `json:"id"`
	UserID              int64           `json:"user_id"`
	AccountID           int64           `json:"account_id"`
	CategoryID          *int64          `json:"category_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Type                TransactionType `json:"type"`
	Description         string          `json:"description"`
	Notes               *string         `json:"notes,omitempty"`
	Date                time.Time       `json:"date"`
	RecurringRuleID     *int64          `json:"recurring_rule_id,omitempty"`
	IsRecurringInstance bool            `json:"is_recurring_instance"`
	CreatedAt           time.Time       `json:"created_at"`
}
