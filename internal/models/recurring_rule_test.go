package models

import (
	"testing"
	"time"

	"github.com/Dan9191/recurring-service/internal/recurrence"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionType_Signed(t *testing.T) {
	amount := decimal.RequireFromString("42.10")
	assert.True(t, Expense.Signed(amount).Equal(decimal.RequireFromString("-42.10")))
	assert.True(t, Income.Signed(amount).Equal(amount))
	assert.True(t, Expense.Signed(amount.Neg()).Equal(decimal.RequireFromString("-42.10")))
	assert.True(t, Income.Signed(amount.Neg()).Equal(amount))
}

func TestRecurringRule_Exhausted(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	before := now.Add(-time.Hour)
	after := now.Add(time.Hour)
	total := 3

	tests := []struct {
		name string
		rule RecurringRule
		want bool
	}{
		{"open ended", RecurringRule{}, false},
		{"end date passed", RecurringRule{EndDate: &before}, true},
		{"end date ahead", RecurringRule{EndDate: &after}, false},
		{"installment done", RecurringRule{IsInstallment: true, TotalOccurrences: &total, OccurrencesGenerated: 3}, true},
		{"installment running", RecurringRule{IsInstallment: true, TotalOccurrences: &total, OccurrencesGenerated: 2}, false},
		{"total without installment", RecurringRule{TotalOccurrences: &total, OccurrencesGenerated: 5}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rule.Exhausted(now), tt.name)
	}
}

func TestRecurringRule_Occurrence(t *testing.T) {
	category := int64(5)
	notes := "flat 3B"
	rule := RecurringRule{
		ID: 9, UserID: 1, AccountID: 10, CategoryID: &category,
		Description: "Rent", Amount: decimal.NewFromInt(1200), Type: Expense, Notes: &notes,
	}
	on := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)

	txn := rule.Occurrence(on)

	require.NotNil(t, txn.RecurringRuleID)
	assert.Equal(t, int64(9), *txn.RecurringRuleID)
	assert.True(t, txn.IsRecurringInstance)
	assert.True(t, txn.Amount.Equal(decimal.NewFromInt(-1200)))
	assert.Equal(t, on, txn.Date)
	assert.Equal(t, "Rent", txn.Description)
	assert.Equal(t, &category, txn.CategoryID)
	assert.Equal(t, int64(10), txn.AccountID)
}

func TestRecurringRule_Next(t *testing.T) {
	dom := 31
	rule := RecurringRule{FrequencyUnit: recurrence.Monthly, FrequencyInterval: 1, DayOfMonth: &dom}
	next := rule.Next(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), nil)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), next)
}

func TestUser_CanReceivePush(t *testing.T) {
	token, empty := "ExponentPushToken[a]", ""
	assert.True(t, (&User{NotificationsEnabled: true, PushToken: &token}).CanReceivePush())
	assert.False(t, (&User{NotificationsEnabled: false, PushToken: &token}).CanReceivePush())
	assert.False(t, (&User{NotificationsEnabled: true}).CanReceivePush())
	assert.False(t, (&User{NotificationsEnabled: true, PushToken: &empty}).CanReceivePush())
}

func TestRecurringRule_NextCountsDaysInLocation(t *testing.T) {
	msk, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	dom := 15
	rule := RecurringRule{FrequencyUnit: recurrence.Monthly, FrequencyInterval: 1, DayOfMonth: &dom}

	// Midnight of Jan 15 in Moscow, as read back from postgres.
	stored := time.Date(2024, 1, 15, 0, 0, 0, 0, msk).UTC()

	next := rule.Next(stored, msk)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, msk), next)
	assert.Equal(t, 15, next.Day())
}
