package service

import (
	"context"
	"errors"
	"time"

	"github.com/Dan9191/recurring-service/internal/models"
)

var (
	// ErrNotFound reports a missing account, category or rule.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest reports input the operation refuses to apply.
	ErrBadRequest = errors.New("bad request")
	// ErrOccurrenceExists reports that the rule already has a generated
	// transaction on the occurrence date.
	ErrOccurrenceExists = errors.New("occurrence already recorded")
)

// RuleStore persists recurring rules for the lifecycle operations.
type RuleStore interface {
	AccountOwnedBy(ctx context.Context, accountID, userID int64) (bool, error)
	CategoryExists(ctx context.Context, categoryID int64) (bool, error)

	// CreateRule inserts rule and, when first is non-nil, the first occurrence
	// transaction in the same database transaction.
	CreateRule(ctx context.Context, rule *models.RecurringRule, first *models.Transaction) error
	// GetRule returns models.ErrNotFound when the rule does not belong to userID.
	GetRule(ctx context.Context, ruleID, userID int64) (*models.RecurringRule, error)
	ListRules(ctx context.Context, userID int64) ([]models.RecurringRule, error)
	UpdateRule(ctx context.Context, rule *models.RecurringRule) error
	SetRuleActive(ctx context.Context, ruleID int64, active bool) error
	CountRuleTransactions(ctx context.Context, ruleID int64) (int, error)
	// DeleteRule removes the rule, and its generated transactions when cascade
	// is set, atomically.
	DeleteRule(ctx context.Context, ruleID int64, cascade bool) error
}

// Ledger is the store a batch run reads due rules from and writes occurrences to.
type Ledger interface {
	ListDueRules(ctx context.Context, now time.Time) ([]models.DueRule, error)

	// ClaimRule takes the processing lease on a rule until the given time.
	// It returns false when another run holds an unexpired lease.
	ClaimRule(ctx context.Context, ruleID int64, key string, until time.Time) (bool, error)
	ReleaseRule(ctx context.Context, ruleID int64, key string) error

	DeactivateRule(ctx context.Context, ruleID int64) error
	AdvanceRule(ctx context.Context, ruleID int64, next time.Time) error
	// RecordOccurrence inserts txn and persists the rule's progress fields in
	// one database transaction. The rule's ProcessingKey must still hold the lease.
	// A transaction already tagged with the rule and date yields ErrOccurrenceExists
	// and nothing is written.
	RecordOccurrence(ctx context.Context, rule *models.RecurringRule, txn *models.Transaction) error
}

// Notifier delivers the "recurring transactions created" push to one user.
type Notifier interface {
	Send(ctx context.Context, pushToken string, count int, language string) bool
}

// RunReporter receives the report of a batch run that recorded errors.
type RunReporter interface {
	Report(ctx context.Context, report *RunReport) error
}
