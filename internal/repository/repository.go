package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/recurring-service/internal/database"
	"github.com/Dan9191/recurring-service/internal/models"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/lib/pq"
)

// ErrLeaseLost is returned when a rule's processing lease no longer belongs to
// the caller.
var ErrLeaseLost = errors.New("processing lease lost")

const uniqueViolation = "23505"

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const ruleColumns = `
	r.id, r.user_id, r.account_id, r.category_id, r.description, r.amount, r.type, r.notes,
	r.start_date, r.frequency_unit, r.frequency_interval, r.day_of_week, r.day_of_month,
	r.end_date, r.total_occurrences, r.is_installment,
	r.next_due_date, r.occurrences_generated, r.is_first_occurrence_generated, r.last_processed_at, r.is_active,
	r.processing_key, r.processing_expires_at, r.created_at, r.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func ruleFields(r *models.RecurringRule) []any {
	return []any{
		&r.ID, &r.UserID, &r.AccountID, &r.CategoryID, &r.Description, &r.Amount, &r.Type, &r.Notes,
		&r.StartDate, &r.FrequencyUnit, &r.FrequencyInterval, &r.DayOfWeek, &r.DayOfMonth,
		&r.EndDate, &r.TotalOccurrences, &r.IsInstallment,
		&r.NextDueDate, &r.OccurrencesGenerated, &r.IsFirstOccurrenceGenerated, &r.LastProcessedAt, &r.IsActive,
		&r.ProcessingKey, &r.ProcessingExpiresAt, &r.CreatedAt, &r.UpdatedAt,
	}
}

func scanRule(s scanner) (*models.RecurringRule, error) {
	rule := &models.RecurringRule{}
	if err := s.Scan(ruleFields(rule)...); err != nil {
		return nil, err
	}
	return rule, nil
}

// AccountOwnedBy reports whether the account exists and belongs to the user
func (r *Repository) AccountOwnedBy(ctx context.Context, accountID, userID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM finance.accounts WHERE id = $1 AND user_id = $2)`
	if err := r.db.QueryRowContext(ctx, query, accountID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check account ownership: %w", err)
	}
	return exists, nil
}

// CategoryExists reports whether the category exists
func (r *Repository) CategoryExists(ctx context.Context, categoryID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM finance.categories WHERE id = $1)`
	if err := r.db.QueryRowContext(ctx, query, categoryID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check category: %w", err)
	}
	return exists, nil
}

// CreateRule inserts a rule and, if given, its first occurrence
func (r *Repository) CreateRule(ctx context.Context, rule *models.RecurringRule, first *models.Transaction) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO finance.recurring_rules (
				user_id, account_id, category_id, description, amount, type, notes,
				start_date, frequency_unit, frequency_interval, day_of_week, day_of_month,
				end_date, total_occurrences, is_installment,
				next_due_date, occurrences_generated, is_first_occurrence_generated, last_processed_at, is_active,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
				CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			RETURNING id, created_at, updated_at`
		err := tx.QueryRowContext(ctx, query,
			rule.UserID, rule.AccountID, rule.CategoryID, rule.Description, rule.Amount, rule.Type, rule.Notes,
			rule.StartDate, rule.FrequencyUnit, rule.FrequencyInterval, rule.DayOfWeek, rule.DayOfMonth,
			rule.EndDate, rule.TotalOccurrences, rule.IsInstallment,
			rule.NextDueDate, rule.OccurrencesGenerated, rule.IsFirstOccurrenceGenerated, rule.LastProcessedAt, rule.IsActive,
		).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create recurring rule: %w", err)
		}

		if first == nil {
			return nil
		}
		ruleID := rule.ID
		first.RecurringRuleID = &ruleID
		return insertTransaction(ctx, tx, first)
	})
}

// GetRule retrieves a rule owned by the user
func (r *Repository) GetRule(ctx context.Context, ruleID, userID int64) (*models.RecurringRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM finance.recurring_rules r
		WHERE r.id = $1 AND r.user_id = $2`
	rule, err := scanRule(r.db.QueryRowContext(ctx, query, ruleID, userID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurring rule: %w", err)
	}
	return rule, nil
}

// ListRules retrieves all rules of a user
func (r *Repository) ListRules(ctx context.Context, userID int64) ([]models.RecurringRule, error) {
	query := `SELECT` + ruleColumns + `
		FROM finance.recurring_rules r
		WHERE r.user_id = $1
		ORDER BY r.id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring rules: %w", err)
	}
	defer rows.Close()

	var rules []models.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring rule: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list recurring rules: %w", err)
	}
	return rules, nil
}

// UpdateRule persists the editable fields and the schedule of a rule
func (r *Repository) UpdateRule(ctx context.Context, rule *models.RecurringRule) error {
	query := `
		UPDATE finance.recurring_rules SET
			account_id = $2, category_id = $3, description = $4, amount = $5, type = $6, notes = $7,
			frequency_unit = $8, frequency_interval = $9, day_of_week = $10, day_of_month = $11,
			end_date = $12, total_occurrences = $13, is_installment = $14,
			next_due_date = $15, is_active = $16, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING updated_at`
	err := r.db.QueryRowContext(ctx, query, rule.ID,
		rule.AccountID, rule.CategoryID, rule.Description, rule.Amount, rule.Type, rule.Notes,
		rule.FrequencyUnit, rule.FrequencyInterval, rule.DayOfWeek, rule.DayOfMonth,
		rule.EndDate, rule.TotalOccurrences, rule.IsInstallment,
		rule.NextDueDate, rule.IsActive,
	).Scan(&rule.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update recurring rule: %w", err)
	}
	return nil
}

// SetRuleActive pauses or resumes a rule
func (r *Repository) SetRuleActive(ctx context.Context, ruleID int64, active bool) error {
	query := `
		UPDATE finance.recurring_rules
		SET is_active = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	return r.execOne(ctx, "failed to toggle recurring rule", query, ruleID, active)
}

// CountRuleTransactions counts transactions generated from a rule
func (r *Repository) CountRuleTransactions(ctx context.Context, ruleID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM finance.transactions WHERE recurring_rule_id = $1`
	if err := r.db.QueryRowContext(ctx, query, ruleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rule transactions: %w", err)
	}
	return count, nil
}

// DeleteRule deletes a rule, and its transactions when cascade is set
func (r *Repository) DeleteRule(ctx context.Context, ruleID int64, cascade bool) error {
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if cascade {
			if _, err := tx.ExecContext(ctx, `DELETE FROM finance.transactions WHERE recurring_rule_id = $1`, ruleID); err != nil {
				return fmt.Errorf("failed to delete rule transactions: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM finance.recurring_rules WHERE id = $1`, ruleID)
		if err != nil {
			return fmt.Errorf("failed to delete recurring rule: %w", err)
		}
		return requireOne(res, "failed to delete recurring rule")
	})
}

// ListDueRules retrieves active rules due at now, with their owners
func (r *Repository) ListDueRules(ctx context.Context, now time.Time) ([]models.DueRule, error) {
	query := `SELECT` + ruleColumns + `,
			u.id, u.email, u.username, u.language, u.push_token, u.notifications_enabled, u.deleted
		FROM finance.recurring_rules r
		JOIN finance.users u ON u.id = r.user_id
		WHERE r.is_active AND r.next_due_date <= $1
		ORDER BY r.next_due_date, r.id`
	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due rules: %w", err)
	}
	defer rows.Close()

	var due []models.DueRule
	for rows.Next() {
		var d models.DueRule
		u := &d.Owner
		dest := append(ruleFields(&d.Rule),
			&u.ID, &u.Email, &u.Username, &u.Language, &u.PushToken, &u.NotificationsEnabled, &u.Deleted)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan due rule: %w", err)
		}
		due = append(due, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list due rules: %w", err)
	}
	return due, nil
}

// ClaimRule takes the processing lease on a rule if it is free or expired
func (r *Repository) ClaimRule(ctx context.Context, ruleID int64, key string, until time.Time) (bool, error) {
	query := `
		UPDATE finance.recurring_rules
		SET processing_key = $2, processing_expires_at = $3
		WHERE id = $1
		  AND (processing_key IS NULL OR processing_expires_at < CURRENT_TIMESTAMP)`
	res, err := r.db.ExecContext(ctx, query, ruleID, key, until)
	if err != nil {
		return false, fmt.Errorf("failed to claim recurring rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim recurring rule: %w", err)
	}
	return n == 1, nil
}

// ReleaseRule drops the lease if it is still held with key
func (r *Repository) ReleaseRule(ctx context.Context, ruleID int64, key string) error {
	query := `
		UPDATE finance.recurring_rules
		SET processing_key = NULL, processing_expires_at = NULL
		WHERE id = $1 AND processing_key = $2`
	if _, err := r.db.ExecContext(ctx, query, ruleID, key); err != nil {
		return fmt.Errorf("failed to release recurring rule: %w", err)
	}
	return nil
}

// DeactivateRule marks a finished rule inactive
func (r *Repository) DeactivateRule(ctx context.Context, ruleID int64) error {
	query := `
		UPDATE finance.recurring_rules
		SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	return r.execOne(ctx, "failed to deactivate recurring rule", query, ruleID)
}

// AdvanceRule moves a rule's next due date without generating a transaction
func (r *Repository) AdvanceRule(ctx context.Context, ruleID int64, next time.Time) error {
	query := `
		UPDATE finance.recurring_rules
		SET next_due_date = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`
	return r.execOne(ctx, "failed to advance recurring rule", query, ruleID, next)
}

// RecordOccurrence inserts a generated transaction and the rule's new progress
// in one transaction, provided the caller still holds the rule's lease
func (r *Repository) RecordOccurrence(ctx context.Context, rule *models.RecurringRule, txn *models.Transaction) error {
	if rule.ProcessingKey == nil {
		return ErrLeaseLost
	}
	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE finance.recurring_rules
			SET next_due_date = $2, occurrences_generated = $3, last_processed_at = $4, updated_at = CURRENT_TIMESTAMP
			WHERE id = $1 AND processing_key = $5`
		res, err := tx.ExecContext(ctx, query,
			rule.ID, rule.NextDueDate, rule.OccurrencesGenerated, rule.LastProcessedAt, *rule.ProcessingKey)
		if err != nil {
			return fmt.Errorf("failed to update recurring rule: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to update recurring rule: %w", err)
		} else if n != 1 {
			return ErrLeaseLost
		}
		return insertTransaction(ctx, tx, txn)
	})
}

func insertTransaction(ctx context.Context, tx *sql.Tx, txn *models.Transaction) error {
	query := `
		INSERT INTO finance.transactions (
			user_id, account_id, category_id, amount, type, description, notes, date,
			recurring_rule_id, is_recurring_instance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CURRENT_TIMESTAMP)
		RETURNING id, created_at`
	err := tx.QueryRowContext(ctx, query,
		txn.UserID, txn.AccountID, txn.CategoryID, txn.Amount, txn.Type, txn.Description, txn.Notes, txn.Date,
		txn.RecurringRuleID, txn.IsRecurringInstance,
	).Scan(&txn.ID, &txn.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return service.ErrOccurrenceExists
	}
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *Repository) execOne(ctx context.Context, msg, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return requireOne(res, msg)
}

func requireOne(res sql.Result, msg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", msg, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

var (
	_ service.RuleStore = (*Repository)(nil)
	_ service.Ledger    = (*Repository)(nil)
)
