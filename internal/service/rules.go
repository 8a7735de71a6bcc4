package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/recurring-service/internal/cache"
	"github.com/Dan9191/recurring-service/internal/models"
	"github.com/Dan9191/recurring-service/internal/recurrence"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RuleService handles user-initiated changes to recurring rules.
type RuleService struct {
	store       RuleStore
	invalidator cache.Invalidator
	log         *logrus.Logger
	loc         *time.Location
	anchor      RescheduleAnchor
	now         func() time.Time
}

// NewRuleService initializes a new rule service. Dates are normalized to
// midnight in loc.
func NewRuleService(store RuleStore, invalidator cache.Invalidator, log *logrus.Logger, loc *time.Location, anchor RescheduleAnchor) *RuleService {
	return &RuleService{
		store:       store,
		invalidator: invalidator,
		log:         log,
		loc:         loc,
		anchor:      anchor,
		now:         time.Now,
	}
}

// CreateRuleInput carries the fields of a new rule. FrequencyDays is the legacy
// period form and is only used when FrequencyUnit is empty.
type CreateRuleInput struct {
	AccountID         int64
	CategoryID        *int64
	Description       string
	Amount            decimal.Decimal
	Type              models.TransactionType
	Notes             *string
	StartDate         time.Time
	FrequencyUnit     recurrence.Unit
	FrequencyInterval int
	FrequencyDays     *int
	DayOfWeek         *int
	DayOfMonth        *int
	EndDate           *time.Time
	TotalOccurrences  *int
	IsInstallment     bool
}

// UpdateRuleInput carries a partial update; nil fields are left untouched.
type UpdateRuleInput struct {
	AccountID         *int64
	CategoryID        *int64
	Description       *string
	Amount            *decimal.Decimal
	Type              *models.TransactionType
	Notes             *string
	FrequencyUnit     *recurrence.Unit
	FrequencyInterval *int
	FrequencyDays     *int
	DayOfWeek         *int
	DayOfMonth        *int
	EndDate           *time.Time
	TotalOccurrences  *int
	IsInstallment     *bool
}

// CreateRule validates and stores a new rule. A rule starting today or earlier
// gets its first transaction immediately.
func (s *RuleService) CreateRule(ctx context.Context, userID int64, in CreateRuleInput) (*models.RecurringRule, error) {
	unit, interval := in.FrequencyUnit, in.FrequencyInterval
	if unit == "" && in.FrequencyDays != nil {
		if *in.FrequencyDays < 1 {
			return nil, fmt.Errorf("%w: frequency days must be at least 1", ErrBadRequest)
		}
		f := recurrence.FromDays(*in.FrequencyDays)
		unit, interval = f.Unit, f.Interval
	}

	start := s.midnight(in.StartDate)
	rule := &models.RecurringRule{
		UserID:            userID,
		AccountID:         in.AccountID,
		CategoryID:        in.CategoryID,
		Description:       in.Description,
		Amount:            in.Amount,
		Type:              in.Type,
		Notes:             in.Notes,
		StartDate:         start,
		FrequencyUnit:     unit,
		FrequencyInterval: interval,
		DayOfWeek:         in.DayOfWeek,
		DayOfMonth:        in.DayOfMonth,
		EndDate:           in.EndDate,
		TotalOccurrences:  in.TotalOccurrences,
		IsInstallment:     in.IsInstallment,
		NextDueDate:       start,
		IsActive:          true,
	}
	if rule.FrequencyUnit == recurrence.Monthly && rule.DayOfMonth == nil {
		day := start.Day()
		rule.DayOfMonth = &day
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, userID, &rule.AccountID, rule.CategoryID); err != nil {
		return nil, err
	}

	var first *models.Transaction
	if !start.After(s.today()) {
		first = rule.Occurrence(start)
		rule.OccurrencesGenerated = 1
		rule.IsFirstOccurrenceGenerated = true
	}

	if err := s.store.CreateRule(ctx, rule, first); err != nil {
		return nil, fmt.Errorf("failed to create recurring rule: %w", err)
	}

	events := []cache.Event{{Entity: cache.EntityRecurringRule, Operation: cache.OpCreate, UserID: userID}}
	if first != nil {
		events = append(events, cache.Event{Entity: cache.EntityTransaction, Operation: cache.OpCreate,
			UserID: userID, AccountID: rule.AccountID, Month: start})
	}
	s.invalidate(ctx, events...)

	s.log.WithFields(logrus.Fields{
		"rule_id":          rule.ID,
		"user_id":          userID,
		"first_occurrence": first != nil,
	}).Info("Recurring rule created")
	return rule, nil
}

// GetRule returns one of the user's rules.
func (s *RuleService) GetRule(ctx context.Context, userID, ruleID int64) (*models.RecurringRule, error) {
	rule, err := s.store.GetRule(ctx, ruleID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: recurring rule %d", ErrNotFound, ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recurring rule: %w", err)
	}
	return rule, nil
}

// ListRules returns all of the user's rules.
func (s *RuleService) ListRules(ctx context.Context, userID int64) ([]models.RecurringRule, error) {
	rules, err := s.store.ListRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring rules: %w", err)
	}
	return rules, nil
}

// UpdateRule applies a partial update. Editing the recurrence recomputes the
// next due date from the date selected by the service's RescheduleAnchor.
func (s *RuleService) UpdateRule(ctx context.Context, userID, ruleID int64, in UpdateRuleInput) (*models.RecurringRule, error) {
	rule, err := s.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}

	var account *int64
	if in.AccountID != nil && *in.AccountID != rule.AccountID {
		account = in.AccountID
	}
	var category *int64
	if in.CategoryID != nil && (rule.CategoryID == nil || *in.CategoryID != *rule.CategoryID) {
		category = in.CategoryID
	}
	if err := s.checkReferences(ctx, userID, account, category); err != nil {
		return nil, err
	}

	before := recurrenceOf(rule)
	if err := applyUpdate(rule, in); err != nil {
		return nil, err
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}

	if recurrenceOf(rule) != before {
		anchor := s.anchor.from(rule.NextDueDate, s.today())
		rule.NextDueDate = rule.Next(anchor, s.loc)
		s.log.WithFields(logrus.Fields{
			"rule_id":       rule.ID,
			"anchor":        s.anchor,
			"next_due_date": rule.NextDueDate.In(s.loc).Format(time.DateOnly),
		}).Info("Recurring rule rescheduled")
	}

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update recurring rule: %w", err)
	}
	s.invalidate(ctx, cache.Event{Entity: cache.EntityRecurringRule, Operation: cache.OpUpdate, UserID: userID})
	return rule, nil
}

// ToggleRule flips the rule's active flag.
func (s *RuleService) ToggleRule(ctx context.Context, userID, ruleID int64) (*models.RecurringRule, error) {
	rule, err := s.GetRule(ctx, userID, ruleID)
	if err != nil {
		return nil, err
	}
	rule.IsActive = !rule.IsActive
	if err := s.store.SetRuleActive(ctx, rule.ID, rule.IsActive); err != nil {
		return nil, fmt.Errorf("failed to toggle recurring rule: %w", err)
	}
	s.invalidate(ctx, cache.Event{Entity: cache.EntityRecurringRule, Operation: cache.OpUpdate, UserID: userID})

	s.log.WithFields(logrus.Fields{"rule_id": rule.ID, "active": rule.IsActive}).Info("Recurring rule toggled")
	return rule, nil
}

// DeleteRule removes a rule. A rule that already generated transactions is
// only deleted when cascade is set, and then its transactions go with it.
func (s *RuleService) DeleteRule(ctx context.Context, userID, ruleID int64, cascade bool) error {
	rule, err := s.GetRule(ctx, userID, ruleID)
	if err != nil {
		return err
	}

	count, err := s.store.CountRuleTransactions(ctx, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to count rule transactions: %w", err)
	}
	if count > 0 && !cascade {
		return fmt.Errorf("%w: recurring rule %d has %d generated transactions", ErrBadRequest, rule.ID, count)
	}

	if err := s.store.DeleteRule(ctx, rule.ID, cascade); err != nil {
		return fmt.Errorf("failed to delete recurring rule: %w", err)
	}

	events := []cache.Event{{Entity: cache.EntityRecurringRule, Operation: cache.OpDelete, UserID: userID}}
	if cascade && count > 0 {
		events = append(events, cache.Event{Entity: cache.EntityTransaction, Operation: cache.OpDelete,
			UserID: userID, AccountID: rule.AccountID})
	}
	s.invalidate(ctx, events...)

	s.log.WithFields(logrus.Fields{"rule_id": rule.ID, "cascade": cascade, "transactions": count}).Info("Recurring rule deleted")
	return nil
}

func (s *RuleService) checkReferences(ctx context.Context, userID int64, accountID, categoryID *int64) error {
	if accountID != nil {
		ok, err := s.store.AccountOwnedBy(ctx, *accountID, userID)
		if err != nil {
			return fmt.Errorf("failed to check account: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: account %d", ErrNotFound, *accountID)
		}
	}
	if categoryID != nil {
		ok, err := s.store.CategoryExists(ctx, *categoryID)
		if err != nil {
			return fmt.Errorf("failed to check category: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: category %d", ErrNotFound, *categoryID)
		}
	}
	return nil
}

func (s *RuleService) invalidate(ctx context.Context, events ...cache.Event) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, events...); err != nil {
		s.log.WithError(err).Warn("Failed to invalidate cached views")
	}
}

func (s *RuleService) midnight(t time.Time) time.Time {
	return recurrence.Midnight(t.In(s.loc))
}

func (s *RuleService) today() time.Time {
	return s.midnight(s.now())
}

type schedule struct {
	unit       recurrence.Unit
	interval   int
	dayOfWeek  int
	dayOfMonth int
}

func recurrenceOf(r *models.RecurringRule) schedule {
	sp := schedule{unit: r.FrequencyUnit, interval: r.FrequencyInterval, dayOfWeek: -1, dayOfMonth: -1}
	if r.DayOfWeek != nil {
		sp.dayOfWeek = *r.DayOfWeek
	}
	if r.DayOfMonth != nil {
		sp.dayOfMonth = *r.DayOfMonth
	}
	return sp
}

func applyUpdate(r *models.RecurringRule, in UpdateRuleInput) error {
	if in.AccountID != nil {
		r.AccountID = *in.AccountID
	}
	if in.CategoryID != nil {
		r.CategoryID = in.CategoryID
	}
	if in.Description != nil {
		r.Description = *in.Description
	}
	if in.Amount != nil {
		r.Amount = *in.Amount
	}
	if in.Type != nil {
		r.Type = *in.Type
	}
	if in.Notes != nil {
		r.Notes = in.Notes
	}
	if in.FrequencyDays != nil && in.FrequencyUnit == nil {
		if *in.FrequencyDays < 1 {
			return fmt.Errorf("%w: frequency days must be at least 1", ErrBadRequest)
		}
		f := recurrence.FromDays(*in.FrequencyDays)
		r.FrequencyUnit, r.FrequencyInterval = f.Unit, f.Interval
	}
	if in.FrequencyUnit != nil {
		r.FrequencyUnit = *in.FrequencyUnit
	}
	if in.FrequencyInterval != nil {
		r.FrequencyInterval = *in.FrequencyInterval
	}
	if in.DayOfWeek != nil {
		r.DayOfWeek = in.DayOfWeek
	}
	if in.DayOfMonth != nil {
		r.DayOfMonth = in.DayOfMonth
	}
	if in.EndDate != nil {
		r.EndDate = in.EndDate
	}
	if in.TotalOccurrences != nil {
		r.TotalOccurrences = in.TotalOccurrences
	}
	if in.IsInstallment != nil {
		r.IsInstallment = *in.IsInstallment
	}
	return nil
}

func validateRule(r *models.RecurringRule) error {
	switch {
	case r.Description == "":
		return fmt.Errorf("%w: description is required", ErrBadRequest)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrBadRequest)
	case !r.Type.Valid():
		return fmt.Errorf("%w: unknown transaction type %q", ErrBadRequest, r.Type)
	case !r.FrequencyUnit.Valid():
		return fmt.Errorf("%w: unknown frequency unit %q", ErrBadRequest, r.FrequencyUnit)
	case r.FrequencyInterval < 1:
		return fmt.Errorf("%w: frequency interval must be at least 1", ErrBadRequest)
	case r.DayOfWeek != nil && (*r.DayOfWeek < 0 || *r.DayOfWeek > 6):
		return fmt.Errorf("%w: day of week must be between 0 and 6", ErrBadRequest)
	case r.DayOfMonth != nil && (*r.DayOfMonth < 1 || *r.DayOfMonth > 31):
		return fmt.Errorf("%w: day of month must be between 1 and 31", ErrBadRequest)
	case r.IsInstallment && (r.TotalOccurrences == nil || *r.TotalOccurrences < 1):
		return fmt.Errorf("%w: installments need a total number of occurrences", ErrBadRequest)
	case r.TotalOccurrences != nil && *r.TotalOccurrences < 0:
		return fmt.Errorf("%w: total occurrences cannot be negative", ErrBadRequest)
	case r.EndDate != nil && r.EndDate.Before(r.StartDate):
		return fmt.Errorf("%w: end date is before start date", ErrBadRequest)
	}
	return nil
}
