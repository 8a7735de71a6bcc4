package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/recurring-service/internal/cache"
	"github.com/Dan9191/recurring-service/internal/models"
	"github.com/Dan9191/recurring-service/internal/recurrence"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotificationTally counts push deliveries of one run.
type NotificationTally struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// RunReport summarizes one batch run.
type RunReport struct {
	ProcessedRules      int               `json:"processedRules"`
	CreatedTransactions int               `json:"createdTransactions"`
	Notifications       NotificationTally `json:"notifications"`
	Errors              []string          `json:"errors"`
	StartedAt           time.Time         `json:"-"`
}

type outcome int

const (
	outcomeLeased outcome = iota
	outcomeDeactivated
	outcomeAdvanced
	outcomeGenerated
)

// BatchProcessor turns every due occurrence of every active rule into a ledger
// transaction. Rules are processed one at a time; a failing rule is recorded in
// the report and the run moves on.
type BatchProcessor struct {
	ledger      Ledger
	notifier    Notifier
	reporter    RunReporter
	invalidator cache.Invalidator
	log         *logrus.Logger
	loc         *time.Location
	leaseTTL    time.Duration
	now         func() time.Time
	newKey      func() string
}

// NewBatchProcessor creates a batch processor. notifier and reporter may be nil.
func NewBatchProcessor(ledger Ledger, notifier Notifier, reporter RunReporter, invalidator cache.Invalidator,
	log *logrus.Logger, loc *time.Location, leaseTTL time.Duration) *BatchProcessor {
	return &BatchProcessor{
		ledger:      ledger,
		notifier:    notifier,
		reporter:    reporter,
		invalidator: invalidator,
		log:         log,
		loc:         loc,
		leaseTTL:    leaseTTL,
		now:         time.Now,
		newKey:      func() string { return uuid.NewString() },
	}
}

type pendingPush struct {
	token    string
	language string
	count    int
}

// Run processes all rules due at the current time. The returned error is only
// set when the due rules could not be loaded at all; per-rule failures are
// listed in the report.
func (p *BatchProcessor) Run(ctx context.Context) (*RunReport, error) {
	now := p.now()
	report := &RunReport{Errors: []string{}, StartedAt: now}

	due, err := p.ledger.ListDueRules(ctx, now)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("Failed to fetch due rules: %v", err))
		p.log.WithError(err).Error("Recurring batch aborted")
		return report, fmt.Errorf("failed to fetch due rules: %w", err)
	}
	p.log.WithField("due_rules", len(due)).Info("Recurring batch started")

	pending := make(map[int64]*pendingPush)
	var order []int64

	for i := range due {
		rule, owner := &due[i].Rule, &due[i].Owner
		if owner.Deleted {
			continue
		}

		result, err := p.processRule(ctx, rule, now)
		if err != nil {
			msg := fmt.Sprintf("Failed to process rule %d: %v", rule.ID, err)
			report.Errors = append(report.Errors, msg)
			p.log.WithFields(logrus.Fields{"rule_id": rule.ID, "user_id": rule.UserID}).WithError(err).Error("Failed to process recurring rule")
			continue
		}
		if result == outcomeLeased {
			p.log.WithField("rule_id", rule.ID).Info("Recurring rule leased by another run, skipping")
			continue
		}

		report.ProcessedRules++
		if result != outcomeGenerated {
			continue
		}
		report.CreatedTransactions++

		if owner.CanReceivePush() {
			pp, ok := pending[owner.ID]
			if !ok {
				pp = &pendingPush{token: *owner.PushToken, language: owner.Language}
				pending[owner.ID] = pp
				order = append(order, owner.ID)
			}
			pp.count++
		}
	}

	p.notify(ctx, order, pending, report)

	p.log.WithFields(logrus.Fields{
		"processed_rules":      report.ProcessedRules,
		"created_transactions": report.CreatedTransactions,
		"notifications_sent":   report.Notifications.Sent,
		"notifications_failed": report.Notifications.Failed,
		"errors":               len(report.Errors),
		"duration":             p.now().Sub(now).String(),
	}).Info("Recurring batch finished")

	if len(report.Errors) > 0 && p.reporter != nil {
		if err := p.reporter.Report(ctx, report); err != nil {
			p.log.WithError(err).Warn("Failed to send run report")
		}
	}
	return report, nil
}

// processRule runs one rule through deactivation, the first-occurrence guard
// and generation while holding its processing lease.
func (p *BatchProcessor) processRule(ctx context.Context, rule *models.RecurringRule, now time.Time) (result outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	key := p.newKey()
	claimed, err := p.ledger.ClaimRule(ctx, rule.ID, key, now.Add(p.leaseTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to claim rule: %w", err)
	}
	if !claimed {
		return outcomeLeased, nil
	}
	defer func() {
		if err := p.ledger.ReleaseRule(ctx, rule.ID, key); err != nil {
			p.log.WithField("rule_id", rule.ID).WithError(err).Warn("Failed to release recurring rule lease")
		}
	}()

	log := p.log.WithFields(logrus.Fields{"rule_id": rule.ID, "user_id": rule.UserID})

	if rule.Exhausted(now) {
		if err := p.ledger.DeactivateRule(ctx, rule.ID); err != nil {
			return 0, err
		}
		p.invalidate(ctx, cache.Event{Entity: cache.EntityRecurringRule, Operation: cache.OpUpdate, UserID: rule.UserID})
		log.Info("Recurring rule deactivated")
		return outcomeDeactivated, nil
	}

	if p.firstOccurrenceRecorded(rule) {
		next := rule.Next(rule.NextDueDate, p.loc)
		if err := p.ledger.AdvanceRule(ctx, rule.ID, next); err != nil {
			return 0, err
		}
		log.WithField("next_due_date", next.In(p.loc).Format(time.DateOnly)).Info("First occurrence already recorded, advanced rule")
		return outcomeAdvanced, nil
	}

	updated := *rule
	updated.ProcessingKey = &key
	txn := updated.Occurrence(rule.NextDueDate)
	updated.NextDueDate = rule.Next(rule.NextDueDate, p.loc)
	updated.OccurrencesGenerated++
	updated.LastProcessedAt = &now

	err = p.ledger.RecordOccurrence(ctx, &updated, txn)
	if errors.Is(err, ErrOccurrenceExists) {
		if err := p.ledger.AdvanceRule(ctx, rule.ID, updated.NextDueDate); err != nil {
			return 0, err
		}
		log.WithFields(logrus.Fields{
			"date":          txn.Date.In(p.loc).Format(time.DateOnly),
			"next_due_date": updated.NextDueDate.In(p.loc).Format(time.DateOnly),
		}).Warn("Occurrence already recorded, advanced rule")
		return outcomeAdvanced, nil
	}
	if err != nil {
		return 0, err
	}
	p.invalidate(ctx,
		cache.Event{Entity: cache.EntityTransaction, Operation: cache.OpCreate, UserID: rule.UserID, AccountID: rule.AccountID, Month: txn.Date},
		cache.Event{Entity: cache.EntityRecurringRule, Operation: cache.OpUpdate, UserID: rule.UserID},
	)
	log.WithFields(logrus.Fields{
		"transaction_id": txn.ID,
		"date":           txn.Date.In(p.loc).Format(time.DateOnly),
		"next_due_date":  updated.NextDueDate.In(p.loc).Format(time.DateOnly),
	}).Info("Recurring transaction created")
	return outcomeGenerated, nil
}

// firstOccurrenceRecorded reports whether the rule's first occurrence was
// written at creation time and the schedule has not moved since.
func (p *BatchProcessor) firstOccurrenceRecorded(rule *models.RecurringRule) bool {
	return rule.OccurrencesGenerated == 1 &&
		rule.IsFirstOccurrenceGenerated &&
		recurrence.SameDay(rule.NextDueDate, rule.StartDate, p.loc)
}

func (p *BatchProcessor) notify(ctx context.Context, order []int64, pending map[int64]*pendingPush, report *RunReport) {
	if p.notifier == nil {
		return
	}
	for _, userID := range order {
		pp := pending[userID]
		if p.notifier.Send(ctx, pp.token, pp.count, pp.language) {
			report.Notifications.Sent++
		} else {
			report.Notifications.Failed++
			p.log.WithField("user_id", userID).Warn("Failed to send recurring transactions notification")
		}
	}
}

func (p *BatchProcessor) invalidate(ctx context.Context, events ...cache.Event) {
	if p.invalidator == nil {
		return
	}
	if err := p.invalidator.Invalidate(ctx, events...); err != nil {
		p.log.WithError(err).Warn("Failed to invalidate cached views")
	}
}
