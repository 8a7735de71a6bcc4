package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/recurring-service/internal/cache"
	"github.com/Dan9191/recurring-service/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory RuleStore and Ledger.
type memStore struct {
	mu           sync.Mutex
	rules        map[int64]*models.RecurringRule
	transactions []*models.Transaction
	users        map[int64]models.User
	accounts     map[int64]int64 // account id -> owner
	categories   map[int64]bool
	leases       map[int64]string
	nextRuleID   int64
	nextTxnID    int64

	listErr   error
	failRules map[int64]error // RecordOccurrence / AdvanceRule failures per rule
	heldRules map[int64]bool  // leased by someone else
}

func newMemStore() *memStore {
	return &memStore{
		rules:      make(map[int64]*models.RecurringRule),
		users:      make(map[int64]models.User),
		accounts:   make(map[int64]int64),
		categories: make(map[int64]bool),
		leases:     make(map[int64]string),
		failRules:  make(map[int64]error),
		heldRules:  make(map[int64]bool),
	}
}

func (m *memStore) AccountOwnedBy(_ context.Context, accountID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.accounts[accountID]
	return ok && owner == userID, nil
}

func (m *memStore) CategoryExists(_ context.Context, categoryID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.categories[categoryID], nil
}

func (m *memStore) CreateRule(_ context.Context, rule *models.RecurringRule, first *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRuleID++
	rule.ID = m.nextRuleID
	stored := *rule
	m.rules[rule.ID] = &stored
	if first != nil {
		id := rule.ID
		first.RecurringRuleID = &id
		m.insertTxn(first)
	}
	return nil
}

func (m *memStore) GetRule(_ context.Context, ruleID, userID int64) (*models.RecurringRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[ruleID]
	if !ok || r.UserID != userID {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) ListRules(_ context.Context, userID int64) ([]models.RecurringRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RecurringRule
	for _, r := range m.rules {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateRule(_ context.Context, rule *models.RecurringRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *memStore) SetRuleActive(_ context.Context, ruleID int64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleID].IsActive = active
	return nil
}

func (m *memStore) CountRuleTransactions(_ context.Context, ruleID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ruleTxns(ruleID)), nil
}

func (m *memStore) DeleteRule(_ context.Context, ruleID int64, cascade bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cascade {
		kept := m.transactions[:0]
		for _, t := range m.transactions {
			if t.RecurringRuleID == nil || *t.RecurringRuleID != ruleID {
				kept = append(kept, t)
			}
		}
		m.transactions = kept
	}
	delete(m.rules, ruleID)
	return nil
}

func (m *memStore) ListDueRules(_ context.Context, now time.Time) ([]models.DueRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.DueRule
	for _, r := range m.rules {
		if r.IsActive && !r.NextDueDate.After(now) {
			out = append(out, models.DueRule{Rule: *r, Owner: m.users[r.UserID]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.ID < out[j].Rule.ID })
	return out, nil
}

func (m *memStore) ClaimRule(_ context.Context, ruleID int64, key string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.heldRules[ruleID] {
		return false, nil
	}
	if _, held := m.leases[ruleID]; held {
		return false, nil
	}
	m.leases[ruleID] = key
	return true, nil
}

func (m *memStore) ReleaseRule(_ context.Context, ruleID int64, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.leases[ruleID] == key {
		delete(m.leases, ruleID)
	}
	return nil
}

func (m *memStore) DeactivateRule(_ context.Context, ruleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleID].IsActive = false
	return nil
}

func (m *memStore) AdvanceRule(_ context.Context, ruleID int64, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failRules[ruleID]; err != nil {
		return err
	}
	m.rules[ruleID].NextDueDate = next
	return nil
}

func (m *memStore) RecordOccurrence(_ context.Context, rule *models.RecurringRule, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failRules[rule.ID]; err != nil {
		return err
	}
	if rule.ProcessingKey == nil || m.leases[rule.ID] != *rule.ProcessingKey {
		return errors.New("lease lost")
	}
	for _, t := range m.ruleTxns(rule.ID) {
		if t.Date.Equal(txn.Date) {
			return ErrOccurrenceExists
		}
	}
	m.insertTxn(txn)
	cp := *rule
	cp.ProcessingKey = nil
	m.rules[rule.ID] = &cp
	return nil
}

func (m *memStore) insertTxn(t *models.Transaction) {
	m.nextTxnID++
	t.ID = m.nextTxnID
	cp := *t
	m.transactions = append(m.transactions, &cp)
}

func (m *memStore) ruleTxns(ruleID int64) []*models.Transaction {
	var out []*models.Transaction
	for _, t := range m.transactions {
		if t.RecurringRuleID != nil && *t.RecurringRuleID == ruleID {
			out = append(out, t)
		}
	}
	return out
}

func (m *memStore) rule(id int64) models.RecurringRule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.rules[id]
}

// storeInUTC rewrites the rule's dates the way postgres hands them back:
// same instant, session zone UTC.
func (m *memStore) storeInUTC(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.rules[id]
	r.StartDate = r.StartDate.UTC()
	r.NextDueDate = r.NextDueDate.UTC()
}

func (m *memStore) txnsFor(ruleID int64) []*models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ruleTxns(ruleID)
}

// recordingInvalidator collects invalidation events.
type recordingInvalidator struct {
	events []cache.Event
}

func (r *recordingInvalidator) Invalidate(_ context.Context, events ...cache.Event) error {
	r.events = append(r.events, events...)
	return nil
}

type pushCall struct {
	token    string
	count    int
	language string
}

// fakeNotifier records sends and fails for tokens in fail.
type fakeNotifier struct {
	calls []pushCall
	fail  map[string]bool
}

func (f *fakeNotifier) Send(_ context.Context, token string, count int, language string) bool {
	f.calls = append(f.calls, pushCall{token, count, language})
	return !f.fail[token]
}

type fakeReporter struct {
	reports []*RunReport
}

func (f *fakeReporter) Report(_ context.Context, report *RunReport) error {
	f.reports = append(f.reports, report)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func ptr[T any](v T) *T { return &v }

var (
	_ RuleStore = (*memStore)(nil)
	_ Ledger    = (*memStore)(nil)
)
