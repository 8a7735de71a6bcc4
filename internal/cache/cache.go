// Package cache turns domain mutations into read-model cache keys.
//
// Callers describe what changed with an Event; Keys is the only place that
// knows how derived views are named.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Entity is the kind of record a mutation touched.
type Entity string

const (
	EntityTransaction   Entity = "transaction"
	EntityRecurringRule Entity = "recurring_rule"
)

// Operation is what happened to the entity.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Event describes one mutation. Month is the month the affected ledger entries
// fall in; zero means "any month".
type Event struct {
	Entity    Entity
	Operation Operation
	UserID    int64
	AccountID int64
	Month     time.Time
}

// Invalidator drops the cached views derived from the given mutations.
type Invalidator interface {
	Invalidate(ctx context.Context, events ...Event) error
}

// Keys resolves an event to the concrete keys it invalidates.
func Keys(e Event) []string {
	month := "*"
	if !e.Month.IsZero() {
		month = e.Month.Format("2006-01")
	}

	switch e.Entity {
	case EntityTransaction:
		keys := []string{
			fmt.Sprintf("user:%d:transactions", e.UserID),
			fmt.Sprintf("user:%d:summary:%s", e.UserID, month),
			fmt.Sprintf("user:%d:budgets:%s", e.UserID, month),
		}
		if e.AccountID != 0 {
			keys = append(keys, fmt.Sprintf("user:%d:account:%d:balance", e.UserID, e.AccountID))
		}
		return keys
	case EntityRecurringRule:
		return []string{fmt.Sprintf("user:%d:recurring", e.UserID)}
	}
	return nil
}

// KeyDeleter removes keys from a cache backend.
type KeyDeleter interface {
	Delete(ctx context.Context, keys ...string) error
}

// KeyInvalidator resolves events with Keys and deletes them from a backend.
// With a nil backend it deletes nothing and only logs the keys at debug level.
type KeyInvalidator struct {
	backend KeyDeleter
	log     *logrus.Logger
}

// NewKeyInvalidator creates a KeyInvalidator.
func NewKeyInvalidator(backend KeyDeleter, log *logrus.Logger) *KeyInvalidator {
	return &KeyInvalidator{backend: backend, log: log}
}

// Invalidate implements Invalidator.
func (i *KeyInvalidator) Invalidate(ctx context.Context, events ...Event) error {
	seen := make(map[string]struct{})
	var keys []string
	for _, e := range events {
		for _, k := range Keys(e) {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	i.log.WithField("keys", keys).Debug("Invalidating cached views")
	if i.backend == nil {
		return nil
	}
	if err := i.backend.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to invalidate %d keys: %w", len(keys), err)
	}
	return nil
}

var _ Invalidator = (*KeyInvalidator)(nil)
