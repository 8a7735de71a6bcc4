package cache

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBackend struct {
	deleted []string
	err     error
}

func (b *recordingBackend) Delete(_ context.Context, keys ...string) error {
	b.deleted = append(b.deleted, keys...)
	return b.err
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestKeys(t *testing.T) {
	month := time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, []string{
		"user:7:transactions",
		"user:7:summary:2024-03",
		"user:7:budgets:2024-03",
		"user:7:account:3:balance",
	}, Keys(Event{Entity: EntityTransaction, Operation: OpCreate, UserID: 7, AccountID: 3, Month: month}))

	assert.Equal(t, []string{
		"user:7:transactions",
		"user:7:summary:*",
		"user:7:budgets:*",
	}, Keys(Event{Entity: EntityTransaction, Operation: OpDelete, UserID: 7}))

	assert.Equal(t, []string{"user:7:recurring"}, Keys(Event{Entity: EntityRecurringRule, Operation: OpUpdate, UserID: 7}))
	assert.Nil(t, Keys(Event{Entity: "goal", UserID: 7}))
}

func TestKeyInvalidator_DeduplicatesKeys(t *testing.T) {
	backend := &recordingBackend{}
	inv := NewKeyInvalidator(backend, quietLogger())

	err := inv.Invalidate(context.Background(),
		Event{Entity: EntityRecurringRule, Operation: OpUpdate, UserID: 1},
		Event{Entity: EntityRecurringRule, Operation: OpDelete, UserID: 1},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:1:recurring"}, backend.deleted)
}

func TestKeyInvalidator_BackendError(t *testing.T) {
	inv := NewKeyInvalidator(&recordingBackend{err: errors.New("redis down")}, quietLogger())

	err := inv.Invalidate(context.Background(), Event{Entity: EntityRecurringRule, UserID: 1})
	assert.ErrorContains(t, err, "redis down")
}

func TestKeyInvalidator_NilBackend(t *testing.T) {
	inv := NewKeyInvalidator(nil, quietLogger())
	assert.NoError(t, inv.Invalidate(context.Background(), Event{Entity: EntityTransaction, UserID: 2}))
}
