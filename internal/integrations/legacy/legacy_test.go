package legacy

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/Dan9191/recurring-service/internal/models"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCreator struct {
	inputs []service.CreateRuleInput
	failOn string
}

func (r *recordingCreator) CreateRule(_ context.Context, _ int64, in service.CreateRuleInput) (*models.RecurringRule, error) {
	if in.Description == r.failOn {
		return nil, errors.New("account not found")
	}
	r.inputs = append(r.inputs, in)
	return &models.RecurringRule{ID: int64(len(r.inputs))}, nil
}

func newImporter(c RuleCreator) *Importer {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewImporter(c, time.UTC, log)
}

const export = `<?xml version="1.0" encoding="utf-8"?>
<recurringRules>
  <rule>
    <accountId>10</accountId>
    <categoryId>5</categoryId>
    <description>Rent</description>
    <amount>-1200.50</amount>
    <startDate>2024-01-31</startDate>
    <frequencyDays>30</frequencyDays>
    <endDate>2024-12-31</endDate>
  </rule>
  <rule>
    <accountId>10</accountId>
    <description>Salary</description>
    <amount>5000</amount>
    <type>income</type>
    <startDate>2024-02-01</startDate>
    <frequencyDays>14</frequencyDays>
  </rule>
  <rule>
    <accountId>11</accountId>
    <description>Phone</description>
    <amount>45.99</amount>
    <type>EXPENSE</type>
    <startDate>2024-02-10</startDate>
    <frequencyDays>30</frequencyDays>
    <totalOccurrences>12</totalOccurrences>
    <notes>24-month plan</notes>
  </rule>
</recurringRules>`

func TestImport(t *testing.T) {
	c := &recordingCreator{}

	res, err := newImporter(c).Import(context.Background(), 1, strings.NewReader(export))

	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
	assert.Zero(t, res.Failed)
	require.Len(t, c.inputs, 3)

	rent := c.inputs[0]
	assert.Equal(t, int64(10), rent.AccountID)
	assert.Equal(t, int64(5), *rent.CategoryID)
	assert.Equal(t, models.Expense, rent.Type)
	assert.True(t, rent.Amount.Equal(decimal.RequireFromString("1200.50")))
	assert.Equal(t, 30, *rent.FrequencyDays)
	assert.Empty(t, rent.FrequencyUnit)
	assert.True(t, rent.StartDate.Equal(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, rent.EndDate)
	assert.True(t, rent.EndDate.Equal(time.Date(2024, 12, 31, 23, 59, 59, 999999000, time.UTC)))

	salary := c.inputs[1]
	assert.Equal(t, models.Income, salary.Type)
	assert.Nil(t, salary.CategoryID)
	assert.Nil(t, salary.EndDate)

	phone := c.inputs[2]
	assert.True(t, phone.IsInstallment)
	assert.Equal(t, 12, *phone.TotalOccurrences)
	assert.Equal(t, "24-month plan", *phone.Notes)
}

func TestImport_ContinuesPastBadRules(t *testing.T) {
	xml := `<recurringRules>
	  <rule><accountId>x</accountId><amount>1</amount><startDate>2024-01-01</startDate><frequencyDays>7</frequencyDays></rule>
	  <rule><accountId>1</accountId><description>Gym</description><amount>30</amount><startDate>2024-01-01</startDate><frequencyDays>7</frequencyDays></rule>
	  <rule><accountId>1</accountId><description>Boom</description><amount>30</amount><startDate>2024-01-01</startDate><frequencyDays>7</frequencyDays></rule>
	  <rule><accountId>1</accountId><amount>30</amount><startDate>01/01/2024</startDate><frequencyDays>7</frequencyDays></rule>
	  <rule><accountId>1</accountId><amount>30</amount><startDate>2024-01-01</startDate></rule>
	</recurringRules>`
	c := &recordingCreator{failOn: "Boom"}

	res, err := newImporter(c).Import(context.Background(), 1, strings.NewReader(xml))

	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 4, res.Failed)
	require.Len(t, res.Errors, 4)
	assert.Contains(t, res.Errors[0], "rule 1: invalid accountId")
	assert.Contains(t, res.Errors[1], "rule 3: account not found")
	assert.Contains(t, res.Errors[2], "rule 4: invalid startDate")
	assert.Contains(t, res.Errors[3], "rule 5: frequencyDays element not found")
}

func TestImport_RejectsDocument(t *testing.T) {
	for _, doc := range []string{`<recurringRules>`, `<other/>`} {
		_, err := newImporter(&recordingCreator{}).Import(context.Background(), 1, strings.NewReader(doc))
		assert.Error(t, err, doc)
	}
}
