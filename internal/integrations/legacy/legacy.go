package legacy

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/recurring-service/internal/models"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RuleCreator creates one recurring rule.
type RuleCreator interface {
	CreateRule(ctx context.Context, userID int64, in service.CreateRuleInput) (*models.RecurringRule, error)
}

// Importer loads recurring rules exported by the legacy app. The export
// describes the period as a number of days between occurrences:
//
//	<recurringRules>
//	  <rule>
//	    <accountId>10</accountId>
//	    <description>Rent</description>
//	    <amount>1200.50</amount>
//	    <type>EXPENSE</type>
//	    <startDate>2024-01-31</startDate>
//	    <frequencyDays>30</frequencyDays>
//	  </rule>
//	</recurringRules>
type Importer struct {
	rules RuleCreator
	loc   *time.Location
	log   *logrus.Logger
}

// NewImporter initializes a new legacy importer
func NewImporter(rules RuleCreator, loc *time.Location, log *logrus.Logger) *Importer {
	return &Importer{rules: rules, loc: loc, log: log}
}

// Result counts the outcome of an import.
type Result struct {
	Created int
	Failed  int
	Errors  []string
}

// Import parses the export in r and creates every rule for userID. A rule that
// cannot be parsed or created is recorded and the import continues.
func (i *Importer) Import(ctx context.Context, userID int64, r io.Reader) (*Result, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %v", err)
	}

	elements := doc.FindElements("//recurringRules/rule")
	if len(elements) == 0 {
		return nil, fmt.Errorf("no recurring rules found in XML")
	}

	res := &Result{Errors: []string{}}
	for n, el := range elements {
		in, err := i.parseRule(el)
		if err == nil {
			_, err = i.rules.CreateRule(ctx, userID, in)
		}
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("rule %d: %v", n+1, err))
			i.log.WithField("position", n+1).WithError(err).Warn("Failed to import legacy rule")
			continue
		}
		res.Created++
	}

	i.log.Infof("Imported %d legacy rules (%d failed)", res.Created, res.Failed)
	return res, nil
}

func (i *Importer) parseRule(el *etree.Element) (service.CreateRuleInput, error) {
	var in service.CreateRuleInput
	var err error

	if in.AccountID, err = requiredInt64(el, "accountId"); err != nil {
		return in, err
	}
	if v, ok := text(el, "categoryId"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return in, fmt.Errorf("invalid categoryId: %v", err)
		}
		in.CategoryID = &id
	}
	in.Description, _ = text(el, "description")
	if v, ok := text(el, "notes"); ok {
		in.Notes = &v
	}

	amount, ok := text(el, "amount")
	if !ok {
		return in, fmt.Errorf("amount element not found")
	}
	if in.Amount, err = decimal.NewFromString(amount); err != nil {
		return in, fmt.Errorf("invalid amount: %v", err)
	}
	// Legacy exports store expenses as negative amounts.
	typ, _ := text(el, "type")
	in.Type = models.TransactionType(strings.ToUpper(typ))
	if in.Type == "" {
		in.Type = models.Income
		if in.Amount.IsNegative() {
			in.Type = models.Expense
		}
	}
	in.Amount = in.Amount.Abs()

	start, ok := text(el, "startDate")
	if !ok {
		return in, fmt.Errorf("startDate element not found")
	}
	if in.StartDate, err = time.ParseInLocation(time.DateOnly, start, i.loc); err != nil {
		return in, fmt.Errorf("invalid startDate: %v", err)
	}
	if v, ok := text(el, "endDate"); ok {
		end, err := time.ParseInLocation(time.DateOnly, v, i.loc)
		if err != nil {
			return in, fmt.Errorf("invalid endDate: %v", err)
		}
		end = end.AddDate(0, 0, 1).Add(-time.Microsecond)
		in.EndDate = &end
	}

	days, err := requiredInt64(el, "frequencyDays")
	if err != nil {
		return in, err
	}
	d := int(days)
	in.FrequencyDays = &d

	if v, ok := text(el, "totalOccurrences"); ok {
		total, err := strconv.Atoi(v)
		if err != nil {
			return in, fmt.Errorf("invalid totalOccurrences: %v", err)
		}
		in.TotalOccurrences = &total
		in.IsInstallment = true
	}
	return in, nil
}

func text(el *etree.Element, tag string) (string, bool) {
	child := el.FindElement("./" + tag)
	if child == nil {
		return "", false
	}
	v := strings.TrimSpace(child.Text())
	return v, v != ""
}

func requiredInt64(el *etree.Element, tag string) (int64, error) {
	v, ok := text(el, tag)
	if !ok {
		return 0, fmt.Errorf("%s element not found", tag)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", tag, err)
	}
	return n, nil
}
