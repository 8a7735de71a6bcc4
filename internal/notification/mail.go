package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/Dan9191/recurring-service/internal/config"
	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// ReportMailer emails batch run reports that contain errors to the operations
// mailbox via SMTP.
type ReportMailer struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
}

// NewReportMailer creates a new report mailer
func NewReportMailer(cfg *config.Config, logger *logrus.Logger) *ReportMailer {
	m := &ReportMailer{
		cfg:    cfg,
		logger: logger,
	}
	m.send = m.sendSMTP
	return m
}

// Report sends the run report to OPS_EMAIL.
func (m *ReportMailer) Report(_ context.Context, report *service.RunReport) error {
	e := email.NewEmail()
	e.From = m.cfg.SenderEmail
	e.To = []string{m.cfg.OpsEmail}
	e.Subject = fmt.Sprintf("Recurring batch run finished with %d error(s)", len(report.Errors))
	e.Text = []byte(formatReport(report, m.cfg.Location))

	if err := m.send(e); err != nil {
		m.logger.Errorf("Failed to send run report to %s: %v", m.cfg.OpsEmail, err)
		return fmt.Errorf("failed to send run report: %w", err)
	}

	m.logger.Infof("Email sent to %s: %s", m.cfg.OpsEmail, e.Subject)
	return nil
}

func (m *ReportMailer) sendSMTP(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", m.cfg.SMTPHost, m.cfg.SMTPPort)
	auth := smtp.PlainAuth("", m.cfg.SMTPUsername, m.cfg.SMTPPassword, m.cfg.SMTPHost)
	return e.Send(addr, auth)
}

func formatReport(report *service.RunReport, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Recurring batch run started at %s.\n\n", report.StartedAt.In(loc).Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Processed rules: %d\n", report.ProcessedRules)
	fmt.Fprintf(&b, "Created transactions: %d\n", report.CreatedTransactions)
	fmt.Fprintf(&b, "Notifications sent: %d, failed: %d\n", report.Notifications.Sent, report.Notifications.Failed)
	fmt.Fprintf(&b, "\nErrors (%d):\n", len(report.Errors))
	for _, e := range report.Errors {
		fmt.Fprintf(&b, "  - %s\n", e)
	}
	b.WriteString("\nRecurring Service")
	return b.String()
}

var _ service.RunReporter = (*ReportMailer)(nil)
