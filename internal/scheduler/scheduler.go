package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/Dan9191/recurring-service/internal/service"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Runner runs one batch pass.
type Runner interface {
	Run(ctx context.Context) (*service.RunReport, error)
}

// Scheduler runs the recurring batch on a cron schedule inside the API process.
// A run still in progress when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	log     *logrus.Logger
	timeout time.Duration
}

// New parses spec (standard five-field cron syntax or a descriptor such as
// "@hourly") evaluated in loc. Each run is bounded by timeout.
func New(spec string, loc *time.Location, timeout time.Duration, runner Runner, log *logrus.Logger) (*Scheduler, error) {
	logger := cron.PrintfLogger(log)
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner:  runner,
		log:     log,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Recurring batch scheduler started")
}

// Stop stops scheduling and waits for a running batch to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
		s.log.Info("Recurring batch scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("Recurring batch scheduler stop timed out")
	}
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.runner.Run(ctx)
	if err != nil {
		s.log.WithError(err).Error("Scheduled recurring batch failed")
		return
	}
	s.log.WithFields(logrus.Fields{
		"processed_rules":      report.ProcessedRules,
		"created_transactions": report.CreatedTransactions,
		"errors":               len(report.Errors),
	}).Info("Scheduled recurring batch completed")
}
