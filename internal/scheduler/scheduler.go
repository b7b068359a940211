package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/metrics"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

// Campaigns is the part of the campaign service the loop drives.
type Campaigns interface {
	ProcessScheduledCampaigns(ctx context.Context) service.Result
	ResumeInterrupted(ctx context.Context) service.Result
}

// Scheduler periodically hands due scheduled campaigns to the dispatcher.
type Scheduler struct {
	campaigns Campaigns
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    logger.Logger
}

func New(campaigns Campaigns, interval time.Duration, m *metrics.Metrics, log logger.Logger) *Scheduler {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{campaigns: campaigns, interval: interval, metrics: m, logger: log.With("component", "scheduler")}
}

// Run requeues campaigns a previous process left in_progress, then ticks
// every interval until ctx is done. It returns after any tick in flight has
// finished.
func (s *Scheduler) Run(ctx context.Context) error {
	if res := s.campaigns.ResumeInterrupted(ctx); !res.Success {
		s.logger.Error("resume interrupted campaigns", "error", res.Err)
	}

	cl := cronLogger{s.logger}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}

	s.logger.Info("scheduler started", "interval", s.interval.String())
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// Tick runs one pass over due scheduled campaigns.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res := s.campaigns.ProcessScheduledCampaigns(ctx)
	if !res.Success {
		s.metrics.SchedulerTicks.WithLabelValues("error").Inc()
		s.logger.Error("scheduler tick failed", "error", res.Err, "data", res.Data)
		return
	}
	s.metrics.SchedulerTicks.WithLabelValues("ok").Inc()
	s.logger.Debug("scheduler tick", "data", res.Data)
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct{ l logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
