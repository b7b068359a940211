package service

import (
	"context"

	"github.com/unclebandit/wa-campaigns-backend/internal/dispatcher"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/queue"
)

// Worker consumes campaign run requests and hands them to the dispatcher.
type Worker struct {
	Queue  queue.Queue
	Runner dispatcher.Runner
	Logger logger.Logger
}

func NewWorker(q queue.Queue, runner dispatcher.Runner, log logger.Logger) *Worker {
	return &Worker{Queue: q, Runner: runner, Logger: log}
}

// Start subscribes to run requests until ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	return w.Queue.Subscribe(ctx, queue.TopicCampaignRuns, w.Handle)
}

// Handle runs one request. Undecodable payloads are dropped; run errors are
// returned so the queue can retry, which is safe because a rerun only
// touches recipients that are still pending.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	req, err := queue.DecodeCampaignRun(payload)
	if err != nil {
		w.Logger.Warn("dropping invalid run request", "error", err)
		return nil
	}

	report, err := w.Runner.Run(ctx, req.CampaignID)
	if err != nil {
		w.Logger.Error("campaign run failed", "campaign_id", req.CampaignID, "trigger", req.Trigger, "error", err)
		return err
	}
	w.Logger.Info("campaign run finished",
		"campaign_id", req.CampaignID,
		"trigger", req.Trigger,
		"run_id", report.RunID,
		"outcome", report.Outcome,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return nil
}
