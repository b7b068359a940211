// Package dispatcher runs one campaign's send batch: it walks the pending
// recipients in id order, sends each through the gateway, and records the
// outcome in the recipient ledger.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/gateway"
	"github.com/unclebandit/wa-campaigns-backend/internal/lock"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/metrics"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/phone"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

type Outcome string

const (
	OutcomeNoop        Outcome = "noop"
	OutcomeCompleted   Outcome = "completed"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeIncomplete  Outcome = "incomplete"
	OutcomeError       Outcome = "error"
)

// RunReport summarises a single Run call.
type RunReport struct {
	RunID      string  `json:"run_id"`
	CampaignID int     `json:"campaign_id"`
	Outcome    Outcome `json:"outcome"`
	Sent       int     `json:"sent"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
}

// Runner is what the worker and the scheduler need from a dispatcher.
type Runner interface {
	Run(ctx context.Context, campaignID int) (*RunReport, error)
}

type Config struct {
	// From is the sender number; formatted into the channel address once.
	From          string
	DefaultRegion string
	// SendInterval is the minimum gap between two provider sends, shared by
	// every run of this dispatcher.
	SendInterval time.Duration
	// StatusWriteTimeout bounds the write that moves a broken run to error.
	StatusWriteTimeout time.Duration
}

type Dispatcher struct {
	campaigns repository.CampaignRepositoryInterface
	templates repository.TemplateRepositoryInterface
	ledger    *Ledger
	gateway   gateway.Client
	locker    lock.Locker
	limiter   *rate.Limiter
	metrics   *metrics.Metrics
	logger    logger.Logger

	from          string
	region        string
	statusTimeout time.Duration
}

func New(store *repository.Store, gw gateway.Client, locker lock.Locker, m *metrics.Metrics, log logger.Logger, cfg Config) (*Dispatcher, error) {
	var from string
	if cfg.From != "" {
		addr, err := phone.WhatsAppAddress(cfg.From, cfg.DefaultRegion)
		if err != nil {
			return nil, fmt.Errorf("sender number: %w", err)
		}
		from = addr
	}

	limit := rate.Inf
	if cfg.SendInterval > 0 {
		limit = rate.Every(cfg.SendInterval)
	}
	if cfg.StatusWriteTimeout <= 0 {
		cfg.StatusWriteTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logger.Nop()
	}

	return &Dispatcher{
		campaigns:     store.Campaigns,
		templates:     store.Templates,
		ledger:        NewLedger(store.Recipients),
		gateway:       gw,
		locker:        locker,
		limiter:       rate.NewLimiter(limit, 1),
		metrics:       m,
		logger:        log,
		from:          from,
		region:        cfg.DefaultRegion,
		statusTimeout: cfg.StatusWriteTimeout,
	}, nil
}

// errStopped ends the recipient loop when the campaign left in_progress
// while the run was going on (normally a cancel).
var errStopped = errors.New("campaign no longer in progress")

// Run dispatches every pending recipient of an in_progress campaign. A
// campaign that is missing, not in_progress or already held by another run
// is a no-op. Recipient-level send failures never fail the run; store
// failures move the campaign to error and are returned. When ctx is
// cancelled the campaign is left in_progress so it can be resumed.
func (d *Dispatcher) Run(ctx context.Context, campaignID int) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString(), CampaignID: campaignID, Outcome: OutcomeNoop}
	log := d.logger.With("campaign_id", campaignID, "run_id", report.RunID)

	lease, err := d.locker.Acquire(ctx, lock.CampaignKey(campaignID))
	if errors.Is(err, lock.ErrLocked) {
		log.Info("campaign is being dispatched elsewhere, skipping")
		return report, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return d.interrupted(ctx, log, report)
		}
		// without the lease nobody will finish this run; park the campaign in error
		return report, d.fail(ctx, log, report, appErrors.NewInfrastructure("acquire campaign lease", err))
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("failed to release campaign lease", "error", err)
		}
	}()

	started := time.Now()
	defer func() {
		d.metrics.CampaignRuns.WithLabelValues(string(report.Outcome)).Inc()
		if report.Outcome != OutcomeNoop {
			d.metrics.RunDuration.Observe(time.Since(started).Seconds())
		}
	}()

	campaign, err := d.campaigns.GetWithRecipients(ctx, campaignID)
	if appErrors.IsNotFound(err) {
		log.Warn("campaign not found, nothing to dispatch")
		return report, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return d.interrupted(ctx, log, report)
		}
		return report, d.fail(ctx, log, report, appErrors.NewInfrastructure("load campaign", err))
	}
	if campaign.Status != model.CampaignInProgress {
		log.Info("campaign not in progress, nothing to dispatch", "status", campaign.Status)
		return report, nil
	}

	body, err := d.messageBody(ctx, campaign)
	if err != nil {
		return report, d.fail(ctx, log, report, err)
	}

	log.Info("dispatch started", "pending", len(campaign.PendingRecipients()))

	err = d.sendAll(ctx, log, campaign, body, report)
	switch {
	case err == nil:
	case errors.Is(err, errStopped):
		report.Outcome = OutcomeCancelled
		log.Info("dispatch stopped", "sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped)
		return report, nil
	case ctx.Err() != nil:
		return d.interrupted(ctx, log, report)
	default:
		return report, d.fail(ctx, log, report, err)
	}

	pending, err := d.ledger.Pending(ctx, campaignID)
	if err != nil {
		return report, d.fail(ctx, log, report, err)
	}
	if pending > 0 {
		report.Outcome = OutcomeIncomplete
		log.Warn("recipients still pending after dispatch", "pending", pending)
		return report, nil
	}

	ok, err := d.campaigns.TransitionStatus(ctx, campaignID, []model.CampaignStatus{model.CampaignInProgress}, model.CampaignCompleted)
	if err != nil {
		return report, d.fail(ctx, log, report, appErrors.NewInfrastructure("complete campaign", err))
	}
	if !ok {
		report.Outcome = OutcomeCancelled
		log.Info("campaign changed status before completion")
		return report, nil
	}

	report.Outcome = OutcomeCompleted
	log.Info("dispatch completed", "sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

func (d *Dispatcher) sendAll(ctx context.Context, log logger.Logger, campaign *model.Campaign, body string, report *RunReport) error {
	vars := campaign.Variables()

	for _, rec := range campaign.PendingRecipients() {
		if err := ctx.Err(); err != nil {
			return err
		}

		status, err := d.campaigns.GetStatus(ctx, campaign.ID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return appErrors.NewInfrastructure("check campaign status", err)
		}
		if status != model.CampaignInProgress {
			log.Info("campaign left in_progress mid-run", "status", status)
			return errStopped
		}

		if err := d.dispatchOne(ctx, log, campaign, rec, vars, body, report); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, log logger.Logger, campaign *model.Campaign, rec *model.CampaignRecipient, vars map[string]string, body string, report *RunReport) error {
	// ledger writes must land even if shutdown starts mid-recipient
	writeCtx := context.WithoutCancel(ctx)

	if rec.Contact == nil || !rec.Contact.HasOptedIn {
		reason := "contact has not opted in"
		if rec.Contact == nil {
			reason = "contact not found"
		}
		applied, err := d.ledger.MarkSkipped(writeCtx, rec, reason)
		if err != nil {
			return err
		}
		if applied {
			report.Skipped++
			d.metrics.RecipientsProcessed.WithLabelValues(string(model.RecipientSkipped)).Inc()
		}
		return nil
	}

	to, err := phone.WhatsAppAddress(rec.Contact.Phone, d.region)
	if err != nil {
		log.Warn("recipient has unusable phone number", "recipient_id", rec.ID, "error", err)
		return d.markFailed(writeCtx, rec, err.Error(), report)
	}

	if err := d.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("wait for send slot: %w", context.DeadlineExceeded)
	}

	sendStart := time.Now()
	res, err := d.gateway.SendTemplate(ctx, gateway.TemplateMessage{
		From:       d.from,
		To:         to,
		ContentSID: campaign.TemplateID,
		Variables:  vars,
	})
	d.metrics.GatewayLatency.Observe(time.Since(sendStart).Seconds())
	if err != nil {
		// only our own cancellation interrupts the run; a provider timeout
		// is a failed send like any other
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("send failed", "recipient_id", rec.ID, "to", to, "error", err)
		return d.markFailed(writeCtx, rec, err.Error(), report)
	}

	status := res.Status
	if status == "" {
		status = model.DeliveryQueued
	}
	campaignID, contactID := campaign.ID, rec.ContactID
	entry := &model.MessageLog{
		CampaignID:        &campaignID,
		ContactID:         &contactID,
		From:              d.from,
		To:                to,
		Body:              body,
		TemplateID:        campaign.TemplateID,
		Direction:         model.DirectionOutbound,
		Status:            status,
		ProviderMessageID: res.MessageID,
	}
	applied, err := d.ledger.MarkSent(writeCtx, rec, res.MessageID, entry)
	if err != nil {
		return err
	}
	if applied {
		report.Sent++
		d.metrics.RecipientsProcessed.WithLabelValues(string(model.RecipientSent)).Inc()
	}
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, rec *model.CampaignRecipient, reason string, report *RunReport) error {
	applied, err := d.ledger.MarkFailed(ctx, rec, reason)
	if err != nil {
		return err
	}
	if applied {
		report.Failed++
		d.metrics.RecipientsProcessed.WithLabelValues(string(model.RecipientFailed)).Inc()
	}
	return nil
}

// messageBody renders the template text for the message log. A template
// that is no longer in the store falls back to its content id.
func (d *Dispatcher) messageBody(ctx context.Context, campaign *model.Campaign) (string, error) {
	tpl, err := d.templates.GetByContentID(ctx, campaign.TemplateID)
	if appErrors.IsNotFound(err) {
		return campaign.TemplateID, nil
	}
	if err != nil {
		return "", appErrors.NewInfrastructure("load template", err)
	}
	return tpl.Render(campaign.Variables()), nil
}

// fail moves the campaign to error. The status write is detached from ctx so
// a run broken by a store failure still records it.
func (d *Dispatcher) fail(ctx context.Context, log logger.Logger, report *RunReport, cause error) error {
	report.Outcome = OutcomeError
	log.Error("dispatch failed", "error", cause, "sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped)
	sentry.CaptureException(cause)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.statusTimeout)
	defer cancel()
	if _, err := d.campaigns.TransitionStatus(writeCtx, report.CampaignID, []model.CampaignStatus{model.CampaignInProgress}, model.CampaignError); err != nil {
		log.Error("failed to mark campaign as error", "error", err)
	}
	return cause
}

// interrupted leaves the campaign in_progress so a later run can resume it.
func (d *Dispatcher) interrupted(ctx context.Context, log logger.Logger, report *RunReport) (*RunReport, error) {
	report.Outcome = OutcomeInterrupted
	log.Warn("dispatch interrupted, campaign left in progress", "sent", report.Sent, "failed", report.Failed, "skipped", report.Skipped)
	return report, ctx.Err()
}

var _ Runner = (*Dispatcher)(nil)
