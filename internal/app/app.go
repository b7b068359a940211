package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/unclebandit/wa-campaigns-backend/internal/config"
	"github.com/unclebandit/wa-campaigns-backend/internal/controller"
	"github.com/unclebandit/wa-campaigns-backend/internal/db"
	"github.com/unclebandit/wa-campaigns-backend/internal/dispatcher"
	"github.com/unclebandit/wa-campaigns-backend/internal/gateway"
	"github.com/unclebandit/wa-campaigns-backend/internal/handler"
	"github.com/unclebandit/wa-campaigns-backend/internal/lock"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/metrics"
	"github.com/unclebandit/wa-campaigns-backend/internal/queue"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository/memstore"
	"github.com/unclebandit/wa-campaigns-backend/internal/scheduler"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

// App holds the wired components shared by the server and worker binaries.
type App struct {
	Config  *config.Config
	Logger  logger.Logger
	Metrics *metrics.Metrics
	Store   *repository.Store
	Queue   queue.Queue

	Dispatcher *dispatcher.Dispatcher
	Campaigns  *service.CampaignService
	Contacts   *service.ContactService
	Templates  *service.TemplateService
	Webhooks   *service.WebhookService

	sqlDB   *sql.DB
	closers []func() error
}

// New connects to every configured backend. On error whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: log, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, AttachStacktrace: true}); err != nil {
			log.Warn("sentry init failed", "error", err)
		} else {
			a.closers = append(a.closers, func() error { sentry.Flush(2 * time.Second); return nil })
		}
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	locker, err := a.openLocker(ctx)
	if err != nil {
		return nil, err
	}

	switch cfg.QueueDriver {
	case "amqp":
		q, err := queue.DialAMQP(cfg.AMQPURL, log)
		if err != nil {
			return nil, err
		}
		a.Queue = q
	default:
		a.Queue = queue.NewInMemoryQueue(log)
	}
	a.closers = append(a.closers, a.Queue.Close)

	var gw gateway.Client
	if cfg.Twilio.DryRun {
		gw = &gateway.LogClient{Logger: log}
	} else {
		gw = gateway.NewTwilioClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken)
	}

	a.Dispatcher, err = dispatcher.New(a.Store, gw, locker, a.Metrics, log.With("component", "dispatcher"), dispatcher.Config{
		From:          cfg.Twilio.WhatsAppFrom,
		DefaultRegion: cfg.Twilio.DefaultRegion,
		SendInterval:  cfg.SendInterval,
	})
	if err != nil {
		return nil, err
	}

	region := cfg.Twilio.DefaultRegion
	a.Campaigns = service.NewCampaignService(a.Store, a.Queue, a.Metrics, log, region)
	a.Contacts = &service.ContactService{ContactRepo: a.Store.Contacts, DefaultRegion: region, Logger: log}
	a.Templates = &service.TemplateService{TemplateRepo: a.Store.Templates, Logger: log}
	a.Webhooks = service.NewWebhookService(a.Store, region, log)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.StoreDriver == "memory" {
		a.Logger.Warn("using the in-memory store; data is lost on exit")
		a.Store = memstore.New().Store()
		return nil
	}
	conn, err := db.Open(ctx, a.Config.DatabaseURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, conn.Close)
	if err := db.Migrate(ctx, conn); err != nil {
		return err
	}
	a.sqlDB = conn
	a.Store = repository.NewPostgresStore(conn)
	return nil
}

// openLocker uses Redis when configured so leases hold across processes.
func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.RedisURL == "" {
		return lock.NewMemoryLocker(), nil
	}
	rdb, err := lock.NewRedisClient(ctx, a.Config.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	return lock.NewRedisLocker(rdb, a.Config.LockTTL, a.Logger), nil
}

// Worker builds a consumer that runs queued campaigns through the dispatcher.
func (a *App) Worker() *service.Worker {
	return service.NewWorker(a.Queue, a.Dispatcher, a.Logger.With("component", "worker"))
}

func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.New(a.Campaigns, a.Config.SchedulerInterval, a.Metrics, a.Logger)
}

// Router builds the HTTP API.
func (a *App) Router() http.Handler {
	cfg := controller.RouterConfig{
		Campaigns: &controller.CampaignController{CampaignService: a.Campaigns, Logger: a.Logger},
		Contacts:  &controller.ContactController{ContactService: a.Contacts, Logger: a.Logger},
		Templates: &controller.TemplateController{TemplateService: a.Templates, Logger: a.Logger},
		Webhooks:  handler.NewTwilioWebhookHandler(a.Webhooks, a.Config.Twilio.AuthToken, a.Config.Twilio.PublicURL, a.Logger),
		Metrics:   a.Metrics.Handler(),
		Logger:    a.Logger,
	}
	if a.sqlDB != nil {
		cfg.Ready = a.sqlDB.PingContext
	}
	return controller.NewRouter(cfg)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
