package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/metrics"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/queue"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository/memstore"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

// recordingQueue keeps published run requests instead of delivering them.
type recordingQueue struct {
	mu        sync.Mutex
	published []queue.CampaignRunRequest
	fail      bool
}

func (q *recordingQueue) Publish(_ context.Context, topic string, payload []byte) error {
	if q.fail {
		return errors.New("broker unavailable")
	}
	req, err := queue.DecodeCampaignRun(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, req)
	return nil
}

func (q *recordingQueue) Subscribe(context.Context, string, queue.Handler) error { return nil }
func (q *recordingQueue) Close() error                                         { return nil }

func (q *recordingQueue) requests() []queue.CampaignRunRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.CampaignRunRequest(nil), q.published...)
}

type env struct {
	db    *memstore.DB
	store *repository.Store
	queue *recordingQueue
	svc   *service.CampaignService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := memstore.New()
	e := &env{db: db, store: db.Store(), queue: &recordingQueue{}}
	e.svc = service.NewCampaignService(e.store, e.queue, metrics.New(), logger.Nop(), "KE")

	ctx := context.Background()
	require.NoError(t, e.store.Templates.Create(ctx, &model.WhatsAppTemplate{
		ContentID: "HXapproved", Name: "promo", Language: "en", Body: "Hello {{1}}, {{2}} off today", IsApproved: true,
	}))
	require.NoError(t, e.store.Templates.Create(ctx, &model.WhatsAppTemplate{
		ContentID: "HXpending", Name: "draft", Language: "en", Body: "Hi", IsApproved: false,
	}))
	return e
}

func (e *env) contact(t *testing.T, phone string, optedIn bool) int {
	t.Helper()
	c := &model.Contact{Phone: phone, Name: phone, HasOptedIn: optedIn}
	require.NoError(t, e.store.Contacts.Create(context.Background(), c))
	return c.ID
}

func (e *env) create(t *testing.T, req service.CreateCampaignRequest) *model.Campaign {
	t.Helper()
	if req.Name == "" {
		req.Name = "promo"
	}
	if req.TemplateID == "" {
		req.TemplateID = "HXapproved"
	}
	res := e.svc.CreateCampaign(context.Background(), req)
	require.True(t, res.Success, res.Message)
	return res.Data.(*model.Campaign)
}

// withStatus creates a draft campaign and forces it into status.
func (e *env) withStatus(t *testing.T, status model.CampaignStatus) *model.Campaign {
	t.Helper()
	c := e.create(t, service.CreateCampaignRequest{})
	if status != model.CampaignDraft {
		ok, err := e.store.Campaigns.TransitionStatus(context.Background(), c.ID, []model.CampaignStatus{model.CampaignDraft}, status)
		require.NoError(t, err)
		require.True(t, ok)
	}
	c.Status = status
	return c
}

func (e *env) status(t *testing.T, id int) model.CampaignStatus {
	t.Helper()
	s, err := e.store.Campaigns.GetStatus(context.Background(), id)
	require.NoError(t, err)
	return s
}

func ptr[T any](v T) *T { return &v }

func future() *time.Time { return ptr(time.Now().Add(time.Hour)) }
func past() *time.Time   { return ptr(time.Now().Add(-time.Minute)) }
