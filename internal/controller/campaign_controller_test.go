package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaigns-backend/internal/controller"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/metrics"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/queue"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository/memstore"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

type nopQueue struct{ published int }

func (q *nopQueue) Publish(context.Context, string, []byte) error          { q.published++; return nil }
func (q *nopQueue) Subscribe(context.Context, string, queue.Handler) error { return nil }
func (q *nopQueue) Close() error                                           { return nil }

type server struct {
	h     http.Handler
	db    *memstore.DB
	queue *nopQueue
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := memstore.New()
	store := db.Store()
	q := &nopQueue{}
	log := logger.Nop()
	m := metrics.New()

	require.NoError(t, store.Templates.Create(context.Background(), &model.WhatsAppTemplate{
		ContentID: "HXpromo", Name: "promo", Language: "en", Body: "Hi {{1}}", IsApproved: true,
	}))

	h := controller.NewRouter(controller.RouterConfig{
		Campaigns: &controller.CampaignController{CampaignService: service.NewCampaignService(store, q, m, log, "KE"), Logger: log},
		Contacts:  &controller.ContactController{ContactService: &service.ContactService{ContactRepo: store.Contacts, DefaultRegion: "KE", Logger: log}, Logger: log},
		Templates: &controller.TemplateController{TemplateService: &service.TemplateService{TemplateRepo: store.Templates, Logger: log}, Logger: log},
		Metrics:   m.Handler(),
		Logger:    log,
	})
	return &server{h: h, db: db, queue: q}
}

func (s *server) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	s.h.ServeHTTP(w, req)

	var res map[string]any
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	}
	return w, res
}

func (s *server) createCampaign(t *testing.T) int {
	t.Helper()
	w, res := s.do(t, http.MethodPost, "/contacts", map[string]any{"phone": "0712345678", "has_opted_in": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	contactID := res["data"].(map[string]any)["id"].(float64)

	w, res = s.do(t, http.MethodPost, "/campaigns", map[string]any{
		"name": "Spring sale", "template_id": "HXpromo", "variable1": "Ann", "contact_ids": []float64{contactID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return int(res["data"].(map[string]any)["id"].(float64))
}

func TestCreateAndLaunchCampaign(t *testing.T) {
	s := newServer(t)
	id := s.createCampaign(t)

	w, res := s.do(t, http.MethodPost, "/campaigns/"+itoa(id)+"/launch", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, true, res["success"])
	assert.Equal(t, 1, s.queue.published)

	// a second launch conflicts with the running campaign
	w, res = s.do(t, http.MethodPost, "/campaigns/"+itoa(id)+"/launch", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, res["success"])

	w, _ = s.do(t, http.MethodPut, "/campaigns/"+itoa(id), map[string]any{"name": "renamed"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateCampaignValidation(t *testing.T) {
	s := newServer(t)

	w, res := s.do(t, http.MethodPost, "/campaigns", map[string]any{"template_id": "HXpromo"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, res["message"], "name")

	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCampaignNotFound(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodGet, "/campaigns/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodPost, "/campaigns/999/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodGet, "/campaigns/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCampaignsPagination(t *testing.T) {
	s := newServer(t)
	for i := 0; i < 3; i++ {
		w, _ := s.do(t, http.MethodPost, "/campaigns", map[string]any{"name": "c" + itoa(i), "template_id": "HXpromo"})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, res := s.do(t, http.MethodGet, "/campaigns?page=2&page_size=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, res["data"], 1)
	pagination := res["pagination"].(map[string]any)
	assert.Equal(t, float64(3), pagination["total_count"])
	assert.Equal(t, float64(2), pagination["total_pages"])

	w, _ = s.do(t, http.MethodGet, "/campaigns?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreviewAnalyticsAndDelete(t *testing.T) {
	s := newServer(t)
	id := s.createCampaign(t)

	w, res := s.do(t, http.MethodPost, "/campaigns/"+itoa(id)+"/preview", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Hi Ann", res["body"])

	w, res = s.do(t, http.MethodGet, "/campaigns/"+itoa(id)+"/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), res["data"].(map[string]any)["total"])

	w, _ = s.do(t, http.MethodDelete, "/campaigns/"+itoa(id), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/campaigns/"+itoa(id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplatesAndContacts(t *testing.T) {
	s := newServer(t)

	w, _ := s.do(t, http.MethodPost, "/templates", map[string]any{"content_id": "HXnew", "name": "new", "language": "en", "body": "Yo {{1}}"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w, _ = s.do(t, http.MethodPut, "/templates/HXnew/approval", map[string]any{"is_approved": true})
	assert.Equal(t, http.StatusOK, w.Code)
	w, res := s.do(t, http.MethodPost, "/templates/HXnew/render", map[string]string{"1": "Bo"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Yo Bo", res["body"])
	w, res = s.do(t, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, res["data"], 2)

	w, _ = s.do(t, http.MethodPost, "/contacts", map[string]any{"phone": "not a number"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, res = s.do(t, http.MethodGet, "/contacts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, res["data"])
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	w, res := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", res["status"])

	w, _ = s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "campaign_runs_queued_total")
}
