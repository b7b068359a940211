package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Logger          logger.Logger
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/", c.CreateCampaign)
	r.Get("/", c.ListCampaigns)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", c.GetCampaign)
		r.Put("/", c.UpdateCampaign)
		r.Delete("/", c.DeleteCampaign)
		r.Post("/launch", c.LaunchCampaign)
		r.Post("/cancel", c.CancelCampaign)
		r.Get("/analytics", c.GetAnalytics)
		r.Post("/preview", c.PreviewCampaign)
	})
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeResult(w, c.Logger, c.CampaignService.CreateCampaign(r.Context(), body), http.StatusCreated)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	campaign, err := c.CampaignService.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	var body service.UpdateCampaignRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeResult(w, c.Logger, c.CampaignService.UpdateCampaign(r.Context(), id, body), http.StatusOK)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	c.withID(w, r, c.CampaignService.DeleteCampaign, http.StatusOK)
}

// LaunchCampaign answers 202: the run happens on a worker.
func (c *CampaignController) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	c.withID(w, r, c.CampaignService.LaunchCampaign, http.StatusAccepted)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c.withID(w, r, c.CampaignService.CancelCampaign, http.StatusOK)
}

func (c *CampaignController) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	c.withID(w, r, c.CampaignService.GetAnalytics, http.StatusOK)
}

func (c *CampaignController) PreviewCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}

	var body struct {
		ContactID int `json:"contact_id"`
	}
	// the body is optional
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, c.Logger, appErrors.NewValidation("body", "invalid JSON body: "+err.Error()))
		return
	}
	if q := r.URL.Query().Get("contact_id"); q != "" && body.ContactID == 0 {
		if body.ContactID, err = strconv.Atoi(q); err != nil {
			writeError(w, c.Logger, appErrors.NewValidation("contact_id", "must be an integer"))
			return
		}
	}

	preview, err := c.CampaignService.PreviewCampaign(r.Context(), id, body.ContactID)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (c *CampaignController) withID(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id int) service.Result, okStatus int) {
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeResult(w, c.Logger, op(r.Context(), id), okStatus)
}
