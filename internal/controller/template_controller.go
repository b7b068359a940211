package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

type TemplateController struct {
	TemplateService *service.TemplateService
	Logger          logger.Logger
}

func (c *TemplateController) Routes(r chi.Router) {
	r.Post("/", c.CreateTemplate)
	r.Get("/", c.ListTemplates)
	r.Put("/{contentID}/approval", c.SetApproval)
	r.Post("/{contentID}/render", c.RenderTemplate)
}

func (c *TemplateController) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var body service.CreateTemplateRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeResult(w, c.Logger, c.TemplateService.CreateTemplate(r.Context(), body), http.StatusCreated)
}

func (c *TemplateController) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := c.TemplateService.ListTemplates(r.Context())
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": templates})
}

func (c *TemplateController) SetApproval(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsApproved bool `json:"is_approved"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	res := c.TemplateService.SetApproval(r.Context(), chi.URLParam(r, "contentID"), body.IsApproved)
	writeResult(w, c.Logger, res, http.StatusOK)
}

// RenderTemplate fills the template with the posted {"1": "..."} variables.
func (c *TemplateController) RenderTemplate(w http.ResponseWriter, r *http.Request) {
	var vars map[string]string
	if err := decodeBody(r, &vars); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	contentID := chi.URLParam(r, "contentID")
	body, err := c.TemplateService.RenderTemplate(r.Context(), contentID, vars)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content_id": contentID, "body": body})
}
