package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

type ContactController struct {
	ContactService *service.ContactService
	Logger         logger.Logger
}

func (c *ContactController) Routes(r chi.Router) {
	r.Post("/", c.CreateContact)
	r.Get("/", c.ListContacts)
	r.Get("/{id}", c.GetContact)
	r.Put("/{id}/opt-in", c.SetOptIn)
}

func (c *ContactController) CreateContact(w http.ResponseWriter, r *http.Request) {
	var body service.CreateContactRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeResult(w, c.Logger, c.ContactService.CreateContact(r.Context(), body), http.StatusCreated)
}

func (c *ContactController) ListContacts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)
	contacts, pagination, err := c.ContactService.ListContacts(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       contacts,
		"pagination": pagination,
	})
}

func (c *ContactController) GetContact(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	contact, err := c.ContactService.GetContact(r.Context(), id)
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, contact)
}

func (c *ContactController) SetOptIn(w http.ResponseWriter, r *http.Request) {
	id, err := intParam(r, "id")
	if err != nil {
		writeError(w, c.Logger, err)
		return
	}
	var body struct {
		HasOptedIn bool `json:"has_opted_in"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, c.Logger, err)
		return
	}
	writeResult(w, c.Logger, c.ContactService.SetOptIn(r.Context(), id, body.HasOptedIn), http.StatusOK)
}
