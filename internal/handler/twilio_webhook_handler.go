package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/twilio/twilio-go/client"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

const signatureHeader = "X-Twilio-Signature"

type signatureValidator interface {
	Validate(url string, params map[string]string, expectedSignature string) bool
}

// TwilioWebhookHandler receives Twilio status callbacks and inbound
// WhatsApp messages.
type TwilioWebhookHandler struct {
	Webhooks *service.WebhookService
	Logger   logger.Logger

	validator signatureValidator
	publicURL string
}

// NewTwilioWebhookHandler checks the X-Twilio-Signature of every request
// when authToken is set. publicURL is the base URL Twilio was configured
// with, since the signature covers the full URL it called.
func NewTwilioWebhookHandler(webhooks *service.WebhookService, authToken, publicURL string, log logger.Logger) *TwilioWebhookHandler {
	h := &TwilioWebhookHandler{
		Webhooks:  webhooks,
		Logger:    log,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
	if authToken != "" {
		v := client.NewRequestValidator(authToken)
		h.validator = &v
	}
	return h
}

func (h *TwilioWebhookHandler) Routes(r chi.Router) {
	r.Post("/status", h.Status)
	r.Post("/inbound", h.Inbound)
}

func (h *TwilioWebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	params, ok := h.verified(w, r)
	if !ok {
		return
	}
	err := h.Webhooks.HandleStatus(r.Context(), service.StatusCallback{
		MessageSID:    params["MessageSid"],
		MessageStatus: params["MessageStatus"],
		ErrorCode:     params["ErrorCode"],
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Inbound answers with an empty TwiML response so Twilio sends no reply.
func (h *TwilioWebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	params, ok := h.verified(w, r)
	if !ok {
		return
	}
	err := h.Webhooks.HandleInbound(r.Context(), service.InboundMessage{
		MessageSID: params["MessageSid"],
		From:       params["From"],
		To:         params["To"],
		Body:       params["Body"],
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<Response></Response>"))
}

// verified parses the form and checks the signature, writing the error
// response itself when either fails.
func (h *TwilioWebhookHandler) verified(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return nil, false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	if h.validator != nil {
		url := h.publicURL + r.URL.RequestURI()
		if !h.validator.Validate(url, params, r.Header.Get(signatureHeader)) {
			h.Logger.Warn("rejected webhook with bad signature", "path", r.URL.Path)
			http.Error(w, "invalid signature", http.StatusForbidden)
			return nil, false
		}
	}
	return params, true
}

// fail answers 400 for callbacks we will never accept and 500 otherwise, so
// Twilio retries only what might succeed later.
func (h *TwilioWebhookHandler) fail(w http.ResponseWriter, err error) {
	if appErrors.IsValidation(err) {
		h.Logger.Warn("unusable webhook", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.Logger.Error("webhook processing failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
