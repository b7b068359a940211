package model

import (
	"strings"
	"time"
)

// WhatsAppTemplate is a provider content template. ContentID is the
// provider's identifier (Twilio "HX..." sid).
type WhatsAppTemplate struct {
	ID         int       `db:"id" json:"id"`
	ContentID  string    `db:"content_id" json:"content_id"`
	Name       string    `db:"name" json:"name"`
	Language   string    `db:"language" json:"language"`
	Category   string    `db:"category" json:"category"`
	Body       string    `db:"body" json:"body"`
	IsApproved bool      `db:"is_approved" json:"is_approved"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Render substitutes {{n}} placeholders in the template body. Placeholders
// without a value are left as they are.
func (t *WhatsAppTemplate) Render(vars map[string]string) string {
	result := t.Body
	for k, v := range vars {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return result
}
