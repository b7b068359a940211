package model

import "time"

type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientSkipped RecipientStatus = "skipped"
	RecipientFailed  RecipientStatus = "failed"
)

// CampaignRecipient joins a campaign and a contact. Unique on
// (campaign_id, contact_id).
type CampaignRecipient struct {
	ID                int             `db:"id" json:"id"`
	CampaignID        int             `db:"campaign_id" json:"campaign_id"`
	ContactID         int             `db:"contact_id" json:"contact_id"`
	Status            RecipientStatus `db:"status" json:"status"`
	ProviderMessageID string          `db:"provider_message_id" json:"provider_message_id,omitempty"`
	SentAt            *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	StatusUpdatedAt   *time.Time      `db:"status_updated_at" json:"status_updated_at,omitempty"`
	HasResponded      bool            `db:"has_responded" json:"has_responded"`
	LastError         string          `db:"last_error" json:"last_error,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`

	// Contact is populated by GetWithRecipients; nil when the contact row
	// no longer exists.
	Contact *Contact `json:"contact,omitempty"`
}

// RecipientTransition moves one recipient out of pending. Applied as one
// unit together with the matching campaign counter and the optional log
// entry.
type RecipientTransition struct {
	RecipientID       int
	CampaignID        int
	To                RecipientStatus
	ProviderMessageID string
	LastError         string
	At                time.Time
	Log               *MessageLog
}

// CounterColumn names the campaign counter bumped by a transition, or "" if
// none is.
func (t RecipientTransition) CounterColumn() string {
	switch t.To {
	case RecipientSent:
		return "sent_count"
	case RecipientFailed:
		return "failed_count"
	}
	return ""
}
