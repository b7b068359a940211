package model

import (
	"sort"
	"strconv"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "draft"
	CampaignScheduled  CampaignStatus = "scheduled"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignCancelled  CampaignStatus = "cancelled"
	CampaignError      CampaignStatus = "error"
)

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:      {CampaignScheduled, CampaignInProgress, CampaignCancelled},
	CampaignScheduled:  {CampaignInProgress, CampaignCancelled},
	CampaignInProgress: {CampaignCompleted, CampaignError, CampaignCancelled},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s CampaignStatus) CanTransitionTo(next CampaignStatus) bool {
	for _, allowed := range campaignTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal is true for completed, cancelled and error.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled || s == CampaignError
}

func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignScheduled, CampaignInProgress, CampaignCompleted, CampaignCancelled, CampaignError:
		return true
	}
	return false
}

// Campaign is the aggregate root for dispatch.
type Campaign struct {
	ID             int            `db:"id" json:"id"`
	Name           string         `db:"name" json:"name"`
	Description    string         `db:"description" json:"description"`
	TemplateID     string         `db:"template_id" json:"template_id"`
	Status         CampaignStatus `db:"status" json:"status"`
	ScheduledAt    *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	CreatedBy      string         `db:"created_by" json:"created_by"`
	UpdatedAt      *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
	AudienceFilter string         `db:"audience_filter" json:"audience_filter"`
	Variable1      string         `db:"variable1" json:"variable1,omitempty"`
	Variable2      string         `db:"variable2" json:"variable2,omitempty"`
	Variable3      string         `db:"variable3" json:"variable3,omitempty"`

	TotalMessages  int `db:"total_messages" json:"total_messages"`
	SentCount      int `db:"sent_count" json:"sent_count"`
	DeliveredCount int `db:"delivered_count" json:"delivered_count"`
	ReadCount      int `db:"read_count" json:"read_count"`
	FailedCount    int `db:"failed_count" json:"failed_count"`
	ResponseCount  int `db:"response_count" json:"response_count"`

	Recipients []*CampaignRecipient `json:"recipients,omitempty"`
}

// Variables returns the template variable payload keyed by slot number.
// Empty slots are left out.
func (c *Campaign) Variables() map[string]string {
	vars := map[string]string{}
	for i, v := range []string{c.Variable1, c.Variable2, c.Variable3} {
		if v != "" {
			vars[strconv.Itoa(i+1)] = v
		}
	}
	return vars
}

// PendingRecipients returns the recipients still waiting to be sent, in
// ascending id order.
func (c *Campaign) PendingRecipients() []*CampaignRecipient {
	pending := make([]*CampaignRecipient, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		if r.Status == RecipientPending {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending
}
