package model

import "time"

type MessageDirection string

const (
	DirectionOutbound MessageDirection = "outbound"
	DirectionInbound  MessageDirection = "inbound"
)

// Provider delivery statuses carried on message log entries.
const (
	DeliveryQueued      = "queued"
	DeliverySent        = "sent"
	DeliveryDelivered   = "delivered"
	DeliveryRead        = "read"
	DeliveryFailed      = "failed"
	DeliveryUndelivered = "undelivered"
	DeliveryReceived    = "received"
)

type MessageLog struct {
	ID                int              `db:"id" json:"id"`
	CampaignID        *int             `db:"campaign_id" json:"campaign_id,omitempty"`
	ContactID         *int             `db:"contact_id" json:"contact_id,omitempty"`
	From              string           `db:"from_address" json:"from"`
	To                string           `db:"to_address" json:"to"`
	Body              string           `db:"body" json:"body"`
	TemplateID        string           `db:"template_id" json:"template_id,omitempty"`
	Direction         MessageDirection `db:"direction" json:"direction"`
	Status            string           `db:"status" json:"status"`
	ProviderMessageID string           `db:"provider_message_id" json:"provider_message_id,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

// DeliveryUpdate is the outcome of applying a provider status callback.
type DeliveryUpdate struct {
	CampaignID *int
	Previous   string
	Current    string
	Delivered  int
	Read       int
}

func deliveryRank(status string) int {
	switch status {
	case DeliveryQueued, "accepted", "sending":
		return 0
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	}
	return -1
}

// DeliveryDeltas returns how much the delivered and read counters move when a
// message goes from previous to next. Statuses never move backwards, so a
// late "delivered" after "read" changes nothing, and jumping straight to
// "read" counts the delivery too.
func DeliveryDeltas(previous, next string) (delivered, read int) {
	from, to := deliveryRank(previous), deliveryRank(next)
	if to <= from || to < 2 {
		return 0, 0
	}
	if from < 2 {
		delivered = 1
	}
	if to == 3 {
		read = 1
	}
	return delivered, read
}

// AdvancesDelivery reports whether next should replace previous on a log
// entry.
func AdvancesDelivery(previous, next string) bool {
	if next == DeliveryFailed || next == DeliveryUndelivered {
		return deliveryRank(previous) < 2
	}
	return deliveryRank(next) > deliveryRank(previous)
}
