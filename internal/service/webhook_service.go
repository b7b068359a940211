package service

import (
	"context"
	"time"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/phone"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

// StatusCallback is a provider delivery report for one outbound message.
type StatusCallback struct {
	MessageSID    string
	MessageStatus string
	ErrorCode     string
}

// InboundMessage is a message a contact sent to our number.
type InboundMessage struct {
	MessageSID string
	From       string
	To         string
	Body       string
}

// WebhookService applies provider callbacks: delivery reports move the
// delivered/read counters, replies mark the latest campaign recipient as
// responded.
type WebhookService struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	RecipientRepo  repository.RecipientRepositoryInterface
	ContactRepo    repository.ContactRepositoryInterface
	MessageLogRepo repository.MessageLogRepositoryInterface
	DefaultRegion  string
	Logger         logger.Logger
}

func NewWebhookService(store *repository.Store, defaultRegion string, log logger.Logger) *WebhookService {
	return &WebhookService{
		CampaignRepo:   store.Campaigns,
		RecipientRepo:  store.Recipients,
		ContactRepo:    store.Contacts,
		MessageLogRepo: store.MessageLogs,
		DefaultRegion:  defaultRegion,
		Logger:         log,
	}
}

func (s *WebhookService) HandleStatus(ctx context.Context, cb StatusCallback) error {
	if cb.MessageSID == "" || cb.MessageStatus == "" {
		return appErrors.NewValidation("MessageSid", "status callback without message sid or status")
	}
	update, err := s.MessageLogRepo.ApplyDeliveryStatus(ctx, cb.MessageSID, cb.MessageStatus)
	if err != nil {
		return appErrors.NewInfrastructure("apply delivery status", err)
	}
	if update == nil {
		s.Logger.Debug("status callback for unknown message", "message_sid", cb.MessageSID, "status", cb.MessageStatus)
		return nil
	}
	if update.Previous != update.Current {
		s.Logger.Info("delivery status updated",
			"message_sid", cb.MessageSID, "from", update.Previous, "to", update.Current, "error_code", cb.ErrorCode)
	}
	return nil
}

// HandleInbound records a reply. The contact's most recent unanswered
// campaign message, if any, is credited with the response.
func (s *WebhookService) HandleInbound(ctx context.Context, msg InboundMessage) error {
	from, err := phone.Normalize(phone.FromWhatsAppAddress(msg.From), s.DefaultRegion)
	if err != nil {
		return appErrors.NewValidation("From", "inbound message from an unusable number")
	}

	if msg.MessageSID != "" {
		seen, err := s.MessageLogRepo.InboundRecorded(ctx, msg.MessageSID)
		if err != nil {
			return appErrors.NewInfrastructure("look up inbound message", err)
		}
		if seen {
			s.Logger.Info("inbound message already handled", "message_sid", msg.MessageSID)
			return nil
		}
	}

	entry := &model.MessageLog{
		From:              msg.From,
		To:                msg.To,
		Body:              msg.Body,
		Direction:         model.DirectionInbound,
		Status:            model.DeliveryReceived,
		ProviderMessageID: msg.MessageSID,
		CreatedAt:         time.Now().UTC(),
	}

	contact, err := s.ContactRepo.GetByPhone(ctx, from)
	if err != nil {
		return appErrors.NewInfrastructure("look up contact", err)
	}
	if contact != nil {
		entry.ContactID = &contact.ID
		if err := s.ContactRepo.TouchLastContact(ctx, contact.ID, entry.CreatedAt); err != nil {
			return appErrors.NewInfrastructure("touch contact", err)
		}

		campaignID, err := s.creditResponse(ctx, contact.ID)
		if err != nil {
			return err
		}
		entry.CampaignID = campaignID
	}

	if err := s.MessageLogRepo.AddMessageLogEntry(ctx, entry); err != nil {
		return appErrors.NewInfrastructure("log inbound message", err)
	}
	s.Logger.Info("inbound message", "message_sid", msg.MessageSID, "known_contact", contact != nil, "campaign_id", entry.CampaignID)
	return nil
}

func (s *WebhookService) creditResponse(ctx context.Context, contactID int) (*int, error) {
	rec, err := s.RecipientRepo.GetLatestSentForContact(ctx, contactID)
	if err != nil {
		return nil, appErrors.NewInfrastructure("find latest campaign message", err)
	}
	if rec == nil {
		return nil, nil
	}
	marked, err := s.RecipientRepo.MarkResponded(ctx, rec.ID)
	if err != nil {
		return nil, appErrors.NewInfrastructure("mark responded", err)
	}
	if marked {
		if err := s.CampaignRepo.IncrementCounters(ctx, rec.CampaignID, 0, 0, 1); err != nil {
			return nil, appErrors.NewInfrastructure("count response", err)
		}
	}
	campaignID := rec.CampaignID
	return &campaignID, nil
}
