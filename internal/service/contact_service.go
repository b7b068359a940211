package service

import (
	"context"
	"strings"
	"time"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/phone"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

type ContactService struct {
	ContactRepo   repository.ContactRepositoryInterface
	DefaultRegion string
	Logger        logger.Logger
}

// CreateContact stores a contact with its phone number in E.164 form.
func (s *ContactService) CreateContact(ctx context.Context, req CreateContactRequest) Result {
	if err := validateRequest(req); err != nil {
		return failed(err)
	}
	e164, err := phone.Normalize(req.Phone, s.DefaultRegion)
	if err != nil {
		return failed(appErrors.NewValidation("phone", "not a valid phone number"))
	}

	var tags []string
	for _, t := range req.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	c := &model.Contact{
		Phone:      e164,
		Name:       req.Name,
		HasOptedIn: req.HasOptedIn,
		Tags:       strings.Join(tags, ","),
	}
	if c.HasOptedIn {
		now := time.Now().UTC()
		c.OptInDate = &now
	}

	if err := s.ContactRepo.Create(ctx, c); err != nil {
		if appErrors.IsValidation(err) {
			return failed(err)
		}
		return failed(appErrors.NewInfrastructure("create contact", err))
	}
	s.Logger.Info("contact created", "contact_id", c.ID, "opted_in", c.HasOptedIn)
	return ok("contact created", c)
}

func (s *ContactService) GetContact(ctx context.Context, id int) (*model.Contact, error) {
	return s.ContactRepo.GetByID(ctx, id)
}

// ListContacts pages through contacts, newest first.
func (s *ContactService) ListContacts(ctx context.Context, page, pageSize int) ([]*model.Contact, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	contacts, total, err := s.ContactRepo.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, nil, err
	}
	return contacts, map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}, nil
}

// SetOptIn changes a contact's consent. Recipients already created keep
// their row; the dispatcher reads consent at send time.
func (s *ContactService) SetOptIn(ctx context.Context, id int, optedIn bool) Result {
	if err := s.ContactRepo.SetOptIn(ctx, id, optedIn); err != nil {
		if appErrors.IsNotFound(err) {
			return failed(err)
		}
		return failed(appErrors.NewInfrastructure("set opt-in", err))
	}
	return ok("contact updated", map[string]any{"id": id, "has_opted_in": optedIn})
}
