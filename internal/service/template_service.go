package service

import (
	"context"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

type TemplateService struct {
	TemplateRepo repository.TemplateRepositoryInterface
	Logger       logger.Logger
}

// CreateTemplate registers a provider content template.
func (s *TemplateService) CreateTemplate(ctx context.Context, req CreateTemplateRequest) Result {
	if err := validateRequest(req); err != nil {
		return failed(err)
	}
	t := &model.WhatsAppTemplate{
		ContentID:  req.ContentID,
		Name:       req.Name,
		Language:   req.Language,
		Category:   req.Category,
		Body:       req.Body,
		IsApproved: req.IsApproved,
	}
	if err := s.TemplateRepo.Create(ctx, t); err != nil {
		if appErrors.IsValidation(err) {
			return failed(err)
		}
		return failed(appErrors.NewInfrastructure("create template", err))
	}
	s.Logger.Info("template registered", "content_id", t.ContentID, "approved", t.IsApproved)
	return ok("template created", t)
}

func (s *TemplateService) ListTemplates(ctx context.Context) ([]*model.WhatsAppTemplate, error) {
	return s.TemplateRepo.List(ctx)
}

// SetApproval records the provider's approval decision. Campaigns already
// running are not affected; Launch checks approval again.
func (s *TemplateService) SetApproval(ctx context.Context, contentID string, approved bool) Result {
	if err := s.TemplateRepo.SetApproval(ctx, contentID, approved); err != nil {
		if appErrors.IsNotFound(err) {
			return failed(err)
		}
		return failed(appErrors.NewInfrastructure("set template approval", err))
	}
	s.Logger.Info("template approval changed", "content_id", contentID, "approved", approved)
	return ok("template updated", map[string]any{"content_id": contentID, "is_approved": approved})
}

// RenderTemplate fills the {{n}} placeholders of a stored template.
func (s *TemplateService) RenderTemplate(ctx context.Context, contentID string, vars map[string]string) (string, error) {
	t, err := s.TemplateRepo.GetByContentID(ctx, contentID)
	if err != nil {
		return "", err
	}
	return t.Render(vars), nil
}
