package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/metrics"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/phone"
	"github.com/unclebandit/wa-campaigns-backend/internal/queue"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

// CampaignService moves campaigns through their lifecycle. Runs are never
// executed inline: Launch and the scheduler claim the campaign and publish a
// run request for a worker.
type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	ContactRepo   repository.ContactRepositoryInterface
	TemplateRepo  repository.TemplateRepositoryInterface
	Queue         queue.Queue
	Metrics       *metrics.Metrics
	Logger        logger.Logger
	// DefaultRegion is used to format contact numbers in previews.
	DefaultRegion string

	now func() time.Time
}

func NewCampaignService(store *repository.Store, q queue.Queue, m *metrics.Metrics, log logger.Logger, defaultRegion string) *CampaignService {
	if m == nil {
		m = metrics.New()
	}
	return &CampaignService{
		CampaignRepo:  store.Campaigns,
		RecipientRepo: store.Recipients,
		ContactRepo:   store.Contacts,
		TemplateRepo:  store.Templates,
		Queue:         q,
		Metrics:       m,
		Logger:        log,
		DefaultRegion: defaultRegion,
		now:           time.Now,
	}
}

// Analytics is the counter view of one campaign.
type Analytics struct {
	CampaignID   int                           `json:"campaign_id"`
	Name         string                        `json:"name"`
	Status       model.CampaignStatus          `json:"status"`
	Total        int                           `json:"total"`
	Sent         int                           `json:"sent"`
	Delivered    int                           `json:"delivered"`
	Read         int                           `json:"read"`
	Failed       int                           `json:"failed"`
	Responses    int                           `json:"responses"`
	Breakdown    map[model.RecipientStatus]int `json:"breakdown"`
	DeliveryRate float64                       `json:"delivery_rate"`
	ReadRate     float64                       `json:"read_rate"`
	ResponseRate float64                       `json:"response_rate"`
}

type Preview struct {
	CampaignID int    `json:"campaign_id"`
	TemplateID string `json:"template_id"`
	To         string `json:"to,omitempty"`
	Body       string `json:"body"`
}

// ====================== Lifecycle ======================

// CreateCampaign stores a new campaign in draft, or scheduled when a future
// ScheduledAt is given, with one recipient per opted-in contact id.
func (s *CampaignService) CreateCampaign(ctx context.Context, req CreateCampaignRequest) Result {
	if err := validateRequest(req); err != nil {
		return failed(err)
	}
	if err := s.requireApprovedTemplate(ctx, req.TemplateID); err != nil {
		return failed(err)
	}

	// the campaign stays draft until its audience exists so the scheduler
	// never picks up a half-built campaign
	c := &model.Campaign{
		Name:           req.Name,
		Description:    req.Description,
		TemplateID:     req.TemplateID,
		Status:         model.CampaignDraft,
		ScheduledAt:    req.ScheduledAt,
		CreatedBy:      req.CreatedBy,
		AudienceFilter: req.AudienceFilter,
		Variable1:      req.Variable1,
		Variable2:      req.Variable2,
		Variable3:      req.Variable3,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return failed(appErrors.NewInfrastructure("create campaign", err))
	}

	total, err := s.RecipientRepo.ReplaceForCampaign(ctx, c.ID, req.ContactIDs)
	if err != nil {
		s.discard(ctx, c.ID)
		return failed(appErrors.NewInfrastructure("create recipients", err))
	}
	c.TotalMessages = total

	if req.ScheduledAt != nil && req.ScheduledAt.After(s.now()) {
		scheduled, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignScheduled)
		if err == nil && !scheduled {
			err = errors.New("campaign left draft during creation")
		}
		if err != nil {
			s.discard(ctx, c.ID)
			return failed(appErrors.NewInfrastructure("schedule campaign", err))
		}
		c.Status = model.CampaignScheduled
	}

	s.Logger.Info("campaign created", "campaign_id", c.ID, "status", c.Status, "recipients", total, "requested", len(req.ContactIDs))
	return ok("campaign created", c)
}

// UpdateCampaign edits a draft campaign. A future ScheduledAt moves it to
// scheduled; a ContactIDs list replaces the audience.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id int, req UpdateCampaignRequest) Result {
	if err := validateRequest(req); err != nil {
		return failed(err)
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return failed(err)
	}
	if c.Status != model.CampaignDraft {
		return failed(appErrors.NewInvalidState(id, string(c.Status), "update"))
	}

	if req.TemplateID != nil && *req.TemplateID != c.TemplateID {
		if err := s.requireApprovedTemplate(ctx, *req.TemplateID); err != nil {
			return failed(err)
		}
		c.TemplateID = *req.TemplateID
	}
	assign(&c.Name, req.Name)
	assign(&c.Description, req.Description)
	assign(&c.AudienceFilter, req.AudienceFilter)
	assign(&c.Variable1, req.Variable1)
	assign(&c.Variable2, req.Variable2)
	assign(&c.Variable3, req.Variable3)
	if req.ScheduledAt != nil {
		c.ScheduledAt = req.ScheduledAt
		if req.ScheduledAt.After(s.now()) {
			c.Status = model.CampaignScheduled
		}
	}

	// the audience and the draft fields are written in one transaction
	var audience []int
	if req.ContactIDs != nil {
		audience = append([]int{}, *req.ContactIDs...)
	}
	if err := s.CampaignRepo.Update(ctx, c, audience); err != nil {
		if appErrors.IsInvalidState(err) || appErrors.IsNotFound(err) {
			return failed(err)
		}
		return failed(appErrors.NewInfrastructure("update campaign", err))
	}

	s.Logger.Info("campaign updated", "campaign_id", id, "status", c.Status)
	return ok("campaign updated", c)
}

// LaunchCampaign claims a draft or scheduled campaign for dispatch and hands
// the run to the queue. It returns once the request is queued.
func (s *CampaignService) LaunchCampaign(ctx context.Context, id int) Result {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return failed(err)
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return failed(appErrors.NewInvalidState(id, string(c.Status), "launch"))
	}
	if err := s.requireApprovedTemplate(ctx, c.TemplateID); err != nil {
		return failed(err)
	}

	claimed, err := s.claim(ctx, c, queue.TriggerLaunch)
	if err != nil {
		return failed(err)
	}
	if !claimed {
		status, serr := s.CampaignRepo.GetStatus(ctx, id)
		if serr != nil {
			return failed(serr)
		}
		return failed(appErrors.NewInvalidState(id, string(status), "launch"))
	}

	c.Status = model.CampaignInProgress
	s.Logger.Info("campaign launched", "campaign_id", id)
	return ok("campaign launched", c)
}

// CancelCampaign stops a campaign that has not finished. A running dispatch
// notices before its next recipient.
func (s *CampaignService) CancelCampaign(ctx context.Context, id int) Result {
	from := []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled, model.CampaignInProgress}
	cancelled, err := s.CampaignRepo.TransitionStatus(ctx, id, from, model.CampaignCancelled)
	if err != nil {
		return failed(appErrors.NewInfrastructure("cancel campaign", err))
	}
	if !cancelled {
		status, err := s.CampaignRepo.GetStatus(ctx, id)
		if err != nil {
			return failed(err)
		}
		return failed(appErrors.NewInvalidState(id, string(status), "cancel"))
	}
	s.Logger.Info("campaign cancelled", "campaign_id", id)
	return ok("campaign cancelled", map[string]any{"id": id, "status": model.CampaignCancelled})
}

func (s *CampaignService) DeleteCampaign(ctx context.Context, id int) Result {
	if err := s.CampaignRepo.Delete(ctx, id); err != nil {
		if appErrors.IsInvalidState(err) || appErrors.IsNotFound(err) {
			return failed(err)
		}
		return failed(appErrors.NewInfrastructure("delete campaign", err))
	}
	s.Logger.Info("campaign deleted", "campaign_id", id)
	return ok("campaign deleted", nil)
}

func (s *CampaignService) GetAnalytics(ctx context.Context, id int) Result {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return failed(err)
	}
	breakdown, err := s.RecipientRepo.CountByStatus(ctx, id)
	if err != nil {
		return failed(appErrors.NewInfrastructure("count recipients", err))
	}

	a := &Analytics{
		CampaignID: c.ID,
		Name:       c.Name,
		Status:     c.Status,
		Total:      c.TotalMessages,
		Sent:       c.SentCount,
		Delivered:  c.DeliveredCount,
		Read:       c.ReadCount,
		Failed:     c.FailedCount,
		Responses:  c.ResponseCount,
		Breakdown:  breakdown,
	}
	if c.SentCount > 0 {
		a.DeliveryRate = ratio(c.DeliveredCount, c.SentCount)
		a.ReadRate = ratio(c.ReadCount, c.SentCount)
		a.ResponseRate = ratio(c.ResponseCount, c.SentCount)
	}
	return ok("campaign analytics", a)
}

// ====================== Background entry points ======================

// ProcessScheduledCampaigns claims every scheduled campaign whose time has
// come and queues a run for it. One campaign failing does not stop the rest.
func (s *CampaignService) ProcessScheduledCampaigns(ctx context.Context) Result {
	now := s.now()
	due, err := s.CampaignRepo.FindCampaigns(ctx, model.CampaignScheduled, &now)
	if err != nil {
		return failed(appErrors.NewInfrastructure("find due campaigns", err))
	}

	queued := 0
	var errs []error
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		claimed, err := s.claim(ctx, c, queue.TriggerSchedule)
		if err != nil {
			s.Logger.Error("failed to start scheduled campaign", "campaign_id", c.ID, "error", err)
			errs = append(errs, fmt.Errorf("campaign %d: %w", c.ID, err))
			continue
		}
		if claimed {
			queued++
			s.Logger.Info("scheduled campaign started", "campaign_id", c.ID, "scheduled_at", c.ScheduledAt)
		}
	}

	data := map[string]int{"due": len(due), "queued": queued}
	if len(errs) > 0 {
		r := failed(errors.Join(errs...))
		r.Data = data
		return r
	}
	return ok(fmt.Sprintf("%d scheduled campaign(s) queued", queued), data)
}

// ResumeInterrupted queues a run for every campaign left in_progress, e.g. by
// a shutdown in the middle of a dispatch.
func (s *CampaignService) ResumeInterrupted(ctx context.Context) Result {
	running, err := s.CampaignRepo.FindCampaigns(ctx, model.CampaignInProgress, nil)
	if err != nil {
		return failed(appErrors.NewInfrastructure("find in-progress campaigns", err))
	}

	var errs []error
	for _, c := range running {
		req := queue.CampaignRunRequest{CampaignID: c.ID, Trigger: queue.TriggerResume, RequestedAt: s.now().UTC()}
		if err := queue.PublishCampaignRun(ctx, s.Queue, req); err != nil {
			errs = append(errs, fmt.Errorf("campaign %d: %w", c.ID, err))
			continue
		}
		s.Metrics.RunsQueued.Inc()
	}
	if len(errs) > 0 {
		return failed(appErrors.NewInfrastructure("resume campaigns", errors.Join(errs...)))
	}
	return ok(fmt.Sprintf("%d campaign(s) resumed", len(running)), map[string]int{"resumed": len(running)})
}

// ====================== Reads ======================

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if status != "" && !model.CampaignStatus(status).Valid() {
		return nil, nil, appErrors.NewValidation("status", "unknown campaign status "+status)
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

// GetCampaign returns the campaign with its recipients and their contacts.
func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	return s.CampaignRepo.GetWithRecipients(ctx, id)
}

// PreviewCampaign renders the message a contact would receive. contactID 0
// renders the body only.
func (s *CampaignService) PreviewCampaign(ctx context.Context, id, contactID int) (*Preview, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.TemplateRepo.GetByContentID(ctx, c.TemplateID)
	if err != nil {
		return nil, err
	}

	p := &Preview{CampaignID: c.ID, TemplateID: c.TemplateID, Body: tpl.Render(c.Variables())}
	if contactID != 0 {
		contact, err := s.ContactRepo.GetByID(ctx, contactID)
		if err != nil {
			return nil, err
		}
		to, err := phone.WhatsAppAddress(contact.Phone, s.DefaultRegion)
		if err != nil {
			return nil, appErrors.NewValidation("phone", "contact phone number cannot be used on WhatsApp")
		}
		p.To = to
	}
	return p, nil
}

// ====================== Helpers ======================

// claim moves c to in_progress with a single conditional update and queues a
// run. If the run cannot be queued the status is put back.
func (s *CampaignService) claim(ctx context.Context, c *model.Campaign, trigger string) (bool, error) {
	claimed, err := s.CampaignRepo.TransitionStatus(ctx, c.ID, []model.CampaignStatus{c.Status}, model.CampaignInProgress)
	if err != nil {
		return false, appErrors.NewInfrastructure("claim campaign", err)
	}
	if !claimed {
		return false, nil
	}

	req := queue.CampaignRunRequest{CampaignID: c.ID, Trigger: trigger, RequestedAt: s.now().UTC()}
	if err := queue.PublishCampaignRun(ctx, s.Queue, req); err != nil {
		revertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, rerr := s.CampaignRepo.TransitionStatus(revertCtx, c.ID, []model.CampaignStatus{model.CampaignInProgress}, c.Status); rerr != nil {
			s.Logger.Error("failed to revert campaign after queue error", "campaign_id", c.ID, "error", rerr)
		}
		return false, appErrors.NewInfrastructure("queue campaign run", err)
	}
	s.Metrics.RunsQueued.Inc()
	return true, nil
}

func (s *CampaignService) requireApprovedTemplate(ctx context.Context, contentID string) error {
	tpl, err := s.TemplateRepo.GetByContentID(ctx, contentID)
	if appErrors.IsNotFound(err) {
		return appErrors.NewValidation("template_id", "template "+contentID+" does not exist")
	}
	if err != nil {
		return appErrors.NewInfrastructure("load template", err)
	}
	if !tpl.IsApproved {
		return appErrors.NewValidation("template_id", "template "+contentID+" is not approved")
	}
	return nil
}

// discard removes a campaign whose creation could not be completed.
func (s *CampaignService) discard(ctx context.Context, id int) {
	if err := s.CampaignRepo.Delete(context.WithoutCancel(ctx), id); err != nil {
		s.Logger.Error("failed to remove incomplete campaign", "campaign_id", id, "error", err)
	}
}

func assign(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func ratio(part, whole int) float64 {
	return float64(part) / float64(whole)
}
