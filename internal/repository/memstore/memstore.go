// Package memstore keeps every repository in process memory. It backs the
// service and dispatcher tests and STORE_DRIVER=memory for local runs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository"
)

type DB struct {
	mu sync.Mutex

	nextID     int
	campaigns  map[int]*model.Campaign
	recipients map[int]*model.CampaignRecipient
	contacts   map[int]*model.Contact
	templates  map[string]*model.WhatsAppTemplate
	logs       []*model.MessageLog
}

func New() *DB {
	return &DB{
		campaigns:  map[int]*model.Campaign{},
		recipients: map[int]*model.CampaignRecipient{},
		contacts:   map[int]*model.Contact{},
		templates:  map[string]*model.WhatsAppTemplate{},
	}
}

// Store exposes the in-memory tables through the repository interfaces.
func (db *DB) Store() *repository.Store {
	return &repository.Store{
		Campaigns:   &Campaigns{db},
		Recipients:  &Recipients{db},
		Contacts:    &Contacts{db},
		Templates:   &Templates{db},
		MessageLogs: &MessageLogs{db},
	}
}

func (db *DB) id() int {
	db.nextID++
	return db.nextID
}

func cloneCampaign(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Recipients = nil
	return &cp
}

func cloneRecipient(r *model.CampaignRecipient) *model.CampaignRecipient {
	cp := *r
	cp.Contact = nil
	return &cp
}

func cloneContact(c *model.Contact) *model.Contact {
	cp := *c
	return &cp
}

// ====================== Campaigns ======================

type Campaigns struct{ db *DB }

func (r *Campaigns) Create(_ context.Context, c *model.Campaign) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c.ID = r.db.id()
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	r.db.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (r *Campaigns) Update(_ context.Context, c *model.Campaign, contactIDs []int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	if stored.Status != model.CampaignDraft {
		return appErrors.NewInvalidState(c.ID, string(stored.Status), "update")
	}
	now := time.Now()
	c.UpdatedAt = &now
	cp := cloneCampaign(c)
	// counters are owned by the dispatcher and callbacks
	cp.TotalMessages, cp.SentCount, cp.FailedCount = stored.TotalMessages, stored.SentCount, stored.FailedCount
	cp.DeliveredCount, cp.ReadCount, cp.ResponseCount = stored.DeliveredCount, stored.ReadCount, stored.ResponseCount
	cp.CreatedAt, cp.CreatedBy = stored.CreatedAt, stored.CreatedBy
	r.db.campaigns[c.ID] = cp
	if contactIDs != nil {
		cp.TotalMessages = r.db.replaceRecipients(c.ID, contactIDs)
	}
	c.TotalMessages = cp.TotalMessages
	return nil
}

func (r *Campaigns) Delete(_ context.Context, id int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if stored.Status != model.CampaignDraft {
		return appErrors.NewInvalidState(id, string(stored.Status), "delete")
	}
	delete(r.db.campaigns, id)
	for rid, rec := range r.db.recipients {
		if rec.CampaignID == id {
			delete(r.db.recipients, rid)
		}
	}
	return nil
}

func (r *Campaigns) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return cloneCampaign(c), nil
}

func (r *Campaigns) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var all []*model.Campaign
	for _, c := range r.db.campaigns {
		if status == "" || string(c.Status) == status {
			all = append(all, cloneCampaign(c))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *Campaigns) GetWithRecipients(_ context.Context, id int) (*model.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stored, ok := r.db.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	c := cloneCampaign(stored)
	for _, rec := range r.db.recipients {
		if rec.CampaignID != id {
			continue
		}
		cp := cloneRecipient(rec)
		if contact, ok := r.db.contacts[rec.ContactID]; ok {
			cp.Contact = cloneContact(contact)
		}
		c.Recipients = append(c.Recipients, cp)
	}
	sort.Slice(c.Recipients, func(i, j int) bool { return c.Recipients[i].ID < c.Recipients[j].ID })
	return c, nil
}

func (r *Campaigns) GetStatus(_ context.Context, id int) (model.CampaignStatus, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return "", appErrors.NewCampaignNotFound(id)
	}
	return c.Status, nil
}

func (r *Campaigns) FindCampaigns(_ context.Context, status model.CampaignStatus, scheduledBefore *time.Time) ([]*model.Campaign, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var found []*model.Campaign
	for _, c := range r.db.campaigns {
		if c.Status != status {
			continue
		}
		if scheduledBefore != nil && (c.ScheduledAt == nil || c.ScheduledAt.After(*scheduledBefore)) {
			continue
		}
		found = append(found, cloneCampaign(c))
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found, nil
}

func (r *Campaigns) TransitionStatus(_ context.Context, id int, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if c.Status == s {
			now := time.Now()
			c.Status = to
			c.UpdatedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (r *Campaigns) SetTotalMessages(_ context.Context, id, total int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.TotalMessages = total
	return nil
}

func (r *Campaigns) IncrementCounters(_ context.Context, id int, delivered, read, responses int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c, ok := r.db.campaigns[id]; ok {
		c.DeliveredCount += delivered
		c.ReadCount += read
		c.ResponseCount += responses
	}
	return nil
}

// ====================== Recipients ======================

type Recipients struct{ db *DB }

func (r *Recipients) AddRecipient(_ context.Context, rec *model.CampaignRecipient) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.recipients {
		if existing.CampaignID == rec.CampaignID && existing.ContactID == rec.ContactID {
			*rec = *cloneRecipient(existing)
			return nil
		}
	}
	if rec.Status == "" {
		rec.Status = model.RecipientPending
	}
	rec.ID = r.db.id()
	rec.CreatedAt = time.Now()
	r.db.recipients[rec.ID] = cloneRecipient(rec)
	return nil
}

func (r *Recipients) ReplaceForCampaign(_ context.Context, campaignID int, contactIDs []int) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.campaigns[campaignID]
	if !ok {
		return 0, appErrors.NewCampaignNotFound(campaignID)
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return 0, appErrors.NewInvalidState(campaignID, string(c.Status), "change the audience of")
	}
	return r.db.replaceRecipients(campaignID, contactIDs), nil
}

// replaceRecipients expects db.mu held and the campaign to exist.
func (db *DB) replaceRecipients(campaignID int, contactIDs []int) int {
	for id, rec := range db.recipients {
		if rec.CampaignID == campaignID {
			delete(db.recipients, id)
		}
	}

	ids := append([]int(nil), contactIDs...)
	sort.Ints(ids)
	seen := map[int]bool{}
	created := 0
	for _, contactID := range ids {
		contact, ok := db.contacts[contactID]
		if !ok || !contact.HasOptedIn || seen[contactID] {
			continue
		}
		seen[contactID] = true
		rec := &model.CampaignRecipient{
			ID:         db.id(),
			CampaignID: campaignID,
			ContactID:  contactID,
			Status:     model.RecipientPending,
			CreatedAt:  time.Now(),
		}
		db.recipients[rec.ID] = rec
		created++
	}
	db.campaigns[campaignID].TotalMessages = created
	return created
}

func (r *Recipients) ListByCampaign(_ context.Context, campaignID int) ([]*model.CampaignRecipient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	recipients := []*model.CampaignRecipient{}
	for _, rec := range r.db.recipients {
		if rec.CampaignID == campaignID {
			recipients = append(recipients, cloneRecipient(rec))
		}
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].ID < recipients[j].ID })
	return recipients, nil
}

func (r *Recipients) CountByStatus(_ context.Context, campaignID int) (map[model.RecipientStatus]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	stats := map[model.RecipientStatus]int{
		model.RecipientPending: 0,
		model.RecipientSent:    0,
		model.RecipientSkipped: 0,
		model.RecipientFailed:  0,
	}
	for _, rec := range r.db.recipients {
		if rec.CampaignID == campaignID {
			stats[rec.Status]++
		}
	}
	return stats, nil
}

func (r *Recipients) Transition(_ context.Context, t model.RecipientTransition) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec, ok := r.db.recipients[t.RecipientID]
	if !ok || rec.Status != model.RecipientPending {
		return false, nil
	}
	at := t.At
	rec.Status = t.To
	rec.ProviderMessageID = t.ProviderMessageID
	rec.LastError = t.LastError
	rec.StatusUpdatedAt = &at
	if t.To == model.RecipientSent {
		rec.SentAt = &at
	}

	if c, ok := r.db.campaigns[t.CampaignID]; ok {
		switch t.To {
		case model.RecipientSent:
			c.SentCount++
		case model.RecipientFailed:
			c.FailedCount++
		}
	}

	if t.Log != nil {
		t.Log.ID = r.db.id()
		if t.Log.CreatedAt.IsZero() {
			t.Log.CreatedAt = at
		}
		entry := *t.Log
		r.db.logs = append(r.db.logs, &entry)
	}
	return true, nil
}

func (r *Recipients) GetLatestSentForContact(_ context.Context, contactID int) (*model.CampaignRecipient, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var latest *model.CampaignRecipient
	for _, rec := range r.db.recipients {
		if rec.ContactID != contactID || rec.Status != model.RecipientSent || rec.HasResponded {
			continue
		}
		if latest == nil || rec.SentAt.After(*latest.SentAt) || (rec.SentAt.Equal(*latest.SentAt) && rec.ID > latest.ID) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneRecipient(latest), nil
}

func (r *Recipients) MarkResponded(_ context.Context, id int) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rec, ok := r.db.recipients[id]
	if !ok || rec.HasResponded {
		return false, nil
	}
	rec.HasResponded = true
	return true, nil
}

// ====================== Contacts ======================

type Contacts struct{ db *DB }

func (r *Contacts) Create(_ context.Context, c *model.Contact) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.contacts {
		if existing.Phone == c.Phone {
			return appErrors.NewValidation("phone", "a contact with this phone number already exists")
		}
	}
	c.ID = r.db.id()
	c.CreatedAt = time.Now()
	r.db.contacts[c.ID] = cloneContact(c)
	return nil
}

func (r *Contacts) GetByID(_ context.Context, id int) (*model.Contact, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.contacts[id]
	if !ok {
		return nil, appErrors.NewNotFound("contact", id)
	}
	return cloneContact(c), nil
}

func (r *Contacts) GetByIDs(_ context.Context, ids []int) ([]*model.Contact, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	contacts := []*model.Contact{}
	seen := map[int]bool{}
	for _, id := range ids {
		if c, ok := r.db.contacts[id]; ok && !seen[id] {
			seen[id] = true
			contacts = append(contacts, cloneContact(c))
		}
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
	return contacts, nil
}

func (r *Contacts) GetByPhone(_ context.Context, phone string) (*model.Contact, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, c := range r.db.contacts {
		if c.Phone == phone {
			return cloneContact(c), nil
		}
	}
	return nil, nil
}

func (r *Contacts) List(_ context.Context, offset, limit int) ([]*model.Contact, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	all := make([]*model.Contact, 0, len(r.db.contacts))
	for _, c := range r.db.contacts {
		all = append(all, cloneContact(c))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset >= total {
		return []*model.Contact{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *Contacts) SetOptIn(_ context.Context, id int, optedIn bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.contacts[id]
	if !ok {
		return appErrors.NewNotFound("contact", id)
	}
	c.HasOptedIn = optedIn
	if optedIn {
		now := time.Now()
		c.OptInDate = &now
	}
	return nil
}

func (r *Contacts) TouchLastContact(_ context.Context, id int, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if c, ok := r.db.contacts[id]; ok {
		c.LastContactAt = &at
	}
	return nil
}

// ====================== Templates ======================

type Templates struct{ db *DB }

func (r *Templates) Create(_ context.Context, t *model.WhatsAppTemplate) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.templates[t.ContentID]; exists {
		return appErrors.NewValidation("content_id", "template already registered")
	}
	t.ID = r.db.id()
	t.CreatedAt = time.Now()
	cp := *t
	r.db.templates[t.ContentID] = &cp
	return nil
}

func (r *Templates) GetByContentID(_ context.Context, contentID string) (*model.WhatsAppTemplate, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.templates[contentID]
	if !ok {
		return nil, appErrors.NewNotFound("template", contentID)
	}
	cp := *t
	return &cp, nil
}

func (r *Templates) List(_ context.Context) ([]*model.WhatsAppTemplate, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	templates := []*model.WhatsAppTemplate{}
	for _, t := range r.db.templates {
		cp := *t
		templates = append(templates, &cp)
	}
	sort.Slice(templates, func(i, j int) bool { return templates[i].Name < templates[j].Name })
	return templates, nil
}

func (r *Templates) SetApproval(_ context.Context, contentID string, approved bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.templates[contentID]
	if !ok {
		return appErrors.NewNotFound("template", contentID)
	}
	t.IsApproved = approved
	return nil
}

// ====================== Message logs ======================

type MessageLogs struct{ db *DB }

func (r *MessageLogs) AddMessageLogEntry(_ context.Context, entry *model.MessageLog) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if entry.Direction == model.DirectionInbound && entry.ProviderMessageID != "" && r.db.hasInbound(entry.ProviderMessageID) {
		return nil
	}
	entry.ID = r.db.id()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	cp := *entry
	r.db.logs = append(r.db.logs, &cp)
	return nil
}

func (r *MessageLogs) InboundRecorded(_ context.Context, providerMessageID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.hasInbound(providerMessageID), nil
}

func (db *DB) hasInbound(providerMessageID string) bool {
	for _, e := range db.logs {
		if e.Direction == model.DirectionInbound && e.ProviderMessageID == providerMessageID {
			return true
		}
	}
	return false
}

func (r *MessageLogs) ListByCampaign(_ context.Context, campaignID int) ([]*model.MessageLog, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	entries := []*model.MessageLog{}
	for _, e := range r.db.logs {
		if e.CampaignID != nil && *e.CampaignID == campaignID {
			cp := *e
			entries = append(entries, &cp)
		}
	}
	return entries, nil
}

func (r *MessageLogs) ApplyDeliveryStatus(_ context.Context, providerMessageID, status string) (*model.DeliveryUpdate, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var entry *model.MessageLog
	for i := len(r.db.logs) - 1; i >= 0; i-- {
		e := r.db.logs[i]
		if e.ProviderMessageID == providerMessageID && e.Direction == model.DirectionOutbound {
			entry = e
			break
		}
	}
	if entry == nil {
		return nil, nil
	}

	update := &model.DeliveryUpdate{CampaignID: entry.CampaignID, Previous: entry.Status, Current: entry.Status}
	if !model.AdvancesDelivery(entry.Status, status) {
		return update, nil
	}
	update.Delivered, update.Read = model.DeliveryDeltas(entry.Status, status)
	update.Current = status
	entry.Status = status
	if entry.CampaignID != nil {
		if c, ok := r.db.campaigns[*entry.CampaignID]; ok {
			c.DeliveredCount += update.Delivered
			c.ReadCount += update.Read
		}
	}
	return update, nil
}

// AllMessageLogs returns every stored log entry in insertion order.
func (db *DB) AllMessageLogs() []*model.MessageLog {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make([]*model.MessageLog, 0, len(db.logs))
	for _, e := range db.logs {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

var (
	_ repository.CampaignRepositoryInterface   = (*Campaigns)(nil)
	_ repository.RecipientRepositoryInterface  = (*Recipients)(nil)
	_ repository.ContactRepositoryInterface    = (*Contacts)(nil)
	_ repository.TemplateRepositoryInterface   = (*Templates)(nil)
	_ repository.MessageLogRepositoryInterface = (*MessageLogs)(nil)
)
