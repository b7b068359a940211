package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
)

func TestReplaceForCampaignKeepsOnlyOptedIn(t *testing.T) {
	ctx := context.Background()
	store := New().Store()

	in := &model.Contact{Phone: "+254700000001", HasOptedIn: true}
	out := &model.Contact{Phone: "+254700000002"}
	require.NoError(t, store.Contacts.Create(ctx, in))
	require.NoError(t, store.Contacts.Create(ctx, out))

	c := &model.Campaign{Name: "promo"}
	require.NoError(t, store.Campaigns.Create(ctx, c))

	created, err := store.Recipients.ReplaceForCampaign(ctx, c.ID, []int{out.ID, in.ID, in.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	got, err := store.Campaigns.GetWithRecipients(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalMessages)
	require.Len(t, got.Recipients, 1)
	assert.Equal(t, in.ID, got.Recipients[0].ContactID)
	require.NotNil(t, got.Recipients[0].Contact)
	assert.Equal(t, "+254700000001", got.Recipients[0].Contact.Phone)
}

func TestTransitionOnlyLeavesPendingOnce(t *testing.T) {
	ctx := context.Background()
	db := New()
	store := db.Store()

	c := &model.Campaign{Name: "promo"}
	require.NoError(t, store.Campaigns.Create(ctx, c))
	rec := &model.CampaignRecipient{CampaignID: c.ID, ContactID: 42}
	require.NoError(t, store.Recipients.AddRecipient(ctx, rec))

	campaignID := c.ID
	applied, err := store.Recipients.Transition(ctx, model.RecipientTransition{
		RecipientID: rec.ID, CampaignID: c.ID, To: model.RecipientSent, ProviderMessageID: "SM1", At: time.Now(),
		Log: &model.MessageLog{CampaignID: &campaignID, Direction: model.DirectionOutbound, ProviderMessageID: "SM1"},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Recipients.Transition(ctx, model.RecipientTransition{
		RecipientID: rec.ID, CampaignID: c.ID, To: model.RecipientFailed, At: time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.Campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SentCount)
	assert.Equal(t, 0, got.FailedCount)
	assert.Len(t, db.AllMessageLogs(), 1)
}

func TestAddRecipientIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := New().Store()

	first := &model.CampaignRecipient{CampaignID: 1, ContactID: 2}
	require.NoError(t, store.Recipients.AddRecipient(ctx, first))
	second := &model.CampaignRecipient{CampaignID: 1, ContactID: 2}
	require.NoError(t, store.Recipients.AddRecipient(ctx, second))
	assert.Equal(t, first.ID, second.ID)
}

func TestTransitionStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	store := New().Store()
	c := &model.Campaign{Name: "promo", Status: model.CampaignScheduled}
	require.NoError(t, store.Campaigns.Create(ctx, c))

	ok, err := store.Campaigns.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled}, model.CampaignInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Campaigns.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft, model.CampaignScheduled}, model.CampaignInProgress)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApplyDeliveryStatusBumpsCounters(t *testing.T) {
	ctx := context.Background()
	store := New().Store()
	c := &model.Campaign{Name: "promo"}
	require.NoError(t, store.Campaigns.Create(ctx, c))
	id := c.ID
	require.NoError(t, store.MessageLogs.AddMessageLogEntry(ctx, &model.MessageLog{
		CampaignID: &id, Direction: model.DirectionOutbound, Status: model.DeliveryQueued, ProviderMessageID: "SM9",
	}))

	update, err := store.MessageLogs.ApplyDeliveryStatus(ctx, "SM9", model.DeliveryRead)
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, 1, update.Delivered)
	assert.Equal(t, 1, update.Read)

	update, err = store.MessageLogs.ApplyDeliveryStatus(ctx, "SM9", model.DeliveryDelivered)
	require.NoError(t, err)
	assert.Equal(t, 0, update.Delivered)

	got, _ := store.Campaigns.GetByID(ctx, c.ID)
	assert.Equal(t, 1, got.DeliveredCount)
	assert.Equal(t, 1, got.ReadCount)

	missing, err := store.MessageLogs.ApplyDeliveryStatus(ctx, "nope", model.DeliveryRead)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDuplicatePhoneRejected(t *testing.T) {
	ctx := context.Background()
	store := New().Store()
	require.NoError(t, store.Contacts.Create(ctx, &model.Contact{Phone: "+1"}))
	err := store.Contacts.Create(ctx, &model.Contact{Phone: "+1"})
	assert.True(t, appErrors.IsValidation(err))
}

func TestInboundEntryLoggedOncePerProviderID(t *testing.T) {
	ctx := context.Background()
	db := New()
	store := db.Store()

	for i := 0; i < 2; i++ {
		require.NoError(t, store.MessageLogs.AddMessageLogEntry(ctx, &model.MessageLog{
			Direction: model.DirectionInbound, Status: model.DeliveryReceived, ProviderMessageID: "SMin",
		}))
	}
	// outbound entries sharing an id are not affected
	require.NoError(t, store.MessageLogs.AddMessageLogEntry(ctx, &model.MessageLog{
		Direction: model.DirectionOutbound, Status: model.DeliveryQueued, ProviderMessageID: "SMin",
	}))

	assert.Len(t, db.AllMessageLogs(), 2)
	seen, err := store.MessageLogs.InboundRecorded(ctx, "SMin")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = store.MessageLogs.InboundRecorded(ctx, "SMother")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestUpdateReplacesAudienceOnlyForDrafts(t *testing.T) {
	ctx := context.Background()
	store := New().Store()
	a := &model.Contact{Phone: "+254712345001", HasOptedIn: true}
	b := &model.Contact{Phone: "+254712345002", HasOptedIn: true}
	require.NoError(t, store.Contacts.Create(ctx, a))
	require.NoError(t, store.Contacts.Create(ctx, b))
	c := &model.Campaign{Name: "promo"}
	require.NoError(t, store.Campaigns.Create(ctx, c))
	_, err := store.Recipients.ReplaceForCampaign(ctx, c.ID, []int{a.ID})
	require.NoError(t, err)

	c.Name = "renamed"
	require.NoError(t, store.Campaigns.Update(ctx, c, []int{a.ID, b.ID}))
	assert.Equal(t, 2, c.TotalMessages)

	ok, err := store.Campaigns.TransitionStatus(ctx, c.ID, []model.CampaignStatus{model.CampaignDraft}, model.CampaignScheduled)
	require.NoError(t, err)
	require.True(t, ok)

	c.Name = "again"
	err = store.Campaigns.Update(ctx, c, []int{b.ID})
	assert.True(t, appErrors.IsInvalidState(err))

	recipients, err := store.Recipients.ListByCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, recipients, 2)
	got, err := store.Campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 2, got.TotalMessages)
}
