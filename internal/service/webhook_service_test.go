package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

// sentCampaign creates a campaign with one recipient already marked sent
// under provider id SM1.
func sentCampaign(t *testing.T, e *env, phone string) (*model.Campaign, int) {
	t.Helper()
	ctx := context.Background()
	contactID := e.contact(t, phone, true)
	c := e.create(t, service.CreateCampaignRequest{ContactIDs: []int{contactID}})
	got, err := e.svc.GetCampaign(ctx, c.ID)
	require.NoError(t, err)

	campaignID := c.ID
	_, err = e.store.Recipients.Transition(ctx, model.RecipientTransition{
		RecipientID:       got.Recipients[0].ID,
		CampaignID:        c.ID,
		To:                model.RecipientSent,
		ProviderMessageID: "SM1",
		At:                time.Now().UTC(),
		Log: &model.MessageLog{
			CampaignID: &campaignID, ContactID: &contactID, Direction: model.DirectionOutbound,
			Status: model.DeliveryQueued, ProviderMessageID: "SM1",
		},
	})
	require.NoError(t, err)
	return c, contactID
}

func TestStatusCallbacksMoveCounters(t *testing.T) {
	e := newEnv(t)
	c, _ := sentCampaign(t, e, "+254712345678")
	wh := service.NewWebhookService(e.store, "KE", logger.Nop())
	ctx := context.Background()

	require.NoError(t, wh.HandleStatus(ctx, service.StatusCallback{MessageSID: "SM1", MessageStatus: "delivered"}))
	require.NoError(t, wh.HandleStatus(ctx, service.StatusCallback{MessageSID: "SM1", MessageStatus: "read"}))
	// late or repeated callbacks do not count twice
	require.NoError(t, wh.HandleStatus(ctx, service.StatusCallback{MessageSID: "SM1", MessageStatus: "delivered"}))
	require.NoError(t, wh.HandleStatus(ctx, service.StatusCallback{MessageSID: "SMunknown", MessageStatus: "read"}))

	got, err := e.store.Campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DeliveredCount)
	assert.Equal(t, 1, got.ReadCount)

	assert.True(t, appErrors.IsValidation(wh.HandleStatus(ctx, service.StatusCallback{})))
}

func TestInboundReplyMarksResponse(t *testing.T) {
	e := newEnv(t)
	c, contactID := sentCampaign(t, e, "+254712345678")
	wh := service.NewWebhookService(e.store, "KE", logger.Nop())
	ctx := context.Background()

	msg := service.InboundMessage{MessageSID: "SMin1", From: "whatsapp:+254712345678", To: "whatsapp:+254711000000", Body: "STOP"}
	require.NoError(t, wh.HandleInbound(ctx, msg))
	msg.MessageSID = "SMin2"
	require.NoError(t, wh.HandleInbound(ctx, msg))

	got, err := e.svc.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ResponseCount)
	assert.True(t, got.Recipients[0].HasResponded)

	contact, err := e.store.Contacts.GetByID(ctx, contactID)
	require.NoError(t, err)
	assert.NotNil(t, contact.LastContactAt)

	var inbound []*model.MessageLog
	for _, l := range e.db.AllMessageLogs() {
		if l.Direction == model.DirectionInbound {
			inbound = append(inbound, l)
		}
	}
	require.Len(t, inbound, 2)
	require.NotNil(t, inbound[0].CampaignID)
	assert.Equal(t, c.ID, *inbound[0].CampaignID)
	assert.Nil(t, inbound[1].CampaignID)
}

func TestRedeliveredInboundIsHandledOnce(t *testing.T) {
	e := newEnv(t)
	c, contactID := sentCampaign(t, e, "+254712345679")
	wh := service.NewWebhookService(e.store, "KE", logger.Nop())
	ctx := context.Background()

	msg := service.InboundMessage{MessageSID: "SMretry", From: "whatsapp:+254712345679", To: "whatsapp:+254711000000", Body: "YES"}
	require.NoError(t, wh.HandleInbound(ctx, msg))
	first, err := e.store.Contacts.GetByID(ctx, contactID)
	require.NoError(t, err)
	require.NotNil(t, first.LastContactAt)

	require.NoError(t, wh.HandleInbound(ctx, msg))

	inbound := 0
	for _, l := range e.db.AllMessageLogs() {
		if l.Direction == model.DirectionInbound {
			inbound++
			assert.Equal(t, "SMretry", l.ProviderMessageID)
		}
	}
	assert.Equal(t, 1, inbound)

	got, err := e.svc.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ResponseCount)

	again, err := e.store.Contacts.GetByID(ctx, contactID)
	require.NoError(t, err)
	assert.Equal(t, *first.LastContactAt, *again.LastContactAt)
}

func TestInboundFromUnknownNumberIsLogged(t *testing.T) {
	e := newEnv(t)
	wh := service.NewWebhookService(e.store, "KE", logger.Nop())

	require.NoError(t, wh.HandleInbound(context.Background(), service.InboundMessage{
		MessageSID: "SMx", From: "whatsapp:+254799999999", Body: "hi",
	}))
	logs := e.db.AllMessageLogs()
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].ContactID)

	err := wh.HandleInbound(context.Background(), service.InboundMessage{From: "whatsapp:garbage"})
	assert.True(t, appErrors.IsValidation(err))
}
