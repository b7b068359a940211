package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/model"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository/memstore"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

func newContactService() *service.ContactService {
	return &service.ContactService{ContactRepo: memstore.New().Store().Contacts, DefaultRegion: "KE", Logger: logger.Nop()}
}

func TestCreateContactNormalizesPhone(t *testing.T) {
	svc := newContactService()
	res := svc.CreateContact(context.Background(), service.CreateContactRequest{
		Phone: "0712 345 678", Name: "Ann", HasOptedIn: true, Tags: []string{" vip ", "", "nairobi"},
	})
	require.True(t, res.Success, res.Message)

	c := res.Data.(*model.Contact)
	assert.Equal(t, "+254712345678", c.Phone)
	assert.Equal(t, "vip,nairobi", c.Tags)
	assert.NotNil(t, c.OptInDate)
}

func TestCreateContactRejectsDuplicatesAndBadNumbers(t *testing.T) {
	svc := newContactService()
	require.True(t, svc.CreateContact(context.Background(), service.CreateContactRequest{Phone: "+254712345678"}).Success)

	res := svc.CreateContact(context.Background(), service.CreateContactRequest{Phone: "0712345678"})
	assert.True(t, appErrors.IsValidation(res.Err))

	res = svc.CreateContact(context.Background(), service.CreateContactRequest{Phone: "12"})
	assert.True(t, appErrors.IsValidation(res.Err))

	res = svc.CreateContact(context.Background(), service.CreateContactRequest{})
	assert.True(t, appErrors.IsValidation(res.Err))
}

func TestSetOptIn(t *testing.T) {
	svc := newContactService()
	res := svc.CreateContact(context.Background(), service.CreateContactRequest{Phone: "+254712345678"})
	require.True(t, res.Success)
	id := res.Data.(*model.Contact).ID

	require.True(t, svc.SetOptIn(context.Background(), id, true).Success)
	c, err := svc.GetContact(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, c.HasOptedIn)

	assert.True(t, appErrors.IsNotFound(svc.SetOptIn(context.Background(), 404, true).Err))
}

func TestTemplateService(t *testing.T) {
	svc := &service.TemplateService{TemplateRepo: memstore.New().Store().Templates, Logger: logger.Nop()}
	ctx := context.Background()

	res := svc.CreateTemplate(ctx, service.CreateTemplateRequest{ContentID: "bad", Name: "x", Language: "en"})
	assert.True(t, appErrors.IsValidation(res.Err))

	res = svc.CreateTemplate(ctx, service.CreateTemplateRequest{ContentID: "HX1", Name: "x", Language: "en", Body: "Hi {{1}}"})
	require.True(t, res.Success, res.Message)
	assert.False(t, res.Data.(*model.WhatsAppTemplate).IsApproved)

	require.True(t, svc.SetApproval(ctx, "HX1", true).Success)
	list, err := svc.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsApproved)

	body, err := svc.RenderTemplate(ctx, "HX1", map[string]string{"1": "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ann", body)

	assert.True(t, appErrors.IsNotFound(svc.SetApproval(ctx, "HX2", true).Err))
}
