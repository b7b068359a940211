package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wa-campaigns-backend/internal/errors"
	"github.com/unclebandit/wa-campaigns-backend/internal/service"
)

func TestListCampaignsPagination(t *testing.T) {
	e := newEnv(t)
	for i := 1; i <= 5; i++ {
		e.create(t, service.CreateCampaignRequest{Name: fmt.Sprintf("C%d", i)})
	}

	campaigns, pagination, err := e.svc.ListCampaigns(context.Background(), 2, 2, "")
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	// newest first
	assert.Equal(t, "C3", campaigns[0].Name)
	assert.Equal(t, "C2", campaigns[1].Name)
	assert.Equal(t, map[string]int{"page": 2, "page_size": 2, "total_count": 5, "total_pages": 3}, pagination)

	campaigns, _, err = e.svc.ListCampaigns(context.Background(), 10, 2, "")
	require.NoError(t, err)
	assert.Empty(t, campaigns)
}

func TestListCampaignsClampsPageSize(t *testing.T) {
	e := newEnv(t)
	e.create(t, service.CreateCampaignRequest{})

	_, pagination, err := e.svc.ListCampaigns(context.Background(), 0, 500, "")
	require.NoError(t, err)
	assert.Equal(t, 1, pagination["page"])
	assert.Equal(t, 100, pagination["page_size"])

	_, pagination, err = e.svc.ListCampaigns(context.Background(), 1, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 20, pagination["page_size"])
}

func TestListCampaignsByStatus(t *testing.T) {
	e := newEnv(t)
	e.create(t, service.CreateCampaignRequest{})
	e.create(t, service.CreateCampaignRequest{ScheduledAt: future()})

	campaigns, pagination, err := e.svc.ListCampaigns(context.Background(), 1, 20, "scheduled")
	require.NoError(t, err)
	assert.Len(t, campaigns, 1)
	assert.Equal(t, 1, pagination["total_count"])

	_, _, err = e.svc.ListCampaigns(context.Background(), 1, 20, "sending")
	assert.True(t, appErrors.IsValidation(err))
}
