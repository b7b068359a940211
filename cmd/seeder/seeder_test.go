package main

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wa-campaigns-backend/internal/logger"
	"github.com/unclebandit/wa-campaigns-backend/internal/repository/memstore"
)

func TestSeederCreatesContactsAndTemplates(t *testing.T) {
	store := memstore.New().Store()
	s := &seeder{store: store, faker: gofakeit.New(42), region: "KE", optOutEvery: 4, logger: logger.Nop()}
	ctx := context.Background()

	report, err := s.run(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, report.optedIn+report.optedOut+report.skipped)
	assert.Positive(t, report.optedOut)

	contacts, total, err := store.Contacts.List(ctx, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, report.optedIn+report.optedOut, total)
	for _, c := range contacts {
		assert.Regexp(t, `^\+2547\d{8}$`, c.Phone)
		assert.Equal(t, c.HasOptedIn, c.OptInDate != nil)
	}

	templates, err := store.Templates.List(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.True(t, templates[0].IsApproved)

	// seeding again keeps the templates and adds contacts
	_, err = s.run(ctx, 5)
	require.NoError(t, err)
	templates, err = store.Templates.List(ctx)
	require.NoError(t, err)
	assert.Len(t, templates, 2)
}
