package appErrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", NewValidation("name", "required"), http.StatusBadRequest},
		{"not found", NewCampaignNotFound(4), http.StatusNotFound},
		{"invalid state", NewInvalidState(1, "completed", "update"), http.StatusConflict},
		{"gateway", NewGateway("whatsapp:+1", errors.New("boom")), http.StatusBadGateway},
		{"infrastructure", NewInfrastructure("load", errors.New("conn reset")), http.StatusInternalServerError},
		{"plain", errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatus(tc.err))
		})
	}
}

func TestWrappedErrorsAreDetected(t *testing.T) {
	err := fmt.Errorf("launch: %w", NewInvalidState(7, "completed", "launch"))
	assert.True(t, IsInvalidState(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, "launch: cannot launch campaign 7 in status completed", err.Error())

	cause := errors.New("timeout")
	gw := NewGateway("whatsapp:+254700000000", cause)
	assert.ErrorIs(t, gw, cause)
	assert.True(t, IsGateway(fmt.Errorf("send: %w", gw)))
}

func TestNewInfrastructureNil(t *testing.T) {
	assert.NoError(t, NewInfrastructure("noop", nil))
}
