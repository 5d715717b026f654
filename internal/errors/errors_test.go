package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jahboukie/codecontext-keygen/internal/authority"
	"github.com/jahboukie/codecontext-keygen/internal/license"
)

func TestFromReason(t *testing.T) {
	tests := []struct {
		reason     authority.Reason
		wantStatus int
	}{
		{authority.ReasonInvalidInput, http.StatusBadRequest},
		{authority.ReasonUnauthorized, http.StatusBadGateway},
		{authority.ReasonLicenseNotFound, http.StatusNotFound},
		{authority.ReasonInvalid, http.StatusForbidden},
		{authority.ReasonActivationLimit, http.StatusUnprocessableEntity},
		{authority.ReasonActivationFailed, http.StatusBadGateway},
		{authority.ReasonServiceError, http.StatusServiceUnavailable},
		{authority.ReasonNetworkError, http.StatusServiceUnavailable},
		{license.ReasonNoLicense, http.StatusPreconditionRequired},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			apiErr := FromReason(tt.reason)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.reason.String(), apiErr.ErrorCode)
			assert.NotEmpty(t, apiErr.Message, "every reason maps to a remediation")
		})
	}
}

func TestFromReasonUnknown(t *testing.T) {
	apiErr := FromReason(authority.Reason("SOMETHING_NEW"))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.NotEmpty(t, apiErr.Message)
}

func TestAPIErrorImplementsError(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_REQUEST", "bad input")
	assert.Equal(t, "bad input", err.Error())
}
