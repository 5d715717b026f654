package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jahboukie/codecontext-keygen/internal/authority"
	"github.com/jahboukie/codecontext-keygen/internal/license"
	"github.com/jahboukie/codecontext-keygen/internal/shared/testutil"
)

// fakeManager is a programmable LicenseManager
type fakeManager struct {
	activateFn    func(ctx context.Context, key string) (*license.Entitlement, error)
	activateCalls int

	ent       *license.Entitlement
	state     license.State
	validated bool
	allowed   map[string]bool
}

func (f *fakeManager) ActivateLicense(ctx context.Context, key string) (*license.Entitlement, error) {
	f.activateCalls++
	return f.activateFn(ctx, key)
}

func (f *fakeManager) ValidateLicense(context.Context) bool { return f.validated }

func (f *fakeManager) CanPerformOperation(_ context.Context, operation string) bool {
	return f.allowed[operation]
}

func (f *fakeManager) GetLicenseStatus() (license.Status, error) {
	if f.ent == nil {
		return license.Status{}, license.ErrNoLicense
	}
	status := license.Status{
		Tier:            f.ent.Tier,
		Active:          f.ent.Active && !f.ent.Expired(time.Now()),
		Features:        f.ent.Features,
		ActivationsUsed: f.ent.CurrentActivations,
		MaxActivations:  f.ent.MaxActivations,
		Email:           f.ent.Email,
	}
	if days, ok := f.ent.DaysRemaining(time.Now()); ok {
		status.DaysRemaining = &days
	}
	return status, nil
}

func (f *fakeManager) GetCurrentLicense() (*license.Entitlement, error) {
	if f.ent == nil {
		return nil, license.ErrNoLicense
	}
	entCopy := *f.ent
	return &entCopy, nil
}

func (f *fakeManager) State() license.State { return f.state }

func TestActivateRetriesOnceOnNetworkError(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	ent := testutil.ValidEntitlement()

	manager := &fakeManager{}
	manager.activateFn = func(context.Context, string) (*license.Entitlement, error) {
		if manager.activateCalls == 1 {
			return nil, &license.ActivationError{
				Reason: authority.ReasonNetworkError,
				Err:    fmt.Errorf("connection refused"),
			}
		}
		return ent, nil
	}

	service := NewLicenseService(manager, "/tmp/license.json", logger)
	resp, err := service.Activate(context.Background(), ent.Key)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, manager.activateCalls)
}

func TestActivateDoesNotRetryConclusiveFailures(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	manager := &fakeManager{}
	manager.activateFn = func(context.Context, string) (*license.Entitlement, error) {
		return nil, &license.ActivationError{Reason: authority.ReasonInvalid}
	}

	service := NewLicenseService(manager, "/tmp/license.json", logger)
	_, err := service.Activate(context.Background(), "LIC-BAD-0001")

	var actErr *license.ActivationError
	require.ErrorAs(t, err, &actErr)
	assert.Equal(t, authority.ReasonInvalid, actErr.Reason)
	assert.Equal(t, 1, manager.activateCalls, "a conclusive rejection must not be retried")
}

func TestActivateGivesUpAfterSecondNetworkError(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	manager := &fakeManager{}
	manager.activateFn = func(context.Context, string) (*license.Entitlement, error) {
		return nil, &license.ActivationError{Reason: authority.ReasonNetworkError}
	}

	service := NewLicenseService(manager, "/tmp/license.json", logger)
	_, err := service.Activate(context.Background(), "LIC-OFFLINE-0001")
	require.Error(t, err)
	assert.Equal(t, 2, manager.activateCalls)
}

func TestActivateInactiveLicenseMessage(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	ent := testutil.InactiveEntitlement()

	manager := &fakeManager{}
	manager.activateFn = func(context.Context, string) (*license.Entitlement, error) {
		return ent, nil
	}

	service := NewLicenseService(manager, "/tmp/license.json", logger)
	resp, err := service.Activate(context.Background(), ent.Key)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.False(t, resp.Active)
	assert.Contains(t, resp.Message, "inactive")
}

func TestGetStatusUnlicensed(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	service := NewLicenseService(&fakeManager{state: license.StateUnlicensed}, "/tmp/license.json", logger)

	status, err := service.GetStatus(context.Background())
	require.NoError(t, err, "having no license is a presentable state, not a failure")
	assert.Equal(t, string(license.StateUnlicensed), status.State)
	assert.False(t, status.Active)
	assert.Contains(t, status.Message, "activate")
}

func TestGetStatusActiveLicense(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	manager := &fakeManager{
		ent:   testutil.ValidEntitlement(),
		state: license.StateCachedValid,
	}

	service := NewLicenseService(manager, "/tmp/license.json", logger)
	status, err := service.GetStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, string(license.StateCachedValid), status.State)
	assert.Equal(t, string(license.TierMemory), status.Tier)
	assert.True(t, status.Active)
	assert.Contains(t, status.Message, "memory")
	require.NotNil(t, status.DaysRemaining)
	assert.Greater(t, *status.DaysRemaining, 0)
}

func TestGetDetailedStatusMasksKey(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	ent := testutil.ValidEntitlement()
	manager := &fakeManager{
		ent:       ent,
		state:     license.StateCachedValid,
		validated: true,
	}

	service := NewLicenseService(manager, "/tmp/license.json", logger)
	detailed, err := service.GetDetailedStatus(context.Background())
	require.NoError(t, err)

	assert.Equal(t, license.MaskLicenseKey(ent.Key), detailed.KeyMasked)
	assert.NotEqual(t, ent.Key, detailed.KeyMasked)
	assert.Equal(t, "/tmp/license.json", detailed.CachePath)
	assert.Equal(t, ent.Email, detailed.Email)

	assert.False(t, handler.ContainsText(ent.Key), "the raw key must never be logged")
}

func TestGetDetailedStatusWithoutLicense(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	service := NewLicenseService(&fakeManager{}, "/tmp/license.json", logger)

	_, err := service.GetDetailedStatus(context.Background())
	assert.ErrorIs(t, err, license.ErrNoLicense)
}

func TestAuthorize(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)

	t.Run("allowed operation", func(t *testing.T) {
		manager := &fakeManager{
			ent:     testutil.ValidEntitlement(),
			allowed: map[string]bool{"remember": true},
		}
		service := NewLicenseService(manager, "/tmp/license.json", logger)

		decision, err := service.Authorize(context.Background(), "remember")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, license.FeatureUnlimitedMemory, decision.RequiredFeature)
		assert.Empty(t, decision.Message)
	})

	t.Run("denied for missing feature", func(t *testing.T) {
		manager := &fakeManager{
			ent:     testutil.ValidEntitlement(),
			allowed: map[string]bool{},
		}
		service := NewLicenseService(manager, "/tmp/license.json", logger)

		decision, err := service.Authorize(context.Background(), "sync")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, license.FeatureCloudSync, decision.RequiredFeature)
		assert.Contains(t, decision.Message, "cloud_sync")
	})

	t.Run("denied without a license", func(t *testing.T) {
		service := NewLicenseService(&fakeManager{}, "/tmp/license.json", logger)

		decision, err := service.Authorize(context.Background(), "scan")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Contains(t, decision.Message, "activate")
	})

	t.Run("denied unmapped operation when inactive", func(t *testing.T) {
		manager := &fakeManager{
			ent:     testutil.InactiveEntitlement(),
			allowed: map[string]bool{},
		}
		service := NewLicenseService(manager, "/tmp/license.json", logger)

		decision, err := service.Authorize(context.Background(), "compact")
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Empty(t, decision.RequiredFeature)
		assert.Contains(t, decision.Message, "not active")
	})
}
