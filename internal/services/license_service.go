package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jahboukie/codecontext-keygen/internal/authority"
	"github.com/jahboukie/codecontext-keygen/internal/license"
)

// LicenseManager is the slice of the entitlement manager this service
// consumes. *license.Manager satisfies it; tests substitute fakes.
type LicenseManager interface {
	ActivateLicense(ctx context.Context, key string) (*license.Entitlement, error)
	ValidateLicense(ctx context.Context) bool
	CanPerformOperation(ctx context.Context, operation string) bool
	GetLicenseStatus() (license.Status, error)
	GetCurrentLicense() (*license.Entitlement, error)
	State() license.State
}

// LicenseService orchestrates license operations for the CLI and HTTP
// surfaces: bounded retry policy, status view models, and authorization
// decisions with user-facing explanations.
type LicenseService interface {
	Activate(ctx context.Context, key string) (*ActivationResponse, error)
	GetStatus(ctx context.Context) (*StatusResponse, error)
	GetDetailedStatus(ctx context.Context) (*DetailedStatusResponse, error)
	Authorize(ctx context.Context, operation string) (*AuthorizationDecision, error)
}

// ActivationResponse reports a completed activation
type ActivationResponse struct {
	Success     bool      `json:"success"`
	Message     string    `json:"message"`
	Tier        string    `json:"tier"`
	Active      bool      `json:"active"`
	Features    []string  `json:"features"`
	ActivatedAt time.Time `json:"activated_at"`
}

// StatusResponse is the summary status view
type StatusResponse struct {
	State           string   `json:"state"`
	Tier            string   `json:"tier,omitempty"`
	Active          bool     `json:"active"`
	Features        []string `json:"features,omitempty"`
	DaysRemaining   *int     `json:"days_remaining,omitempty"`
	ActivationsUsed int      `json:"activations_used"`
	MaxActivations  *int     `json:"max_activations,omitempty"`
	Message         string   `json:"message"`
}

// DetailedStatusResponse adds the masked key and account fields for the
// `codecontext license` detailed view
type DetailedStatusResponse struct {
	StatusResponse
	KeyMasked   string     `json:"key_masked,omitempty"`
	Email       string     `json:"email,omitempty"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CachePath   string     `json:"cache_path,omitempty"`
}

// AuthorizationDecision explains whether a gated operation may run
type AuthorizationDecision struct {
	Operation       string `json:"operation"`
	Allowed         bool   `json:"allowed"`
	RequiredFeature string `json:"required_feature,omitempty"`
	Message         string `json:"message,omitempty"`
}

// licenseService is the concrete implementation
type licenseService struct {
	manager   LicenseManager
	cachePath string
	logger    *slog.Logger
}

// NewLicenseService creates the license service
func NewLicenseService(manager LicenseManager, cachePath string, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	return &licenseService{
		manager:   manager,
		cachePath: cachePath,
		logger:    logger.With(slog.String("service", "license")),
	}
}

// Activate runs the activation flow. One bounded retry is applied when the
// failure was a transport problem; everything else surfaces immediately
// with its remediation.
func (s *licenseService) Activate(ctx context.Context, key string) (*ActivationResponse, error) {
	ent, err := s.manager.ActivateLicense(ctx, key)
	if err != nil {
		var actErr *license.ActivationError
		if errors.As(err, &actErr) && actErr.Reason == authority.ReasonNetworkError {
			s.logger.WarnContext(ctx, "activation hit a network error, retrying once",
				slog.String("key_masked", license.MaskLicenseKey(key)),
			)
			ent, err = s.manager.ActivateLicense(ctx, key)
		}
	}
	if err != nil {
		return nil, err
	}

	message := "License activated successfully."
	if !ent.Active {
		message = "License activated, but the authority reports it inactive. Gated operations remain disabled."
	}

	return &ActivationResponse{
		Success:     true,
		Message:     message,
		Tier:        string(ent.Tier),
		Active:      ent.Active,
		Features:    ent.Features,
		ActivatedAt: ent.ActivatedAt,
	}, nil
}

// GetStatus returns the summary view. Having no license is a presentable
// state here, not an error.
func (s *licenseService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	status, err := s.manager.GetLicenseStatus()
	if err != nil {
		if errors.Is(err, license.ErrNoLicense) {
			return &StatusResponse{
				State:   string(license.StateUnlicensed),
				Message: license.Remediation(license.ReasonNoLicense),
			}, nil
		}
		return nil, err
	}

	resp := &StatusResponse{
		State:           string(s.manager.State()),
		Tier:            string(status.Tier),
		Active:          status.Active,
		Features:        status.Features,
		DaysRemaining:   status.DaysRemaining,
		ActivationsUsed: status.ActivationsUsed,
		MaxActivations:  status.MaxActivations,
		Message:         statusMessage(status),
	}
	return resp, nil
}

// GetDetailedStatus returns the full license view including the masked key.
// A refresh is attempted first; the trust policy inside the manager keeps
// this safe when the authority is unreachable.
func (s *licenseService) GetDetailedStatus(ctx context.Context) (*DetailedStatusResponse, error) {
	ent, err := s.manager.GetCurrentLicense()
	if err != nil {
		return nil, err
	}

	s.manager.ValidateLicense(ctx)

	// Re-read: the refresh may have rewritten fields
	ent, err = s.manager.GetCurrentLicense()
	if err != nil {
		return nil, err
	}
	status, err := s.manager.GetLicenseStatus()
	if err != nil {
		return nil, err
	}

	return &DetailedStatusResponse{
		StatusResponse: StatusResponse{
			State:           string(s.manager.State()),
			Tier:            string(status.Tier),
			Active:          status.Active,
			Features:        status.Features,
			DaysRemaining:   status.DaysRemaining,
			ActivationsUsed: status.ActivationsUsed,
			MaxActivations:  status.MaxActivations,
			Message:         statusMessage(status),
		},
		KeyMasked:   license.MaskLicenseKey(ent.Key),
		Email:       ent.Email,
		ActivatedAt: &ent.ActivatedAt,
		ExpiresAt:   ent.ExpiresAt,
		CachePath:   s.cachePath,
	}, nil
}

// Authorize decides whether a gated operation may run and explains denials
// in terms of the missing feature or license state.
func (s *licenseService) Authorize(ctx context.Context, operation string) (*AuthorizationDecision, error) {
	decision := &AuthorizationDecision{Operation: operation}
	if feature, gated := license.RequiredFeature(operation); gated {
		decision.RequiredFeature = feature
	}

	if s.manager.CanPerformOperation(ctx, operation) {
		decision.Allowed = true
		return decision, nil
	}

	if _, err := s.manager.GetCurrentLicense(); err != nil {
		decision.Message = license.Remediation(license.ReasonNoLicense)
		return decision, nil
	}

	if decision.RequiredFeature != "" {
		decision.Message = fmt.Sprintf(
			"Operation %q requires the %q feature, which your license does not currently grant.",
			operation, decision.RequiredFeature)
	} else {
		decision.Message = "Your license is not active. Renew or re-activate to continue."
	}

	s.logger.InfoContext(ctx, "operation denied by license gate",
		slog.String("operation", operation),
		slog.String("required_feature", decision.RequiredFeature),
	)

	return decision, nil
}

// statusMessage renders a one-line human summary of the entitlement
func statusMessage(status license.Status) string {
	if !status.Active {
		return "License is not active. Gated operations are disabled."
	}
	if status.DaysRemaining != nil {
		return fmt.Sprintf("License active (%s tier), %d day(s) remaining.", status.Tier, *status.DaysRemaining)
	}
	return fmt.Sprintf("License active (%s tier), no expiry.", status.Tier)
}
