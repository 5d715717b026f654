package license

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jahboukie/codecontext-keygen/internal/authority"
	"github.com/jahboukie/codecontext-keygen/internal/fingerprint"
)

// AuthorityClient is the slice of the remote authority the manager needs.
// *authority.Client satisfies it; tests substitute fakes.
type AuthorityClient interface {
	ValidateKey(ctx context.Context, key string) (authority.ValidationResult, error)
	Activate(ctx context.Context, key, machineFingerprint string) (authority.ActivationResult, error)
}

// Options tunes manager behavior. The zero value gets sensible defaults.
type Options struct {
	// ValidationCacheTTL bounds how long an in-memory validation result is
	// reused before the authority is consulted again
	ValidationCacheTTL time.Duration
	// ActivationRate and ActivationBurst bound activation attempts
	ActivationRate  rate.Limit
	ActivationBurst int
	// Metrics is optional; nil records nothing
	Metrics *Metrics
}

// validationOutcome is a cached refresh result
type validationOutcome struct {
	active    bool
	expiresAt time.Time
}

// Manager is the single client-side authority for "what can this
// installation do right now". It owns the cached entitlement, the cache
// file, the online/offline trust policy, and the feature gate consulted by
// every license-gated operation.
type Manager struct {
	client       AuthorityClient
	store        *Store
	fingerprints *fingerprint.Generator
	metrics      *Metrics
	limiter      *rate.Limiter
	flight       singleflight.Group

	validationTTL time.Duration

	mu    sync.RWMutex
	ent   *Entitlement
	state State

	valMu         sync.RWMutex
	lastValidated *validationOutcome
}

// NewManager creates a manager and loads any persisted entitlement. A cache
// file that fails integrity checks has already been removed by the store by
// the time this returns, leaving the manager unlicensed.
func NewManager(ctx context.Context, client AuthorityClient, store *Store, fingerprints *fingerprint.Generator, opts Options) (*Manager, error) {
	if client == nil {
		return nil, fmt.Errorf("authority client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if fingerprints == nil {
		fingerprints = fingerprint.NewGenerator()
	}
	if opts.ValidationCacheTTL <= 0 {
		opts.ValidationCacheTTL = 5 * time.Minute
	}
	if opts.ActivationRate <= 0 {
		opts.ActivationRate = rate.Limit(0.2)
	}
	if opts.ActivationBurst <= 0 {
		opts.ActivationBurst = 3
	}

	m := &Manager{
		client:        client,
		store:         store,
		fingerprints:  fingerprints,
		metrics:       opts.Metrics,
		limiter:       rate.NewLimiter(opts.ActivationRate, opts.ActivationBurst),
		validationTTL: opts.ValidationCacheTTL,
		state:         StateUnlicensed,
	}

	ent, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load license cache: %w", err)
	}
	if ent != nil {
		m.ent = ent
		if ent.Active {
			m.state = StateCachedValid
		} else {
			m.state = StateCachedInvalid
		}
	}

	m.logInfo(ctx, "manager_initialized", "license manager initialized",
		slog.String("state", string(m.state)),
		slog.String("cache_path", store.Path()),
		slog.Bool("cache_present", ent != nil),
	)

	return m, nil
}

// State returns the manager's current lifecycle state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ActivateLicense validates the key against the authority, activates this
// machine, and persists the resulting entitlement. The cache is written
// only after both remote calls conclude; there is no partial write path.
//
// An ACTIVATION_LIMIT_EXCEEDED outcome after a successful validation is
// treated as "this machine was already activated" and completes normally.
func (m *Manager) ActivateLicense(ctx context.Context, key string) (*Entitlement, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, newActivationError(authority.ReasonInvalidInput, fmt.Errorf("license key is empty"))
	}

	m.metrics.recordActivationAttempt(ctx)

	if !m.limiter.Allow() {
		m.logWarn(ctx, "license_activation", "activation attempt rate limited",
			slog.String("key_masked", maskLicenseKey(key)),
		)
		return nil, fmt.Errorf("too many activation attempts - please wait a moment and try again")
	}

	machine, err := m.fingerprints.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to fingerprint this machine: %w", err)
	}

	m.logInfo(ctx, "license_activation", "starting license activation",
		slog.String("key_masked", maskLicenseKey(key)),
		slog.String("key_hash", hashLicenseKey(key)),
		slog.String("fingerprint", machine.Digest),
	)

	vres, verr := m.client.ValidateKey(ctx, key)
	if !vres.Valid {
		m.logWarn(ctx, "license_activation", "key validation failed during activation",
			slog.String("key_masked", maskLicenseKey(key)),
			slog.String("reason", vres.Reason.String()),
		)
		return nil, newActivationError(vres.Reason, verr)
	}

	ares, aerr := m.client.Activate(ctx, key, machine.Digest)
	alreadyActivated := false
	switch {
	case ares.Success:
	case ares.Reason == authority.ReasonActivationLimit:
		// The key validated moments ago, so the ceiling most likely counts
		// this machine's pre-existing activation. Non-fatal.
		alreadyActivated = true
		m.logWarn(ctx, "license_activation", "activation reported limit reached for a valid key, treating machine as already activated",
			slog.String("key_masked", maskLicenseKey(key)),
			slog.String("fingerprint", machine.Digest),
		)
	default:
		return nil, newActivationError(ares.Reason, aerr)
	}

	ent := buildEntitlement(key, vres.License)
	if ares.Success {
		ent.CurrentActivations++
	} else if alreadyActivated && ent.CurrentActivations == 0 {
		ent.CurrentActivations = 1
	}

	if !ent.Active {
		// Freshly activated but the authority reports the license inactive.
		// Persist the truth and keep every gate closed.
		m.logWarn(ctx, "license_activation", "license activated but authority reports it inactive",
			slog.String("key_masked", maskLicenseKey(key)),
			slog.String("authority_status", authorityStatus(vres.License)),
		)
	}

	if err := m.store.Save(ctx, *ent); err != nil {
		// Write-after-success only: without a durable record the in-memory
		// copy is discarded rather than allowed to diverge.
		return nil, fmt.Errorf("failed to persist entitlement: %w", err)
	}

	m.mu.Lock()
	m.ent = ent
	if ent.Active {
		m.state = StateCachedValid
	} else {
		m.state = StateCachedInvalid
	}
	m.mu.Unlock()

	m.resetValidationCache()
	m.metrics.recordActivationSuccess(ctx, alreadyActivated)

	m.logInfo(ctx, "license_activated", "license activation completed",
		slog.String("key_masked", maskLicenseKey(key)),
		slog.String("tier", string(ent.Tier)),
		slog.Bool("active", ent.Active),
		slog.Bool("already_activated", alreadyActivated),
		slog.Int("activations_used", ent.CurrentActivations),
	)

	entCopy := *ent
	return &entCopy, nil
}

// ValidateLicense refreshes the cached entitlement against the authority and
// returns the effective active flag. Inconclusive outcomes (network failure,
// authority 5xx, client credential problems) never downgrade the cached
// state; the previous answer stands until a conclusive one arrives.
// This method never returns an error for network-level problems.
func (m *Manager) ValidateLicense(ctx context.Context) bool {
	m.mu.RLock()
	ent := m.ent
	m.mu.RUnlock()

	if ent == nil {
		return false
	}

	if outcome := m.cachedValidation(); outcome != nil {
		m.metrics.recordValidationCacheHit(ctx)
		return outcome.active
	}

	result, _, _ := m.flight.Do("validate", func() (interface{}, error) {
		return m.refresh(ctx, ent.Key), nil
	})

	return result.(bool)
}

// refresh performs one authority round trip and applies the trust policy
func (m *Manager) refresh(ctx context.Context, key string) bool {
	m.metrics.recordValidationCheck(ctx)

	vres, verr := m.client.ValidateKey(ctx, key)

	if !vres.Reason.Conclusive() {
		// Transport or authority-side failure: not a revocation. Keep the
		// cached answer and say so in the logs.
		errDetail := ""
		if verr != nil {
			errDetail = verr.Error()
		}
		m.logWarn(ctx, "license_validation", "validation inconclusive, trusting cached entitlement",
			slog.String("key_masked", maskLicenseKey(key)),
			slog.String("reason", vres.Reason.String()),
			slog.String("error", errDetail),
		)
		m.metrics.recordNetworkFallback(ctx, vres.Reason.String())

		active := m.effectiveActive()
		m.storeValidation(active)
		return active
	}

	if vres.Valid {
		m.applyRefresh(ctx, vres.License)
	} else {
		m.markInvalid(ctx, vres.Reason)
	}

	active := m.effectiveActive()
	m.storeValidation(active)
	return active
}

// applyRefresh overwrites the cached entitlement fields with the
// authority's current view and rewrites the cache. The key never changes.
func (m *Manager) applyRefresh(ctx context.Context, data *authority.LicenseData) {
	m.mu.Lock()
	if m.ent == nil {
		m.mu.Unlock()
		return
	}

	refreshed := buildEntitlement(m.ent.Key, data)
	refreshed.ActivatedAt = m.ent.ActivatedAt
	if refreshed.CurrentActivations < m.ent.CurrentActivations {
		refreshed.CurrentActivations = m.ent.CurrentActivations
	}

	m.ent = refreshed
	if refreshed.Active {
		m.state = StateCachedValid
	} else {
		m.state = StateCachedInvalid
	}
	entCopy := *refreshed
	state := m.state
	m.mu.Unlock()

	if err := m.store.Save(ctx, entCopy); err != nil {
		m.logError(ctx, "license_validation", "failed to rewrite cache after refresh",
			slog.String("error", err.Error()),
		)
	}

	m.logInfo(ctx, "license_validation", "entitlement refreshed from authority",
		slog.String("key_masked", maskLicenseKey(entCopy.Key)),
		slog.Bool("active", entCopy.Active),
		slog.String("state", string(state)),
	)
}

// markInvalid records a conclusive negative answer from the authority
func (m *Manager) markInvalid(ctx context.Context, reason authority.Reason) {
	m.mu.Lock()
	if m.ent == nil {
		m.mu.Unlock()
		return
	}
	m.ent.Active = false
	m.state = StateCachedInvalid
	entCopy := *m.ent
	m.mu.Unlock()

	if err := m.store.Save(ctx, entCopy); err != nil {
		m.logError(ctx, "license_validation", "failed to rewrite cache after revocation",
			slog.String("error", err.Error()),
		)
	}

	m.logWarn(ctx, "license_validation", "authority reports license invalid",
		slog.String("key_masked", maskLicenseKey(entCopy.Key)),
		slog.String("reason", reason.String()),
	)
}

// CanPerformOperation decides whether a license-gated CLI operation may run.
// Operations without a feature mapping are allowed whenever an active
// entitlement exists; everything is denied without one.
func (m *Manager) CanPerformOperation(ctx context.Context, operation string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.effectiveActiveLocked() {
		m.metrics.recordGateDenial(ctx, operation, "inactive")
		return false
	}

	feature, gated := RequiredFeature(operation)
	if !gated {
		return true
	}
	if !m.ent.HasFeature(feature) {
		m.metrics.recordGateDenial(ctx, operation, "missing_feature")
		return false
	}
	return true
}

// HasFeature reports whether the active entitlement grants a feature token
func (m *Manager) HasFeature(token string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.effectiveActiveLocked() {
		return false
	}
	return m.ent.HasFeature(token)
}

// GetLicenseStatus returns the status view of the cached entitlement
func (m *Manager) GetLicenseStatus() (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.ent == nil {
		return Status{}, ErrNoLicense
	}

	status := Status{
		Tier:            m.ent.Tier,
		Active:          m.effectiveActiveLocked(),
		Features:        append([]string(nil), m.ent.Features...),
		ActivationsUsed: m.ent.CurrentActivations,
		MaxActivations:  m.ent.MaxActivations,
		Email:           m.ent.Email,
	}
	if days, ok := m.ent.DaysRemaining(time.Now()); ok {
		status.DaysRemaining = &days
	}
	return status, nil
}

// GetCurrentLicense returns a copy of the cached entitlement, or ErrNoLicense
func (m *Manager) GetCurrentLicense() (*Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.ent == nil {
		return nil, ErrNoLicense
	}
	entCopy := *m.ent
	entCopy.Features = append([]string(nil), m.ent.Features...)
	return &entCopy, nil
}

// effectiveActive is the lock-taking form of effectiveActiveLocked
func (m *Manager) effectiveActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.effectiveActiveLocked()
}

// effectiveActiveLocked applies the local expiry check on top of the
// authority's last-known active flag. Callers hold m.mu.
func (m *Manager) effectiveActiveLocked() bool {
	return m.ent != nil && m.ent.Active && !m.ent.Expired(time.Now())
}

// cachedValidation returns the last refresh outcome if it is still fresh
func (m *Manager) cachedValidation() *validationOutcome {
	m.valMu.RLock()
	defer m.valMu.RUnlock()
	if m.lastValidated != nil && time.Now().Before(m.lastValidated.expiresAt) {
		return m.lastValidated
	}
	return nil
}

// storeValidation caches a refresh outcome for the configured TTL
func (m *Manager) storeValidation(active bool) {
	m.valMu.Lock()
	defer m.valMu.Unlock()
	m.lastValidated = &validationOutcome{
		active:    active,
		expiresAt: time.Now().Add(m.validationTTL),
	}
}

// resetValidationCache drops any cached refresh outcome
func (m *Manager) resetValidationCache() {
	m.valMu.Lock()
	defer m.valMu.Unlock()
	m.lastValidated = nil
}

// buildEntitlement derives a fresh entitlement from the authority's license
// data. Features are always derived from the tier table plus any authority
// override, never hand-edited.
func buildEntitlement(key string, data *authority.LicenseData) *Entitlement {
	ent := &Entitlement{
		Key:         key,
		Tier:        TierMemory,
		Active:      true,
		ActivatedAt: time.Now(),
	}

	if data != nil {
		if data.Tier != "" {
			ent.Tier = Tier(data.Tier)
		}
		ent.Active = licenseStatusActive(data.Status)
		ent.ExpiresAt = data.ExpiresAt
		ent.MaxActivations = data.MaxActivations
		ent.CurrentActivations = data.Activations
		ent.Email = data.Email
		ent.Features = FeaturesForTier(ent.Tier, data.Features)
	} else {
		ent.Features = FeaturesForTier(ent.Tier, nil)
	}

	return ent
}

// licenseStatusActive interprets the authority's status string. Unknown or
// absent statuses count as active; the meta.valid flag already gated this.
func licenseStatusActive(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "INACTIVE", "SUSPENDED", "BANNED", "EXPIRED", "REVOKED":
		return false
	default:
		return true
	}
}

// authorityStatus formats the status for logs when license data may be nil
func authorityStatus(data *authority.LicenseData) string {
	if data == nil {
		return ""
	}
	return data.Status
}

