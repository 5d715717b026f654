package license

import (
	"math"
	"sort"
	"time"
)

// Tier identifies a subscription plan. The feature set of a tier is a pure
// function of its name; new tiers are added to the table below, never by
// special-casing call sites.
type Tier string

const (
	// TierMemory is the single currently sold plan
	TierMemory Tier = "memory"
)

// Feature tokens gate individual CLI operations
const (
	FeatureUnlimitedMemory = "unlimited_memory"
	FeatureProjectScanning = "project_scanning"
	FeatureMemoryExport    = "memory_export"
	FeatureCloudSync       = "cloud_sync"
)

// tierFeatures maps each tier to its capability set
var tierFeatures = map[Tier][]string{
	TierMemory: {
		FeatureUnlimitedMemory,
		FeatureProjectScanning,
		FeatureMemoryExport,
		FeatureCloudSync,
	},
}

// operationFeatures maps CLI operation names to the feature token they
// require. Operations without an entry are not license-gated and are allowed
// whenever an active entitlement exists.
var operationFeatures = map[string]string{
	"remember": FeatureUnlimitedMemory,
	"scan":     FeatureProjectScanning,
	"export":   FeatureMemoryExport,
	"sync":     FeatureCloudSync,
}

// FeaturesForTier derives the feature set for a tier, applying an optional
// authority-provided override. The result is sorted so persisted records
// stay byte-stable.
func FeaturesForTier(tier Tier, override []string) []string {
	var features []string
	if len(override) > 0 {
		features = append(features, override...)
	} else {
		features = append(features, tierFeatures[tier]...)
	}
	sort.Strings(features)
	return features
}

// RequiredFeature returns the feature token an operation needs, if any
func RequiredFeature(operation string) (string, bool) {
	feature, ok := operationFeatures[operation]
	return feature, ok
}

// State describes the manager's view of the local installation
type State string

const (
	// StateUnlicensed means no usable entitlement is cached
	StateUnlicensed State = "unlicensed"
	// StateCachedValid means a cached entitlement exists with active=true
	StateCachedValid State = "cached_valid"
	// StateCachedInvalid means the authority previously reported the key
	// revoked or expired; only explicit re-activation clears this
	StateCachedInvalid State = "cached_invalid"
)

// Entitlement is the durable, cached record of what a license key currently
// permits. The key is immutable once the record exists; changing license
// means replacing the whole record through re-activation.
type Entitlement struct {
	Key                string     `json:"key"`
	Tier               Tier       `json:"tier"`
	Active             bool       `json:"active"`
	Features           []string   `json:"features"`
	ActivatedAt        time.Time  `json:"activated_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	MaxActivations     *int       `json:"max_activations,omitempty"`
	CurrentActivations int        `json:"current_activations"`
	Email              string     `json:"email,omitempty"`
}

// HasFeature reports whether the entitlement grants a feature token.
// An inactive entitlement grants nothing regardless of its feature list.
func (e *Entitlement) HasFeature(token string) bool {
	if !e.Active {
		return false
	}
	for _, f := range e.Features {
		if f == token {
			return true
		}
	}
	return false
}

// Expired reports whether the entitlement has a passed expiry timestamp.
// Absence of an expiry means perpetual.
func (e *Entitlement) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// DaysRemaining returns the whole days until expiry, rounded up.
// The second return is false for perpetual licenses.
func (e *Entitlement) DaysRemaining(now time.Time) (int, bool) {
	if e.ExpiresAt == nil {
		return 0, false
	}
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0, true
	}
	return int(math.Ceil(remaining.Hours() / 24)), true
}

// Status is the read-only view returned to status displays
type Status struct {
	Tier            Tier     `json:"tier"`
	Active          bool     `json:"active"`
	Features        []string `json:"features"`
	DaysRemaining   *int     `json:"days_remaining,omitempty"`
	ActivationsUsed int      `json:"activations_used"`
	MaxActivations  *int     `json:"max_activations,omitempty"`
	Email           string   `json:"email,omitempty"`
}
