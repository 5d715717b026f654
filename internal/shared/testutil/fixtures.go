package testutil

import (
	"time"

	"github.com/jahboukie/codecontext-keygen/internal/license"
)

// IntPtr returns a pointer to n
func IntPtr(n int) *int { return &n }

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time { return &t }

// ValidEntitlement returns an active memory-tier entitlement expiring in 30 days
func ValidEntitlement() *license.Entitlement {
	expiry := time.Now().Add(30 * 24 * time.Hour).UTC()
	return &license.Entitlement{
		Key:    "LIC-VALID-0001",
		Tier:   license.TierMemory,
		Active: true,
		Features: []string{
			license.FeatureCloudSync,
			license.FeatureMemoryExport,
			license.FeatureProjectScanning,
			license.FeatureUnlimitedMemory,
		},
		ActivatedAt:        time.Now().Add(-24 * time.Hour).UTC(),
		ExpiresAt:          &expiry,
		MaxActivations:     IntPtr(3),
		CurrentActivations: 1,
		Email:              "dev@example.com",
	}
}

// ExpiredEntitlement returns an entitlement whose expiry passed ten days ago
func ExpiredEntitlement() *license.Entitlement {
	ent := ValidEntitlement()
	ent.Key = "LIC-EXPIRED-0001"
	ent.ExpiresAt = TimePtr(time.Now().Add(-10 * 24 * time.Hour).UTC())
	return ent
}

// InactiveEntitlement returns a cached entitlement the authority reported
// suspended
func InactiveEntitlement() *license.Entitlement {
	ent := ValidEntitlement()
	ent.Key = "LIC-SUSPENDED-0001"
	ent.Active = false
	return ent
}

// PerpetualEntitlement returns an entitlement with no expiry
func PerpetualEntitlement() *license.Entitlement {
	ent := ValidEntitlement()
	ent.Key = "LIC-PERPETUAL-0001"
	ent.ExpiresAt = nil
	return ent
}
