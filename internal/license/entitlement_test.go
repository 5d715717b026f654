package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeaturesForTier(t *testing.T) {
	tests := []struct {
		name     string
		tier     Tier
		override []string
		want     []string
	}{
		{
			name: "memory tier default set",
			tier: TierMemory,
			want: []string{
				FeatureCloudSync,
				FeatureMemoryExport,
				FeatureProjectScanning,
				FeatureUnlimitedMemory,
			},
		},
		{
			name:     "authority override wins over the table",
			tier:     TierMemory,
			override: []string{FeatureProjectScanning, FeatureCloudSync},
			want:     []string{FeatureCloudSync, FeatureProjectScanning},
		},
		{
			name: "unknown tier has no features",
			tier: Tier("enterprise"),
			want: nil,
		},
		{
			name:     "override is sorted",
			tier:     Tier("enterprise"),
			override: []string{"zeta", "alpha"},
			want:     []string{"alpha", "zeta"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FeaturesForTier(tt.tier, tt.override)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiredFeature(t *testing.T) {
	tests := []struct {
		operation string
		feature   string
		gated     bool
	}{
		{"remember", FeatureUnlimitedMemory, true},
		{"scan", FeatureProjectScanning, true},
		{"export", FeatureMemoryExport, true},
		{"sync", FeatureCloudSync, true},
		{"compact", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			feature, gated := RequiredFeature(tt.operation)
			assert.Equal(t, tt.gated, gated)
			assert.Equal(t, tt.feature, feature)
		})
	}
}

func TestEntitlementHasFeature(t *testing.T) {
	ent := &Entitlement{
		Active:   true,
		Features: []string{FeatureCloudSync, FeatureMemoryExport},
	}

	assert.True(t, ent.HasFeature(FeatureCloudSync))
	assert.False(t, ent.HasFeature(FeatureUnlimitedMemory))

	ent.Active = false
	assert.False(t, ent.HasFeature(FeatureCloudSync), "inactive entitlement grants nothing")
}

func TestEntitlementExpiry(t *testing.T) {
	now := time.Now()

	t.Run("perpetual license never expires", func(t *testing.T) {
		ent := &Entitlement{Active: true}
		assert.False(t, ent.Expired(now))

		_, ok := ent.DaysRemaining(now)
		assert.False(t, ok)
	})

	t.Run("future expiry rounds up to whole days", func(t *testing.T) {
		expiry := now.Add(36 * time.Hour)
		ent := &Entitlement{Active: true, ExpiresAt: &expiry}

		require.False(t, ent.Expired(now))
		days, ok := ent.DaysRemaining(now)
		require.True(t, ok)
		assert.Equal(t, 2, days)
	})

	t.Run("past expiry reports zero days", func(t *testing.T) {
		expiry := now.Add(-time.Hour)
		ent := &Entitlement{Active: true, ExpiresAt: &expiry}

		assert.True(t, ent.Expired(now))
		days, ok := ent.DaysRemaining(now)
		require.True(t, ok)
		assert.Equal(t, 0, days)
	})
}
