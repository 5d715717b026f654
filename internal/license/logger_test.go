package license

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskLicenseKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", "****"},
		{"short key fully masked", "LIC-123", "****"},
		{"boundary length fully masked", "12345678", "****"},
		{"long key keeps edges", "LIC-MEMORY-2024-XYZ", "LIC-****-XYZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, maskLicenseKey(tt.key))
			assert.Equal(t, tt.want, MaskLicenseKey(tt.key))
		})
	}
}

func TestMaskLicenseKeyNeverRevealsMiddle(t *testing.T) {
	key := "LIC-SECRET-MIDDLE-PART-9999"
	masked := maskLicenseKey(key)
	assert.NotContains(t, masked, "SECRET-MIDDLE-PART")
}

func TestHashLicenseKey(t *testing.T) {
	assert.Empty(t, hashLicenseKey(""))

	h := hashLicenseKey("LIC-AUDIT-0001")
	assert.Len(t, h, 16)
	assert.Equal(t, h, hashLicenseKey("LIC-AUDIT-0001"), "hash is stable")
	assert.NotEqual(t, h, hashLicenseKey("LIC-AUDIT-0002"))
	assert.False(t, strings.Contains("LIC-AUDIT-0001", h))
}
