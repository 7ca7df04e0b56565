package domain

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAsset(t *testing.T) {
	t.Run("creates asset with defaults", func(t *testing.T) {
		a := NewAsset("web-1", AssetTypeCompute, ProviderAWS, "web server")

		assert.Equal(t, "web-1", a.ID)
		assert.Equal(t, AssetStatusActive, a.Status)
		assert.Equal(t, HealthHealthy, a.Health)
		assert.Equal(t, ComplianceUnknown, a.ComplianceStatus)
		assert.NotNil(t, a.Properties)
		assert.NotNil(t, a.Tags)
		assert.NotNil(t, a.Metadata)
		assert.False(t, a.CreatedAt.IsZero())
		assert.Equal(t, time.UTC, a.CreatedAt.Location())
		require.NoError(t, a.Validate())
	})

	t.Run("generates id when empty", func(t *testing.T) {
		a := NewAsset("", AssetTypeStorage, ProviderGCP, "bucket")
		assert.Regexp(t, regexp.MustCompile(`^gcp-storage-[0-9a-f]{8}$`), a.ID)
	})
}

func TestAssetValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Asset)
	}{
		{"missing id", func(a *Asset) { a.ID = "" }},
		{"missing name", func(a *Asset) { a.Name = "" }},
		{"missing type", func(a *Asset) { a.Type = "" }},
		{"missing provider", func(a *Asset) { a.Provider = "" }},
		{"unknown type", func(a *Asset) { a.Type = "mainframe" }},
		{"unknown provider", func(a *Asset) { a.Provider = "oracle" }},
		{"unknown status", func(a *Asset) { a.Status = "paused" }},
		{"risk above range", func(a *Asset) { a.RiskScore = 101 }},
		{"risk below range", func(a *Asset) { a.RiskScore = -1 }},
		{"negative cost", func(a *Asset) { a.EstimatedCost = -5 }},
		{"updated before created", func(a *Asset) { a.UpdatedAt = a.CreatedAt.Add(-time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAsset("a-1", AssetTypeCompute, ProviderAWS, "vm")
			tt.mutate(a)
			err := a.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestAssetNormalize(t *testing.T) {
	a := &Asset{ID: "x", Type: AssetTypeNetwork, Provider: ProviderOnPrem, Name: "vlan"}
	a.Normalize()

	assert.Equal(t, AssetStatusActive, a.Status)
	assert.Equal(t, HealthHealthy, a.Health)
	assert.Equal(t, ComplianceUnknown, a.ComplianceStatus)
	assert.True(t, a.UpdatedAt.Equal(a.CreatedAt))
	assert.True(t, a.DiscoveredAt.Equal(a.CreatedAt))
	require.NoError(t, a.Validate())
}

func TestAssetNormalizeJSONValues(t *testing.T) {
	a := NewAsset("x", AssetTypeCompute, ProviderAWS, "vm")
	a.Properties["cpu"] = 4
	a.Properties["zones"] = []string{"a", "b"}
	a.Metadata["limits"] = map[string]int{"burst": 10}
	a.Normalize()

	assert.Equal(t, 4.0, a.Properties["cpu"])
	assert.Equal(t, []any{"a", "b"}, a.Properties["zones"])
	assert.Equal(t, map[string]any{"burst": 10.0}, a.Metadata["limits"])

	native := map[string]any{"name": "vm", "nested": map[string]any{"n": 1.5}}
	b := NewAsset("y", AssetTypeCompute, ProviderAWS, "vm")
	b.Properties = native
	b.Normalize()
	native["marker"] = true
	assert.Equal(t, true, b.Properties["marker"])
}

func TestAssetTags(t *testing.T) {
	a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
	before := a.UpdatedAt

	a.SetTag("env", "prod")
	a.SetTag("team", "core")
	assert.Equal(t, []string{"env=prod", "team=core"}, a.TagPairs())
	assert.False(t, a.UpdatedAt.Before(before))

	assert.True(t, a.RemoveTag("env"))
	assert.False(t, a.RemoveTag("env"))
	assert.Equal(t, []string{"team=core"}, a.TagPairs())
}

func TestAssetUpdateProperties(t *testing.T) {
	a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
	a.UpdateProperties(map[string]any{"cpu": 4.0})
	a.UpdateProperties(map[string]any{"region": "us-east-1"})

	assert.Equal(t, 4.0, a.Properties["cpu"])
	assert.Equal(t, "us-east-1", a.Properties["region"])
}

func TestCalculateRiskScore(t *testing.T) {
	t.Run("untagged unknown compliance healthy", func(t *testing.T) {
		a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
		assert.Equal(t, 35.0, a.CalculateRiskScore())
		assert.False(t, a.IsHighRisk())
	})

	t.Run("old untagged non compliant unhealthy", func(t *testing.T) {
		a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
		a.CreatedAt = Now().Add(-400 * 24 * time.Hour)
		a.ComplianceStatus = ComplianceNonCompliant
		a.Health = HealthUnhealthy
		assert.Equal(t, 80.0, a.CalculateRiskScore())
		assert.True(t, a.IsHighRisk())
	})

	t.Run("tagged compliant healthy", func(t *testing.T) {
		a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
		a.Tags["env"] = "prod"
		a.ComplianceStatus = ComplianceCompliant
		assert.Equal(t, 0.0, a.CalculateRiskScore())
	})
}

func TestAssetClone(t *testing.T) {
	a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
	a.Tags["env"] = "prod"
	a.Properties["nested"] = map[string]any{"k": "v"}

	c := a.Clone()
	c.Tags["env"] = "dev"
	c.Properties["nested"].(map[string]any)["k"] = "changed"

	assert.Equal(t, "prod", a.Tags["env"])
	assert.Equal(t, "v", a.Properties["nested"].(map[string]any)["k"])

	var nilAsset *Asset
	assert.Nil(t, nilAsset.Clone())
}
