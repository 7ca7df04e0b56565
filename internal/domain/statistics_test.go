package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAssetStatistics(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		s := ComputeAssetStatistics(nil)
		assert.Equal(t, 0, s.Total)
		assert.Equal(t, 0.0, s.Risk.Average)
		assert.NotNil(t, s.ByType)
	})

	t.Run("aggregates", func(t *testing.T) {
		a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
		a.RiskScore = 80
		a.EstimatedCost = 10
		a.Tags["env"] = "prod"
		b := NewAsset("b", AssetTypeStorage, ProviderAWS, "bucket")
		b.RiskScore = 10
		b.EstimatedCost = 5.5
		b.Tags["env"] = "prod"
		b.Tags["team"] = "core"
		c := NewAsset("c", AssetTypeCompute, ProviderGCP, "vm2")
		c.RiskScore = 20
		c.Status = AssetStatusInactive

		s := ComputeAssetStatistics([]*Asset{a, b, c})
		assert.Equal(t, 3, s.Total)
		assert.Equal(t, 2, s.ByType[AssetTypeCompute])
		assert.Equal(t, 2, s.ByProvider[ProviderAWS])
		assert.Equal(t, 1, s.ByStatus[AssetStatusInactive])
		assert.Equal(t, 36.67, s.Risk.Average)
		assert.Equal(t, 10.0, s.Risk.Min)
		assert.Equal(t, 80.0, s.Risk.Max)
		assert.Equal(t, 1, s.Risk.HighRiskCount)
		assert.Equal(t, 15.5, s.Cost.Total)
		assert.Equal(t, 5.17, s.Cost.Average)
		assert.Equal(t, 2, s.UniqueTags)
	})
}

func TestDensity(t *testing.T) {
	assert.Equal(t, 0.0, Density(0, 0))
	assert.Equal(t, 0.0, Density(1, 0))
	assert.Equal(t, 1.0, Density(2, 1))
	assert.Equal(t, 0.6667, Density(3, 2))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.23, Round(1.2345, 2))
	assert.Equal(t, 2.0, Round(1.9999, 2))
}
