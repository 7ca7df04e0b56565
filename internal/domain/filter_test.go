package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetFilterMatches(t *testing.T) {
	a := NewAsset("a", AssetTypeCompute, ProviderAWS, "vm")
	a.RiskScore = 50
	a.Tags["env"] = "prod"
	a.Tags["team"] = "core"

	tests := []struct {
		name   string
		filter AssetFilter
		want   bool
	}{
		{"zero filter", AssetFilter{}, true},
		{"type match", AssetFilter{Type: AssetTypeCompute}, true},
		{"type mismatch", AssetFilter{Type: AssetTypeStorage}, false},
		{"provider mismatch", AssetFilter{Provider: ProviderAzure}, false},
		{"status match", AssetFilter{Status: AssetStatusActive}, true},
		{"min risk inclusive", AssetFilter{MinRiskScore: Float(50)}, true},
		{"min risk above", AssetFilter{MinRiskScore: Float(51)}, false},
		{"max risk below", AssetFilter{MaxRiskScore: Float(49)}, false},
		{"all tags present", AssetFilter{Tags: map[string]string{"env": "prod", "team": "core"}}, true},
		{"tag value differs", AssetFilter{Tags: map[string]string{"env": "dev"}}, false},
		{"tag missing", AssetFilter{Tags: map[string]string{"owner": "x"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(a))
		})
	}

	assert.True(t, AssetFilter{}.IsZero())
	assert.False(t, AssetFilter{Type: AssetTypeCompute}.IsZero())
	assert.False(t, AssetFilter{}.Matches(nil))
}

func TestRelationshipFilterMatches(t *testing.T) {
	r := NewRelationship("a", "b", RelUses)
	r.Confidence = 0.8

	assert.True(t, RelationshipFilter{}.Matches(r))
	assert.True(t, RelationshipFilter{SourceID: "a", TargetID: "b", Type: RelUses}.Matches(r))
	assert.False(t, RelationshipFilter{SourceID: "b"}.Matches(r))
	assert.False(t, RelationshipFilter{Type: RelOwns}.Matches(r))
	assert.True(t, RelationshipFilter{MinConfidence: Float(0.8)}.Matches(r))
	assert.False(t, RelationshipFilter{MinConfidence: Float(0.9)}.Matches(r))
	assert.True(t, RelationshipFilter{}.IsZero())
}

func TestMatchesQuery(t *testing.T) {
	a := NewAsset("a", AssetTypeCompute, ProviderAWS, "Web Server")
	a.Properties["region"] = "us-east-1"
	a.Tags["Team"] = "payments"

	assert.True(t, a.MatchesQuery("web"))
	assert.True(t, a.MatchesQuery("EAST"))
	assert.True(t, a.MatchesQuery("team"))
	assert.True(t, a.MatchesQuery("pay"))
	assert.False(t, a.MatchesQuery("database"))
	assert.True(t, a.MatchesQuery(""))

	r := NewRelationship("a", "b", RelLoadBalances)
	r.DiscoveredBy = "Scanner"
	r.Properties["port"] = 8443.0

	assert.True(t, r.MatchesQuery("load"))
	assert.True(t, r.MatchesQuery("scan"))
	assert.True(t, r.MatchesQuery("8443"))
	assert.False(t, r.MatchesQuery("owns"))
}
