package domain

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelationship(t *testing.T) {
	r := NewRelationship("a", "b", RelDependsOn)

	assert.Regexp(t, regexp.MustCompile(`^rel-[0-9a-f]{12}$`), r.ID)
	assert.Equal(t, 1.0, r.Confidence)
	assert.Equal(t, DefaultDiscoveredBy, r.DiscoveredBy)
	assert.Equal(t, DiscoveryExplicit, r.DiscoveryMethod)
	assert.NotNil(t, r.Properties)
	require.NoError(t, r.Validate())
}

func TestRelationshipValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Relationship)
	}{
		{"missing source", func(r *Relationship) { r.SourceID = "" }},
		{"missing target", func(r *Relationship) { r.TargetID = "" }},
		{"missing type", func(r *Relationship) { r.Type = "" }},
		{"self reference", func(r *Relationship) { r.TargetID = r.SourceID }},
		{"unknown type", func(r *Relationship) { r.Type = "likes" }},
		{"confidence above one", func(r *Relationship) { r.Confidence = 1.5 }},
		{"confidence below zero", func(r *Relationship) { r.Confidence = -0.1 }},
		{"unknown discovery method", func(r *Relationship) { r.DiscoveryMethod = "guessed" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRelationship("a", "b", RelUses)
			tt.mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestRelationshipDirection(t *testing.T) {
	assert.Equal(t, DirectionOutbound, NewRelationship("a", "b", RelDependsOn).Direction())
	assert.Equal(t, DirectionInbound, NewRelationship("a", "b", RelUsedBy).Direction())
	assert.Equal(t, DirectionBidirectional, NewRelationship("a", "b", RelConnectsTo).Direction())
	assert.Equal(t, DirectionUnknown, RelationshipType("likes").Direction())
}

func TestRelationshipIsInverseOf(t *testing.T) {
	contains := NewRelationship("vpc", "subnet", RelContains)
	containedBy := NewRelationship("subnet", "vpc", RelContainedBy)
	other := NewRelationship("subnet", "vpc", RelMonitors)
	sameDirection := NewRelationship("vpc", "subnet", RelContainedBy)

	assert.True(t, contains.IsInverseOf(containedBy))
	assert.True(t, containedBy.IsInverseOf(contains))
	assert.False(t, contains.IsInverseOf(other))
	assert.False(t, contains.IsInverseOf(sameDirection))
}

func TestRelationshipUpdateConfidence(t *testing.T) {
	r := NewRelationship("a", "b", RelUses)

	require.NoError(t, r.UpdateConfidence(0.4))
	assert.Equal(t, 0.4, r.Confidence)

	err := r.UpdateConfidence(2)
	require.Error(t, err)
	assert.Equal(t, 0.4, r.Confidence)
}

func TestRelationshipKeyAndConnects(t *testing.T) {
	r := NewRelationship("a", "b", RelUses)

	assert.Equal(t, RelationshipKey{SourceID: "a", TargetID: "b", Type: RelUses}, r.Key())
	assert.Equal(t, "a-uses->b", r.Key().String())
	assert.True(t, r.Connects("a", "b"))
	assert.True(t, r.Connects("b", "a"))
	assert.False(t, r.Connects("a", "c"))
	assert.True(t, r.Involves("b"))
}

func TestRelationshipClone(t *testing.T) {
	r := NewRelationship("a", "b", RelUses)
	r.Properties["port"] = 443.0

	c := r.Clone()
	c.Properties["port"] = 80.0

	assert.Equal(t, 443.0, r.Properties["port"])
}

func TestRelationshipNormalize(t *testing.T) {
	r := &Relationship{SourceID: "a", TargetID: "b", Type: RelOwns, Confidence: 0.5}
	r.Normalize()

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, DefaultDiscoveredBy, r.DiscoveredBy)
	assert.Equal(t, DiscoveryExplicit, r.DiscoveryMethod)
	require.NoError(t, r.Validate())
}
