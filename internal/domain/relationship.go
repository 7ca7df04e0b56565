package domain

import (
	"fmt"
	"time"
)

// RelationshipType represents the semantic kind of a directed edge
type RelationshipType string

const (
	RelDependsOn       RelationshipType = "depends_on"
	RelConnectsTo      RelationshipType = "connects_to"
	RelContains        RelationshipType = "contains"
	RelContainedBy     RelationshipType = "contained_by"
	RelUses            RelationshipType = "uses"
	RelUsedBy          RelationshipType = "used_by"
	RelManages         RelationshipType = "manages"
	RelManagedBy       RelationshipType = "managed_by"
	RelSecures         RelationshipType = "secures"
	RelSecuredBy       RelationshipType = "secured_by"
	RelBacksUp         RelationshipType = "backs_up"
	RelBackedUpBy      RelationshipType = "backed_up_by"
	RelReplicatesTo    RelationshipType = "replicates_to"
	RelReplicatedFrom  RelationshipType = "replicated_from"
	RelLoadBalances    RelationshipType = "load_balances"
	RelLoadBalancedBy  RelationshipType = "load_balanced_by"
	RelMonitors        RelationshipType = "monitors"
	RelMonitoredBy     RelationshipType = "monitored_by"
	RelOwns            RelationshipType = "owns"
	RelOwnedBy         RelationshipType = "owned_by"
)

// Direction describes which way a relationship type points
type Direction string

const (
	DirectionOutbound      Direction = "outbound"
	DirectionInbound       Direction = "inbound"
	DirectionBidirectional Direction = "bidirectional"
	DirectionUnknown       Direction = "unknown"
)

var relationshipDirections = map[RelationshipType]Direction{
	RelDependsOn:      DirectionOutbound,
	RelUses:           DirectionOutbound,
	RelContains:       DirectionOutbound,
	RelManages:        DirectionOutbound,
	RelSecures:        DirectionOutbound,
	RelBacksUp:        DirectionOutbound,
	RelReplicatesTo:   DirectionOutbound,
	RelLoadBalances:   DirectionOutbound,
	RelMonitors:       DirectionOutbound,
	RelOwns:           DirectionOutbound,
	RelUsedBy:         DirectionInbound,
	RelContainedBy:    DirectionInbound,
	RelManagedBy:      DirectionInbound,
	RelSecuredBy:      DirectionInbound,
	RelBackedUpBy:     DirectionInbound,
	RelReplicatedFrom: DirectionInbound,
	RelLoadBalancedBy: DirectionInbound,
	RelMonitoredBy:    DirectionInbound,
	RelOwnedBy:        DirectionInbound,
	RelConnectsTo:     DirectionBidirectional,
}

// inverseTypes maps an outbound type to its inbound counterpart
var inverseTypes = map[RelationshipType]RelationshipType{
	RelDependsOn:    RelUsedBy,
	RelUses:         RelUsedBy,
	RelContains:     RelContainedBy,
	RelManages:      RelManagedBy,
	RelSecures:      RelSecuredBy,
	RelBacksUp:      RelBackedUpBy,
	RelReplicatesTo: RelReplicatedFrom,
	RelLoadBalances: RelLoadBalancedBy,
	RelMonitors:     RelMonitoredBy,
	RelOwns:         RelOwnedBy,
}

// Valid reports whether t is a known relationship type
func (t RelationshipType) Valid() bool {
	_, ok := relationshipDirections[t]
	return ok
}

// Direction returns the direction implied by the type
func (t RelationshipType) Direction() Direction {
	if d, ok := relationshipDirections[t]; ok {
		return d
	}
	return DirectionUnknown
}

// DiscoveryMethod records how a relationship was established
type DiscoveryMethod string

const (
	DiscoveryExplicit   DiscoveryMethod = "explicit"
	DiscoveryImplicit   DiscoveryMethod = "implicit"
	DiscoveryInferred   DiscoveryMethod = "inferred"
	DiscoveryDiscovered DiscoveryMethod = "discovered"
)

// Valid reports whether m is a known discovery method
func (m DiscoveryMethod) Valid() bool {
	switch m {
	case DiscoveryExplicit, DiscoveryImplicit, DiscoveryInferred, DiscoveryDiscovered:
		return true
	}
	return false
}

// DefaultDiscoveredBy is used when a relationship has no recorded discoverer
const DefaultDiscoveredBy = "manual"

// Relationship represents a directed, typed edge between two assets
type Relationship struct {
	ID         string           `json:"relationship_id" yaml:"relationship_id"`
	SourceID   string           `json:"source_id" yaml:"source_id"`
	TargetID   string           `json:"target_id" yaml:"target_id"`
	Type       RelationshipType `json:"relationship_type" yaml:"relationship_type"`
	Properties map[string]any   `json:"properties" yaml:"properties,omitempty"`
	Confidence float64          `json:"confidence" yaml:"confidence"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	DiscoveredBy    string          `json:"discovered_by" yaml:"discovered_by"`
	DiscoveryMethod DiscoveryMethod `json:"discovery_method" yaml:"discovery_method"`
}

// RelationshipKey is the natural key that must be unique per backend
type RelationshipKey struct {
	SourceID string
	TargetID string
	Type     RelationshipType
}

// String renders the key as source-type->target
func (k RelationshipKey) String() string {
	return fmt.Sprintf("%s-%s->%s", k.SourceID, k.Type, k.TargetID)
}

// NewRelationship creates a relationship with a generated id and full confidence
func NewRelationship(sourceID, targetID string, relType RelationshipType) *Relationship {
	now := Now()
	return &Relationship{
		ID:              NewRelationshipID(),
		SourceID:        sourceID,
		TargetID:        targetID,
		Type:            relType,
		Properties:      make(map[string]any),
		Confidence:      1.0,
		CreatedAt:       now,
		UpdatedAt:       now,
		DiscoveredBy:    DefaultDiscoveredBy,
		DiscoveryMethod: DiscoveryExplicit,
	}
}

// NewRelationshipID generates an id of the form rel-<12 hex>
func NewRelationshipID() string {
	return "rel-" + shortHex(12)
}

// Key returns the relationship's natural key
func (r *Relationship) Key() RelationshipKey {
	return RelationshipKey{SourceID: r.SourceID, TargetID: r.TargetID, Type: r.Type}
}

// Normalize fills a missing id, nil maps and default discovery metadata, and
// converts property values to their JSON-decoded form
func (r *Relationship) Normalize() {
	if r.ID == "" {
		r.ID = NewRelationshipID()
	}
	if r.Properties == nil {
		r.Properties = make(map[string]any)
	}
	r.Properties = canonicalMap(r.Properties)
	if r.DiscoveredBy == "" {
		r.DiscoveredBy = DefaultDiscoveredBy
	}
	if r.DiscoveryMethod == "" {
		r.DiscoveryMethod = DiscoveryExplicit
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = Now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
}

// Validate checks the relationship against its invariants
func (r *Relationship) Validate() error {
	if r.ID == "" {
		return validationErr("relationship id is required")
	}
	if r.SourceID == "" {
		return validationErr("source id is required")
	}
	if r.TargetID == "" {
		return validationErr("target id is required")
	}
	if r.Type == "" {
		return validationErr("relationship type is required")
	}
	if r.SourceID == r.TargetID {
		return validationErr("self-relationships are not allowed: %s", r.SourceID)
	}
	if !r.Type.Valid() {
		return validationErr("invalid relationship type: %s", r.Type)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return validationErr("confidence must be between 0 and 1, got %v", r.Confidence)
	}
	if !r.DiscoveryMethod.Valid() {
		return validationErr("invalid discovery method: %s", r.DiscoveryMethod)
	}
	if r.UpdatedAt.Before(r.CreatedAt) {
		return validationErr("updated_at precedes created_at")
	}
	return nil
}

// Touch bumps UpdatedAt, never moving it before CreatedAt
func (r *Relationship) Touch() {
	now := Now()
	if now.Before(r.CreatedAt) {
		now = r.CreatedAt
	}
	r.UpdatedAt = now
}

// Direction returns the direction implied by the relationship type
func (r *Relationship) Direction() Direction {
	return r.Type.Direction()
}

// IsInverseOf reports whether other describes the same link from the opposite end
func (r *Relationship) IsInverseOf(other *Relationship) bool {
	if r.SourceID != other.TargetID || r.TargetID != other.SourceID {
		return false
	}
	return inverseTypes[r.Type] == other.Type || inverseTypes[other.Type] == r.Type
}

// UpdateConfidence replaces the confidence score
func (r *Relationship) UpdateConfidence(c float64) error {
	if c < 0 || c > 1 {
		return validationErr("confidence must be between 0 and 1, got %v", c)
	}
	r.Confidence = c
	r.Touch()
	return nil
}

// SetProperty sets a property value
func (r *Relationship) SetProperty(key string, value any) {
	if r.Properties == nil {
		r.Properties = make(map[string]any)
	}
	r.Properties[key] = value
	r.Touch()
}

// Involves reports whether assetID is either endpoint
func (r *Relationship) Involves(assetID string) bool {
	return r.SourceID == assetID || r.TargetID == assetID
}

// Clone returns a deep copy
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	c := *r
	c.Properties = cloneAnyMap(r.Properties)
	return &c
}

// String returns a short description of the edge
func (r *Relationship) String() string {
	return fmt.Sprintf("Relationship(%s -%s-> %s)", r.SourceID, r.Type, r.TargetID)
}

// Connects reports whether the relationship links a and b in either direction
func (r *Relationship) Connects(a, b string) bool {
	return (r.SourceID == a && r.TargetID == b) || (r.SourceID == b && r.TargetID == a)
}
