package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssetType represents the kind of infrastructure entity
type AssetType string

const (
	AssetTypeCompute   AssetType = "compute"
	AssetTypeStorage   AssetType = "storage"
	AssetTypeNetwork   AssetType = "network"
	AssetTypeDatabase  AssetType = "database"
	AssetTypeContainer AssetType = "container"
	AssetTypeFunction  AssetType = "function"
	AssetTypeIdentity  AssetType = "identity"
	AssetTypeSecurity  AssetType = "security"
)

// Valid reports whether t is a known asset type
func (t AssetType) Valid() bool {
	switch t {
	case AssetTypeCompute, AssetTypeStorage, AssetTypeNetwork, AssetTypeDatabase,
		AssetTypeContainer, AssetTypeFunction, AssetTypeIdentity, AssetTypeSecurity:
		return true
	}
	return false
}

// Provider represents where an asset lives
type Provider string

const (
	ProviderAWS        Provider = "aws"
	ProviderAzure      Provider = "azure"
	ProviderGCP        Provider = "gcp"
	ProviderKubernetes Provider = "kubernetes"
	ProviderOnPrem     Provider = "onprem"
	ProviderHybrid     Provider = "hybrid"
	ProviderCustom     Provider = "custom"
)

// Valid reports whether p is a known provider
func (p Provider) Valid() bool {
	switch p {
	case ProviderAWS, ProviderAzure, ProviderGCP, ProviderKubernetes,
		ProviderOnPrem, ProviderHybrid, ProviderCustom:
		return true
	}
	return false
}

// AssetStatus represents the lifecycle state of an asset
type AssetStatus string

const (
	AssetStatusActive     AssetStatus = "active"
	AssetStatusInactive   AssetStatus = "inactive"
	AssetStatusTerminated AssetStatus = "terminated"
	AssetStatusUnknown    AssetStatus = "unknown"
)

// Valid reports whether s is a known status
func (s AssetStatus) Valid() bool {
	switch s {
	case AssetStatusActive, AssetStatusInactive, AssetStatusTerminated, AssetStatusUnknown:
		return true
	}
	return false
}

// Health represents the operational health of an asset
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// Valid reports whether h is a known health value
func (h Health) Valid() bool {
	switch h {
	case HealthHealthy, HealthDegraded, HealthUnhealthy, HealthUnknown:
		return true
	}
	return false
}

// ComplianceStatus represents the result of the last compliance evaluation
type ComplianceStatus string

const (
	ComplianceCompliant    ComplianceStatus = "compliant"
	ComplianceNonCompliant ComplianceStatus = "non_compliant"
	ComplianceUnknown      ComplianceStatus = "unknown"
)

// Valid reports whether c is a known compliance status
func (c ComplianceStatus) Valid() bool {
	switch c {
	case ComplianceCompliant, ComplianceNonCompliant, ComplianceUnknown:
		return true
	}
	return false
}

// HighRiskThreshold is the risk score above which an asset counts as high risk
const HighRiskThreshold = 70.0

// Asset represents a tracked infrastructure entity
type Asset struct {
	ID         string            `json:"asset_id" yaml:"asset_id"`
	Type       AssetType         `json:"asset_type" yaml:"asset_type"`
	Provider   Provider          `json:"provider" yaml:"provider"`
	Name       string            `json:"name" yaml:"name"`
	Properties map[string]any    `json:"properties" yaml:"properties,omitempty"`
	Tags       map[string]string `json:"tags" yaml:"tags,omitempty"`
	Metadata   map[string]any    `json:"metadata" yaml:"metadata,omitempty"`

	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	DiscoveredAt time.Time `json:"discovered_at" yaml:"discovered_at"`

	Status           AssetStatus      `json:"status" yaml:"status"`
	Health           Health           `json:"health" yaml:"health"`
	ComplianceStatus ComplianceStatus `json:"compliance_status" yaml:"compliance_status"`

	RiskScore     float64 `json:"risk_score" yaml:"risk_score"`
	EstimatedCost float64 `json:"estimated_cost" yaml:"estimated_cost"`
}

// NewAsset creates an asset with defaults applied. An empty id is replaced by
// a generated one.
func NewAsset(id string, assetType AssetType, provider Provider, name string) *Asset {
	now := Now()
	a := &Asset{
		ID:               id,
		Type:             assetType,
		Provider:         provider,
		Name:             name,
		Properties:       make(map[string]any),
		Tags:             make(map[string]string),
		Metadata:         make(map[string]any),
		CreatedAt:        now,
		UpdatedAt:        now,
		DiscoveredAt:     now,
		Status:           AssetStatusActive,
		Health:           HealthHealthy,
		ComplianceStatus: ComplianceUnknown,
	}
	if a.ID == "" {
		a.ID = NewAssetID(provider, assetType)
	}
	return a
}

// NewAssetID generates an id of the form <provider>-<type>-<8 hex>
func NewAssetID(provider Provider, assetType AssetType) string {
	return fmt.Sprintf("%s-%s-%s", provider, assetType, shortHex(8))
}

// Now returns the current time in UTC, the canonical zone for stored timestamps
func Now() time.Time {
	return time.Now().UTC()
}

func shortHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// Normalize fills nil maps and zero-value enumerations with their defaults
// and converts property and metadata values to their JSON-decoded form
func (a *Asset) Normalize() {
	if a.Properties == nil {
		a.Properties = make(map[string]any)
	}
	a.Properties = canonicalMap(a.Properties)
	a.Metadata = canonicalMap(a.Metadata)
	if a.Tags == nil {
		a.Tags = make(map[string]string)
	}
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	if a.Status == "" {
		a.Status = AssetStatusActive
	}
	if a.Health == "" {
		a.Health = HealthHealthy
	}
	if a.ComplianceStatus == "" {
		a.ComplianceStatus = ComplianceUnknown
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = Now()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	if a.DiscoveredAt.IsZero() {
		a.DiscoveredAt = a.CreatedAt
	}
}

// Validate checks the asset against its invariants
func (a *Asset) Validate() error {
	if a.ID == "" {
		return validationErr("asset id is required")
	}
	if a.Type == "" {
		return validationErr("asset type is required")
	}
	if a.Provider == "" {
		return validationErr("provider is required")
	}
	if a.Name == "" {
		return validationErr("asset name is required")
	}
	if !a.Type.Valid() {
		return validationErr("invalid asset type: %s", a.Type)
	}
	if !a.Provider.Valid() {
		return validationErr("invalid provider: %s", a.Provider)
	}
	if !a.Status.Valid() {
		return validationErr("invalid status: %s", a.Status)
	}
	if !a.Health.Valid() {
		return validationErr("invalid health: %s", a.Health)
	}
	if !a.ComplianceStatus.Valid() {
		return validationErr("invalid compliance status: %s", a.ComplianceStatus)
	}
	if a.RiskScore < 0 || a.RiskScore > 100 {
		return validationErr("risk score must be between 0 and 100, got %v", a.RiskScore)
	}
	if a.EstimatedCost < 0 {
		return validationErr("estimated cost must not be negative, got %v", a.EstimatedCost)
	}
	if a.UpdatedAt.Before(a.CreatedAt) {
		return validationErr("updated_at precedes created_at")
	}
	return nil
}

// Touch bumps UpdatedAt, never moving it before CreatedAt
func (a *Asset) Touch() {
	now := Now()
	if now.Before(a.CreatedAt) {
		now = a.CreatedAt
	}
	a.UpdatedAt = now
}

// SetTag adds or replaces a tag
func (a *Asset) SetTag(key, value string) {
	if a.Tags == nil {
		a.Tags = make(map[string]string)
	}
	a.Tags[key] = value
	a.Touch()
}

// RemoveTag deletes a tag, reporting whether it was present
func (a *Asset) RemoveTag(key string) bool {
	if _, ok := a.Tags[key]; !ok {
		return false
	}
	delete(a.Tags, key)
	a.Touch()
	return true
}

// UpdateProperties merges props into the asset's properties
func (a *Asset) UpdateProperties(props map[string]any) {
	if a.Properties == nil {
		a.Properties = make(map[string]any)
	}
	maps.Copy(a.Properties, props)
	a.Touch()
}

// CalculateRiskScore derives a risk score from age, tagging, compliance and
// health, stores it on the asset and returns it
func (a *Asset) CalculateRiskScore() float64 {
	score := 0.0

	if Now().Sub(a.CreatedAt) > 365*24*time.Hour {
		score += 10
	}
	if len(a.Tags) == 0 {
		score += 15
	}

	switch a.ComplianceStatus {
	case ComplianceCompliant:
	case ComplianceNonCompliant:
		score += 30
	default:
		score += 20
	}

	switch a.Health {
	case HealthHealthy:
	case HealthDegraded:
		score += 15
	case HealthUnhealthy:
		score += 25
	default:
		score += 10
	}

	a.RiskScore = min(100, max(0, score))
	return a.RiskScore
}

// IsHighRisk reports whether the asset's risk score exceeds HighRiskThreshold
func (a *Asset) IsHighRisk() bool {
	return a.RiskScore > HighRiskThreshold
}

// TagPairs returns the tags encoded as sorted "key=value" strings
func (a *Asset) TagPairs() []string {
	pairs := make([]string, 0, len(a.Tags))
	for k, v := range a.Tags {
		pairs = append(pairs, TagPair(k, v))
	}
	slices.Sort(pairs)
	return pairs
}

// TagPair encodes one tag as "key=value"
func TagPair(key, value string) string {
	return key + "=" + value
}

// Clone returns a deep copy of the asset's maps and scalar fields
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.Properties = cloneAnyMap(a.Properties)
	c.Metadata = cloneAnyMap(a.Metadata)
	c.Tags = maps.Clone(a.Tags)
	if c.Tags == nil {
		c.Tags = make(map[string]string)
	}
	return &c
}

// String returns a short identifying description
func (a *Asset) String() string {
	return fmt.Sprintf("Asset(%s, %s, %s)", a.ID, a.Type, a.Provider)
}

// cloneAnyMap copies nested maps and slices so callers cannot alias stored state
func cloneAnyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneAnyMap(val)
	case []any:
		s := make([]any, len(val))
		for i := range val {
			s[i] = cloneValue(val[i])
		}
		return s
	default:
		return v
	}
}

// canonicalMap returns m with values in the form JSON decoding produces:
// numbers as float64, slices as []any, nested maps as map[string]any. Every
// backend reads values back in that form. Maps that are already canonical, or
// that cannot be encoded, are returned unchanged.
func canonicalMap(m map[string]any) map[string]any {
	if jsonNative(m) {
		return m
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	out := make(map[string]any, len(m))
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func jsonNative(v any) bool {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return true
	case map[string]any:
		for _, e := range val {
			if !jsonNative(e) {
				return false
			}
		}
		return true
	case []any:
		for _, e := range val {
			if !jsonNative(e) {
				return false
			}
		}
		return true
	}
	return false
}
