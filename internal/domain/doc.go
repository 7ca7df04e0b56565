// Package domain defines the core domain types for the cloudscope asset inventory.
//
// This package contains the two persisted entities and the value objects used to
// query and summarize them.
//
// # Core Types
//
// Asset represents a tracked infrastructure entity (compute, storage, network, etc.)
// with free-form properties, string tags, lifecycle status and a risk score.
//
// Relationship represents a directed, typed edge between two assets with a
// confidence score and discovery metadata. The (source, target, type) tuple is
// the relationship's natural key.
//
// # Filters
//
// AssetFilter and RelationshipFilter describe the equality/range filters accepted
// by every repository backend. Their Matches methods define the reference
// semantics used by backends that scan instead of querying.
//
// # Statistics
//
// AssetStatistics and GraphStatistics are read-only snapshots computed by the
// backends at call time.
//
// # Design Principles
//
// - No database or external dependencies beyond id generation
// - Closed enumerations as string types with Valid methods
// - Validation returns errors wrapping ErrValidation
package domain
