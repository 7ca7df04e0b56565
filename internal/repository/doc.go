// Package repository defines the storage contract for cloudscope.
//
// This package provides the backend-agnostic interfaces for persisting and
// querying assets and relationships, together with the shared error taxonomy
// and helpers that every backend uses. Implementations live in subpackages:
//
//   - file: sharded JSON files with JSON secondary indices
//   - sqlite: embedded relational store with a generated schema
//   - graph: Neo4j/Memgraph store over a bolt driver session
//   - failover: primary/secondary wrapper that degrades on connectivity loss
//
// # Contract
//
// AssetRepository and RelationshipRepository expose the same operations on
// every backend. FindByID returns (nil, nil) when the entity is absent. A limit
// of zero or less means unlimited. FindAll orders by created_at descending and
// then by id.
//
// # Errors
//
// Failures are returned as *Error values wrapping one of ErrNotFound,
// ErrDuplicate or ErrInvalid, or the underlying I/O or driver error. Callers
// test with errors.Is.
//
// # Batches
//
// Batch operations apply each item independently. Duplicates are skipped with
// a warning; a batch only fails when nothing succeeded and at least one item
// failed for a reason other than duplication.
//
// # Endpoint Existence
//
// Whether a relationship may reference assets that do not exist yet is
// backend-specific. The file backend accepts dangling endpoints; the sqlite
// and graph backends reject them with ErrNotFound.
package repository
