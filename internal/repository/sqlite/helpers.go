package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloudscope/internal/domain"
	"cloudscope/internal/repository"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ============================================================================
// JSON Marshaling Helpers
// ============================================================================

// unmarshalJSONField safely unmarshals JSON from nullable string into target
func unmarshalJSONField(ns sql.NullString, target any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), target)
}

// marshalToNull marshals v to a nullable JSON string.
// Returns empty NullString for nil or empty maps
func marshalToNull(v any) (sql.NullString, error) {
	switch m := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]any:
		if len(m) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]string:
		if len(m) == 0 {
			return sql.NullString{}, nil
		}
	}

	data, err := repository.MarshalJSON(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// likePattern wraps q for a case-insensitive LIKE ... ESCAPE '\' match
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(q)) + "%"
}

// searchPatterns returns LIKE patterns for q as plain text and as it appears
// inside a JSON string. JSON columns are matched against both so structural
// text and escaped string content are candidates. ok is false when q cannot
// be prefiltered in SQL, since SQLite only folds ASCII case.
func searchPatterns(q string) (plain, jsonText string, ok bool) {
	if !repository.ASCIIOnly(q) {
		return "", "", false
	}
	return likePattern(q), likePattern(repository.JSONEscape(q)), true
}

// limitOffset converts contract pagination into SQLite LIMIT/OFFSET values
func limitOffset(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ============================================================================
// Error Classification
// ============================================================================

func sqliteCode(err error) int {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

func isUniqueViolation(err error) bool {
	switch sqliteCode(err) {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isForeignKeyViolation(err error) bool {
	if sqliteCode(err) == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}

// ============================================================================
// Transactions
// ============================================================================

// inTx runs fn in a transaction, committing only when fn succeeds
func inTx[T any](ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	out, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}

// savepoint runs fn inside a named savepoint of tx, rolling back to it on error
func savepoint[T any](ctx context.Context, tx *sql.Tx, fn func() (T, error)) (T, error) {
	var zero T
	if _, err := tx.ExecContext(ctx, `SAVEPOINT batch_item`); err != nil {
		return zero, err
	}
	out, err := fn()
	if err != nil {
		if _, rerr := tx.ExecContext(ctx, `ROLLBACK TO batch_item`); rerr != nil {
			return zero, errors.Join(err, rerr)
		}
		_, _ = tx.ExecContext(ctx, `RELEASE batch_item`)
		return zero, err
	}
	if _, err := tx.ExecContext(ctx, `RELEASE batch_item`); err != nil {
		return zero, err
	}
	return out, nil
}

// ============================================================================
// Schema Evolution Guide
// ============================================================================
//
// To add a new column to the assets table:
// 1. Add field to assetRow struct (below)
// 2. Update scanArgs() - APPEND to end to match column order
// 3. Update assetColumns constant - APPEND to end
// 4. Update toDomain() to map new field to domain.Asset
// 5. Update assetInsertArgs() and the INSERT/UPDATE statements
// 6. Add the column to schema.go
// 7. Update relevant tests
//
// CRITICAL: Column order must match between:
// - assetColumns constant
// - scanArgs() return slice
// - assetInsertArgs() return slice
//
// Same pattern applies to relationships.

// ============================================================================
// Asset Row Scanner
// ============================================================================

// assetRow holds all columns from an asset query for scanning
type assetRow struct {
	ID               string
	Type             string
	Provider         string
	Name             string
	PropertiesJSON   sql.NullString
	TagsJSON         sql.NullString
	MetadataJSON     sql.NullString
	CreatedAt        string
	UpdatedAt        string
	DiscoveredAt     string
	Status           string
	Health           string
	ComplianceStatus string
	RiskScore        float64
	EstimatedCost    float64
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match assetColumns order exactly
func (r *assetRow) scanArgs() []any {
	return []any{
		&r.ID,               // 1
		&r.Type,             // 2
		&r.Provider,         // 3
		&r.Name,             // 4
		&r.PropertiesJSON,   // 5
		&r.TagsJSON,         // 6
		&r.MetadataJSON,     // 7
		&r.CreatedAt,        // 8
		&r.UpdatedAt,        // 9
		&r.DiscoveredAt,     // 10
		&r.Status,           // 11
		&r.Health,           // 12
		&r.ComplianceStatus, // 13
		&r.RiskScore,        // 14
		&r.EstimatedCost,    // 15
	}
}

// toDomain converts the scanned row to a domain.Asset
func (r *assetRow) toDomain() (*domain.Asset, error) {
	a := &domain.Asset{
		ID:               r.ID,
		Type:             domain.AssetType(r.Type),
		Provider:         domain.Provider(r.Provider),
		Name:             r.Name,
		Status:           domain.AssetStatus(r.Status),
		Health:           domain.Health(r.Health),
		ComplianceStatus: domain.ComplianceStatus(r.ComplianceStatus),
		RiskScore:        r.RiskScore,
		EstimatedCost:    r.EstimatedCost,
	}

	var err error
	if a.CreatedAt, err = repository.ParseTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = repository.ParseTime(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if a.DiscoveredAt, err = repository.ParseTime(r.DiscoveredAt); err != nil {
		return nil, fmt.Errorf("parse discovered_at: %w", err)
	}

	if err := unmarshalJSONField(r.PropertiesJSON, &a.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	if err := unmarshalJSONField(r.TagsJSON, &a.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := unmarshalJSONField(r.MetadataJSON, &a.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	a.Normalize()
	return a, nil
}

// assetColumns returns the SELECT column list for asset queries
const assetColumns = `asset_id, asset_type, provider, name, properties, tags, metadata,
	created_at, updated_at, discovered_at, status, health, compliance_status,
	risk_score, estimated_cost`

// assetInsertArgs prepares arguments in assetColumns order
func assetInsertArgs(a *domain.Asset) ([]any, error) {
	propsJSON, err := marshalToNull(a.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}
	tagsJSON, err := marshalToNull(a.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	metadataJSON, err := marshalToNull(a.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	return []any{
		a.ID,
		string(a.Type),
		string(a.Provider),
		a.Name,
		propsJSON,
		tagsJSON,
		metadataJSON,
		repository.FormatTime(a.CreatedAt),
		repository.FormatTime(a.UpdatedAt),
		repository.FormatTime(a.DiscoveredAt),
		string(a.Status),
		string(a.Health),
		string(a.ComplianceStatus),
		a.RiskScore,
		a.EstimatedCost,
	}, nil
}

func scanAssets(rows *sql.Rows) ([]*domain.Asset, error) {
	defer rows.Close()

	var out []*domain.Asset
	for rows.Next() {
		var row assetRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", row.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return out, nil
}

// ============================================================================
// Relationship Row Scanner
// ============================================================================

// relationshipRow holds all columns from a relationship query for scanning
type relationshipRow struct {
	ID              string
	SourceID        string
	TargetID        string
	Type            string
	PropertiesJSON  sql.NullString
	Confidence      float64
	CreatedAt       string
	UpdatedAt       string
	DiscoveredBy    string
	DiscoveryMethod string
}

// scanArgs returns pointers to all fields for sql.Scan()
// MUST match relationshipColumns order exactly
func (r *relationshipRow) scanArgs() []any {
	return []any{
		&r.ID,              // 1
		&r.SourceID,        // 2
		&r.TargetID,        // 3
		&r.Type,            // 4
		&r.PropertiesJSON,  // 5
		&r.Confidence,      // 6
		&r.CreatedAt,       // 7
		&r.UpdatedAt,       // 8
		&r.DiscoveredBy,    // 9
		&r.DiscoveryMethod, // 10
	}
}

// toDomain converts the scanned row to a domain.Relationship
func (r *relationshipRow) toDomain() (*domain.Relationship, error) {
	rel := &domain.Relationship{
		ID:              r.ID,
		SourceID:        r.SourceID,
		TargetID:        r.TargetID,
		Type:            domain.RelationshipType(r.Type),
		Confidence:      r.Confidence,
		DiscoveredBy:    r.DiscoveredBy,
		DiscoveryMethod: domain.DiscoveryMethod(r.DiscoveryMethod),
	}

	var err error
	if rel.CreatedAt, err = repository.ParseTime(r.CreatedAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rel.UpdatedAt, err = repository.ParseTime(r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := unmarshalJSONField(r.PropertiesJSON, &rel.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}

	rel.Normalize()
	return rel, nil
}

// relationshipColumns returns the SELECT column list for relationship queries
const relationshipColumns = `relationship_id, source_id, target_id, relationship_type,
	properties, confidence, created_at, updated_at, discovered_by, discovery_method`

// relationshipInsertArgs prepares arguments in relationshipColumns order
func relationshipInsertArgs(r *domain.Relationship) ([]any, error) {
	propsJSON, err := marshalToNull(r.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal properties: %w", err)
	}

	return []any{
		r.ID,
		r.SourceID,
		r.TargetID,
		string(r.Type),
		propsJSON,
		r.Confidence,
		repository.FormatTime(r.CreatedAt),
		repository.FormatTime(r.UpdatedAt),
		r.DiscoveredBy,
		string(r.DiscoveryMethod),
	}, nil
}

func scanRelationships(rows *sql.Rows) ([]*domain.Relationship, error) {
	defer rows.Close()

	var out []*domain.Relationship
	for rows.Next() {
		var row relationshipRow
		if err := rows.Scan(row.scanArgs()...); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		r, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("relationship %s: %w", row.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return out, nil
}
