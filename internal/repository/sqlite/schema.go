package sqlite

import "database/sql"

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	asset_id TEXT PRIMARY KEY,
	asset_type TEXT NOT NULL,
	provider TEXT NOT NULL,
	name TEXT NOT NULL,
	properties TEXT,
	tags TEXT,
	metadata TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	discovered_at TEXT NOT NULL,
	status TEXT NOT NULL,
	health TEXT NOT NULL,
	compliance_status TEXT NOT NULL,
	risk_score REAL NOT NULL DEFAULT 0,
	estimated_cost REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS relationships (
	relationship_id TEXT PRIMARY KEY,
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	relationship_type TEXT NOT NULL,
	properties TEXT,
	confidence REAL NOT NULL DEFAULT 1.0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	discovered_by TEXT NOT NULL,
	discovery_method TEXT NOT NULL,
	FOREIGN KEY (source_id) REFERENCES assets(asset_id) ON DELETE CASCADE,
	FOREIGN KEY (target_id) REFERENCES assets(asset_id) ON DELETE CASCADE,
	UNIQUE (source_id, target_id, relationship_type)
);

CREATE TABLE IF NOT EXISTS asset_tags (
	asset_id TEXT NOT NULL,
	tag_key TEXT NOT NULL,
	tag_value TEXT NOT NULL,
	PRIMARY KEY (asset_id, tag_key),
	FOREIGN KEY (asset_id) REFERENCES assets(asset_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_assets_type ON assets(asset_type);
CREATE INDEX IF NOT EXISTS idx_assets_provider ON assets(provider);
CREATE INDEX IF NOT EXISTS idx_assets_status ON assets(status);
CREATE INDEX IF NOT EXISTS idx_assets_risk ON assets(risk_score);
CREATE INDEX IF NOT EXISTS idx_assets_created ON assets(created_at);
CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id);
CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id);
CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(relationship_type);
CREATE INDEX IF NOT EXISTS idx_asset_tags_kv ON asset_tags(tag_key, tag_value);
`

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
