// Package sqlite implements the repository contract on an embedded SQLite
// database.
//
// Assets, relationships and asset tags live in one database file. Tags are
// stored as JSON on the asset row and materialized into asset_tags so tag
// equality filters use an index. Relationships reference assets through
// foreign keys with cascading delete, so a relationship to a missing asset is
// rejected with ErrNotFound.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Options holds the connection pragmas applied to every pooled connection
type Options struct {
	JournalMode string
	Synchronous string
	CacheSize   int
	TempStore   string
	BusyTimeout int
	Logger      *slog.Logger
}

// DefaultOptions returns the tuning used when no configuration is given
func DefaultOptions() Options {
	return Options{
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		CacheSize:   -64000,
		TempStore:   "MEMORY",
		BusyTimeout: 5000,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.JournalMode == "" {
		o.JournalMode = d.JournalMode
	}
	if o.Synchronous == "" {
		o.Synchronous = d.Synchronous
	}
	if o.CacheSize == 0 {
		o.CacheSize = d.CacheSize
	}
	if o.TempStore == "" {
		o.TempStore = d.TempStore
	}
	if o.BusyTimeout == 0 {
		o.BusyTimeout = d.BusyTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// dsn builds a modernc DSN carrying the pragmas so each new connection gets them
func dsn(path string, o Options) string {
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", o.BusyTimeout),
		fmt.Sprintf("journal_mode(%s)", o.JournalMode),
		fmt.Sprintf("synchronous(%s)", o.Synchronous),
		fmt.Sprintf("cache_size(%d)", o.CacheSize),
		fmt.Sprintf("temp_store(%s)", o.TempStore),
		"foreign_keys(ON)",
	}
	q := make([]string, len(pragmas))
	for i, p := range pragmas {
		q[i] = "_pragma=" + url.QueryEscape(p)
	}
	return "file:" + path + "?" + strings.Join(q, "&")
}

// DB is a database handle shared by the asset and relationship stores. It is
// closed when both stores have been closed.
type DB struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	refs int
}

// Open opens or creates the database at path and migrates the schema
func Open(path string, opts Options) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	o := opts.withDefaults()

	if path != MemoryPath {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			return nil, fmt.Errorf("sqlite path %q is a directory, expected file", path)
		}
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
			}
		}
	}

	db, err := sql.Open(driverName, dsn(path, o))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == MemoryPath {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger := o.Logger.With("backend", "sqlite")
	logger.Debug("opened database", "path", path, "journal_mode", o.JournalMode, "synchronous", o.Synchronous)
	return &DB{db: db, path: path, logger: logger}, nil
}

// Path returns the database location
func (d *DB) Path() string {
	return d.path
}

// SQL exposes the underlying handle
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Assets returns an asset store over this database
func (d *DB) Assets() *AssetStore {
	d.acquire()
	return &AssetStore{db: d, logger: d.logger.With("entity", "asset")}
}

// Relationships returns a relationship store over this database
func (d *DB) Relationships() *RelationshipStore {
	d.acquire()
	return &RelationshipStore{db: d, logger: d.logger.With("entity", "relationship")}
}

func (d *DB) acquire() {
	d.mu.Lock()
	d.refs++
	d.mu.Unlock()
}

// release closes the database once the last store lets go of it
func (d *DB) release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		return nil
	}
	d.refs--
	if d.refs > 0 {
		return nil
	}
	return d.db.Close()
}

// Close closes the database immediately
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs = 0
	return d.db.Close()
}

func (d *DB) size() int64 {
	if d.path == MemoryPath {
		return 0
	}
	var total int64
	for _, p := range []string{d.path, d.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}
