// Package graph implements the repository contract on a Neo4j or Memgraph
// server over the Bolt protocol.
//
// Assets are nodes labelled Asset keyed by asset_id. Relationships are edges of
// type RELATIONSHIP carrying the relationship fields as properties. Nested maps
// are stored as JSON strings and timestamps as fixed-width UTC strings so they
// order correctly in Cypher.
package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Dialect selects the DDL syntax used when provisioning the schema
type Dialect string

const (
	DialectNeo4j    Dialect = "neo4j"
	DialectMemgraph Dialect = "memgraph"
)

// Config holds graph server connection configuration
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	Dialect  Dialect
	// ConnectTimeout bounds socket connects and pool acquisition
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

// Client owns the driver shared by the asset and relationship stores
type Client struct {
	driver   neo4j.DriverWithContext
	uri      string
	database string
	logger   *slog.Logger

	mu   sync.Mutex
	refs int
}

// Open creates a driver, verifies the server is reachable and provisions
// constraints and indices
func Open(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("graph uri must not be empty")
	}
	if cfg.Dialect == "" {
		cfg.Dialect = DialectNeo4j
	}
	if cfg.Dialect != DialectNeo4j && cfg.Dialect != DialectMemgraph {
		return nil, fmt.Errorf("unknown graph dialect %q", cfg.Dialect)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.SocketConnectTimeout = cfg.ConnectTimeout
		c.ConnectionAcquisitionTimeout = cfg.ConnectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("creating graph driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to graph server %s: %w", cfg.URI, err)
	}

	c := &Client{
		driver:   driver,
		uri:      cfg.URI,
		database: cfg.Database,
		logger:   cfg.Logger.With("backend", "graph"),
	}
	c.provision(ctx, cfg.Dialect)
	c.logger.Debug("connected to graph server", "uri", cfg.URI, "dialect", cfg.Dialect)
	return c, nil
}

// schemaStatements returns the constraint and index DDL for a dialect
func schemaStatements(d Dialect) []string {
	indexed := []string{"asset_type", "provider", "status", "risk_score"}
	var stmts []string
	switch d {
	case DialectMemgraph:
		stmts = append(stmts, `CREATE CONSTRAINT ON (a:Asset) ASSERT a.asset_id IS UNIQUE`)
		stmts = append(stmts, `CREATE INDEX ON :Asset(asset_id)`)
		for _, p := range indexed {
			stmts = append(stmts, fmt.Sprintf(`CREATE INDEX ON :Asset(%s)`, p))
		}
	default:
		stmts = append(stmts, `CREATE CONSTRAINT asset_id_unique IF NOT EXISTS FOR (a:Asset) REQUIRE a.asset_id IS UNIQUE`)
		for _, p := range indexed {
			stmts = append(stmts, fmt.Sprintf(`CREATE INDEX asset_%s_idx IF NOT EXISTS FOR (a:Asset) ON (a.%s)`, p, p))
		}
		stmts = append(stmts, `CREATE INDEX relationship_id_idx IF NOT EXISTS FOR ()-[r:RELATIONSHIP]-() ON (r.relationship_id)`)
	}
	return stmts
}

// provision runs the schema DDL in auto-commit transactions. Failures, such as
// an index that already exists, are logged and ignored.
func (c *Client) provision(ctx context.Context, d Dialect) {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range schemaStatements(d) {
		res, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			c.logger.Debug("schema statement skipped", "statement", stmt, "error", err)
		}
	}
}

func (c *Client) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: mode})
}

// read runs work in a managed read transaction on a fresh session
func read[T any](ctx context.Context, c *Client, work func(tx neo4j.ManagedTransaction) (T, error)) (T, error) {
	session := c.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	return neo4j.ExecuteRead(ctx, session, work)
}

// write runs work in a managed write transaction on a fresh session
func write[T any](ctx context.Context, c *Client, work func(tx neo4j.ManagedTransaction) (T, error)) (T, error) {
	session := c.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	return neo4j.ExecuteWrite(ctx, session, work)
}

// URI returns the server address
func (c *Client) URI() string {
	return c.uri
}

// Assets returns an asset store over this client
func (c *Client) Assets() *AssetStore {
	c.acquire()
	return &AssetStore{client: c, logger: c.logger.With("entity", "asset")}
}

// Relationships returns a relationship store over this client
func (c *Client) Relationships() *RelationshipStore {
	c.acquire()
	return &RelationshipStore{client: c, logger: c.logger.With("entity", "relationship")}
}

func (c *Client) acquire() {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
}

// release closes the driver once the last store lets go of it
func (c *Client) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refs == 0 {
		return nil
	}
	c.refs--
	if c.refs > 0 {
		return nil
	}
	return c.driver.Close(context.Background())
}

// Close closes the driver immediately
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = 0
	return c.driver.Close(ctx)
}

// IsConnectivityError reports whether err means the server could not be
// reached, as opposed to a query or constraint failure. Context expiry is
// not connectivity loss unless the driver itself reports it as such.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if neo4j.IsConnectivityError(err) {
		return true
	}
	var connErr *neo4j.ConnectivityError
	if errors.As(err, &connErr) {
		return true
	}
	// A caller's own deadline or cancellation says nothing about the server.
	// context.DeadlineExceeded also satisfies net.Error, so this goes first.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}
