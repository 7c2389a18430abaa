package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Executor issues Cypher statements against the graph store. Each call is its
// own transaction, so a failing statement never rolls back a preceding one.
type Executor interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// Config holds graph store connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store is the Neo4j-backed Executor.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
	config Config
}

// NewStore creates a Neo4j driver and verifies connectivity.
func NewStore(config Config, logger *zap.Logger) (*Store, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("store URI is required")
	}
	if config.Password == "" {
		return nil, fmt.Errorf("store password is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := neo4j.NewDriverWithContext(
		config.URI,
		neo4j.BasicAuth(config.Username, config.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	return &Store{
		driver: driver,
		logger: logger,
		config: config,
	}, nil
}

// Close closes the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Write runs a single statement in its own write transaction.
func (s *Store) Write(ctx context.Context, cypher string, params map[string]any) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.config.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, params)
		return nil, err
	})
	return err
}

// Read runs a query in a read transaction and returns one map per record.
func (s *Store) Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.config.Database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		var records []map[string]any
		for result.Next(ctx) {
			records = append(records, result.Record().AsMap())
		}
		if err := result.Err(); err != nil {
			return nil, err
		}
		return records, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	records, _ := rows.([]map[string]any)
	return records, nil
}

// InitSchema creates uniqueness constraints and indexes. Individual failures
// are logged and skipped since constraints may already exist.
func (s *Store) InitSchema(ctx context.Context) error {
	queries := []string{
		"CREATE CONSTRAINT IF NOT EXISTS FOR (n:Node) REQUIRE n.name IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (ns:Namespace) REQUIRE ns.name IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (p:Pod) REQUIRE p.name IS UNIQUE",
		"CREATE CONSTRAINT IF NOT EXISTS FOR (d:Deployment) REQUIRE d.name IS UNIQUE",

		"CREATE INDEX IF NOT EXISTS FOR (p:Pod) ON (p.pod_ip)",
		"CREATE INDEX IF NOT EXISTS FOR (p:Pod) ON (p.labels)",
	}

	for _, query := range queries {
		if err := s.Write(ctx, query, nil); err != nil {
			s.logger.Warn("Failed to create constraint/index",
				zap.String("query", query),
				zap.Error(err))
		}
	}
	return nil
}
