package graphdb

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/wegman-software/osmriver/internal/config"
)

// Runner executes Cypher against a graph store
type Runner interface {
	// Write runs cypher in a write transaction and returns the "count" column
	// of its single record. When check returns an error the transaction is
	// rolled back and that error is returned.
	Write(ctx context.Context, cypher string, params map[string]any, check func(count int64) error) (int64, error)
	// Exec runs a schema statement that returns no records
	Exec(ctx context.Context, cypher string) error
}

// DriverRunner implements Runner on the Neo4j Bolt driver
type DriverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// Connect opens a driver for the configured Neo4j instance and verifies it
func Connect(ctx context.Context, cfg *config.Config) (*DriverRunner, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &DriverRunner{driver: driver, database: cfg.Neo4jDatabase}, nil
}

// Close closes the driver
func (r *DriverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

func (r *DriverRunner) session(ctx context.Context) neo4j.SessionWithContext {
	return r.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: r.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
}

// Write implements Runner
func (r *DriverRunner) Write(ctx context.Context, cypher string, params map[string]any, check func(int64) error) (int64, error) {
	session := r.session(ctx)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, ok := rec.Get("count")
		if !ok {
			return nil, fmt.Errorf("query returned no count column")
		}
		count, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("unexpected count type %T", v)
		}
		if check != nil {
			if err := check(count); err != nil {
				return nil, err
			}
		}
		return count, nil
	})
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// Exec implements Runner
func (r *DriverRunner) Exec(ctx context.Context, cypher string) error {
	session := r.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, cypher, nil)
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}
