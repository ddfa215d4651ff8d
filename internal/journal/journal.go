// Package journal keeps an append-only PostgreSQL log of council decisions.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nidhogg/aegis-council/internal/orchestrator"
	"go.uber.org/zap"
)

// writeTimeout bounds a single journal insert.
const writeTimeout = 5 * time.Second

// Journal wraps a PostgreSQL connection pool.
type Journal struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// Open creates a Journal with a pgx connection pool.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("decision journal connected")
	return &Journal{db: pool, logger: logger}, nil
}

// migrationFiles lists the .up.sql files in dir in apply order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate executes every .up.sql file in dir, in name order.
func (j *Journal) Migrate(ctx context.Context, dir string) error {
	files, err := migrationFiles(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := j.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		j.logger.Info("migration applied", zap.String("file", f))
	}
	return nil
}

// Close shuts down the connection pool.
func (j *Journal) Close() {
	j.db.Close()
}

// StreamDecided implements orchestrator.Sink. Write failures are logged.
func (j *Journal) StreamDecided(ctx context.Context, d *orchestrator.Decision) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := j.RecordStream(ctx, d); err != nil {
		j.logger.Error("journal stream decision", zap.String("topic", d.Topic), zap.Error(err))
	}
}

// FraudDecided implements orchestrator.Sink. Write failures are logged.
func (j *Journal) FraudDecided(ctx context.Context, d *orchestrator.FraudDecision) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := j.RecordFraud(ctx, d); err != nil {
		j.logger.Error("journal fraud decision", zap.String("card", d.CardID), zap.Error(err))
	}
}
