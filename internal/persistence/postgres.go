package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cryptoview/gateway/internal/domain"
)

// PostgresStore is the optional cold store for long-term order history.
// A nil store is valid and every method becomes a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, poolSize int, logger *slog.Logger) (*PostgresStore, error) {
	if dsn == "" {
		logger.Warn("no PostgreSQL DSN configured, cold store disabled")
		return nil, nil
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg config: %w", err)
	}

	config.MaxConns = int32(poolSize)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			venue VARCHAR(32) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			side VARCHAR(4) NOT NULL,
			order_type VARCHAR(8) NOT NULL,
			price NUMERIC(20, 8),
			quantity NUMERIC(20, 8) NOT NULL,
			filled_quantity NUMERIC(20, 8) NOT NULL DEFAULT 0,
			status VARCHAR(16) NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS auth_audit (
			id BIGSERIAL PRIMARY KEY,
			event VARCHAR(32) NOT NULL,
			detail TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	s.logger.Info("PostgreSQL migrations completed")
	return nil
}

func (s *PostgresStore) WriteOrder(ctx context.Context, res *domain.OrderResult) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders
			(id, venue, symbol, side, order_type, price, quantity, filled_quantity, status, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			filled_quantity = EXCLUDED.filled_quantity,
			status = EXCLUDED.status`,
		res.OrderID, res.Venue, res.Symbol, string(res.Side), string(res.Type),
		res.Price, res.Quantity, res.FilledQty, string(res.Status), res.SubmittedAt,
	)
	return err
}

func (s *PostgresStore) WriteAuthEvent(ctx context.Context, event, detail string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO auth_audit (event, detail) VALUES ($1, $2)",
		event, detail,
	)
	return err
}

func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
