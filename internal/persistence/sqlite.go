package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cryptoview/gateway/internal/domain"
)

// SQLiteStore is the local hot store: an order log for the dashboard's
// history views and an audit trail of authorization events.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS order_log (
			id TEXT PRIMARY KEY,
			venue TEXT NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			price TEXT NOT NULL,
			quantity TEXT NOT NULL,
			status TEXT NOT NULL,
			submitted_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS auth_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			detail TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) WriteOrder(res *domain.OrderResult) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO order_log
			(id, venue, symbol, side, order_type, price, quantity, status, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.OrderID, res.Venue, res.Symbol, string(res.Side), string(res.Type),
		res.Price.String(), res.Quantity.String(), string(res.Status), res.SubmittedAt,
	)
	return err
}

func (s *SQLiteStore) WriteAuthEvent(event, detail string) error {
	_, err := s.db.Exec(
		"INSERT INTO auth_audit (event, detail) VALUES (?, ?)",
		event, detail,
	)
	return err
}

// RecentOrders returns the newest entries from the order log.
func (s *SQLiteStore) RecentOrders(limit int) ([]domain.Order, error) {
	rows, err := s.db.Query(
		`SELECT id, venue, symbol, side, order_type, price, quantity, status, submitted_at
		 FROM order_log ORDER BY submitted_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var (
			o           domain.Order
			price, qty  string
			side, otype string
			status      string
		)
		if err := rows.Scan(&o.OrderID, &o.Venue, &o.Symbol, &side, &otype, &price, &qty, &status, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(otype)
		o.Status = domain.OrderStatus(status)
		if o.Price, err = domain.ParseDecimal(price); err != nil {
			return nil, fmt.Errorf("corrupt price in order log: %w", err)
		}
		if o.Quantity, err = domain.ParseDecimal(qty); err != nil {
			return nil, fmt.Errorf("corrupt quantity in order log: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) CleanupOldOrders(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	_, err := s.db.Exec(
		"DELETE FROM order_log WHERE created_at < ?",
		cutoff,
	)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
