package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
)

const postgresBackend = "postgres"

// PostgresStore keeps tenants and orders in the tables created by migrations/0001_init.
// Appends run inside one transaction each and are serialised like the file backend.
type PostgresStore struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewPostgresStore wraps an open pool. Schema migrations must already be applied.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type tenantRow struct {
	ID    int64  `db:"id"`
	Owner string `db:"owner_line_id"`
	Attrs []byte `db:"attrs"`
}

func (r tenantRow) tenant() (Tenant, error) {
	t, err := ParseTenant(r.Attrs)
	if err != nil {
		return Tenant{}, fmt.Errorf("store: tenant %d: %w", r.ID, err)
	}
	if t.OwnerLineID == "" {
		t.OwnerLineID = r.Owner
	}
	return t, nil
}

// Load verifies the connection and logs the current record counts.
func (s *PostgresStore) Load(ctx context.Context) error {
	start := time.Now()
	var counts struct {
		Orders  int `db:"orders"`
		Tenants int `db:"tenants"`
	}
	const q = `SELECT (SELECT count(*) FROM orders) AS orders, (SELECT count(*) FROM tenants) AS tenants`
	if err := s.db.GetContext(ctx, &counts, q); err != nil {
		return fmt.Errorf("store: load: %w", err)
	}
	logger.Store.InfoContext(ctx, "store loaded",
		slog.String("event", "store.load"),
		slog.String("backend", postgresBackend),
		slog.Int("count", counts.Orders),
		slog.Int("tenants", counts.Tenants),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// AppendOrder validates o and inserts it.
func (s *PostgresStore) AppendOrder(ctx context.Context, o Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	const q = `INSERT INTO orders (order_id, user_id, stock, number, amount, status, platform, created_at)
		VALUES (:order_id, :user_id, :stock, :number, :amount, :status, :platform, :created_at)`
	return s.inTx(ctx, "order", func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx, q, o)
		return err
	})
}

// AppendTenant inserts t keeping every attribute in the attrs document.
func (s *PostgresStore) AppendTenant(ctx context.Context, t Tenant) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("store: encode tenant: %w", err)
	}
	const q = `INSERT INTO tenants (owner_line_id, attrs) VALUES ($1, $2)`
	return s.inTx(ctx, "tenant", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q, t.OwnerLineID, doc)
		return err
	})
}

func (s *PostgresStore) inTx(ctx context.Context, kind string, fn func(*sqlx.Tx) error) (err error) {
	start := time.Now()
	defer func() { metrics.StoreWrite(postgresBackend, kind, err, time.Since(start)) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		logger.Store.ErrorContext(ctx, "store insert failed",
			slog.String("event", "store.flush"),
			slog.String("backend", postgresBackend),
			slog.String("kind", kind),
			slog.String("err", logger.ErrAttr(err)),
		)
		return fmt.Errorf("store: insert %s: %w", kind, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Orders returns all orders in insertion order.
func (s *PostgresStore) Orders(ctx context.Context) ([]Order, error) {
	const q = `SELECT order_id, user_id, stock, number, amount, status, platform, created_at FROM orders ORDER BY seq`
	out := []Order{}
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("store: orders: %w", err)
	}
	return out, nil
}

// Tenants returns all tenants in insertion order.
func (s *PostgresStore) Tenants(ctx context.Context) ([]Tenant, error) {
	var rows []tenantRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, owner_line_id, attrs FROM tenants ORDER BY id`); err != nil {
		return nil, fmt.Errorf("store: tenants: %w", err)
	}
	out := make([]Tenant, 0, len(rows))
	for _, r := range rows {
		t, err := r.tenant()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// TenantByOwner returns the oldest tenant owned by ownerID.
func (s *PostgresStore) TenantByOwner(ctx context.Context, ownerID string) (Tenant, error) {
	if ownerID == "" {
		return Tenant{}, ErrNotFound
	}
	var row tenantRow
	const q = `SELECT id, owner_line_id, attrs FROM tenants WHERE owner_line_id = $1 ORDER BY id LIMIT 1`
	if err := s.db.GetContext(ctx, &row, q, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, fmt.Errorf("store: tenant by owner: %w", err)
	}
	return row.tenant()
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
