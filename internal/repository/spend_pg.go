package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// PostgresSpendStore persists per-sub-account spending windows.
type PostgresSpendStore struct {
	db *sqlx.DB
}

func NewPostgresSpendStore(db *sqlx.DB) *PostgresSpendStore {
	store := &PostgresSpendStore{db: db}
	_ = store.ensureSchema(context.Background())
	return store
}

func (s *PostgresSpendStore) Get(ctx context.Context, subAccount string) (time.Time, decimal.Decimal, bool, error) {
	var windowStart time.Time
	var spent decimal.Decimal
	query := `SELECT window_start, spent FROM spend_windows WHERE sub_account = $1`

	err := s.db.QueryRowxContext(ctx, query, subAccount).Scan(&windowStart, &spent)
	if err != nil {
		// no window yet
		return time.Time{}, decimal.Zero, false, nil
	}
	return windowStart, spent, true, nil
}

// Set 原子覆写子账户的当前窗口 (Upsert)
func (s *PostgresSpendStore) Set(ctx context.Context, subAccount string, windowStart time.Time, spent decimal.Decimal) error {
	query := `
		INSERT INTO spend_windows (sub_account, window_start, spent)
		VALUES ($1, $2, $3)
		ON CONFLICT (sub_account)
		DO UPDATE SET window_start = $2, spent = $3
	`
	_, err := s.db.ExecContext(ctx, query, subAccount, windowStart, spent)
	return err
}

func (s *PostgresSpendStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS spend_windows (
			sub_account TEXT PRIMARY KEY,
			window_start TIMESTAMPTZ NOT NULL,
			spent NUMERIC NOT NULL DEFAULT 0
		)
	`)
	return err
}
