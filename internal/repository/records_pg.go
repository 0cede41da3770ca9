package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/vaultgate/vaultgate/internal/model"
)

type PostgresRecordRepo struct {
	db *sqlx.DB
}

func NewPostgresRecordRepo(db *sqlx.DB) *PostgresRecordRepo {
	repo := &PostgresRecordRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *PostgresRecordRepo) Insert(ctx context.Context, rec *model.ExecutionRecord) error {
	if rec == nil {
		return nil
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO execution_records (id, kind, sub_account, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Kind, rec.SubAccount, body, rec.CreatedAt)
	return err
}

func (r *PostgresRecordRepo) List(ctx context.Context, subAccount, kind string, limit int) ([]*model.ExecutionRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT body FROM execution_records`
	clauses := []string{}
	args := []interface{}{}
	idx := 1

	if subAccount != "" {
		clauses = append(clauses, fmt.Sprintf("sub_account = $%d", idx))
		args = append(args, subAccount)
		idx++
	}
	if kind != "" {
		clauses = append(clauses, fmt.Sprintf("kind = $%d", idx))
		args = append(args, kind)
		idx++
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*model.ExecutionRecord, 0, limit)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec model.ExecutionRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, err
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (r *PostgresRecordRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS execution_records (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			sub_account TEXT,
			body JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_execution_records_sub ON execution_records(sub_account, created_at DESC)`)
	return nil
}

func (r *PostgresRecordRepo) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	_, err := r.db.ExecContext(ctx, `DELETE FROM execution_records WHERE created_at < $1`, cutoff)
	return err
}
