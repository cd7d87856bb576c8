// Package postgres is a remote.Store on PostgreSQL, reached through pgx.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"moneybook/internal/remote"
)

const tableSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_user_created ON %[1]s (user_id, created_at);
`

type Store struct {
	db *sql.DB
}

var _ remote.Store = (*Store)(nil)

// NormalizeURL rewrites postgresql:// to postgres:// and defaults sslmode
// to disable when the URL does not set it.
func NormalizeURL(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "postgresql://") {
		databaseURL = "postgres://" + strings.TrimPrefix(databaseURL, "postgresql://")
	}
	if databaseURL != "" && !strings.Contains(databaseURL, "sslmode=") {
		separator := "?"
		if strings.Contains(databaseURL, "?") {
			separator = "&"
		}
		databaseURL += separator + "sslmode=disable"
	}
	return databaseURL
}

// New connects to databaseURL and creates the ledger tables if missing.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	config, err := pgx.ParseConfig(NormalizeURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	db := stdlib.OpenDB(*config)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	for _, table := range remote.Tables {
		if _, err := db.ExecContext(ctx, fmt.Sprintf(tableSchema, table)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table %s: %w", table, err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, table string, rec remote.Record) (string, error) {
	if err := remote.CheckTable(table); err != nil {
		return "", err
	}
	payload, err := json.Marshal(remote.ForInsert(rec))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf("INSERT INTO %s (user_id, created_at, payload) VALUES ($1, $2, $3) RETURNING id", table),
		rec.String(remote.FieldUserID), rec.String(remote.FieldCreatedAt), string(payload)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", table, err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) Update(ctx context.Context, table, id string, patch remote.Record) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	body := remote.Record{}
	body.Merge(patch)
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	// jsonb || merges the patch into the stored object in one statement.
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET
			payload = payload || $1::jsonb,
			user_id = COALESCE((payload || $1::jsonb)->>'user_id', ''),
			created_at = COALESCE((payload || $1::jsonb)->>'created_at', '')
		WHERE id = $2`, table), string(payload), n)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), n)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, table string, f remote.Filter) ([]remote.Record, error) {
	if err := remote.CheckTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, payload FROM %s WHERE ($1 = '' OR user_id = $1) ORDER BY created_at, id", table),
		f.UserID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var recs []remote.Record
	for rows.Next() {
		var (
			id  int64
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec := remote.Record{}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		rec[remote.FieldID] = strconv.FormatInt(id, 10)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return f.Apply(recs), nil
}
