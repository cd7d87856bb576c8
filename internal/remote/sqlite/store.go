// Package sqlite is a remote.Store on a SQLite file. Each table keeps the
// record as a JSON payload next to the columns used for filtering.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"moneybook/internal/log"
	"moneybook/internal/remote"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

var _ remote.Store = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
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
	payload, err := encodePayload(rec)
	if err != nil {
		return "", err
	}

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (user_id, created_at, payload) VALUES (?, ?, ?)", table),
		rec.String(remote.FieldUserID), rec.String(remote.FieldCreatedAt), payload)
	if err != nil {
		return "", fmt.Errorf("insert into %s: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("read inserted id: %w", err)
	}

	slog.DebugContext(ctx, "Record saved to SQLite",
		log.FieldComponent, log.ComponentStorage,
		log.FieldTable, table,
		"id", id)
	return strconv.FormatInt(id, 10), nil
}

func (s *Store) Update(ctx context.Context, table, id string, patch remote.Record) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, fmt.Sprintf("SELECT payload FROM %s WHERE id = ?", table), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", table, id, err)
	}

	rec, err := decodePayload(raw)
	if err != nil {
		return err
	}
	rec.Merge(patch)
	payload, err := encodePayload(rec)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET user_id = ?, created_at = ?, payload = ? WHERE id = ?", table),
		rec.String(remote.FieldUserID), rec.String(remote.FieldCreatedAt), payload, id)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", table, id, err)
	}
	return tx.Commit()
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, table string, f remote.Filter) ([]remote.Record, error) {
	if err := remote.CheckTable(table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT id, payload FROM %s WHERE (? = '' OR user_id = ?) ORDER BY created_at, id", table),
		f.UserID, f.UserID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var recs []remote.Record
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		rec[remote.FieldID] = strconv.FormatInt(id, 10)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return f.Apply(recs), nil
}

func encodePayload(rec remote.Record) (string, error) {
	b, err := json.Marshal(remote.ForInsert(rec))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func decodePayload(raw string) (remote.Record, error) {
	var rec remote.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if rec == nil {
		rec = remote.Record{}
	}
	return rec, nil
}
