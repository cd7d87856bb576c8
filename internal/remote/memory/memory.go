// Package memory is an in-process remote.Store. With a file path it also
// keeps a JSON copy on disk so that separate CLI runs share data.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"moneybook/internal/remote"
)

// Op names a Store method, used for failure injection.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpQuery  Op = "query"
)

type Store struct {
	mu     sync.Mutex
	tables map[string][]remote.Record
	path   string

	failures map[Op][]error
	delay    time.Duration
	calls    map[Op]int
}

var _ remote.Store = (*Store)(nil)

func New() *Store {
	s := &Store{
		tables:   make(map[string][]remote.Record),
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
	}
	for _, t := range remote.Tables {
		s.tables[t] = nil
	}
	return s
}

// NewFromFile loads path when it exists and writes it back after every change.
func NewFromFile(path string) (*Store, error) {
	s := New()
	s.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var tables map[string][]remote.Record
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for t, recs := range tables {
		if remote.ValidTable(t) {
			s.tables[t] = recs
		}
	}
	return s, nil
}

// FailNext makes the next call to op return err. Calls queue up.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// SetDelay makes every call wait d (or until ctx is done) before running.
func (s *Store) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// begin accounts for the call, applies the configured delay and any
// injected failure. It must be called without holding mu.
func (s *Store) begin(ctx context.Context, op Op, table string) error {
	s.mu.Lock()
	s.calls[op]++
	delay := s.delay
	var injected error
	if q := s.failures[op]; len(q) > 0 {
		injected, s.failures[op] = q[0], q[1:]
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if injected != nil {
		return injected
	}
	return remote.CheckTable(table)
}

func (s *Store) Insert(ctx context.Context, table string, rec remote.Record) (string, error) {
	if err := s.begin(ctx, OpInsert, table); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := rec.Clone()
	id := uuid.NewString()
	stored[remote.FieldID] = id
	s.tables[table] = append(s.tables[table], stored)
	if err := s.persistLocked(); err != nil {
		s.tables[table] = s.tables[table][:len(s.tables[table])-1]
		return "", err
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, table, id string, patch remote.Record) error {
	if err := s.begin(ctx, OpUpdate, table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(table, id)
	if i < 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	prev := s.tables[table][i].Clone()
	s.tables[table][i].Merge(patch)
	if err := s.persistLocked(); err != nil {
		s.tables[table][i] = prev
		return err
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.begin(ctx, OpDelete, table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(table, id)
	if i < 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	recs := s.tables[table]
	s.tables[table] = append(recs[:i:i], recs[i+1:]...)
	if err := s.persistLocked(); err != nil {
		s.tables[table] = recs
		return err
	}
	return nil
}

func (s *Store) Query(ctx context.Context, table string, f remote.Filter) ([]remote.Record, error) {
	if err := s.begin(ctx, OpQuery, table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	recs := make([]remote.Record, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		recs = append(recs, r.Clone())
	}
	s.mu.Unlock()
	return f.Apply(recs), nil
}

// Len returns the number of records in table.
func (s *Store) Len(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func (s *Store) indexLocked(table, id string) int {
	for i, r := range s.tables[table] {
		if r.String(remote.FieldID) == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(s.tables, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	return os.Rename(tmp, s.path)
}
