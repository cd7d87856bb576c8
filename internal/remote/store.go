// Package remote defines the narrow contract the ledger needs from a
// persistent store, plus the codec that turns stored records into typed
// entities.
package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	TableTransactions  = "transactions"
	TableSharedEntries = "shared_entries"
	TablePeople        = "people"
)

// Tables lists every table the ledger writes to.
var Tables = []string{TableTransactions, TableSharedEntries, TablePeople}

// ErrNotFound is returned by Update and Delete for an unknown id.
var ErrNotFound = errors.New("record not found")

type (
	// Record is a loosely typed stored row. Values are strings, numbers,
	// booleans or nil, so that any JSON-capable store can hold them.
	Record map[string]any

	// Filter narrows a Query. Zero values mean "no constraint".
	Filter struct {
		UserID  string
		Field   string
		Equals  string
		OrderBy string
		Desc    bool
		Limit   int
	}

	// Store is the remote persistence contract. Every call may block on
	// I/O and must honour ctx.
	Store interface {
		Insert(ctx context.Context, table string, rec Record) (id string, err error)
		Update(ctx context.Context, table, id string, patch Record) error
		Delete(ctx context.Context, table, id string) error
		Query(ctx context.Context, table string, f Filter) ([]Record, error)
	}
)

// ValidTable reports whether table is one of Tables.
func ValidTable(table string) bool {
	for _, t := range Tables {
		if t == table {
			return true
		}
	}
	return false
}

func CheckTable(table string) error {
	if !ValidTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	return nil
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge writes every field of patch into r except the id.
func (r Record) Merge(patch Record) {
	for k, v := range patch {
		if k == FieldID {
			continue
		}
		r[k] = v
	}
}

func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// Match reports whether r satisfies the equality parts of f.
func (f Filter) Match(r Record) bool {
	if f.UserID != "" && r.String(FieldUserID) != f.UserID {
		return false
	}
	if f.Field != "" && r.String(f.Field) != f.Equals {
		return false
	}
	return true
}

// Apply filters, orders and limits recs the way a Query is expected to.
// Stores that cannot push a Filter down to their backend use it as-is.
func (f Filter) Apply(recs []Record) []Record {
	out := make([]Record, 0, len(recs))
	for _, r := range recs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	orderBy := f.OrderBy
	if orderBy == "" {
		orderBy = FieldCreatedAt
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := strings.Compare(out[i].String(orderBy), out[j].String(orderBy))
		if f.Desc {
			return c > 0
		}
		return c < 0
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}
