// Package txlog keeps the personal transaction log: the local, in-memory
// source of truth for income and expense entries.
package txlog

import (
	"sort"
	"sync"
	"time"

	"moneybook/internal/cache"
	"moneybook/internal/core"
)

// Snapshot is a transaction together with its insertion position.
type Snapshot = cache.Entry[core.Transaction]

// Filter narrows List. Zero values mean "no constraint".
type Filter struct {
	From core.Date // inclusive
	To   core.Date // inclusive
	Kind core.Kind
}

func (f *Filter) match(tx core.Transaction) bool {
	if f == nil {
		return true
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To) {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	return true
}

// Log is safe for concurrent use. Readers never wait on remote I/O.
type Log struct {
	mu       sync.RWMutex
	entries  *cache.Ordered[core.Transaction]
	identity core.IdentityProvider
	now      func() time.Time
}

type Option func(*Log)

// WithClock overrides time.Now, used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func New(identity core.IdentityProvider, opts ...Option) *Log {
	if identity == nil {
		identity = core.StaticIdentity("")
	}
	l := &Log{
		entries:  cache.NewOrdered[core.Transaction](),
		identity: identity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append validates tx and adds it to the log. A missing id is replaced by a
// temporary one, a zero CreatedAt by the current time.
func (l *Log) Append(tx core.Transaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if tx.ID == "" {
		tx.ID = core.NewTempID()
	} else if _, exists := l.entries.Get(tx.ID); exists {
		return "", &core.ValidationError{Field: "id", Reason: "duplicate transaction id " + tx.ID}
	}
	if tx.UserID == "" {
		tx.UserID = l.identity.UserID()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.now()
	}
	l.entries.Set(tx.ID, tx)
	return tx.ID, nil
}

// Remove deletes id. Removing an id twice fails the second time.
func (l *Log) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries.Get(id); !ok {
		return &core.NotFoundError{Kind: "transaction", ID: id}
	}
	l.entries.Delete(id)
	return nil
}

// Replace overwrites the editable fields of id in place. The id, owner,
// CreatedAt and list position are kept. The previous value is returned.
func (l *Log) Replace(id string, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev, ok := l.entries.Get(id)
	if !ok {
		return core.Transaction{}, &core.NotFoundError{Kind: "transaction", ID: id}
	}
	tx.ID = prev.ID
	tx.UserID = prev.UserID
	tx.CreatedAt = prev.CreatedAt
	l.entries.Set(id, tx)
	return prev, nil
}

func (l *Log) GetByID(id string) (core.Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	tx, ok := l.entries.Get(id)
	if !ok {
		return core.Transaction{}, &core.NotFoundError{Kind: "transaction", ID: id}
	}
	return tx, nil
}

// Snapshot captures id and its position so a removal can be undone.
func (l *Log) Snapshot(id string) (Snapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.entries.Lookup(id)
	if !ok {
		return Snapshot{}, &core.NotFoundError{Kind: "transaction", ID: id}
	}
	return s, nil
}

// Restore puts a snapshot back at its original position, replacing any
// current value stored under the same id.
func (l *Log) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Restore(s)
}

// Rekey replaces a temporary id with the one assigned by the remote store.
func (l *Log) Rekey(oldID, newID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, ok := l.entries.Get(oldID)
	if !ok {
		return &core.NotFoundError{Kind: "transaction", ID: oldID}
	}
	if !l.entries.Rename(oldID, newID) {
		return &core.ValidationError{Field: "id", Reason: "duplicate transaction id " + newID}
	}
	tx.ID = newID
	l.entries.Set(newID, tx)
	return nil
}

// Load replaces the whole log, typically with records read from the remote
// store. Entries are inserted oldest first.
func (l *Log) Load(txs []core.Transaction) error {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return err
		}
		if tx.ID == "" {
			return &core.ValidationError{Field: "id", Reason: "missing transaction id"}
		}
	}
	sorted := make([]core.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Clear()
	for _, tx := range sorted {
		l.entries.Set(tx.ID, tx)
	}
	return nil
}

// List returns matching entries newest first by CreatedAt. Entries created at
// the same instant are ordered by reverse insertion.
func (l *Log) List(f *Filter) []core.Transaction {
	l.mu.RLock()
	all := l.entries.Entries()
	l.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, e := range all {
		if f.match(e.Data) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Data.CreatedAt, out[j].Data.CreatedAt
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return out[i].Seq > out[j].Seq
	})

	txs := make([]core.Transaction, len(out))
	for i, e := range out {
		txs[i] = e.Data
	}
	return txs
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Size()
}
