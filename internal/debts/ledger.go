// Package debts keeps the shared debt ledger: lent and borrowed entries per
// counterparty and each counterparty's cached running balance.
//
// A person's CachedBalance is positive when the person owes the user,
// negative when the user owes the person and zero when settled. Every
// mutation changes the entry table and the balance under one lock, so a
// reader never sees one half without the other.
package debts

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"moneybook/internal/cache"
	"moneybook/internal/core"
)

// EntrySnapshot is an entry together with its insertion position.
type EntrySnapshot = cache.Entry[core.SharedEntry]

// Filter narrows List. Zero values mean "no constraint".
type Filter struct {
	From      core.Date
	To        core.Date
	Direction core.Direction
}

func (f *Filter) match(e core.SharedEntry) bool {
	if f == nil {
		return true
	}
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	if f.Direction != "" && e.Direction != f.Direction {
		return false
	}
	return true
}

type Ledger struct {
	mu       sync.RWMutex
	people   *cache.Ordered[core.Person]
	entries  *cache.Ordered[core.SharedEntry]
	identity core.IdentityProvider
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func New(identity core.IdentityProvider, opts ...Option) *Ledger {
	if identity == nil {
		identity = core.StaticIdentity("")
	}
	l := &Ledger{
		people:   cache.NewOrdered[core.Person](),
		entries:  cache.NewOrdered[core.SharedEntry](),
		identity: identity,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// EnsurePerson returns the person called displayName, creating it with a
// temporary id and a zero balance when no such person exists. Names match
// case-insensitively after trimming.
func (l *Ledger) EnsurePerson(displayName string) (core.Person, bool, error) {
	p := core.Person{DisplayName: strings.TrimSpace(displayName)}
	if err := p.Validate(); err != nil {
		return core.Person{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.findLocked(p.DisplayName); ok {
		return existing, false, nil
	}
	p.ID = core.NewTempID()
	p.UserID = l.identity.UserID()
	p.CachedBalance = decimal.Zero
	p.LastActivityAt = l.now()
	l.people.Set(p.ID, p)
	return p, true, nil
}

// FindPerson looks a person up by display name.
func (l *Ledger) FindPerson(displayName string) (core.Person, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.findLocked(displayName)
}

func (l *Ledger) findLocked(displayName string) (core.Person, bool) {
	want := normalizeName(displayName)
	for _, p := range l.people.Values() {
		if normalizeName(p.DisplayName) == want {
			return p, true
		}
	}
	return core.Person{}, false
}

func (l *Ledger) Person(id string) (core.Person, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.people.Get(id)
	if !ok {
		return core.Person{}, &core.NotFoundError{Kind: "person", ID: id}
	}
	return p, nil
}

// People returns every person, most recently active first.
func (l *Ledger) People() []core.Person {
	l.mu.RLock()
	out := l.people.Values()
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// DropPerson forgets a person that has no entries. It exists to undo the
// implicit creation done by EnsurePerson when the surrounding write fails.
func (l *Ledger) DropPerson(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.people.Get(id); !ok {
		return &core.NotFoundError{Kind: "person", ID: id}
	}
	for _, e := range l.entries.Values() {
		if e.CounterpartyID == id {
			return &core.ValidationError{Field: "person", Reason: "person " + id + " still has entries"}
		}
	}
	l.people.Delete(id)
	return nil
}

// SetPerson overwrites a person record as a whole, used to put back a
// previously captured state.
func (l *Ledger) SetPerson(p core.Person) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.people.Set(p.ID, p)
}

// Append is ApplyAndRebalance: an entry never lands without its balance change.
func (l *Ledger) Append(e core.SharedEntry) (string, error) {
	return l.ApplyAndRebalance(e)
}

// ApplyAndRebalance stores e and moves its counterparty's balance by +amount
// for lent or -amount for borrowed, as one unit.
func (l *Ledger) ApplyAndRebalance(e core.SharedEntry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.people.Get(e.CounterpartyID)
	if !ok {
		return "", &core.NotFoundError{Kind: "person", ID: e.CounterpartyID}
	}
	if e.ID == "" {
		e.ID = core.NewTempID()
	} else if _, exists := l.entries.Get(e.ID); exists {
		return "", &core.ValidationError{Field: "id", Reason: "duplicate entry id " + e.ID}
	}
	if e.UserID == "" {
		e.UserID = l.identity.UserID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}

	p.CachedBalance = p.CachedBalance.Add(e.Signed())
	if e.CreatedAt.After(p.LastActivityAt) {
		p.LastActivityAt = e.CreatedAt
	}
	l.entries.Set(e.ID, e)
	l.people.Set(p.ID, p)
	return e.ID, nil
}

// Remove deletes entry id and takes its signed amount back out of the
// counterparty's balance. Removing an id twice fails the second time.
func (l *Ledger) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Get(id)
	if !ok {
		return &core.NotFoundError{Kind: "shared entry", ID: id}
	}
	p, ok := l.people.Get(e.CounterpartyID)
	if !ok {
		return &core.NotFoundError{Kind: "person", ID: e.CounterpartyID}
	}
	p.CachedBalance = p.CachedBalance.Sub(e.Signed())
	p.LastActivityAt = l.now()
	l.entries.Delete(id)
	l.people.Set(p.ID, p)
	return nil
}

// Revert undoes an ApplyAndRebalance: the entry is dropped and its person is
// reset to prior.
func (l *Ledger) Revert(entryID string, prior core.Person) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Delete(entryID)
	l.people.Set(prior.ID, prior)
}

// Restore undoes a Remove: the entry goes back to its original position and
// its person is reset to prior.
func (l *Ledger) Restore(s EntrySnapshot, prior core.Person) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Restore(s)
	l.people.Set(prior.ID, prior)
}

func (l *Ledger) GetByID(id string) (core.SharedEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries.Get(id)
	if !ok {
		return core.SharedEntry{}, &core.NotFoundError{Kind: "shared entry", ID: id}
	}
	return e, nil
}

// Snapshot captures entry id and its position so a removal can be undone.
func (l *Ledger) Snapshot(id string) (EntrySnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.entries.Lookup(id)
	if !ok {
		return EntrySnapshot{}, &core.NotFoundError{Kind: "shared entry", ID: id}
	}
	return s, nil
}

// List returns the entries of personID newest first by CreatedAt. An empty
// personID lists every counterparty.
func (l *Ledger) List(personID string, f *Filter) []core.SharedEntry {
	l.mu.RLock()
	all := l.entries.Entries()
	l.mu.RUnlock()

	out := make([]EntrySnapshot, 0, len(all))
	for _, s := range all {
		if personID != "" && s.Data.CounterpartyID != personID {
			continue
		}
		if f.match(s.Data) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Data.CreatedAt, out[j].Data.CreatedAt
		if !ci.Equal(cj) {
			return ci.After(cj)
		}
		return out[i].Seq > out[j].Seq
	})

	entries := make([]core.SharedEntry, len(out))
	for i, s := range out {
		entries[i] = s.Data
	}
	return entries
}

// Balance sums the ledger of personID without touching the cached value.
func (l *Ledger) Balance(personID string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sumLocked(personID)
}

func (l *Ledger) sumLocked(personID string) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range l.entries.Values() {
		if e.CounterpartyID == personID {
			sum = sum.Add(e.Signed())
		}
	}
	return sum
}

// Reconcile recomputes the balance of personID from its entries and
// overwrites the cached value. When the cached value was wrong the corrected
// person is returned together with a *core.DriftError. Running it again
// right after yields the same balance and no error.
func (l *Ledger) Reconcile(personID string) (core.Person, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.people.Get(personID)
	if !ok {
		return core.Person{}, &core.NotFoundError{Kind: "person", ID: personID}
	}
	actual := l.sumLocked(personID)
	if p.CachedBalance.Equal(actual) {
		return p, nil
	}

	drift := &core.DriftError{PersonID: personID, Cached: p.CachedBalance, Actual: actual}
	l.logger.Warn("Balance drift corrected",
		"person_id", personID,
		"cached", p.CachedBalance.String(),
		"actual", actual.String())
	p.CachedBalance = actual
	l.people.Set(p.ID, p)
	return p, drift
}

// ReconcileAll reconciles every person and returns the drift errors found.
func (l *Ledger) ReconcileAll() []error {
	l.mu.RLock()
	ids := make([]string, 0, l.people.Size())
	for _, p := range l.people.Values() {
		ids = append(ids, p.ID)
	}
	l.mu.RUnlock()

	var drifts []error
	for _, id := range ids {
		if _, err := l.Reconcile(id); err != nil {
			drifts = append(drifts, err)
		}
	}
	return drifts
}

// RekeyEntry replaces a temporary entry id with the remote one.
func (l *Ledger) RekeyEntry(oldID, newID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries.Get(oldID)
	if !ok {
		return &core.NotFoundError{Kind: "shared entry", ID: oldID}
	}
	if !l.entries.Rename(oldID, newID) {
		return &core.ValidationError{Field: "id", Reason: "duplicate entry id " + newID}
	}
	e.ID = newID
	l.entries.Set(newID, e)
	return nil
}

// RekeyPerson replaces a temporary person id with the remote one, including
// the counterparty reference held by each of its entries.
func (l *Ledger) RekeyPerson(oldID, newID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.people.Get(oldID)
	if !ok {
		return &core.NotFoundError{Kind: "person", ID: oldID}
	}
	if !l.people.Rename(oldID, newID) {
		return &core.ValidationError{Field: "id", Reason: "duplicate person id " + newID}
	}
	p.ID = newID
	l.people.Set(newID, p)

	for _, e := range l.entries.Values() {
		if e.CounterpartyID == oldID {
			e.CounterpartyID = newID
			l.entries.Set(e.ID, e)
		}
	}
	return nil
}

// Load replaces all people and entries, typically with records read from
// the remote store. Cached balances are taken as stored; call ReconcileAll
// to check them against the entries.
func (l *Ledger) Load(people []core.Person, entries []core.SharedEntry) error {
	known := make(map[string]bool, len(people))
	for _, p := range people {
		if err := p.Validate(); err != nil {
			return err
		}
		if p.ID == "" {
			return &core.ValidationError{Field: "id", Reason: "missing person id"}
		}
		known[p.ID] = true
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if e.ID == "" {
			return &core.ValidationError{Field: "id", Reason: "missing entry id"}
		}
		if !known[e.CounterpartyID] {
			return &core.NotFoundError{Kind: "person", ID: e.CounterpartyID}
		}
	}

	sortedEntries := make([]core.SharedEntry, len(entries))
	copy(sortedEntries, entries)
	sort.SliceStable(sortedEntries, func(i, j int) bool {
		return sortedEntries[i].CreatedAt.Before(sortedEntries[j].CreatedAt)
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.people.Clear()
	l.entries.Clear()
	for _, p := range people {
		l.people.Set(p.ID, p)
	}
	for _, e := range sortedEntries {
		l.entries.Set(e.ID, e)
	}
	return nil
}
