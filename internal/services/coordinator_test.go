package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"moneybook/internal/amqp"
	"moneybook/internal/core"
	"moneybook/internal/debts"
	"moneybook/internal/log"
	"moneybook/internal/metrics"
	"moneybook/internal/remote"
	"moneybook/internal/remote/memory"
	"moneybook/internal/txlog"
)

const testUser = "user-1"

var errRejected = errors.New("rejected by store")

type fixture struct {
	store       *memory.Store
	coord       *Coordinator
	metrics     *metrics.Sync
	publisher   *fakePublisher
	mu          sync.Mutex
	transitions []Transition
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*amqp.SyncEvent
}

func (p *fakePublisher) PublishSyncEvent(_ context.Context, ev *amqp.SyncEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) all() []*amqp.SyncEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.SyncEvent(nil), p.events...)
}

// tickingClock returns a clock that advances one second per call.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	identity := core.StaticIdentity(testUser)
	clock := tickingClock()
	f := &fixture{
		store:     memory.New(),
		metrics:   metrics.NewSync(nil),
		publisher: &fakePublisher{},
	}
	f.coord = NewCoordinator(
		f.store,
		txlog.New(identity, txlog.WithClock(clock)),
		debts.New(identity, debts.WithClock(clock)),
		identity,
		CoordinatorConfig{RemoteTimeout: timeout},
		WithMetrics(f.metrics),
		WithPublisher(f.publisher),
		WithTransitionHook(func(tr Transition) {
			f.mu.Lock()
			f.transitions = append(f.transitions, tr)
			f.mu.Unlock()
		}),
	)
	return f
}

func (f *fixture) states() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]State, 0, len(f.transitions))
	for _, tr := range f.transitions {
		out = append(out, tr.State)
	}
	return out
}

func expense(amount, category string) core.Transaction {
	return core.Transaction{
		Amount:   core.MustAmount(amount),
		Category: category,
		Date:     core.NewDate(2024, time.March, 1),
		Kind:     core.Expense,
	}
}

func lent(amount, desc string) core.SharedEntry {
	return core.SharedEntry{
		Amount:      core.MustAmount(amount),
		Description: desc,
		Date:        core.NewDate(2024, time.March, 1),
		Direction:   core.Lent,
	}
}

func borrowed(amount, desc string) core.SharedEntry {
	e := lent(amount, desc)
	e.Direction = core.Borrowed
	return e
}

func assertSyncFailure(t *testing.T, err error, cause error) {
	t.Helper()
	if !errors.Is(err, core.ErrSync) {
		t.Fatalf("expected sync failure, got %v", err)
	}
	var sf *core.SyncFailure
	if !errors.As(err, &sf) {
		t.Fatalf("expected *core.SyncFailure, got %T", err)
	}
	if cause != nil && !errors.Is(err, cause) {
		t.Fatalf("expected cause %v, got %v", cause, err)
	}
}

func equalStates(got, want []State) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestAddTransaction(t *testing.T) {
	f := newFixture(t, time.Second)

	tx, err := f.coord.AddTransaction(context.Background(), expense("250", "Food"))
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if core.IsTemporaryID(tx.ID) {
		t.Fatalf("confirmed id is still temporary: %s", tx.ID)
	}
	if tx.UserID != testUser || tx.CreatedAt.IsZero() {
		t.Errorf("owner or CreatedAt not stamped: %+v", tx)
	}
	if _, err := f.coord.Transactions().GetByID(tx.ID); err != nil {
		t.Errorf("local cache lacks remote id: %v", err)
	}
	if f.coord.Transactions().Len() != 1 || f.store.Len(remote.TableTransactions) != 1 {
		t.Errorf("local %d remote %d, want 1 and 1", f.coord.Transactions().Len(), f.store.Len(remote.TableTransactions))
	}

	recs, _ := f.store.Query(context.Background(), remote.TableTransactions, remote.Filter{UserID: testUser})
	if len(recs) != 1 || recs[0].String(remote.FieldID) != tx.ID || recs[0].String(remote.FieldAmount) != "250" {
		t.Errorf("remote record = %v", recs)
	}

	if got := f.states(); !equalStates(got, []State{StatePending, StateConfirmed}) {
		t.Errorf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(f.metrics.Operations.WithLabelValues(log.OpAddTransaction, "confirmed")); got != 1 {
		t.Errorf("confirmed counter = %v", got)
	}
	events := f.publisher.all()
	if len(events) != 1 || events[0].ID != tx.ID || !core.IsTemporaryID(events[0].TempID) {
		t.Errorf("events = %+v", events)
	}
}

func TestAddTransactionFailures(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		setup   func(f *fixture)
		ctx     func() (context.Context, context.CancelFunc)
		cause   error
	}{
		{
			name:    "rejected",
			timeout: time.Second,
			setup:   func(f *fixture) { f.store.FailNext(memory.OpInsert, errRejected) },
			cause:   errRejected,
		},
		{
			name:    "timeout",
			timeout: 20 * time.Millisecond,
			setup:   func(f *fixture) { f.store.SetDelay(time.Second) },
			cause:   context.DeadlineExceeded,
		},
		{
			name:    "cancelled",
			timeout: time.Second,
			setup:   func(f *fixture) { f.store.SetDelay(time.Second) },
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				time.AfterFunc(20*time.Millisecond, cancel)
				return ctx, cancel
			},
			cause: context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.timeout)
			tt.setup(f)
			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			_, err := f.coord.AddTransaction(ctx, expense("10", "Food"))
			assertSyncFailure(t, err, tt.cause)

			if n := f.coord.Transactions().Len(); n != 0 {
				t.Errorf("local log has %d entries after rollback", n)
			}
			if got := f.states(); !equalStates(got, []State{StatePending, StateFailed}) {
				t.Errorf("transitions = %v", got)
			}
			if got := testutil.ToFloat64(f.metrics.Pending); got != 0 {
				t.Errorf("pending gauge = %v", got)
			}
		})
	}
}

func TestAddTransactionValidation(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.coord.AddTransaction(context.Background(), expense("10", " "))
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.store.Calls(memory.OpInsert) != 0 {
		t.Error("invalid transaction reached the store")
	}
	if len(f.states()) != 0 {
		t.Errorf("invalid input produced transitions: %v", f.states())
	}
}

func TestEditTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	tx, err := f.coord.AddTransaction(ctx, expense("100", "Food"))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("confirmed edit keeps id and CreatedAt", func(t *testing.T) {
		edited, err := f.coord.EditTransaction(ctx, tx.ID, expense("120", "Groceries"))
		if err != nil {
			t.Fatalf("EditTransaction: %v", err)
		}
		if edited.ID != tx.ID || !edited.CreatedAt.Equal(tx.CreatedAt) {
			t.Errorf("identity changed: %+v", edited)
		}
		recs, _ := f.store.Query(ctx, remote.TableTransactions, remote.Filter{})
		if recs[0].String(remote.FieldCategory) != "Groceries" || recs[0].String(remote.FieldAmount) != "120" {
			t.Errorf("remote not updated: %v", recs[0])
		}
	})

	t.Run("rejected edit restores previous values", func(t *testing.T) {
		f.store.FailNext(memory.OpUpdate, errRejected)
		_, err := f.coord.EditTransaction(ctx, tx.ID, expense("999", "Travel"))
		assertSyncFailure(t, err, errRejected)

		got, _ := f.coord.Transactions().GetByID(tx.ID)
		if got.Category != "Groceries" || !got.Amount.Equal(core.MustAmount("120")) {
			t.Errorf("local value after rollback = %+v", got)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := f.coord.EditTransaction(ctx, "nope", expense("1", "x"))
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestDeleteTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	var ids []string
	for _, c := range []string{"A", "B", "C"} {
		tx, err := f.coord.AddTransaction(ctx, expense("10", c))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, tx.ID)
	}
	before := f.coord.Transactions().List(nil)

	f.store.FailNext(memory.OpDelete, errRejected)
	err := f.coord.DeleteTransaction(ctx, ids[1])
	assertSyncFailure(t, err, errRejected)

	after := f.coord.Transactions().List(nil)
	if len(after) != len(before) {
		t.Fatalf("rollback lost entries: %d != %d", len(after), len(before))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("position %d: %+v != %+v", i, after[i], before[i])
		}
	}

	if err := f.coord.DeleteTransaction(ctx, ids[1]); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if f.coord.Transactions().Len() != 2 || f.store.Len(remote.TableTransactions) != 2 {
		t.Error("delete did not reach both sides")
	}
	if err := f.coord.DeleteTransaction(ctx, ids[1]); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete: expected not found, got %v", err)
	}
}

func TestEditWaitsForPendingInsert(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	f.store.SetDelay(50 * time.Millisecond)

	pending := make(chan string, 1)
	f.coord.onTransition = func(tr Transition) {
		if tr.State == StatePending && tr.Op == log.OpAddTransaction {
			pending <- tr.ID
		}
	}

	added := make(chan core.Transaction, 1)
	go func() {
		tx, err := f.coord.AddTransaction(ctx, expense("10", "Food"))
		if err != nil {
			t.Errorf("AddTransaction: %v", err)
		}
		added <- tx
	}()

	tempID := <-pending
	edited, err := f.coord.EditTransaction(ctx, tempID, expense("15", "Food"))
	if err != nil {
		t.Fatalf("edit of pending transaction: %v", err)
	}
	tx := <-added
	if edited.ID != tx.ID {
		t.Errorf("edit applied to %s, insert confirmed %s", edited.ID, tx.ID)
	}
	got, _ := f.coord.Transactions().GetByID(tx.ID)
	if !got.Amount.Equal(core.MustAmount("15")) {
		t.Errorf("amount = %s, want 15", got.Amount)
	}
}

func TestAddSharedEntryRemapsTemporaryIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)

	e1, p, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Asha"}, lent("100", "dinner"))
	if err != nil {
		t.Fatalf("AddSharedEntry: %v", err)
	}
	if core.IsTemporaryID(e1.ID) || core.IsTemporaryID(p.ID) || e1.CounterpartyID != p.ID {
		t.Fatalf("temporary ids survived: entry %+v person %+v", e1, p)
	}

	e2, p, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: " asha "}, borrowed("40", "cab"))
	if err != nil {
		t.Fatalf("AddSharedEntry: %v", err)
	}
	if e2.CounterpartyID != p.ID || !p.CachedBalance.Equal(core.MustAmount("60")) {
		t.Errorf("after second entry: %+v", p)
	}
	if p.Status() != core.OwesYou {
		t.Errorf("status = %s", p.Status())
	}

	local, err := f.coord.Ledger().Person(p.ID)
	if err != nil || !local.CachedBalance.Equal(core.MustAmount("60")) {
		t.Errorf("ledger person = %+v, %v", local, err)
	}
	for _, e := range f.coord.Ledger().List(p.ID, nil) {
		if core.IsTemporaryID(e.ID) || e.CounterpartyID != p.ID {
			t.Errorf("entry not remapped: %+v", e)
		}
	}

	people, _ := f.store.Query(ctx, remote.TablePeople, remote.Filter{})
	if len(people) != 1 || people[0].String(remote.FieldCachedBalance) != "60" {
		t.Errorf("remote people = %v", people)
	}
	entries, _ := f.store.Query(ctx, remote.TableSharedEntries, remote.Filter{Field: remote.FieldCounterpartyID, Equals: p.ID})
	if len(entries) != 2 {
		t.Errorf("remote entries for %s = %d, want 2", p.ID, len(entries))
	}

	var personEvents int
	for _, ev := range f.publisher.all() {
		if ev.Entity == amqp.EntityPerson {
			personEvents++
			if ev.ID != p.ID || !core.IsTemporaryID(ev.TempID) {
				t.Errorf("person event = %+v", ev)
			}
		}
	}
	if personEvents != 1 {
		t.Errorf("person confirmations = %d, want 1", personEvents)
	}
}

func TestAddSharedEntryFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("new person insert rejected", func(t *testing.T) {
		f := newFixture(t, time.Second)
		f.store.FailNext(memory.OpInsert, errRejected)

		_, _, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Ravi"}, lent("50", "tickets"))
		assertSyncFailure(t, err, errRejected)
		if n := len(f.coord.Ledger().People()); n != 0 {
			t.Errorf("implicit person survived rollback: %d people", n)
		}
		if f.store.Len(remote.TablePeople) != 0 {
			t.Error("remote person left behind")
		}
	})

	t.Run("entry insert rejected after person insert", func(t *testing.T) {
		f := newFixture(t, time.Second)
		f.store.FailNext(memory.OpInsert, nil)
		f.store.FailNext(memory.OpInsert, errRejected)

		_, _, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Ravi"}, lent("50", "tickets"))
		assertSyncFailure(t, err, errRejected)
		if len(f.coord.Ledger().People()) != 0 || len(f.coord.Ledger().List("", nil)) != 0 {
			t.Error("local state not rolled back")
		}
		if f.store.Len(remote.TablePeople) != 0 {
			t.Error("compensation did not remove the remote person")
		}
	})

	t.Run("balance update rejected for existing person", func(t *testing.T) {
		f := newFixture(t, time.Second)
		_, p, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Meera"}, lent("30", "lunch"))
		if err != nil {
			t.Fatal(err)
		}
		prior, _ := f.coord.Ledger().Person(p.ID)

		f.store.FailNext(memory.OpUpdate, errRejected)
		_, _, err = f.coord.AddSharedEntry(ctx, Counterparty{ID: p.ID}, borrowed("10", "coffee"))
		assertSyncFailure(t, err, errRejected)

		now, _ := f.coord.Ledger().Person(p.ID)
		if now != prior {
			t.Errorf("person after rollback = %+v, want %+v", now, prior)
		}
		if n := len(f.coord.Ledger().List(p.ID, nil)); n != 1 {
			t.Errorf("entries after rollback = %d, want 1", n)
		}
		if f.store.Len(remote.TableSharedEntries) != 1 {
			t.Error("compensation did not remove the remote entry")
		}
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFixture(t, 20*time.Millisecond)
		f.store.SetDelay(time.Second)

		_, _, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Ravi"}, lent("50", "tickets"))
		assertSyncFailure(t, err, context.DeadlineExceeded)
		if len(f.coord.Ledger().People()) != 0 {
			t.Error("local state not rolled back")
		}
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, time.Second)

		_, _, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Ravi"}, lent("50", ""))
		if !errors.Is(err, core.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if len(f.coord.Ledger().People()) != 0 {
			t.Error("invalid entry left an implicit person")
		}
		_, _, err = f.coord.AddSharedEntry(ctx, Counterparty{}, lent("50", "x"))
		if !errors.Is(err, core.ErrValidation) {
			t.Errorf("expected validation error for empty name, got %v", err)
		}
		_, _, err = f.coord.AddSharedEntry(ctx, Counterparty{ID: "ghost"}, lent("50", "x"))
		if !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})
}

func TestDeleteSharedEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	e1, _, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Asha"}, lent("100", "dinner"))
	if err != nil {
		t.Fatal(err)
	}
	_, p, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Asha"}, borrowed("40", "cab"))
	if err != nil {
		t.Fatal(err)
	}
	prior, _ := f.coord.Ledger().Person(p.ID)

	t.Run("rejected delete restores entry and balances", func(t *testing.T) {
		f.store.FailNext(memory.OpDelete, errRejected)
		_, err := f.coord.DeleteSharedEntry(ctx, e1.ID)
		assertSyncFailure(t, err, errRejected)

		now, _ := f.coord.Ledger().Person(p.ID)
		if now != prior {
			t.Errorf("person = %+v, want %+v", now, prior)
		}
		if _, err := f.coord.Ledger().GetByID(e1.ID); err != nil {
			t.Errorf("entry not restored: %v", err)
		}
		recs, _ := f.store.Query(ctx, remote.TablePeople, remote.Filter{})
		if recs[0].String(remote.FieldCachedBalance) != "60" {
			t.Errorf("remote balance not restored: %v", recs[0])
		}
	})

	t.Run("confirmed delete", func(t *testing.T) {
		after, err := f.coord.DeleteSharedEntry(ctx, e1.ID)
		if err != nil {
			t.Fatalf("DeleteSharedEntry: %v", err)
		}
		if !after.CachedBalance.Equal(core.MustAmount("-40")) || after.Status() != core.YouOwe {
			t.Errorf("balance after delete = %s", after.CachedBalance)
		}
		if f.store.Len(remote.TableSharedEntries) != 1 {
			t.Error("remote entry not deleted")
		}
		if _, err := f.coord.DeleteSharedEntry(ctx, e1.ID); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("second delete: expected not found, got %v", err)
		}
	})
}

func TestSameCounterpartyWritesAreSerialized(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	f.store.SetDelay(10 * time.Millisecond)

	const writers = 5
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Asha"}, lent("10", "split")); err != nil {
				t.Errorf("AddSharedEntry: %v", err)
			}
		}()
	}
	wg.Wait()

	var open int
	f.mu.Lock()
	for _, tr := range f.transitions {
		if tr.Entity != amqp.EntitySharedEntry {
			continue
		}
		switch tr.State {
		case StatePending:
			open++
			if open > 1 {
				t.Fatal("two writes for the same person were pending at once")
			}
		default:
			open--
		}
	}
	f.mu.Unlock()

	if f.store.Len(remote.TablePeople) != 1 {
		t.Errorf("remote people = %d, want 1", f.store.Len(remote.TablePeople))
	}
	people := f.coord.Ledger().People()
	if len(people) != 1 || !people[0].CachedBalance.Equal(core.MustAmount("50")) {
		t.Errorf("people = %+v", people)
	}
	if f.coord.keys.size() != 0 {
		t.Errorf("key locks leaked: %d", f.coord.keys.size())
	}
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Second)
	_, p, err := f.coord.AddSharedEntry(ctx, Counterparty{Name: "Asha"}, lent("100", "dinner"))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("no drift", func(t *testing.T) {
		res, err := f.coord.Reconcile(ctx, p.ID)
		if err != nil || res.Drift != nil {
			t.Fatalf("Reconcile = %+v, %v", res, err)
		}
	})

	corrupt := p
	corrupt.CachedBalance = core.MustAmount("70")
	f.coord.Ledger().SetPerson(corrupt)

	t.Run("push failure keeps the local correction", func(t *testing.T) {
		f.store.FailNext(memory.OpUpdate, errRejected)
		res, err := f.coord.Reconcile(ctx, p.ID)
		assertSyncFailure(t, err, errRejected)
		if res.Drift == nil || !res.Drift.Cached.Equal(core.MustAmount("70")) {
			t.Errorf("drift = %+v", res.Drift)
		}
		now, _ := f.coord.Ledger().Person(p.ID)
		if !now.CachedBalance.Equal(core.MustAmount("100")) {
			t.Errorf("local balance = %s", now.CachedBalance)
		}
	})

	f.coord.Ledger().SetPerson(corrupt)

	t.Run("drift corrected and pushed", func(t *testing.T) {
		res, err := f.coord.Reconcile(ctx, p.ID)
		if err != nil || res.Drift == nil {
			t.Fatalf("Reconcile = %+v, %v", res, err)
		}
		recs, _ := f.store.Query(ctx, remote.TablePeople, remote.Filter{})
		if recs[0].String(remote.FieldCachedBalance) != "100" {
			t.Errorf("remote balance = %v", recs[0])
		}
		again, err := f.coord.Reconcile(ctx, p.ID)
		if err != nil || again.Drift != nil || !again.Person.CachedBalance.Equal(res.Person.CachedBalance) {
			t.Errorf("second Reconcile = %+v, %v", again, err)
		}
	})

	if got := testutil.ToFloat64(f.metrics.Drift); got != 2 {
		t.Errorf("drift counter = %v, want 2", got)
	}
}

// stallingStore blocks the first Query of table after it has read, until
// release is closed.
type stallingStore struct {
	*memory.Store
	table   string
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (s *stallingStore) Query(ctx context.Context, table string, f remote.Filter) ([]remote.Record, error) {
	recs, err := s.Store.Query(ctx, table, f)
	if table == s.table {
		s.once.Do(func() {
			close(s.read)
			<-s.release
		})
	}
	return recs, err
}

func seed(t *testing.T, s *memory.Store, table string, rec remote.Record) string {
	t.Helper()
	id, err := s.Insert(context.Background(), table, remote.ForInsert(rec))
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestHydrate(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)

	t.Run("loads and reconciles", func(t *testing.T) {
		f := newFixture(t, time.Second)
		tx := expense("250", "Food")
		tx.UserID, tx.CreatedAt = testUser, created
		seed(t, f.store, remote.TableTransactions, remote.EncodeTransaction(tx))
		other := tx
		other.UserID = "someone-else"
		seed(t, f.store, remote.TableTransactions, remote.EncodeTransaction(other))

		personID := seed(t, f.store, remote.TablePeople, remote.EncodePerson(core.Person{
			UserID:         testUser,
			DisplayName:    "Asha",
			CachedBalance:  core.MustAmount("10"),
			LastActivityAt: created,
		}))
		e := lent("100", "dinner")
		e.UserID, e.CounterpartyID, e.CreatedAt = testUser, personID, created
		seed(t, f.store, remote.TableSharedEntries, remote.EncodeSharedEntry(e))

		res, err := f.coord.Hydrate(ctx)
		if err != nil {
			t.Fatalf("Hydrate: %v", err)
		}
		if res.Transactions != 1 || res.People != 1 || res.Entries != 1 {
			t.Errorf("counts = %+v", res)
		}
		if len(res.Drifts) != 1 {
			t.Fatalf("drifts = %v", res.Drifts)
		}
		p, _ := f.coord.Ledger().Person(personID)
		if !p.CachedBalance.Equal(core.MustAmount("100")) {
			t.Errorf("balance = %s, want 100", p.CachedBalance)
		}
		recs, _ := f.store.Query(ctx, remote.TablePeople, remote.Filter{})
		if recs[0].String(remote.FieldCachedBalance) != "100" {
			t.Errorf("corrected balance not pushed: %v", recs[0])
		}
	})

	t.Run("malformed record leaves caches untouched", func(t *testing.T) {
		f := newFixture(t, time.Second)
		if _, err := f.coord.AddTransaction(ctx, expense("5", "Tea")); err != nil {
			t.Fatal(err)
		}
		seed(t, f.store, remote.TableTransactions, remote.Record{
			remote.FieldUserID: testUser,
			remote.FieldAmount: "-3",
			remote.FieldKind:   "expense",
		})

		_, err := f.coord.Hydrate(ctx)
		if !errors.Is(err, core.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if f.coord.Transactions().Len() != 1 {
			t.Error("failed hydrate replaced the cache")
		}
	})

	t.Run("write confirmed during the reads survives", func(t *testing.T) {
		f := newFixture(t, 5*time.Second)
		stall := &stallingStore{Store: f.store, table: remote.TableTransactions,
			read: make(chan struct{}), release: make(chan struct{})}
		f.coord.store = stall

		hydrated := make(chan error, 1)
		go func() {
			_, err := f.coord.Hydrate(ctx)
			hydrated <- err
		}()
		<-stall.read

		added := make(chan error, 1)
		var tx core.Transaction
		go func() {
			var err error
			tx, err = f.coord.AddTransaction(ctx, expense("30", "Taxi"))
			added <- err
		}()
		select {
		case err := <-added:
			t.Fatalf("write completed while hydrate was reading: %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		close(stall.release)
		if err := <-hydrated; err != nil {
			t.Fatalf("Hydrate: %v", err)
		}
		if err := <-added; err != nil {
			t.Fatalf("AddTransaction: %v", err)
		}
		if _, err := f.coord.Transactions().GetByID(tx.ID); err != nil {
			t.Fatalf("confirmed transaction missing locally: %v", err)
		}
		if got := f.store.Len(remote.TableTransactions); got != 1 {
			t.Errorf("remote transactions = %d, want 1", got)
		}
	})

	t.Run("balance push failure keeps the loaded state", func(t *testing.T) {
		f := newFixture(t, time.Second)
		personID := seed(t, f.store, remote.TablePeople, remote.EncodePerson(core.Person{
			UserID:         testUser,
			DisplayName:    "Ravi",
			CachedBalance:  core.MustAmount("5"),
			LastActivityAt: created,
		}))
		e := borrowed("20", "lunch")
		e.UserID, e.CounterpartyID, e.CreatedAt = testUser, personID, created
		seed(t, f.store, remote.TableSharedEntries, remote.EncodeSharedEntry(e))
		f.store.FailNext(memory.OpUpdate, errRejected)

		res, err := f.coord.Hydrate(ctx)
		if !errors.Is(err, ErrBalancePush) || !errors.Is(err, errRejected) {
			t.Fatalf("expected balance push error, got %v", err)
		}
		if res.People != 1 || res.Entries != 1 || len(res.Drifts) != 1 {
			t.Errorf("result = %+v", res)
		}
		p, err := f.coord.Ledger().Person(personID)
		if err != nil || !p.CachedBalance.Equal(core.MustAmount("20").Neg()) {
			t.Errorf("person = %+v, %v", p, err)
		}
	})

	t.Run("query failure", func(t *testing.T) {
		f := newFixture(t, time.Second)
		f.store.FailNext(memory.OpQuery, errRejected)
		_, err := f.coord.Hydrate(ctx)
		assertSyncFailure(t, err, errRejected)
	})
}

func TestKeyLocks(t *testing.T) {
	k := newKeyLocks()
	release, err := k.acquire(context.Background(), "tx:1")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.acquire(ctx, "tx:1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while held, got %v", err)
	}
	other, err := k.acquire(context.Background(), "tx:2")
	if err != nil {
		t.Fatalf("independent key blocked: %v", err)
	}
	other()

	release()
	release()
	if k.size() != 0 {
		t.Errorf("locks left: %d", k.size())
	}
}

func TestPersonKeyIgnoresCaseAndSpace(t *testing.T) {
	if personKey(" Asha ") != personKey("asha") {
		t.Error("person keys differ for the same name")
	}
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", fmt.Errorf("insert: %w", context.DeadlineExceeded), log.ErrorTypeTimeout},
		{"cancelled", context.Canceled, log.ErrorTypeCancelled},
		{"remote missing", remote.ErrNotFound, log.ErrorTypeNotFound},
		{"local missing", &core.NotFoundError{Kind: "person", ID: "p1"}, log.ErrorTypeNotFound},
		{"validation", &core.ValidationError{Field: "amount", Reason: "negative"}, log.ErrorTypeValidation},
		{"drift", &core.DriftError{PersonID: "p1"}, log.ErrorTypeDrift},
		{"other", errRejected, log.ErrorTypeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorType(tt.err); got != tt.want {
				t.Errorf("errorType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRollbackIsLogged(t *testing.T) {
	var buf bytes.Buffer
	identity := core.StaticIdentity(testUser)
	store := memory.New()
	coord := NewCoordinator(store, txlog.New(identity), debts.New(identity), identity,
		CoordinatorConfig{RemoteTimeout: time.Second},
		WithLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)
	store.FailNext(memory.OpInsert, errRejected)

	if _, err := coord.AddTransaction(context.Background(), expense("9", "Snacks")); err == nil {
		t.Fatal("expected failure")
	}
	out := buf.String()
	for _, want := range []string{
		`"msg":"Transaction staged"`,
		`"category":"Snacks"`,
		`"msg":"Write rolled back"`,
		`"operation":"add_transaction"`,
		`"error_type":"network_error"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output misses %s:\n%s", want, out)
		}
	}
}
