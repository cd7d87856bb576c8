// Package storetest holds the behaviour every remote.Store must share.
// Adapter tests call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"testing"

	"moneybook/internal/remote"
)

func Run(t *testing.T, newStore func(t *testing.T) remote.Store) {
	t.Helper()

	t.Run("InsertAssignsID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, err := s.Insert(ctx, remote.TableTransactions, record("u1", "2024-01-01T00:00:00.000000000Z", "10"))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if id == "" {
			t.Fatal("empty id")
		}
		recs, err := s.Query(ctx, remote.TableTransactions, remote.Filter{UserID: "u1"})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(recs) != 1 || recs[0].String(remote.FieldID) != id {
			t.Fatalf("Query = %v", recs)
		}
		if recs[0].String(remote.FieldAmount) != "10" {
			t.Fatalf("amount = %q", recs[0].String(remote.FieldAmount))
		}
	})

	t.Run("UpdateMergesPatch", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, _ := s.Insert(ctx, remote.TableTransactions, record("u1", "2024-01-01T00:00:00.000000000Z", "10"))
		if err := s.Update(ctx, remote.TableTransactions, id, remote.Record{remote.FieldAmount: "25"}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		recs, _ := s.Query(ctx, remote.TableTransactions, remote.Filter{})
		if len(recs) != 1 || recs[0].String(remote.FieldAmount) != "25" || recs[0].String(remote.FieldCategory) != "Food" {
			t.Fatalf("after update: %v", recs)
		}
		if err := s.Update(ctx, remote.TableTransactions, "missing", remote.Record{}); !errors.Is(err, remote.ErrNotFound) {
			t.Fatalf("update of missing id: %v", err)
		}
	})

	t.Run("DeleteRemoves", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id, _ := s.Insert(ctx, remote.TableTransactions, record("u1", "2024-01-01T00:00:00.000000000Z", "10"))
		if err := s.Delete(ctx, remote.TableTransactions, id); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, remote.TableTransactions, id); !errors.Is(err, remote.ErrNotFound) {
			t.Fatalf("second delete: %v", err)
		}
		recs, _ := s.Query(ctx, remote.TableTransactions, remote.Filter{})
		if len(recs) != 0 {
			t.Fatalf("record survived delete: %v", recs)
		}
	})

	t.Run("QueryFiltersAndOrders", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _ = s.Insert(ctx, remote.TableTransactions, record("u1", "2024-01-02T00:00:00.000000000Z", "2"))
		_, _ = s.Insert(ctx, remote.TableTransactions, record("u2", "2024-01-03T00:00:00.000000000Z", "3"))
		_, _ = s.Insert(ctx, remote.TableTransactions, record("u1", "2024-01-01T00:00:00.000000000Z", "1"))

		recs, err := s.Query(ctx, remote.TableTransactions, remote.Filter{UserID: "u1", Desc: true})
		if err != nil {
			t.Fatal(err)
		}
		if len(recs) != 2 || recs[0].String(remote.FieldAmount) != "2" || recs[1].String(remote.FieldAmount) != "1" {
			t.Fatalf("unexpected result: %v", recs)
		}
		recs, _ = s.Query(ctx, remote.TableTransactions, remote.Filter{Limit: 1})
		if len(recs) != 1 || recs[0].String(remote.FieldAmount) != "1" {
			t.Fatalf("limit: %v", recs)
		}
	})

	t.Run("TablesAreSeparate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, _ = s.Insert(ctx, remote.TablePeople, remote.Record{remote.FieldDisplayName: "Asha", remote.FieldCachedBalance: "0"})
		recs, _ := s.Query(ctx, remote.TableTransactions, remote.Filter{})
		if len(recs) != 0 {
			t.Fatalf("people leaked into transactions: %v", recs)
		}
		if _, err := s.Insert(ctx, "bogus", remote.Record{}); err == nil {
			t.Fatal("insert into unknown table should fail")
		}
	})
}

func record(userID, createdAt, amount string) remote.Record {
	return remote.Record{
		remote.FieldUserID:    userID,
		remote.FieldAmount:    amount,
		remote.FieldCategory:  "Food",
		remote.FieldDate:      "2024-01-01",
		remote.FieldKind:      "expense",
		remote.FieldCreatedAt: createdAt,
	}
}
