package remote

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"moneybook/internal/core"
)

func sampleTransaction() core.Transaction {
	return core.Transaction{
		ID:        "t1",
		UserID:    "u1",
		Amount:    decimal.RequireFromString("12.50"),
		Category:  "Food",
		Date:      core.NewDate(2024, 1, 5),
		Notes:     "lunch",
		Kind:      core.Expense,
		CreatedAt: time.Date(2024, 1, 5, 13, 4, 5, 120, time.UTC),
	}
}

func TestTransactionThroughJSON(t *testing.T) {
	// Records usually come back from a JSON column, so go through one.
	raw, err := json.Marshal(EncodeTransaction(sampleTransaction()))
	if err != nil {
		t.Fatal(err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeTransaction(rec)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	want := sampleTransaction()
	if got.ID != want.ID || !got.Amount.Equal(want.Amount) || got.Date != want.Date ||
		got.Kind != want.Kind || !got.CreatedAt.Equal(want.CreatedAt) || got.Notes != want.Notes {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDecodeRejectsMalformedRecords(t *testing.T) {
	base := EncodeTransaction(sampleTransaction())
	tests := []struct {
		name  string
		mut   func(Record)
		field string
	}{
		{"missing id", func(r Record) { delete(r, FieldID) }, FieldID},
		{"amount not a number", func(r Record) { r[FieldAmount] = "twelve" }, FieldAmount},
		{"amount wrong type", func(r Record) { r[FieldAmount] = true }, FieldAmount},
		{"negative amount", func(r Record) { r[FieldAmount] = "-1" }, FieldAmount},
		{"bad date", func(r Record) { r[FieldDate] = "05/01/2024" }, FieldDate},
		{"bad kind", func(r Record) { r[FieldKind] = "gift" }, "kind"},
		{"empty category", func(r Record) { r[FieldCategory] = "" }, "category"},
		{"bad timestamp", func(r Record) { r[FieldCreatedAt] = "yesterday" }, FieldCreatedAt},
		{"category wrong type", func(r Record) { r[FieldCategory] = 7.0 }, FieldCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base.Clone()
			tt.mut(rec)
			_, err := DecodeTransaction(rec)
			var verr *core.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestSharedEntryAndPersonCodec(t *testing.T) {
	e := core.SharedEntry{
		ID:             "e1",
		CounterpartyID: "p1",
		Amount:         decimal.NewFromInt(40),
		Description:    "cab",
		Date:           core.NewDate(2024, 2, 1),
		Direction:      core.Borrowed,
		CreatedAt:      time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC),
	}
	got, err := DecodeSharedEntry(EncodeSharedEntry(e))
	if err != nil || got.CounterpartyID != "p1" || got.Direction != core.Borrowed {
		t.Fatalf("DecodeSharedEntry = %+v, %v", got, err)
	}
	noCounterparty := EncodeSharedEntry(e)
	delete(noCounterparty, FieldCounterpartyID)
	if _, err := DecodeSharedEntry(noCounterparty); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	p := core.Person{ID: "p1", DisplayName: "Asha", CachedBalance: decimal.NewFromInt(-40)}
	rec := EncodePerson(p)
	rec[FieldCachedBalance] = -40.0
	gp, err := DecodePerson(rec)
	if err != nil || !gp.CachedBalance.Equal(p.CachedBalance) {
		t.Fatalf("DecodePerson = %+v, %v", gp, err)
	}
	rec[FieldDisplayName] = " "
	if _, err := DecodePerson(rec); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDecodeAcceptsTimestampDates(t *testing.T) {
	rec := EncodeTransaction(sampleTransaction())
	rec[FieldDate] = "2024-01-05T00:00:00Z"
	got, err := DecodeTransaction(rec)
	if err != nil || got.Date != core.NewDate(2024, 1, 5) {
		t.Fatalf("got %v, %v", got.Date, err)
	}
}

func TestFilterApply(t *testing.T) {
	recs := []Record{
		{FieldID: "a", FieldUserID: "u1", FieldCreatedAt: "2024-01-02T00:00:00.000000000Z", FieldCounterpartyID: "p1"},
		{FieldID: "b", FieldUserID: "u2", FieldCreatedAt: "2024-01-01T00:00:00.000000000Z"},
		{FieldID: "c", FieldUserID: "u1", FieldCreatedAt: "2024-01-01T00:00:00.000000000Z", FieldCounterpartyID: "p2"},
		{FieldID: "d", FieldUserID: "u1", FieldCreatedAt: "2024-01-03T00:00:00.500000000Z", FieldCounterpartyID: "p1"},
	}

	got := Filter{UserID: "u1"}.Apply(recs)
	if ids(got) != "c,a,d" {
		t.Fatalf("ascending by created_at: %s", ids(got))
	}
	got = Filter{UserID: "u1", Desc: true, Limit: 2}.Apply(recs)
	if ids(got) != "d,a" {
		t.Fatalf("descending with limit: %s", ids(got))
	}
	got = Filter{Field: FieldCounterpartyID, Equals: "p1"}.Apply(recs)
	if ids(got) != "a,d" {
		t.Fatalf("field filter: %s", ids(got))
	}
}

func ids(recs []Record) string {
	s := ""
	for i, r := range recs {
		if i > 0 {
			s += ","
		}
		s += r.String(FieldID)
	}
	return s
}

func TestRecordMergeKeepsID(t *testing.T) {
	r := Record{FieldID: "x", FieldAmount: "1"}
	r.Merge(Record{FieldID: "y", FieldAmount: "2"})
	if r[FieldID] != "x" || r[FieldAmount] != "2" {
		t.Fatalf("Merge = %v", r)
	}
	if _, ok := ForInsert(r)[FieldID]; ok {
		t.Fatal("ForInsert kept the id")
	}
	if !ValidTable(TablePeople) || ValidTable("users") {
		t.Fatal("ValidTable is wrong")
	}
}
