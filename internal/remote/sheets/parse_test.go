package sheets

import (
	"context"
	"strings"
	"testing"

	"moneybook/internal/remote"
)

func TestParseRows(t *testing.T) {
	values := [][]interface{}{
		{"a1", `{"display_name":"Asha","cached_balance":"60"}`},
		{},
		{"", ""},
		{"b2", `{"display_name":"Ravi","cached_balance":"-40"}`},
		{"c3"},
	}
	recs, err := parseRows(values)
	if err != nil {
		t.Fatalf("parseRows: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("got %d records: %v", len(recs), recs)
	}
	if recs[0].String(remote.FieldID) != "a1" || recs[0].String(remote.FieldDisplayName) != "Asha" {
		t.Errorf("first record = %v", recs[0])
	}
	if recs[2].String(remote.FieldID) != "c3" || len(recs[2]) != 1 {
		t.Errorf("row without payload = %v", recs[2])
	}
}

func TestParseRowsRejectsBadJSON(t *testing.T) {
	_, err := parseRows([][]interface{}{{"a1", "{not json"}})
	if err == nil || !strings.Contains(err.Error(), "row 1") {
		t.Fatalf("expected row error, got %v", err)
	}
}

func TestFindRow(t *testing.T) {
	values := [][]interface{}{{"a1", "{}"}, {}, {" b2 ", "{}"}}
	if got := findRow(values, "b2"); got != 2 {
		t.Errorf("findRow(b2) = %d, want 2", got)
	}
	if got := findRow(values, "zz"); got != -1 {
		t.Errorf("findRow(zz) = %d, want -1", got)
	}
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	_, err := New(context.Background(), Config{SpreadsheetID: "sheet"})
	if err == nil || !strings.Contains(err.Error(), "credentials") {
		t.Fatalf("expected credentials error, got %v", err)
	}
}

func TestPayloadDropsID(t *testing.T) {
	payload, err := encodePayload(remote.Record{remote.FieldID: "x", remote.FieldAmount: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(payload, `"id"`) {
		t.Fatalf("payload kept the id: %s", payload)
	}
}
