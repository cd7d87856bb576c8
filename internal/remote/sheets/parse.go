package sheets

import (
	"fmt"
	"strings"

	"moneybook/internal/remote"
)

// parseRows turns the A:B values of a tab into records. Blank rows, left by
// deletes, are skipped.
func parseRows(values [][]interface{}) ([]remote.Record, error) {
	recs := make([]remote.Record, 0, len(values))
	for i, row := range values {
		cells := toStrings(row)
		id := strings.TrimSpace(safeGet(cells, 0))
		if id == "" {
			continue
		}
		rec, err := decodePayload(safeGet(cells, 1))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		rec[remote.FieldID] = id
		recs = append(recs, rec)
	}
	return recs, nil
}

// findRow returns the zero-based row index holding id, or -1.
func findRow(values [][]interface{}, id string) int {
	for i, row := range values {
		if strings.TrimSpace(safeGet(toStrings(row), 0)) == id {
			return i
		}
	}
	return -1
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx >= 0 && idx < len(arr) {
		return arr[idx]
	}
	return ""
}
