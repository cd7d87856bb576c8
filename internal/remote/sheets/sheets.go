// Package sheets is a remote.Store on a Google Spreadsheet. Each table is a
// tab whose rows hold the record id in column A and the JSON payload in
// column B.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"moneybook/internal/remote"
)

type Config struct {
	SpreadsheetID string
	// Service account credentials, inline JSON or a file path.
	CredentialsJSON string
	CredentialsFile string
	// TabPrefix is prepended to table names, e.g. "mb_" gives "mb_people".
	TabPrefix string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	tabPrefix     string
}

var _ remote.Store = (*Client)(nil)

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, tabPrefix: cfg.TabPrefix}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		slog.DebugContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		slog.DebugContext(ctx, "Reading credentials from file", "path", cfg.CredentialsFile)
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (c *Client) tab(table string) string {
	return c.tabPrefix + table
}

func (c *Client) readTab(ctx context.Context, table string) ([][]interface{}, error) {
	rng := fmt.Sprintf("%s!A:B", c.tab(table))
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (c *Client) Insert(ctx context.Context, table string, rec remote.Record) (string, error) {
	if err := remote.CheckTable(table); err != nil {
		return "", err
	}
	payload, err := encodePayload(rec)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	rng := fmt.Sprintf("%s!A:B", c.tab(table))
	vr := &gsheet.ValueRange{Values: [][]interface{}{{id, payload}}}
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", c.tab(table), err)
	}
	return id, nil
}

func (c *Client) Update(ctx context.Context, table, id string, patch remote.Record) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}
	values, err := c.readTab(ctx, table)
	if err != nil {
		return err
	}
	row := findRow(values, id)
	if row < 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	rec, err := decodePayload(safeGet(toStrings(values[row]), 1))
	if err != nil {
		return fmt.Errorf("%s row %d: %w", c.tab(table), row+1, err)
	}
	rec.Merge(patch)
	payload, err := encodePayload(rec)
	if err != nil {
		return err
	}

	rng := fmt.Sprintf("%s!B%d", c.tab(table), row+1)
	vr := &gsheet.ValueRange{Values: [][]interface{}{{payload}}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// Delete clears the row; blank rows are skipped when reading.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	if err := remote.CheckTable(table); err != nil {
		return err
	}
	values, err := c.readTab(ctx, table)
	if err != nil {
		return err
	}
	row := findRow(values, id)
	if row < 0 {
		return fmt.Errorf("%s %s: %w", table, id, remote.ErrNotFound)
	}
	rng := fmt.Sprintf("%s!A%d:B%d", c.tab(table), row+1, row+1)
	_, err = c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	return nil
}

func (c *Client) Query(ctx context.Context, table string, f remote.Filter) ([]remote.Record, error) {
	if err := remote.CheckTable(table); err != nil {
		return nil, err
	}
	values, err := c.readTab(ctx, table)
	if err != nil {
		return nil, err
	}
	recs, err := parseRows(values)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.tab(table), err)
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
	rec := remote.Record{}
	if strings.TrimSpace(raw) == "" {
		return rec, nil
	}
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return rec, nil
}
