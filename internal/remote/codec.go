package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"moneybook/internal/core"
)

// Field names shared by every table.
const (
	FieldID             = "id"
	FieldUserID         = "user_id"
	FieldAmount         = "amount"
	FieldCategory       = "category"
	FieldDate           = "date"
	FieldNotes          = "notes"
	FieldKind           = "kind"
	FieldCreatedAt      = "created_at"
	FieldCounterpartyID = "counterparty_id"
	FieldDescription    = "description"
	FieldDirection      = "direction"
	FieldDisplayName    = "display_name"
	FieldCachedBalance  = "cached_balance"
	FieldLastActivityAt = "last_activity_at"
)

// TimeLayout is a fixed-width UTC timestamp, so stored values sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func EncodeTransaction(tx core.Transaction) Record {
	return Record{
		FieldID:        tx.ID,
		FieldUserID:    tx.UserID,
		FieldAmount:    tx.Amount.String(),
		FieldCategory:  tx.Category,
		FieldDate:      tx.Date.String(),
		FieldNotes:     tx.Notes,
		FieldKind:      string(tx.Kind),
		FieldCreatedAt: formatTime(tx.CreatedAt),
	}
}

func EncodeSharedEntry(e core.SharedEntry) Record {
	return Record{
		FieldID:             e.ID,
		FieldUserID:         e.UserID,
		FieldCounterpartyID: e.CounterpartyID,
		FieldAmount:         e.Amount.String(),
		FieldDescription:    e.Description,
		FieldDate:           e.Date.String(),
		FieldDirection:      string(e.Direction),
		FieldCreatedAt:      formatTime(e.CreatedAt),
	}
}

func EncodePerson(p core.Person) Record {
	return Record{
		FieldID:             p.ID,
		FieldUserID:         p.UserID,
		FieldDisplayName:    p.DisplayName,
		FieldCachedBalance:  p.CachedBalance.String(),
		FieldLastActivityAt: formatTime(p.LastActivityAt),
	}
}

// BalancePatch is the update sent when only a person's balance moved.
func BalancePatch(p core.Person) Record {
	return Record{
		FieldCachedBalance:  p.CachedBalance.String(),
		FieldLastActivityAt: formatTime(p.LastActivityAt),
	}
}

// ForInsert drops the id of a locally created record. The store assigns one.
func ForInsert(r Record) Record {
	out := r.Clone()
	delete(out, FieldID)
	return out
}

// DecodeTransaction parses and validates a stored transaction.
func DecodeTransaction(r Record) (core.Transaction, error) {
	d := decoder{rec: r}
	tx := core.Transaction{
		ID:        d.requiredString(FieldID),
		UserID:    d.string(FieldUserID),
		Amount:    d.decimal(FieldAmount),
		Category:  d.string(FieldCategory),
		Date:      d.date(FieldDate),
		Notes:     d.string(FieldNotes),
		Kind:      core.Kind(d.string(FieldKind)),
		CreatedAt: d.time(FieldCreatedAt),
	}
	if d.err != nil {
		return core.Transaction{}, d.err
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// DecodeSharedEntry parses and validates a stored shared entry.
func DecodeSharedEntry(r Record) (core.SharedEntry, error) {
	d := decoder{rec: r}
	e := core.SharedEntry{
		ID:             d.requiredString(FieldID),
		UserID:         d.string(FieldUserID),
		CounterpartyID: d.requiredString(FieldCounterpartyID),
		Amount:         d.decimal(FieldAmount),
		Description:    d.string(FieldDescription),
		Date:           d.date(FieldDate),
		Direction:      core.Direction(d.string(FieldDirection)),
		CreatedAt:      d.time(FieldCreatedAt),
	}
	if d.err != nil {
		return core.SharedEntry{}, d.err
	}
	if err := e.Validate(); err != nil {
		return core.SharedEntry{}, err
	}
	return e, nil
}

// DecodePerson parses and validates a stored person.
func DecodePerson(r Record) (core.Person, error) {
	d := decoder{rec: r}
	p := core.Person{
		ID:             d.requiredString(FieldID),
		UserID:         d.string(FieldUserID),
		DisplayName:    d.string(FieldDisplayName),
		LastActivityAt: d.time(FieldLastActivityAt),
	}
	if _, ok := r[FieldCachedBalance]; ok {
		p.CachedBalance = d.signedDecimal(FieldCachedBalance)
	}
	if d.err != nil {
		return core.Person{}, d.err
	}
	if err := p.Validate(); err != nil {
		return core.Person{}, err
	}
	return p, nil
}

// decoder collects the first conversion error so the decode functions read
// as one struct literal.
type decoder struct {
	rec Record
	err error
}

func (d *decoder) fail(field, reason string) {
	if d.err == nil {
		d.err = &core.ValidationError{Field: field, Reason: reason}
	}
}

func (d *decoder) string(field string) string {
	switch v := d.rec[field].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		d.fail(field, fmt.Sprintf("expected string, got %T", v))
		return ""
	}
}

func (d *decoder) requiredString(field string) string {
	s := strings.TrimSpace(d.string(field))
	if s == "" {
		d.fail(field, "missing")
	}
	return s
}

func (d *decoder) signedDecimal(field string) decimal.Decimal {
	var (
		v   decimal.Decimal
		err error
	)
	switch raw := d.rec[field].(type) {
	case string:
		v, err = decimal.NewFromString(strings.TrimSpace(raw))
	case float64:
		v = decimal.NewFromFloat(raw)
	case int64:
		v = decimal.NewFromInt(raw)
	case int:
		v = decimal.NewFromInt(int64(raw))
	case json.Number:
		v, err = decimal.NewFromString(raw.String())
	case nil:
		err = fmt.Errorf("missing")
	default:
		err = fmt.Errorf("expected number, got %T", raw)
	}
	if err != nil {
		d.fail(field, err.Error())
		return decimal.Zero
	}
	return v
}

func (d *decoder) decimal(field string) decimal.Decimal {
	v := d.signedDecimal(field)
	if d.err == nil && !v.IsPositive() {
		d.fail(field, core.ErrInvalidAmount.Error())
	}
	return v
}

func (d *decoder) date(field string) core.Date {
	s := d.string(field)
	if d.err != nil {
		return core.Date{}
	}
	// Some stores hand dates back as full timestamps.
	if len(s) > len(core.DateFormat) {
		s = s[:len(core.DateFormat)]
	}
	v, err := core.ParseDate(s)
	if err != nil {
		d.fail(field, fmt.Sprintf("invalid date %q", s))
		return core.Date{}
	}
	return v
}

func (d *decoder) time(field string) time.Time {
	switch raw := d.rec[field].(type) {
	case time.Time:
		return raw
	case string:
		if raw == "" {
			return time.Time{}
		}
		v, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			d.fail(field, fmt.Sprintf("invalid timestamp %q", raw))
			return time.Time{}
		}
		return v
	case nil:
		return time.Time{}
	default:
		d.fail(field, fmt.Sprintf("expected timestamp, got %T", raw))
		return time.Time{}
	}
}
