package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat is the ISO-8601 form used for dates on the wire and in storage.
const DateFormat = "2006-01-02"

// readDateFormat also accepts single-digit month and day ("2024-1-5").
const readDateFormat = "2006-1-2"

// Date is a calendar day with no time-of-day component.
type Date struct {
	y int
	m time.Month
	d int
}

// NewDate creates a normalized Date from year, month, day
func NewDate(year int, month time.Month, day int) Date {
	d := Date{year, month, day}
	d.y, d.m, d.d = d.time().Date()
	return d
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Date())
}

// ParseDate parses an ISO-8601 calendar date.
func ParseDate(s string) (Date, error) {
	on, err := time.Parse(readDateFormat, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q, want format %q", s, DateFormat)}
	}
	return DateOf(on), nil
}

// MustParseDate is like ParseDate but panics on error.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err.Error())
	}
	return d
}

func (d Date) time() time.Time { return time.Date(d.y, d.m, d.d, 0, 0, 0, 0, time.UTC) }

func (d Date) Year() int         { return d.y }
func (d Date) Month() time.Month { return d.m }
func (d Date) Day() int          { return d.d }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d == Date{} }

func (d Date) Before(x Date) bool { return d.time().Before(x.time()) }
func (d Date) After(x Date) bool  { return d.time().After(x.time()) }
func (d Date) Equal(x Date) bool  { return d == x }

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date { return NewDate(d.y, d.m, d.d+n) }

func (d Date) String() string { return d.time().Format(DateFormat) }

func (d Date) Validate() error {
	if d.IsZero() {
		return &ValidationError{Field: "date", Reason: "date cannot be zero"}
	}
	if d.m < time.January || d.m > time.December {
		return &ValidationError{Field: "date", Reason: ErrInvalidMonth.Error()}
	}
	if d.d < 1 || d.d > 31 {
		return &ValidationError{Field: "date", Reason: ErrInvalidDay.Error()}
	}
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

var (
	_ json.Marshaler   = Date{}
	_ json.Unmarshaler = (*Date)(nil)
)
