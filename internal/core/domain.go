package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"

	Lent     Direction = "lent"
	Borrowed Direction = "borrowed"
)

const (
	OwesYou BalanceStatus = "owes_you"
	YouOwe  BalanceStatus = "you_owe"
	Settled BalanceStatus = "settled"
)

const maxTextLength = 200

type (
	Kind          string
	Direction     string
	BalanceStatus string

	// Transaction is a personal income or expense entry.
	Transaction struct {
		ID        string          `json:"id"`
		UserID    string          `json:"user_id"`
		Amount    decimal.Decimal `json:"amount"`
		Category  string          `json:"category"`
		Date      Date            `json:"date"`
		Notes     string          `json:"notes,omitempty"`
		Kind      Kind            `json:"kind"`
		CreatedAt time.Time       `json:"created_at"`
	}

	// SharedEntry is one lent or borrowed movement with a counterparty.
	SharedEntry struct {
		ID             string          `json:"id"`
		UserID         string          `json:"user_id"`
		CounterpartyID string          `json:"counterparty_id"`
		Amount         decimal.Decimal `json:"amount"`
		Description    string          `json:"description"`
		Date           Date            `json:"date"`
		Direction      Direction       `json:"direction"`
		CreatedAt      time.Time       `json:"created_at"`
	}

	// Person is a counterparty. CachedBalance is positive when the person
	// owes the user and negative when the user owes the person.
	Person struct {
		ID             string          `json:"id"`
		UserID         string          `json:"user_id"`
		DisplayName    string          `json:"display_name"`
		CachedBalance  decimal.Decimal `json:"cached_balance"`
		LastActivityAt time.Time       `json:"last_activity_at"`
	}
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Income, Expense:
		return k, nil
	}
	return "", invalid("kind", ErrInvalidKind)
}

func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Lent, Borrowed:
		return d, nil
	}
	return "", invalid("direction", ErrInvalidDirection)
}

// Signed returns amount for income and -amount for expense.
func (t Transaction) Signed() decimal.Decimal {
	if t.Kind == Income {
		return t.Amount
	}
	return t.Amount.Neg()
}

// Signed returns amount for lent and -amount for borrowed.
func (e SharedEntry) Signed() decimal.Decimal {
	if e.Direction == Lent {
		return e.Amount
	}
	return e.Amount.Neg()
}

func (t Transaction) Validate() error {
	if err := validateAmount(t.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(t.Category) == "" {
		return invalid("category", ErrEmptyCategory)
	}
	if len(t.Category) > maxTextLength {
		return &ValidationError{Field: "category", Reason: "category too long (max 200 characters)"}
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if t.Kind != Income && t.Kind != Expense {
		return invalid("kind", ErrInvalidKind)
	}
	return nil
}

func (e SharedEntry) Validate() error {
	if strings.TrimSpace(e.CounterpartyID) == "" {
		return invalid("counterparty_id", ErrMissingCounterpart)
	}
	if err := validateAmount(e.Amount); err != nil {
		return err
	}
	if strings.TrimSpace(e.Description) == "" {
		return invalid("description", ErrEmptyDescription)
	}
	if len(e.Description) > maxTextLength {
		return &ValidationError{Field: "description", Reason: "description too long (max 200 characters)"}
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if e.Direction != Lent && e.Direction != Borrowed {
		return invalid("direction", ErrInvalidDirection)
	}
	return nil
}

func (p Person) Validate() error {
	if strings.TrimSpace(p.DisplayName) == "" {
		return invalid("display_name", ErrEmptyName)
	}
	return nil
}

// Status classifies the cached balance by the sign convention.
func (p Person) Status() BalanceStatus {
	return StatusOf(p.CachedBalance)
}

func StatusOf(balance decimal.Decimal) BalanceStatus {
	switch balance.Sign() {
	case 1:
		return OwesYou
	case -1:
		return YouOwe
	default:
		return Settled
	}
}

func validateAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return invalid("amount", ErrInvalidAmount)
	}
	return nil
}
