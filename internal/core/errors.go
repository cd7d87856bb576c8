package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel categories, matched with errors.Is against the typed errors below.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrSync       = errors.New("sync failure")
	ErrDrift      = errors.New("balance drift")
)

var (
	ErrInvalidDay         = errors.New("invalid day")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrEmptyCategory      = errors.New("empty category")
	ErrEmptyDescription   = errors.New("empty description")
	ErrEmptyName          = errors.New("empty display name")
	ErrInvalidKind        = errors.New("kind must be income or expense")
	ErrInvalidDirection   = errors.New("direction must be lent or borrowed")
	ErrMissingCounterpart = errors.New("missing counterparty")
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field string, reason error) error {
	return &ValidationError{Field: field, Reason: reason.Error()}
}

// NotFoundError reports an operation on an id that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// SyncFailure reports a remote write or read that failed, timed out or was
// cancelled. The local change has already been rolled back when it is returned.
type SyncFailure struct {
	Op  string
	Key string
	Err error
}

func (e *SyncFailure) Error() string {
	return fmt.Sprintf("sync %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *SyncFailure) Unwrap() error { return e.Err }

func (e *SyncFailure) Is(target error) bool { return target == ErrSync }

// DriftError reports a cached balance that disagreed with its ledger.
// By the time it is returned the cached value has been corrected.
type DriftError struct {
	PersonID string
	Cached   decimal.Decimal
	Actual   decimal.Decimal
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("balance drift for person %s: cached %s, ledger %s", e.PersonID, e.Cached, e.Actual)
}

func (e *DriftError) Is(target error) bool { return target == ErrDrift }
