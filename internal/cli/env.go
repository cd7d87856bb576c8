package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"moneybook/internal/book"
	"moneybook/internal/core"
)

// Env is what every subcommand receives as its first Execute argument.
type Env struct {
	Out io.Writer
	Err io.Writer
	// Open builds a hydrated Book.
	Open     func(ctx context.Context) (*book.Book, error)
	Currency string
}

// Commands returns every moneybook subcommand, grouped for help output.
func Commands() map[string][]subcommands.Command {
	return map[string][]subcommands.Command{
		"transactions": {&addCmd{}, &editCmd{}, &rmCmd{}, &lsCmd{}, &summaryCmd{}},
		"shared": {
			&shareCmd{direction: core.Lent},
			&shareCmd{direction: core.Borrowed},
			&unshareCmd{}, &peopleCmd{}, &personCmd{}, &reconcileCmd{},
		},
		"operations": {&serveMetricsCmd{}, &eventsCmd{}},
	}
}

func envFrom(args []interface{}) (*Env, error) {
	if len(args) == 0 {
		return nil, errors.New("cli: missing environment")
	}
	env, ok := args[0].(*Env)
	if !ok {
		return nil, fmt.Errorf("cli: unexpected argument %T", args[0])
	}
	return env, nil
}

// run opens the book, hands it to fn and closes it again, mapping errors to
// an exit status.
func run(ctx context.Context, args []interface{}, fn func(env *Env, b *book.Book) error) subcommands.ExitStatus {
	env, err := envFrom(args)
	if err != nil {
		return subcommands.ExitFailure
	}
	b, err := env.Open(ctx)
	if err != nil {
		fmt.Fprintln(env.Err, "Error:", err)
		return subcommands.ExitFailure
	}
	defer b.Close()

	if err := fn(env, b); err != nil {
		fmt.Fprintln(env.Err, "Error:", err)
		var usage usageError
		if errors.As(err, &usage) {
			return subcommands.ExitUsageError
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type usageError string

func (e usageError) Error() string { return string(e) }

// Format renders amount in currency with its symbol and grouping.
func (e *Env) Format(amount decimal.Decimal) string {
	return FormatMoney(amount, e.Currency)
}

// FormatMoney renders amount using the currency's minor unit. Unknown
// currencies fall back to a plain two-decimal figure.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(core.AmountPlaces)
	}
	factor := decimal.New(1, int32(cur.Fraction))
	minor := amount.Mul(factor).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}

// parseDateFlag accepts an empty string (today), "today", "yesterday" or a
// YYYY-MM-DD date.
func parseDateFlag(s string, today core.Date) (core.Date, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "today":
		return today, nil
	case "yesterday":
		return today.AddDays(-1), nil
	default:
		return core.ParseDate(s)
	}
}

func shortID(id string) string {
	if core.IsTemporaryID(id) && len(id) > 12 {
		return id[:12]
	}
	return id
}
