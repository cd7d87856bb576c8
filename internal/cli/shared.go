package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"moneybook/internal/book"
	"moneybook/internal/core"
	"moneybook/internal/debts"
	"moneybook/internal/services"
)

// shareCmd records money lent to or borrowed from someone. One value is
// registered per direction.
type shareCmd struct {
	direction core.Direction
	date      string
}

func (c *shareCmd) Name() string {
	if c.direction == core.Borrowed {
		return "borrow"
	}
	return "lend"
}

func (c *shareCmd) Synopsis() string {
	if c.direction == core.Borrowed {
		return "record money borrowed from someone"
	}
	return "record money lent to someone"
}

func (c *shareCmd) Usage() string {
	return fmt.Sprintf(`moneybook %s [-date <date>] <name> <amount> <description>

  Names are matched case-insensitively. A name seen for the first time
  creates a new person.
`, c.Name())
}

func (c *shareCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.date, "date", "", "Calendar date (YYYY-MM-DD, today or yesterday).")
}

func (c *shareCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		if f.NArg() < 3 {
			return usageError(c.Name() + " needs a name, an amount and a description")
		}
		amount, err := core.ParseAmount(f.Arg(1))
		if err != nil {
			return err
		}
		date, err := parseDateFlag(c.date, core.DateOf(b.Now()))
		if err != nil {
			return err
		}

		entry, person, err := b.Coordinator().AddSharedEntry(ctx,
			services.Counterparty{Name: f.Arg(0)},
			core.SharedEntry{
				Amount:      amount,
				Description: strings.Join(f.Args()[2:], " "),
				Date:        date,
				Direction:   c.direction,
			})
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Recorded %s %s %s (%s)\n", entry.Direction, env.Format(entry.Amount), person.DisplayName, entry.ID)
		fmt.Fprintln(env.Out, describeBalance(env, person))
		return nil
	})
}

type unshareCmd struct{}

func (*unshareCmd) Name() string             { return "unshare" }
func (*unshareCmd) Synopsis() string         { return "delete a shared entry and rebalance its person" }
func (*unshareCmd) Usage() string            { return "moneybook unshare <entry-id>\n" }
func (*unshareCmd) SetFlags(f *flag.FlagSet) {}

func (*unshareCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		if f.NArg() != 1 {
			return usageError("unshare needs exactly one entry id")
		}
		person, err := b.Coordinator().DeleteSharedEntry(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Deleted %s\n", f.Arg(0))
		fmt.Fprintln(env.Out, describeBalance(env, person))
		return nil
	})
}

type peopleCmd struct{}

func (*peopleCmd) Name() string             { return "people" }
func (*peopleCmd) Synopsis() string         { return "list counterparties and their balances" }
func (*peopleCmd) Usage() string            { return "moneybook people\n" }
func (*peopleCmd) SetFlags(f *flag.FlagSet) {}

func (*peopleCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		people := b.Ledger().People()
		if len(people) == 0 {
			fmt.Fprintln(env.Out, "No shared balances yet.")
			return nil
		}
		w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tBALANCE\tSTATUS\tLAST ACTIVITY")
		for _, p := range people {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.DisplayName, env.Format(p.CachedBalance.Abs()), statusLabel(p.Status()), p.LastActivityAt.Format("2006-01-02"))
		}
		w.Flush()

		d := b.Debts()
		fmt.Fprintf(env.Out, "\nOwed to you %s, you owe %s\n", env.Format(d.OwedToYou), env.Format(d.YouOwe))
		return nil
	})
}

type personCmd struct {
	direction string
}

func (*personCmd) Name() string     { return "person" }
func (*personCmd) Synopsis() string { return "show one person's shared entries" }
func (*personCmd) Usage() string {
	return "moneybook person [-direction lent|borrowed] <name>\n"
}

func (c *personCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.direction, "direction", "", "Only show lent or borrowed entries.")
}

func (c *personCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		if f.NArg() == 0 {
			return usageError("person needs a name")
		}
		name := strings.Join(f.Args(), " ")
		person, ok := b.Ledger().FindPerson(name)
		if !ok {
			return &core.NotFoundError{Kind: "person", ID: name}
		}
		filter := &debts.Filter{}
		if c.direction != "" {
			d, err := core.ParseDirection(c.direction)
			if err != nil {
				return err
			}
			filter.Direction = d
		}

		fmt.Fprintln(env.Out, describeBalance(env, person))
		entries := b.Ledger().List(person.ID, filter)
		if len(entries) == 0 {
			return nil
		}
		w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDATE\tDIRECTION\tAMOUNT\tDESCRIPTION")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(e.ID), e.Date, e.Direction, env.Format(e.Amount), e.Description)
		}
		return w.Flush()
	})
}

type reconcileCmd struct{}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "recompute cached balances from shared entries" }
func (*reconcileCmd) Usage() string {
	return `moneybook reconcile [<name>]

  Without a name every person is checked. Corrected balances are written
  back to the remote store.
`
}
func (*reconcileCmd) SetFlags(f *flag.FlagSet) {}

func (*reconcileCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		if f.NArg() == 0 {
			results, err := b.Coordinator().ReconcileAll(ctx)
			for _, r := range results {
				printReconcile(env, r)
			}
			if err == nil && len(results) == 0 {
				fmt.Fprintln(env.Out, "Nothing to reconcile.")
			}
			return err
		}

		name := strings.Join(f.Args(), " ")
		person, ok := b.Ledger().FindPerson(name)
		if !ok {
			return &core.NotFoundError{Kind: "person", ID: name}
		}
		r, err := b.Coordinator().Reconcile(ctx, person.ID)
		printReconcile(env, r)
		return err
	})
}

func printReconcile(env *Env, r services.ReconcileResult) {
	if r.Person.ID == "" {
		return
	}
	if r.Drift != nil {
		fmt.Fprintf(env.Out, "%s: corrected %s to %s\n", r.Person.DisplayName, env.Format(r.Drift.Cached), env.Format(r.Drift.Actual))
		return
	}
	fmt.Fprintf(env.Out, "%s: ok\n", r.Person.DisplayName)
}

func describeBalance(env *Env, p core.Person) string {
	switch p.Status() {
	case core.OwesYou:
		return fmt.Sprintf("%s owes you %s", p.DisplayName, env.Format(p.CachedBalance))
	case core.YouOwe:
		return fmt.Sprintf("You owe %s %s", p.DisplayName, env.Format(p.CachedBalance.Abs()))
	default:
		return fmt.Sprintf("You and %s are settled", p.DisplayName)
	}
}

func statusLabel(s core.BalanceStatus) string {
	switch s {
	case core.OwesYou:
		return "owes you"
	case core.YouOwe:
		return "you owe"
	default:
		return "settled"
	}
}
