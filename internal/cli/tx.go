package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"moneybook/internal/aggregate"
	"moneybook/internal/book"
	"moneybook/internal/core"
	"moneybook/internal/txlog"
)

type addCmd struct {
	income bool
	date   string
	notes  string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record an expense or, with -income, an income" }
func (*addCmd) Usage() string {
	return `moneybook add [-income] [-date <date>] [-notes <text>] <amount> <category>

  Records a transaction. Amounts are positive decimals; a comma is read as
  the decimal separator. The date defaults to today.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.income, "income", false, "Record an income instead of an expense.")
	f.StringVar(&c.date, "date", "", "Calendar date (YYYY-MM-DD, today or yesterday).")
	f.StringVar(&c.notes, "notes", "", "Free-form notes.")
}

func (c *addCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		if f.NArg() < 2 {
			return usageError("add needs an amount and a category")
		}
		amount, err := core.ParseAmount(f.Arg(0))
		if err != nil {
			return err
		}
		date, err := parseDateFlag(c.date, core.DateOf(b.Now()))
		if err != nil {
			return err
		}
		kind := core.Expense
		if c.income {
			kind = core.Income
		}

		tx, err := b.Coordinator().AddTransaction(ctx, core.Transaction{
			Amount:   amount,
			Category: strings.Join(f.Args()[1:], " "),
			Date:     date,
			Notes:    c.notes,
			Kind:     kind,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Added %s %s: %s %s on %s\n", tx.Kind, tx.ID, tx.Category, env.Format(tx.Amount), tx.Date)
		return nil
	})
}

type editCmd struct {
	amount   string
	category string
	date     string
	notes    string
	kind     string
}

func (*editCmd) Name() string     { return "edit" }
func (*editCmd) Synopsis() string { return "change fields of a transaction in place" }
func (*editCmd) Usage() string {
	return `moneybook edit [-amount <amount>] [-category <name>] [-date <date>] [-notes <text>] [-kind income|expense] <id>

  Updates the given fields and keeps the others. The id and creation time
  never change.
`
}

func (c *editCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.amount, "amount", "", "New amount.")
	f.StringVar(&c.category, "category", "", "New category.")
	f.StringVar(&c.date, "date", "", "New calendar date.")
	f.StringVar(&c.notes, "notes", "", "New notes.")
	f.StringVar(&c.kind, "kind", "", "New kind (income or expense).")
}

func (c *editCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		if f.NArg() != 1 {
			return usageError("edit needs exactly one transaction id")
		}
		tx, err := b.Transactions().GetByID(f.Arg(0))
		if err != nil {
			return err
		}
		if c.amount != "" {
			if tx.Amount, err = core.ParseAmount(c.amount); err != nil {
				return err
			}
		}
		if c.category != "" {
			tx.Category = c.category
		}
		if c.date != "" {
			if tx.Date, err = parseDateFlag(c.date, core.DateOf(b.Now())); err != nil {
				return err
			}
		}
		if c.notes != "" {
			tx.Notes = c.notes
		}
		if c.kind != "" {
			if tx.Kind, err = core.ParseKind(c.kind); err != nil {
				return err
			}
		}

		edited, err := b.Coordinator().EditTransaction(ctx, tx.ID, tx)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Out, "Updated %s: %s %s on %s\n", edited.ID, edited.Category, env.Format(edited.Amount), edited.Date)
		return nil
	})
}

type rmCmd struct{}

func (*rmCmd) Name() string             { return "rm" }
func (*rmCmd) Synopsis() string         { return "delete transactions" }
func (*rmCmd) Usage() string            { return "moneybook rm <id>...\n" }
func (*rmCmd) SetFlags(f *flag.FlagSet) {}

func (*rmCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		if f.NArg() == 0 {
			return usageError("rm needs at least one transaction id")
		}
		for _, id := range f.Args() {
			if err := b.Coordinator().DeleteTransaction(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(env.Out, "Deleted %s\n", id)
		}
		return nil
	})
}

type lsCmd struct {
	period string
	kind   string
	limit  int
}

func (*lsCmd) Name() string     { return "ls" }
func (*lsCmd) Synopsis() string { return "list transactions, newest first" }
func (*lsCmd) Usage() string {
	return `moneybook ls [-p day|30days|mtd|ytd] [-kind income|expense] [-n <limit>]
`
}

func (c *lsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.period, "p", "", "Only show transactions in this period.")
	f.StringVar(&c.kind, "kind", "", "Only show incomes or expenses.")
	f.IntVar(&c.limit, "n", 0, "Show at most n transactions (0 for all).")
}

func (c *lsCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		filter := &txlog.Filter{}
		if c.kind != "" {
			kind, err := core.ParseKind(c.kind)
			if err != nil {
				return err
			}
			filter.Kind = kind
		}
		txs := b.Transactions().List(filter)
		if c.period != "" {
			p, err := aggregate.ParsePeriod(c.period)
			if err != nil {
				return err
			}
			txs = aggregate.FilterByPeriod(txs, p, b.Now())
		}
		if c.limit > 0 {
			txs = aggregate.Recent(txs, c.limit)
		}
		writeTransactions(env, txs)
		return nil
	})
}

func writeTransactions(env *Env, txs []core.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(env.Out, "No transactions.")
		return
	}
	w := tabwriter.NewWriter(env.Out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "ID\tDATE\tKIND\tCATEGORY\tAMOUNT\t")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", shortID(tx.ID), tx.Date, tx.Kind, tx.Category, env.Format(tx.Amount))
	}
	w.Flush()
}
