package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"moneybook/internal/aggregate"
	"moneybook/internal/book"
)

type summaryCmd struct {
	period string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "totals, top categories and shared balances for a period" }
func (*summaryCmd) Usage() string {
	return `moneybook summary [-p day|30days|mtd|ytd]

  Shows income, expense and net for the period, the five largest expense
  categories, recent transactions and what is owed either way.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.period, "p", "30days", "Period to summarize.")
}

func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return run(ctx, args, func(env *Env, b *book.Book) error {
		p, err := aggregate.ParsePeriod(c.period)
		if err != nil {
			return err
		}
		s := b.Summary(p)

		fmt.Fprintf(env.Out, "Period %s from %s (%d transactions)\n", p, p.Start(b.Now()), s.Count)
		fmt.Fprintf(env.Out, "  Income   %s\n", env.Format(s.Totals.Income))
		fmt.Fprintf(env.Out, "  Expense  %s\n", env.Format(s.Totals.Expense))
		fmt.Fprintf(env.Out, "  Net      %s\n", env.Format(s.Net))
		fmt.Fprintf(env.Out, "Balance    %s\n", env.Format(b.Balance()))

		if len(s.Categories) > 0 {
			fmt.Fprintln(env.Out, "\nTop categories")
			for i, ct := range s.Categories {
				fmt.Fprintf(env.Out, "  %d. %-20s %s\n", i+1, ct.Category, env.Format(ct.TotalAmount))
			}
		}

		d := b.Debts()
		fmt.Fprintln(env.Out, "\nShared")
		fmt.Fprintf(env.Out, "  Owed to you  %s\n", env.Format(d.OwedToYou))
		fmt.Fprintf(env.Out, "  You owe      %s\n", env.Format(d.YouOwe))

		if recent := b.Recent(b.Config().RecentLimit); len(recent) > 0 {
			fmt.Fprintln(env.Out, "\nRecent")
			writeTransactions(env, recent)
		}
		return nil
	})
}
