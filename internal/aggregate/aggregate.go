// Package aggregate derives views from ledger snapshots: net balance,
// period filtering, category breakdown and income/expense totals.
//
// Every function is pure and total. An empty input yields zero values.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"moneybook/internal/core"
)

// TopCategories is the number of categories CategoryBreakdown keeps.
const TopCategories = 5

// RecentCount is the number of entries shown as recent activity.
const RecentCount = 10

type (
	CategoryTotal struct {
		Category    string          `json:"category"`
		TotalAmount decimal.Decimal `json:"total_amount"`
	}

	Totals struct {
		Income  decimal.Decimal `json:"income"`
		Expense decimal.Decimal `json:"expense"`
	}

	// Summary bundles the figures shown for one period.
	Summary struct {
		Period     Period          `json:"-"`
		Count      int             `json:"count"`
		Totals     Totals          `json:"totals"`
		Net        decimal.Decimal `json:"net"`
		Categories []CategoryTotal `json:"categories"`
	}

	// DebtSummary splits shared balances by the sign convention.
	DebtSummary struct {
		OwedToYou decimal.Decimal `json:"owed_to_you"`
		YouOwe    decimal.Decimal `json:"you_owe"`
		Net       decimal.Decimal `json:"net"`
	}
)

// NetBalance is the sum of incomes minus the sum of expenses.
func NetBalance(entries []core.Transaction) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Signed())
	}
	return sum
}

// FilterByPeriod keeps the entries whose calendar date falls in p as seen at
// now. Input order is preserved.
func FilterByPeriod(entries []core.Transaction, p Period, now time.Time) []core.Transaction {
	out := make([]core.Transaction, 0, len(entries))
	for _, e := range entries {
		if p.Contains(e.Date, now) {
			out = append(out, e)
		}
	}
	return out
}

// CategoryBreakdown totals expenses per exact category string and returns
// the largest TopCategories, biggest first. Equal totals keep the order in
// which their category first appeared in entries.
func CategoryBreakdown(entries []core.Transaction) []CategoryTotal {
	index := make(map[string]int)
	totals := make([]CategoryTotal, 0)
	for _, e := range entries {
		if e.Kind != core.Expense {
			continue
		}
		i, ok := index[e.Category]
		if !ok {
			i = len(totals)
			index[e.Category] = i
			totals = append(totals, CategoryTotal{Category: e.Category, TotalAmount: decimal.Zero})
		}
		totals[i].TotalAmount = totals[i].TotalAmount.Add(e.Amount)
	}

	sort.SliceStable(totals, func(i, j int) bool {
		return totals[i].TotalAmount.GreaterThan(totals[j].TotalAmount)
	})
	if len(totals) > TopCategories {
		totals = totals[:TopCategories]
	}
	return totals
}

func IncomeExpenseTotals(entries []core.Transaction) Totals {
	t := Totals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, e := range entries {
		switch e.Kind {
		case core.Income:
			t.Income = t.Income.Add(e.Amount)
		case core.Expense:
			t.Expense = t.Expense.Add(e.Amount)
		}
	}
	return t
}

// Recent returns at most n entries from the front of a newest-first list.
func Recent(entries []core.Transaction, n int) []core.Transaction {
	if n < 0 {
		n = 0
	}
	if len(entries) < n {
		n = len(entries)
	}
	out := make([]core.Transaction, n)
	copy(out, entries[:n])
	return out
}

// Summarize computes the figures for entries that fall in p.
func Summarize(entries []core.Transaction, p Period, now time.Time) Summary {
	in := FilterByPeriod(entries, p, now)
	return Summary{
		Period:     p,
		Count:      len(in),
		Totals:     IncomeExpenseTotals(in),
		Net:        NetBalance(in),
		Categories: CategoryBreakdown(in),
	}
}

// SummarizeDebts adds up what people owe the user and what the user owes.
func SummarizeDebts(people []core.Person) DebtSummary {
	s := DebtSummary{OwedToYou: decimal.Zero, YouOwe: decimal.Zero, Net: decimal.Zero}
	for _, p := range people {
		switch p.Status() {
		case core.OwesYou:
			s.OwedToYou = s.OwedToYou.Add(p.CachedBalance)
		case core.YouOwe:
			s.YouOwe = s.YouOwe.Add(p.CachedBalance.Abs())
		}
		s.Net = s.Net.Add(p.CachedBalance)
	}
	return s
}
