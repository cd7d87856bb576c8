package aggregate

import (
	"fmt"
	"strings"
	"time"

	"moneybook/internal/core"
)

type Period int

const (
	Day Period = iota
	Last30Days
	YearToDate
	MonthToDate
)

func (p Period) String() string {
	switch p {
	case Day:
		return "day"
	case Last30Days:
		return "last30days"
	case YearToDate:
		return "yeartodate"
	case MonthToDate:
		return "monthtodate"
	default:
		return fmt.Sprintf("period(%d)", int(p))
	}
}

func ParsePeriod(p string) (Period, error) {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "day", "today":
		return Day, nil
	case "30days", "last30days", "month30":
		return Last30Days, nil
	case "year", "ytd", "yeartodate":
		return YearToDate, nil
	case "month", "mtd", "monthtodate":
		return MonthToDate, nil
	default:
		return Day, &core.ValidationError{Field: "period", Reason: fmt.Sprintf("unknown period %q", p)}
	}
}

// Start returns the first calendar day included in p as seen at now.
func (p Period) Start(now time.Time) core.Date {
	today := core.DateOf(now)
	switch p {
	case Last30Days:
		return core.DateOf(now.Add(-30 * 24 * time.Hour))
	case YearToDate:
		return core.NewDate(today.Year(), time.January, 1)
	case MonthToDate:
		return core.NewDate(today.Year(), today.Month(), 1)
	default:
		return today
	}
}

// Contains reports whether d falls inside p as seen at now. Day is exactly
// today; the other periods are open-ended from their start.
func (p Period) Contains(d core.Date, now time.Time) bool {
	if p == Day {
		return d.Equal(core.DateOf(now))
	}
	return !d.Before(p.Start(now))
}
