// Package report renders transaction listings, debit totals and run
// history for the terminal, and provides the calendar windows used to query
// them.
package report

import (
	"fmt"
	"time"

	"github.com/nhle/mailledger/internal/model"
)

// Window is an inclusive range of calendar days.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) String() string {
	return w.From.Format(model.DateLayout) + ".." + w.To.Format(model.DateLayout)
}

// Bounds returns pointers suitable for store.TransactionFilter.
func (w Window) Bounds() (*time.Time, *time.Time) {
	from, to := w.From, w.To
	return &from, &to
}

// DayWindow covers a single day.
func DayWindow(day time.Time) Window {
	d := model.DateOnly(day)
	return Window{From: d, To: d}
}

// MonthWindow covers the whole calendar month.
func MonthWindow(year int, month time.Month) (Window, error) {
	if month < time.January || month > time.December {
		return Window{}, fmt.Errorf("invalid month %d", month)
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Window{From: from, To: from.AddDate(0, 1, -1)}, nil
}

// YearWindow covers January 1 through December 31 of year.
func YearWindow(year int) Window {
	return YearRangeWindow(year, year)
}

// YearRangeWindow covers January 1 of fromYear through December 31 of
// toYear. The years are swapped when given in reverse.
func YearRangeWindow(fromYear, toYear int) Window {
	if fromYear > toYear {
		fromYear, toYear = toYear, fromYear
	}
	return Window{
		From: time.Date(fromYear, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(toYear, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

// LastMonths covers the n months up to and including now's day. The start
// day is clamped to the end of a shorter month, so May 31 minus three
// months is February 28 or 29.
func LastMonths(now time.Time, n int) (Window, error) {
	if n <= 0 {
		return Window{}, fmt.Errorf("month count must be positive, got %d", n)
	}
	to := model.DateOnly(now)
	return Window{From: minusMonths(to, n), To: to}, nil
}

// ParseMonth parses a YYYY-MM value into a month window.
func ParseMonth(s string) (Window, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Window{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return MonthWindow(t.Year(), t.Month())
}

func minusMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -n, 0)
	last := first.AddDate(0, 1, -1).Day()

	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}
