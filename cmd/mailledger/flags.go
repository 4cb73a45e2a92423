package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
	"github.com/nhle/mailledger/internal/report"
	"github.com/nhle/mailledger/internal/store"
)

// windowFlags selects a date window: an explicit range or one of the
// calendar shortcuts. At most one form may be given.
type windowFlags struct {
	from       *string
	to         *string
	day        *string
	month      *string
	year       *int
	lastMonths *int
}

func registerWindowFlags(fs *flag.FlagSet) *windowFlags {
	return &windowFlags{
		from:       fs.String("from", "", "first day (YYYY-MM-DD)"),
		to:         fs.String("to", "", "last day (YYYY-MM-DD)"),
		day:        fs.String("day", "", "single day (YYYY-MM-DD, or \"today\")"),
		month:      fs.String("month", "", "calendar month (YYYY-MM)"),
		year:       fs.Int("year", 0, "calendar year"),
		lastMonths: fs.Int("last-months", 0, "the last N months up to today"),
	}
}

// window resolves the flags. ok is false when no window was requested.
func (w *windowFlags) window(now time.Time) (report.Window, bool, error) {
	forms := 0
	for _, set := range []bool{
		*w.from != "" || *w.to != "",
		*w.day != "",
		*w.month != "",
		*w.year != 0,
		*w.lastMonths != 0,
	} {
		if set {
			forms++
		}
	}
	if forms > 1 {
		return report.Window{}, false, errors.New("use only one of -from/-to, -day, -month, -year, -last-months")
	}

	switch {
	case *w.day != "":
		if strings.EqualFold(*w.day, "today") {
			return report.DayWindow(now), true, nil
		}
		d, err := parseDate(*w.day)
		if err != nil {
			return report.Window{}, false, err
		}
		return report.DayWindow(d), true, nil
	case *w.month != "":
		win, err := report.ParseMonth(*w.month)
		return win, err == nil, err
	case *w.year != 0:
		return report.YearWindow(*w.year), true, nil
	case *w.lastMonths != 0:
		win, err := report.LastMonths(now, *w.lastMonths)
		return win, err == nil, err
	case *w.from != "" || *w.to != "":
		return explicitWindow(*w.from, *w.to, now)
	default:
		return report.Window{}, false, nil
	}
}

// explicitWindow fills a missing bound with the other one's extreme: no
// -from means the start of time, no -to means today.
func explicitWindow(from, to string, now time.Time) (report.Window, bool, error) {
	win := report.Window{
		From: time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   model.DateOnly(now),
	}
	if from != "" {
		d, err := parseDate(from)
		if err != nil {
			return report.Window{}, false, err
		}
		win.From = d
	}
	if to != "" {
		d, err := parseDate(to)
		if err != nil {
			return report.Window{}, false, err
		}
		win.To = d
	}
	if win.From.After(win.To) {
		win.From, win.To = win.To, win.From
	}
	return win, true, nil
}

// listFlags adds the transaction filters on top of a window.
type listFlags struct {
	window     *windowFlags
	upi        *string
	upiExact   *bool
	payee      *string
	payeeExact *bool
	minAmount  *string
	maxAmount  *string
	bank       *string
	direction  *string
	page       *int
	size       *int
	sortBy     *string
	sortDir    *string
}

func registerListFlags(fs *flag.FlagSet) *listFlags {
	return &listFlags{
		window:     registerWindowFlags(fs),
		upi:        fs.String("upi", "", "payee VPA (substring unless -upi-exact)"),
		upiExact:   fs.Bool("upi-exact", false, "match -upi exactly"),
		payee:      fs.String("payee", "", "payee name (substring unless -payee-exact)"),
		payeeExact: fs.Bool("payee-exact", false, "match -payee exactly"),
		minAmount:  fs.String("min", "", "minimum amount"),
		maxAmount:  fs.String("max", "", "maximum amount"),
		bank:       fs.String("bank", "", "bank name"),
		direction:  fs.String("direction", "", "DEBIT, CREDIT or UNKNOWN"),
		page:       fs.Int("page", 0, "zero-based page number"),
		size:       fs.Int("size", store.DefaultPageSize, "page size"),
		sortBy:     fs.String("sort", "date", "date, amount, payee_name, bank_name or ingested_at"),
		sortDir:    fs.String("dir", "desc", "asc or desc"),
	}
}

// singleDay reports the day when -day is the only flag given, which lists
// that day in full instead of paging through a filter.
func (l *listFlags) singleDay(fs *flag.FlagSet, now time.Time) (time.Time, bool, error) {
	if *l.window.day == "" {
		return time.Time{}, false, nil
	}
	only := true
	fs.Visit(func(f *flag.Flag) {
		if f.Name != "day" {
			only = false
		}
	})
	if !only {
		return time.Time{}, false, nil
	}
	win, _, err := l.window.window(now)
	if err != nil {
		return time.Time{}, false, err
	}
	return win.From, true, nil
}

func (l *listFlags) filter(now time.Time) (store.TransactionFilter, error) {
	var f store.TransactionFilter

	win, ok, err := l.window.window(now)
	if err != nil {
		return f, err
	}
	if ok {
		f.From, f.To = win.Bounds()
	}

	if *l.upi != "" {
		f.ToUPI = l.upi
		f.ToUPIExact = *l.upiExact
	}
	if *l.payee != "" {
		f.PayeeName = l.payee
		f.PayeeNameExact = *l.payeeExact
	}
	if *l.bank != "" {
		f.BankName = l.bank
	}
	if *l.minAmount != "" {
		d, err := decimal.NewFromString(*l.minAmount)
		if err != nil {
			return f, fmt.Errorf("invalid -min %q", *l.minAmount)
		}
		f.AmountMin = &d
	}
	if *l.maxAmount != "" {
		d, err := decimal.NewFromString(*l.maxAmount)
		if err != nil {
			return f, fmt.Errorf("invalid -max %q", *l.maxAmount)
		}
		f.AmountMax = &d
	}
	if *l.direction != "" {
		d, err := model.ParseDirection(*l.direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}

	switch strings.ToLower(*l.sortDir) {
	case "asc":
	case "desc":
		f.SortDesc = true
	default:
		return f, fmt.Errorf("invalid -dir %q, want asc or desc", *l.sortDir)
	}

	if *l.page < 0 {
		return f, fmt.Errorf("invalid -page %d", *l.page)
	}
	f.SortBy = *l.sortBy
	f.Page = *l.page
	f.PageSize = *l.size
	return f, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseDateList(s string) ([]time.Time, error) {
	var dates []time.Time
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		d, err := parseDate(part)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return nil, errors.New("no dates given")
	}
	return dates, nil
}
