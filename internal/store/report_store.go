package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
)

// SumDebits returns the total of all DEBIT transactions.
func (s *SQLStore) SumDebits(ctx context.Context) (decimal.Decimal, error) {
	return s.sumMinor(ctx, "total debits",
		"SELECT SUM(amount_minor) FROM transactions WHERE direction = ?",
		string(model.DirectionDebit))
}

// SumDebitsBetween returns the DEBIT total dated within [from, to].
func (s *SQLStore) SumDebitsBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	if from.After(to) {
		from, to = to, from
	}
	return s.sumMinor(ctx, "debits between dates",
		"SELECT SUM(amount_minor) FROM transactions WHERE direction = ? AND txn_date BETWEEN ? AND ?",
		string(model.DirectionDebit), from.Format(model.DateLayout), to.Format(model.DateLayout))
}

// SumDebitsOnDates returns the DEBIT total over an explicit set of days.
func (s *SQLStore) SumDebitsOnDates(ctx context.Context, dates []time.Time) (decimal.Decimal, error) {
	if len(dates) == 0 {
		return decimal.Zero, nil
	}

	query, args, err := sqlx.In(
		"SELECT SUM(amount_minor) FROM transactions WHERE direction = ? AND txn_date IN (?)",
		string(model.DirectionDebit), formatDates(dates),
	)
	if err != nil {
		return decimal.Zero, fmt.Errorf("building debits-on-dates query: %w", err)
	}
	return s.sumMinor(ctx, "debits on dates", s.db.Rebind(query), args...)
}

// SumDebitsByDate returns the DEBIT total per requested day, keyed by
// YYYY-MM-DD. Days without debits map to zero.
func (s *SQLStore) SumDebitsByDate(ctx context.Context, dates []time.Time) (map[string]decimal.Decimal, error) {
	totals := make(map[string]decimal.Decimal, len(dates))
	if len(dates) == 0 {
		return totals, nil
	}

	keys := formatDates(dates)
	for _, k := range keys {
		totals[k] = decimal.Zero
	}

	query, args, err := sqlx.In(`
		SELECT txn_date, SUM(amount_minor) AS total
		FROM transactions
		WHERE direction = ? AND txn_date IN (?)
		GROUP BY txn_date`,
		string(model.DirectionDebit), keys,
	)
	if err != nil {
		return nil, fmt.Errorf("building debits-by-date query: %w", err)
	}

	var rows []struct {
		Date  string `db:"txn_date"`
		Total int64  `db:"total"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("summing debits by date: %w", err)
	}

	for _, r := range rows {
		totals[r.Date] = fromMinor(r.Total)
	}
	return totals, nil
}

func (s *SQLStore) sumMinor(ctx context.Context, what, query string, args ...interface{}) (decimal.Decimal, error) {
	var total sql.NullInt64
	if err := s.db.GetContext(ctx, &total, query, args...); err != nil {
		return decimal.Zero, fmt.Errorf("summing %s: %w", what, err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return fromMinor(total.Int64), nil
}

func formatDates(dates []time.Time) []string {
	seen := make(map[string]bool, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		k := d.Format(model.DateLayout)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
