package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
)

const transactionColumns = `id, amount_minor, direction, txn_date, reference,
	to_upi, payee_name, account_number, bank_name, category,
	source_message_id, source_received_at, ingested_at, debit_key`

// transactionRow is the database shape of model.Transaction. Amounts are
// stored in minor units and dates as YYYY-MM-DD text.
type transactionRow struct {
	ID               string         `db:"id"`
	AmountMinor      int64          `db:"amount_minor"`
	Direction        string         `db:"direction"`
	Date             string         `db:"txn_date"`
	Reference        string         `db:"reference"`
	ToUPI            string         `db:"to_upi"`
	PayeeName        string         `db:"payee_name"`
	AccountNumber    string         `db:"account_number"`
	BankName         string         `db:"bank_name"`
	Category         string         `db:"category"`
	SourceMessageID  int64          `db:"source_message_id"`
	SourceReceivedAt time.Time      `db:"source_received_at"`
	IngestedAt       time.Time      `db:"ingested_at"`
	DebitKey         sql.NullString `db:"debit_key"`
}

func (r transactionRow) toModel() (model.Transaction, error) {
	date, err := time.Parse(model.DateLayout, r.Date)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parsing date of transaction %s: %w", r.ID, err)
	}

	return model.Transaction{
		ID:               r.ID,
		Amount:           fromMinor(r.AmountMinor),
		Direction:        model.Direction(r.Direction),
		Date:             date,
		Reference:        r.Reference,
		ToUPI:            r.ToUPI,
		PayeeName:        r.PayeeName,
		AccountNumber:    r.AccountNumber,
		BankName:         r.BankName,
		Category:         r.Category,
		SourceMessageID:  uint32(r.SourceMessageID),
		SourceReceivedAt: r.SourceReceivedAt.UTC(),
		IngestedAt:       r.IngestedAt.UTC(),
	}, nil
}

// MaxProcessedMessageID returns the highest source message UID stored. The
// boolean is false when no transaction exists yet.
func (s *SQLStore) MaxProcessedMessageID(ctx context.Context) (uint32, bool, error) {
	var maxID sql.NullInt64
	if err := s.db.GetContext(ctx, &maxID, "SELECT MAX(source_message_id) FROM transactions"); err != nil {
		return 0, false, fmt.Errorf("reading max source message id: %w", err)
	}
	if !maxID.Valid {
		return 0, false, nil
	}
	return uint32(maxID.Int64), true, nil
}

// ExistsDebit reports whether a DEBIT with the given reference, date and
// amount is stored.
func (s *SQLStore) ExistsDebit(
	ctx context.Context,
	reference string,
	date time.Time,
	amount decimal.Decimal,
) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM transactions WHERE debit_key = ?",
		model.DebitKey(reference, date, amount),
	)
	if err != nil {
		return false, fmt.Errorf("checking debit %s: %w", reference, err)
	}
	return count > 0, nil
}

// SaveTransaction inserts txn, assigning an ID when it has none. A debit
// whose dedup key already exists yields ErrDuplicate.
func (s *SQLStore) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}

	var debitKey sql.NullString
	if key := txn.DedupKey(); key != "" {
		debitKey = sql.NullString{String: key, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, toMinor(txn.Amount), string(txn.Direction),
		txn.Date.Format(model.DateLayout), txn.Reference,
		txn.ToUPI, txn.PayeeName, txn.AccountNumber, txn.BankName, txn.Category,
		int64(txn.SourceMessageID), txn.SourceReceivedAt.UTC(), txn.IngestedAt.UTC(),
		debitKey,
	)
	if err != nil {
		if s.isUniqueViolation(err) {
			return fmt.Errorf("saving transaction %s: %w", txn.Reference, ErrDuplicate)
		}
		return fmt.Errorf("saving transaction %s: %w", txn.Reference, err)
	}

	return nil
}

// GetTransactionByID retrieves a single transaction.
func (s *SQLStore) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting transaction %s: %w", id, err)
	}

	txn, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ListTransactions returns one page of transactions matching filter.
func (s *SQLStore) ListTransactions(
	ctx context.Context,
	filter TransactionFilter,
) (*TransactionPage, error) {
	where, args := buildTransactionWhere(filter)

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM transactions"+where, args...); err != nil {
		return nil, fmt.Errorf("counting transactions: %w", err)
	}

	page := filter.Page
	if page < 0 {
		page = 0
	}
	size := filter.PageSize
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}

	query := "SELECT " + transactionColumns + " FROM transactions" + where +
		transactionOrder(filter) +
		fmt.Sprintf(" LIMIT %d OFFSET %d", size, page*size)

	items, err := s.selectTransactions(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &TransactionPage{
		Items:      items,
		Page:       page,
		PageSize:   size,
		Total:      total,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// TransactionsOn returns every transaction dated on day, newest ingestion
// first.
func (s *SQLStore) TransactionsOn(ctx context.Context, day time.Time) ([]model.Transaction, error) {
	return s.selectTransactions(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE txn_date = ? ORDER BY ingested_at DESC, id",
		day.Format(model.DateLayout),
	)
}

func (s *SQLStore) selectTransactions(ctx context.Context, query string, args ...interface{}) ([]model.Transaction, error) {
	var rows []transactionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}

	txns := make([]model.Transaction, 0, len(rows))
	for _, r := range rows {
		txn, err := r.toModel()
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

func buildTransactionWhere(filter TransactionFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if filter.From != nil {
		conditions = append(conditions, "txn_date >= ?")
		args = append(args, filter.From.Format(model.DateLayout))
	}
	if filter.To != nil {
		conditions = append(conditions, "txn_date <= ?")
		args = append(args, filter.To.Format(model.DateLayout))
	}
	if filter.ToUPI != nil && *filter.ToUPI != "" {
		cond, arg := textMatch("to_upi", *filter.ToUPI, filter.ToUPIExact)
		conditions = append(conditions, cond)
		args = append(args, arg)
	}
	if filter.PayeeName != nil && *filter.PayeeName != "" {
		cond, arg := textMatch("payee_name", *filter.PayeeName, filter.PayeeNameExact)
		conditions = append(conditions, cond)
		args = append(args, arg)
	}
	if filter.AmountMin != nil {
		conditions = append(conditions, "amount_minor >= ?")
		args = append(args, toMinor(*filter.AmountMin))
	}
	if filter.AmountMax != nil {
		conditions = append(conditions, "amount_minor <= ?")
		args = append(args, toMinor(*filter.AmountMax))
	}
	if filter.BankName != nil && *filter.BankName != "" {
		conditions = append(conditions, "LOWER(bank_name) = LOWER(?)")
		args = append(args, *filter.BankName)
	}
	if filter.Direction != nil {
		conditions = append(conditions, "direction = ?")
		args = append(args, string(*filter.Direction))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func textMatch(column, value string, exact bool) (string, interface{}) {
	if exact {
		return column + " = ?", value
	}
	return "LOWER(" + column + ") LIKE ?", "%" + strings.ToLower(value) + "%"
}

func transactionOrder(filter TransactionFilter) string {
	sortBy := "txn_date"
	if filter.SortBy != "" {
		allowed := map[string]string{
			"date":        "txn_date",
			"amount":      "amount_minor",
			"payee_name":  "payee_name",
			"bank_name":   "bank_name",
			"ingested_at": "ingested_at",
		}
		if col, ok := allowed[filter.SortBy]; ok {
			sortBy = col
		}
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	// id keeps paging stable between equal sort keys.
	return fmt.Sprintf(" ORDER BY %s %s, id %s", sortBy, direction, direction)
}

func toMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
