package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
)

var (
	// ErrDuplicate is returned by SaveTransaction when a debit with the same
	// reference, date and amount already exists.
	ErrDuplicate = errors.New("duplicate debit transaction")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

const (
	// DefaultPageSize applies when TransactionFilter.PageSize is zero.
	DefaultPageSize = 10

	// MaxPageSize caps TransactionFilter.PageSize.
	MaxPageSize = 500
)

// TransactionFilter controls filtering, sorting, and pagination for
// transaction listings. Nil fields do not filter.
type TransactionFilter struct {
	From *time.Time // inclusive day
	To   *time.Time // inclusive day

	ToUPI      *string
	ToUPIExact bool // otherwise case-insensitive substring

	PayeeName      *string
	PayeeNameExact bool

	AmountMin *decimal.Decimal
	AmountMax *decimal.Decimal
	BankName  *string
	Direction *model.Direction

	SortBy   string // "date", "amount", "payee_name", "bank_name", "ingested_at"
	SortDesc bool
	Page     int // zero-based
	PageSize int
}

// TransactionPage is one page of a listing.
type TransactionPage struct {
	Items      []model.Transaction
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// Store defines the persistence interface for transactions and run audits.
type Store interface {
	// === Ingestion ===

	MaxProcessedMessageID(ctx context.Context) (uint32, bool, error)
	ExistsDebit(ctx context.Context, reference string, date time.Time, amount decimal.Decimal) (bool, error)
	SaveTransaction(ctx context.Context, txn *model.Transaction) error

	// === Reporting ===

	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) (*TransactionPage, error)
	TransactionsOn(ctx context.Context, day time.Time) ([]model.Transaction, error)
	SumDebits(ctx context.Context) (decimal.Decimal, error)
	SumDebitsBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	SumDebitsOnDates(ctx context.Context, dates []time.Time) (decimal.Decimal, error)
	SumDebitsByDate(ctx context.Context, dates []time.Time) (map[string]decimal.Decimal, error)

	// === Run audit ===

	SaveRun(ctx context.Context, run model.IngestionRun) error
	RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error)

	Close() error
}
