package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the money-flow classification of a transaction.
type Direction string

const (
	DirectionDebit   Direction = "DEBIT"
	DirectionCredit  Direction = "CREDIT"
	DirectionUnknown Direction = "UNKNOWN"
)

// ParseDirection converts a user-supplied label into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case DirectionDebit:
		return DirectionDebit, nil
	case DirectionCredit:
		return DirectionCredit, nil
	case DirectionUnknown:
		return DirectionUnknown, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// UnknownBank is recorded when no allowlist entry names the sending bank.
const UnknownBank = "UNKNOWN"

// CategoryUPIPayment is the label of the UPI notification extraction family.
const CategoryUPIPayment = "UPI Payment"

// DateLayout is the storage and display layout for transaction dates.
const DateLayout = "2006-01-02"

// Transaction is a financial transaction extracted from a bank notification
// email.
type Transaction struct {
	// ID is the internal unique identifier, assigned when the record is saved.
	ID string `json:"id"`

	// Amount is the transaction value with exactly two fractional digits.
	Amount decimal.Decimal `json:"amount"`

	// Direction tells whether money left (DEBIT) or arrived (CREDIT).
	Direction Direction `json:"direction"`

	// Date is the calendar date of the transaction at UTC midnight.
	Date time.Time `json:"date"`

	// Reference is the bank-assigned reference number.
	Reference string `json:"reference"`

	// ToUPI is the payee virtual payment address, if present.
	ToUPI string `json:"to_upi,omitempty"`

	// PayeeName is the payee or merchant label, if present.
	PayeeName string `json:"payee_name,omitempty"`

	// AccountNumber is the masked or partial source account, if present.
	AccountNumber string `json:"account_number,omitempty"`

	// BankName comes from the allowlist entry that matched the sender.
	BankName string `json:"bank_name"`

	// Category is the label of the extraction family that produced this record.
	Category string `json:"category"`

	// SourceMessageID is the IMAP UID of the originating message.
	SourceMessageID uint32 `json:"source_message_id"`

	// SourceReceivedAt is when the mail store received the message.
	SourceReceivedAt time.Time `json:"source_received_at"`

	// IngestedAt is when this record was created.
	IngestedAt time.Time `json:"ingested_at"`
}

// DedupKey returns the (reference, date, amount) key used to detect
// already-ingested debits. It is empty for non-debit transactions.
func (t Transaction) DedupKey() string {
	if t.Direction != DirectionDebit {
		return ""
	}
	return DebitKey(t.Reference, t.Date, t.Amount)
}

// DebitKey builds the dedup key for a debit with the given fields.
func DebitKey(reference string, date time.Time, amount decimal.Decimal) string {
	return reference + "|" + date.Format(DateLayout) + "|" + amount.StringFixed(2)
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
