package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
)

// Day returns UTC midnight of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Transaction builds a transaction with sensible defaults. amount is a
// decimal string such as "250.00".
func Transaction(
	direction model.Direction,
	reference string,
	date time.Time,
	amount string,
	uid uint32,
) *model.Transaction {
	return &model.Transaction{
		Amount:           decimal.RequireFromString(amount),
		Direction:        direction,
		Date:             date,
		Reference:        reference,
		ToUPI:            "merchant@upi",
		PayeeName:        "Merchant Store",
		AccountNumber:    "1234",
		BankName:         "HDFC",
		Category:         model.CategoryUPIPayment,
		SourceMessageID:  uid,
		SourceReceivedAt: date.Add(10 * time.Hour),
		IngestedAt:       date.Add(11 * time.Hour),
	}
}
