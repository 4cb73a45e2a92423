package extract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
)

const sampleDebit = "Rs.250.00 has been debited from account *1234 to VPA merchant@upi " +
	"Merchant Store on 05-04-24. Your UPI transaction reference number is 123456789012."

type fakeDedup struct {
	keys  map[string]bool
	err   error
	calls int
}

func (f *fakeDedup) ExistsDebit(_ context.Context, ref string, date time.Time, amount decimal.Decimal) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.keys[model.DebitKey(ref, date, amount)], nil
}

func TestExtractSampleDebit(t *testing.T) {
	now := time.Date(2024, 4, 6, 9, 0, 0, 0, time.UTC)
	received := time.Date(2024, 4, 5, 18, 2, 0, 0, time.UTC)

	e := NewExtractor(Rules{}, &fakeDedup{})
	txn, err := e.Extract(context.Background(), Input{
		Text:       sampleDebit,
		BankName:   "HDFC",
		MessageID:  17,
		ReceivedAt: received,
		Now:        now,
	})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if !txn.Amount.Equal(decimal.RequireFromString("250.00")) {
		t.Errorf("Amount = %s, want 250.00", txn.Amount)
	}
	if txn.AccountNumber != "1234" {
		t.Errorf("AccountNumber = %q, want 1234", txn.AccountNumber)
	}
	if txn.ToUPI != "merchant@upi" {
		t.Errorf("ToUPI = %q, want merchant@upi", txn.ToUPI)
	}
	if txn.PayeeName != "Merchant Store" {
		t.Errorf("PayeeName = %q, want Merchant Store", txn.PayeeName)
	}
	if want := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC); !txn.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", txn.Date, want)
	}
	if txn.Reference != "123456789012" {
		t.Errorf("Reference = %q, want 123456789012", txn.Reference)
	}
	if txn.Direction != model.DirectionDebit {
		t.Errorf("Direction = %s, want DEBIT", txn.Direction)
	}
	if txn.Category != model.CategoryUPIPayment {
		t.Errorf("Category = %q", txn.Category)
	}
	if txn.BankName != "HDFC" || txn.SourceMessageID != 17 {
		t.Errorf("BankName/SourceMessageID = %q/%d", txn.BankName, txn.SourceMessageID)
	}
	if !txn.SourceReceivedAt.Equal(received) || !txn.IngestedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v", txn.SourceReceivedAt, txn.IngestedAt)
	}
}

func TestExtractRejections(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Reason
	}{
		{
			name: "no currency marker",
			text: "250.00 has been debited on 05-04-24 reference number is 1",
			want: ReasonNoAmount,
		},
		{
			name: "three decimals",
			text: "Rs.250.005 debited on 05-04-24 reference number is 1",
			want: ReasonNoAmount,
		},
		{
			name: "one decimal",
			text: "INR 250.5 debited on 05-04-24 reference number is 1",
			want: ReasonNoAmount,
		},
		{
			name: "amount beyond minor unit range",
			text: "Rs.99999999999999999999.00 debited on 05-04-24 reference number is 1",
			want: ReasonNoAmount,
		},
		{
			name: "blocked credit card",
			text: "Rs.999.00 spent on your Credit Card XX4321 on 05-04-24 reference number is 55",
			want: ReasonExcluded,
		},
		{
			name: "missing reference",
			text: "Rs.250.00 has been debited to VPA a@upi on 05-04-24",
			want: ReasonNoReference,
		},
		{
			name: "missing date",
			text: "Rs.250.00 has been debited, reference number is 42",
			want: ReasonBadDate,
		},
		{
			name: "impossible date",
			text: "Rs.250.00 has been debited on 31-02-24 reference number is 42",
			want: ReasonBadDate,
		},
	}

	e := NewExtractor(Rules{BlockedCardSuffixes: []string{"4321"}}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn, err := e.Extract(context.Background(), Input{Text: tt.text})
			if txn != nil {
				t.Fatalf("expected no transaction, got %+v", txn)
			}
			reason, ok := IsRejected(err)
			if !ok {
				t.Fatalf("expected RejectedError, got %v", err)
			}
			if reason != tt.want {
				t.Fatalf("reason = %s, want %s", reason, tt.want)
			}
		})
	}
}

func TestExclusionNeedsCreditCardAndBlockedSuffix(t *testing.T) {
	e := NewExtractor(Rules{BlockedCardSuffixes: []string{"4321"}}, nil)

	tests := []struct {
		name     string
		text     string
		excluded bool
	}{
		{"credit card other suffix", "Rs.10.00 debited via credit card XX9999 on 01-01-24 reference number is 7", false},
		{"blocked digits inside longer number", "Rs.10.00 debited via credit card 143210 on 01-01-24 reference number is 7", false},
		{"suffix without credit card", "Rs.10.00 debited from account 4321 on 01-01-24 reference number is 7", false},
		{"credit card with blocked suffix", "Rs.10.00 debited via CREDIT CARD ending 4321 on 01-01-24 reference number is 7", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), Input{Text: tt.text})
			reason, _ := IsRejected(err)
			if got := reason == ReasonExcluded; got != tt.excluded {
				t.Fatalf("excluded = %v, want %v (err %v)", got, tt.excluded, err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want model.Direction
	}{
		{"Rs.1.00 has been DEBITED", model.DirectionDebit},
		{"a debit of Rs.1.00", model.DirectionDebit},
		{"Rs.1.00 has been credited to your account", model.DirectionCredit},
		{"credit of Rs.1.00 received", model.DirectionCredit},
		{"Rs.1.00 spent on credit card", model.DirectionUnknown},
		{"your creditworthiness", model.DirectionUnknown},
		{"autodebited amount", model.DirectionUnknown},
		{"Rs.1.00 paid", model.DirectionUnknown},
	}

	for _, tt := range tests {
		if got := classify(tt.text); got != tt.want {
			t.Errorf("classify(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestExtractEmptyHasNoSideEffect(t *testing.T) {
	dedup := &fakeDedup{}
	e := NewExtractor(Rules{}, dedup)

	_, err := e.Extract(context.Background(), Input{Text: "  \n\t "})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
	if dedup.calls != 0 {
		t.Fatalf("dedup called %d times for empty input", dedup.calls)
	}
}

func TestExtractDuplicate(t *testing.T) {
	date := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	dedup := &fakeDedup{keys: map[string]bool{
		model.DebitKey("123456789012", date, decimal.RequireFromString("250.00")): true,
	}}
	e := NewExtractor(Rules{}, dedup)

	_, err := e.Extract(context.Background(), Input{Text: sampleDebit})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestExtractDedupFailure(t *testing.T) {
	boom := errors.New("database is locked")
	e := NewExtractor(Rules{}, &fakeDedup{err: boom})

	_, err := e.Extract(context.Background(), Input{Text: sampleDebit})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped dedup error, got %v", err)
	}
	if _, rejected := IsRejected(err); rejected {
		t.Fatal("dedup failure must not be reported as a rejection")
	}
}

func TestExtractThousandsSeparatorAndINR(t *testing.T) {
	e := NewExtractor(Rules{Category: "Card"}, nil)

	txn, err := e.Extract(context.Background(), Input{
		Text: "INR 1,23,456.78 credited to your account on 15-08-23. Reference number no. 998877",
	})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if !txn.Amount.Equal(decimal.RequireFromString("123456.78")) {
		t.Errorf("Amount = %s", txn.Amount)
	}
	if txn.Reference != "998877" || txn.Direction != model.DirectionCredit {
		t.Errorf("Reference/Direction = %q/%s", txn.Reference, txn.Direction)
	}
	if txn.BankName != model.UnknownBank || txn.Category != "Card" {
		t.Errorf("BankName/Category = %q/%q", txn.BankName, txn.Category)
	}
	if txn.ToUPI != "" || txn.PayeeName != "" || txn.AccountNumber != "" {
		t.Errorf("optional fields should be empty: %+v", txn)
	}
}

func TestExtractPayeeWrappedAcrossLines(t *testing.T) {
	e := NewExtractor(Rules{}, nil)

	txn, err := e.Extract(context.Background(), Input{
		Text: "Rs.250.00 has been debited from account *1234 to VPA merchant@upi MERCHANT\r\n" +
			"STORE  PVT\tLTD on 05-04-24. Your UPI transaction reference number is 123456789012.",
	})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if txn.PayeeName != "MERCHANT STORE PVT LTD" {
		t.Errorf("PayeeName = %q, want MERCHANT STORE PVT LTD", txn.PayeeName)
	}
	if txn.ToUPI != "merchant@upi" {
		t.Errorf("ToUPI = %q", txn.ToUPI)
	}
}

func TestExtractLargestStorableAmount(t *testing.T) {
	e := NewExtractor(Rules{}, nil)

	txn, err := e.Extract(context.Background(), Input{
		Text: "Rs.92233720368547758.07 credited on 05-04-24 reference number is 7",
	})
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if txn.Amount.StringFixed(2) != "92233720368547758.07" {
		t.Errorf("Amount = %s", txn.Amount)
	}
}
