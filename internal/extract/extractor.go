// Package extract turns normalized notification text into transactions.
package extract

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
)

var (
	// The amount must carry exactly two decimals; the trailing group keeps
	// "Rs.1.005" from matching as 1.00.
	amountPattern = regexp.MustCompile(`(?i)(?:rs\.|inr)\s?(\d[\d,]*\.\d{2})(?:\D|$)`)

	creditCardPattern = regexp.MustCompile(`(?i)credit\s+card`)
	accountPattern    = regexp.MustCompile(`(?i)from\s+account\s*[*x]*\s*(\d+)`)
	vpaPattern        = regexp.MustCompile(`(?i)to\s+vpa\s+([\w.@-]+)`)
	payeePattern      = regexp.MustCompile(`(?is)to\s+vpa\s+[\w.@-]+\s+(.*?)\s*\bon\s+\d{2}-\d{2}-\d{2}\b`)
	datePattern       = regexp.MustCompile(`(?i)\bon\s+(\d{2}-\d{2}-\d{2})\b`)
	referencePattern  = regexp.MustCompile(`(?i)reference\s+number\s+(?:is|no\.)\s*:?\s*(\d+)`)
	debitPattern      = regexp.MustCompile(`(?i)\b(?:debit|debited)\b`)
	creditPattern     = regexp.MustCompile(`(?i)\b(?:credit|credited)\b`)
)

// maxAmount is the largest amount whose minor units fit in an int64.
var maxAmount = decimal.New(math.MaxInt64, -2)

// dateLayout is the dd-mm-yy token used in notifications.
const dateLayout = "02-01-06"

// DedupChecker reports whether a debit with the given key is already stored.
type DedupChecker interface {
	ExistsDebit(ctx context.Context, reference string, date time.Time, amount decimal.Decimal) (bool, error)
}

// Rules configures the cascade.
type Rules struct {
	// Category labels every transaction this extractor produces.
	Category string

	// BlockedCardSuffixes are trailing card digits whose credit card
	// notifications are never recorded.
	BlockedCardSuffixes []string
}

// Input is one message's normalized text plus its envelope facts.
type Input struct {
	Text       string
	BankName   string
	MessageID  uint32
	ReceivedAt time.Time
	Now        time.Time
}

// Extractor applies the pattern cascade.
type Extractor struct {
	category string
	blocked  []*regexp.Regexp
	dedup    DedupChecker
}

// NewExtractor compiles the rules. dedup may be nil, which disables the
// duplicate gate.
func NewExtractor(rules Rules, dedup DedupChecker) *Extractor {
	category := rules.Category
	if category == "" {
		category = model.CategoryUPIPayment
	}

	e := &Extractor{category: category, dedup: dedup}
	for _, suffix := range rules.BlockedCardSuffixes {
		suffix = strings.TrimSpace(suffix)
		if suffix == "" {
			continue
		}
		e.blocked = append(e.blocked,
			regexp.MustCompile(`(?:^|\D)`+regexp.QuoteMeta(suffix)+`(?:\D|$)`))
	}
	return e
}

// Extract runs the cascade over in.Text. It returns ErrNoContent,
// *RejectedError or ErrDuplicate for messages that must not be saved; any
// other error comes from the dedup checker.
func (e *Extractor) Extract(ctx context.Context, in Input) (*model.Transaction, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrNoContent
	}

	loc := amountPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, reject(ReasonNoAmount, "")
	}
	amount, err := parseAmount(text[loc[2]:loc[3]])
	if err != nil {
		return nil, reject(ReasonNoAmount, err.Error())
	}
	tail := text[loc[3]:]

	if e.excluded(tail) {
		return nil, reject(ReasonExcluded, "blocked credit card")
	}

	txn := &model.Transaction{
		Amount:        amount,
		AccountNumber: firstGroup(accountPattern, tail),
		ToUPI:         firstGroup(vpaPattern, tail),
		PayeeName:     collapseSpace(firstGroup(payeePattern, tail)),
		Reference:     firstGroup(referencePattern, tail),
	}

	if txn.Reference == "" {
		return nil, reject(ReasonNoReference, "")
	}

	rawDate := firstGroup(datePattern, tail)
	if rawDate == "" {
		return nil, reject(ReasonBadDate, "no date token")
	}
	date, err := time.ParseInLocation(dateLayout, rawDate, time.UTC)
	if err != nil {
		return nil, reject(ReasonBadDate, rawDate)
	}
	txn.Date = date

	txn.Direction = classify(text)

	if e.dedup != nil {
		exists, err := e.dedup.ExistsDebit(ctx, txn.Reference, txn.Date, txn.Amount)
		if err != nil {
			return nil, fmt.Errorf("checking duplicate %s: %w", txn.Reference, err)
		}
		if exists {
			return nil, ErrDuplicate
		}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	txn.Category = e.category
	txn.BankName = in.BankName
	if txn.BankName == "" {
		txn.BankName = model.UnknownBank
	}
	txn.SourceMessageID = in.MessageID
	txn.SourceReceivedAt = in.ReceivedAt
	txn.IngestedAt = now

	return txn, nil
}

func (e *Extractor) excluded(tail string) bool {
	if len(e.blocked) == 0 || !creditCardPattern.MatchString(tail) {
		return false
	}
	for _, re := range e.blocked {
		if re.MatchString(tail) {
			return true
		}
	}
	return false
}

// classify matches whole words only, and ignores "credit card" so card
// spend notifications are not taken for incoming money.
func classify(text string) model.Direction {
	if debitPattern.MatchString(text) {
		return model.DirectionDebit
	}
	if creditPattern.MatchString(creditCardPattern.ReplaceAllString(text, " ")) {
		return model.DirectionCredit
	}
	return model.DirectionUnknown
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	if d.GreaterThan(maxAmount) {
		return decimal.Decimal{}, fmt.Errorf("amount %q out of range", s)
	}
	return d, nil
}

// collapseSpace joins wrapped lines of a captured field into one.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstGroup(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
