// Package ingest runs the mailbox-to-ledger pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailledger/internal/extract"
	"github.com/nhle/mailledger/internal/mailbox"
	"github.com/nhle/mailledger/internal/model"
	"github.com/nhle/mailledger/internal/selector"
	"github.com/nhle/mailledger/internal/store"
)

// Sender is an allowlisted notification sender.
type Sender struct {
	Address string
	Bank    string
}

// Request parameterizes one run.
type Request struct {
	Credentials mailbox.Credentials
	Mailbox     string
	Senders     []Sender

	// From and To bound the first run, before any cursor exists.
	From *time.Time
	To   *time.Time

	Now time.Time
}

// Key identifies the mailbox this request reads.
func (r Request) Key() string {
	return r.Credentials.Key(r.mailboxName())
}

func (r Request) mailboxName() string {
	if r.Mailbox == "" {
		return "INBOX"
	}
	return r.Mailbox
}

// PersistenceError records a message whose transaction could not be stored.
type PersistenceError struct {
	UID uint32
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("uid %d: %v", e.UID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Result summarizes a run.
type Result struct {
	Mailbox      string
	HadCursor    bool
	CursorBefore uint32
	CursorAfter  uint32

	Candidates     int
	SkippedSenders int
	Saved          int
	Rejected       int
	Duplicates     int
	Empty          int
	NotFound       int

	Transactions []model.Transaction
	Failures     []*PersistenceError
}

// Err joins the per-message persistence failures, or returns nil.
func (r *Result) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return fmt.Errorf("%d message(s) not persisted: %w", len(r.Failures), errors.Join(errs...))
}

// Changed reports whether the run saved or failed anything.
func (r *Result) Changed() bool {
	return r.Saved > 0 || len(r.Failures) > 0
}

// Service is the ingestion orchestrator.
type Service struct {
	dialer       Dialer
	selector     *selector.Selector
	content      ContentExtractor
	transactions TransactionExtractor
	store        Store
	logger       *log.Logger
}

// NewService wires the pipeline from its parts. A nil logger discards output.
func NewService(
	dialer Dialer,
	sel *selector.Selector,
	content ContentExtractor,
	transactions TransactionExtractor,
	st Store,
	logger *log.Logger,
) *Service {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if sel == nil {
		sel = selector.New(logger)
	}
	if content == nil {
		content = MIMEContent
	}
	return &Service{
		dialer:       dialer,
		selector:     sel,
		content:      content,
		transactions: transactions,
		store:        st,
		logger:       logger,
	}
}

// Run performs one ingestion run. Only mailbox connection failures and an
// unreadable cursor abort the run; per-message problems are counted in the
// Result and the message is left unseen. The session is closed on every
// path. The returned Result is non-nil even when err is not.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	res := &Result{Mailbox: req.Key()}
	logger := s.logger.With("mailbox", res.Mailbox)

	cursor, hasCursor, err := s.store.MaxProcessedMessageID(ctx)
	if err != nil {
		return res, fmt.Errorf("reading cursor: %w", err)
	}
	res.HadCursor = hasCursor
	res.CursorBefore = cursor
	res.CursorAfter = cursor

	sess, err := s.dialer.Dial(ctx, req.Credentials)
	if err != nil {
		return res, fmt.Errorf("opening mailbox: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("closing mailbox session", "err", cerr)
		}
	}()

	if err := sess.SelectMailbox(ctx, req.mailboxName(), true); err != nil {
		return res, fmt.Errorf("selecting mailbox: %w", err)
	}

	sel, err := s.selector.Select(ctx, sess, selector.Request{
		Cursor: cursor,
		From:   req.From,
		To:     req.To,
		Now:    now,
	})
	if err != nil {
		return res, fmt.Errorf("selecting candidates: %w", err)
	}
	res.Candidates = len(sel.UIDs)
	logger.Info("candidates selected", "count", res.Candidates, "by_cursor", sel.ByCursor, "cursor", cursor)

	for _, uid := range sel.UIDs {
		if err := s.processMessage(ctx, sess, req, uid, now, res, logger); err != nil {
			return res, err
		}
	}

	logger.Info("run complete",
		"saved", res.Saved,
		"rejected", res.Rejected,
		"duplicates", res.Duplicates,
		"skipped_senders", res.SkippedSenders,
		"failures", len(res.Failures),
		"cursor", res.CursorAfter,
	)

	return res, nil
}

// processMessage handles one candidate. A returned error is fatal to the run.
func (s *Service) processMessage(
	ctx context.Context,
	sess Session,
	req Request,
	uid uint32,
	now time.Time,
	res *Result,
	logger *log.Logger,
) error {
	logger = logger.With("uid", uid)

	msg, err := sess.FetchEnvelope(ctx, uid)
	if errors.Is(err, mailbox.ErrMessageNotFound) {
		res.NotFound++
		logger.Debug("message vanished before fetch")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching uid %d: %w", uid, err)
	}

	bank, ok := matchSender(req.Senders, msg.From)
	if !ok {
		res.SkippedSenders++
		logger.Debug("sender not allowlisted", "from", msg.From)
		return nil
	}

	raw, err := sess.FetchBody(ctx, uid)
	if errors.Is(err, mailbox.ErrMessageNotFound) {
		res.NotFound++
		logger.Debug("message vanished before body fetch")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching body of uid %d: %w", uid, err)
	}

	text, err := s.content.Extract(raw)
	if err != nil {
		res.Empty++
		logger.Warn("unreadable message body", "err", err)
		return nil
	}

	txn, err := s.transactions.Extract(ctx, extract.Input{
		Text:       text,
		BankName:   bank,
		MessageID:  uid,
		ReceivedAt: msg.ReceivedAt,
		Now:        now,
	})
	switch {
	case errors.Is(err, extract.ErrNoContent):
		res.Empty++
		logger.Debug("no textual content")
		return nil
	case errors.Is(err, extract.ErrDuplicate):
		res.Duplicates++
		logger.Debug("duplicate transaction")
		return nil
	case err != nil:
		if reason, rejected := extract.IsRejected(err); rejected {
			res.Rejected++
			logger.Debug("message rejected", "reason", reason)
			return nil
		}
		s.fail(res, logger, uid, err)
		return nil
	}

	if err := s.store.SaveTransaction(ctx, txn); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			res.Duplicates++
			logger.Debug("duplicate transaction on save", "reference", txn.Reference)
			return nil
		}
		s.fail(res, logger, uid, err)
		return nil
	}

	res.Saved++
	res.Transactions = append(res.Transactions, *txn)
	if uid > res.CursorAfter {
		res.CursorAfter = uid
	}
	logger.Info("transaction saved",
		"reference", txn.Reference,
		"amount", txn.Amount.StringFixed(2),
		"direction", txn.Direction,
	)

	if err := sess.MarkSeen(ctx, uid); err != nil {
		return fmt.Errorf("marking uid %d seen: %w", uid, err)
	}
	return nil
}

func (s *Service) fail(res *Result, logger *log.Logger, uid uint32, err error) {
	res.Failures = append(res.Failures, &PersistenceError{UID: uid, Err: err})
	logger.Error("persisting transaction", "err", err)
}

// matchSender returns the bank of the first allowlist entry contained in
// the From address, compared case-insensitively.
func matchSender(senders []Sender, from string) (string, bool) {
	from = strings.ToLower(strings.TrimSpace(from))
	if from == "" {
		return "", false
	}
	for _, snd := range senders {
		addr := strings.ToLower(strings.TrimSpace(snd.Address))
		if addr == "" {
			continue
		}
		if strings.Contains(from, addr) {
			bank := snd.Bank
			if bank == "" {
				bank = model.UnknownBank
			}
			return bank, true
		}
	}
	return "", false
}
