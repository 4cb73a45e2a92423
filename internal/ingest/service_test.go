package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/nhle/mailledger/internal/extract"
	"github.com/nhle/mailledger/internal/mailbox"
	"github.com/nhle/mailledger/internal/model"
	"github.com/nhle/mailledger/internal/store"
	"github.com/nhle/mailledger/tests/testutil"
)

type fakeMail struct {
	env *mailbox.Message
	raw []byte
}

type fakeSession struct {
	messages map[uint32]*mailbox.Message
	bodies   map[uint32][]byte
	seen     map[uint32]bool
	closed   int
	selected string

	bodyFetches map[uint32]int

	searchErr error
	fetchErr  map[uint32]error
	windowed  bool
}

func newFakeSession(msgs ...*fakeMail) *fakeSession {
	fs := &fakeSession{
		messages:    map[uint32]*mailbox.Message{},
		bodies:      map[uint32][]byte{},
		seen:        map[uint32]bool{},
		fetchErr:    map[uint32]error{},
		bodyFetches: map[uint32]int{},
	}
	for _, m := range msgs {
		fs.messages[m.env.UID] = m.env
		fs.bodies[m.env.UID] = m.raw
	}
	return fs
}

func (f *fakeSession) SelectMailbox(_ context.Context, name string, readWrite bool) error {
	if !readWrite {
		return errors.New("mailbox must be selected read-write")
	}
	f.selected = name
	return nil
}

func (f *fakeSession) sortedUIDs() []uint32 {
	var uids []uint32
	for uid := range f.messages {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}

func (f *fakeSession) UIDsAfter(_ context.Context, uid uint32) ([]uint32, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	var out []uint32
	for _, u := range f.sortedUIDs() {
		if u > uid {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeSession) UIDsReceivedBetween(_ context.Context, from, to time.Time) ([]uint32, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	f.windowed = true
	var out []uint32
	for _, u := range f.sortedUIDs() {
		r := f.messages[u].ReceivedAt
		if !r.Before(from) && r.Before(to.AddDate(0, 0, 1)) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeSession) FetchEnvelope(_ context.Context, uid uint32) (*mailbox.Message, error) {
	if err := f.fetchErr[uid]; err != nil {
		return nil, err
	}
	m, ok := f.messages[uid]
	if !ok {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	return m, nil
}

func (f *fakeSession) FetchBody(_ context.Context, uid uint32) ([]byte, error) {
	f.bodyFetches[uid]++
	raw, ok := f.bodies[uid]
	if !ok {
		return nil, fmt.Errorf("uid %d: %w", uid, mailbox.ErrMessageNotFound)
	}
	return raw, nil
}

func (f *fakeSession) MarkSeen(_ context.Context, uid uint32) error {
	f.seen[uid] = true
	return nil
}

func (f *fakeSession) Close() error {
	f.closed++
	return nil
}

type fakeDialer struct {
	session *fakeSession
	err     error
	dials   int
}

func (d *fakeDialer) Dial(context.Context, mailbox.Credentials) (Session, error) {
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

// failingStore wraps a real store and fails saves for chosen references.
type failingStore struct {
	Store
	failRefs map[string]bool
}

func (f *failingStore) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if f.failRefs[txn.Reference] {
		return errors.New("disk full")
	}
	return f.Store.SaveTransaction(ctx, txn)
}

var (
	runNow   = time.Date(2024, 4, 20, 9, 0, 0, 0, time.UTC)
	received = time.Date(2024, 4, 5, 18, 0, 0, 0, time.UTC)
	senders  = []Sender{{Address: "alerts@hdfcbank.net", Bank: "HDFC"}}
)

func mail(uid uint32, from, body string) *fakeMail {
	raw := "From: " + from + "\r\n" +
		"Subject: Transaction alert\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		body + "\r\n"
	return &fakeMail{
		env: &mailbox.Message{UID: uid, From: from, ReceivedAt: received},
		raw: []byte(raw),
	}
}

func debitBody(amount, ref string) string {
	return "Rs." + amount + " has been debited from account *1234 to VPA shop@upi Corner Shop on 05-04-24. " +
		"Your UPI transaction reference number is " + ref + "."
}

func newService(t *testing.T, dialer Dialer, st Store) *Service {
	t.Helper()
	var dedup extract.DedupChecker
	if d, ok := st.(extract.DedupChecker); ok {
		dedup = d
	}
	return NewService(dialer, nil, nil, extract.NewExtractor(extract.Rules{}, dedup), st, nil)
}

func TestRunSavesAndMarksSeen(t *testing.T) {
	st := testutil.NewTestStore(t)
	sess := newFakeSession(
		mail(1, "alerts@hdfcbank.net", debitBody("250.00", "111")),
		mail(2, "friend@example.com", debitBody("999.00", "222")),
		mail(3, "HDFC Alerts <ALERTS@HDFCBANK.NET>", "Your statement is ready."),
		mail(4, "alerts@hdfcbank.net", debitBody("75.50", "333")),
	)
	dialer := &fakeDialer{session: sess}
	svc := newService(t, dialer, st)

	res, err := svc.Run(context.Background(), Request{Senders: senders, Now: runNow})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if res.Candidates != 4 || res.Saved != 2 || res.SkippedSenders != 1 || res.Rejected != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !sess.seen[1] || !sess.seen[4] {
		t.Fatalf("saved messages must be marked seen: %v", sess.seen)
	}
	if sess.seen[2] || sess.seen[3] {
		t.Fatalf("skipped or rejected messages must stay unseen: %v", sess.seen)
	}
	if sess.bodyFetches[2] != 0 {
		t.Fatal("body of a non-allowlisted sender must not be downloaded")
	}
	if sess.bodyFetches[1] != 1 || sess.bodyFetches[3] != 1 || sess.bodyFetches[4] != 1 {
		t.Fatalf("body fetches = %v", sess.bodyFetches)
	}
	if sess.closed != 1 {
		t.Fatalf("session closed %d times, want 1", sess.closed)
	}
	if sess.selected != "INBOX" {
		t.Fatalf("selected %q, want INBOX", sess.selected)
	}
	if !sess.windowed {
		t.Fatal("first run must use the date window")
	}
	if res.CursorAfter != 4 {
		t.Fatalf("CursorAfter = %d, want 4", res.CursorAfter)
	}

	page, err := st.ListTransactions(context.Background(), store.TransactionFilter{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("stored %d transactions, want 2", page.Total)
	}
	for _, txn := range page.Items {
		if txn.BankName != "HDFC" || txn.Direction != model.DirectionDebit {
			t.Fatalf("unexpected transaction %+v", txn)
		}
		if !txn.IngestedAt.Equal(runNow) {
			t.Fatalf("IngestedAt = %v, want run clock %v", txn.IngestedAt, runNow)
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	st := testutil.NewTestStore(t)
	sess := newFakeSession(
		mail(10, "alerts@hdfcbank.net", debitBody("250.00", "111")),
		mail(11, "alerts@hdfcbank.net", debitBody("250.00", "111")),
	)
	svc := newService(t, &fakeDialer{session: sess}, st)
	ctx := context.Background()

	first, err := svc.Run(ctx, Request{Senders: senders, Now: runNow})
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if first.Saved != 1 || first.Duplicates != 1 {
		t.Fatalf("first run = %+v", first)
	}

	second, err := svc.Run(ctx, Request{Senders: senders, Now: runNow})
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if second.Saved != 0 {
		t.Fatalf("second run saved %d, want 0", second.Saved)
	}
	if !second.HadCursor || second.CursorBefore != 10 {
		t.Fatalf("second run cursor = %d (had %v), want 10", second.CursorBefore, second.HadCursor)
	}
	if second.CursorAfter < first.CursorAfter {
		t.Fatalf("cursor moved backwards: %d -> %d", first.CursorAfter, second.CursorAfter)
	}

	sum, err := st.SumDebits(ctx)
	if err != nil {
		t.Fatalf("SumDebits: %v", err)
	}
	if sum.StringFixed(2) != "250.00" {
		t.Fatalf("SumDebits = %s, want 250.00", sum)
	}
}

func TestRunUsesCursorForLaterRuns(t *testing.T) {
	st := testutil.NewTestStore(t)
	if err := st.SaveTransaction(context.Background(),
		testutil.Transaction(model.DirectionDebit, "old", testutil.Day(2024, 1, 1), "1.00", 5)); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	sess := newFakeSession(
		mail(4, "alerts@hdfcbank.net", debitBody("10.00", "444")),
		mail(5, "alerts@hdfcbank.net", debitBody("20.00", "555")),
		mail(6, "alerts@hdfcbank.net", debitBody("30.00", "666")),
	)
	svc := newService(t, &fakeDialer{session: sess}, st)

	res, err := svc.Run(context.Background(), Request{Senders: senders, Now: runNow})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if sess.windowed {
		t.Fatal("cursor run must not use the date window")
	}
	if res.Candidates != 1 || res.Saved != 1 || res.CursorAfter != 6 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunConnectionFailureIsFatal(t *testing.T) {
	st := testutil.NewTestStore(t)
	dialErr := &mailbox.ConnectionError{Op: "login", Addr: "imap.example:993", Err: errors.New("bad credentials")}
	dialer := &fakeDialer{err: dialErr}
	svc := newService(t, dialer, st)

	_, err := svc.Run(context.Background(), Request{Senders: senders, Now: runNow})
	if !mailbox.IsConnectionError(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestRunAbortsOnBrokenSessionAndCloses(t *testing.T) {
	st := testutil.NewTestStore(t)
	sess := newFakeSession(
		mail(1, "alerts@hdfcbank.net", debitBody("1.00", "1")),
		mail(2, "alerts@hdfcbank.net", debitBody("2.00", "2")),
		mail(3, "alerts@hdfcbank.net", debitBody("3.00", "3")),
	)
	sess.fetchErr[2] = &mailbox.ConnectionError{Op: "fetch uid 2", Addr: "x", Err: errors.New("EOF")}
	svc := newService(t, &fakeDialer{session: sess}, st)

	res, err := svc.Run(context.Background(), Request{Senders: senders, Now: runNow})
	if !mailbox.IsConnectionError(err) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if res.Saved != 1 || sess.seen[3] {
		t.Fatalf("run must stop at the broken message: %+v", res)
	}
	if sess.closed != 1 {
		t.Fatalf("session closed %d times, want 1", sess.closed)
	}
}

func TestRunCollectsPersistenceFailures(t *testing.T) {
	st := &failingStore{Store: testutil.NewTestStore(t), failRefs: map[string]bool{"222": true}}
	sess := newFakeSession(
		mail(1, "alerts@hdfcbank.net", debitBody("1.00", "111")),
		mail(2, "alerts@hdfcbank.net", debitBody("2.00", "222")),
		mail(3, "alerts@hdfcbank.net", debitBody("3.00", "333")),
	)
	svc := NewService(&fakeDialer{session: sess}, nil, nil, extract.NewExtractor(extract.Rules{}, nil), st, nil)

	res, err := svc.Run(context.Background(), Request{Senders: senders, Now: runNow})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Saved != 2 || len(res.Failures) != 1 || res.Failures[0].UID != 2 {
		t.Fatalf("result = %+v", res)
	}
	if sess.seen[2] {
		t.Fatal("failed message must stay unseen")
	}
	if err := res.Err(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Result.Err() = %v", err)
	}
}

func TestRunSkipsVanishedMessage(t *testing.T) {
	st := testutil.NewTestStore(t)
	sess := newFakeSession(mail(1, "alerts@hdfcbank.net", debitBody("1.00", "111")))
	sess.fetchErr[1] = fmt.Errorf("uid 1: %w", mailbox.ErrMessageNotFound)
	svc := newService(t, &fakeDialer{session: sess}, st)

	res, err := svc.Run(context.Background(), Request{Senders: senders, Now: runNow})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.NotFound != 1 || res.Saved != 0 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunSkipsMessageWhoseBodyVanished(t *testing.T) {
	st := testutil.NewTestStore(t)
	sess := newFakeSession(mail(1, "alerts@hdfcbank.net", debitBody("1.00", "111")))
	delete(sess.bodies, 1)
	svc := newService(t, &fakeDialer{session: sess}, st)

	res, err := svc.Run(context.Background(), Request{Senders: senders, Now: runNow})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.NotFound != 1 || res.Saved != 0 || sess.seen[1] {
		t.Fatalf("result = %+v", res)
	}
}

func TestMatchSender(t *testing.T) {
	list := []Sender{
		{Address: "alerts@hdfcbank.net", Bank: "HDFC"},
		{Address: "@icicibank.com"},
	}

	tests := []struct {
		from     string
		wantBank string
		wantOK   bool
	}{
		{"alerts@hdfcbank.net", "HDFC", true},
		{"ALERTS@HDFCBANK.NET", "HDFC", true},
		{"noreply@icicibank.com", model.UnknownBank, true},
		{"someone@example.com", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		bank, ok := matchSender(list, tt.from)
		if bank != tt.wantBank || ok != tt.wantOK {
			t.Errorf("matchSender(%q) = %q, %v; want %q, %v", tt.from, bank, ok, tt.wantBank, tt.wantOK)
		}
	}
}
