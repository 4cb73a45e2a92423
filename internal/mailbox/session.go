package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// defaultDialTimeout bounds connection establishment when Options leaves it unset.
const defaultDialTimeout = 30 * time.Second

// Session is an authenticated IMAP connection scoped to one ingestion run.
// The caller must Close it on every exit path.
type Session struct {
	client   *imapclient.Client
	conn     net.Conn
	addr     string
	selected string
	closed   bool
}

// Open dials the IMAP server, authenticates, and returns the session.
// Dial and login failures are returned as *ConnectionError.
func Open(ctx context.Context, creds Credentials, opts Options) (*Session, error) {
	addr := creds.Addr()

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}

	tlsConfig := &tls.Config{ServerName: creds.Host}
	clientOpts := &imapclient.Options{TLSConfig: tlsConfig}

	var (
		client *imapclient.Client
		conn   net.Conn
		err    error
	)

	switch {
	case opts.Insecure:
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			client = imapclient.New(conn, clientOpts)
		}
	case opts.TLS:
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		if err == nil {
			client = imapclient.New(conn, clientOpts)
		}
	default:
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			client, err = imapclient.NewStartTLS(conn, clientOpts)
			if err != nil {
				conn.Close()
			}
		}
	}
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Addr: addr, Err: err}
	}

	s := &Session{client: client, conn: conn, addr: addr}
	s.applyDeadline(ctx)

	if err := client.Login(creds.Username, creds.Password).Wait(); err != nil {
		_ = s.Close()
		return nil, &ConnectionError{
			Op:   "login",
			Addr: addr,
			Err:  fmt.Errorf("authentication failed for %s: %w", creds.Username, err),
		}
	}

	return s, nil
}

// SelectMailbox opens the named mailbox. Read-write access is needed to set
// the \Seen flag after a message has been processed.
func (s *Session) SelectMailbox(ctx context.Context, name string, readWrite bool) error {
	if err := s.begin(ctx); err != nil {
		return err
	}

	opts := &imap.SelectOptions{ReadOnly: !readWrite}
	if _, err := s.client.Select(name, opts).Wait(); err != nil {
		return s.fail("select "+name, err)
	}

	s.selected = name
	return nil
}

// UIDsAfter returns every UID strictly greater than uid, ascending. IMAP
// answers "n:*" with the highest message even when its UID is below n, so
// results are re-filtered here.
func (s *Session) UIDsAfter(ctx context.Context, uid uint32) ([]uint32, error) {
	var set imap.UIDSet
	set.AddRange(imap.UID(uid+1), 0)

	uids, err := s.search(ctx, &imap.SearchCriteria{UID: []imap.UIDSet{set}})
	if err != nil {
		return nil, err
	}

	out := uids[:0]
	for _, u := range uids {
		if u > uid {
			out = append(out, u)
		}
	}
	return out, nil
}

// UIDsReceivedBetween returns the UIDs of messages whose internal date falls
// on a day within [from, to], ascending.
func (s *Session) UIDsReceivedBetween(ctx context.Context, from, to time.Time) ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		Since:  dayStart(from),
		Before: dayStart(to).AddDate(0, 0, 1),
	}
	return s.search(ctx, criteria)
}

// FetchEnvelope retrieves the envelope, internal date and flags of a
// message without its body.
func (s *Session) FetchEnvelope(ctx context.Context, uid uint32) (*Message, error) {
	buf, err := s.fetchOne(ctx, uid, &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		Flags:        true,
		InternalDate: true,
	})
	if err != nil {
		return nil, err
	}
	return messageFromBuffer(buf), nil
}

// FetchBody retrieves the raw RFC 5322 content of a message. BODY.PEEK is
// used so fetching never marks the message as seen.
func (s *Session) FetchBody(ctx context.Context, uid uint32) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	buf, err := s.fetchOne(ctx, uid, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	if err != nil {
		return nil, err
	}
	return buf.FindBodySection(bodySection), nil
}

func (s *Session) fetchOne(ctx context.Context, uid uint32, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), opts)
	defer fetchCmd.Close()

	data := fetchCmd.Next()
	if data == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, s.fail(fmt.Sprintf("fetch uid %d", uid), err)
		}
		return nil, fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}

	buf, err := data.Collect()
	if err != nil {
		return nil, s.fail(fmt.Sprintf("collect uid %d", uid), err)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, s.fail(fmt.Sprintf("fetch uid %d", uid), err)
	}

	return buf, nil
}

// MarkSeen adds the \Seen flag to the message.
func (s *Session) MarkSeen(ctx context.Context, uid uint32) error {
	if err := s.begin(ctx); err != nil {
		return err
	}

	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return s.fail(fmt.Sprintf("store \\Seen uid %d", uid), err)
	}
	return nil
}

// Close logs out and releases the connection. It is safe to call more
// than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	// Logout must not hang on a dead server.
	_ = s.conn.SetDeadline(time.Now().Add(5 * time.Second))
	_ = s.client.Logout().Wait()
	return s.client.Close()
}

func (s *Session) search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, s.fail("search", err)
	}

	all := data.AllUIDs()
	uids := make([]uint32, 0, len(all))
	for _, u := range all {
		uids = append(uids, uint32(u))
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	return uids, nil
}

// begin refuses commands on a closed session or an expired context and
// applies the context deadline to the socket.
func (s *Session) begin(ctx context.Context) error {
	if s.closed {
		return &ConnectionError{Op: "command", Addr: s.addr, Err: net.ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		return &ConnectionError{Op: "command", Addr: s.addr, Err: err}
	}
	s.applyDeadline(ctx)
	return nil
}

func (s *Session) applyDeadline(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = s.conn.SetDeadline(deadline)
}

func (s *Session) fail(op string, err error) error {
	return &ConnectionError{Op: op, Addr: s.addr, Err: err}
}

// messageFromBuffer extracts a Message from a FetchMessageBuffer.
func messageFromBuffer(buf *imapclient.FetchMessageBuffer) *Message {
	msg := &Message{
		UID:        uint32(buf.UID),
		ReceivedAt: buf.InternalDate,
	}

	if buf.Envelope != nil {
		msg.MessageID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			msg.From = from.Addr()
			msg.FromName = from.Name
		}
		if msg.ReceivedAt.IsZero() {
			msg.ReceivedAt = buf.Envelope.Date
		}
	}

	for _, flag := range buf.Flags {
		msg.Flags = append(msg.Flags, string(flag))
	}

	return msg
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
