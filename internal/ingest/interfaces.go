package ingest

import (
	"context"
	"time"

	"github.com/nhle/mailledger/internal/content"
	"github.com/nhle/mailledger/internal/extract"
	"github.com/nhle/mailledger/internal/mailbox"
	"github.com/nhle/mailledger/internal/model"
)

// Session is an open, authenticated mailbox connection.
type Session interface {
	SelectMailbox(ctx context.Context, name string, readWrite bool) error
	UIDsAfter(ctx context.Context, uid uint32) ([]uint32, error)
	UIDsReceivedBetween(ctx context.Context, from, to time.Time) ([]uint32, error)
	FetchEnvelope(ctx context.Context, uid uint32) (*mailbox.Message, error)
	FetchBody(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// Dialer opens mailbox sessions.
type Dialer interface {
	Dial(ctx context.Context, creds mailbox.Credentials) (Session, error)
}

// IMAPDialer dials real IMAP servers with fixed options.
type IMAPDialer struct {
	Options mailbox.Options
}

// Dial implements Dialer.
func (d IMAPDialer) Dial(ctx context.Context, creds mailbox.Credentials) (Session, error) {
	s, err := mailbox.Open(ctx, creds, d.Options)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Store is the persistence the orchestrator writes to.
type Store interface {
	MaxProcessedMessageID(ctx context.Context) (uint32, bool, error)
	SaveTransaction(ctx context.Context, txn *model.Transaction) error
}

// ContentExtractor turns a raw message into plain text.
type ContentExtractor interface {
	Extract(raw []byte) (string, error)
}

// ContentExtractorFunc adapts a function to ContentExtractor.
type ContentExtractorFunc func(raw []byte) (string, error)

// Extract implements ContentExtractor.
func (f ContentExtractorFunc) Extract(raw []byte) (string, error) { return f(raw) }

// MIMEContent is the default ContentExtractor.
var MIMEContent ContentExtractor = ContentExtractorFunc(content.ExtractBytes)

// TransactionExtractor builds a transaction from text or rejects it.
type TransactionExtractor interface {
	Extract(ctx context.Context, in extract.Input) (*model.Transaction, error)
}
