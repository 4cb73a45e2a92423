package mailbox

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

func TestCredentialsAddr(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
		want  string
	}{
		{"default port", Credentials{Host: "imap.example.com"}, "imap.example.com:993"},
		{"explicit port", Credentials{Host: "imap.example.com", Port: "143"}, "imap.example.com:143"},
		{"ipv6", Credentials{Host: "::1", Port: "1143"}, "[::1]:1143"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Addr(); got != tt.want {
				t.Fatalf("Addr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCredentialsKey(t *testing.T) {
	creds := Credentials{Host: "imap.example.com", Username: "me@example.com"}
	if got := creds.Key("INBOX"); got != "me@example.com@imap.example.com/INBOX" {
		t.Fatalf("Key() = %q", got)
	}
}

func TestConnectionErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("run: %w", &ConnectionError{Op: "connect", Addr: "x:993", Err: cause})

	if !IsConnectionError(err) {
		t.Fatal("expected IsConnectionError to match wrapped error")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
	if IsConnectionError(ErrMessageNotFound) {
		t.Fatal("ErrMessageNotFound is not a connection error")
	}
}

func TestMessageFromBuffer(t *testing.T) {
	received := time.Date(2024, 4, 5, 10, 30, 0, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID:          imap.UID(42),
		InternalDate: received,
		Flags:        []imap.Flag{imap.FlagSeen},
		Envelope: &imap.Envelope{
			MessageID: "abc@bank.example",
			Subject:   "Transaction alert",
			From: []imap.Address{
				{Name: "Bank Alerts", Mailbox: "alerts", Host: "bank.example"},
			},
		},
	}

	msg := messageFromBuffer(buf)

	if msg.UID != 42 {
		t.Fatalf("UID = %d, want 42", msg.UID)
	}
	if msg.From != "alerts@bank.example" {
		t.Fatalf("From = %q", msg.From)
	}
	if msg.FromName != "Bank Alerts" {
		t.Fatalf("FromName = %q", msg.FromName)
	}
	if !msg.ReceivedAt.Equal(received) {
		t.Fatalf("ReceivedAt = %v, want %v", msg.ReceivedAt, received)
	}
	if !msg.HasFlag(`\Seen`) {
		t.Fatalf("expected \\Seen flag, got %v", msg.Flags)
	}
}

func TestMessageFromBufferFallsBackToEnvelopeDate(t *testing.T) {
	sent := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	buf := &imapclient.FetchMessageBuffer{
		UID:      imap.UID(7),
		Envelope: &imap.Envelope{Date: sent},
	}

	if got := messageFromBuffer(buf).ReceivedAt; !got.Equal(sent) {
		t.Fatalf("ReceivedAt = %v, want %v", got, sent)
	}
}

func TestDayStart(t *testing.T) {
	in := time.Date(2024, 4, 5, 23, 59, 59, 1, time.UTC)
	want := time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC)
	if got := dayStart(in); !got.Equal(want) {
		t.Fatalf("dayStart() = %v, want %v", got, want)
	}
}

func TestOpenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Port 1 on loopback is not expected to accept connections.
	_, err := Open(ctx, Credentials{Host: "127.0.0.1", Port: "1"}, Options{
		Insecure:    true,
		DialTimeout: time.Second,
	})
	if err == nil {
		t.Fatal("expected error dialing closed port")
	}

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T", err)
	}
	if connErr.Op != "connect" {
		t.Fatalf("Op = %q, want connect", connErr.Op)
	}
}
