package mailbox

import (
	"net"
	"time"
)

// DefaultPort is the IMAP-over-TLS port.
const DefaultPort = "993"

// Credentials identifies the account and server to log in to.
type Credentials struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Addr returns host:port, defaulting the port to 993.
func (c Credentials) Addr() string {
	port := c.Port
	if port == "" {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, port)
}

// Key identifies the mailbox account for run serialization and auditing.
func (c Credentials) Key(mailbox string) string {
	return c.Username + "@" + c.Host + "/" + mailbox
}

// Options controls how the session is established.
type Options struct {
	// TLS selects implicit TLS; when false the connection is upgraded with
	// STARTTLS.
	TLS bool

	// Insecure skips TLS entirely. Only meant for local IMAP bridges.
	Insecure bool

	// DialTimeout bounds the TCP and TLS handshake. Zero means 30s.
	DialTimeout time.Duration
}

// Message is the envelope of a fetched message.
type Message struct {
	UID        uint32
	MessageID  string
	Subject    string
	From       string // sender address, e.g. alerts@bank.example
	FromName   string
	ReceivedAt time.Time // IMAP INTERNALDATE
	Flags      []string
}

// HasFlag reports whether the message carries the given flag (e.g. \Seen).
func (m *Message) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
