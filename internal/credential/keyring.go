// Package credential stores mailbox and SMTP passwords in the OS keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

const serviceName = "mailledger"

// Environment variables that take precedence over the keyring.
const (
	MailboxPasswordEnv = "MAILLEDGER_MAILBOX_PASSWORD"
	SMTPPasswordEnv    = "MAILLEDGER_NOTIFY_PASSWORD"
)

// ErrNotFound is returned when no credential is stored under a key.
var ErrNotFound = errors.New("credential not found")

// MailboxKey is the keyring key of an IMAP account's password.
func MailboxKey(username string) string {
	return "imap:" + username
}

// SMTPKey is the keyring key of an SMTP account's password.
func SMTPKey(username string) string {
	return "smtp:" + username
}

// credentialsDir holds the encrypted file backend, used when no native
// keyring is available.
func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "credentials")
	}
	return filepath.Join(home, ".config", "mailledger", "credentials")
}

// openRing is replaced in tests with an in-memory keyring.
var openRing = openKeyring

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  credentialsDir(),
		FilePasswordFunc:         keyring.FixedStringPrompt("mailledger-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Lookup returns the secret for key. A non-empty envVar wins over the
// keyring so headless deployments need no keyring at all.
func Lookup(key, envVar string) (string, error) {
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	return Get(key)
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openRing()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openRing()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailledger " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring. Removing a
// key that was never stored returns ErrNotFound.
func Delete(key string) error {
	ring, err := openRing()
	if err != nil {
		return err
	}

	if _, err := ring.Get(key); errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, ErrNotFound)
	}
	if err := ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) || errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("deleting credential %q: %w", key, ErrNotFound)
		}
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
