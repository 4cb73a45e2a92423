package mailbox

import (
	"errors"
	"fmt"
)

// ErrMessageNotFound is returned by the fetch methods when the UID no longer exists.
var ErrMessageNotFound = errors.New("message not found")

// ConnectionError indicates that the mailbox could not be reached, the login
// was refused, or the session broke while a command was in flight. It is
// fatal to an ingestion run.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mailbox %s (%s): %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
