package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrNoContent is returned for empty input. Nothing else is evaluated.
	ErrNoContent = errors.New("no textual content")

	// ErrDuplicate is returned when a debit with the same reference, date and
	// amount is already stored.
	ErrDuplicate = errors.New("duplicate transaction")
)

// Reason names the cascade stage that rejected a message.
type Reason string

const (
	ReasonNoAmount    Reason = "no_amount"
	ReasonExcluded    Reason = "excluded"
	ReasonNoReference Reason = "no_reference"
	ReasonBadDate     Reason = "bad_date"
)

// RejectedError means the text is not a recordable transaction notification.
type RejectedError struct {
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", e.Reason, e.Detail)
}

// IsRejected reports whether err is a RejectedError and returns its reason.
func IsRejected(err error) (Reason, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason, true
	}
	return "", false
}

func reject(reason Reason, detail string) error {
	return &RejectedError{Reason: reason, Detail: detail}
}
