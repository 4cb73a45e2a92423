// Package selector decides which mailbox messages an ingestion run looks at.
package selector

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Mailbox is the part of a mail session the selector needs.
type Mailbox interface {
	UIDsAfter(ctx context.Context, uid uint32) ([]uint32, error)
	UIDsReceivedBetween(ctx context.Context, from, to time.Time) ([]uint32, error)
}

// Request describes one selection. Cursor is the highest message UID
// already stored; zero means no cursor.
type Request struct {
	Cursor uint32
	From   *time.Time
	To     *time.Time
	Now    time.Time
}

// Selection is the outcome of Select.
type Selection struct {
	UIDs []uint32

	// ByCursor is true when the cursor drove the search; otherwise the
	// window below was used.
	ByCursor bool
	From     time.Time
	To       time.Time
}

// Selector computes candidate UIDs.
type Selector struct {
	logger *log.Logger
}

// New creates a Selector. A nil logger discards output.
func New(logger *log.Logger) *Selector {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Selector{logger: logger}
}

// Select returns the ascending, de-duplicated UIDs that are candidates for
// this run. With a cursor every newer message is a candidate; without one
// the normalized date window bounds the search. UIDs at or below the cursor
// are always dropped.
func (s *Selector) Select(ctx context.Context, mb Mailbox, req Request) (*Selection, error) {
	sel := &Selection{}

	var (
		uids []uint32
		err  error
	)

	if req.Cursor > 0 {
		sel.ByCursor = true
		s.logger.Debug("selecting by cursor", "after", req.Cursor)
		uids, err = mb.UIDsAfter(ctx, req.Cursor)
		if err != nil {
			return nil, fmt.Errorf("searching after uid %d: %w", req.Cursor, err)
		}
	} else {
		sel.From, sel.To = NormalizeWindow(req.From, req.To, req.Now)
		s.logger.Debug("selecting by window",
			"from", sel.From.Format(time.DateOnly), "to", sel.To.Format(time.DateOnly))
		uids, err = mb.UIDsReceivedBetween(ctx, sel.From, sel.To)
		if err != nil {
			return nil, fmt.Errorf("searching %s..%s: %w",
				sel.From.Format(time.DateOnly), sel.To.Format(time.DateOnly), err)
		}
	}

	sel.UIDs = above(uids, req.Cursor)
	return sel, nil
}

// NormalizeWindow resolves the caller's optional bounds into a day range
// with from <= to. A single bound collapses to that day. With no bounds the
// window runs from the first day of now's year to now's day.
func NormalizeWindow(from, to *time.Time, now time.Time) (time.Time, time.Time) {
	if now.IsZero() {
		now = time.Now()
	}

	var f, t time.Time
	switch {
	case from != nil && to != nil:
		f, t = day(*from), day(*to)
	case from != nil:
		f = day(*from)
		t = f
	case to != nil:
		t = day(*to)
		f = t
	default:
		// Today as the lower bound and 1 January as the upper one; the swap
		// below turns this into the year to date.
		f = day(now)
		t = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
	}

	if f.After(t) {
		f, t = t, f
	}
	return f, t
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// above returns the sorted unique UIDs strictly greater than floor.
func above(uids []uint32, floor uint32) []uint32 {
	out := make([]uint32, 0, len(uids))
	for _, u := range uids {
		if u > floor {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	n := 0
	for i, u := range out {
		if i > 0 && u == out[n-1] {
			continue
		}
		out[n] = u
		n++
	}
	return out[:n]
}
