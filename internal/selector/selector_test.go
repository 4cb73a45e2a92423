package selector

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type fakeMailbox struct {
	after     []uint32
	between   []uint32
	err       error
	gotAfter  *uint32
	gotFrom   time.Time
	gotTo     time.Time
	windowHit bool
}

func (f *fakeMailbox) UIDsAfter(_ context.Context, uid uint32) ([]uint32, error) {
	f.gotAfter = &uid
	return f.after, f.err
}

func (f *fakeMailbox) UIDsReceivedBetween(_ context.Context, from, to time.Time) ([]uint32, error) {
	f.windowHit = true
	f.gotFrom, f.gotTo = from, to
	return f.between, f.err
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestNormalizeWindow(t *testing.T) {
	now := time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		from, to *time.Time
		wantFrom time.Time
		wantTo   time.Time
	}{
		{"ordered", ptr(date(2024, 1, 1)), ptr(date(2024, 2, 1)), date(2024, 1, 1), date(2024, 2, 1)},
		{"swapped", ptr(date(2024, 3, 10)), ptr(date(2024, 3, 1)), date(2024, 3, 1), date(2024, 3, 10)},
		{"only from", ptr(time.Date(2024, 5, 5, 22, 0, 0, 0, time.UTC)), nil, date(2024, 5, 5), date(2024, 5, 5)},
		{"only to", nil, ptr(date(2024, 5, 7)), date(2024, 5, 7), date(2024, 5, 7)},
		{"neither", nil, nil, date(2024, 1, 1), date(2024, 6, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := NormalizeWindow(tt.from, tt.to, now)
			if !from.Equal(tt.wantFrom) || !to.Equal(tt.wantTo) {
				t.Fatalf("NormalizeWindow() = %v..%v, want %v..%v", from, to, tt.wantFrom, tt.wantTo)
			}
			if from.After(to) {
				t.Fatalf("from %v after to %v", from, to)
			}
		})
	}
}

func TestSelectByCursor(t *testing.T) {
	// Servers answer "n:*" with the last message even when its UID is below n.
	mb := &fakeMailbox{after: []uint32{12, 10, 11, 12, 9}}

	sel, err := New(nil).Select(context.Background(), mb, Request{Cursor: 10})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if !sel.ByCursor {
		t.Fatal("expected cursor selection")
	}
	if mb.gotAfter == nil || *mb.gotAfter != 10 {
		t.Fatalf("UIDsAfter called with %v, want 10", mb.gotAfter)
	}
	if mb.windowHit {
		t.Fatal("window search must not run when a cursor exists")
	}
	if want := []uint32{11, 12}; !reflect.DeepEqual(sel.UIDs, want) {
		t.Fatalf("UIDs = %v, want %v", sel.UIDs, want)
	}
}

func TestSelectByWindow(t *testing.T) {
	mb := &fakeMailbox{between: []uint32{5, 3, 4}}
	now := time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC)

	sel, err := New(nil).Select(context.Background(), mb, Request{
		From: ptr(date(2024, 6, 10)),
		To:   ptr(date(2024, 6, 1)),
		Now:  now,
	})
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if sel.ByCursor {
		t.Fatal("expected window selection")
	}
	if !mb.gotFrom.Equal(date(2024, 6, 1)) || !mb.gotTo.Equal(date(2024, 6, 10)) {
		t.Fatalf("window = %v..%v", mb.gotFrom, mb.gotTo)
	}
	if want := []uint32{3, 4, 5}; !reflect.DeepEqual(sel.UIDs, want) {
		t.Fatalf("UIDs = %v, want %v", sel.UIDs, want)
	}
}

func TestSelectPropagatesError(t *testing.T) {
	boom := errors.New("connection reset")
	mb := &fakeMailbox{err: boom}

	if _, err := New(nil).Select(context.Background(), mb, Request{Cursor: 3}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
