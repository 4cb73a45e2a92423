// Package notify mails a summary of finished ingestion runs.
package notify

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/gomail.v2"

	"github.com/nhle/mailledger/internal/model"
	ledgersync "github.com/nhle/mailledger/internal/sync"
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Notifier sends run summaries over SMTP.
type Notifier struct {
	cfg    model.NotifyConfig
	sender Sender
	logger *log.Logger
}

// New creates a Notifier that dials the configured SMTP server with the
// given password.
func New(cfg model.NotifyConfig, password string, logger *log.Logger) (*Notifier, error) {
	if !cfg.Enabled {
		return NewWithSender(cfg, nil, logger), nil
	}
	if cfg.Host == "" || cfg.To == "" {
		return nil, errors.New("notify: host and to are required when enabled")
	}
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, password)
	return NewWithSender(cfg, dialer, logger), nil
}

// NewWithSender creates a Notifier around an existing Sender.
func NewWithSender(cfg model.NotifyConfig, sender Sender, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Notifier{cfg: cfg, sender: sender, logger: logger}
}

// ShouldNotify reports whether report warrants a mail under the current
// configuration. Failed runs are always reported.
func (n *Notifier) ShouldNotify(report ledgersync.RunReport) bool {
	if !n.cfg.Enabled || n.sender == nil {
		return false
	}
	if report.Err != nil || !n.cfg.OnlyOnChange {
		return true
	}
	return report.Result != nil && report.Result.Changed()
}

// Notify sends the summary for report when ShouldNotify allows it.
func (n *Notifier) Notify(report ledgersync.RunReport) error {
	if !n.ShouldNotify(report) {
		return nil
	}

	m := n.Compose(report)
	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("sending run summary for %s: %w", report.Run.Mailbox, err)
	}

	n.logger.Debug("run summary sent", "run_id", report.Run.ID, "to", n.cfg.To)
	return nil
}

// Compose builds the summary message for report.
func (n *Notifier) Compose(report ledgersync.RunReport) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.From)
	m.SetHeader("To", splitRecipients(n.cfg.To)...)
	m.SetHeader("Subject", Subject(report))
	m.SetBody("text/plain", Body(report))
	return m
}

// Subject summarizes the outcome in one line.
func Subject(report ledgersync.RunReport) string {
	if report.Err != nil {
		return fmt.Sprintf("[mailledger] run failed for %s", report.Run.Mailbox)
	}
	return fmt.Sprintf("[mailledger] %d new transaction(s) from %s", report.Run.Saved, report.Run.Mailbox)
}

// Body renders the run counters followed by each saved transaction.
func Body(report ledgersync.RunReport) string {
	run := report.Run

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", run.ID)
	fmt.Fprintf(&b, "Mailbox:     %s\n", run.Mailbox)
	fmt.Fprintf(&b, "Started:     %s\n", run.StartedAt.Format("2006-01-02 15:04:05 MST"))
	if run.FinishedAt != nil {
		fmt.Fprintf(&b, "Duration:    %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Cursor:      %d -> %d\n", run.CursorBefore, run.CursorAfter)
	fmt.Fprintf(&b, "Candidates:  %d\n", run.Candidates)
	fmt.Fprintf(&b, "Saved:       %d\n", run.Saved)
	fmt.Fprintf(&b, "Rejected:    %d\n", run.Rejected)
	fmt.Fprintf(&b, "Duplicates:  %d\n", run.Duplicates)
	fmt.Fprintf(&b, "Empty:       %d\n", run.Empty)
	fmt.Fprintf(&b, "Skipped:     %d\n", run.SkippedSenders)
	fmt.Fprintf(&b, "Not saved:   %d\n", run.PersistenceFailed)

	if report.Err != nil {
		fmt.Fprintf(&b, "\nError: %v\n", report.Err)
	}

	if report.Result != nil && len(report.Result.Transactions) > 0 {
		b.WriteString("\nTransactions:\n")
		for _, tx := range report.Result.Transactions {
			fmt.Fprintf(&b, "  %s  %-6s  %12s  %s  %s\n",
				tx.Date.Format(model.DateLayout),
				tx.Direction,
				tx.Amount.StringFixed(2),
				tx.Reference,
				payee(tx),
			)
		}
	}

	return b.String()
}

func payee(tx model.Transaction) string {
	switch {
	case tx.PayeeName != "" && tx.ToUPI != "":
		return tx.PayeeName + " <" + tx.ToUPI + ">"
	case tx.PayeeName != "":
		return tx.PayeeName
	default:
		return tx.ToUPI
	}
}

func splitRecipients(to string) []string {
	var out []string
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
