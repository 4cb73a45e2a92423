package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	"github.com/nhle/mailledger/internal/model"
	"github.com/nhle/mailledger/internal/store"
	"github.com/nhle/mailledger/internal/theme"
)

const (
	txColDate = iota
	txColDirection
	txColAmount
	txColReference
	txColPayee
	txColUPI
	txColBank
	txColUID
	txColID
)

// Transactions renders a page of transactions followed by a paging footer.
func Transactions(page *store.TransactionPage) string {
	if page == nil || len(page.Items) == 0 {
		return theme.HelpStyle.Render("No transactions found.")
	}

	rows := make([][]string, 0, len(page.Items))
	for _, tx := range page.Items {
		rows = append(rows, []string{
			tx.Date.Format(model.DateLayout),
			string(tx.Direction),
			tx.Amount.StringFixed(2),
			tx.Reference,
			tx.PayeeName,
			tx.ToUPI,
			tx.BankName,
			strconv.FormatUint(uint64(tx.SourceMessageID), 10),
			tx.ID,
		})
	}

	t := newTable("Date", "Dir", "Amount", "Reference", "Payee", "UPI", "Bank", "UID", "ID").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.TableHeaderStyle
			case col == txColDirection && row >= 0 && row < len(rows):
				return theme.DirectionStyle(rows[row][txColDirection])
			case col == txColAmount || col == txColUID:
				return theme.AmountStyle
			default:
				return theme.CellStyle
			}
		})

	footer := fmt.Sprintf("Page %d of %d (%d transaction(s), %d per page)",
		page.Page+1, max(page.TotalPages, 1), page.Total, page.PageSize)

	return t.Render() + "\n" + theme.HelpStyle.Render(footer)
}

// Day renders every transaction dated on one day, without paging.
func Day(day string, txns []model.Transaction) string {
	if len(txns) == 0 {
		return theme.HelpStyle.Render("No transactions on " + day + ".")
	}
	page := Transactions(&store.TransactionPage{
		Items:      txns,
		PageSize:   len(txns),
		Total:      len(txns),
		TotalPages: 1,
	})
	return theme.HeaderStyle.Render("Transactions on "+day) + "\n" + page
}

// Transaction renders the full record of one transaction.
func Transaction(tx model.Transaction) string {
	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("Transaction " + tx.ID))
	b.WriteString("\n")

	lines := [][2]string{
		{"Date", tx.Date.Format(model.DateLayout)},
		{"Direction", theme.DirectionStyle(string(tx.Direction)).Render(string(tx.Direction))},
		{"Amount", tx.Amount.StringFixed(2)},
		{"Reference", tx.Reference},
		{"Payee", tx.PayeeName},
		{"UPI", tx.ToUPI},
		{"Account", tx.AccountNumber},
		{"Bank", tx.BankName},
		{"Category", tx.Category},
		{"Message UID", strconv.FormatUint(uint64(tx.SourceMessageID), 10)},
		{"Received", tx.SourceReceivedAt.Format(time.RFC3339)},
		{"Ingested", tx.IngestedAt.Format(time.RFC3339)},
	}
	for _, l := range lines {
		fmt.Fprintf(&b, "  %-16s %s\n", l[0]+":", l[1])
	}
	return b.String()
}

// Total renders a single labelled debit total.
func Total(label string, amount decimal.Decimal) string {
	return theme.HeaderStyle.Render(label) + " " + theme.TotalStyle.Render(amount.StringFixed(2))
}

// TotalsByDate renders per-day debit totals in date order with a grand
// total row.
func TotalsByDate(totals map[string]decimal.Decimal) string {
	if len(totals) == 0 {
		return theme.HelpStyle.Render("No dates requested.")
	}

	dates := make([]string, 0, len(totals))
	for d := range totals {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	sum := decimal.Zero
	rows := make([][]string, 0, len(dates)+1)
	for _, d := range dates {
		sum = sum.Add(totals[d])
		rows = append(rows, []string{d, totals[d].StringFixed(2)})
	}
	rows = append(rows, []string{"Total", sum.StringFixed(2)})
	last := len(rows) - 1

	t := newTable("Date", "Debits").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.TableHeaderStyle
			case row == last && col == 1:
				return theme.AmountStyle.Inherit(theme.TotalStyle)
			case row == last:
				return theme.CellStyle.Inherit(theme.TotalStyle)
			case col == 1:
				return theme.AmountStyle
			default:
				return theme.CellStyle
			}
		})

	return t.Render()
}

// Runs renders ingestion run history, newest first as given.
func Runs(runs []model.IngestionRun) string {
	if len(runs) == 0 {
		return theme.HelpStyle.Render("No ingestion runs recorded.")
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Mailbox,
			RunState(r),
			fmt.Sprintf("%d→%d", r.CursorBefore, r.CursorAfter),
			strconv.Itoa(r.Candidates),
			strconv.Itoa(r.Saved),
			strconv.Itoa(r.Rejected),
			strconv.Itoa(r.Duplicates),
			strconv.Itoa(r.PersistenceFailed),
			truncate(r.Error, 48),
		})
	}

	t := newTable("Started", "Mailbox", "State", "Cursor", "Seen", "Saved", "Rejected", "Dupes", "Failed", "Error").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return theme.TableHeaderStyle
			case col == 2 && row >= 0 && row < len(rows):
				return theme.RunStateStyle(rows[row][2])
			case col >= 4 && col <= 8:
				return theme.AmountStyle
			default:
				return theme.CellStyle
			}
		})

	return t.Render()
}

// RunState labels a run as "ok", "running", "error", or "partial" when
// some messages could not be persisted.
func RunState(r model.IngestionRun) string {
	switch {
	case r.Error != "":
		return "error"
	case r.FinishedAt == nil:
		return "running"
	case r.PersistenceFailed > 0:
		return "partial"
	default:
		return "ok"
	}
}

// RunSummary renders a one-run summary for the run command.
func RunSummary(r model.IngestionRun) string {
	var b strings.Builder
	b.WriteString(theme.HeaderStyle.Render("Ingestion run " + r.ID))
	b.WriteString("\n")

	lines := [][2]string{
		{"Mailbox", r.Mailbox},
		{"State", theme.RunStateStyle(RunState(r)).Render(RunState(r))},
		{"Cursor", fmt.Sprintf("%d → %d", r.CursorBefore, r.CursorAfter)},
		{"Candidates", strconv.Itoa(r.Candidates)},
		{"Saved", strconv.Itoa(r.Saved)},
		{"Rejected", strconv.Itoa(r.Rejected)},
		{"Duplicates", strconv.Itoa(r.Duplicates)},
		{"Empty", strconv.Itoa(r.Empty)},
		{"Skipped senders", strconv.Itoa(r.SkippedSenders)},
		{"Not persisted", strconv.Itoa(r.PersistenceFailed)},
	}
	if r.FinishedAt != nil {
		lines = append(lines, [2]string{"Duration", r.FinishedAt.Sub(r.StartedAt).String()})
	}
	if r.Error != "" {
		lines = append(lines, [2]string{"Error", r.Error})
	}

	for _, l := range lines {
		fmt.Fprintf(&b, "  %-16s %s\n", l[0]+":", l[1])
	}
	return b.String()
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(theme.BorderStyle).
		Headers(headers...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
