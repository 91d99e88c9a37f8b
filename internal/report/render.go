package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/currency"
)

// Format is an output format of the CLI reports.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat accepts text, markdown (or md) and json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, markdown or json)", s)
}

// Render writes v, a *Statement, *TrialBalance or *VerifyReport, in format f.
func Render(w io.Writer, f Format, v any) error {
	switch f {
	case FormatJSON:
		return RenderJSON(w, v)
	case FormatMarkdown:
		return RenderMarkdown(w, v, "")
	default:
		return RenderText(w, v)
	}
}

func RenderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderMarkdown renders v as markdown tables styled for the terminal.
// style is a glamour standard style ("dark", "light", "notty", ...); empty
// picks one from the terminal.
func RenderMarkdown(w io.Writer, v any, style string) error {
	md, err := Markdown(v)
	if err != nil {
		return err
	}
	opt := glamour.WithAutoStyle()
	if style != "" {
		opt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(0))
	if err != nil {
		return err
	}
	out, err := r.Render(md)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// Markdown returns the raw markdown of v.
func Markdown(v any) (string, error) {
	switch r := v.(type) {
	case *Statement:
		return statementMarkdown(r), nil
	case *TrialBalance:
		return trialBalanceMarkdown(r), nil
	case *VerifyReport:
		return verifyMarkdown(r), nil
	}
	return "", fmt.Errorf("report: cannot render %T", v)
}

func statementMarkdown(s *Statement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Statement %s %s\n\n", s.Account.Code, s.Account.Name)
	fmt.Fprintf(&b, "Period: %s (%s, %s nature)\n\n", period(s.From, s.To), s.Currency, s.Account.Nature)
	fmt.Fprintln(&b, "| Date | Entry | Description | Debit | Credit | Balance |")
	fmt.Fprintln(&b, "|:---|:---|:---|---:|---:|---:|")
	fmt.Fprintf(&b, "| | | Opening balance | | | %s |\n", amount(s.OpeningBalance, s.Currency))
	for _, l := range s.Lines {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			l.Date.Format(time.DateOnly),
			l.EntryNumber,
			escapeCell(l.Description),
			blankZero(l.Debit, s.Currency),
			blankZero(l.Credit, s.Currency),
			amount(l.Balance, s.Currency),
		)
	}
	fmt.Fprintf(&b, "| | | **Totals** | %s | %s | **%s** |\n",
		amount(s.TotalDebits, s.Currency), amount(s.TotalCredits, s.Currency), amount(s.ClosingBalance, s.Currency))
	writeWarningsMarkdown(&b, len(s.Warnings))
	return b.String()
}

func trialBalanceMarkdown(tb *TrialBalance) string {
	var b strings.Builder
	asOf := "all dates"
	if !tb.AsOf.IsZero() {
		asOf = tb.AsOf.Format(time.DateOnly)
	}
	fmt.Fprintf(&b, "## Trial Balance as of %s\n\n", asOf)
	fmt.Fprintln(&b, "| Code | Account | Debit | Credit |")
	fmt.Fprintln(&b, "|:---|:---|---:|---:|")
	for _, r := range tb.Rows {
		code, name := r.Account.Code, escapeCell(r.Account.Name)
		if r.IsGroup {
			code, name = "**"+code+"**", "**"+name+"**"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", code, name, blankZero(r.Debit, tb.Currency), blankZero(r.Credit, tb.Currency))
	}
	fmt.Fprintf(&b, "| | **Totals** | **%s** | **%s** |\n\n", amount(tb.TotalDebits, tb.Currency), amount(tb.TotalCredits, tb.Currency))
	status := "balanced"
	if !tb.Balanced {
		status = "NOT balanced"
	}
	fmt.Fprintf(&b, "Difference: %s (%s)\n", amount(tb.Difference, tb.Currency), status)
	writeWarningsMarkdown(&b, len(tb.Warnings))
	return b.String()
}

func verifyMarkdown(r *VerifyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Ledger check\n\n%d accounts, %d ledger records.\n\n", r.Accounts, r.Records)
	if r.OK() {
		fmt.Fprintln(&b, "No problems found.")
	}
	if len(r.Mismatches) > 0 {
		fmt.Fprintln(&b, "| Code | Account | Stored | Computed |")
		fmt.Fprintln(&b, "|:---|:---|---:|---:|")
		for _, m := range r.Mismatches {
			stored := m.Stored.String()
			if m.Corrupt {
				stored = "corrupt"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", m.Account.Code, escapeCell(m.Account.Name), stored, m.Computed)
		}
		fmt.Fprintln(&b)
	}
	for _, n := range r.Unbalanced {
		fmt.Fprintf(&b, "- entry %s does not balance\n", n)
	}
	for _, n := range r.MissingRecords {
		fmt.Fprintf(&b, "- entry %s is posted but has no ledger records\n", n)
	}
	if r.LevelError != "" {
		fmt.Fprintf(&b, "- %s\n", r.LevelError)
	}
	writeWarningsMarkdown(&b, len(r.Warnings))
	return b.String()
}

func writeWarningsMarkdown(b *strings.Builder, n int) {
	if n > 0 {
		fmt.Fprintf(b, "\n> %d data integrity warning(s): unusable stored values were shown as 0.\n", n)
	}
}

// RenderText writes v as aligned plain-text columns.
func RenderText(w io.Writer, v any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	switch r := v.(type) {
	case *Statement:
		textStatement(tw, r)
	case *TrialBalance:
		textTrialBalance(tw, r)
	case *VerifyReport:
		fmt.Fprint(tw, verifyMarkdown(r))
	default:
		return fmt.Errorf("report: cannot render %T", v)
	}
	return tw.Flush()
}

func textStatement(tw *tabwriter.Writer, s *Statement) {
	fmt.Fprintf(tw, "%s %s\t\n", s.Account.Code, s.Account.Name)
	fmt.Fprintf(tw, "%s\t\n\n", period(s.From, s.To))
	fmt.Fprintln(tw, "DATE\tENTRY\tDESCRIPTION\tDEBIT\tCREDIT\tBALANCE\t")
	fmt.Fprintf(tw, "\t\tOpening balance\t\t\t%s\t\n", amount(s.OpeningBalance, s.Currency))
	for _, l := range s.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			l.Date.Format(time.DateOnly), l.EntryNumber, l.Description,
			blankZero(l.Debit, s.Currency), blankZero(l.Credit, s.Currency), amount(l.Balance, s.Currency))
	}
	fmt.Fprintf(tw, "\t\tTotals\t%s\t%s\t%s\t\n",
		amount(s.TotalDebits, s.Currency), amount(s.TotalCredits, s.Currency), amount(s.ClosingBalance, s.Currency))
	if len(s.Warnings) > 0 {
		fmt.Fprintf(tw, "\n%d data integrity warning(s)\t\n", len(s.Warnings))
	}
}

func textTrialBalance(tw *tabwriter.Writer, tb *TrialBalance) {
	fmt.Fprintln(tw, "CODE\tACCOUNT\tDEBIT\tCREDIT\t")
	for _, r := range tb.Rows {
		indent := strings.Repeat("  ", max(r.Level-1, 0))
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t\n", indent, r.Account.Code, r.Account.Name,
			blankZero(r.Debit, tb.Currency), blankZero(r.Credit, tb.Currency))
	}
	fmt.Fprintf(tw, "\tTotals\t%s\t%s\t\n", amount(tb.TotalDebits, tb.Currency), amount(tb.TotalCredits, tb.Currency))
	status := "balanced"
	if !tb.Balanced {
		status = "NOT balanced"
	}
	fmt.Fprintf(tw, "\tDifference\t%s\t%s\t\n", amount(tb.Difference, tb.Currency), status)
	if len(tb.Warnings) > 0 {
		fmt.Fprintf(tw, "\n%d data integrity warning(s)\t\n", len(tb.Warnings))
	}
}

// amount formats d with the minor units of code.
func amount(d decimal.Decimal, code string) string {
	return currency.Round(d, code).StringFixed(int32(currency.Fraction(code)))
}

func blankZero(d decimal.Decimal, code string) string {
	if d.IsZero() {
		return ""
	}
	return amount(d, code)
}

func period(from, to *time.Time) string {
	f, t := "beginning", "today"
	if from != nil {
		f = from.Format(time.DateOnly)
	}
	if to != nil {
		t = to.Format(time.DateOnly)
	}
	return f + " .. " + t
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
