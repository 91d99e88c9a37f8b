package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/model"
)

// Header is the CSV header for journal.csv. Each row is one line of an
// entry; the entry fields repeat on every line of the entry.
var Header = []string{
	"entry_id", "entry_number", "date", "description", "status", "reversal_of",
	"created_at", "updated_at", "posted_at",
	"line", "account_id", "account_code", "debit", "credit", "exchange_rate", "currency", "line_description",
}

const (
	numFields    = 17
	dateFormat   = "2006-01-02"
	colEntryID   = 0
	colNumber    = 1
	colDate      = 2
	colDesc      = 3
	colStatus    = 4
	colReversal  = 5
	colCreated   = 6
	colUpdated   = 7
	colPosted    = 8
	colLine      = 9
	colAcctID    = 10
	colAcctCode  = 11
	colDebit     = 12
	colCredit    = 13
	colRate      = 14
	colCurrency  = 15
	colLineDesc  = 16
	noLineMarker = "-"
)

// ReadEntries reads journal.csv, grouping consecutive rows by entry ID.
func ReadEntries(r io.Reader) ([]model.JournalEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading journal CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var entries []model.JournalEntry
	for i, rec := range records[1:] {
		entry, line, hasLine, err := UnmarshalRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		if n := len(entries); n == 0 || entries[n-1].ID != entry.ID {
			entries = append(entries, entry)
		}
		if hasLine {
			last := &entries[len(entries)-1]
			last.Lines = append(last.Lines, line)
		}
	}
	return entries, nil
}

// WriteEntries writes entries to journal.csv (including header).
func WriteEntries(w io.Writer, entries []model.JournalEntry) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	row := 2
	for _, e := range entries {
		for _, rec := range MarshalEntry(e) {
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("writing row %d: %w", row, err)
			}
			row++
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalEntry converts an entry to one CSV row per line. An entry without
// lines is written as a single row with an empty line section.
func MarshalEntry(e model.JournalEntry) [][]string {
	head := make([]string, numFields)
	head[colEntryID] = e.ID
	head[colNumber] = e.EntryNumber
	head[colDate] = formatDate(e.Date)
	head[colDesc] = e.Description
	head[colStatus] = string(e.Status)
	head[colReversal] = e.ReversalOf
	head[colCreated] = formatTime(e.CreatedAt)
	head[colUpdated] = formatTime(e.UpdatedAt)
	head[colPosted] = formatTime(e.PostedAt)

	if len(e.Lines) == 0 {
		head[colLine] = noLineMarker
		return [][]string{head}
	}

	rows := make([][]string, len(e.Lines))
	for i, l := range e.Lines {
		row := append([]string(nil), head...)
		row[colLine] = strconv.Itoa(i)
		row[colAcctID] = l.AccountID
		row[colAcctCode] = l.AccountCode
		row[colDebit] = formatAmount(l.Debit)
		row[colCredit] = formatAmount(l.Credit)
		row[colRate] = formatAmount(l.ExchangeRate)
		row[colCurrency] = l.Currency
		row[colLineDesc] = l.Description
		rows[i] = row
	}
	return rows
}

// UnmarshalRow converts a CSV row to its entry header and line. hasLine is
// false for the placeholder row of an entry without lines.
func UnmarshalRow(record []string) (entry model.JournalEntry, line model.Line, hasLine bool, err error) {
	if len(record) != numFields {
		return entry, line, false, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	entry = model.JournalEntry{
		ID:          record[colEntryID],
		EntryNumber: record[colNumber],
		Description: record[colDesc],
		Status:      model.EntryStatus(record[colStatus]),
		ReversalOf:  record[colReversal],
	}
	if entry.Date, err = parseDate(record[colDate]); err != nil {
		return entry, line, false, err
	}
	if entry.CreatedAt, err = parseTime(record[colCreated]); err != nil {
		return entry, line, false, err
	}
	if entry.UpdatedAt, err = parseTime(record[colUpdated]); err != nil {
		return entry, line, false, err
	}
	if entry.PostedAt, err = parseTime(record[colPosted]); err != nil {
		return entry, line, false, err
	}

	if record[colLine] == noLineMarker {
		return entry, line, false, nil
	}

	line = model.Line{
		AccountID:   record[colAcctID],
		AccountCode: record[colAcctCode],
		Currency:    record[colCurrency],
		Description: record[colLineDesc],
	}
	if line.Debit, err = parseAmount("debit", record[colDebit]); err != nil {
		return entry, line, false, err
	}
	if line.Credit, err = parseAmount("credit", record[colCredit]); err != nil {
		return entry, line, false, err
	}
	if line.ExchangeRate, err = parseAmount("exchange_rate", record[colRate]); err != nil {
		return entry, line, false, err
	}
	return entry, line, true, nil
}

// RecordHeader is the CSV header for gl-entries.csv.
var RecordHeader = []string{
	"record_id", "seq", "entry_id", "entry_number", "line", "account_id", "date",
	"description", "debit", "credit", "currency", "exchange_rate", "created_at",
}

const (
	numRecordFields = 13
	rcID            = 0
	rcSeq           = 1
	rcEntryID       = 2
	rcNumber        = 3
	rcLine          = 4
	rcAcctID        = 5
	rcDate          = 6
	rcDesc          = 7
	rcDebit         = 8
	rcCredit        = 9
	rcCurrency      = 10
	rcRate          = 11
	rcCreated       = 12
)

// ReadRecords reads gl-entries.csv. Unusable amounts are read as zero and
// reported on the record's Integrity field.
func ReadRecords(r io.Reader) ([]model.LedgerRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numRecordFields

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading ledger CSV: %w", err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	var out []model.LedgerRecord
	for i, row := range rows[1:] {
		rec, err := UnmarshalRecord(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteRecords writes gl-entries.csv (including header).
func WriteRecords(w io.Writer, recs []model.LedgerRecord) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(RecordHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, rec := range recs {
		if err := cw.Write(MarshalRecord(rec)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalRecord converts a LedgerRecord to a CSV row.
func MarshalRecord(rec model.LedgerRecord) []string {
	row := make([]string, numRecordFields)
	row[rcID] = rec.ID
	row[rcSeq] = strconv.FormatInt(rec.Seq, 10)
	row[rcEntryID] = rec.EntryID
	row[rcNumber] = rec.EntryNumber
	row[rcLine] = strconv.Itoa(rec.LineIndex)
	row[rcAcctID] = rec.AccountID
	row[rcDate] = formatDate(rec.Date)
	row[rcDesc] = rec.Description
	row[rcDebit] = formatAmount(rec.Debit)
	row[rcCredit] = formatAmount(rec.Credit)
	row[rcCurrency] = rec.Currency
	row[rcRate] = formatAmount(rec.ExchangeRate)
	row[rcCreated] = formatTime(rec.CreatedAt)
	return row
}

// UnmarshalRecord converts a CSV row to a LedgerRecord.
func UnmarshalRecord(row []string) (model.LedgerRecord, error) {
	if len(row) != numRecordFields {
		return model.LedgerRecord{}, fmt.Errorf("expected %d fields, got %d", numRecordFields, len(row))
	}

	seq, err := strconv.ParseInt(row[rcSeq], 10, 64)
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("parsing seq %q: %w", row[rcSeq], err)
	}
	line, err := strconv.Atoi(row[rcLine])
	if err != nil {
		return model.LedgerRecord{}, fmt.Errorf("parsing line %q: %w", row[rcLine], err)
	}
	date, err := parseDate(row[rcDate])
	if err != nil {
		return model.LedgerRecord{}, err
	}
	created, err := parseTime(row[rcCreated])
	if err != nil {
		return model.LedgerRecord{}, err
	}

	rec := model.LedgerRecord{
		ID:          row[rcID],
		Seq:         seq,
		EntryID:     row[rcEntryID],
		EntryNumber: row[rcNumber],
		LineIndex:   line,
		AccountID:   row[rcAcctID],
		Date:        date,
		Description: row[rcDesc],
		Currency:    row[rcCurrency],
		CreatedAt:   created,
	}

	coerce := func(field, raw string) decimal.Decimal {
		d, warn := currency.ParseAmount(raw)
		if warn != nil {
			warn.Entity, warn.ID, warn.Field = "gl_entry", rec.ID, field
			rec.Integrity = append(rec.Integrity, *warn)
		}
		return d
	}
	rec.Debit = coerce("debit", row[rcDebit])
	rec.Credit = coerce("credit", row[rcCredit])
	rec.ExchangeRate = coerce("exchange_rate", row[rcRate])
	return rec, nil
}

func formatAmount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s %q: %w", field, raw, err)
	}
	return d, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateFormat)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
