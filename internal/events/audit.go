package events

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// AuditHeader is the CSV header for audit-log.csv.
const AuditHeader = "timestamp,kind,entry_id,entry_number,account_id,old_balance,new_balance"

// AuditFile is the audit log path relative to the books directory.
const AuditFile = "logs/audit-log.csv"

const (
	numAuditFields = 7
	colTimestamp   = 0
	colKind        = 1
	colEntryID     = 2
	colEntryNumber = 3
	colAccountID   = 4
	colOldBalance  = 5
	colNewBalance  = 6
)

// AuditLog appends every event to <dir>/logs/audit-log.csv.
type AuditLog struct {
	dir string
	mu  sync.Mutex
}

func NewAuditLog(dir string) *AuditLog {
	return &AuditLog{dir: dir}
}

func (l *AuditLog) Emit(_ context.Context, e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendAudit(l.dir, []Event{e})
}

// MarshalAudit converts an event to a CSV row.
func MarshalAudit(e Event) []string {
	row := make([]string, numAuditFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	row[colKind] = string(e.Kind)
	row[colEntryID] = e.EntryID
	row[colEntryNumber] = e.EntryNumber
	row[colAccountID] = e.AccountID
	if e.Kind == KindBalanceUpdated {
		row[colOldBalance] = e.OldBalance.String()
		row[colNewBalance] = e.NewBalance.String()
	}
	return row
}

// UnmarshalAudit converts a CSV row to an event.
func UnmarshalAudit(record []string) (Event, error) {
	if len(record) != numAuditFields {
		return Event{}, fmt.Errorf("expected %d fields, got %d", numAuditFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339Nano, record[colTimestamp])
	if err != nil {
		return Event{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	e := Event{
		Timestamp:   ts,
		Kind:        Kind(record[colKind]),
		EntryID:     record[colEntryID],
		EntryNumber: record[colEntryNumber],
		AccountID:   record[colAccountID],
	}
	if record[colOldBalance] != "" {
		if e.OldBalance, err = decimal.NewFromString(record[colOldBalance]); err != nil {
			return Event{}, fmt.Errorf("parsing old_balance %q: %w", record[colOldBalance], err)
		}
	}
	if record[colNewBalance] != "" {
		if e.NewBalance, err = decimal.NewFromString(record[colNewBalance]); err != nil {
			return Event{}, fmt.Errorf("parsing new_balance %q: %w", record[colNewBalance], err)
		}
	}
	return e, nil
}

func appendAudit(dir string, evs []Event) error {
	path := filepath.Join(dir, filepath.FromSlash(AuditFile))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	needsHeader := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(AuditHeader, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range evs {
		if err := cw.Write(MarshalAudit(e)); err != nil {
			return fmt.Errorf("writing event %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAudit returns all events from <dir>/logs/audit-log.csv, or nil if the
// file does not exist.
func ReadAudit(dir string) ([]Event, error) {
	f, err := os.Open(filepath.Join(dir, filepath.FromSlash(AuditFile)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	return readAudit(f)
}

func readAudit(r io.Reader) ([]Event, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numAuditFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading audit log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var evs []Event
	for i, rec := range records[1:] {
		e, err := UnmarshalAudit(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		evs = append(evs, e)
	}
	return evs, nil
}
