package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryStatus represents the lifecycle state of a journal entry.
type EntryStatus string

const (
	StatusDraft     EntryStatus = "draft"
	StatusPosted    EntryStatus = "posted"
	StatusCancelled EntryStatus = "cancelled"
)

// JournalEntry is a candidate or posted double-entry transaction.
type JournalEntry struct {
	ID          string
	EntryNumber string // assigned on creation, immutable
	Date        time.Time
	Description string
	Status      EntryStatus
	Lines       []Line
	ReversalOf  string // ID of the posted entry this one compensates
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PostedAt    time.Time
}

// Clone returns a deep copy of the entry.
func (e JournalEntry) Clone() JournalEntry {
	c := e
	c.Lines = append([]Line(nil), e.Lines...)
	return c
}

// Line is one row of a journal entry. At most one of Debit and Credit is
// non-zero; amounts are in the line's own currency.
type Line struct {
	AccountID    string
	AccountCode  string // informational, resolved by lookup
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	ExchangeRate decimal.Decimal // zero means 1
	Currency     string
	Description  string
}

var one = decimal.NewFromInt(1)

// Rate returns the exchange rate to the base currency, defaulting to 1.
func (l Line) Rate() decimal.Decimal {
	if l.ExchangeRate.IsZero() {
		return one
	}
	return l.ExchangeRate
}

// IsEmpty reports whether the line carries nothing at all. Empty lines are
// discarded before validation.
func (l Line) IsEmpty() bool {
	return l.AccountID == "" &&
		strings.TrimSpace(l.AccountCode) == "" &&
		l.Debit.IsZero() &&
		l.Credit.IsZero() &&
		strings.TrimSpace(l.Description) == ""
}
