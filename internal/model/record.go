package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerRecord is an immutable general-ledger row written when an entry is
// posted. Amounts are normalized to the base currency.
type LedgerRecord struct {
	ID           string
	EntryID      string
	EntryNumber  string
	LineIndex    int
	Seq          int64 // global append order
	AccountID    string
	Date         time.Time
	Description  string
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	Currency     string // currency of the originating line
	ExchangeRate decimal.Decimal
	CreatedAt    time.Time

	// Integrity is filled by stores when stored values had to be coerced.
	Integrity []DataIntegrityWarning
}

// DataIntegrityWarning records a stored value that could not be used as is
// (NaN or infinite amounts, orphaned parent references). The value is
// replaced by a safe display value; the stored data is left untouched.
type DataIntegrityWarning struct {
	Entity string // "account", "ledger_record"
	ID     string
	Field  string
	Raw    string
}

func (w DataIntegrityWarning) String() string {
	return fmt.Sprintf("%s %s: field %s has unusable value %q", w.Entity, w.ID, w.Field, w.Raw)
}
