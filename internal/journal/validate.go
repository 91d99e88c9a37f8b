package journal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/model"
)

// Field error codes.
const (
	CodeDateRequired        = "date.required"
	CodeDescriptionRequired = "description.required"
	CodeLinesEmpty          = "lines.empty"
	CodeAccountRequired     = "account.required"
	CodeAccountUnknown      = "account.unknown"
	CodeAccountGroup        = "account.group"
	CodeAmountBoth          = "amount.both"
	CodeAmountNone          = "amount.none"
	CodeAmountNegative      = "amount.negative"
	CodeRateInvalid         = "rate.invalid"
	CodeCurrencyUnknown     = "currency.unknown"
	CodeBalanceMismatch     = "balance.mismatch"
)

// FieldError is one violated constraint. Line is the index into the
// submitted line slice, or -1 for entry-level fields.
type FieldError struct {
	Field   string
	Line    int
	Code    string
	Message string
}

func (f FieldError) String() string {
	if f.Line < 0 {
		return fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("lines[%d].%s: %s", f.Line, f.Field, f.Message)
}

// ValidationError collects every violation found in a candidate entry.
// Debits, Credits and Difference are the base-currency totals of the
// non-empty lines.
type ValidationError struct {
	EntryID    string
	Fields     []FieldError
	Debits     decimal.Decimal
	Credits    decimal.Decimal
	Difference decimal.Decimal
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.String()
	}
	subject := "entry"
	if e.EntryID != "" {
		subject = "entry " + e.EntryID
	}
	return fmt.Sprintf("%s: validation failed: %s", subject, strings.Join(msgs, "; "))
}

// Has reports whether any field error carries code.
func (e *ValidationError) Has(code string) bool {
	for _, f := range e.Fields {
		if f.Code == code {
			return true
		}
	}
	return false
}

// WithCode returns the field errors carrying code.
func (e *ValidationError) WithCode(code string) []FieldError {
	var out []FieldError
	for _, f := range e.Fields {
		if f.Code == code {
			out = append(out, f)
		}
	}
	return out
}

// AsValidation unwraps err into a *ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AccountResolver looks accounts up by ID.
type AccountResolver interface {
	Account(id string) (model.Account, bool)
}

// FilterLines drops fully empty lines and returns the remaining lines with
// their indices in the original slice.
func FilterLines(lines []model.Line) ([]model.Line, []int) {
	var kept []model.Line
	var idx []int
	for i, l := range lines {
		if l.IsEmpty() {
			continue
		}
		kept = append(kept, l)
		idx = append(idx, i)
	}
	return kept, idx
}

// Validate checks a candidate entry and returns a *ValidationError listing
// every violation, or nil. It has no side effects. A zero tolerance means
// currency.DefaultTolerance.
func Validate(entry model.JournalEntry, accounts AccountResolver, tolerance decimal.Decimal) error {
	if !tolerance.IsPositive() {
		tolerance = currency.DefaultTolerance
	}
	ve := &ValidationError{EntryID: entry.EntryNumber}
	if ve.EntryID == "" {
		ve.EntryID = entry.ID
	}
	add := func(field string, line int, code, msg string) {
		ve.Fields = append(ve.Fields, FieldError{Field: field, Line: line, Code: code, Message: msg})
	}

	// (a) header
	if entry.Date.IsZero() {
		add("date", -1, CodeDateRequired, "date is required")
	}
	if strings.TrimSpace(entry.Description) == "" {
		add("description", -1, CodeDescriptionRequired, "description is required")
	}

	// (b) at least one non-empty line
	lines, idx := FilterLines(entry.Lines)
	if len(lines) == 0 {
		add("lines", -1, CodeLinesEmpty, "entry has no lines")
		return ve
	}

	for i, l := range lines {
		n := idx[i]

		// (c) account
		switch {
		case l.AccountID == "":
			add("account", n, CodeAccountRequired, "account is required")
		default:
			acct, ok := accounts.Account(l.AccountID)
			switch {
			case !ok:
				add("account", n, CodeAccountUnknown, fmt.Sprintf("unknown account %s", l.AccountID))
			case acct.IsGroup:
				add("account", n, CodeAccountGroup, fmt.Sprintf("account %s is a group account", acct.Code))
			}
		}

		// (d) exactly one positive amount
		switch {
		case l.Debit.IsNegative() || l.Credit.IsNegative():
			add("amount", n, CodeAmountNegative, "amounts must not be negative")
		case l.Debit.IsPositive() && l.Credit.IsPositive():
			add("amount", n, CodeAmountBoth, "line has both debit and credit")
		case !l.Debit.IsPositive() && !l.Credit.IsPositive():
			add("amount", n, CodeAmountNone, "line needs a debit or a credit")
		}

		if l.ExchangeRate.IsNegative() {
			add("exchange_rate", n, CodeRateInvalid, fmt.Sprintf("exchange rate %s must be positive", l.ExchangeRate))
		}
		if l.Currency != "" {
			if err := currency.Validate(l.Currency); err != nil {
				add("currency", n, CodeCurrencyUnknown, err.Error())
			}
		}
	}

	// (e) balance over the filtered lines
	ve.Debits, ve.Credits = currency.Totals(lines)
	ve.Difference = ve.Debits.Sub(ve.Credits)
	if !currency.Balanced(ve.Debits, ve.Credits, tolerance) {
		add("lines", -1, CodeBalanceMismatch, fmt.Sprintf("debits %s != credits %s (difference %s)",
			ve.Debits.String(), ve.Credits.String(), ve.Difference.Abs().String()))
	}

	if len(ve.Fields) == 0 {
		return nil
	}
	return ve
}
