// Package currency normalizes journal line amounts to the ledger's base
// currency and guards against unusable stored amounts.
package currency

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/model"
)

var (
	ErrUnknownCurrency = errors.New("currency: unknown currency code")
	ErrInvalidRate     = errors.New("currency: exchange rate must be positive")
)

// DefaultTolerance is the absolute difference under which debits and credits
// are considered balanced.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Validate checks that code is a known ISO 4217 currency.
func Validate(code string) error {
	if money.GetCurrency(strings.ToUpper(code)) == nil {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return nil
}

// Fraction returns the number of minor-unit digits for code, 2 if unknown.
func Fraction(code string) int {
	if c := money.GetCurrency(strings.ToUpper(code)); c != nil {
		return c.Fraction
	}
	return 2
}

// Round rounds amount to the minor unit of code. Used for display only;
// ledger amounts are kept exact.
func Round(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(int32(Fraction(code)))
}

// Normalizer converts line amounts into the base currency using the
// exchange-rate snapshot stored on each line.
type Normalizer struct {
	Base string
}

// NewNormalizer returns a Normalizer for base, which must be a known currency.
func NewNormalizer(base string) (*Normalizer, error) {
	if err := Validate(base); err != nil {
		return nil, err
	}
	return &Normalizer{Base: strings.ToUpper(base)}, nil
}

// Line returns the base-currency debit and credit of l.
func (n *Normalizer) Line(l model.Line) (debit, credit decimal.Decimal, err error) {
	return Convert(l)
}

// Convert multiplies l's amounts by its exchange rate. The result is exact.
func Convert(l model.Line) (debit, credit decimal.Decimal, err error) {
	rate := l.Rate()
	if !rate.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidRate, rate)
	}
	return l.Debit.Mul(rate), l.Credit.Mul(rate), nil
}

// Totals sums the converted debits and credits of lines. Lines with a
// non-positive rate are skipped; the validator reports them separately.
func Totals(lines []model.Line) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range lines {
		d, c, err := Convert(l)
		if err != nil {
			continue
		}
		debits = debits.Add(d)
		credits = credits.Add(c)
	}
	return debits, credits
}

// Balanced reports whether |debits - credits| is strictly below tolerance.
func Balanced(debits, credits, tolerance decimal.Decimal) bool {
	return debits.Sub(credits).Abs().LessThan(tolerance)
}

// ParseAmount parses a stored amount. Non-finite values (NaN, Inf) and
// garbage yield zero and a non-nil warning describing the raw value; the
// caller fills in the entity fields.
func ParseAmount(raw string) (decimal.Decimal, *model.DataIntegrityWarning) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &model.DataIntegrityWarning{Raw: raw}
	}
	return d, nil
}

// FromFloat converts f, treating NaN and infinities as zero with a warning.
func FromFloat(f float64) (decimal.Decimal, *model.DataIntegrityWarning) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, &model.DataIntegrityWarning{Raw: fmt.Sprint(f)}
	}
	return decimal.NewFromFloat(f), nil
}
