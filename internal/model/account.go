package model

import "github.com/shopspring/decimal"

// AccountType classifies accounts in the chart of accounts.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// DefaultNature returns the usual balance side for the type.
func (t AccountType) DefaultNature() Nature {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NatureDebit
	default:
		return NatureCredit
	}
}

// Nature is the side on which an account's balance increases.
type Nature string

const (
	NatureDebit  Nature = "debit"
	NatureCredit Nature = "credit"
)

// Valid reports whether n is debit or credit.
func (n Nature) Valid() bool {
	return n == NatureDebit || n == NatureCredit
}

// Signed returns the balance movement of a debit/credit pair for an account
// of this nature: debit-natured accounts grow with debits, credit-natured
// accounts grow with credits.
func (n Nature) Signed(debit, credit decimal.Decimal) decimal.Decimal {
	if n == NatureCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// Convert re-expresses a balance held with nature `from` in this nature.
func (n Nature) Convert(balance decimal.Decimal, from Nature) decimal.Decimal {
	if n == from {
		return balance
	}
	return balance.Neg()
}

// Account is a node of the chart of accounts. Group accounts only roll up
// their children and never appear on a journal line.
type Account struct {
	ID       string
	Code     string // dot-hierarchical, e.g. "5.2.1.001"
	Name     string
	Type     AccountType
	Nature   Nature
	Level    int // 1 for roots
	IsGroup  bool
	ParentID string // "" = root
	Balance  decimal.Decimal
	Currency string

	// Integrity is filled by stores when stored values had to be coerced.
	Integrity []DataIntegrityWarning
}

// IsRoot reports whether the account has no parent.
func (a Account) IsRoot() bool {
	return a.ParentID == ""
}
