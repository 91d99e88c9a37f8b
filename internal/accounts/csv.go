package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/model"
)

// Header is the CSV header for chart-of-accounts.csv.
var Header = []string{"account_id", "code", "name", "type", "nature", "level", "is_group", "parent_id", "balance", "currency"}

const (
	numFields   = 10
	colID       = 0
	colCode     = 1
	colName     = 2
	colType     = 3
	colNature   = 4
	colLevel    = 5
	colGroup    = 6
	colParent   = 7
	colBalance  = 8
	colCurrency = 9
)

// ReadAccounts reads chart-of-accounts.csv. Unusable balances are read as
// zero and reported on the account's Integrity field.
func ReadAccounts(r io.Reader) ([]model.Account, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading accounts CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	var accts []model.Account
	for i, rec := range records[1:] {
		acct, err := UnmarshalAccount(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		accts = append(accts, acct)
	}
	return accts, nil
}

// WriteAccounts writes chart-of-accounts.csv.
func WriteAccounts(w io.Writer, accts []model.Account) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, acct := range accts {
		if err := cw.Write(MarshalAccount(acct)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalAccount converts an Account to a CSV row.
func MarshalAccount(acct model.Account) []string {
	row := make([]string, numFields)
	row[colID] = acct.ID
	row[colCode] = acct.Code
	row[colName] = acct.Name
	row[colType] = string(acct.Type)
	row[colNature] = string(acct.Nature)
	row[colLevel] = strconv.Itoa(acct.Level)
	row[colGroup] = strconv.FormatBool(acct.IsGroup)
	row[colParent] = acct.ParentID
	row[colBalance] = acct.Balance.String()
	row[colCurrency] = acct.Currency
	return row
}

// UnmarshalAccount converts a CSV row to an Account.
func UnmarshalAccount(record []string) (model.Account, error) {
	if len(record) != numFields {
		return model.Account{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	level, err := strconv.Atoi(record[colLevel])
	if err != nil {
		return model.Account{}, fmt.Errorf("parsing level %q: %w", record[colLevel], err)
	}

	isGroup, err := strconv.ParseBool(record[colGroup])
	if err != nil {
		return model.Account{}, fmt.Errorf("parsing is_group %q: %w", record[colGroup], err)
	}

	acct := model.Account{
		ID:       record[colID],
		Code:     record[colCode],
		Name:     record[colName],
		Type:     model.AccountType(record[colType]),
		Nature:   model.Nature(record[colNature]),
		Level:    level,
		IsGroup:  isGroup,
		ParentID: record[colParent],
		Currency: record[colCurrency],
	}
	if !acct.Type.Valid() {
		return model.Account{}, fmt.Errorf("unknown account type %q", record[colType])
	}
	if acct.Nature == "" {
		acct.Nature = acct.Type.DefaultNature()
	}
	if !acct.Nature.Valid() {
		return model.Account{}, fmt.Errorf("unknown nature %q", record[colNature])
	}

	bal, warn := currency.ParseAmount(record[colBalance])
	if warn != nil {
		warn.Entity, warn.ID, warn.Field = "account", acct.ID, "balance"
		acct.Integrity = append(acct.Integrity, *warn)
	}
	acct.Balance = bal
	return acct, nil
}
