package accounts

import (
	"strings"

	"github.com/cleared-dev/ledgercore/internal/id"
	"github.com/cleared-dev/ledgercore/internal/model"
)

// Spec describes an account by code; the parent is the code without its
// last dot segment.
type Spec struct {
	Code  string
	Name  string
	Type  model.AccountType
	Group bool
}

// ParentCode returns the code of the implied parent, "" for a root code.
func ParentCode(code string) string {
	i := strings.LastIndex(code, ".")
	if i < 0 {
		return ""
	}
	return code[:i]
}

// FromSpecs turns specs into accounts with fresh IDs, parent links derived
// from the codes, levels from the number of segments, and the default
// nature of each type. Parents must precede their children.
func FromSpecs(specs []Spec, currencyCode string) []model.Account {
	byCode := make(map[string]string, len(specs))
	out := make([]model.Account, 0, len(specs))
	for _, s := range specs {
		a := model.Account{
			ID:       id.New(),
			Code:     s.Code,
			Name:     s.Name,
			Type:     s.Type,
			Nature:   s.Type.DefaultNature(),
			Level:    strings.Count(s.Code, ".") + 1,
			IsGroup:  s.Group,
			ParentID: byCode[ParentCode(s.Code)],
			Currency: currencyCode,
		}
		byCode[s.Code] = a.ID
		out = append(out, a)
	}
	return out
}

// DefaultChart returns a starter chart of accounts in baseCurrency.
func DefaultChart(baseCurrency string) []model.Account {
	return FromSpecs(defaultSpecs, baseCurrency)
}

var defaultSpecs = []Spec{
	{Code: "1", Name: "Assets", Type: model.AccountTypeAsset, Group: true},
	{Code: "1.1", Name: "Current Assets", Type: model.AccountTypeAsset, Group: true},
	{Code: "1.1.001", Name: "Cash on Hand", Type: model.AccountTypeAsset},
	{Code: "1.1.002", Name: "Bank Account", Type: model.AccountTypeAsset},
	{Code: "1.1.003", Name: "Accounts Receivable", Type: model.AccountTypeAsset},
	{Code: "1.1.004", Name: "Inventory", Type: model.AccountTypeAsset},
	{Code: "1.2", Name: "Fixed Assets", Type: model.AccountTypeAsset, Group: true},
	{Code: "1.2.001", Name: "Equipment", Type: model.AccountTypeAsset},
	{Code: "1.2.002", Name: "Vehicles", Type: model.AccountTypeAsset},

	{Code: "2", Name: "Liabilities", Type: model.AccountTypeLiability, Group: true},
	{Code: "2.1", Name: "Current Liabilities", Type: model.AccountTypeLiability, Group: true},
	{Code: "2.1.001", Name: "Accounts Payable", Type: model.AccountTypeLiability},
	{Code: "2.1.002", Name: "Salaries Payable", Type: model.AccountTypeLiability},
	{Code: "2.1.003", Name: "Tax Payable", Type: model.AccountTypeLiability},

	{Code: "3", Name: "Equity", Type: model.AccountTypeEquity, Group: true},
	{Code: "3.1", Name: "Owner's Capital", Type: model.AccountTypeEquity},
	{Code: "3.2", Name: "Retained Earnings", Type: model.AccountTypeEquity},

	{Code: "4", Name: "Revenue", Type: model.AccountTypeRevenue, Group: true},
	{Code: "4.1", Name: "Sales Revenue", Type: model.AccountTypeRevenue},
	{Code: "4.2", Name: "Service Revenue", Type: model.AccountTypeRevenue},
	{Code: "4.3", Name: "Shipping Revenue", Type: model.AccountTypeRevenue},

	{Code: "5", Name: "Expenses", Type: model.AccountTypeExpense, Group: true},
	{Code: "5.1", Name: "Cost of Goods Sold", Type: model.AccountTypeExpense},
	{Code: "5.2", Name: "Operating Expenses", Type: model.AccountTypeExpense, Group: true},
	{Code: "5.2.1", Name: "Payroll", Type: model.AccountTypeExpense, Group: true},
	{Code: "5.2.1.001", Name: "Salaries and Wages", Type: model.AccountTypeExpense},
	{Code: "5.2.1.002", Name: "Social Insurance", Type: model.AccountTypeExpense},
	{Code: "5.2.2", Name: "Rent", Type: model.AccountTypeExpense},
	{Code: "5.2.3", Name: "Utilities", Type: model.AccountTypeExpense},
	{Code: "5.2.4", Name: "Shipping and Freight", Type: model.AccountTypeExpense},
}
