package report

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// AccountFilter selects the posting accounts shown in a trial balance.
// Zero fields match everything.
type AccountFilter struct {
	Types      []model.AccountType
	CodePrefix string // matches whole code segments: "5.2" matches "5.2.1", not "5.20"
	HideZero   bool
}

func (f AccountFilter) match(a model.Account) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if a.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if p := strings.TrimSuffix(strings.TrimSpace(f.CodePrefix), "."); p != "" {
		if a.Code != p && !strings.HasPrefix(a.Code, p+".") {
			return false
		}
	}
	return true
}

// TrialBalanceQuery selects a trial balance. A zero AsOf includes every
// posted record; otherwise records dated up to and including AsOf count.
type TrialBalanceQuery struct {
	AsOf             time.Time
	IncludeHierarchy bool
	Filter           AccountFilter
}

// TrialBalanceRow is an account's net position. Exactly one of Debit and
// Credit is non-zero for a non-zero position. Balance is the same position
// in the account's nature.
type TrialBalanceRow struct {
	Account AccountRef      `json:"account"`
	Level   int             `json:"level"`
	IsGroup bool            `json:"is_group"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`
}

type TrialBalance struct {
	AsOf         time.Time                    `json:"as_of"`
	Currency     string                       `json:"currency"`
	Rows         []TrialBalanceRow            `json:"rows"`
	TotalDebits  decimal.Decimal              `json:"total_debits"`
	TotalCredits decimal.Decimal              `json:"total_credits"`
	Difference   decimal.Decimal              `json:"difference"`
	Balanced     bool                         `json:"balanced"`
	Warnings     []model.DataIntegrityWarning `json:"warnings,omitempty"`
}

// TrialBalance lists the position of every posting account as of q.AsOf in
// chart order. Totals cover the visible posting rows only.
//
// With IncludeHierarchy each group that has a visible posting descendant is
// listed with the sum of its visible descendants. Accounts hidden by the
// filter do not count toward their group's row, so a filtered group row can
// differ from the group's stored balance. That row is display only and is
// never written back.
func (g *Generator) TrialBalance(ctx context.Context, q TrialBalanceQuery) (*TrialBalance, error) {
	tree, warnings, err := g.tree(ctx)
	if err != nil {
		return nil, err
	}
	rq := store.RecordQuery{PostedOnly: true}
	tb := &TrialBalance{Currency: g.base, TotalDebits: decimal.Zero, TotalCredits: decimal.Zero}
	if !q.AsOf.IsZero() {
		tb.AsOf = dayStart(q.AsOf)
		to := dayAfter(q.AsOf)
		rq.To = &to
	}
	recs, err := g.store.Records(ctx, rq)
	if err != nil {
		return nil, err
	}

	// net is debit minus credit per posting account.
	net := make(map[string]decimal.Decimal)
	for _, r := range recs {
		warnings = append(warnings, r.Integrity...)
		if !tree.Exists(r.AccountID) {
			g.logger.Warn("ledger record for unknown account", zap.String("record_id", r.ID), zap.String("account_id", r.AccountID))
			continue
		}
		net[r.AccountID] = net[r.AccountID].Add(r.Debit).Sub(r.Credit)
	}

	visible := make(map[string]bool)
	groupNet := make(map[string]decimal.Decimal)
	for _, a := range tree.All() {
		if a.IsGroup || !q.Filter.match(a) {
			continue
		}
		visible[a.ID] = true
		for _, anc := range tree.Ancestors(a.ID) {
			visible[anc.ID] = true
			groupNet[anc.ID] = groupNet[anc.ID].Add(net[a.ID])
		}
	}

	tree.Walk(func(a model.Account, depth int) bool {
		if !visible[a.ID] {
			return false
		}
		if a.IsGroup {
			if q.IncludeHierarchy {
				tb.addRow(a, depth, groupNet[a.ID], q.Filter.HideZero)
			}
			return true
		}
		if row, ok := tb.addRow(a, depth, net[a.ID], q.Filter.HideZero); ok {
			tb.TotalDebits = tb.TotalDebits.Add(row.Debit)
			tb.TotalCredits = tb.TotalCredits.Add(row.Credit)
		}
		return true
	})

	tb.Difference = tb.TotalDebits.Sub(tb.TotalCredits)
	tb.Balanced = currency.Balanced(tb.TotalDebits, tb.TotalCredits, g.tolerance)
	tb.Warnings = warnings
	g.warn(warnings)
	return tb, nil
}

func (tb *TrialBalance) addRow(a model.Account, depth int, n decimal.Decimal, hideZero bool) (TrialBalanceRow, bool) {
	if hideZero && n.IsZero() {
		return TrialBalanceRow{}, false
	}
	row := TrialBalanceRow{
		Account: refOf(a),
		Level:   depth,
		IsGroup: a.IsGroup,
		Debit:   decimal.Zero,
		Credit:  decimal.Zero,
		Balance: a.Nature.Signed(n, decimal.Zero),
	}
	if n.IsPositive() {
		row.Debit = n
	} else {
		row.Credit = n.Neg()
	}
	tb.Rows = append(tb.Rows, row)
	return row, true
}
