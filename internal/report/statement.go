package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/ledger"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// StatementQuery bounds an account statement. Both dates are inclusive
// calendar days; nil leaves the side open.
type StatementQuery struct {
	From           *time.Time
	To             *time.Time
	IncludeOpening bool
}

// StatementLine is one ledger record with the running balance after it.
type StatementLine struct {
	Date        time.Time       `json:"date"`
	EntryID     string          `json:"entry_id"`
	EntryNumber string          `json:"entry_number"`
	LineIndex   int             `json:"line_index"`
	AccountID   string          `json:"account_id"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Balance     decimal.Decimal `json:"balance"`
}

type Statement struct {
	Account        AccountRef                   `json:"account"`
	Currency       string                       `json:"currency"`
	From           *time.Time                   `json:"from,omitempty"`
	To             *time.Time                   `json:"to,omitempty"`
	OpeningBalance decimal.Decimal              `json:"opening_balance"`
	Lines          []StatementLine              `json:"lines"`
	TotalDebits    decimal.Decimal              `json:"total_debits"`
	TotalCredits   decimal.Decimal              `json:"total_credits"`
	ClosingBalance decimal.Decimal              `json:"closing_balance"`
	Warnings       []model.DataIntegrityWarning `json:"warnings,omitempty"`
}

// AccountStatement lists the posted records of an account with a running
// balance in the account's nature. A group account aggregates the records
// of all its posting descendants. With IncludeOpening and a From date the
// balance starts from the sum of every record before From.
func (g *Generator) AccountStatement(ctx context.Context, accountID string, q StatementQuery) (*Statement, error) {
	tree, warnings, err := g.tree(ctx)
	if err != nil {
		return nil, err
	}
	acct, ok := tree.Get(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, accountID)
	}

	st := &Statement{
		Account:        refOf(acct),
		Currency:       g.base,
		OpeningBalance: decimal.Zero,
		TotalDebits:    decimal.Zero,
		TotalCredits:   decimal.Zero,
	}
	var from, to *time.Time
	if q.From != nil {
		f := dayStart(*q.From)
		from, st.From = &f, &f
	}
	if q.To != nil {
		t := dayAfter(*q.To)
		to = &t
		last := dayStart(*q.To)
		st.To = &last
	}

	ids := []string{acct.ID}
	if acct.IsGroup {
		ids = ids[:0]
		for _, d := range tree.PostingDescendants(acct.ID) {
			ids = append(ids, d.ID)
		}
	}
	if len(ids) == 0 {
		// An empty AccountIDs selects every account.
		st.ClosingBalance = decimal.Zero
		return st, nil
	}

	if from != nil && q.IncludeOpening {
		prior, err := g.store.Records(ctx, store.RecordQuery{AccountIDs: ids, To: from, PostedOnly: true})
		if err != nil {
			return nil, err
		}
		for _, r := range prior {
			st.OpeningBalance = st.OpeningBalance.Add(acct.Nature.Signed(r.Debit, r.Credit))
			st.Warnings = append(st.Warnings, r.Integrity...)
		}
	}

	recs, err := g.store.Records(ctx, store.RecordQuery{AccountIDs: ids, From: from, To: to, PostedOnly: true})
	if err != nil {
		return nil, err
	}
	sortRecords(recs)

	bal := st.OpeningBalance
	st.Lines = make([]StatementLine, 0, len(recs))
	for _, r := range recs {
		bal = bal.Add(acct.Nature.Signed(r.Debit, r.Credit))
		st.TotalDebits = st.TotalDebits.Add(r.Debit)
		st.TotalCredits = st.TotalCredits.Add(r.Credit)
		st.Warnings = append(st.Warnings, r.Integrity...)
		st.Lines = append(st.Lines, StatementLine{
			Date:        r.Date,
			EntryID:     r.EntryID,
			EntryNumber: r.EntryNumber,
			LineIndex:   r.LineIndex,
			AccountID:   r.AccountID,
			Description: r.Description,
			Debit:       r.Debit,
			Credit:      r.Credit,
			Balance:     bal,
		})
	}
	st.ClosingBalance = bal

	st.Warnings = append(warnings, st.Warnings...)
	g.warn(st.Warnings)
	return st, nil
}

// sortRecords orders records by date, then append order, then line index.
func sortRecords(recs []model.LedgerRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.LineIndex < b.LineIndex
	})
}
