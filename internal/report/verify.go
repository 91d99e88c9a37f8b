package report

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// Mismatch is a stored balance that disagrees with the ledger.
type Mismatch struct {
	Account  AccountRef      `json:"account"`
	Stored   decimal.Decimal `json:"stored"`
	Computed decimal.Decimal `json:"computed"`
	Corrupt  bool            `json:"corrupt,omitempty"`
}

// VerifyReport is the result of a ledger consistency check.
type VerifyReport struct {
	Accounts       int                          `json:"accounts"`
	Records        int                          `json:"records"`
	Mismatches     []Mismatch                   `json:"mismatches,omitempty"`
	Unbalanced     []string                     `json:"unbalanced_entries,omitempty"`
	MissingRecords []string                     `json:"missing_records,omitempty"`
	LevelError     string                       `json:"level_error,omitempty"`
	Warnings       []model.DataIntegrityWarning `json:"warnings,omitempty"`
}

// OK reports whether no problem was found. Warnings alone do not fail a
// check; a corrupt stored balance shows up as a mismatch.
func (r *VerifyReport) OK() bool {
	return len(r.Mismatches) == 0 && len(r.Unbalanced) == 0 && len(r.MissingRecords) == 0 && r.LevelError == ""
}

// Verify recomputes every balance from the posted ledger records and
// compares it with the stored one. It also checks that every posted entry
// balances, has ledger records, and that account levels match the tree.
func (g *Generator) Verify(ctx context.Context) (*VerifyReport, error) {
	tree, warnings, err := g.tree(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := g.store.Records(ctx, store.RecordQuery{PostedOnly: true})
	if err != nil {
		return nil, err
	}
	posted, err := g.store.ListEntries(ctx, store.EntryFilter{Status: model.StatusPosted})
	if err != nil {
		return nil, err
	}

	rep := &VerifyReport{Accounts: tree.Len(), Records: len(recs)}
	if err := tree.CheckLevels(); err != nil {
		rep.LevelError = err.Error()
	}

	computed := make(map[string]decimal.Decimal)
	type totals struct{ debits, credits decimal.Decimal }
	byEntry := make(map[string]*totals)
	for _, r := range recs {
		warnings = append(warnings, r.Integrity...)
		t, ok := byEntry[r.EntryID]
		if !ok {
			t = &totals{}
			byEntry[r.EntryID] = t
		}
		t.debits = t.debits.Add(r.Debit)
		t.credits = t.credits.Add(r.Credit)
		if a, ok := tree.Get(r.AccountID); ok {
			computed[a.ID] = computed[a.ID].Add(a.Nature.Signed(r.Debit, r.Credit))
		}
	}
	for _, grp := range tree.BottomUp() {
		sum := decimal.Zero
		for _, c := range tree.Children(grp.ID) {
			sum = sum.Add(grp.Nature.Convert(computed[c.ID], c.Nature))
		}
		computed[grp.ID] = sum
	}

	for _, a := range tree.All() {
		corrupt := hasBalanceWarning(a)
		if corrupt || !a.Balance.Equal(computed[a.ID]) {
			rep.Mismatches = append(rep.Mismatches, Mismatch{
				Account:  refOf(a),
				Stored:   a.Balance,
				Computed: computed[a.ID],
				Corrupt:  corrupt,
			})
		}
	}
	for _, e := range posted {
		t, ok := byEntry[e.ID]
		if !ok {
			rep.MissingRecords = append(rep.MissingRecords, e.EntryNumber)
			continue
		}
		if !currency.Balanced(t.debits, t.credits, g.tolerance) {
			rep.Unbalanced = append(rep.Unbalanced, e.EntryNumber)
		}
	}

	rep.Warnings = warnings
	g.warn(warnings)
	g.logger.Info("ledger verified",
		zap.Int("accounts", rep.Accounts),
		zap.Int("records", rep.Records),
		zap.Int("mismatches", len(rep.Mismatches)),
		zap.Bool("ok", rep.OK()),
	)
	return rep, nil
}

func hasBalanceWarning(a model.Account) bool {
	for _, w := range a.Integrity {
		if w.Field == "balance" {
			return true
		}
	}
	return false
}
