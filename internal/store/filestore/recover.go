package filestore

import (
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store/memory"
)

// recoverSnapshot undoes an interrupted flush. The journal file is written
// last, so ledger records whose entry is not posted there belong to a commit
// that never finished. They are dropped and the balances of the accounts
// they touched, and of those accounts' groups, are rebuilt from the
// remaining records.
func recoverSnapshot(snap *memory.Snapshot, logger *zap.Logger) {
	posted := make(map[string]bool, len(snap.Entries))
	for _, e := range snap.Entries {
		if e.Status == model.StatusPosted {
			posted[e.ID] = true
		}
	}

	kept := snap.Records[:0]
	touched := make(map[string]bool)
	dropped := 0
	for _, r := range snap.Records {
		if posted[r.EntryID] {
			kept = append(kept, r)
			continue
		}
		touched[r.AccountID] = true
		dropped++
	}
	snap.Records = kept
	if dropped == 0 {
		return
	}
	logger.Warn("dropped ledger records of unfinished commit",
		zap.Int("records", dropped),
		zap.Int("accounts", len(touched)),
	)

	debits := make(map[string]decimal.Decimal, len(touched))
	credits := make(map[string]decimal.Decimal, len(touched))
	for _, r := range snap.Records {
		if touched[r.AccountID] {
			debits[r.AccountID] = debits[r.AccountID].Add(r.Debit)
			credits[r.AccountID] = credits[r.AccountID].Add(r.Credit)
		}
	}

	bal := make(map[string]decimal.Decimal, len(snap.Accounts))
	idx := make(map[string]int, len(snap.Accounts))
	for i, a := range snap.Accounts {
		idx[a.ID] = i
		bal[a.ID] = a.Balance
		if touched[a.ID] {
			bal[a.ID] = a.Nature.Signed(debits[a.ID], credits[a.ID])
		}
	}

	tree, _, err := accounts.Build(snap.Accounts, 0)
	if err != nil {
		logger.Warn("cannot roll up recovered balances", zap.Error(err))
	} else {
		rollupGroups(tree, touched, bal)
	}

	for id, i := range idx {
		a := &snap.Accounts[i]
		if !a.Balance.Equal(bal[id]) {
			logger.Warn("rebuilt account balance",
				zap.String("account", a.Code),
				zap.String("old", a.Balance.String()),
				zap.String("new", bal[id].String()),
			)
			a.Balance = bal[id]
			a.Integrity = withoutField(a.Integrity, "balance")
		}
	}
}

// rollupGroups recomputes every group above the touched accounts, deepest
// first.
func rollupGroups(tree *accounts.Tree, touched map[string]bool, bal map[string]decimal.Decimal) {
	seen := make(map[string]bool)
	var groups []model.Account
	for id := range touched {
		for _, g := range tree.Ancestors(id) {
			if !seen[g.ID] {
				seen[g.ID] = true
				groups = append(groups, g)
			}
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		di, dj := tree.Depth(groups[i].ID), tree.Depth(groups[j].ID)
		if di != dj {
			return di > dj
		}
		return groups[i].Code < groups[j].Code
	})
	for _, g := range groups {
		sum := decimal.Zero
		for _, c := range tree.Children(g.ID) {
			sum = sum.Add(g.Nature.Convert(bal[c.ID], c.Nature))
		}
		bal[g.ID] = sum
	}
}

func withoutField(ws []model.DataIntegrityWarning, field string) []model.DataIntegrityWarning {
	var out []model.DataIntegrityWarning
	for _, w := range ws {
		if w.Field != field {
			out = append(out, w)
		}
	}
	return out
}
