package ledger

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// rollup sets every group in groups to the sum of its children's balances,
// converted to the group's nature. Groups are processed deepest first so a
// parent always sees its child groups' new values. bal is updated in place
// and the changed balances are returned.
func rollup(tree *accounts.Tree, groups []string, bal map[string]decimal.Decimal) []balanceChange {
	var targets []model.Account
	for _, id := range sortedUnique(groups) {
		if a, ok := tree.Get(id); ok && a.IsGroup {
			targets = append(targets, a)
		}
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return tree.Depth(targets[i].ID) > tree.Depth(targets[j].ID)
	})

	var changes []balanceChange
	for _, g := range targets {
		sum := decimal.Zero
		for _, c := range tree.Children(g.ID) {
			sum = sum.Add(g.Nature.Convert(bal[c.ID], c.Nature))
		}
		if old := bal[g.ID]; !old.Equal(sum) {
			changes = append(changes, balanceChange{AccountID: g.ID, Old: old, New: sum})
			bal[g.ID] = sum
		}
	}
	return changes
}

// lockAccounts takes the store row locks for ids in sorted order and
// returns the current balances of every account.
func lockAccounts(ctx context.Context, tx store.Tx, ids []string) (map[string]model.Account, map[string]decimal.Decimal, error) {
	locked := make(map[string]model.Account, len(ids))
	for _, id := range sortedUnique(ids) {
		a, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return nil, nil, mapNotFound(err, ErrAccountNotFound, id)
		}
		locked[id] = a
	}
	accts, err := tx.ListAccounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	bal := make(map[string]decimal.Decimal, len(accts))
	for _, a := range accts {
		bal[a.ID] = a.Balance
	}
	return locked, bal, nil
}

func applyChanges(ctx context.Context, tx store.Tx, changes []balanceChange) error {
	for _, c := range changes {
		if err := tx.SetBalance(ctx, c.AccountID, c.New); err != nil {
			return err
		}
	}
	return nil
}

// rollupTx locks the given groups and recomputes them inside tx.
func (e *Engine) rollupTx(ctx context.Context, tx store.Tx, tree *accounts.Tree, groups []model.Account) ([]balanceChange, error) {
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	_, bal, err := lockAccounts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	changes := rollup(tree, ids, bal)
	if err := applyChanges(ctx, tx, changes); err != nil {
		return nil, err
	}
	return changes, nil
}

func ancestorIDs(tree *accounts.Tree, ids []string) []string {
	var out []string
	for _, id := range ids {
		for _, a := range tree.Ancestors(id) {
			out = append(out, a.ID)
		}
	}
	return sortedUnique(out)
}

// RecomputeAncestors rebuilds the roll-up balance of every ancestor of
// accountID, nearest first. Running it twice leaves balances unchanged.
func (e *Engine) RecomputeAncestors(ctx context.Context, accountID string) error {
	e.structure.RLock()
	defer e.structure.RUnlock()

	tree, err := e.Tree(ctx)
	if err != nil {
		return err
	}
	if !tree.Exists(accountID) {
		return mapNotFound(store.ErrNotFound, ErrAccountNotFound, accountID)
	}
	unlock := e.locks.lock(append(ancestorIDs(tree, []string{accountID}), accountID))
	defer unlock()

	var changes []balanceChange
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tree, _, err := txTree(ctx, e, tx)
		if err != nil {
			return err
		}
		changes, err = e.rollupTx(ctx, tx, tree, tree.Ancestors(accountID))
		return err
	})
	if err != nil {
		return err
	}
	e.emitBalances(ctx, model.JournalEntry{}, changes)
	return nil
}

// RecomputeAll rebuilds every balance from the ledger: posting accounts from
// their posted ledger records, then every group bottom-up. It returns the
// number of balances that changed.
func (e *Engine) RecomputeAll(ctx context.Context) (int, error) {
	e.structure.Lock()
	defer e.structure.Unlock()

	recs, err := e.store.Records(ctx, store.RecordQuery{PostedOnly: true})
	if err != nil {
		return 0, err
	}

	var changes []balanceChange
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tree, accts, err := txTree(ctx, e, tx)
		if err != nil {
			return err
		}
		ids := make([]string, len(accts))
		for i, a := range accts {
			ids[i] = a.ID
		}
		_, bal, err := lockAccounts(ctx, tx, ids)
		if err != nil {
			return err
		}

		sums := make(map[string]decimal.Decimal)
		for _, r := range recs {
			a, ok := tree.Get(r.AccountID)
			if !ok {
				e.logger.Warn("ledger record for unknown account", zap.String("record_id", r.ID), zap.String("account_id", r.AccountID))
				continue
			}
			sums[a.ID] = sums[a.ID].Add(a.Nature.Signed(r.Debit, r.Credit))
		}
		var groups []string
		for _, a := range tree.All() {
			if a.IsGroup {
				groups = append(groups, a.ID)
				continue
			}
			if old := bal[a.ID]; !old.Equal(sums[a.ID]) || len(a.Integrity) > 0 {
				changes = append(changes, balanceChange{AccountID: a.ID, Old: old, New: sums[a.ID]})
				bal[a.ID] = sums[a.ID]
			}
		}
		changes = append(changes, rollup(tree, groups, bal)...)
		return applyChanges(ctx, tx, changes)
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("balances recomputed", zap.Int("changed", len(changes)))
	e.emitBalances(ctx, model.JournalEntry{}, changes)
	return len(changes), nil
}
