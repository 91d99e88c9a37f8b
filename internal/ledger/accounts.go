package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/id"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// CreateAccount adds an account to the chart. The nature defaults from the
// type, the currency from the base currency and the level from the parent.
// Balances are derived from postings, so a new account must start at zero.
func (e *Engine) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	a.Code = strings.TrimSpace(a.Code)
	a.Name = strings.TrimSpace(a.Name)
	if a.Code == "" {
		return model.Account{}, fmt.Errorf("%w: code is required", ErrInvalidAccount)
	}
	if !a.Type.Valid() {
		return model.Account{}, fmt.Errorf("%w: unknown type %q", ErrInvalidAccount, a.Type)
	}
	if a.Nature == "" {
		a.Nature = a.Type.DefaultNature()
	}
	if !a.Nature.Valid() {
		return model.Account{}, fmt.Errorf("%w: unknown nature %q", ErrInvalidAccount, a.Nature)
	}
	if a.Currency == "" {
		a.Currency = e.base
	}
	if err := currency.Validate(a.Currency); err != nil {
		return model.Account{}, fmt.Errorf("%w: %w", ErrInvalidAccount, err)
	}
	a.Currency = strings.ToUpper(a.Currency)
	if !a.Balance.IsZero() {
		return model.Account{}, fmt.Errorf("%w: opening balance must be posted as a journal entry", ErrInvalidAccount)
	}
	if a.ID == "" {
		a.ID = id.New()
	}
	a.Integrity = nil

	e.structure.Lock()
	defer e.structure.Unlock()

	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tree, accts, err := txTree(ctx, e, tx)
		if err != nil {
			return err
		}
		if _, err := tree.Resolve(a.Code); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, a.Code)
		}
		if err := tree.CanAttach(a.ID, a.ParentID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
		}
		a.Level = 1
		if a.ParentID != "" {
			a.Level = tree.Depth(a.ParentID) + 1
		}
		if _, _, err := accounts.Build(append(accts, a), e.maxDepth); err != nil {
			return fmt.Errorf("%w: %w", ErrHierarchyCorrupt, err)
		}
		if err := tx.CreateAccount(ctx, a); err != nil {
			if errors.Is(err, store.ErrExists) {
				return fmt.Errorf("%w: %s", ErrDuplicateCode, a.Code)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	e.logger.Info("account created", zap.String("id", a.ID), zap.String("code", a.Code), zap.Bool("group", a.IsGroup))
	return a, nil
}

func (e *Engine) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	a, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Account{}, mapNotFound(err, ErrAccountNotFound, accountID)
	}
	return a, nil
}

// AccountByCode resolves an exact account code.
func (e *Engine) AccountByCode(ctx context.Context, code string) (model.Account, error) {
	tree, err := e.Tree(ctx)
	if err != nil {
		return model.Account{}, err
	}
	a, err := tree.Resolve(code)
	if err != nil {
		return model.Account{}, fmt.Errorf("%w: code %q", ErrAccountNotFound, code)
	}
	return a, nil
}

// ListAccounts returns every account ordered by code.
func (e *Engine) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return e.store.ListAccounts(ctx)
}

// MoveAccount re-parents accountID and its subtree under newParentID ("" for
// a root). Levels of the subtree follow the new depth and the roll-ups of the
// old and the new ancestors are rebuilt in the same transaction.
func (e *Engine) MoveAccount(ctx context.Context, accountID, newParentID string) error {
	e.structure.Lock()
	defer e.structure.Unlock()

	var changes []balanceChange
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tree, accts, err := txTree(ctx, e, tx)
		if err != nil {
			return err
		}
		a, ok := tree.Get(accountID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		if a.ParentID == newParentID {
			return nil
		}
		if err := tree.CanAttach(accountID, newParentID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAccount, err)
		}

		oldChain := tree.Ancestors(accountID)

		moved := map[string]model.Account{}
		a.ParentID = newParentID
		moved[a.ID] = a
		for _, d := range tree.Descendants(accountID) {
			moved[d.ID] = d
		}

		updated := make([]model.Account, len(accts))
		for i, x := range accts {
			if m, ok := moved[x.ID]; ok {
				x = m
			}
			updated[i] = x
		}
		next, err := e.buildTree(updated)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(moved))
		for movedID := range moved {
			ids = append(ids, movedID)
		}
		for _, movedID := range sortedUnique(ids) {
			m := moved[movedID]
			m.Level = next.Depth(movedID)
			if err := tx.UpdateAccount(ctx, m); err != nil {
				return err
			}
		}

		affected := append(oldChain, next.Ancestors(accountID)...)
		changes, err = e.rollupTx(ctx, tx, next, affected)
		return err
	})
	if err != nil {
		return err
	}
	e.logger.Info("account moved", zap.String("id", accountID), zap.String("parent", newParentID))
	e.emitBalances(ctx, model.JournalEntry{}, changes)
	return nil
}
