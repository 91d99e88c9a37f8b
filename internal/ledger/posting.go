package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/events"
	"github.com/cleared-dev/ledgercore/internal/id"
	"github.com/cleared-dev/ledgercore/internal/journal"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// ApprovalResult is the outcome of approving one entry in a batch.
type ApprovalResult struct {
	EntryID     string
	EntryNumber string
	Err         error
}

// ApproveJournalEntry posts a draft entry: it writes one ledger record per
// line, applies the signed delta to every touched account, rebuilds the
// roll-ups of their ancestors and marks the entry posted, all in one
// transaction. Events are emitted once the transaction has committed.
func (e *Engine) ApproveJournalEntry(ctx context.Context, entryID string) error {
	_, err := e.approve(ctx, entryID)
	return err
}

// ApproveJournalEntries approves each entry in its own transaction, in
// order. A failure does not undo earlier successes.
func (e *Engine) ApproveJournalEntries(ctx context.Context, entryIDs []string) []ApprovalResult {
	results := make([]ApprovalResult, 0, len(entryIDs))
	failed := 0
	for _, entryID := range entryIDs {
		entry, err := e.approve(ctx, entryID)
		if err != nil {
			failed++
		}
		results = append(results, ApprovalResult{EntryID: entryID, EntryNumber: entry.EntryNumber, Err: err})
	}
	e.logger.Info("batch approval finished",
		zap.Int("requested", len(entryIDs)),
		zap.Int("posted", len(entryIDs)-failed),
		zap.Int("failed", failed),
	)
	return results
}

// errLockSetChanged means the entry's accounts changed between choosing the
// locks and reading it inside the transaction.
var errLockSetChanged = errors.New("ledger: entry accounts changed while locking")

const maxLockAttempts = 3

func (e *Engine) approve(ctx context.Context, entryID string) (model.JournalEntry, error) {
	e.structure.RLock()
	defer e.structure.RUnlock()

	var (
		entry model.JournalEntry
		err   error
	)
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		entry, err = e.approveLocked(ctx, entryID)
		if !errors.Is(err, errLockSetChanged) {
			break
		}
		e.logger.Debug("retrying approval", zap.String("entry_id", entryID), zap.Int("attempt", attempt+1))
	}
	return entry, err
}

// approveLocked posts entryID under the in-process locks of the accounts it
// names. The caller holds the structure read lock.
func (e *Engine) approveLocked(ctx context.Context, entryID string) (model.JournalEntry, error) {
	// Read the entry outside the transaction to learn which accounts to lock.
	draft, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return model.JournalEntry{}, mapNotFound(err, ErrEntryNotFound, entryID)
	}
	if draft.Status != model.StatusDraft {
		return draft, &InvalidStateError{EntryID: entryID, Status: draft.Status, Op: "approve"}
	}
	tree, err := e.Tree(ctx)
	if err != nil {
		return draft, err
	}
	lockIDs := lineAccounts(draft.Lines)
	lockIDs = append(lockIDs, ancestorIDs(tree, lockIDs)...)
	unlock := e.locks.lock(lockIDs)
	defer unlock()

	var (
		posted  model.JournalEntry
		changes []balanceChange
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		entry, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return mapNotFound(err, ErrEntryNotFound, entryID)
		}
		if entry.Status != model.StatusDraft {
			return &InvalidStateError{EntryID: entryID, Status: entry.Status, Op: "approve"}
		}
		tree, _, err := txTree(ctx, e, tx)
		if err != nil {
			return err
		}
		// An update may have moved the lines to accounts outside the locks.
		if !covers(lockIDs, lineAccounts(entry.Lines), ancestorIDs(tree, lineAccounts(entry.Lines))) {
			return fmt.Errorf("%w: %s", errLockSetChanged, entryID)
		}
		if err := journal.Validate(entry, tree, e.tolerance); err != nil {
			return groupError(entry, tree, err)
		}

		now := e.today()
		recs, deltas, err := e.records(entry, tree, now)
		if err != nil {
			return err
		}
		touched := make([]string, 0, len(deltas))
		for accID := range deltas {
			touched = append(touched, accID)
		}
		touched = sortedUnique(touched)
		ancestors := ancestorIDs(tree, touched)

		locked, bal, err := lockAccounts(ctx, tx, append(append([]string(nil), touched...), ancestors...))
		if err != nil {
			return err
		}
		for _, accID := range touched {
			a := locked[accID]
			if hasCorruptBalance(a) {
				return fmt.Errorf("%w: account %s (run recompute)", ErrCorruptBalance, a.Code)
			}
			newBal := bal[accID].Add(deltas[accID])
			changes = append(changes, balanceChange{AccountID: accID, Old: bal[accID], New: newBal})
			bal[accID] = newBal
		}
		changes = append(changes, rollup(tree, ancestors, bal)...)

		if err := tx.AppendRecords(ctx, recs); err != nil {
			return err
		}
		if err := applyChanges(ctx, tx, changes); err != nil {
			return err
		}
		entry.Status = model.StatusPosted
		entry.PostedAt = now
		entry.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		posted = entry
		return nil
	})
	if err != nil {
		return draft, err
	}

	e.logger.Info("journal entry posted",
		zap.String("entry_id", posted.ID),
		zap.String("entry_number", posted.EntryNumber),
		zap.Int("accounts", len(changes)),
	)
	e.emit(ctx, events.Event{
		Kind:        events.KindEntryPosted,
		EntryID:     posted.ID,
		EntryNumber: posted.EntryNumber,
		Timestamp:   posted.PostedAt,
	})
	e.emitBalances(ctx, posted, changes)
	return posted, nil
}

func covers(held []string, need ...[]string) bool {
	set := make(map[string]bool, len(held))
	for _, id := range held {
		set[id] = true
	}
	for _, ids := range need {
		for _, id := range ids {
			if !set[id] {
				return false
			}
		}
	}
	return true
}

// records builds the ledger records of entry and the signed balance delta
// per posting account.
func (e *Engine) records(entry model.JournalEntry, tree *accounts.Tree, now time.Time) ([]model.LedgerRecord, map[string]decimal.Decimal, error) {
	lines, idx := journal.FilterLines(entry.Lines)
	recs := make([]model.LedgerRecord, 0, len(lines))
	deltas := make(map[string]decimal.Decimal)
	for i, l := range lines {
		a, _ := tree.Get(l.AccountID)
		debit, credit, err := e.normalizer.Line(l)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: entry %s line %d: %w", entry.ID, idx[i], err)
		}
		desc := l.Description
		if desc == "" {
			desc = entry.Description
		}
		cur := l.Currency
		if cur == "" {
			cur = e.base
		}
		recs = append(recs, model.LedgerRecord{
			ID:           id.New(),
			EntryID:      entry.ID,
			EntryNumber:  entry.EntryNumber,
			LineIndex:    idx[i],
			AccountID:    a.ID,
			Date:         entry.Date,
			Description:  desc,
			Debit:        debit,
			Credit:       credit,
			Currency:     cur,
			ExchangeRate: l.Rate(),
			CreatedAt:    now,
		})
		deltas[a.ID] = deltas[a.ID].Add(a.Nature.Signed(debit, credit))
	}
	return recs, deltas, nil
}

// groupError turns a validation failure whose only violations are lines on
// group accounts into a PostingToGroupAccountError. Any other failure is
// returned unchanged.
func groupError(entry model.JournalEntry, tree *accounts.Tree, err error) error {
	ve, ok := journal.AsValidation(err)
	if !ok {
		return err
	}
	fields := ve.WithCode(journal.CodeAccountGroup)
	if len(fields) == 0 || len(fields) != len(ve.Fields) {
		return err
	}
	f := fields[0]
	l := entry.Lines[f.Line]
	a, _ := tree.Get(l.AccountID)
	return &PostingToGroupAccountError{EntryID: entry.ID, AccountID: a.ID, Code: a.Code, Line: f.Line}
}

func lineAccounts(lines []model.Line) []string {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.AccountID)
	}
	return sortedUnique(ids)
}

func hasCorruptBalance(a model.Account) bool {
	for _, w := range a.Integrity {
		if w.Field == "balance" {
			return true
		}
	}
	return false
}
