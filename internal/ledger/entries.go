package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/id"
	"github.com/cleared-dev/ledgercore/internal/journal"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// CreateJournalEntry validates entry and stores it as a draft with a new ID
// and entry number. Fully empty lines are dropped. The caller's ID, number
// and status are ignored.
func (e *Engine) CreateJournalEntry(ctx context.Context, entry model.JournalEntry) (string, error) {
	return e.createEntry(ctx, entry, "")
}

func (e *Engine) createEntry(ctx context.Context, entry model.JournalEntry, reversalOf string) (string, error) {
	var created model.JournalEntry
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		tree, _, err := txTree(ctx, e, tx)
		if err != nil {
			return err
		}
		draft := e.prepare(entry, tree)
		if err := journal.Validate(draft, tree, e.tolerance); err != nil {
			return err
		}
		draft.Lines, _ = journal.FilterLines(draft.Lines)
		if reversalOf != "" {
			if err := checkReversible(ctx, tx, reversalOf); err != nil {
				return err
			}
		}

		seq, err := tx.NextEntrySeq(ctx, draft.Date.Year())
		if err != nil {
			return err
		}
		now := e.today()
		draft.ID = id.New()
		draft.EntryNumber = id.FormatEntryNumber(draft.Date.Year(), seq)
		draft.Status = model.StatusDraft
		draft.ReversalOf = reversalOf
		draft.CreatedAt = now
		draft.UpdatedAt = now
		draft.PostedAt = time.Time{}
		if err := tx.CreateEntry(ctx, draft); err != nil {
			return err
		}
		created = draft
		return nil
	})
	if err != nil {
		return "", err
	}
	e.logger.Info("journal entry created", zap.String("entry_id", created.ID), zap.String("entry_number", created.EntryNumber))
	return created.ID, nil
}

// checkReversible locks the original entry and fails if it is not posted or
// already has a reversal that was not cancelled.
func checkReversible(ctx context.Context, tx store.Tx, origID string) error {
	orig, err := tx.GetEntryForUpdate(ctx, origID)
	if err != nil {
		return mapNotFound(err, ErrEntryNotFound, origID)
	}
	if orig.Status != model.StatusPosted {
		return &InvalidStateError{EntryID: origID, Status: orig.Status, Op: "reverse"}
	}
	revs, err := tx.ReversalsOf(ctx, origID)
	if err != nil {
		return err
	}
	for _, x := range revs {
		if x.Status != model.StatusCancelled {
			return fmt.Errorf("%w: %s by %s", ErrAlreadyReversed, orig.EntryNumber, x.EntryNumber)
		}
	}
	return nil
}

// prepare normalizes a candidate entry: the date is truncated to the day and
// each non-empty line gets its account code and the base currency when none
// is set. Empty lines are kept so validation reports submitted indices.
func (e *Engine) prepare(entry model.JournalEntry, tree *accounts.Tree) model.JournalEntry {
	out := entry.Clone()
	out.Description = strings.TrimSpace(out.Description)
	if !out.Date.IsZero() {
		y, m, d := out.Date.Date()
		out.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	for i := range out.Lines {
		l := &out.Lines[i]
		if l.IsEmpty() {
			continue
		}
		if a, ok := tree.Get(l.AccountID); ok {
			l.AccountCode = a.Code
		}
		if l.Currency == "" {
			l.Currency = e.base
		}
		l.Currency = strings.ToUpper(l.Currency)
	}
	return out
}

// UpdateJournalEntry replaces the date, description and lines of a draft.
// The ID, entry number and creation time are kept.
func (e *Engine) UpdateJournalEntry(ctx context.Context, entryID string, entry model.JournalEntry) error {
	return e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return mapNotFound(err, ErrEntryNotFound, entryID)
		}
		if cur.Status != model.StatusDraft {
			return &InvalidStateError{EntryID: entryID, Status: cur.Status, Op: "update"}
		}
		tree, _, err := txTree(ctx, e, tx)
		if err != nil {
			return err
		}
		next := e.prepare(entry, tree)
		next.ID = cur.ID
		next.EntryNumber = cur.EntryNumber
		if err := journal.Validate(next, tree, e.tolerance); err != nil {
			return err
		}
		next.Lines, _ = journal.FilterLines(next.Lines)
		next.Status = cur.Status
		next.ReversalOf = cur.ReversalOf
		next.CreatedAt = cur.CreatedAt
		next.UpdatedAt = e.today()
		next.PostedAt = time.Time{}
		return tx.UpdateEntry(ctx, next)
	})
}

func (e *Engine) GetJournalEntry(ctx context.Context, entryID string) (model.JournalEntry, error) {
	entry, err := e.store.GetEntry(ctx, entryID)
	if err != nil {
		return model.JournalEntry{}, mapNotFound(err, ErrEntryNotFound, entryID)
	}
	return entry, nil
}

// FindJournalEntry looks an entry up by ID or by entry number.
func (e *Engine) FindJournalEntry(ctx context.Context, ref string) (model.JournalEntry, error) {
	if entry, err := e.GetJournalEntry(ctx, ref); err == nil {
		return entry, nil
	}
	entries, err := e.store.ListEntries(ctx, store.EntryFilter{})
	if err != nil {
		return model.JournalEntry{}, err
	}
	for _, entry := range entries {
		if strings.EqualFold(entry.EntryNumber, ref) {
			return entry, nil
		}
	}
	return model.JournalEntry{}, fmt.Errorf("%w: %s", ErrEntryNotFound, ref)
}

func (e *Engine) ListJournalEntries(ctx context.Context, f store.EntryFilter) ([]model.JournalEntry, error) {
	return e.store.ListEntries(ctx, f)
}

// CancelJournalEntry retires a draft. Posted entries can only be reversed.
func (e *Engine) CancelJournalEntry(ctx context.Context, entryID string) error {
	return e.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		cur, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return mapNotFound(err, ErrEntryNotFound, entryID)
		}
		if cur.Status != model.StatusDraft {
			return &InvalidStateError{EntryID: entryID, Status: cur.Status, Op: "cancel"}
		}
		cur.Status = model.StatusCancelled
		cur.UpdatedAt = e.today()
		return tx.UpdateEntry(ctx, cur)
	})
}

// ReverseJournalEntry creates a draft that swaps the debits and credits of a
// posted entry. date defaults to the original entry's date. The draft still
// has to be approved.
func (e *Engine) ReverseJournalEntry(ctx context.Context, entryID string, date time.Time) (string, error) {
	orig, err := e.GetJournalEntry(ctx, entryID)
	if err != nil {
		return "", err
	}
	if orig.Status != model.StatusPosted {
		return "", &InvalidStateError{EntryID: entryID, Status: orig.Status, Op: "reverse"}
	}
	if date.IsZero() {
		date = orig.Date
	}
	rev := model.JournalEntry{
		Date:        date,
		Description: "Reversal of " + orig.EntryNumber + ": " + orig.Description,
	}
	for _, l := range orig.Lines {
		l.Debit, l.Credit = l.Credit, l.Debit
		rev.Lines = append(rev.Lines, l)
	}
	return e.createEntry(ctx, rev, orig.ID)
}
