package ledger

import (
	"errors"
	"fmt"

	"github.com/cleared-dev/ledgercore/internal/journal"
	"github.com/cleared-dev/ledgercore/internal/model"
)

var (
	ErrNotFound         = errors.New("ledger: not found")
	ErrAccountNotFound  = fmt.Errorf("%w: account", ErrNotFound)
	ErrEntryNotFound    = fmt.Errorf("%w: journal entry", ErrNotFound)
	ErrDuplicateCode    = errors.New("ledger: duplicate account code")
	ErrInvalidAccount   = errors.New("ledger: invalid account")
	ErrHierarchyCorrupt = errors.New("ledger: account hierarchy corrupt")
	ErrCorruptBalance   = errors.New("ledger: stored balance is not a number")
	ErrAlreadyReversed  = errors.New("ledger: entry already reversed")
)

// InvalidStateError is returned when an operation is not allowed in the
// entry's current status, for example approving an entry that is already
// posted.
type InvalidStateError struct {
	EntryID string
	Status  model.EntryStatus
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ledger: cannot %s entry %s: status is %s", e.Op, e.EntryID, e.Status)
}

// PostingToGroupAccountError is returned when an entry being approved has a
// line on a group account.
type PostingToGroupAccountError struct {
	EntryID   string
	AccountID string
	Code      string
	Line      int
}

func (e *PostingToGroupAccountError) Error() string {
	return fmt.Sprintf("ledger: entry %s line %d posts to group account %s", e.EntryID, e.Line, e.Code)
}

// IsValidation reports whether err carries a *journal.ValidationError.
func IsValidation(err error) bool {
	_, ok := journal.AsValidation(err)
	return ok
}

// IsInvalidState reports whether err is an *InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsPostingToGroup reports whether err is a *PostingToGroupAccountError.
func IsPostingToGroup(err error) bool {
	var target *PostingToGroupAccountError
	return errors.As(err, &target)
}
