// Package store defines the persistence contract of the ledger. Every
// mutation happens inside RunInTx; a transaction either commits all of its
// writes or none of them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

// RecordQuery selects ledger records. From is inclusive and To exclusive;
// nil bounds are open. An empty AccountIDs selects every account.
type RecordQuery struct {
	AccountIDs []string
	From       *time.Time
	To         *time.Time
	PostedOnly bool
}

// Match reports whether rec falls inside the query's account and date bounds.
func (q RecordQuery) Match(rec model.LedgerRecord) bool {
	if q.From != nil && rec.Date.Before(*q.From) {
		return false
	}
	if q.To != nil && !rec.Date.Before(*q.To) {
		return false
	}
	if len(q.AccountIDs) == 0 {
		return true
	}
	for _, id := range q.AccountIDs {
		if id == rec.AccountID {
			return true
		}
	}
	return false
}

// EntryFilter selects journal entries. Zero fields match everything.
type EntryFilter struct {
	Status model.EntryStatus
	From   *time.Time
	To     *time.Time
}

// Match reports whether e passes the filter.
func (f EntryFilter) Match(e model.JournalEntry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.From != nil && e.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && !e.Date.Before(*f.To) {
		return false
	}
	return true
}

// Tx is the set of operations available inside a transaction. Reads see the
// transaction's own writes.
type Tx interface {
	GetAccount(ctx context.Context, id string) (model.Account, error)
	// GetAccountForUpdate reads an account and holds a write lock on it until
	// the transaction ends.
	GetAccountForUpdate(ctx context.Context, id string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	CreateAccount(ctx context.Context, a model.Account) error
	UpdateAccount(ctx context.Context, a model.Account) error
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error

	GetEntry(ctx context.Context, id string) (model.JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, id string) (model.JournalEntry, error)
	CreateEntry(ctx context.Context, e model.JournalEntry) error
	UpdateEntry(ctx context.Context, e model.JournalEntry) error
	// ReversalsOf returns the entries whose ReversalOf is entryID.
	ReversalsOf(ctx context.Context, entryID string) ([]model.JournalEntry, error)
	// NextEntrySeq returns the next entry number sequence for year, starting at 1.
	NextEntrySeq(ctx context.Context, year int) (int, error)

	// AppendRecords writes ledger records and assigns their Seq in order.
	AppendRecords(ctx context.Context, recs []model.LedgerRecord) error
	RecordsForEntry(ctx context.Context, entryID string) ([]model.LedgerRecord, error)
}

// Store is a transactional ledger store. Reads outside RunInTx observe only
// committed state.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAccount(ctx context.Context, id string) (model.Account, error)
	ListAccounts(ctx context.Context) ([]model.Account, error)
	GetEntry(ctx context.Context, id string) (model.JournalEntry, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]model.JournalEntry, error)
	// Records returns ledger records ordered by Seq.
	Records(ctx context.Context, q RecordQuery) ([]model.LedgerRecord, error)

	Migrate(ctx context.Context) error
	Close() error
}
