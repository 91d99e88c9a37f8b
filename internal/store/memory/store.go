// Package memory is an in-process store. Transactions write to an overlay
// that is merged into the committed state only when the transaction
// function returns nil.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

var _ store.Store = (*Store)(nil)

// Snapshot is a full copy of the store's contents.
type Snapshot struct {
	Accounts []model.Account
	Entries  []model.JournalEntry
	Records  []model.LedgerRecord
}

// CommitHook is called with the post-commit contents before a transaction
// is made visible. A non-nil error aborts the commit.
type CommitHook func(ctx context.Context, snap Snapshot) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook registers a hook run on every commit.
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) { s.hook = h }
}

type state struct {
	accounts map[string]model.Account
	entries  map[string]model.JournalEntry
	records  []model.LedgerRecord
	byEntry  map[string][]int // entry id -> indices into records
	seqs     map[int]int      // year -> last entry seq
	lastSeq  int64
}

// Store is a map-backed store guarded by a RWMutex. RunInTx holds the write
// lock for the duration of the transaction.
type Store struct {
	mu   sync.RWMutex
	st   state
	hook CommitHook
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: state{
		accounts: make(map[string]model.Account),
		entries:  make(map[string]model.JournalEntry),
		byEntry:  make(map[string][]int),
		seqs:     make(map[int]int),
	}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load replaces the store contents with snap. seqs holds the last entry
// sequence per year.
func (s *Store) Load(snap Snapshot, seqs map[int]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := state{
		accounts: make(map[string]model.Account, len(snap.Accounts)),
		entries:  make(map[string]model.JournalEntry, len(snap.Entries)),
		byEntry:  make(map[string][]int),
		seqs:     make(map[int]int, len(seqs)),
	}
	for _, a := range snap.Accounts {
		st.accounts[a.ID] = cloneAccount(a)
	}
	for _, e := range snap.Entries {
		st.entries[e.ID] = e.Clone()
	}
	for year, n := range seqs {
		st.seqs[year] = n
	}
	recs := append([]model.LedgerRecord(nil), snap.Records...)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	for _, r := range recs {
		st.byEntry[r.EntryID] = append(st.byEntry[r.EntryID], len(st.records))
		st.records = append(st.records, r)
		if r.Seq > st.lastSeq {
			st.lastSeq = r.Seq
		}
	}
	s.st = st
}

// Snapshot returns a copy of the committed contents, accounts and entries
// ordered by code and entry number.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotOf(s.st.accounts, s.st.entries, s.st.records)
}

// Seqs returns the last entry sequence per year.
func (s *Store) Seqs() map[int]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]int, len(s.st.seqs))
	for k, v := range s.st.seqs {
		out[k] = v
	}
	return out
}

func snapshotOf(accts map[string]model.Account, entries map[string]model.JournalEntry, records []model.LedgerRecord) Snapshot {
	snap := Snapshot{
		Accounts: make([]model.Account, 0, len(accts)),
		Entries:  make([]model.JournalEntry, 0, len(entries)),
		Records:  append([]model.LedgerRecord(nil), records...),
	}
	for _, a := range accts {
		snap.Accounts = append(snap.Accounts, cloneAccount(a))
	}
	for _, e := range entries {
		snap.Entries = append(snap.Entries, e.Clone())
	}
	sortAccounts(snap.Accounts)
	sortEntries(snap.Entries)
	return snap
}

// RunInTx runs fn against an overlay and commits it if fn returns nil.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(&s.st)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger/memory: %w", err)
	}

	if s.hook != nil {
		accts, entries, records := tx.merged()
		if err := s.hook(ctx, snapshotOf(accts, entries, records)); err != nil {
			return fmt.Errorf("ledger/memory: commit hook: %w", err)
		}
	}
	tx.commit()
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	return cloneAccount(a), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Account, 0, len(s.st.accounts))
	for _, a := range s.st.accounts {
		out = append(out, cloneAccount(a))
	}
	sortAccounts(out)
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, id string) (model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.st.entries[id]
	if !ok {
		return model.JournalEntry{}, fmt.Errorf("%w: entry %s", store.ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (s *Store) ListEntries(_ context.Context, f store.EntryFilter) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.JournalEntry
	for _, e := range s.st.entries {
		if f.Match(e) {
			out = append(out, e.Clone())
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) Records(_ context.Context, q store.RecordQuery) ([]model.LedgerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.LedgerRecord
	for _, r := range s.st.records {
		if !q.Match(r) {
			continue
		}
		if q.PostedOnly && s.st.entries[r.EntryID].Status != model.StatusPosted {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// tx is an overlay over the committed state.
type tx struct {
	base     *state
	accounts map[string]model.Account
	entries  map[string]model.JournalEntry
	records  []model.LedgerRecord
	seqs     map[int]int
	lastSeq  int64
}

func newTx(base *state) *tx {
	return &tx{
		base:     base,
		accounts: make(map[string]model.Account),
		entries:  make(map[string]model.JournalEntry),
		seqs:     make(map[int]int),
		lastSeq:  base.lastSeq,
	}
}

func (t *tx) account(id string) (model.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	a, ok := t.base.accounts[id]
	return a, ok
}

func (t *tx) entry(id string) (model.JournalEntry, bool) {
	if e, ok := t.entries[id]; ok {
		return e, true
	}
	e, ok := t.base.entries[id]
	return e, ok
}

func (t *tx) GetAccount(_ context.Context, id string) (model.Account, error) {
	a, ok := t.account(id)
	if !ok {
		return model.Account{}, fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	return cloneAccount(a), nil
}

// GetAccountForUpdate is GetAccount: the transaction already holds the
// store's write lock.
func (t *tx) GetAccountForUpdate(ctx context.Context, id string) (model.Account, error) {
	return t.GetAccount(ctx, id)
}

func (t *tx) ListAccounts(_ context.Context) ([]model.Account, error) {
	out := make([]model.Account, 0, len(t.base.accounts)+len(t.accounts))
	for id, a := range t.base.accounts {
		if _, shadowed := t.accounts[id]; !shadowed {
			out = append(out, cloneAccount(a))
		}
	}
	for _, a := range t.accounts {
		out = append(out, cloneAccount(a))
	}
	sortAccounts(out)
	return out, nil
}

func (t *tx) CreateAccount(_ context.Context, a model.Account) error {
	if _, ok := t.account(a.ID); ok {
		return fmt.Errorf("%w: account %s", store.ErrExists, a.ID)
	}
	for _, other := range t.allAccounts() {
		if other.Code == a.Code {
			return fmt.Errorf("%w: account code %s", store.ErrExists, a.Code)
		}
	}
	t.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (t *tx) UpdateAccount(_ context.Context, a model.Account) error {
	if _, ok := t.account(a.ID); !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, a.ID)
	}
	for _, other := range t.allAccounts() {
		if other.Code == a.Code && other.ID != a.ID {
			return fmt.Errorf("%w: account code %s", store.ErrExists, a.Code)
		}
	}
	t.accounts[a.ID] = cloneAccount(a)
	return nil
}

func (t *tx) SetBalance(_ context.Context, id string, balance decimal.Decimal) error {
	a, ok := t.account(id)
	if !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	a = cloneAccount(a)
	a.Balance = balance
	// a written balance replaces the coerced one
	kept := a.Integrity[:0]
	for _, w := range a.Integrity {
		if w.Field != "balance" {
			kept = append(kept, w)
		}
	}
	a.Integrity = kept
	t.accounts[id] = a
	return nil
}

func (t *tx) allAccounts() []model.Account {
	accts, _ := t.ListAccounts(context.Background())
	return accts
}

func (t *tx) GetEntry(_ context.Context, id string) (model.JournalEntry, error) {
	e, ok := t.entry(id)
	if !ok {
		return model.JournalEntry{}, fmt.Errorf("%w: entry %s", store.ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (t *tx) GetEntryForUpdate(ctx context.Context, id string) (model.JournalEntry, error) {
	return t.GetEntry(ctx, id)
}

func (t *tx) CreateEntry(_ context.Context, e model.JournalEntry) error {
	if _, ok := t.entry(e.ID); ok {
		return fmt.Errorf("%w: entry %s", store.ErrExists, e.ID)
	}
	t.entries[e.ID] = e.Clone()
	return nil
}

func (t *tx) UpdateEntry(_ context.Context, e model.JournalEntry) error {
	if _, ok := t.entry(e.ID); !ok {
		return fmt.Errorf("%w: entry %s", store.ErrNotFound, e.ID)
	}
	t.entries[e.ID] = e.Clone()
	return nil
}

func (t *tx) ReversalsOf(_ context.Context, entryID string) ([]model.JournalEntry, error) {
	var out []model.JournalEntry
	for id, e := range t.base.entries {
		if _, shadowed := t.entries[id]; !shadowed && e.ReversalOf == entryID {
			out = append(out, e.Clone())
		}
	}
	for _, e := range t.entries {
		if e.ReversalOf == entryID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryNumber < out[j].EntryNumber })
	return out, nil
}

func (t *tx) NextEntrySeq(_ context.Context, year int) (int, error) {
	n, ok := t.seqs[year]
	if !ok {
		n = t.base.seqs[year]
	}
	n++
	t.seqs[year] = n
	return n, nil
}

func (t *tx) AppendRecords(_ context.Context, recs []model.LedgerRecord) error {
	for i := range recs {
		t.lastSeq++
		recs[i].Seq = t.lastSeq
		t.records = append(t.records, recs[i])
	}
	return nil
}

func (t *tx) RecordsForEntry(_ context.Context, entryID string) ([]model.LedgerRecord, error) {
	var out []model.LedgerRecord
	for _, i := range t.base.byEntry[entryID] {
		out = append(out, t.base.records[i])
	}
	for _, r := range t.records {
		if r.EntryID == entryID {
			out = append(out, r)
		}
	}
	return out, nil
}

// merged returns the would-be committed contents without touching base.
func (t *tx) merged() (map[string]model.Account, map[string]model.JournalEntry, []model.LedgerRecord) {
	accts := make(map[string]model.Account, len(t.base.accounts)+len(t.accounts))
	for id, a := range t.base.accounts {
		accts[id] = a
	}
	for id, a := range t.accounts {
		accts[id] = a
	}
	entries := make(map[string]model.JournalEntry, len(t.base.entries)+len(t.entries))
	for id, e := range t.base.entries {
		entries[id] = e
	}
	for id, e := range t.entries {
		entries[id] = e
	}
	records := make([]model.LedgerRecord, 0, len(t.base.records)+len(t.records))
	records = append(records, t.base.records...)
	records = append(records, t.records...)
	return accts, entries, records
}

func (t *tx) commit() {
	for id, a := range t.accounts {
		t.base.accounts[id] = a
	}
	for id, e := range t.entries {
		t.base.entries[id] = e
	}
	for _, r := range t.records {
		t.base.byEntry[r.EntryID] = append(t.base.byEntry[r.EntryID], len(t.base.records))
		t.base.records = append(t.base.records, r)
	}
	for year, n := range t.seqs {
		t.base.seqs[year] = n
	}
	t.base.lastSeq = t.lastSeq
}

func cloneAccount(a model.Account) model.Account {
	a.Integrity = append([]model.DataIntegrityWarning(nil), a.Integrity...)
	return a
}

func sortAccounts(accts []model.Account) {
	sort.Slice(accts, func(i, j int) bool { return accounts.CompareCodes(accts[i].Code, accts[j].Code) < 0 })
}

func sortEntries(entries []model.JournalEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].EntryNumber != entries[j].EntryNumber {
			return entries[i].EntryNumber < entries[j].EntryNumber
		}
		return entries[i].ID < entries[j].ID
	})
}
