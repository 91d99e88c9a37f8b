// Package filestore keeps the books as CSV files in a directory:
//
//	accounts/chart-of-accounts.csv
//	journal/journal.csv
//	ledger/gl-entries.csv
//
// The files are loaded into a memory store and rewritten after every
// committed transaction. Each file is written to a temporary sibling and
// renamed into place, in the order ledger, accounts, journal. The journal
// rename is the commit point: Open drops ledger records whose entry is not
// posted in the journal and rebuilds the balances they touched.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/id"
	"github.com/cleared-dev/ledgercore/internal/journal"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
	"github.com/cleared-dev/ledgercore/internal/store/memory"
)

// Paths relative to the books directory.
const (
	AccountsFile = "accounts/chart-of-accounts.csv"
	JournalFile  = "journal/journal.csv"
	LedgerFile   = "ledger/gl-entries.csv"
)

var _ store.Store = (*Store)(nil)

// Store is a memory.Store persisted to CSV files.
type Store struct {
	*memory.Store
	dir    string
	logger *zap.Logger
}

// Open loads the books in dir. Missing files are treated as empty. Stored
// values that had to be coerced are logged as data-integrity warnings.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{dir: dir, logger: logger}
	s.Store = memory.New(memory.WithCommitHook(s.flush))

	var snap memory.Snapshot
	var err error
	if snap.Accounts, err = readFile(s.path(AccountsFile), accounts.ReadAccounts); err != nil {
		return nil, err
	}
	if snap.Entries, err = readFile(s.path(JournalFile), journal.ReadEntries); err != nil {
		return nil, err
	}
	if snap.Records, err = readFile(s.path(LedgerFile), journal.ReadRecords); err != nil {
		return nil, err
	}

	for _, a := range snap.Accounts {
		s.warn(a.Integrity)
	}
	for _, r := range snap.Records {
		s.warn(r.Integrity)
	}
	recoverSnapshot(&snap, logger)

	seqs := make(map[int]int)
	for _, e := range snap.Entries {
		year, seq, err := id.ParseEntryNumber(e.EntryNumber)
		if err != nil {
			logger.Warn("unparsable entry number", zap.String("entry_id", e.ID), zap.String("number", e.EntryNumber))
			continue
		}
		if seq > seqs[year] {
			seqs[year] = seq
		}
	}

	s.Load(snap, seqs)
	return s, nil
}

// Dir returns the books directory.
func (s *Store) Dir() string { return s.dir }

// Migrate creates the directory layout and writes the current contents.
func (s *Store) Migrate(ctx context.Context) error {
	return s.flush(ctx, s.Snapshot())
}

func (s *Store) path(rel string) string {
	return filepath.Join(s.dir, filepath.FromSlash(rel))
}

func (s *Store) warn(ws []model.DataIntegrityWarning) {
	for _, w := range ws {
		s.logger.Warn("data integrity warning",
			zap.String("entity", w.Entity),
			zap.String("id", w.ID),
			zap.String("field", w.Field),
			zap.String("raw", w.Raw),
		)
	}
}

func (s *Store) flush(_ context.Context, snap memory.Snapshot) error {
	if err := writeFile(s.path(LedgerFile), func(w io.Writer) error {
		return journal.WriteRecords(w, snap.Records)
	}); err != nil {
		return err
	}
	if err := writeFile(s.path(AccountsFile), func(w io.Writer) error {
		return accounts.WriteAccounts(w, snap.Accounts)
	}); err != nil {
		return err
	}
	return writeFile(s.path(JournalFile), func(w io.Writer) error {
		return journal.WriteEntries(w, snap.Entries)
	})
}

func readFile[T any](path string, read func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger/filestore: opening %s: %w", path, err)
	}
	defer f.Close()

	out, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("ledger/filestore: %s: %w", path, err)
	}
	return out, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ledger/filestore: creating dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("ledger/filestore: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger/filestore: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger/filestore: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("ledger/filestore: %w", err)
	}
	return nil
}
