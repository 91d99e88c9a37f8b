package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/id"
	"github.com/cleared-dev/ledgercore/internal/journal"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	for _, rel := range []string{AccountsFile, JournalFile, LedgerFile} {
		assert.FileExists(t, filepath.Join(dir, rel))
	}

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, a := range []model.Account{
			{ID: "cash", Code: "1.1", Name: "Cash", Type: model.AccountTypeAsset, Nature: model.NatureDebit, Level: 1, Balance: decimal.NewFromInt(50)},
			{ID: "rev", Code: "4.1", Name: "Sales", Type: model.AccountTypeRevenue, Nature: model.NatureCredit, Level: 1, Balance: decimal.NewFromInt(50)},
		} {
			if err := tx.CreateAccount(ctx, a); err != nil {
				return err
			}
		}
		seq, err := tx.NextEntrySeq(ctx, 2025)
		if err != nil {
			return err
		}
		e := model.JournalEntry{
			ID: "e1", EntryNumber: id.FormatEntryNumber(2025, seq), Date: day, Description: "sale",
			Status: model.StatusPosted,
			Lines: []model.Line{
				{AccountID: "cash", Debit: decimal.NewFromInt(50)},
				{AccountID: "rev", Credit: decimal.NewFromInt(50)},
			},
		}
		if err := tx.CreateEntry(ctx, e); err != nil {
			return err
		}
		return tx.AppendRecords(ctx, []model.LedgerRecord{
			{ID: "r1", EntryID: "e1", EntryNumber: e.EntryNumber, AccountID: "cash", Date: day, Debit: decimal.NewFromInt(50)},
			{ID: "r2", EntryID: "e1", EntryNumber: e.EntryNumber, LineIndex: 1, AccountID: "rev", Date: day, Credit: decimal.NewFromInt(50)},
		})
	}))

	reopened, err := Open(dir, nil)
	require.NoError(t, err)

	accts, err := reopened.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 2)
	assert.Equal(t, "50", accts[0].Balance.String())

	e, err := reopened.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "JE-2025-00001", e.EntryNumber)
	assert.Len(t, e.Lines, 2)

	recs, err := reopened.Records(ctx, store.RecordQuery{PostedOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[1].Seq)

	var next int
	require.NoError(t, reopened.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		next, err = tx.NextEntrySeq(ctx, 2025)
		return err
	}))
	assert.Equal(t, 2, next, "sequence continues after reload")
}

func TestOpenLogsIntegrityWarnings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, AccountsFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	csv := strings.Join(accounts.Header, ",") + "\n" +
		"a1,1.1,Cash,asset,debit,1,false,,Infinity,USD\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	s, err := Open(dir, zap.New(core))
	require.NoError(t, err)

	a, err := s.GetAccount(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
	require.Len(t, a.Integrity, 1)

	entries := logs.FilterMessage("data integrity warning").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Infinity", entries[0].ContextMap()["raw"])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Infinity", "stored value is not rewritten on read")
}

func TestOpenRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, JournalFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(journal.Header, ",")+"\nonly,three,fields\n"), 0o644))

	_, err := Open(dir, nil)
	assert.Error(t, err)
}

// block replaces the file at rel with a non-empty directory so renaming onto
// it fails, and returns a func that puts the original file back.
func block(t *testing.T, dir, rel string) func() {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	orig, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "x"), 0o755))
	return func() {
		require.NoError(t, os.RemoveAll(path))
		require.NoError(t, os.WriteFile(path, orig, 0o644))
	}
}

func TestFailedFlushLeavesNoPartialPosting(t *testing.T) {
	for _, rel := range []string{AccountsFile, JournalFile} {
		t.Run(rel, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

			s, err := Open(dir, nil)
			require.NoError(t, err)
			require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				for _, a := range []model.Account{
					{ID: "assets", Code: "1", Name: "Assets", Type: model.AccountTypeAsset, Nature: model.NatureDebit, Level: 1, IsGroup: true},
					{ID: "cash", Code: "1.1", Name: "Cash", Type: model.AccountTypeAsset, Nature: model.NatureDebit, Level: 2, ParentID: "assets"},
					{ID: "rev", Code: "4", Name: "Sales", Type: model.AccountTypeRevenue, Nature: model.NatureCredit, Level: 1},
				} {
					if err := tx.CreateAccount(ctx, a); err != nil {
						return err
					}
				}
				return tx.CreateEntry(ctx, model.JournalEntry{
					ID: "e1", EntryNumber: "JE-2025-00001", Date: day, Description: "sale",
					Status: model.StatusDraft,
					Lines: []model.Line{
						{AccountID: "cash", Debit: decimal.NewFromInt(10)},
						{AccountID: "rev", Credit: decimal.NewFromInt(10)},
					},
				})
			}))

			restore := block(t, dir, rel)
			err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
				e, err := tx.GetEntry(ctx, "e1")
				if err != nil {
					return err
				}
				if err := tx.AppendRecords(ctx, []model.LedgerRecord{
					{ID: "r1", EntryID: "e1", EntryNumber: e.EntryNumber, AccountID: "cash", Date: day, Debit: decimal.NewFromInt(10)},
					{ID: "r2", EntryID: "e1", EntryNumber: e.EntryNumber, LineIndex: 1, AccountID: "rev", Date: day, Credit: decimal.NewFromInt(10)},
				}); err != nil {
					return err
				}
				for _, id := range []string{"assets", "cash", "rev"} {
					if err := tx.SetBalance(ctx, id, decimal.NewFromInt(10)); err != nil {
						return err
					}
				}
				e.Status = model.StatusPosted
				return tx.UpdateEntry(ctx, e)
			})
			require.Error(t, err)
			restore()

			e, err := s.GetEntry(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusDraft, e.Status, "memory is unchanged")

			reopened, err := Open(dir, nil)
			require.NoError(t, err)

			e, err = reopened.GetEntry(ctx, "e1")
			require.NoError(t, err)
			assert.Equal(t, model.StatusDraft, e.Status)

			recs, err := reopened.Records(ctx, store.RecordQuery{})
			require.NoError(t, err)
			assert.Empty(t, recs)

			accts, err := reopened.ListAccounts(ctx)
			require.NoError(t, err)
			require.Len(t, accts, 3)
			for _, a := range accts {
				assert.True(t, a.Balance.IsZero(), "%s balance %s", a.ID, a.Balance)
			}
		})
	}
}

func TestOpenDropsRecordsOfUnpostedEntries(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	s, err := Open(dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, a := range []model.Account{
			{ID: "assets", Code: "1", Name: "Assets", Type: model.AccountTypeAsset, Nature: model.NatureDebit, Level: 1, IsGroup: true, Balance: decimal.NewFromInt(15)},
			{ID: "cash", Code: "1.1", Name: "Cash", Type: model.AccountTypeAsset, Nature: model.NatureDebit, Level: 2, ParentID: "assets", Balance: decimal.NewFromInt(15)},
			{ID: "rev", Code: "4", Name: "Sales", Type: model.AccountTypeRevenue, Nature: model.NatureCredit, Level: 1, Balance: decimal.NewFromInt(15)},
		} {
			if err := tx.CreateAccount(ctx, a); err != nil {
				return err
			}
		}
		for _, e := range []model.JournalEntry{
			{ID: "e1", EntryNumber: "JE-2025-00001", Date: day, Status: model.StatusPosted},
			{ID: "e2", EntryNumber: "JE-2025-00002", Date: day, Status: model.StatusDraft},
		} {
			if err := tx.CreateEntry(ctx, e); err != nil {
				return err
			}
		}
		return tx.AppendRecords(ctx, []model.LedgerRecord{
			{ID: "r1", EntryID: "e1", AccountID: "cash", Date: day, Debit: decimal.NewFromInt(10)},
			{ID: "r2", EntryID: "e1", LineIndex: 1, AccountID: "rev", Date: day, Credit: decimal.NewFromInt(10)},
			{ID: "r3", EntryID: "e2", AccountID: "cash", Date: day, Debit: decimal.NewFromInt(5)},
			{ID: "r4", EntryID: "e2", LineIndex: 1, AccountID: "rev", Date: day, Credit: decimal.NewFromInt(5)},
		})
	}))

	core, logs := observer.New(zapcore.WarnLevel)
	reopened, err := Open(dir, zap.New(core))
	require.NoError(t, err)

	recs, err := reopened.Records(ctx, store.RecordQuery{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "e1", r.EntryID)
	}

	for _, id := range []string{"assets", "cash", "rev"} {
		a, err := reopened.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "10", a.Balance.String(), id)
	}
	assert.Len(t, logs.FilterMessage("dropped ledger records of unfinished commit").All(), 1)
	assert.Len(t, logs.FilterMessage("rebuilt account balance").All(), 3)
}
