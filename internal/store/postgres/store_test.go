package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledgercore/internal/id"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// openTestStore connects to LEDGER_TEST_DSN and truncates the ledger tables.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations are re-runnable")
	_, err = s.pool.Exec(ctx, `TRUNCATE gl_entries, journal_entry_lines, journal_entries, entry_sequences, accounts`)
	require.NoError(t, err)
	return s
}

func TestPostgresRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)

	cash := model.Account{ID: id.New(), Code: "1.1", Name: "Cash", Type: model.AccountTypeAsset, Nature: model.NatureDebit, Level: 1, Currency: "USD"}
	rev := model.Account{ID: id.New(), Code: "4.1", Name: "Sales", Type: model.AccountTypeRevenue, Nature: model.NatureCredit, Level: 1, Currency: "USD"}
	entryID := id.New()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, a := range []model.Account{cash, rev} {
			if err := tx.CreateAccount(ctx, a); err != nil {
				return err
			}
		}
		seq, err := tx.NextEntrySeq(ctx, 2025)
		if err != nil {
			return err
		}
		e := model.JournalEntry{
			ID: entryID, EntryNumber: id.FormatEntryNumber(2025, seq), Date: day, Description: "sale",
			Status: model.StatusPosted, CreatedAt: day, UpdatedAt: day, PostedAt: day,
			Lines: []model.Line{
				{AccountID: cash.ID, Debit: decimal.RequireFromString("10.25"), ExchangeRate: decimal.NewFromInt(1)},
				{AccountID: rev.ID, Credit: decimal.RequireFromString("10.25"), ExchangeRate: decimal.NewFromInt(1)},
			},
		}
		if err := tx.CreateEntry(ctx, e); err != nil {
			return err
		}
		recs := []model.LedgerRecord{
			{ID: id.New(), EntryID: entryID, EntryNumber: e.EntryNumber, AccountID: cash.ID, Date: day, Debit: decimal.RequireFromString("10.25"), CreatedAt: day},
			{ID: id.New(), EntryID: entryID, EntryNumber: e.EntryNumber, LineIndex: 1, AccountID: rev.ID, Date: day, Credit: decimal.RequireFromString("10.25"), CreatedAt: day},
		}
		if err := tx.AppendRecords(ctx, recs); err != nil {
			return err
		}
		assert.Less(t, recs[0].Seq, recs[1].Seq)
		return tx.SetBalance(ctx, cash.ID, decimal.RequireFromString("10.25"))
	}))

	got, err := s.GetAccount(ctx, cash.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.25", got.Balance.String())

	e, err := s.GetEntry(ctx, entryID)
	require.NoError(t, err)
	assert.Equal(t, "JE-2025-00001", e.EntryNumber)
	require.Len(t, e.Lines, 2)
	assert.Equal(t, "10.25", e.Lines[1].Credit.String())

	recs, err := s.Records(ctx, store.RecordQuery{AccountIDs: []string{rev.ID}, PostedOnly: true})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Date.Equal(day))

	err = s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateAccount(ctx, model.Account{ID: id.New(), Code: "1.1", Type: model.AccountTypeAsset, Nature: model.NatureDebit})
	})
	assert.ErrorIs(t, err, store.ErrExists)
}

func TestPostgresNaNBalanceIsWarning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.pool.Exec(ctx, `INSERT INTO accounts (id, code, type, nature, balance) VALUES ('bad', '9', 'asset', 'debit', 'NaN')`)
	require.NoError(t, err)

	a, err := s.GetAccount(ctx, "bad")
	require.NoError(t, err)
	assert.True(t, a.Balance.IsZero())
	require.Len(t, a.Integrity, 1)
	assert.Equal(t, "NaN", a.Integrity[0].Raw)
}

func TestPostgresRollback(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateAccount(ctx, model.Account{ID: "x", Code: "7", Type: model.AccountTypeAsset, Nature: model.NatureDebit}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = s.GetAccount(ctx, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresReversalsOf(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, e := range []model.JournalEntry{
			{ID: "e1", EntryNumber: "JE-2025-00001", Date: day, Status: model.StatusPosted},
			{ID: "e2", EntryNumber: "JE-2025-00002", Date: day, Status: model.StatusDraft, ReversalOf: "e1"},
		} {
			if err := tx.CreateEntry(ctx, e); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.ReversalsOf(ctx, "e1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "e2", got[0].ID)
		return nil
	}))
}
