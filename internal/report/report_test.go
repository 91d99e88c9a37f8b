package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cleared-dev/ledgercore/internal/ledger"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
	"github.com/cleared-dev/ledgercore/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

type fixture struct {
	s   *memory.Store
	eng *ledger.Engine
	ids map[string]string
}

// newFixture posts four entries:
//
//	2025-01-10  Dr 1.1 Cash 1000   Cr 4.1 Sales 1000
//	2025-02-05  Dr 5.1 Rent  300   Cr 1.1 Cash   300
//	2025-02-05  Dr 1.2 Bank  200   Cr 4.1 Sales  200
//	2025-03-01  Dr 1.1 Cash   50   Cr 4.1 Sales   50
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	eng, err := ledger.New(s)
	require.NoError(t, err)
	f := &fixture{s: s, eng: eng, ids: map[string]string{}}

	for _, a := range []struct {
		code, name, parent string
		typ                model.AccountType
		group              bool
	}{
		{"1", "Assets", "", model.AccountTypeAsset, true},
		{"1.1", "Cash", "1", model.AccountTypeAsset, false},
		{"1.2", "Bank", "1", model.AccountTypeAsset, false},
		{"4", "Revenue", "", model.AccountTypeRevenue, true},
		{"4.1", "Sales", "4", model.AccountTypeRevenue, false},
		{"5", "Expenses", "", model.AccountTypeExpense, true},
		{"5.1", "Rent", "5", model.AccountTypeExpense, false},
	} {
		created, err := eng.CreateAccount(ctx, model.Account{Code: a.code, Name: a.name, Type: a.typ, IsGroup: a.group, ParentID: f.ids[a.parent]})
		require.NoError(t, err)
		f.ids[a.code] = created.ID
	}

	for _, e := range []struct {
		d             time.Time
		debit, credit string
		amount        string
	}{
		{date(2025, 1, 10), "1.1", "4.1", "1000"},
		{date(2025, 2, 5), "5.1", "1.1", "300"},
		{date(2025, 2, 5), "1.2", "4.1", "200"},
		{date(2025, 3, 1), "1.1", "4.1", "50"},
	} {
		entryID, err := eng.CreateJournalEntry(ctx, model.JournalEntry{
			Date:        e.d,
			Description: "entry " + e.debit + "/" + e.credit,
			Lines: []model.Line{
				{AccountID: f.ids[e.debit], Debit: dec(e.amount)},
				{AccountID: f.ids[e.credit], Credit: dec(e.amount)},
			},
		})
		require.NoError(t, err)
		require.NoError(t, eng.ApproveJournalEntry(ctx, entryID))
	}
	return f
}

func balances(st *Statement) []string {
	out := make([]string, len(st.Lines))
	for i, l := range st.Lines {
		out[i] = l.Balance.String()
	}
	return out
}

func TestAccountStatement(t *testing.T) {
	f := newFixture(t)
	g := New(f.s)
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		q        StatementQuery
		opening  string
		balances []string
		closing  string
	}{
		{"unbounded", "1.1", StatementQuery{IncludeOpening: true}, "0", []string{"1000", "700", "750"}, "750"},
		{"with opening", "1.1", StatementQuery{From: ptr(date(2025, 2, 1)), IncludeOpening: true}, "1000", []string{"700", "750"}, "750"},
		{"without opening", "1.1", StatementQuery{From: ptr(date(2025, 2, 1))}, "0", []string{"-300", "-250"}, "-250"},
		{"inclusive end", "1.1", StatementQuery{To: ptr(date(2025, 2, 5))}, "0", []string{"1000", "700"}, "700"},
		{"credit nature", "4.1", StatementQuery{}, "0", []string{"1000", "1200", "1250"}, "1250"},
		{"group aggregates descendants", "1", StatementQuery{}, "0", []string{"1000", "700", "900", "950"}, "950"},
		{"empty range", "1.1", StatementQuery{From: ptr(date(2026, 1, 1)), IncludeOpening: true}, "750", []string{}, "750"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := g.AccountStatement(ctx, f.ids[tt.code], tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.opening, st.OpeningBalance.String())
			assert.Equal(t, tt.balances, balances(st))
			assert.Equal(t, tt.closing, st.ClosingBalance.String())
			assert.Empty(t, st.Warnings)
		})
	}
}

func TestAccountStatement_RunningBalanceProperty(t *testing.T) {
	f := newFixture(t)
	st, err := New(f.s).AccountStatement(context.Background(), f.ids["1.1"], StatementQuery{From: ptr(date(2025, 2, 1)), IncludeOpening: true})
	require.NoError(t, err)

	want := st.OpeningBalance
	for _, l := range st.Lines {
		want = want.Add(l.Debit).Sub(l.Credit)
		assert.True(t, want.Equal(l.Balance))
	}
	assert.Equal(t, "50", st.TotalDebits.String())
	assert.Equal(t, "300", st.TotalCredits.String())
}

func TestAccountStatement_SameDayOrder(t *testing.T) {
	f := newFixture(t)
	st, err := New(f.s).AccountStatement(context.Background(), f.ids["1"], StatementQuery{})
	require.NoError(t, err)
	require.Len(t, st.Lines, 4)
	// both 2025-02-05 entries, in posting order
	assert.Equal(t, "JE-2025-00002", st.Lines[1].EntryNumber)
	assert.Equal(t, "JE-2025-00003", st.Lines[2].EntryNumber)
}

func TestAccountStatement_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.s).AccountStatement(context.Background(), "nope", StatementQuery{})
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestAccountStatement_EmptyGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grp, err := f.eng.CreateAccount(ctx, model.Account{Code: "9", Name: "Suspense", Type: model.AccountTypeAsset, IsGroup: true})
	require.NoError(t, err)

	st, err := New(f.s).AccountStatement(ctx, grp.ID, StatementQuery{})
	require.NoError(t, err)
	assert.Empty(t, st.Lines)
	assert.True(t, st.ClosingBalance.IsZero())
}

// corrupt replaces the first ledger record's debit the way a store does
// when it reads an unusable value.
func corrupt(t *testing.T, f *fixture) {
	t.Helper()
	snap := f.s.Snapshot()
	r := &snap.Records[0]
	r.Integrity = append(r.Integrity, model.DataIntegrityWarning{Entity: "gl_entry", ID: r.ID, Field: "debit", Raw: "NaN"})
	r.Debit = decimal.Zero
	f.s.Load(snap, f.s.Seqs())
}

func TestAccountStatement_CorruptRecord(t *testing.T) {
	f := newFixture(t)
	corrupt(t, f)
	core, logs := observer.New(zapcore.WarnLevel)

	st, err := New(f.s, WithLogger(zap.New(core))).AccountStatement(context.Background(), f.ids["1.1"], StatementQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "-300", "-250"}, balances(st))
	require.Len(t, st.Warnings, 1)
	assert.Equal(t, "NaN", st.Warnings[0].Raw)

	entries := logs.FilterMessage("data integrity warning").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "debit", entries[0].ContextMap()["field"])

	// the stored balance is not repaired by reading
	a, err := f.eng.GetAccount(context.Background(), f.ids["1.1"])
	require.NoError(t, err)
	assert.Equal(t, "750", a.Balance.String())
}

func rowCodes(tb *TrialBalance) []string {
	out := make([]string, len(tb.Rows))
	for i, r := range tb.Rows {
		out[i] = r.Account.Code
	}
	return out
}

func TestTrialBalance(t *testing.T) {
	f := newFixture(t)
	g := New(f.s)
	ctx := context.Background()

	tb, err := g.TrialBalance(ctx, TrialBalanceQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "1.2", "4.1", "5.1"}, rowCodes(tb))
	assert.Equal(t, "1250", tb.TotalDebits.String())
	assert.Equal(t, "1250", tb.TotalCredits.String())
	assert.True(t, tb.Difference.IsZero())
	assert.True(t, tb.Balanced)

	sales := tb.Rows[2]
	assert.True(t, sales.Debit.IsZero())
	assert.Equal(t, "1250", sales.Credit.String())
	assert.Equal(t, "1250", sales.Balance.String(), "balance in the account's nature")

	tb, err = g.TrialBalance(ctx, TrialBalanceQuery{IncludeHierarchy: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1.1", "1.2", "4", "4.1", "5", "5.1"}, rowCodes(tb))
	assert.True(t, tb.Rows[0].IsGroup)
	assert.Equal(t, 1, tb.Rows[0].Level)
	assert.Equal(t, 2, tb.Rows[1].Level)
	assert.Equal(t, "950", tb.Rows[0].Debit.String())
	assert.Equal(t, "1250", tb.TotalDebits.String(), "group rows are not counted in totals")
}

func TestTrialBalance_Filters(t *testing.T) {
	f := newFixture(t)
	g := New(f.s)
	ctx := context.Background()

	tests := []struct {
		name     string
		q        TrialBalanceQuery
		codes    []string
		debits   string
		credits  string
		balanced bool
	}{
		{
			name:  "type with hierarchy",
			q:     TrialBalanceQuery{IncludeHierarchy: true, Filter: AccountFilter{Types: []model.AccountType{model.AccountTypeRevenue}}},
			codes: []string{"4", "4.1"}, debits: "0", credits: "1250",
		},
		{
			name:  "code prefix",
			q:     TrialBalanceQuery{Filter: AccountFilter{CodePrefix: "1"}},
			codes: []string{"1.1", "1.2"}, debits: "950", credits: "0",
		},
		{
			name:  "as of",
			q:     TrialBalanceQuery{AsOf: date(2025, 1, 31)},
			codes: []string{"1.1", "1.2", "4.1", "5.1"}, debits: "1000", credits: "1000", balanced: true,
		},
		{
			name:  "as of hide zero",
			q:     TrialBalanceQuery{AsOf: date(2025, 1, 31), Filter: AccountFilter{HideZero: true}},
			codes: []string{"1.1", "4.1"}, debits: "1000", credits: "1000", balanced: true,
		},
		{
			name:  "as of is inclusive",
			q:     TrialBalanceQuery{AsOf: date(2025, 3, 1), Filter: AccountFilter{HideZero: true}},
			codes: []string{"1.1", "1.2", "4.1", "5.1"}, debits: "1250", credits: "1250", balanced: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tb, err := g.TrialBalance(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.codes, rowCodes(tb))
			assert.Equal(t, tt.debits, tb.TotalDebits.String())
			assert.Equal(t, tt.credits, tb.TotalCredits.String())
			assert.Equal(t, tt.balanced, tb.Balanced)
		})
	}
}

func TestTrialBalance_FilteredGroupIsDisplayOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tb, err := New(f.s).TrialBalance(ctx, TrialBalanceQuery{
		IncludeHierarchy: true,
		Filter:           AccountFilter{CodePrefix: "1.2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "1.2"}, rowCodes(tb))
	assert.Equal(t, "200", tb.Rows[0].Balance.String(), "only the visible child counts")

	assets, err := f.eng.GetAccount(ctx, f.ids["1"])
	require.NoError(t, err)
	assert.Equal(t, "950", assets.Balance.String())
}

func TestAccountFilterMatch(t *testing.T) {
	a := model.Account{Code: "5.20", Type: model.AccountTypeExpense}
	assert.True(t, AccountFilter{}.match(a))
	assert.False(t, AccountFilter{CodePrefix: "5.2"}.match(a))
	assert.True(t, AccountFilter{CodePrefix: "5."}.match(a))
	assert.True(t, AccountFilter{CodePrefix: "5.20"}.match(a))
	assert.False(t, AccountFilter{Types: []model.AccountType{model.AccountTypeAsset}}.match(a))
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	g := New(f.s)
	ctx := context.Background()

	rep, err := g.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%+v", rep)
	assert.Equal(t, 7, rep.Accounts)
	assert.Equal(t, 8, rep.Records)

	require.NoError(t, f.s.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.SetBalance(ctx, f.ids["1.1"], dec("1"))
	}))
	rep, err = g.Verify(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK())
	require.Len(t, rep.Mismatches, 1)
	assert.Equal(t, "1.1", rep.Mismatches[0].Account.Code)
	assert.Equal(t, "750", rep.Mismatches[0].Computed.String())

	_, err = f.eng.RecomputeAll(ctx)
	require.NoError(t, err)
	rep, err = g.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, rep.OK())
}

func TestVerify_CorruptRecord(t *testing.T) {
	f := newFixture(t)
	corrupt(t, f)

	rep, err := New(f.s).Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"JE-2025-00001"}, rep.Unbalanced)
	assert.Len(t, rep.Warnings, 1)
	assert.NotEmpty(t, rep.Mismatches)
}

func TestRender(t *testing.T) {
	f := newFixture(t)
	g := New(f.s)
	ctx := context.Background()
	tb, err := g.TrialBalance(ctx, TrialBalanceQuery{IncludeHierarchy: true})
	require.NoError(t, err)
	st, err := g.AccountStatement(ctx, f.ids["1.1"], StatementQuery{From: ptr(date(2025, 2, 1)), IncludeOpening: true})
	require.NoError(t, err)

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderText(&buf, tb))
		out := buf.String()
		assert.Contains(t, out, "Totals")
		assert.Contains(t, out, "1250.00")
		assert.Contains(t, out, "balanced")

		buf.Reset()
		require.NoError(t, RenderText(&buf, st))
		assert.Contains(t, buf.String(), "Opening balance")
		assert.Contains(t, buf.String(), "2025-02-05")
	})

	t.Run("markdown", func(t *testing.T) {
		md, err := Markdown(tb)
		require.NoError(t, err)
		assert.Contains(t, md, "| **4** | **Revenue** |  | 1250.00 |")
		assert.Contains(t, md, "Difference: 0.00 (balanced)")

		md, err = Markdown(st)
		require.NoError(t, err)
		assert.Contains(t, md, "| | | Opening balance | | | 1000.00 |")

		var buf bytes.Buffer
		require.NoError(t, RenderMarkdown(&buf, tb, "notty"))
		assert.Contains(t, buf.String(), "Trial Balance")
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, FormatJSON, tb))
		var got map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, true, got["balanced"])
		assert.Equal(t, "1250", got["total_debits"])
		assert.Len(t, got["rows"], 7)
	})

	t.Run("unsupported", func(t *testing.T) {
		assert.Error(t, RenderText(&bytes.Buffer{}, "nope"))
		_, err := Markdown(42)
		assert.Error(t, err)
	})
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatText, "TEXT": FormatText, "md": FormatMarkdown, "markdown": FormatMarkdown, "json": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "xml"))
}
