package journal

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledgercore/internal/model"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func TestRoundTrip(t *testing.T) {
	created := time.Date(2025, 1, 3, 10, 30, 0, 0, time.UTC)
	entries := []model.JournalEntry{
		{
			ID:          "e1",
			EntryNumber: "JE-2025-00001",
			Date:        date(2025, 1, 3),
			Description: "GitHub Pro subscription",
			Status:      model.StatusPosted,
			CreatedAt:   created,
			UpdatedAt:   created,
			PostedAt:    created.Add(time.Hour),
			Lines: []model.Line{
				{AccountID: "exp", AccountCode: "5.2.4", Debit: dec("4.00"), Currency: "USD", Description: "monthly, pro plan"},
				{AccountID: "bank", AccountCode: "1.1.002", Credit: dec("4.00"), Currency: "USD"},
			},
		},
		{
			ID:          "e2",
			EntryNumber: "JE-2025-00002",
			Date:        date(2025, 1, 5),
			Description: "EUR invoice",
			Status:      model.StatusDraft,
			CreatedAt:   created,
			Lines: []model.Line{
				{AccountID: "ar", Debit: dec("100"), ExchangeRate: dec("1.0834"), Currency: "EUR"},
				{AccountID: "rev", Credit: dec("100"), ExchangeRate: dec("1.0834"), Currency: "EUR"},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, entries))

	got, err := ReadEntries(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i := range entries {
		want := entries[i]
		assert.Equal(t, want.ID, got[i].ID)
		assert.Equal(t, want.EntryNumber, got[i].EntryNumber)
		assert.True(t, want.Date.Equal(got[i].Date))
		assert.Equal(t, want.Status, got[i].Status)
		assert.True(t, want.CreatedAt.Equal(got[i].CreatedAt))
		assert.True(t, want.PostedAt.Equal(got[i].PostedAt))
		require.Len(t, got[i].Lines, len(want.Lines))
		for j := range want.Lines {
			assert.Equal(t, want.Lines[j].AccountID, got[i].Lines[j].AccountID)
			assert.True(t, want.Lines[j].Debit.Equal(got[i].Lines[j].Debit))
			assert.True(t, want.Lines[j].Credit.Equal(got[i].Lines[j].Credit))
			assert.True(t, want.Lines[j].ExchangeRate.Equal(got[i].Lines[j].ExchangeRate))
			assert.Equal(t, want.Lines[j].Description, got[i].Lines[j].Description)
		}
	}
}

func TestEntryWithoutLines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, []model.JournalEntry{{ID: "e1", Status: model.StatusDraft}}))

	got, err := ReadEntries(&buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Empty(t, got[0].Lines)
}

func TestReadEntries_Empty(t *testing.T) {
	got, err := ReadEntries(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestReadEntries_BadAmount(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, []model.JournalEntry{{
		ID: "e1", Lines: []model.Line{{AccountID: "a", Debit: dec("1")}},
	}}))
	corrupt := strings.Replace(buf.String(), ",1,,", ",abc,,", 1)

	_, err := ReadEntries(strings.NewReader(corrupt))
	assert.ErrorContains(t, err, "debit")
}

func TestRecordsRoundTrip(t *testing.T) {
	recs := []model.LedgerRecord{
		{ID: "r1", Seq: 1, EntryID: "e1", EntryNumber: "JE-2025-00001", LineIndex: 0, AccountID: "a", Date: date(2025, 1, 3), Debit: dec("108.34"), Currency: "EUR", ExchangeRate: dec("1.0834")},
		{ID: "r2", Seq: 2, EntryID: "e1", EntryNumber: "JE-2025-00001", LineIndex: 1, AccountID: "b", Date: date(2025, 1, 3), Credit: dec("108.34")},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, recs))

	got, err := ReadRecords(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[1].Seq)
	assert.Equal(t, 1, got[1].LineIndex)
	assert.True(t, got[0].Debit.Equal(dec("108.34")))
	assert.True(t, got[1].Debit.IsZero())
	assert.Empty(t, got[0].Integrity)
}

func TestReadRecords_NonFinite(t *testing.T) {
	in := strings.Join(RecordHeader, ",") + "\n" +
		"r1,1,e1,JE-2025-00001,0,a,2025-01-03,,NaN,,USD,,\n" +
		"r2,2,e1,JE-2025-00001,1,b,2025-01-03,,,+Inf,USD,,\n"

	got, err := ReadRecords(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.True(t, got[0].Debit.IsZero())
	require.Len(t, got[0].Integrity, 1)
	assert.Equal(t, model.DataIntegrityWarning{Entity: "gl_entry", ID: "r1", Field: "debit", Raw: "NaN"}, got[0].Integrity[0])

	assert.True(t, got[1].Credit.IsZero())
	require.Len(t, got[1].Integrity, 1)
	assert.Equal(t, "credit", got[1].Integrity[0].Field)
}
