package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledgercore/internal/commands"
)

const saleDoc = `date: 2025-01-10
description: Opening sale
lines:
  - account: "1.1.001"
    debit: "1000"
  - account: "4.1"
    credit: "1000"
`

func writeDoc(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "entry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func runIn(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := commands.NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEntryWorkflow(t *testing.T) {
	dir := initBooks(t)

	out, err := run(t, "--dir", dir, "entry", "create", "-f", writeDoc(t, saleDoc))
	require.NoError(t, err)
	assert.Contains(t, out, "Created draft JE-2025-00001")
	assert.Equal(t, "entry: create JE-2025-00001 Opening sale", gitLog(t, dir, "%s"))

	out, err = run(t, "--dir", dir, "entry", "list", "--status", "draft")
	require.NoError(t, err)
	assert.Contains(t, out, "JE-2025-00001")
	assert.Contains(t, out, "1000.00")

	out, err = run(t, "--dir", dir, "entry", "approve", "JE-2025-00001")
	require.NoError(t, err)
	assert.Contains(t, out, "Posted JE-2025-00001")
	assert.Equal(t, "entry: approve JE-2025-00001", gitLog(t, dir, "%s"))

	out, err = run(t, "--dir", dir, "entry", "show", "je-2025-00001")
	require.NoError(t, err)
	assert.Contains(t, out, "status: posted")
	assert.Contains(t, out, "description: Opening sale")

	out, err = run(t, "--dir", dir, "account", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Cash on Hand")
	assert.Contains(t, out, "Assets/")

	out, err = run(t, "--dir", dir, "statement", "1.1.001")
	require.NoError(t, err)
	assert.Contains(t, out, "Opening sale")
	assert.Contains(t, out, "1000.00")

	out, err = run(t, "--dir", dir, "trial-balance", "--hierarchy")
	require.NoError(t, err)
	assert.Contains(t, out, "1.1.001")
	assert.Contains(t, out, "balanced")
	assert.NotContains(t, out, "NOT balanced")

	out, err = run(t, "--dir", dir, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "No problems found.")

	out, err = run(t, "--dir", dir, "recompute")
	require.NoError(t, err)
	assert.Contains(t, out, "0 balance(s) changed")

	out, err = run(t, "--dir", dir, "entry", "reverse", "JE-2025-00001", "--date", "2025-01-31")
	require.NoError(t, err)
	assert.Contains(t, out, "Created draft JE-2025-00002 reversing JE-2025-00001")

	_, err = run(t, "--dir", dir, "entry", "approve", "JE-2025-00002")
	require.NoError(t, err)

	out, err = run(t, "--dir", dir, "trial-balance", "--hide-zero", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"balanced": true`)
	assert.NotContains(t, out, "1.1.001")
}

func TestEntryCreate_FromStdin(t *testing.T) {
	dir := initBooks(t)

	out, err := runIn(t, saleDoc, "--dir", dir, "entry", "create", "-f", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Created draft JE-2025-00001")
}

func TestEntryCreate_UnresolvedAccounts(t *testing.T) {
	dir := initBooks(t)
	doc := strings.NewReplacer(`"1.1.001"`, "nonexistent", `"4.1"`, "revenue").Replace(saleDoc)

	_, err := run(t, "--dir", dir, "entry", "create", "-f", writeDoc(t, doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nonexistent" matches no account`)
	assert.Contains(t, err.Error(), `"revenue" is ambiguous`)
	assert.Contains(t, err.Error(), "Sales Revenue")
}

func TestEntryUpdateAndCancel(t *testing.T) {
	dir := initBooks(t)
	_, err := run(t, "--dir", dir, "entry", "create", "-f", writeDoc(t, saleDoc))
	require.NoError(t, err)

	updated := strings.ReplaceAll(saleDoc, `"1000"`, `"250"`)
	out, err := run(t, "--dir", dir, "entry", "update", "JE-2025-00001", "-f", writeDoc(t, updated))
	require.NoError(t, err)
	assert.Contains(t, out, "Updated JE-2025-00001")

	out, err = run(t, "--dir", dir, "entry", "show", "JE-2025-00001")
	require.NoError(t, err)
	assert.Contains(t, out, "250")

	out, err = run(t, "--dir", dir, "entry", "cancel", "JE-2025-00001")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled JE-2025-00001")

	_, err = run(t, "--dir", dir, "entry", "approve", "JE-2025-00001")
	require.Error(t, err)
}

func TestEntryApprove_ReportsFailures(t *testing.T) {
	dir := initBooks(t)
	_, err := run(t, "--dir", dir, "entry", "create", "-f", writeDoc(t, saleDoc))
	require.NoError(t, err)

	out, err := run(t, "--dir", dir, "entry", "approve", "JE-2025-00001", "JE-2099-00001")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 entries not posted")
	assert.Contains(t, out, "Posted JE-2025-00001")
	assert.Contains(t, out, "FAILED JE-2099-00001")
}

func TestAccountAddFindMove(t *testing.T) {
	dir := initBooks(t)

	out, err := run(t, "--dir", dir, "account", "add",
		"--code", "1.1.005", "--name", "Petty Cash", "--type", "asset", "--parent", "1.1")
	require.NoError(t, err)
	assert.Contains(t, out, "Added 1.1.005 Petty Cash (asset, debit)")
	assert.Equal(t, "account: add 1.1.005 Petty Cash", gitLog(t, dir, "%s"))

	out, err = run(t, "--dir", dir, "account", "find", "petty")
	require.NoError(t, err)
	assert.Contains(t, out, "1.1.005")

	_, err = run(t, "--dir", dir, "account", "find", "zzz")
	require.Error(t, err)

	out, err = run(t, "--dir", dir, "account", "move", "1.1.005", "--parent", "1.2")
	require.NoError(t, err)
	assert.Contains(t, out, "Moved 1.1.005 under 1.2")

	_, err = run(t, "--dir", dir, "account", "move", "1.1.005", "--parent", "1.1.001")
	require.Error(t, err, "posting accounts cannot take children")
}

func TestReports_BadFlags(t *testing.T) {
	dir := initBooks(t)

	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"trial-balance", "--format", "pdf"}},
		{"bad date", []string{"statement", "1.1.001", "--from", "01/02/2025"}},
		{"bad type", []string{"trial-balance", "--type", "income"}},
		{"unknown account", []string{"statement", "9.9.9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"--dir", dir}, tt.args...)...)
			assert.Error(t, err)
		})
	}
}

func TestCommands_NoBooks(t *testing.T) {
	_, err := run(t, "--dir", t.TempDir(), "verify")
	require.Error(t, err)
}

func TestEntryImport(t *testing.T) {
	dir := initBooks(t)
	statement := "Details,Posting Date,Description,Amount,Type,Balance,Check or Slip #\n" +
		"DEBIT,01/03/2025,CITY POWER,-120.00,ACH_DEBIT,880.00,\n" +
		"DEBIT,01/09/2025,CITY WATER,-35.50,ACH_DEBIT,844.50,\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import", "jan.csv"), []byte(statement), 0o644))

	out, err := run(t, "--dir", dir, "entry", "import", "--bank", "1.1.002", "--offset", "5.2.3")
	require.NoError(t, err)
	assert.Contains(t, out, "jan.csv: 2 draft(s)")
	assert.Equal(t, "import: 2 drafts from 1 file(s)", gitLog(t, dir, "%s"))

	processed := filepath.Join(dir, "import", "processed", "jan.csv")
	_, err = os.Stat(processed)
	require.NoError(t, err)

	out, err = run(t, "--dir", dir, "entry", "import", processed, "--bank", "1.1.002", "--offset", "5.2.3")
	require.NoError(t, err)
	assert.Contains(t, out, "jan.csv: 0 draft(s)", "rows already imported are skipped")

	out, err = run(t, "--dir", dir, "entry", "list", "--status", "draft")
	require.NoError(t, err)
	assert.Contains(t, out, "CITY POWER")
	assert.Contains(t, out, "35.50")

	_, err = run(t, "--dir", dir, "entry", "import", "--format", "ofx", "--bank", "1.1.002", "--offset", "5.2.3")
	require.Error(t, err)
}
