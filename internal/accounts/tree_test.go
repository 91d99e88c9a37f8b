package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/ledgercore/internal/model"
)

func acct(id, code, parent string, group bool) model.Account {
	level := 1
	for _, c := range code {
		if c == '.' {
			level++
		}
	}
	return model.Account{
		ID: id, Code: code, Name: "acct " + code, Type: model.AccountTypeExpense,
		Nature: model.NatureDebit, Level: level, IsGroup: group, ParentID: parent,
	}
}

func sampleTree(t *testing.T) *Tree {
	t.Helper()
	tree, warnings, err := Build([]model.Account{
		acct("e", "5", "", true),
		acct("op", "5.2", "e", true),
		acct("pay", "5.2.1", "op", true),
		acct("sal", "5.2.1.001", "pay", false),
		acct("ins", "5.2.1.002", "pay", false),
		acct("rent", "5.2.10", "op", false),
		acct("util", "5.2.3", "op", false),
		acct("cogs", "5.1", "e", false),
	}, DefaultMaxDepth)
	require.NoError(t, err)
	require.Empty(t, warnings)
	return tree
}

func codes(accts []model.Account) []string {
	out := make([]string, len(accts))
	for i, a := range accts {
		out[i] = a.Code
	}
	return out
}

func TestResolve(t *testing.T) {
	tree := sampleTree(t)

	a, err := tree.Resolve("5.2.1.001")
	require.NoError(t, err)
	assert.Equal(t, "sal", a.ID)

	_, err = tree.Resolve("9.9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChildrenOrderedByCode(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []string{"5.2.1", "5.2.3", "5.2.10"}, codes(tree.Children("op")))
	assert.Equal(t, []string{"5.1", "5.2"}, codes(tree.Children("e")))
	assert.Empty(t, tree.Children("sal"))
}

func TestAncestorsRootToLeaf(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []string{"5", "5.2", "5.2.1"}, codes(tree.Ancestors("sal")))
	assert.Empty(t, tree.Ancestors("e"))
}

func TestDescendantsAndWalk(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []string{"5.2.1", "5.2.1.001", "5.2.1.002", "5.2.3", "5.2.10"}, codes(tree.Descendants("op")))
	assert.Equal(t, []string{"5.2.1.001", "5.2.1.002", "5.2.3", "5.2.10"}, codes(tree.PostingDescendants("op")))
	assert.Equal(t, []string{"5.2.3"}, codes(tree.PostingDescendants("util")))
	assert.Equal(t, []string{"5", "5.1", "5.2", "5.2.1", "5.2.1.001", "5.2.1.002", "5.2.3", "5.2.10"}, codes(tree.All()))
}

func TestBottomUp(t *testing.T) {
	tree := sampleTree(t)
	assert.Equal(t, []string{"5.2.1", "5.2", "5"}, codes(tree.BottomUp()))
}

func TestLevelsAgreeWithDepth(t *testing.T) {
	tree := sampleTree(t)
	require.NoError(t, tree.CheckLevels())
	assert.Equal(t, 4, tree.Depth("sal"))

	bad := acct("x", "5.9", "e", false)
	bad.Level = 3
	tree2, _, err := Build([]model.Account{acct("e", "5", "", true), bad}, DefaultMaxDepth)
	require.NoError(t, err)
	assert.ErrorIs(t, tree2.CheckLevels(), ErrLevelMismatch)
}

func TestBuild_Cycle(t *testing.T) {
	_, _, err := Build([]model.Account{
		acct("a", "1", "b", true),
		acct("b", "2", "a", true),
	}, DefaultMaxDepth)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestBuild_DepthGuard(t *testing.T) {
	accts := []model.Account{acct("n0", "1", "", true)}
	for i := 1; i < 5; i++ {
		accts = append(accts, model.Account{ID: "n" + string(rune('0'+i)), Code: "1" + string(rune('a'+i)), ParentID: "n" + string(rune('0'+i-1)), IsGroup: true})
	}
	_, _, err := Build(accts, 3)
	assert.ErrorIs(t, err, ErrHierarchyTooDeep)

	_, _, err = Build(accts, 5)
	assert.NoError(t, err)
}

func TestBuild_DuplicateCode(t *testing.T) {
	_, _, err := Build([]model.Account{
		acct("a", "1", "", false),
		acct("b", "1", "", false),
	}, DefaultMaxDepth)
	assert.ErrorIs(t, err, ErrDuplicateCode)
}

func TestBuild_OrphanIsWarning(t *testing.T) {
	tree, warnings, err := Build([]model.Account{
		acct("a", "1", "", true),
		acct("b", "1.1", "missing", false),
	}, DefaultMaxDepth)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "b", warnings[0].ID)
	assert.Equal(t, "parent_id", warnings[0].Field)
	assert.Equal(t, []string{"1", "1.1"}, codes(tree.Roots()))
}

func TestCanAttach(t *testing.T) {
	tree := sampleTree(t)

	assert.NoError(t, tree.CanAttach("util", "pay"))
	assert.NoError(t, tree.CanAttach("new", "op"))
	assert.NoError(t, tree.CanAttach("op", ""))
	assert.ErrorIs(t, tree.CanAttach("op", "pay"), ErrCycle, "moving under own descendant")
	assert.ErrorIs(t, tree.CanAttach("op", "op"), ErrCycle)
	assert.ErrorIs(t, tree.CanAttach("util", "sal"), ErrParentNotGroup)
	assert.ErrorIs(t, tree.CanAttach("util", "nope"), ErrNotFound)
}

func TestCompareCodes(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2", "1.10", -1},
		{"1.10", "2", -1},
		{"1", "1.1", -1},
		{"5.2.1.001", "5.2.1.002", -1},
		{"1.1", "1.1", 0},
		{"B", "A", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompareCodes(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}
