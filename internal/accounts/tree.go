package accounts

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cleared-dev/ledgercore/internal/model"
)

// DefaultMaxDepth bounds every hierarchy walk.
const DefaultMaxDepth = 32

var (
	ErrNotFound         = errors.New("accounts: not found")
	ErrDuplicateCode    = errors.New("accounts: duplicate account code")
	ErrCycle            = errors.New("accounts: cycle in account hierarchy")
	ErrHierarchyTooDeep = errors.New("accounts: hierarchy exceeds maximum depth")
	ErrParentNotGroup   = errors.New("accounts: parent is not a group account")
	ErrLevelMismatch    = errors.New("accounts: level does not match depth")
)

// Tree is an immutable, cycle-checked view of the chart of accounts built
// from a parent-id index and a children-id index. All walks are iterative.
type Tree struct {
	byID     map[string]model.Account
	byCode   map[string]string
	children map[string][]string // parent id -> child ids, ordered by code
	roots    []string
	depth    map[string]int // 1 for roots
	maxDepth int
}

// Build indexes accounts. Accounts whose parent does not exist are reported
// as warnings and treated as roots. Duplicate codes, cycles and hierarchies
// deeper than maxDepth are errors.
func Build(accts []model.Account, maxDepth int) (*Tree, []model.DataIntegrityWarning, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	t := &Tree{
		byID:     make(map[string]model.Account, len(accts)),
		byCode:   make(map[string]string, len(accts)),
		children: make(map[string][]string),
		depth:    make(map[string]int, len(accts)),
		maxDepth: maxDepth,
	}

	for _, a := range accts {
		if _, dup := t.byID[a.ID]; dup {
			return nil, nil, fmt.Errorf("accounts: duplicate account id %q", a.ID)
		}
		if other, dup := t.byCode[a.Code]; dup {
			return nil, nil, fmt.Errorf("%w: %q used by %s and %s", ErrDuplicateCode, a.Code, other, a.ID)
		}
		t.byID[a.ID] = a
		t.byCode[a.Code] = a.ID
	}

	var warnings []model.DataIntegrityWarning
	for _, a := range accts {
		parent := a.ParentID
		if parent != "" {
			if _, ok := t.byID[parent]; !ok {
				warnings = append(warnings, model.DataIntegrityWarning{
					Entity: "account", ID: a.ID, Field: "parent_id", Raw: parent,
				})
				parent = ""
			}
		}
		if parent == "" {
			t.roots = append(t.roots, a.ID)
			continue
		}
		t.children[parent] = append(t.children[parent], a.ID)
	}

	t.sortIDs(t.roots)
	for _, ids := range t.children {
		t.sortIDs(ids)
	}

	// Every account must reach a root within maxDepth steps.
	for _, a := range accts {
		d, err := t.measure(a.ID)
		if err != nil {
			return nil, nil, err
		}
		t.depth[a.ID] = d
	}

	return t, warnings, nil
}

func (t *Tree) parentOf(id string) string {
	p := t.byID[id].ParentID
	if _, ok := t.byID[p]; !ok {
		return ""
	}
	return p
}

func (t *Tree) measure(id string) (int, error) {
	seen := make(map[string]bool)
	d := 1
	for cur := id; ; d++ {
		if seen[cur] {
			return 0, fmt.Errorf("%w: account %s", ErrCycle, id)
		}
		seen[cur] = true
		if d > t.maxDepth {
			return 0, fmt.Errorf("%w (%d): account %s", ErrHierarchyTooDeep, t.maxDepth, id)
		}
		cur = t.parentOf(cur)
		if cur == "" {
			return d, nil
		}
	}
}

func (t *Tree) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return CompareCodes(t.byID[ids[i]].Code, t.byID[ids[j]].Code) < 0
	})
}

// Len returns the number of accounts.
func (t *Tree) Len() int { return len(t.byID) }

// MaxDepth returns the depth guard the tree was built with.
func (t *Tree) MaxDepth() int { return t.maxDepth }

// Get returns an account by ID.
func (t *Tree) Get(id string) (model.Account, bool) {
	a, ok := t.byID[id]
	return a, ok
}

// Exists reports whether an account ID exists.
func (t *Tree) Exists(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Account implements journal.AccountResolver.
func (t *Tree) Account(id string) (model.Account, bool) {
	return t.Get(id)
}

// Resolve returns the account with exactly this code.
func (t *Tree) Resolve(code string) (model.Account, error) {
	id, ok := t.byCode[strings.TrimSpace(code)]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: code %q", ErrNotFound, code)
	}
	return t.byID[id], nil
}

// Depth returns the 1-based depth of id, 0 if unknown.
func (t *Tree) Depth(id string) int { return t.depth[id] }

// Roots returns the root accounts ordered by code.
func (t *Tree) Roots() []model.Account {
	return t.collect(t.roots)
}

// Children returns the immediate children of id ordered by code.
func (t *Tree) Children(id string) []model.Account {
	return t.collect(t.children[id])
}

// Ancestors returns the ancestors of id ordered root to nearest parent.
func (t *Tree) Ancestors(id string) []model.Account {
	var up []model.Account
	for cur := t.parentOf(id); cur != "" && len(up) < t.maxDepth; cur = t.parentOf(cur) {
		up = append(up, t.byID[cur])
	}
	for i, j := 0, len(up)-1; i < j; i, j = i+1, j-1 {
		up[i], up[j] = up[j], up[i]
	}
	return up
}

// Descendants returns every account below id in preorder.
func (t *Tree) Descendants(id string) []model.Account {
	var out []model.Account
	t.walkFrom(t.children[id], 1, func(a model.Account, _ int) bool {
		out = append(out, a)
		return true
	})
	return out
}

// PostingDescendants returns the non-group accounts in the subtree rooted at
// id, including id itself when it is a posting account.
func (t *Tree) PostingDescendants(id string) []model.Account {
	a, ok := t.byID[id]
	if !ok {
		return nil
	}
	if !a.IsGroup {
		return []model.Account{a}
	}
	var out []model.Account
	for _, d := range t.Descendants(id) {
		if !d.IsGroup {
			out = append(out, d)
		}
	}
	return out
}

// Walk visits every account in preorder (roots first, children by code).
// Returning false from fn skips the account's subtree.
func (t *Tree) Walk(fn func(a model.Account, depth int) bool) {
	t.walkFrom(t.roots, 1, fn)
}

// All returns every account in preorder.
func (t *Tree) All() []model.Account {
	out := make([]model.Account, 0, len(t.byID))
	t.Walk(func(a model.Account, _ int) bool {
		out = append(out, a)
		return true
	})
	return out
}

type frame struct {
	id    string
	depth int
}

func (t *Tree) walkFrom(start []string, depth int, fn func(model.Account, int) bool) {
	stack := make([]frame, 0, len(start))
	for i := len(start) - 1; i >= 0; i-- {
		stack = append(stack, frame{start[i], depth})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(t.byID[f.id], f.depth) {
			continue
		}
		kids := t.children[f.id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{kids[i], f.depth + 1})
		}
	}
}

// BottomUp returns every group account ordered deepest first, so that a
// group is always listed after all of its descendant groups.
func (t *Tree) BottomUp() []model.Account {
	var groups []model.Account
	t.Walk(func(a model.Account, _ int) bool {
		if a.IsGroup {
			groups = append(groups, a)
		}
		return true
	})
	sort.SliceStable(groups, func(i, j int) bool {
		return t.depth[groups[i].ID] > t.depth[groups[j].ID]
	})
	return groups
}

// CheckLevels reports every account whose Level disagrees with its depth.
func (t *Tree) CheckLevels() error {
	var bad []string
	for _, a := range t.All() {
		if a.Level != t.depth[a.ID] {
			bad = append(bad, fmt.Sprintf("%s (level %d, depth %d)", a.Code, a.Level, t.depth[a.ID]))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrLevelMismatch, strings.Join(bad, ", "))
	}
	return nil
}

// CanAttach checks that childID may be placed under parentID without
// breaking the single-parent, no-cycle and group-parent rules. An empty
// parentID makes the child a root. childID may be a new, unknown account.
func (t *Tree) CanAttach(childID, parentID string) error {
	if parentID == "" {
		return nil
	}
	parent, ok := t.byID[parentID]
	if !ok {
		return fmt.Errorf("%w: parent %s", ErrNotFound, parentID)
	}
	if !parent.IsGroup {
		return fmt.Errorf("%w: %s", ErrParentNotGroup, parent.Code)
	}
	if childID == parentID {
		return fmt.Errorf("%w: account %s cannot be its own parent", ErrCycle, childID)
	}
	for _, a := range t.Ancestors(parentID) {
		if a.ID == childID {
			return fmt.Errorf("%w: %s is a descendant of %s", ErrCycle, parent.Code, t.byID[childID].Code)
		}
	}
	if t.depth[parentID]+1+t.subtreeHeight(childID) > t.maxDepth {
		return fmt.Errorf("%w (%d)", ErrHierarchyTooDeep, t.maxDepth)
	}
	return nil
}

// subtreeHeight is the number of levels below id (0 for leaves/unknown).
func (t *Tree) subtreeHeight(id string) int {
	if _, ok := t.byID[id]; !ok {
		return 0
	}
	base := t.depth[id]
	h := 0
	t.walkFrom(t.children[id], base+1, func(_ model.Account, d int) bool {
		if d-base > h {
			h = d - base
		}
		return true
	})
	return h
}

func (t *Tree) collect(ids []string) []model.Account {
	out := make([]model.Account, len(ids))
	for i, id := range ids {
		out[i] = t.byID[id]
	}
	return out
}

// CompareCodes orders dot-hierarchical codes segment by segment, numerically
// where both segments are numbers: "1.2" < "1.10" < "2".
func CompareCodes(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareSegment(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

func compareSegment(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil && an != bn {
		if an < bn {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
