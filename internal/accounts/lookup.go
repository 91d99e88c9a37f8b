package accounts

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/cleared-dev/ledgercore/internal/model"
)

// Index is a secondary lookup over posting accounts used by entry-line
// auto-complete: an exact code map plus a folded-name index. It never binds
// a line on an ambiguous match.
type Index struct {
	byCode map[string]model.Account
	codes  []model.Account // sorted by code
	names  []nameKey       // sorted by folded name
}

type nameKey struct {
	folded string
	acct   model.Account
}

// NewIndex indexes the posting (non-group) accounts of accts.
func NewIndex(accts []model.Account) *Index {
	x := &Index{byCode: make(map[string]model.Account)}
	for _, a := range accts {
		if a.IsGroup {
			continue
		}
		x.byCode[a.Code] = a
		x.codes = append(x.codes, a)
		x.names = append(x.names, nameKey{folded: fold(a.Name), acct: a})
	}
	sort.SliceStable(x.names, func(i, j int) bool {
		if x.names[i].folded == x.names[j].folded {
			return CompareCodes(x.names[i].acct.Code, x.names[j].acct.Code) < 0
		}
		return x.names[i].folded < x.names[j].folded
	})
	sort.SliceStable(x.codes, func(i, j int) bool {
		return CompareCodes(x.codes[i].Code, x.codes[j].Code) < 0
	})
	return x
}

// fold normalizes s for case- and width-insensitive matching.
func fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}

// Search returns candidate accounts for query: the exact code match, then
// name-prefix matches, then code-prefix matches, then other name-substring
// matches. limit <= 0 means no limit.
func (x *Index) Search(query string, limit int) []model.Account {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	fq := fold(q)

	var out []model.Account
	seen := make(map[string]bool)
	add := func(a model.Account) bool {
		if seen[a.ID] {
			return true
		}
		seen[a.ID] = true
		out = append(out, a)
		return limit <= 0 || len(out) < limit
	}

	if a, ok := x.byCode[q]; ok {
		if !add(a) {
			return out
		}
	}

	start := sort.Search(len(x.names), func(i int) bool { return x.names[i].folded >= fq })
	for i := start; i < len(x.names) && strings.HasPrefix(x.names[i].folded, fq); i++ {
		if !add(x.names[i].acct) {
			return out
		}
	}

	for _, a := range x.codes {
		if strings.HasPrefix(a.Code, q) {
			if !add(a) {
				return out
			}
		}
	}

	for _, n := range x.names {
		if strings.Contains(n.folded, fq) {
			if !add(n.acct) {
				return out
			}
		}
	}
	return out
}

// Bind resolves query to a single account. Only an exact code or a name
// substring matching exactly one account is accepted.
func (x *Index) Bind(query string) (model.Account, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return model.Account{}, false
	}
	if a, ok := x.byCode[q]; ok {
		return a, true
	}

	fq := fold(q)
	var match model.Account
	n := 0
	for _, k := range x.names {
		if strings.Contains(k.folded, fq) {
			match = k.acct
			n++
			if n > 1 {
				return model.Account{}, false
			}
		}
	}
	return match, n == 1
}

// BindLine sets the line's account from query, or clears the binding when
// query is empty, unknown or ambiguous. It reports whether a binding was made.
func (x *Index) BindLine(l *model.Line, query string) bool {
	a, ok := x.Bind(query)
	if !ok {
		l.AccountID = ""
		l.AccountCode = ""
		return false
	}
	l.AccountID = a.ID
	l.AccountCode = a.Code
	return true
}
