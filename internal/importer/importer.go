// Package importer turns bank statement exports into draft journal entries.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledgercore/internal/model"
)

// Transaction is one row of a bank statement. Amount is negative for money
// leaving the account.
type Transaction struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Reference   string // stable per row, used to skip re-imports
	Type        string // bank transaction type (ACH_DEBIT, etc.)
}

// Parser reads one bank's CSV export.
type Parser interface {
	Format() string
	Detect(header []string) bool
	Parse(r io.Reader) ([]Transaction, error)
}

// ErrUnknownFormat is returned when no parser claims a file.
var ErrUnknownFormat = errors.New("importer: unknown statement format")

// Registry maps format names to parsers.
type Registry struct {
	byName map[string]Parser
	order  []Parser
}

func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{byName: make(map[string]Parser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// DefaultRegistry knows every built-in format.
func DefaultRegistry() *Registry {
	return NewRegistry(&ChaseParser{})
}

// Register adds p. Format names are case-insensitive and must be unique.
func (r *Registry) Register(p Parser) {
	name := strings.ToLower(p.Format())
	if _, dup := r.byName[name]; dup {
		panic("importer: format registered twice: " + name)
	}
	r.byName[name] = p
	r.order = append(r.order, p)
}

// Get returns the parser named format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.byName[strings.ToLower(strings.TrimSpace(format))]
}

// Detect picks the parser whose header matches the first row of the file
// at path.
func (r *Registry) Detect(path string) (Parser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	for _, p := range r.order {
		if p.Detect(header) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
}

// Reference builds a row reference like chase_20250103_GITHUBPROS from the
// first ten alphanumerics of the description.
func Reference(format string, date time.Time, desc string) string {
	var b strings.Builder
	for _, r := range desc {
		if b.Len() == 10 {
			break
		}
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return format + "_" + date.Format("20060102") + "_" + b.String()
}

// Accounts names the two sides of every imported transaction.
type Accounts struct {
	Bank   model.Account // the account the statement belongs to
	Offset model.Account // where the other side lands until reclassified
}

// Drafts builds one two-line draft per non-zero transaction. Money coming in
// debits the bank account; money going out credits it. Transactions whose
// reference is in seen are skipped.
func Drafts(txns []Transaction, acc Accounts, seen map[string]bool) []model.JournalEntry {
	var out []model.JournalEntry
	for _, t := range txns {
		if t.Amount.IsZero() || seen[t.Reference] {
			continue
		}
		amt := t.Amount.Abs()
		bank := model.Line{AccountID: acc.Bank.ID, AccountCode: acc.Bank.Code, Description: t.Reference}
		offset := model.Line{AccountID: acc.Offset.ID, AccountCode: acc.Offset.Code}
		if t.Amount.IsPositive() {
			bank.Debit, offset.Credit = amt, amt
		} else {
			bank.Credit, offset.Debit = amt, amt
		}
		out = append(out, model.JournalEntry{
			Date:        t.Date,
			Description: t.Description,
			Lines:       []model.Line{bank, offset},
		})
	}
	return out
}

// References collects the bank line references of existing entries so a
// statement can be imported twice without duplicating drafts.
func References(entries []model.JournalEntry, bankID string) map[string]bool {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Status == model.StatusCancelled {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID == bankID && l.Description != "" {
				seen[l.Description] = true
			}
		}
	}
	return seen
}

// Inbox is the import/ directory of a books directory. Statements dropped
// there are imported by `entry import` and then moved to import/processed/.
type Inbox struct {
	dir string
}

func NewInbox(booksDir string) Inbox {
	return Inbox{dir: filepath.Join(booksDir, "import")}
}

func (in Inbox) Dir() string { return in.dir }

// Pending lists the CSV files waiting in the inbox, sorted by name. A
// missing inbox is empty.
func (in Inbox) Pending() ([]string, error) {
	ents, err := os.ReadDir(in.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading import dir: %w", err)
	}
	var paths []string
	for _, e := range ents {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			paths = append(paths, filepath.Join(in.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Done moves an imported file into import/processed/.
func (in Inbox) Done(path string) error {
	done := filepath.Join(in.dir, "processed")
	if err := os.MkdirAll(done, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}
	name := filepath.Base(path)
	if err := os.Rename(path, filepath.Join(done, name)); err != nil {
		return fmt.Errorf("moving %s to processed: %w", name, err)
	}
	return nil
}
