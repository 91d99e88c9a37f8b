// Package report builds read-only views of the ledger: account statements
// with running balances, trial balances and a consistency check. Reports are
// computed from posted ledger records, which are immutable, so they may run
// concurrently with postings.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// Generator computes reports from a store.
type Generator struct {
	store     store.Store
	logger    *zap.Logger
	base      string
	tolerance decimal.Decimal
	maxDepth  int
}

// Option configures a Generator.
type Option func(*Generator)

func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithBaseCurrency sets the currency amounts are displayed in.
func WithBaseCurrency(code string) Option {
	return func(g *Generator) { g.base = strings.ToUpper(code) }
}

func WithTolerance(tol decimal.Decimal) Option {
	return func(g *Generator) { g.tolerance = tol }
}

func WithMaxDepth(n int) Option {
	return func(g *Generator) { g.maxDepth = n }
}

// New returns a Generator reading from s.
func New(s store.Store, opts ...Option) *Generator {
	g := &Generator{
		store:     s,
		logger:    zap.NewNop(),
		base:      "USD",
		tolerance: currency.DefaultTolerance,
		maxDepth:  accounts.DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(g)
	}
	if !g.tolerance.IsPositive() {
		g.tolerance = currency.DefaultTolerance
	}
	if g.maxDepth <= 0 {
		g.maxDepth = accounts.DefaultMaxDepth
	}
	return g
}

// AccountRef identifies an account in a report.
type AccountRef struct {
	ID     string            `json:"id"`
	Code   string            `json:"code"`
	Name   string            `json:"name"`
	Type   model.AccountType `json:"type"`
	Nature model.Nature      `json:"nature"`
}

func refOf(a model.Account) AccountRef {
	return AccountRef{ID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type, Nature: a.Nature}
}

func (g *Generator) tree(ctx context.Context) (*accounts.Tree, []model.DataIntegrityWarning, error) {
	accts, err := g.store.ListAccounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	tree, warnings, err := accounts.Build(accts, g.maxDepth)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range accts {
		warnings = append(warnings, a.Integrity...)
	}
	return tree, warnings, nil
}

// warn logs every warning. The stored data is never touched.
func (g *Generator) warn(warnings []model.DataIntegrityWarning) {
	for _, w := range warnings {
		g.logger.Warn("data integrity warning",
			zap.String("entity", w.Entity),
			zap.String("id", w.ID),
			zap.String("field", w.Field),
			zap.String("raw", w.Raw),
		)
	}
}

// dayStart truncates t to midnight UTC of its calendar day.
func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dayAfter is the exclusive bound that includes the whole day of t.
func dayAfter(t time.Time) time.Time {
	return dayStart(t).AddDate(0, 0, 1)
}
