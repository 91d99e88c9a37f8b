// Package ledger is the posting engine: it owns the chart of accounts, the
// journal entry state machine and the roll-up of group balances on top of a
// transactional store.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/events"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

// DefaultBaseCurrency is used when no base currency is configured.
const DefaultBaseCurrency = "USD"

// Engine serializes balance mutations per account and runs every state
// change in a single store transaction. Events are emitted after commit.
type Engine struct {
	store      store.Store
	logger     *zap.Logger
	emitter    events.Emitter
	base       string
	normalizer *currency.Normalizer
	tolerance  decimal.Decimal
	maxDepth   int
	now        func() time.Time

	// structure is held exclusively by operations that change the shape of
	// the tree and shared by postings.
	structure sync.RWMutex
	locks     *lockTable
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithEmitter(em events.Emitter) Option {
	return func(e *Engine) { e.emitter = em }
}

func WithBaseCurrency(code string) Option {
	return func(e *Engine) { e.base = code }
}

// WithTolerance sets the absolute balance tolerance used by the validator.
func WithTolerance(tol decimal.Decimal) Option {
	return func(e *Engine) { e.tolerance = tol }
}

// WithMaxDepth bounds the account hierarchy depth.
func WithMaxDepth(n int) Option {
	return func(e *Engine) { e.maxDepth = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine over s.
func New(s store.Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:     s,
		logger:    zap.NewNop(),
		emitter:   events.Nop{},
		base:      DefaultBaseCurrency,
		tolerance: currency.DefaultTolerance,
		maxDepth:  accounts.DefaultMaxDepth,
		now:       time.Now,
		locks:     newLockTable(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.emitter == nil {
		e.emitter = events.Nop{}
	}
	n, err := currency.NewNormalizer(e.base)
	if err != nil {
		return nil, fmt.Errorf("ledger: base currency: %w", err)
	}
	e.normalizer = n
	e.base = n.Base
	if !e.tolerance.IsPositive() {
		return nil, fmt.Errorf("ledger: tolerance must be positive, got %s", e.tolerance)
	}
	if e.maxDepth <= 0 {
		return nil, fmt.Errorf("ledger: max depth must be positive, got %d", e.maxDepth)
	}
	return e, nil
}

// BaseCurrency returns the currency balances are kept in.
func (e *Engine) BaseCurrency() string { return e.base }

// Tolerance returns the balance tolerance.
func (e *Engine) Tolerance() decimal.Decimal { return e.tolerance }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

func (e *Engine) today() time.Time {
	return e.now().UTC()
}

// buildTree indexes accts and logs orphaned parents.
func (e *Engine) buildTree(accts []model.Account) (*accounts.Tree, error) {
	tree, warnings, err := accounts.Build(accts, e.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHierarchyCorrupt, err)
	}
	for _, w := range warnings {
		e.logger.Warn("data integrity warning",
			zap.String("entity", w.Entity),
			zap.String("id", w.ID),
			zap.String("field", w.Field),
			zap.String("raw", w.Raw),
		)
	}
	return tree, nil
}

// Tree returns the current chart of accounts.
func (e *Engine) Tree(ctx context.Context) (*accounts.Tree, error) {
	accts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return e.buildTree(accts)
}

// Index returns a lookup index over the current posting accounts.
func (e *Engine) Index(ctx context.Context) (*accounts.Index, error) {
	accts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return accounts.NewIndex(accts), nil
}

func txTree(ctx context.Context, e *Engine, tx store.Tx) (*accounts.Tree, []model.Account, error) {
	accts, err := tx.ListAccounts(ctx)
	if err != nil {
		return nil, nil, err
	}
	tree, err := e.buildTree(accts)
	if err != nil {
		return nil, nil, err
	}
	return tree, accts, nil
}

// balanceChange is a committed balance mutation, turned into an event.
type balanceChange struct {
	AccountID string
	Old, New  decimal.Decimal
}

// emit delivers ev and logs, never returns, a failure.
func (e *Engine) emit(ctx context.Context, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("event emitter panicked", zap.String("kind", string(ev.Kind)), zap.Any("panic", r))
		}
	}()
	if err := e.emitter.Emit(ctx, ev); err != nil {
		e.logger.Warn("event emission failed", zap.String("kind", string(ev.Kind)), zap.String("key", ev.Key()), zap.Error(err))
	}
}

func (e *Engine) emitBalances(ctx context.Context, entry model.JournalEntry, changes []balanceChange) {
	ts := e.today()
	for _, c := range changes {
		e.emit(ctx, events.Event{
			Kind:        events.KindBalanceUpdated,
			EntryID:     entry.ID,
			EntryNumber: entry.EntryNumber,
			AccountID:   c.AccountID,
			OldBalance:  c.Old,
			NewBalance:  c.New,
			Timestamp:   ts,
		})
	}
}

func mapNotFound(err error, sentinel error, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}
