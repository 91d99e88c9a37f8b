// Package postgres implements store.Store on PostgreSQL through pgx. Amount
// columns are NUMERIC and are read back as text so that stored NaN values
// surface as data-integrity warnings instead of scan errors.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store using a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Open connects to dsn, retrying with exponential backoff.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: parse dsn: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	const maxRetries = 5
	delay := 500 * time.Millisecond
	for i := 1; ; i++ {
		pool, err := connect(ctx, cfg)
		if err == nil {
			logger.Info("connected to postgres", zap.String("host", cfg.ConnConfig.Host))
			return New(pool, logger), nil
		}
		if i == maxRetries {
			return nil, fmt.Errorf("ledger/postgres: connect after %d attempts: %w", maxRetries, err)
		}
		logger.Warn("postgres connection failed, retrying", zap.Int("attempt", i), zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func connect(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunInTx runs fn in a READ COMMITTED transaction. Rows touched through the
// *ForUpdate methods stay locked until commit or rollback.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("ledger/postgres: begin: %w", err)
	}
	defer func() { _ = pgtx.Rollback(ctx) }()

	if err := fn(ctx, &tx{q: pgtx, logger: s.logger}); err != nil {
		return err
	}
	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger/postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	return getAccount(ctx, s.pool, s.logger, id, false)
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return listAccounts(ctx, s.pool, s.logger)
}

func (s *Store) GetEntry(ctx context.Context, id string) (model.JournalEntry, error) {
	return getEntry(ctx, s.pool, id, false)
}

func (s *Store) ListEntries(ctx context.Context, f store.EntryFilter) ([]model.JournalEntry, error) {
	var where []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("date < $%d", len(args)))
	}
	q := `SELECT ` + entryColumns + ` FROM journal_entries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY entry_number, id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list entries: %w", err)
	}
	for i := range entries {
		if entries[i].Lines, err = getLines(ctx, s.pool, entries[i].ID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *Store) Records(ctx context.Context, rq store.RecordQuery) ([]model.LedgerRecord, error) {
	var where []string
	var args []any
	if len(rq.AccountIDs) > 0 {
		args = append(args, rq.AccountIDs)
		where = append(where, fmt.Sprintf("g.account_id = ANY($%d)", len(args)))
	}
	if rq.From != nil {
		args = append(args, *rq.From)
		where = append(where, fmt.Sprintf("g.date >= $%d", len(args)))
	}
	if rq.To != nil {
		args = append(args, *rq.To)
		where = append(where, fmt.Sprintf("g.date < $%d", len(args)))
	}
	q := `SELECT ` + recordColumns + ` FROM gl_entries g`
	if rq.PostedOnly {
		q += ` JOIN journal_entries e ON e.id = g.entry_id`
		where = append(where, `e.status = 'posted'`)
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY g.seq`
	return queryRecords(ctx, s.pool, s.logger, q, args...)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// tx implements store.Tx on a pgx transaction.
type tx struct {
	q      pgx.Tx
	logger *zap.Logger
}

func (t *tx) GetAccount(ctx context.Context, id string) (model.Account, error) {
	return getAccount(ctx, t.q, t.logger, id, false)
}

func (t *tx) GetAccountForUpdate(ctx context.Context, id string) (model.Account, error) {
	return getAccount(ctx, t.q, t.logger, id, true)
}

func (t *tx) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return listAccounts(ctx, t.q, t.logger)
}

func (t *tx) CreateAccount(ctx context.Context, a model.Account) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO accounts (id, code, name, type, nature, level, is_group, parent_id, balance, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10)`,
		a.ID, a.Code, a.Name, string(a.Type), string(a.Nature), a.Level, a.IsGroup, a.ParentID,
		a.Balance.String(), a.Currency,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account %s (%s)", store.ErrExists, a.ID, a.Code)
	}
	if err != nil {
		return fmt.Errorf("ledger/postgres: create account: %w", err)
	}
	return nil
}

func (t *tx) UpdateAccount(ctx context.Context, a model.Account) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE accounts
		SET code = $2, name = $3, type = $4, nature = $5, level = $6, is_group = $7,
		    parent_id = $8, balance = $9::numeric, currency = $10, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.Code, a.Name, string(a.Type), string(a.Nature), a.Level, a.IsGroup, a.ParentID,
		a.Balance.String(), a.Currency,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account code %s", store.ErrExists, a.Code)
	}
	if err != nil {
		return fmt.Errorf("ledger/postgres: update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, a.ID)
	}
	return nil
}

func (t *tx) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE accounts SET balance = $2::numeric, updated_at = NOW() WHERE id = $1`,
		id, balance.String(),
	)
	if err != nil {
		return fmt.Errorf("ledger/postgres: set balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	return nil
}

func (t *tx) GetEntry(ctx context.Context, id string) (model.JournalEntry, error) {
	return getEntry(ctx, t.q, id, false)
}

func (t *tx) GetEntryForUpdate(ctx context.Context, id string) (model.JournalEntry, error) {
	return getEntry(ctx, t.q, id, true)
}

func (t *tx) CreateEntry(ctx context.Context, e model.JournalEntry) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO journal_entries (id, entry_number, date, description, status, reversal_of, created_at, updated_at, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.EntryNumber, nullTime(e.Date), e.Description, string(e.Status), e.ReversalOf,
		e.CreatedAt, e.UpdatedAt, nullTime(e.PostedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: entry %s (%s)", store.ErrExists, e.ID, e.EntryNumber)
	}
	if err != nil {
		return fmt.Errorf("ledger/postgres: create entry: %w", err)
	}
	return t.insertLines(ctx, e)
}

func (t *tx) UpdateEntry(ctx context.Context, e model.JournalEntry) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE journal_entries
		SET date = $2, description = $3, status = $4, reversal_of = $5, updated_at = $6, posted_at = $7
		WHERE id = $1`,
		e.ID, nullTime(e.Date), e.Description, string(e.Status), e.ReversalOf, e.UpdatedAt, nullTime(e.PostedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger/postgres: update entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: entry %s", store.ErrNotFound, e.ID)
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM journal_entry_lines WHERE entry_id = $1`, e.ID); err != nil {
		return fmt.Errorf("ledger/postgres: replace lines: %w", err)
	}
	return t.insertLines(ctx, e)
}

func (t *tx) insertLines(ctx context.Context, e model.JournalEntry) error {
	if len(e.Lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, l := range e.Lines {
		batch.Queue(`
			INSERT INTO journal_entry_lines
			    (entry_id, line_index, account_id, account_code, debit, credit, exchange_rate, currency, description)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9)`,
			e.ID, i, l.AccountID, l.AccountCode, l.Debit.String(), l.Credit.String(), l.ExchangeRate.String(),
			l.Currency, l.Description,
		)
	}
	if err := t.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("ledger/postgres: insert lines: %w", err)
	}
	return nil
}

func (t *tx) ReversalsOf(ctx context.Context, entryID string) ([]model.JournalEntry, error) {
	rows, err := t.q.Query(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE reversal_of = $1 ORDER BY entry_number, id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: reversals: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: reversals: %w", err)
	}
	for i := range entries {
		if entries[i].Lines, err = getLines(ctx, t.q, entries[i].ID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (t *tx) NextEntrySeq(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.q.QueryRow(ctx, `
		INSERT INTO entry_sequences (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = entry_sequences.last_seq + 1
		RETURNING last_seq`, year,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("ledger/postgres: next entry seq: %w", err)
	}
	return seq, nil
}

func (t *tx) AppendRecords(ctx context.Context, recs []model.LedgerRecord) error {
	for i := range recs {
		r := &recs[i]
		err := t.q.QueryRow(ctx, `
			INSERT INTO gl_entries
			    (id, entry_id, entry_number, line_index, account_id, date, description,
			     debit, credit, currency, exchange_rate, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11::numeric, $12)
			RETURNING seq`,
			r.ID, r.EntryID, r.EntryNumber, r.LineIndex, r.AccountID, r.Date, r.Description,
			r.Debit.String(), r.Credit.String(), r.Currency, r.ExchangeRate.String(), r.CreatedAt,
		).Scan(&r.Seq)
		if err != nil {
			return fmt.Errorf("ledger/postgres: append record %d: %w", i, err)
		}
	}
	return nil
}

func (t *tx) RecordsForEntry(ctx context.Context, entryID string) ([]model.LedgerRecord, error) {
	return queryRecords(ctx, t.q, t.logger,
		`SELECT `+recordColumns+` FROM gl_entries g WHERE g.entry_id = $1 ORDER BY g.seq`, entryID)
}

const accountColumns = `id, code, name, type, nature, level, is_group, parent_id, balance::text, currency`

func scanAccount(row pgx.CollectableRow) (model.Account, error) {
	var a model.Account
	var typ, nature, balance string
	err := row.Scan(&a.ID, &a.Code, &a.Name, &typ, &nature, &a.Level, &a.IsGroup, &a.ParentID, &balance, &a.Currency)
	if err != nil {
		return model.Account{}, err
	}
	a.Type = model.AccountType(typ)
	a.Nature = model.Nature(nature)
	bal, warn := currency.ParseAmount(balance)
	if warn != nil {
		warn.Entity, warn.ID, warn.Field = "account", a.ID, "balance"
		a.Integrity = append(a.Integrity, *warn)
	}
	a.Balance = bal
	return a, nil
}

func getAccount(ctx context.Context, q querier, logger *zap.Logger, id string, forUpdate bool) (model.Account, error) {
	sql := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return model.Account{}, fmt.Errorf("ledger/postgres: get account: %w", err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("%w: account %s", store.ErrNotFound, id)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("ledger/postgres: get account: %w", err)
	}
	logWarnings(logger, a.Integrity)
	return a, nil
}

func listAccounts(ctx context.Context, q querier, logger *zap.Logger) ([]model.Account, error) {
	rows, err := q.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list accounts: %w", err)
	}
	accts, err := pgx.CollectRows(rows, scanAccount)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: list accounts: %w", err)
	}
	for _, a := range accts {
		logWarnings(logger, a.Integrity)
	}
	return accts, nil
}

const entryColumns = `id, entry_number, date, description, status, reversal_of, created_at, updated_at, posted_at`

func scanEntry(row pgx.CollectableRow) (model.JournalEntry, error) {
	var e model.JournalEntry
	var status string
	var date, posted *time.Time
	if err := row.Scan(&e.ID, &e.EntryNumber, &date, &e.Description, &status, &e.ReversalOf, &e.CreatedAt, &e.UpdatedAt, &posted); err != nil {
		return model.JournalEntry{}, err
	}
	e.Status = model.EntryStatus(status)
	if date != nil {
		e.Date = date.UTC()
	}
	if posted != nil {
		e.PostedAt = *posted
	}
	return e, nil
}

func getEntry(ctx context.Context, q querier, id string, forUpdate bool) (model.JournalEntry, error) {
	sql := `SELECT ` + entryColumns + ` FROM journal_entries WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return model.JournalEntry{}, fmt.Errorf("ledger/postgres: get entry: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEntry)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.JournalEntry{}, fmt.Errorf("%w: entry %s", store.ErrNotFound, id)
	}
	if err != nil {
		return model.JournalEntry{}, fmt.Errorf("ledger/postgres: get entry: %w", err)
	}
	if e.Lines, err = getLines(ctx, q, id); err != nil {
		return model.JournalEntry{}, err
	}
	return e, nil
}

func getLines(ctx context.Context, q querier, entryID string) ([]model.Line, error) {
	rows, err := q.Query(ctx, `
		SELECT account_id, account_code, debit::text, credit::text, exchange_rate::text, currency, description
		FROM journal_entry_lines WHERE entry_id = $1 ORDER BY line_index`, entryID)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: get lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Line, error) {
		var l model.Line
		var debit, credit, rate string
		if err := row.Scan(&l.AccountID, &l.AccountCode, &debit, &credit, &rate, &l.Currency, &l.Description); err != nil {
			return model.Line{}, err
		}
		l.Debit, _ = currency.ParseAmount(debit)
		l.Credit, _ = currency.ParseAmount(credit)
		l.ExchangeRate, _ = currency.ParseAmount(rate)
		return l, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: get lines: %w", err)
	}
	return lines, nil
}

const recordColumns = `g.id, g.seq, g.entry_id, g.entry_number, g.line_index, g.account_id, g.date, g.description,
	g.debit::text, g.credit::text, g.currency, g.exchange_rate::text, g.created_at`

func queryRecords(ctx context.Context, q querier, logger *zap.Logger, sql string, args ...any) ([]model.LedgerRecord, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: query records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LedgerRecord, error) {
		var r model.LedgerRecord
		var debit, credit, rate string
		if err := row.Scan(&r.ID, &r.Seq, &r.EntryID, &r.EntryNumber, &r.LineIndex, &r.AccountID, &r.Date,
			&r.Description, &debit, &credit, &r.Currency, &rate, &r.CreatedAt); err != nil {
			return model.LedgerRecord{}, err
		}
		r.Date = r.Date.UTC()
		for _, f := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{{"debit", debit, &r.Debit}, {"credit", credit, &r.Credit}, {"exchange_rate", rate, &r.ExchangeRate}} {
			d, warn := currency.ParseAmount(f.raw)
			if warn != nil {
				warn.Entity, warn.ID, warn.Field = "gl_entry", r.ID, f.name
				r.Integrity = append(r.Integrity, *warn)
			}
			*f.dst = d
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ledger/postgres: query records: %w", err)
	}
	for _, r := range recs {
		logWarnings(logger, r.Integrity)
	}
	return recs, nil
}

func logWarnings(logger *zap.Logger, ws []model.DataIntegrityWarning) {
	for _, w := range ws {
		logger.Warn("data integrity warning",
			zap.String("entity", w.Entity),
			zap.String("id", w.ID),
			zap.String("field", w.Field),
			zap.String("raw", w.Raw),
		)
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
