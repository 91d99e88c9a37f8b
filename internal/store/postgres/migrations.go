package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type migration struct {
	Version string
	Name    string
	Up      string
}

// migrations are applied in order and recorded in ledger_migrations.
var migrations = []migration{
	{
		Version: "20250101000001",
		Name:    "create_accounts",
		Up: `
CREATE TABLE IF NOT EXISTS accounts (
    id         TEXT PRIMARY KEY,
    code       TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL,
    nature     TEXT NOT NULL,
    level      INT NOT NULL DEFAULT 1,
    is_group   BOOLEAN NOT NULL DEFAULT FALSE,
    parent_id  TEXT NOT NULL DEFAULT '',
    balance    NUMERIC NOT NULL DEFAULT 0,
    currency   TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_code ON accounts (code);
CREATE INDEX IF NOT EXISTS idx_accounts_parent ON accounts (parent_id);
`,
	},
	{
		Version: "20250101000002",
		Name:    "create_journal_entries",
		Up: `
CREATE TABLE IF NOT EXISTS journal_entries (
    id           TEXT PRIMARY KEY,
    entry_number TEXT NOT NULL,
    date         DATE,
    description  TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'draft',
    reversal_of  TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    posted_at    TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_entries_number ON journal_entries (entry_number);
CREATE INDEX IF NOT EXISTS idx_journal_entries_status ON journal_entries (status, date);

CREATE TABLE IF NOT EXISTS journal_entry_lines (
    entry_id      TEXT NOT NULL REFERENCES journal_entries (id) ON DELETE CASCADE,
    line_index    INT NOT NULL,
    account_id    TEXT NOT NULL DEFAULT '',
    account_code  TEXT NOT NULL DEFAULT '',
    debit         NUMERIC NOT NULL DEFAULT 0,
    credit        NUMERIC NOT NULL DEFAULT 0,
    exchange_rate NUMERIC NOT NULL DEFAULT 0,
    currency      TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (entry_id, line_index)
);

CREATE TABLE IF NOT EXISTS entry_sequences (
    year     INT PRIMARY KEY,
    last_seq INT NOT NULL
);
`,
	},
	{
		Version: "20250101000003",
		Name:    "create_gl_entries",
		Up: `
CREATE TABLE IF NOT EXISTS gl_entries (
    seq           BIGSERIAL UNIQUE,
    id            TEXT PRIMARY KEY,
    entry_id      TEXT NOT NULL REFERENCES journal_entries (id),
    entry_number  TEXT NOT NULL,
    line_index    INT NOT NULL,
    account_id    TEXT NOT NULL,
    date          DATE NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    debit         NUMERIC NOT NULL DEFAULT 0,
    credit        NUMERIC NOT NULL DEFAULT 0,
    currency      TEXT NOT NULL DEFAULT '',
    exchange_rate NUMERIC NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_gl_entries_account_date ON gl_entries (account_id, date, seq);
CREATE INDEX IF NOT EXISTS idx_gl_entries_entry ON gl_entries (entry_id);
`,
	},
}

// Migrate creates the ledger tables. Each migration runs in its own
// transaction and is skipped when already recorded.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS ledger_migrations (
    version    TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return fmt.Errorf("ledger/postgres: create migrations table: %w", err)
	}

	for _, m := range migrations {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var applied bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM ledger_migrations WHERE version = $1)`, m.Version,
			).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO ledger_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("ledger/postgres: migration %s failed: %w", m.Name, err)
		}
		s.logger.Debug("migration checked", zap.String("version", m.Version), zap.String("name", m.Name))
	}
	return nil
}
