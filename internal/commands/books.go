package commands

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cleared-dev/ledgercore/internal/config"
	"github.com/cleared-dev/ledgercore/internal/events"
	"github.com/cleared-dev/ledgercore/internal/gitops"
	"github.com/cleared-dev/ledgercore/internal/ledger"
	"github.com/cleared-dev/ledgercore/internal/logging"
	"github.com/cleared-dev/ledgercore/internal/report"
	"github.com/cleared-dev/ledgercore/internal/store"
	"github.com/cleared-dev/ledgercore/internal/store/filestore"
	"github.com/cleared-dev/ledgercore/internal/store/memory"
	"github.com/cleared-dev/ledgercore/internal/store/postgres"
)

// books is an opened books directory with everything a command needs.
type books struct {
	dir     string
	cfg     *config.Config
	logger  *zap.Logger
	store   store.Store
	engine  *ledger.Engine
	reports *report.Generator
	closers []func() error
}

// openBooks loads the config of dir and wires the configured store, event
// sinks, engine and report generator.
func openBooks(ctx context.Context, dir string) (*books, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	cfg, err := config.LoadDir(abs)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	b := &books{dir: abs, cfg: cfg, logger: logger}

	if b.store, err = openStore(ctx, abs, cfg.Storage, logger); err != nil {
		return nil, err
	}
	b.closers = append(b.closers, b.store.Close)

	tol, err := cfg.Ledger.ToleranceDecimal()
	if err != nil {
		b.Close()
		return nil, err
	}
	b.engine, err = ledger.New(b.store,
		ledger.WithLogger(logger),
		ledger.WithEmitter(b.emitter()),
		ledger.WithBaseCurrency(cfg.Ledger.BaseCurrency),
		ledger.WithTolerance(tol),
		ledger.WithMaxDepth(cfg.Ledger.MaxDepth),
	)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.reports = report.New(b.store,
		report.WithLogger(logger),
		report.WithBaseCurrency(cfg.Ledger.BaseCurrency),
		report.WithTolerance(tol),
		report.WithMaxDepth(cfg.Ledger.MaxDepth),
	)
	return b, nil
}

func openStore(ctx context.Context, dir string, sc config.StorageConfig, logger *zap.Logger) (store.Store, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, sc.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return filestore.Open(filepath.Join(dir, sc.Dir), logger)
	}
}

// emitter builds the configured event sinks. The audit log is written
// synchronously; network publishers run behind an Async buffer that is
// drained on Close.
func (b *books) emitter() events.Emitter {
	ec := b.cfg.Events
	var sinks []events.Emitter
	if ec.AuditLog {
		sinks = append(sinks, events.NewAuditLog(b.dir))
	}

	var remote []events.Emitter
	var clients []func() error
	if ec.Redis.Addr != "" {
		rdb := events.NewRedisClient(ec.Redis.Addr, ec.Redis.Password)
		clients = append(clients, rdb.Close)
		remote = append(remote, events.NewRedisPublisher(rdb, ec.Redis.Channel))
	}
	if len(ec.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(ec.Kafka.Brokers, ec.Kafka.Topic))
		clients = append(clients, kp.Close)
		remote = append(remote, kp)
	}
	if len(remote) > 0 {
		async := events.NewAsync(events.Multi(remote...), ec.Buffer, b.logger)
		sinks = append(sinks, async)
		// closers run last to first: drain the buffer, then close clients.
		b.closers = append(b.closers, clients...)
		b.closers = append(b.closers, async.Close)
	}
	return events.Multi(sinks...)
}

// Close releases everything openBooks acquired, last acquired first.
func (b *books) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	_ = b.logger.Sync()
	return errors.Join(errs...)
}

// commit records the books directory in git when auto-commit is on.
func (b *books) commit(ctx context.Context, msg string) {
	if !b.cfg.Git.AutoCommit || !gitops.IsRepo(b.dir) {
		return
	}
	author := gitops.Author{Name: b.cfg.Git.AuthorName, Email: b.cfg.Git.AuthorEmail}
	hash, err := gitops.CommitAll(ctx, b.dir, msg, author)
	switch {
	case errors.Is(err, gitops.ErrNothingToCommit):
	case err != nil:
		b.logger.Warn("git commit failed", zap.String("message", msg), zap.Error(err))
	default:
		b.logger.Debug("committed", zap.String("hash", hash), zap.String("message", msg))
	}
}

// withBooks opens the books named by --dir for the duration of fn.
func withBooks(cmd *cobra.Command, fn func(ctx context.Context, b *books) error) error {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	b, err := openBooks(ctx, dir)
	if err != nil {
		return err
	}
	err = fn(ctx, b)
	if cerr := b.Close(); err == nil {
		err = cerr
	}
	return err
}

func parseDate(flag, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("--%s: want YYYY-MM-DD, got %q", flag, s)
	}
	return &t, nil
}
