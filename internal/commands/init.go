package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/config"
	"github.com/cleared-dev/ledgercore/internal/gitops"
	"github.com/cleared-dev/ledgercore/internal/ledger"
	"github.com/cleared-dev/ledgercore/internal/store/filestore"
)

func newInitCommand() *cobra.Command {
	var name string
	var baseCurrency string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize new books with a starter chart of accounts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd.Context(), cmd.OutOrStdout(), absDir, name, baseCurrency)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "business name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&baseCurrency, "base-currency", "USD", "ISO 4217 base currency")

	return cmd
}

func runInit(ctx context.Context, out io.Writer, dir, name, baseCurrency string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	for _, d := range []string{"accounts", "journal", "ledger", "logs", "import"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	cfg := config.Default(name)
	cfg.Ledger.BaseCurrency = strings.ToUpper(strings.TrimSpace(baseCurrency))
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Seed the starter chart through the engine so it passes the same checks
	// as accounts added later.
	s, err := filestore.Open(dir, nil)
	if err != nil {
		return err
	}
	defer s.Close()
	eng, err := ledger.New(s, ledger.WithBaseCurrency(cfg.Ledger.BaseCurrency))
	if err != nil {
		return err
	}
	chart := accounts.DefaultChart(cfg.Ledger.BaseCurrency)
	for _, a := range chart {
		if _, err := eng.CreateAccount(ctx, a); err != nil {
			return fmt.Errorf("writing chart of accounts: %w", err)
		}
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("writing books: %w", err)
	}

	if err := gitops.Init(ctx, dir); err != nil {
		return fmt.Errorf("git init: %w", err)
	}
	author := gitops.Author{Name: cfg.Git.AuthorName, Email: cfg.Git.AuthorEmail}
	hash, err := gitops.CommitAll(ctx, dir, "init: Initialize "+name, author)
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	fmt.Fprintf(out, "Initialized books for %s at %s with %d accounts (%s)\n", name, dir, len(chart), hash)
	return nil
}
