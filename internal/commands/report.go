package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/report"
)

func newStatementCommand() *cobra.Command {
	var from, to, format string
	var noOpening bool
	cmd := &cobra.Command{
		Use:   "statement CODE",
		Short: "Print an account statement with running balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			q := report.StatementQuery{IncludeOpening: !noOpening}
			if q.From, err = parseDate("from", from); err != nil {
				return err
			}
			if q.To, err = parseDate("to", to); err != nil {
				return err
			}
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				a, err := b.engine.AccountByCode(ctx, args[0])
				if err != nil {
					return err
				}
				st, err := b.reports.AccountStatement(ctx, a.ID, q)
				if err != nil {
					return err
				}
				return report.Render(cmd.OutOrStdout(), f, st)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().BoolVar(&noOpening, "no-opening", false, "start the running balance at zero")
	cmd.Flags().StringVar(&format, "format", "text", "text, markdown or json")
	return cmd
}

func newTrialBalanceCommand() *cobra.Command {
	var (
		asOf, format string
		types        []string
		q            report.TrialBalanceQuery
	)
	cmd := &cobra.Command{
		Use:   "trial-balance",
		Short: "Print the trial balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			on, err := parseDate("as-of", asOf)
			if err != nil {
				return err
			}
			if on != nil {
				q.AsOf = *on
			}
			for _, t := range types {
				at := model.AccountType(strings.ToLower(strings.TrimSpace(t)))
				if !at.Valid() {
					return fmt.Errorf("--type: unknown account type %q", t)
				}
				q.Filter.Types = append(q.Filter.Types, at)
			}
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				tb, err := b.reports.TrialBalance(ctx, q)
				if err != nil {
					return err
				}
				return report.Render(cmd.OutOrStdout(), f, tb)
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "last day included, YYYY-MM-DD (default all)")
	cmd.Flags().BoolVar(&q.IncludeHierarchy, "hierarchy", false, "include group rows")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only accounts of these types")
	cmd.Flags().StringVar(&q.Filter.CodePrefix, "code-prefix", "", "only accounts under this code")
	cmd.Flags().BoolVar(&q.Filter.HideZero, "hide-zero", false, "hide accounts with a zero position")
	cmd.Flags().StringVar(&format, "format", "text", "text, markdown or json")
	return cmd
}

func newRecomputeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild every balance from the posted ledger records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				n, err := b.engine.RecomputeAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d balance(s) changed\n", n)
				if n > 0 {
					b.commit(ctx, fmt.Sprintf("recompute: %d balances", n))
				}
				return nil
			})
		},
	}
}

var errCheckFailed = errors.New("ledger check failed")

func newVerifyCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check stored balances and posted entries against the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				rep, err := b.reports.Verify(ctx)
				if err != nil {
					return err
				}
				if err := report.Render(cmd.OutOrStdout(), f, rep); err != nil {
					return err
				}
				if !rep.OK() {
					return errCheckFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "text", "text, markdown or json")
	return cmd
}
