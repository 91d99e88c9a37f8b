package commands

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledgercore/internal/model"
)

func newAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the chart of accounts",
	}
	cmd.AddCommand(
		newAccountListCommand(),
		newAccountAddCommand(),
		newAccountMoveCommand(),
		newAccountFindCommand(),
	)
	return cmd
}

func newAccountListCommand() *cobra.Command {
	var asTree bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts with their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				tree, err := b.engine.Tree(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "CODE\tNAME\tTYPE\tNATURE\tBALANCE")
				tree.Walk(func(a model.Account, depth int) bool {
					code := a.Code
					if asTree {
						code = strings.Repeat("  ", depth-1) + code
					}
					name := a.Name
					if a.IsGroup {
						name += "/"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", code, name, a.Type, a.Nature, a.Balance.StringFixed(2))
					return true
				})
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asTree, "tree", false, "indent accounts by level")
	return cmd
}

func newAccountAddCommand() *cobra.Command {
	var (
		a      model.Account
		typ    string
		nature string
		parent string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an account to the chart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				a.Type = model.AccountType(strings.ToLower(typ))
				a.Nature = model.Nature(strings.ToLower(nature))
				if parent != "" {
					p, err := b.engine.AccountByCode(ctx, parent)
					if err != nil {
						return err
					}
					a.ParentID = p.ID
				}
				created, err := b.engine.CreateAccount(ctx, a)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s (%s, %s)\n", created.Code, created.Name, created.Type, created.Nature)
				b.commit(ctx, fmt.Sprintf("account: add %s %s", created.Code, created.Name))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&a.Code, "code", "", "account code, e.g. 5.2.3 (required)")
	cmd.Flags().StringVar(&a.Name, "name", "", "account name (required)")
	cmd.Flags().StringVar(&typ, "type", "", "asset, liability, equity, revenue or expense (required)")
	cmd.Flags().StringVar(&nature, "nature", "", "debit or credit (default from type)")
	cmd.Flags().BoolVar(&a.IsGroup, "group", false, "group account that only rolls up its children")
	cmd.Flags().StringVar(&parent, "parent", "", "parent group code")
	cmd.Flags().StringVar(&a.Currency, "currency", "", "account currency (default base currency)")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newAccountMoveCommand() *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "move CODE",
		Short: "Move an account and its subtree under another group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				a, err := b.engine.AccountByCode(ctx, args[0])
				if err != nil {
					return err
				}
				parentID, target := "", "the top level"
				if parent != "" {
					p, err := b.engine.AccountByCode(ctx, parent)
					if err != nil {
						return err
					}
					parentID, target = p.ID, p.Code
				}
				if err := b.engine.MoveAccount(ctx, a.ID, parentID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved %s under %s\n", a.Code, target)
				b.commit(ctx, fmt.Sprintf("account: move %s under %s", a.Code, target))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent group code (empty for top level)")
	return cmd
}

func newAccountFindCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "find QUERY",
		Short: "Find posting accounts by code prefix or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				idx, err := b.engine.Index(ctx)
				if err != nil {
					return err
				}
				matches := idx.Search(args[0], limit)
				if len(matches) == 0 {
					return fmt.Errorf("no account matches %q", args[0])
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				for _, a := range matches {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Code, a.Name, a.Type)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of matches")
	return cmd
}
