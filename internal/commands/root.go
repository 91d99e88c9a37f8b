package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledgercore/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ledgercore",
		Short:   "Double-entry ledger with a hierarchical chart of accounts",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("dir", ".", "books directory")

	rootCmd.AddCommand(
		newInitCommand(),
		newAccountCommand(),
		newEntryCommand(),
		newStatementCommand(),
		newTrialBalanceCommand(),
		newRecomputeCommand(),
		newVerifyCommand(),
	)

	return rootCmd
}
