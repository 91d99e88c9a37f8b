package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/ledgercore/internal/accounts"
	"github.com/cleared-dev/ledgercore/internal/currency"
	"github.com/cleared-dev/ledgercore/internal/importer"
	"github.com/cleared-dev/ledgercore/internal/journal"
	"github.com/cleared-dev/ledgercore/internal/model"
	"github.com/cleared-dev/ledgercore/internal/store"
)

func newEntryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entry",
		Short: "Create, approve and inspect journal entries",
	}
	cmd.AddCommand(
		newEntryCreateCommand(),
		newEntryUpdateCommand(),
		newEntryShowCommand(),
		newEntryListCommand(),
		newEntryApproveCommand(),
		newEntryCancelCommand(),
		newEntryReverseCommand(),
		newEntryImportCommand(),
	)
	return cmd
}

// readEntryFile parses a YAML entry document from path ("-" for stdin) and
// binds its account references. Unknown or ambiguous references fail with
// the candidates found.
func readEntryFile(ctx context.Context, cmd *cobra.Command, b *books, path string) (model.JournalEntry, error) {
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return model.JournalEntry{}, err
		}
		defer f.Close()
		r = f
	}
	doc, err := journal.ParseDocument(r)
	if err != nil {
		return model.JournalEntry{}, err
	}
	idx, err := b.engine.Index(ctx)
	if err != nil {
		return model.JournalEntry{}, err
	}
	entry, unresolved, err := doc.Entry(idx)
	if err != nil {
		return model.JournalEntry{}, err
	}
	if len(unresolved) > 0 {
		return model.JournalEntry{}, unresolvedError(idx, unresolved)
	}
	return entry, nil
}

func unresolvedError(idx *accounts.Index, refs []string) error {
	var msgs []string
	for _, ref := range refs {
		var codes []string
		for _, a := range idx.Search(ref, 5) {
			codes = append(codes, a.Code+" "+a.Name)
		}
		if len(codes) == 0 {
			msgs = append(msgs, fmt.Sprintf("%q matches no account", ref))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%q is ambiguous: %s", ref, strings.Join(codes, ", ")))
	}
	return fmt.Errorf("cannot bind accounts: %s", strings.Join(msgs, "; "))
}

func newEntryCreateCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft entry from a YAML document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				entry, err := readEntryFile(ctx, cmd, b, file)
				if err != nil {
					return err
				}
				entryID, err := b.engine.CreateJournalEntry(ctx, entry)
				if err != nil {
					return err
				}
				created, err := b.engine.GetJournalEntry(ctx, entryID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created draft %s (%s)\n", created.EntryNumber, created.ID)
				b.commit(ctx, fmt.Sprintf("entry: create %s %s", created.EntryNumber, created.Description))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "entry document, - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEntryUpdateCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update ENTRY",
		Short: "Replace the contents of a draft entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				cur, err := b.engine.FindJournalEntry(ctx, args[0])
				if err != nil {
					return err
				}
				entry, err := readEntryFile(ctx, cmd, b, file)
				if err != nil {
					return err
				}
				if err := b.engine.UpdateJournalEntry(ctx, cur.ID, entry); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", cur.EntryNumber)
				b.commit(ctx, "entry: update "+cur.EntryNumber)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "entry document, - for stdin (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newEntryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ENTRY",
		Short: "Print an entry as a YAML document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				e, err := b.engine.FindJournalEntry(ctx, args[0])
				if err != nil {
					return err
				}
				return journal.WriteDocument(cmd.OutOrStdout(), journal.NewDocument(e))
			})
		},
	}
}

func newEntryListCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				entries, err := b.engine.ListJournalEntries(ctx, store.EntryFilter{Status: model.EntryStatus(status)})
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "NUMBER\tDATE\tSTATUS\tAMOUNT\tDESCRIPTION")
				for _, e := range entries {
					debits, _ := currency.Totals(e.Lines)
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.EntryNumber, e.Date.Format(time.DateOnly), e.Status, debits.StringFixed(2), e.Description)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only entries with this status (draft, posted, cancelled)")
	return cmd
}

func newEntryApproveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "approve ENTRY...",
		Short: "Post draft entries to the ledger, each in its own transaction",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				out := cmd.OutOrStdout()
				var ids []string
				failed := 0
				for _, ref := range args {
					e, err := b.engine.FindJournalEntry(ctx, ref)
					if err != nil {
						fmt.Fprintf(out, "FAILED %s: %v\n", ref, err)
						failed++
						continue
					}
					ids = append(ids, e.ID)
				}

				var posted []string
				for _, res := range b.engine.ApproveJournalEntries(ctx, ids) {
					if res.Err != nil {
						fmt.Fprintf(out, "FAILED %s: %v\n", res.EntryNumber, res.Err)
						failed++
						continue
					}
					fmt.Fprintf(out, "Posted %s\n", res.EntryNumber)
					posted = append(posted, res.EntryNumber)
				}
				if len(posted) > 0 {
					b.commit(ctx, "entry: approve "+strings.Join(posted, ", "))
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d entries not posted", failed, len(args))
				}
				return nil
			})
		},
	}
}

func newEntryCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ENTRY",
		Short: "Cancel a draft entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				e, err := b.engine.FindJournalEntry(ctx, args[0])
				if err != nil {
					return err
				}
				if err := b.engine.CancelJournalEntry(ctx, e.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", e.EntryNumber)
				b.commit(ctx, "entry: cancel "+e.EntryNumber)
				return nil
			})
		},
	}
}

func newEntryReverseCommand() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "reverse ENTRY",
		Short: "Create a draft that reverses a posted entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseDate("date", date)
			if err != nil {
				return err
			}
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				e, err := b.engine.FindJournalEntry(ctx, args[0])
				if err != nil {
					return err
				}
				var d time.Time
				if on != nil {
					d = *on
				}
				revID, err := b.engine.ReverseJournalEntry(ctx, e.ID, d)
				if err != nil {
					return err
				}
				rev, err := b.engine.GetJournalEntry(ctx, revID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created draft %s reversing %s\n", rev.EntryNumber, e.EntryNumber)
				b.commit(ctx, fmt.Sprintf("entry: reverse %s as %s", e.EntryNumber, rev.EntryNumber))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "reversal date, YYYY-MM-DD (default original date)")
	return cmd
}

func newEntryImportCommand() *cobra.Command {
	var format, bankCode, offsetCode string
	cmd := &cobra.Command{
		Use:   "import [FILE...]",
		Short: "Create draft entries from bank statement CSVs",
		Long: "Create one draft per statement row, between the bank account and an offset account.\n" +
			"Without files, every CSV in import/ is read and then moved to import/processed/.",
		RunE: func(cmd *cobra.Command, args []string) error {
			formats := importer.DefaultRegistry()
			var forced importer.Parser
			if format != "" {
				if forced = formats.Get(format); forced == nil {
					return fmt.Errorf("--format: unknown statement format %q", format)
				}
			}
			return withBooks(cmd, func(ctx context.Context, b *books) error {
				var acc importer.Accounts
				var err error
				if acc.Bank, err = b.engine.AccountByCode(ctx, bankCode); err != nil {
					return err
				}
				if acc.Offset, err = b.engine.AccountByCode(ctx, offsetCode); err != nil {
					return err
				}

				inbox := importer.NewInbox(b.dir)
				files, fromInbox := args, len(args) == 0
				if fromInbox {
					if files, err = inbox.Pending(); err != nil {
						return err
					}
				}
				existing, err := b.engine.ListJournalEntries(ctx, store.EntryFilter{})
				if err != nil {
					return err
				}
				seen := importer.References(existing, acc.Bank.ID)

				total := 0
				for _, path := range files {
					p := forced
					if p == nil {
						if p, err = formats.Detect(path); err != nil {
							return err
						}
					}
					n, err := importFile(ctx, b, p, path, acc, seen)
					total += n
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %d draft(s)\n", filepath.Base(path), n)
					if fromInbox {
						if err := inbox.Done(path); err != nil {
							return err
						}
					}
				}
				if total > 0 || fromInbox && len(files) > 0 {
					b.commit(ctx, fmt.Sprintf("import: %d drafts from %d file(s)", total, len(files)))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "statement format (default detected from the header)")
	cmd.Flags().StringVar(&bankCode, "bank", "", "code of the bank account the statement belongs to (required)")
	cmd.Flags().StringVar(&offsetCode, "offset", "", "code of the account that takes the other side (required)")
	_ = cmd.MarkFlagRequired("bank")
	_ = cmd.MarkFlagRequired("offset")
	return cmd
}

func importFile(ctx context.Context, b *books, p importer.Parser, path string, acc importer.Accounts, seen map[string]bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	txns, err := p.Parse(f)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	n := 0
	for _, draft := range importer.Drafts(txns, acc, seen) {
		if _, err := b.engine.CreateJournalEntry(ctx, draft); err != nil {
			return n, fmt.Errorf("%s: %s: %w", filepath.Base(path), draft.Description, err)
		}
		seen[draft.Lines[0].Description] = true
		n++
	}
	return n, nil
}
