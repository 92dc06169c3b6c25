package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/exalotto/deployer/internal/journal"
)

// ErrNoJournalDSN is returned by journal commands when no database is
// configured. Only deployments fall back to an in-memory journal.
var ErrNoJournalDSN = errors.New("journal_dsn is required (use --journal-dsn or EXALOTTO_JOURNAL_DSN)")

// RunDetail is a run with its recorded transactions and units.
type RunDetail struct {
	Run          *journal.Run          `json:"run" yaml:"run"`
	Units        []journal.Unit        `json:"units" yaml:"units"`
	Transactions []journal.Transaction `json:"transactions" yaml:"transactions"`
}

func (a *app) journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Manage the deployment journal",
	}
	cmd.AddCommand(a.journalMigrateCmd(), a.journalShowCmd())
	return cmd
}

func (a *app) journalMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the journal schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.JournalDSN == "" {
				return ErrNoJournalDSN
			}
			pool, err := journal.Connect(cmd.Context(), a.cfg.JournalDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			version, err := journal.Migrate(pool)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stdout, "journal schema at version %d\n", version)
			return nil
		},
	}
}

func (a *app) journalShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "List recent runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if a.journal == nil && a.cfg.JournalDSN == "" {
				return ErrNoJournalDSN
			}
			repo, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer repo.Close()

			if len(args) == 0 {
				runs, err := repo.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if a.output == OutputTable {
					a.printRuns(runs)
					return nil
				}
				if runs == nil {
					runs = []*journal.Run{}
				}
				return a.print(runs)
			}

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			run, err := repo.GetRun(ctx, id)
			if err != nil {
				return err
			}
			units, err := repo.ListUnits(ctx, id)
			if err != nil {
				return err
			}
			txs, err := repo.ListTransactions(ctx, id)
			if err != nil {
				return err
			}
			return a.print(RunDetail{Run: run, Units: units, Transactions: txs})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func (a *app) printRuns(runs []*journal.Run) {
	w := newTable(a.stdout)
	printTableHeader(w, "ID", "COMMAND", "CHAIN", "STATUS", "STARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Command, r.ChainID, r.Status, r.StartedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}
