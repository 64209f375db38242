package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/invoice-sync/internal/errors"
	"github.com/invoice-sync/internal/job"
	"github.com/invoice-sync/internal/models"
	"github.com/invoice-sync/internal/types"
)

var (
	direction    string
	yearsBack    int
	pollInterval time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Start, advance and inspect backfill sync jobs",
}

var syncStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Create a sync job for a company and direction",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		dir, err := types.ParseDirection(direction)
		if err != nil {
			return err
		}
		created, err := deps.Jobs.Start(ctx, companyID, dir, yearsBack)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, job.NewJobProgress(created))
	},
}

var syncTickCmd = &cobra.Command{
	Use:   "tick <job-id>",
	Short: "Process the next month of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		ticked, err := deps.Jobs.Tick(ctx, args[0])
		if err != nil && !job.IsNoProgress(err) {
			return err
		}
		if ticked == nil {
			if ticked, err = deps.Jobs.Get(ctx, args[0]); err != nil {
				return err
			}
		}
		return printJSON(os.Stdout, job.NewJobProgress(ticked))
	},
}

var syncRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a sync job (or resume the active one) and tick it until it ends",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if err := requireCompany(); err != nil {
			return err
		}
		dir, err := types.ParseDirection(direction)
		if err != nil {
			return err
		}

		current, err := deps.Jobs.Start(ctx, companyID, dir, yearsBack)
		if apperrors.HasCode(err, "SYNC_JOB_ACTIVE") {
			state, stateErr := deps.Jobs.State(ctx, companyID)
			if stateErr != nil || state.Active[dir] == nil {
				return err
			}
			if current, err = deps.Jobs.Get(ctx, state.Active[dir].JobID); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Resuming job %s\n", current.ID)
		} else if err != nil {
			return err
		}

		for !current.Status.IsTerminal() {
			ticked, err := deps.Jobs.Tick(ctx, current.ID)
			wait := false
			switch {
			case err == nil:
				current = ticked
				printProgressLine(current)
				wait = current.NextAttemptAt != nil && time.Now().Before(*current.NextAttemptAt)
			case job.IsNoProgress(err):
				wait = true
			default:
				return err
			}
			if !wait {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
			if current, err = deps.Jobs.Get(ctx, current.ID); err != nil {
				return err
			}
		}
		return printJSON(os.Stdout, job.NewJobProgress(current))
	},
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		cancelled, err := deps.Jobs.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, job.NewJobProgress(cancelled))
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show one job, or the recent jobs of --company",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		if len(args) == 1 {
			progress, err := deps.Jobs.GetProgress(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, progress)
		}
		if err := requireCompany(); err != nil {
			return err
		}
		jobs, err := deps.Jobs.ListByCompany(ctx, companyID, 20)
		if err != nil {
			return err
		}
		printJobTable(jobs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStartCmd, syncTickCmd, syncRunCmd, syncCancelCmd, syncStatusCmd)

	for _, c := range []*cobra.Command{syncStartCmd, syncRunCmd} {
		c.Flags().StringVarP(&direction, "direction", "d", "", "purchase or sales")
		c.Flags().IntVar(&yearsBack, "years", 0, "Months to backfill, in years (default: SYNC_YEARS_BACK)")
		_ = c.MarkFlagRequired("direction")
	}
	syncRunCmd.Flags().DurationVar(&pollInterval, "poll", 5*time.Second, "Wait between ticks of a job that is backing off")
}

func printProgressLine(j *models.SyncJob) {
	fmt.Fprintf(os.Stderr, "%s %d/%d months, %d found, %d saved, %d rejected\n",
		j.Status, j.ProcessedMonths, j.TotalMonths, j.InvoicesFound, j.InvoicesSaved, j.InvoicesRejected)
}

func printJobTable(jobs []*models.SyncJob) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDIRECTION\tSTATUS\tMONTHS\tFOUND\tSAVED\tREJECTED\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\n",
			j.ID, j.Direction, j.Status, j.ProcessedMonths, j.TotalMonths,
			j.InvoicesFound, j.InvoicesSaved, j.InvoicesRejected, j.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
}
