package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/ccfpipelines/icafixsubmit/internal/config"
	"github.com/ccfpipelines/icafixsubmit/internal/observability"
	"github.com/ccfpipelines/icafixsubmit/pkg/output"
	"github.com/ccfpipelines/icafixsubmit/pkg/registry"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

var statusCmd = &cobra.Command{
	Use:   "status <project> <subject> <classifier>",
	Short: "Show whether a session has jobs queued or running",
	Long: `Ask the scheduler about every job recorded for a session and report
whether a new submission would be refused. Records whose jobs have left the
scheduler are marked finished.

Example:
  icafixsubmit status HCP_1200 100307 3T
  icafixsubmit status HCP_1200 100307 3T --format jsonl`,
	Args: cobra.ExactArgs(3),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	if cfg == nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration not loaded", nil)
	}
	info, err := subject.New(args[0], args[1], args[2])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	records := newRecordWriter(out)
	if records != nil {
		defer func() { _ = records.Close() }()
	}

	store := registry.NewStore(cfg.Registry.Dir)
	guard := newGuard(cfg, store, newScheduler(cfg), observability.CLILogger)
	decision, err := guard.Check(ctx, info)
	if err != nil {
		return reportFailure(ctx, records, "Status check failed", err)
	}

	// Re-read after the check so states it updated are shown.
	recs, err := store.ListForSubject(info.Key())
	if err != nil {
		return reportFailure(ctx, records, "Cannot read submission registry", err)
	}

	if records != nil {
		return records.WriteStatus(ctx, &output.StatusRecord{
			Subject:         subjectRef(info),
			QueuedOrRunning: decision.Blocked,
			Records:         len(recs),
		})
	}

	state := "IDLE"
	if decision.Blocked {
		state = decision.Reason
	}
	fmt.Fprintf(out, "%s: %s\n", info, state)
	for _, r := range recs {
		fmt.Fprintf(out, "  %s  %-8s %-15s %s  [%s]\n",
			r.ID, r.State, r.Stage, r.CreatedAt.Local().Format(time.RFC3339), strings.Join(r.JobIDs(), " "))
	}
	return nil
}
