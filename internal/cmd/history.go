package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/ccfpipelines/icafixsubmit/internal/config"
	"github.com/ccfpipelines/icafixsubmit/pkg/history"
	"github.com/ccfpipelines/icafixsubmit/pkg/output"
)

var historyCmd = &cobra.Command{
	Use:   "history [project [subject [classifier]]]",
	Short: "List past submission attempts",
	Long: `List submission attempts recorded in the local history database, newest
first. Every submit invocation that reaches the scheduler or the run status
guard is recorded with its outcome: submitted, skipped or failed.

The database lives under the app data dir by default (history.path), or at a
libsql URL (history.url) in cgo builds.

Examples:
  icafixsubmit history
  icafixsubmit history HCP_1200 100307 3T
  icafixsubmit history --outcome failed --limit 50 --format jsonl`,
	Args: cobra.MaximumNArgs(3),
	RunE: runHistory,
}

var (
	historyOutcome string
	historyLimit   int
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Only show attempts with this outcome (submitted, skipped, failed)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of attempts to show (0 for all)")
}

func historyFilter(args []string) (history.Filter, error) {
	f := history.Filter{Limit: historyLimit}
	fields := []*string{&f.Project, &f.Subject, &f.Classifier}
	for i, arg := range args {
		*fields[i] = strings.TrimSpace(arg)
	}

	switch o := history.Outcome(strings.ToLower(strings.TrimSpace(historyOutcome))); o {
	case "", history.OutcomeSubmitted, history.OutcomeSkipped, history.OutcomeFailed:
		f.Outcome = o
	default:
		return f, fmt.Errorf("%w: unknown outcome %q", history.ErrInvalidAttempt, historyOutcome)
	}
	if f.Limit < 0 {
		return f, fmt.Errorf("%w: limit must be >= 0", config.ErrInvalidConfig)
	}
	return f, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	if cfg == nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration not loaded", nil)
	}
	filter, err := historyFilter(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	records := newRecordWriter(out)
	if records != nil {
		defer func() { _ = records.Close() }()
	}

	db, err := history.Open(ctx, historyConfig(cfg))
	if err != nil {
		return reportFailure(ctx, records, "Cannot open submission history", err)
	}
	defer func() { _ = db.Close() }()

	attempts, err := history.ListAttempts(ctx, db, filter)
	if err != nil {
		return reportFailure(ctx, records, "Cannot read submission history", err)
	}

	if records != nil {
		for _, a := range attempts {
			if err := records.WriteAttempt(ctx, attemptRecord(a)); err != nil {
				return err
			}
		}
		return nil
	}

	if len(attempts) == 0 {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "No submission attempts found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CREATED\tSESSION\tSTAGE\tOUTCOME\tJOBS\tDETAIL")
	for _, a := range attempts {
		ids := make([]string, 0, len(a.Jobs))
		for _, j := range a.Jobs {
			ids = append(ids, j.JobID)
		}
		detail := a.Reason
		if a.Error != "" {
			detail = a.Error
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s:%s:%s\t%s\t%s\t%s\t%s\n",
			a.CreatedAt.Local().Format(time.RFC3339),
			a.Project, a.Subject, a.Classifier,
			a.Stage, a.Outcome, strings.Join(ids, ","), detail)
	}
	return tw.Flush()
}

func attemptRecord(a history.Attempt) *output.AttemptRecord {
	rec := &output.AttemptRecord{
		AttemptID:  a.ID,
		Subject:    output.SubjectRef{Project: a.Project, Subject: a.Subject, Classifier: a.Classifier},
		Stage:      a.Stage,
		Outcome:    string(a.Outcome),
		Reason:     a.Reason,
		Error:      a.Error,
		WorkingDir: a.WorkingDir,
		PutServer:  a.PutServer,
		CreatedAt:  a.CreatedAt,
	}
	for _, j := range a.Jobs {
		rec.Jobs = append(rec.Jobs, output.JobRecord{Stage: j.Stage, Script: j.Script, JobID: j.JobID})
	}
	return rec
}
