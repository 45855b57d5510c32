package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ccfpipelines/icafixsubmit/internal/config"
	"github.com/ccfpipelines/icafixsubmit/internal/credentials"
	"github.com/ccfpipelines/icafixsubmit/internal/observability"
	"github.com/ccfpipelines/icafixsubmit/pkg/archive"
	"github.com/ccfpipelines/icafixsubmit/pkg/marker"
	"github.com/ccfpipelines/icafixsubmit/pkg/output"
	"github.com/ccfpipelines/icafixsubmit/pkg/params"
	"github.com/ccfpipelines/icafixsubmit/pkg/pbs"
	"github.com/ccfpipelines/icafixsubmit/pkg/registry"
	"github.com/ccfpipelines/icafixsubmit/pkg/runstatus"
	"github.com/ccfpipelines/icafixsubmit/pkg/script"
	"github.com/ccfpipelines/icafixsubmit/pkg/stage"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
	"github.com/ccfpipelines/icafixsubmit/pkg/submitter"
)

var submitCmd = &cobra.Command{
	Use:   "submit <project> <subject> <classifier> <clean-output-first> <stage> <walltime-hours> <mem-gb> <output-resource-suffix>",
	Short: "Prepare and submit the jobs for one session",
	Long: `Write the get-data, process-data and put-data job scripts for one subject
session and submit every job up to the requested stage.

Stages, in order: PREPARE_SCRIPTS, GET_DATA, PROCESS_DATA, PUT_DATA.
PREPARE_SCRIPTS only writes the scripts.

Example:
  icafixsubmit submit HCP_1200 100307 3T False PUT_DATA 48 32 MultiRunIcaFix
  icafixsubmit submit HCP_1200 100307 3T true GET_DATA 24 16 MultiRunIcaFix --put-server http://put1`,
	Args: cobra.ExactArgs(8),
	RunE: runSubmit,
}

var submitPutServer string

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitPutServer, "put-server", "", "Use this put server instead of a random one from "+config.EnvPutServerList)
}

// submitArgs holds the parsed positional arguments.
type submitArgs struct {
	Subject          subject.Info
	CleanOutputFirst bool
	Stage            stage.ProcessingStage
	WalltimeHours    string
	MemoryGB         string
	ResourceSuffix   string
}

func parseSubmitArgs(args []string) (submitArgs, error) {
	var a submitArgs
	if len(args) != 8 {
		return a, fmt.Errorf("expected 8 arguments, got %d", len(args))
	}

	info, err := subject.New(args[0], args[1], args[2])
	if err != nil {
		return a, err
	}
	a.Subject = info

	if a.CleanOutputFirst, err = strconv.ParseBool(strings.TrimSpace(args[3])); err != nil {
		return a, fmt.Errorf("clean-output-first: %w", err)
	}
	if a.Stage, err = stage.Parse(args[4]); err != nil {
		return a, err
	}
	// Walltime and memory go into the job script untouched.
	a.WalltimeHours = strings.TrimSpace(args[5])
	a.MemoryGB = strings.TrimSpace(args[6])
	if a.WalltimeHours == "" || a.MemoryGB == "" {
		return a, fmt.Errorf("%w: walltime-hours and mem-gb must not be empty", params.ErrInvalid)
	}
	a.ResourceSuffix = strings.TrimSpace(args[7])
	return a, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg := config.GetConfig()
	if cfg == nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration not loaded", nil)
	}
	a, err := parseSubmitArgs(args)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid arguments", err)
	}

	ctx := cmd.Context()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	logger := observability.CLILogger
	out := cmd.OutOrStdout()
	records := newRecordWriter(out)
	if records != nil {
		defer func() { _ = records.Close() }()
	}

	// The guard only needs the scheduler and the registry, so a subject that
	// is already queued is reported before the script settings are required.
	store := registry.NewStore(cfg.Registry.Dir)
	scheduler := newScheduler(cfg)
	decision, err := newGuard(cfg, store, scheduler, logger).Check(ctx, a.Subject)
	if err != nil {
		return reportFailure(ctx, records, "Status check failed", err)
	}
	if decision.Blocked {
		res := &submitter.Result{Subject: a.Subject, Stage: a.Stage, Skipped: true, Reason: decision.Reason}
		recordAttempt(ctx, cfg, a, "", res, nil, logger)
		return reportSkip(ctx, out, records, a.Subject, decision.Reason)
	}

	if err := cfg.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	s, p, err := buildSubmitter(cfg, a, records != nil, cmd, store, scheduler, decision)
	if err != nil {
		return reportFailure(ctx, records, "Cannot prepare submission", err)
	}

	res, err := s.Submit(ctx, a.Stage)
	recordAttempt(ctx, cfg, a, p.PutServer, res, err, logger)
	if err != nil {
		if res != nil && len(res.Jobs) > 0 {
			logger.Error("Submission stopped after partial success",
				zap.Strings("submitted", res.JobIDs()),
				zap.Error(err))
		}
		return reportFailure(ctx, records, "Submission failed", err)
	}

	if res.Skipped {
		return reportSkip(ctx, out, records, a.Subject, res.Reason)
	}

	if records != nil {
		return records.WriteSubmission(ctx, submissionRecord(res, p.PutServer))
	}
	printBanner(out, p, a)
	fmt.Fprintln(out, "\tsubmitted jobs:", res.JobIDs())
	fmt.Fprintln(out, "-----")
	return nil
}

// buildSubmitter resolves credentials and the put server, then wires the
// submitter's collaborators from cfg.
func buildSubmitter(cfg *config.Config, a submitArgs, jsonl bool, cmd *cobra.Command, store *registry.Store, scheduler *pbs.Client, decision runstatus.Decision) (*submitter.Submitter, params.Parameters, error) {
	logger := observability.CLILogger
	server := cfg.ServerURL()

	creds, err := credentials.NewResolver(cfg.Credentials.File, logger).Lookup(server)
	if err != nil {
		return nil, params.Parameters{}, err
	}

	var selector submitter.ServerSelector = submitter.RandomSelector{}
	servers := cfg.PutServers
	if submitPutServer != "" {
		selector = submitter.FirstSelector{}
		servers = []string{submitPutServer}
	}
	putServer, err := selector.Select(servers)
	if err != nil {
		return nil, params.Parameters{}, err
	}

	p := params.Parameters{
		Username:             creds.Username,
		Password:             creds.Password,
		Server:               server,
		Subject:              a.Subject,
		WalltimeHours:        a.WalltimeHours,
		MemoryGB:             a.MemoryGB,
		OutputResourceSuffix: a.ResourceSuffix,
		CleanOutputFirst:     a.CleanOutputFirst,
		PutServer:            putServer,
	}

	arc, err := archive.New(archive.Config{Root: cfg.ArchiveRoot})
	if err != nil {
		return nil, p, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	// Keep marker output off stdout when stdout carries JSONL.
	markOut := cmd.OutOrStdout()
	if jsonl {
		markOut = cmd.ErrOrStderr()
	}

	s, err := submitter.New(submitter.Config{
		Params:    p,
		BuildHome: cfg.BuildHome,
		Archive:   arc,
		Composer:  script.NewComposer(scriptEnvironment(cfg)),
		Scheduler: scheduler,
		Marker: marker.New(marker.Config{
			JobsHome: cfg.JobsHome,
			Pipeline: script.PipelineName,
			Params:   p,
			Out:      markOut,
			Logger:   logger,
		}),
		Guard:    checkedGuard{decision: decision},
		Recorder: store,
		Logger:   logger,
	})
	return s, p, err
}

func reportFailure(ctx context.Context, records *output.JSONLWriter, msg string, err error) error {
	if records != nil {
		if werr := records.WriteError(context.WithoutCancel(ctx), &output.ErrorRecord{
			Code:    errorRecordCode(err),
			Message: err.Error(),
		}); werr != nil {
			observability.CLILogger.Debug("Failed to emit error record", zap.Error(werr))
		}
	}
	return exitError(exitCodeFor(err), msg, err)
}

func reportSkip(ctx context.Context, out io.Writer, records *output.JSONLWriter, info subject.Info, reason string) error {
	if records != nil {
		return records.WriteSkip(ctx, &output.SkipRecord{Subject: subjectRef(info), Reason: reason})
	}
	printBlocked(out, info, reason)
	return nil
}

func printBlocked(w io.Writer, info subject.Info, reason string) {
	fmt.Fprintln(w, "-----")
	fmt.Fprintln(w, "NOT SUBMITTING JOBS FOR")
	fmt.Fprintln(w, "project: "+info.Project)
	fmt.Fprintln(w, "subject: "+info.Subject)
	fmt.Fprintln(w, "session classifier: "+info.Classifier)
	fmt.Fprintln(w, reason)
	fmt.Fprintln(w, "Process terminated")
}

func printBanner(w io.Writer, p params.Parameters, a submitArgs) {
	fmt.Fprintln(w, "-----")
	fmt.Fprintf(w, "\tSubmitting %s jobs for:\n", script.PipelineName)
	fmt.Fprintf(w, "\t%22s %s\n", "project:", p.Subject.Project)
	fmt.Fprintf(w, "\t%22s %s\n", "subject:", p.Subject.Subject)
	fmt.Fprintf(w, "\t%22s %s\n", "session classifier:", p.Subject.Classifier)
	fmt.Fprintf(w, "\t%22s %s\n", "put_server:", p.PutServer)
	fmt.Fprintf(w, "\t%22s %t\n", "clean_output_first:", p.CleanOutputFirst)
	fmt.Fprintf(w, "\t%22s %s\n", "processing_stage:", a.Stage)
	fmt.Fprintf(w, "\t%22s %s\n", "walltime_limit_hrs:", p.WalltimeHours)
	fmt.Fprintf(w, "\t%22s %s\n", "mem_limit_gbs:", p.MemoryGB)
	fmt.Fprintf(w, "\t%22s %s\n", "output_resource_suffix:", p.OutputResourceSuffix)
}

func submissionRecord(res *submitter.Result, putServer string) *output.SubmissionRecord {
	rec := &output.SubmissionRecord{
		Subject:    subjectRef(res.Subject),
		Stage:      res.Stage.String(),
		WorkingDir: res.WorkingDir,
		PutServer:  putServer,
		Groups:     res.Groups,
		Marked:     res.Marked,
		RegistryID: res.RegistryID,
	}
	for _, s := range res.Scripts {
		rec.Scripts = append(rec.Scripts, s.Path)
	}
	for _, j := range res.Jobs {
		rec.Jobs = append(rec.Jobs, output.JobRecord{Stage: j.Stage.String(), Script: j.Script, JobID: j.JobID})
	}
	return rec
}
