package cmd

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ccfpipelines/icafixsubmit/internal/config"
	"github.com/ccfpipelines/icafixsubmit/pkg/history"
	"github.com/ccfpipelines/icafixsubmit/pkg/output"
	"github.com/ccfpipelines/icafixsubmit/pkg/pbs"
	"github.com/ccfpipelines/icafixsubmit/pkg/registry"
	"github.com/ccfpipelines/icafixsubmit/pkg/runstatus"
	"github.com/ccfpipelines/icafixsubmit/pkg/script"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
	"github.com/ccfpipelines/icafixsubmit/pkg/submitter"
)

func newScheduler(cfg *config.Config) *pbs.Client {
	return pbs.New(pbs.Config{QsubPath: cfg.Scheduler.Qsub, QstatPath: cfg.Scheduler.Qstat}, nil)
}

func newGuard(cfg *config.Config, store *registry.Store, scheduler *pbs.Client, logger *zap.Logger) *runstatus.Guard {
	checker := runstatus.NewSchedulerChecker(store, scheduler, runstatus.SchedulerCheckerConfig{
		QueriesPerSecond: cfg.Scheduler.QueriesPerSecond,
		Logger:           logger,
	})
	return runstatus.NewGuard(checker, logger)
}

// checkedGuard hands the submitter a decision runSubmit already made, so the
// scheduler is not queried twice.
type checkedGuard struct {
	decision runstatus.Decision
}

func (g checkedGuard) Check(_ context.Context, info subject.Info) (runstatus.Decision, error) {
	d := g.decision
	d.Subject = info
	return d, nil
}

func scriptEnvironment(cfg *config.Config) script.Environment {
	return script.Environment{
		SetupScriptPath:       cfg.Setup.Script,
		DatabaseName:          cfg.Setup.Database,
		SingularityVersion:    cfg.Setup.SingularityVersion,
		ArchiveRoot:           cfg.ArchiveRoot,
		SingularityBindPath:   cfg.Setup.BindPath,
		XnatContainerPath:     cfg.Setup.XnatContainer,
		PipelineContainerPath: cfg.Setup.PipelineContainer,
		GradientCoeffPath:     cfg.Setup.GradientCoefficients,
		ControlFolder:         cfg.ControlFolder,
		GetDataProgramPath:    cfg.Setup.GetDataProgram,
		PutDataProgramPath:    cfg.Setup.PutDataProgram,
	}
}

// newRecordWriter returns a JSONL writer when --format=jsonl, else nil.
func newRecordWriter(w io.Writer) *output.JSONLWriter {
	if outFormat != formatJSONL {
		return nil
	}
	return output.NewJSONLWriter(w, uuid.NewString(), script.PipelineName)
}

func subjectRef(info subject.Info) output.SubjectRef {
	return output.SubjectRef{Project: info.Project, Subject: info.Subject, Classifier: info.Classifier}
}

func historyConfig(cfg *config.Config) history.Config {
	return history.Config{Path: cfg.History.Path, URL: cfg.History.URL, AuthToken: cfg.History.AuthToken}
}

// recordAttempt appends one attempt to the history database. History is
// advisory: failures are logged and never change the command's outcome.
func recordAttempt(ctx context.Context, cfg *config.Config, a submitArgs, putServer string, res *submitter.Result, submitErr error, logger *zap.Logger) {
	if !cfg.History.Enabled {
		return
	}
	ctx = context.WithoutCancel(ctx)

	db, err := history.Open(ctx, historyConfig(cfg))
	if err != nil {
		logger.Warn("History unavailable", zap.Error(err))
		return
	}
	defer func() { _ = db.Close() }()

	attempt := history.Attempt{
		ID:         uuid.NewString(),
		Pipeline:   script.PipelineName,
		Project:    a.Subject.Project,
		Subject:    a.Subject.Subject,
		Classifier: a.Subject.Classifier,
		Stage:      a.Stage.String(),
		Outcome:    history.OutcomeSubmitted,
		PutServer:  putServer,
		CreatedAt:  time.Now(),
	}
	if res != nil {
		attempt.WorkingDir = res.WorkingDir
		attempt.RegistryID = res.RegistryID
		for _, j := range res.Jobs {
			attempt.Jobs = append(attempt.Jobs, history.Job{
				Stage:  j.Stage.String(),
				Kind:   string(j.Kind),
				Script: j.Script,
				JobID:  j.JobID,
			})
		}
		if res.Skipped {
			attempt.Outcome = history.OutcomeSkipped
			attempt.Reason = res.Reason
		}
	}
	if submitErr != nil {
		attempt.Outcome = history.OutcomeFailed
		attempt.Error = submitErr.Error()
	}

	if err := history.RecordAttempt(ctx, db, attempt); err != nil {
		logger.Warn("Failed to record history", zap.Error(err))
		return
	}
	logger.Debug("Recorded history attempt", zap.String("attempt_id", attempt.ID), zap.String("outcome", string(attempt.Outcome)))
}
