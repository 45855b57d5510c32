// Package submitter drives one MultiRunIcaFixProcessing submission: guard,
// group resolution, script generation, chained scheduler submission and the
// queued mark.
package submitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ccfpipelines/icafixsubmit/pkg/groups"
	"github.com/ccfpipelines/icafixsubmit/pkg/params"
	"github.com/ccfpipelines/icafixsubmit/pkg/registry"
	"github.com/ccfpipelines/icafixsubmit/pkg/runstatus"
	"github.com/ccfpipelines/icafixsubmit/pkg/script"
	"github.com/ccfpipelines/icafixsubmit/pkg/stage"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

// WorkingDirMode is applied to newly created working directories.
const WorkingDirMode os.FileMode = 0o775

// ErrMisconfigured wraps configuration problems found before any work starts.
var ErrMisconfigured = errors.New("submitter misconfigured")

// Scheduler submits a script, optionally after other jobs complete successfully.
type Scheduler interface {
	Submit(ctx context.Context, scriptPath string, dependsOn []string) (string, error)
}

// Guard decides whether a subject already has work in flight.
type Guard interface {
	Check(ctx context.Context, info subject.Info) (runstatus.Decision, error)
}

// Recorder persists what was submitted.
type Recorder interface {
	Write(record *registry.Record) error
}

// Config wires a Submitter. Archive, Composer, Scheduler and Guard are required.
type Config struct {
	Params    params.Parameters
	BuildHome string

	Archive   groups.Archive
	Composer  *script.Composer
	Writer    script.Writer
	Scheduler Scheduler
	Marker    stage.Marker
	Guard     Guard
	Recorder  Recorder

	Now    func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

// Job is one submitted scheduler job.
type Job struct {
	Stage  stage.ProcessingStage
	Kind   script.Kind
	Script string
	JobID  string
}

// Result describes one Submit call.
type Result struct {
	Subject subject.Info
	Stage   stage.ProcessingStage

	// Skipped is set when the guard found work already queued or running.
	Skipped bool
	Reason  string

	WorkingDir string
	Groups     []string
	Scripts    []script.JobScript

	// Jobs is in submission order; each depends on the one before it.
	Jobs []Job

	Marked     bool
	RegistryID string
}

// JobIDs returns the submitted job ids in order.
func (r *Result) JobIDs() []string {
	ids := make([]string, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		ids = append(ids, j.JobID)
	}
	return ids
}

type Submitter struct {
	params    params.Parameters
	buildHome string

	archive   groups.Archive
	composer  *script.Composer
	writer    script.Writer
	scheduler Scheduler
	marker    stage.Marker
	guard     Guard
	recorder  Recorder

	now    func() time.Time
	newID  func() string
	logger *zap.Logger
}

// New validates cfg and returns a Submitter. Configuration problems surface
// here, before any file or scheduler is touched.
func New(cfg Config) (*Submitter, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMisconfigured, err)
	}
	if strings.TrimSpace(cfg.BuildHome) == "" {
		return nil, fmt.Errorf("%w: build home is required", ErrMisconfigured)
	}
	switch {
	case cfg.Archive == nil:
		return nil, fmt.Errorf("%w: archive is required", ErrMisconfigured)
	case cfg.Composer == nil:
		return nil, fmt.Errorf("%w: script composer is required", ErrMisconfigured)
	case cfg.Scheduler == nil:
		return nil, fmt.Errorf("%w: scheduler is required", ErrMisconfigured)
	case cfg.Guard == nil:
		return nil, fmt.Errorf("%w: run status guard is required", ErrMisconfigured)
	}

	s := &Submitter{
		params:    cfg.Params,
		buildHome: cfg.BuildHome,
		archive:   cfg.Archive,
		composer:  cfg.Composer,
		writer:    cfg.Writer,
		scheduler: cfg.Scheduler,
		marker:    cfg.Marker,
		guard:     cfg.Guard,
		recorder:  cfg.Recorder,
		now:       cfg.Now,
		newID:     cfg.NewID,
		logger:    cfg.Logger,
	}
	if s.writer == nil {
		s.writer = script.FileWriter{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// WorkingDir returns <buildHome>/<project>/<pipeline>.<session>.<unix-ts>.
func WorkingDir(buildHome string, info subject.Info, at time.Time) string {
	name := script.PipelineName + "." + info.Session() + "." + strconv.FormatInt(at.Unix(), 10)
	return filepath.Join(buildHome, info.Project, name)
}

// stageOf maps each script to the stage that submits it.
var stageOf = map[script.Kind]stage.ProcessingStage{
	script.KindGetData:     stage.GetData,
	script.KindProcessData: stage.ProcessData,
	script.KindPutData:     stage.PutData,
}

// Submit generates every job script and submits those whose stage is at or
// below requested, chaining each on the previous job.
//
// When the guard blocks, nothing is written or submitted and the result has
// Skipped set. Errors after the first submission return the partial result
// alongside the error so callers can report the jobs that did go in.
func (s *Submitter) Submit(ctx context.Context, requested stage.ProcessingStage) (*Result, error) {
	info := s.params.Subject
	res := &Result{Subject: info, Stage: requested}

	decision, err := s.guard.Check(ctx, info)
	if err != nil {
		return nil, err
	}
	if decision.Blocked {
		res.Skipped = true
		res.Reason = decision.Reason
		return res, nil
	}

	groupNames, err := groups.Resolve(ctx, s.archive, info)
	if err != nil {
		return nil, err
	}
	res.Groups = groupNames

	createdAt := s.now()
	res.WorkingDir = WorkingDir(s.buildHome, info, createdAt)
	if err := os.MkdirAll(res.WorkingDir, WorkingDirMode); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}
	s.logger.Info("Preparing job scripts",
		zap.String("session", info.Session()),
		zap.String("working_dir", res.WorkingDir),
		zap.Strings("groups", groupNames))

	res.Scripts = []script.JobScript{
		s.composer.GetDataScript(s.params, res.WorkingDir),
		s.composer.ProcessDataScript(s.params, res.WorkingDir, groupNames),
		s.composer.PutDataScript(s.params, res.WorkingDir),
	}
	for _, js := range res.Scripts {
		if err := s.writer.WriteExecutable(js); err != nil {
			return nil, err
		}
	}

	gate := stage.NewGate(requested)
	var previous []string
	for _, js := range res.Scripts {
		threshold := stageOf[js.Kind]
		if !gate.Allows(threshold) {
			continue
		}
		jobID, err := s.scheduler.Submit(ctx, js.Path, previous)
		if err != nil {
			return s.partial(res, createdAt), fmt.Errorf("submit %s job: %w", js.Kind, err)
		}
		s.logger.Info("Submitted job",
			zap.String("stage", threshold.String()),
			zap.String("job_id", jobID),
			zap.Strings("depends_on", previous))
		res.Jobs = append(res.Jobs, Job{Stage: threshold, Kind: js.Kind, Script: js.Path, JobID: jobID})
		previous = []string{jobID}
	}

	// Recorded before marking so the guard sees the jobs even if the mark fails.
	if err := s.record(res, createdAt); err != nil {
		return res, err
	}

	marked, err := gate.MarkQueued(ctx, s.marker)
	if err != nil {
		return res, fmt.Errorf("mark %s queued: %w", info.Session(), err)
	}
	res.Marked = marked
	return res, nil
}

// partial records whatever was submitted before a failure. A registry error
// here is logged; the submission error is the one returned.
func (s *Submitter) partial(res *Result, createdAt time.Time) *Result {
	if err := s.record(res, createdAt); err != nil {
		s.logger.Warn("Failed to record partial submission", zap.Error(err))
	}
	return res
}

func (s *Submitter) record(res *Result, createdAt time.Time) error {
	if s.recorder == nil || len(res.Jobs) == 0 {
		return nil
	}
	info := res.Subject
	rec := &registry.Record{
		ID:         s.newID(),
		Project:    info.Project,
		Subject:    info.Subject,
		Classifier: info.Classifier,
		Pipeline:   script.PipelineName,
		Stage:      res.Stage.String(),
		State:      registry.StateQueued,
		WorkingDir: res.WorkingDir,
		PutServer:  s.params.PutServer,
		CreatedAt:  createdAt.UTC(),
	}
	for _, j := range res.Jobs {
		rec.Jobs = append(rec.Jobs, registry.Job{Stage: j.Stage.String(), Script: j.Script, JobID: j.JobID})
	}
	if err := s.recorder.Write(rec); err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	res.RegistryID = rec.ID
	return nil
}
