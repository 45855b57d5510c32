// Package marker flags a subject as queued on the remote tracking server.
package marker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ccfpipelines/icafixsubmit/pkg/params"
	"github.com/ccfpipelines/icafixsubmit/pkg/shell"
)

// Resource is the tracking-server resource the status is written to.
const Resource = "RunningStatus"

// Command runs the pipeline's XNAT_MARK_RUNNING_STATUS program.
type Command struct {
	program string
	params  params.Parameters
	runner  shell.Runner
	out     io.Writer
	logger  *zap.Logger
}

type Config struct {
	// JobsHome is the root of the pipeline job tools (XNAT_PBS_JOBS).
	JobsHome string
	Pipeline string
	Params   params.Parameters

	Runner shell.Runner
	// Out receives the program's stdout after a successful run.
	Out    io.Writer
	Logger *zap.Logger
}

func New(cfg Config) *Command {
	c := &Command{
		program: ProgramPath(cfg.JobsHome, cfg.Pipeline),
		params:  cfg.Params,
		runner:  cfg.Runner,
		out:     cfg.Out,
		logger:  cfg.Logger,
	}
	if c.runner == nil {
		c.runner = shell.ExecRunner{}
	}
	if c.out == nil {
		c.out = io.Discard
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// ProgramPath returns <jobsHome>/<pipeline>/<pipeline>.XNAT_MARK_RUNNING_STATUS.
func ProgramPath(jobsHome, pipeline string) string {
	return filepath.Join(jobsHome, pipeline, pipeline+".XNAT_MARK_RUNNING_STATUS")
}

// Args returns the flags passed to the mark program.
func (c *Command) Args() []string {
	p := c.params
	return []string{
		"--user=" + p.Username,
		"--password=" + p.Password,
		"--server=" + params.ServerName(p.PutServer),
		"--project=" + p.Subject.Project,
		"--subject=" + p.Subject.Subject,
		"--classifier=" + p.Subject.Classifier,
		"--resource=" + Resource,
		"--queued",
	}
}

// MarkQueued runs the mark program. Its stdout is only echoed on success.
func (c *Command) MarkQueued(ctx context.Context) error {
	c.logger.Debug("Marking subject queued",
		zap.String("program", c.program),
		zap.String("session", c.params.Subject.Session()))

	stdout, _, err := c.runner.Run(ctx, c.program, c.Args()...)
	if err != nil {
		return fmt.Errorf("mark running status: %w", err)
	}
	_, _ = c.out.Write(stdout)
	return nil
}
