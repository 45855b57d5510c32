// Package pbs talks to a PBS/Torque scheduler through its command-line
// clients.
//
// Only the two operations a submitter needs are covered: qsub with an
// optional afterok dependency chain, and a qstat lookup of a single job.
package pbs

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ccfpipelines/icafixsubmit/pkg/shell"
)

// Sentinel errors for scheduler operations.
var (
	// ErrJobNotFound indicates the scheduler no longer knows the job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrEmptyJobID indicates qsub succeeded without printing a job id.
	ErrEmptyJobID = errors.New("qsub returned an empty job id")
)

// JobState is the single-letter qstat state, normalised to a name.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateHeld      JobState = "held"
	StateWaiting   JobState = "waiting"
	StateExiting   JobState = "exiting"
	StateSuspended JobState = "suspended"
	StateCompleted JobState = "completed"
	StateUnknown   JobState = "unknown"
)

// Active reports whether a job in this state still occupies the queue.
func (s JobState) Active() bool {
	switch s {
	case StateQueued, StateRunning, StateHeld, StateWaiting, StateExiting, StateSuspended:
		return true
	default:
		return false
	}
}

func stateFromCode(code string) JobState {
	switch code {
	case "Q", "T":
		return StateQueued
	case "R":
		return StateRunning
	case "H":
		return StateHeld
	case "W":
		return StateWaiting
	case "E":
		return StateExiting
	case "S":
		return StateSuspended
	case "C", "F":
		return StateCompleted
	default:
		return StateUnknown
	}
}

type Config struct {
	QsubPath  string
	QstatPath string
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.QsubPath) == "" {
		c.QsubPath = "qsub"
	}
	if strings.TrimSpace(c.QstatPath) == "" {
		c.QstatPath = "qstat"
	}
}

// Client submits and queries jobs.
type Client struct {
	cfg    Config
	runner shell.Runner
}

// New returns a client; a nil runner uses shell.ExecRunner.
func New(cfg Config, runner shell.Runner) *Client {
	cfg.applyDefaults()
	if runner == nil {
		runner = shell.ExecRunner{}
	}
	return &Client{cfg: cfg, runner: runner}
}

// Submit queues scriptPath and returns the scheduler's job id. When
// dependsOn is non-empty the job only starts after all of them succeed.
func (c *Client) Submit(ctx context.Context, scriptPath string, dependsOn []string) (string, error) {
	args := make([]string, 0, 3)
	if len(dependsOn) > 0 {
		args = append(args, "-W", "depend=afterok:"+strings.Join(dependsOn, ":"))
	}
	args = append(args, scriptPath)

	stdout, _, err := c.runner.Run(ctx, c.cfg.QsubPath, args...)
	if err != nil {
		return "", fmt.Errorf("qsub %s: %w", scriptPath, err)
	}
	jobID := strings.TrimSpace(string(stdout))
	if jobID == "" {
		return "", fmt.Errorf("qsub %s: %w", scriptPath, ErrEmptyJobID)
	}
	return jobID, nil
}

// Status returns the state of one job. ErrJobNotFound is returned once the
// scheduler has forgotten it.
func (c *Client) Status(ctx context.Context, jobID string) (JobState, error) {
	stdout, stderr, err := c.runner.Run(ctx, c.cfg.QstatPath, jobID)
	if err != nil {
		if isUnknownJob(stderr) || isUnknownJob([]byte(err.Error())) {
			return StateUnknown, fmt.Errorf("qstat %s: %w", jobID, ErrJobNotFound)
		}
		return StateUnknown, fmt.Errorf("qstat %s: %w", jobID, err)
	}
	state, ok := parseQstat(stdout, jobID)
	if !ok {
		return StateUnknown, fmt.Errorf("qstat %s: %w", jobID, ErrJobNotFound)
	}
	return state, nil
}

// goneJobMessages are the qstat errors for a job the server no longer lists:
// Torque's unknown id, and PBS Pro's finished job without -x.
var goneJobMessages = [][]byte{
	[]byte("unknown job id"),
	[]byte("job has finished"),
}

func isUnknownJob(b []byte) bool {
	lower := bytes.ToLower(b)
	for _, msg := range goneJobMessages {
		if bytes.Contains(lower, msg) {
			return true
		}
	}
	return false
}

// parseQstat finds jobID in default qstat output:
//
//	Job ID                    Name             User            Time Use S Queue
//	------------------------- ---------------- --------------- -------- - -----
//	12345.login01             job.sh           hcpuser         00:00:00 Q batch
//
// qstat truncates long ids, so the row matches on the numeric prefix.
func parseQstat(out []byte, jobID string) (JobState, bool) {
	number := jobID
	if i := strings.Index(number, "."); i >= 0 {
		number = number[:i]
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		id := fields[0]
		if id != jobID && id != number && !strings.HasPrefix(id, number+".") {
			continue
		}
		return stateFromCode(fields[len(fields)-2]), true
	}
	return StateUnknown, false
}
