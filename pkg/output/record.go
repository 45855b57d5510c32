// Package output provides JSONL output for submission results.
//
// Output is structured as typed record envelopes containing submissions,
// skips, status reports and errors. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: icafixsubmit.<type>.v<version>
const (
	// TypeSubmission identifies records for a completed submission.
	TypeSubmission = "icafixsubmit.submission.v1"

	// TypeSkip identifies records for a submission the guard refused.
	TypeSkip = "icafixsubmit.skip.v1"

	// TypeStatus identifies run status reports.
	TypeStatus = "icafixsubmit.status.v1"

	// TypeAttempt identifies entries read back from the submission history.
	TypeAttempt = "icafixsubmit.attempt.v1"

	// TypeError identifies error records.
	TypeError = "icafixsubmit.error.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "icafixsubmit.submission.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this invocation.
	RunID string `json:"run_id"`

	// Pipeline names the processing pipeline the jobs belong to.
	Pipeline string `json:"pipeline"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// SubjectRef identifies the subject a record is about.
type SubjectRef struct {
	Project    string `json:"project"`
	Subject    string `json:"subject"`
	Classifier string `json:"classifier"`
}

// JobRecord is one submitted scheduler job.
type JobRecord struct {
	Stage  string `json:"stage"`
	Script string `json:"script"`
	JobID  string `json:"job_id"`
}

// SubmissionRecord is the data payload for a completed submission.
type SubmissionRecord struct {
	Subject    SubjectRef  `json:"subject"`
	Stage      string      `json:"stage"`
	WorkingDir string      `json:"working_dir"`
	PutServer  string      `json:"put_server,omitempty"`
	Groups     []string    `json:"groups"`
	Scripts    []string    `json:"scripts"`
	Jobs       []JobRecord `json:"jobs"`

	// Marked reports whether the tracking server was told the subject is queued.
	Marked bool `json:"marked"`

	// RegistryID is the local registry record, empty if nothing was submitted.
	RegistryID string `json:"registry_id,omitempty"`
}

// SkipRecord is the data payload for a submission the guard blocked.
type SkipRecord struct {
	Subject SubjectRef `json:"subject"`
	Reason  string     `json:"reason"`
}

// StatusRecord is the data payload for a run status query.
type StatusRecord struct {
	Subject         SubjectRef `json:"subject"`
	QueuedOrRunning bool       `json:"queued_or_running"`
	Records         int        `json:"records"`
}

// AttemptRecord is the data payload for one historical submission attempt.
type AttemptRecord struct {
	AttemptID  string      `json:"attempt_id"`
	Subject    SubjectRef  `json:"subject"`
	Stage      string      `json:"stage"`
	Outcome    string      `json:"outcome"`
	Reason     string      `json:"reason,omitempty"`
	Error      string      `json:"error,omitempty"`
	WorkingDir string      `json:"working_dir,omitempty"`
	PutServer  string      `json:"put_server,omitempty"`
	Jobs       []JobRecord `json:"jobs,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeScheduler    = "SCHEDULER"
	ErrCodeFilesystem   = "FILESYSTEM"
	ErrCodeInternal     = "INTERNAL"
)

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
