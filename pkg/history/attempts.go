package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome classifies how a submission attempt ended.
type Outcome string

const (
	OutcomeSubmitted Outcome = "submitted"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidAttempt is returned when an attempt is missing identity fields.
var ErrInvalidAttempt = errors.New("invalid history attempt")

// Job is one scheduler job submitted during an attempt, in chain order.
type Job struct {
	Stage  string
	Kind   string
	Script string
	JobID  string
}

// Attempt is one invocation of the submitter for a session.
type Attempt struct {
	ID         string
	Pipeline   string
	Project    string
	Subject    string
	Classifier string
	Stage      string
	Outcome    Outcome
	Reason     string
	WorkingDir string
	PutServer  string
	RegistryID string
	Error      string
	CreatedAt  time.Time
	Jobs       []Job
}

// Filter narrows ListAttempts. Empty fields match everything.
type Filter struct {
	Project    string
	Subject    string
	Classifier string
	Outcome    Outcome
	Limit      int
}

func (a Attempt) validate() error {
	fields := []struct{ name, value string }{
		{"id", a.ID},
		{"pipeline", a.Pipeline},
		{"project", a.Project},
		{"subject", a.Subject},
		{"classifier", a.Classifier},
		{"stage", a.Stage},
	}
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAttempt, strings.Join(missing, ", "))
	}
	switch a.Outcome {
	case OutcomeSubmitted, OutcomeSkipped, OutcomeFailed:
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrInvalidAttempt, a.Outcome)
	}
	return nil
}

// RecordAttempt stores an attempt and its jobs in a single transaction.
func RecordAttempt(ctx context.Context, db *sql.DB, a Attempt) error {
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if err := a.validate(); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempts (
			attempt_id, pipeline, project, subject, classifier, stage, outcome,
			reason, working_dir, put_server, registry_id, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Pipeline, a.Project, a.Subject, a.Classifier, a.Stage, string(a.Outcome),
		nullable(a.Reason), nullable(a.WorkingDir), nullable(a.PutServer),
		nullable(a.RegistryID), nullable(a.Error),
		a.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	for i, job := range a.Jobs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO attempt_jobs (attempt_id, seq, stage, kind, script, job_id)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, i, job.Stage, job.Kind, job.Script, job.JobID,
		)
		if err != nil {
			return fmt.Errorf("insert attempt job %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts newest first, each with its jobs.
func ListAttempts(ctx context.Context, db *sql.DB, f Filter) ([]Attempt, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}

	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	add("project", f.Project)
	add("subject", f.Subject)
	add("classifier", f.Classifier)
	add("outcome", string(f.Outcome))

	query := `SELECT attempt_id, pipeline, project, subject, classifier, stage, outcome,
		COALESCE(reason, ''), COALESCE(working_dir, ''), COALESCE(put_server, ''),
		COALESCE(registry_id, ''), COALESCE(error, ''), created_at
		FROM attempts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, attempt_id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []Attempt
	for rows.Next() {
		var (
			a       Attempt
			outcome string
			created string
		)
		if err := rows.Scan(&a.ID, &a.Pipeline, &a.Project, &a.Subject, &a.Classifier, &a.Stage,
			&outcome, &a.Reason, &a.WorkingDir, &a.PutServer, &a.RegistryID, &a.Error, &created); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Outcome = Outcome(outcome)
		if ts, err := time.Parse(timeLayout, created); err == nil {
			a.CreatedAt = ts
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	_ = rows.Close()

	for i := range attempts {
		jobs, err := listJobs(ctx, db, attempts[i].ID)
		if err != nil {
			return nil, err
		}
		attempts[i].Jobs = jobs
	}
	return attempts, nil
}

func listJobs(ctx context.Context, db *sql.DB, attemptID string) ([]Job, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT stage, kind, script, job_id FROM attempt_jobs
		WHERE attempt_id = ? ORDER BY seq`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("query attempt jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.Stage, &j.Kind, &j.Script, &j.JobID); err != nil {
			return nil, fmt.Errorf("scan attempt job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
