package registry

import "time"

// State is the lifecycle state of a recorded submission.
//
// NOTE: These values are persisted in submission.json and are part of the
// stable on-disk contract.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateUnknown  State = "unknown"
)

// Active reports whether a record in this state may still have work in the
// scheduler.
func (s State) Active() bool {
	return s == StateQueued || s == StateRunning
}

// Job is one scheduler job belonging to a submission.
type Job struct {
	Stage  string `json:"stage"`
	Script string `json:"script"`
	JobID  string `json:"job_id"`
}

// Record is the persistent record written to submission.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	ID         string    `json:"id"`
	Project    string    `json:"project"`
	Subject    string    `json:"subject"`
	Classifier string    `json:"classifier"`
	Pipeline   string    `json:"pipeline"`
	Stage      string    `json:"stage"`
	State      State     `json:"state"`
	Jobs       []Job     `json:"jobs"`
	WorkingDir string    `json:"working_dir,omitempty"`
	PutServer  string    `json:"put_server,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// SubjectKey matches subject.Info.Key for the record.
func (r Record) SubjectKey() string {
	return r.Project + "/" + r.Subject + "_" + r.Classifier
}

// JobIDs returns the scheduler ids in submission order.
func (r Record) JobIDs() []string {
	out := make([]string, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		out = append(out, j.JobID)
	}
	return out
}
