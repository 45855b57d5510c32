// Package subject identifies the unit of work a submission is made for.
package subject

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncomplete indicates one of the identifying fields is empty.
var ErrIncomplete = errors.New("subject info is incomplete")

// Info identifies a single subject session within a project.
//
// Info is a value type; copies are independent and it is never mutated after
// construction.
type Info struct {
	Project    string `json:"project"`
	Subject    string `json:"subject"`
	Classifier string `json:"classifier"`
}

// New builds an Info from trimmed inputs and rejects empty fields.
func New(project, subjectID, classifier string) (Info, error) {
	info := Info{
		Project:    strings.TrimSpace(project),
		Subject:    strings.TrimSpace(subjectID),
		Classifier: strings.TrimSpace(classifier),
	}
	if info.Project == "" || info.Subject == "" || info.Classifier == "" {
		return Info{}, fmt.Errorf("%w: project=%q subject=%q classifier=%q",
			ErrIncomplete, info.Project, info.Subject, info.Classifier)
	}
	return info, nil
}

// Session returns the session label, <subject>_<classifier>.
func (i Info) Session() string {
	return i.Subject + "_" + i.Classifier
}

// Key returns a stable identifier used for registry lookups.
func (i Info) Key() string {
	return i.Project + "/" + i.Session()
}

func (i Info) String() string {
	return fmt.Sprintf("project=%s subject=%s classifier=%s", i.Project, i.Subject, i.Classifier)
}
