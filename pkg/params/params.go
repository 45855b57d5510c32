// Package params holds the read-only parameter bundle for one submission.
package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

// ErrInvalid indicates a parameter bundle that cannot drive a submission.
var ErrInvalid = errors.New("invalid submission parameters")

// Parameters is assembled once before submission and never mutated after.
type Parameters struct {
	Username string `json:"username"`
	Password string `json:"-"`

	// Server is the tracking server URL, e.g. "http://db.example.org".
	Server string `json:"server"`

	Subject subject.Info `json:"subject"`

	// WalltimeHours and MemoryGB are copied into the resource directive as
	// given, e.g. "048" stays "048".
	WalltimeHours string `json:"walltime_hours"`
	MemoryGB      string `json:"memory_gb"`

	OutputResourceSuffix string `json:"output_resource_suffix"`
	CleanOutputFirst     bool   `json:"clean_output_first"`

	// PutServer is the upload server chosen for this submission.
	PutServer string `json:"put_server"`
}

// Validate checks that every field the scripts and marker rely on is present.
func (p Parameters) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(p.Server) == "" {
		missing = append(missing, "server")
	}
	if strings.TrimSpace(p.PutServer) == "" {
		missing = append(missing, "put_server")
	}
	if p.Subject.Project == "" || p.Subject.Subject == "" || p.Subject.Classifier == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(p.WalltimeHours) == "" {
		missing = append(missing, "walltime_hours")
	}
	if strings.TrimSpace(p.MemoryGB) == "" {
		missing = append(missing, "memory_gb")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalid, strings.Join(missing, ", "))
	}
	return nil
}

// ServerName returns the host[:port] portion of a server URL.
//
//	ServerName("http://db.example.org:8080/data") == "db.example.org:8080"
//	ServerName("db.example.org")                  == "db.example.org"
func ServerName(server string) string {
	s := strings.TrimSpace(server)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}
	return s
}
