// Package stage defines the ordered processing stages of a submission and the
// gate that decides which side effects a stage permits.
package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStage indicates a stage name that does not parse.
var ErrUnknownStage = errors.New("unknown processing stage")

// ProcessingStage is how far the submission pipeline is asked to progress.
//
// Values are ordered; comparisons between stages are meaningful.
type ProcessingStage int

const (
	PrepareScripts ProcessingStage = iota
	GetData
	ProcessData
	PutData
)

var stageNames = []string{
	PrepareScripts: "PREPARE_SCRIPTS",
	GetData:        "GET_DATA",
	ProcessData:    "PROCESS_DATA",
	PutData:        "PUT_DATA",
}

// All returns every stage in ascending order.
func All() []ProcessingStage {
	return []ProcessingStage{PrepareScripts, GetData, ProcessData, PutData}
}

func (s ProcessingStage) String() string {
	if s < PrepareScripts || int(s) >= len(stageNames) {
		return fmt.Sprintf("ProcessingStage(%d)", int(s))
	}
	return stageNames[s]
}

// Parse converts a stage name (case-insensitive) into a ProcessingStage.
func Parse(name string) (ProcessingStage, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range stageNames {
		if n == normalized {
			return ProcessingStage(i), nil
		}
	}
	return PrepareScripts, fmt.Errorf("%w: %q (expected one of %s)", ErrUnknownStage, name, strings.Join(stageNames, ", "))
}

// Marker performs the "mark as queued" side effect on the tracking system.
type Marker interface {
	MarkQueued(ctx context.Context) error
}

// Gate guards stage-dependent side effects for one submission.
type Gate struct {
	Stage ProcessingStage
}

// NewGate returns a gate for the requested stage.
func NewGate(s ProcessingStage) Gate {
	return Gate{Stage: s}
}

// Allows reports whether work belonging to threshold runs at the gate's stage.
func (g Gate) Allows(threshold ProcessingStage) bool {
	return g.Stage >= threshold
}

// MarkQueued invokes m only once the stage is past PrepareScripts.
//
// At PrepareScripts the call is a no-op and m is never touched.
func (g Gate) MarkQueued(ctx context.Context, m Marker) (bool, error) {
	if g.Stage <= PrepareScripts {
		return false, nil
	}
	if m == nil {
		return false, errors.New("stage gate: marker is nil")
	}
	if err := m.MarkQueued(ctx); err != nil {
		return false, err
	}
	return true, nil
}
