package groups

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ScanSeparator joins the sub-scans that make up one concatenated group.
	ScanSeparator = "@"

	// SegmentSeparator splits a scan name into positional segments.
	SegmentSeparator = "_"

	// coreSegment is the position of the core name within a scan name.
	coreSegment = 1
)

// ErrMalformedScanName indicates a scan name without a core segment.
var ErrMalformedScanName = errors.New("malformed scan name")

// ScanName is a scan identifier split into its underscore-delimited segments,
// e.g. "rfMRI_REST1_RL" -> ["rfMRI", "REST1", "RL"].
type ScanName struct {
	Raw      string
	Segments []string
}

// ParseScanName splits raw on SegmentSeparator.
//
// A name with fewer than two segments has no core name and is rejected.
func ParseScanName(raw string) (ScanName, error) {
	segments := strings.Split(raw, SegmentSeparator)
	if len(segments) <= coreSegment {
		return ScanName{}, fmt.Errorf("%w: %q has %d segment(s), need at least %d",
			ErrMalformedScanName, raw, len(segments), coreSegment+1)
	}
	return ScanName{Raw: raw, Segments: segments}, nil
}

// Core returns the core name segment.
func (s ScanName) Core() string {
	return s.Segments[coreSegment]
}

// SplitGroup splits a compound group token into its sub-scan names.
func SplitGroup(group string) []string {
	return strings.Split(group, ScanSeparator)
}
