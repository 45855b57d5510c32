// Package groups derives the functional-scan groups available for a subject
// and renders them into the scan-list parameters the processing pipeline
// expects.
//
// A group is named by the preprocessing directory it was derived from:
//
//	<archive>/.../RESOURCES/<group>_preproc
//
// Groups may be compound, joining several scans with "@"
// (e.g. "rfMRI_REST1_RL@rfMRI_REST1_LR").
package groups

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
)

const (
	// PreprocMarker terminates the group name in a preprocessing directory.
	PreprocMarker = "_preproc"

	// AllConcatPrefix starts the scan list when task data is included.
	AllConcatPrefix = "fMRI_ALL_CONCAT:"

	// RestConcatPrefix starts the scan list when task data is excluded.
	// NOTE: unlike AllConcatPrefix it has no trailing colon; downstream
	// parameter parsing depends on exactly this form.
	RestConcatPrefix = "fMRI_REST_CONCAT"

	concatSuffix = "_RL_LR"
)

// ErrMissingPreprocMarker indicates an archive path that does not end in
// <group>_preproc.
var ErrMissingPreprocMarker = errors.New("preproc directory path is missing " + PreprocMarker)

// Archive is the subset of the archive layout the resolver depends on.
type Archive interface {
	// AvailableFunctionalPreprocDirs returns absolute paths of the subject's
	// functional preprocessing directories.
	AvailableFunctionalPreprocDirs(ctx context.Context, info subject.Info) ([]string, error)
}

// Resolve returns the sorted, deduplicated group names for which
// preprocessed functional data exists.
func Resolve(ctx context.Context, archive Archive, info subject.Info) ([]string, error) {
	if archive == nil {
		return nil, errors.New("groups: archive is nil")
	}
	dirs, err := archive.AvailableFunctionalPreprocDirs(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("list preproc dirs for %s: %w", info.Session(), err)
	}

	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		name, err := GroupFromPath(dir)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// GroupFromPath extracts the text between the last path separator and
// PreprocMarker.
func GroupFromPath(path string) (string, error) {
	base := path[strings.LastIndex(path, string(filepath.Separator))+1:]
	idx := strings.Index(base, PreprocMarker)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingPreprocMarker, path)
	}
	return base[:idx], nil
}

// Expand renders groups as the comma separated scan list used by the
// pipeline's bold parameters.
//
// When includeTaskData is false, groups containing "tfmri" (any case) are
// left out.
func Expand(groups []string, includeTaskData bool) string {
	var b strings.Builder
	if includeTaskData {
		b.WriteString(AllConcatPrefix)
	} else {
		b.WriteString(RestConcatPrefix)
	}
	for _, g := range groups {
		if !includeTaskData && strings.Contains(strings.ToLower(g), "tfmri") {
			continue
		}
		b.WriteString(g)
		b.WriteString(",")
	}
	return strings.TrimRight(b.String(), ",")
}

// Concat builds the canonical concatenated run name for a compound group.
//
//	Concat("A_REST_1@B_REST_2") == "rfMRI_REST_RL_LR"
//	Concat("A_TASKX_1")         == "tfMRI_TASKX_RL_LR"
func Concat(group string) (string, error) {
	var cores []string
	seen := make(map[string]struct{})
	for _, raw := range SplitGroup(group) {
		scan, err := ParseScanName(raw)
		if err != nil {
			return "", err
		}
		core := scan.Core()
		if _, ok := seen[core]; ok {
			continue
		}
		seen[core] = struct{}{}
		cores = append(cores, core)
	}

	joined := strings.Join(cores, SegmentSeparator)
	if strings.Contains(joined, "REST") {
		return "rfMRI_" + joined + concatSuffix, nil
	}
	return "tfMRI_" + joined + concatSuffix, nil
}
