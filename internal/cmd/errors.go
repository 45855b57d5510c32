package cmd

import (
	"context"
	"errors"
	"io/fs"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/ccfpipelines/icafixsubmit/internal/config"
	"github.com/ccfpipelines/icafixsubmit/internal/credentials"
	"github.com/ccfpipelines/icafixsubmit/pkg/archive"
	"github.com/ccfpipelines/icafixsubmit/pkg/groups"
	"github.com/ccfpipelines/icafixsubmit/pkg/history"
	"github.com/ccfpipelines/icafixsubmit/pkg/output"
	"github.com/ccfpipelines/icafixsubmit/pkg/params"
	"github.com/ccfpipelines/icafixsubmit/pkg/script"
	"github.com/ccfpipelines/icafixsubmit/pkg/shell"
	"github.com/ccfpipelines/icafixsubmit/pkg/stage"
	"github.com/ccfpipelines/icafixsubmit/pkg/subject"
	"github.com/ccfpipelines/icafixsubmit/pkg/submitter"
)

// exitFailure is returned for failures no other code describes.
const exitFailure = 1

// exitCodeFor maps a failure onto a foundry exit code.
func exitCodeFor(err error) int {
	var archiveErr *archive.Error
	var cmdErr *shell.CommandError
	var pathErr *fs.PathError
	switch {
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errors.Is(err, archive.ErrSessionNotFound):
		return foundry.ExitFileNotFound
	case errors.As(err, &archiveErr):
		return foundry.ExitFileReadError
	case errors.Is(err, script.ErrWrite):
		return foundry.ExitFileWriteError
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, credentials.ErrNotFound),
		errors.Is(err, params.ErrInvalid),
		errors.Is(err, subject.ErrIncomplete),
		errors.Is(err, stage.ErrUnknownStage),
		errors.Is(err, groups.ErrMissingPreprocMarker),
		errors.Is(err, groups.ErrMalformedScanName),
		errors.Is(err, submitter.ErrMisconfigured),
		errors.Is(err, submitter.ErrNoPutServers),
		errors.Is(err, history.ErrInvalidAttempt):
		return foundry.ExitInvalidArgument
	case errors.As(err, &cmdErr), errors.Is(err, context.DeadlineExceeded):
		return foundry.ExitExternalServiceUnavailable
	case errors.As(err, &pathErr):
		return foundry.ExitFileWriteError
	}
	return exitFailure
}

// errorRecordCode picks the JSONL error code for a failure.
func errorRecordCode(err error) string {
	switch exitCodeFor(err) {
	case foundry.ExitInvalidArgument:
		return output.ErrCodeInvalidInput
	case foundry.ExitFileNotFound, foundry.ExitFileReadError, foundry.ExitFileWriteError:
		return output.ErrCodeFilesystem
	case foundry.ExitExternalServiceUnavailable:
		return output.ErrCodeScheduler
	}
	return output.ErrCodeInternal
}
