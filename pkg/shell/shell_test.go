package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunner_Success(t *testing.T) {
	stdout, _, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo queued")
	require.NoError(t, err)
	assert.Equal(t, "queued\n", string(stdout))
}

func TestExecRunner_Failure(t *testing.T) {
	stdout, _, err := ExecRunner{}.Run(context.Background(), "sh", "-c", "echo partial; echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, "partial\n", string(stdout))

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.ExitCode)
	assert.Equal(t, "boom", ce.Stderr)
	assert.Contains(t, err.Error(), "exited with code 3: boom")
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, _, err := ExecRunner{}.Run(context.Background(), "/nonexistent/definitely-not-here")
	require.Error(t, err)

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, -1, ce.ExitCode)
}
