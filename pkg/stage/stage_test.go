package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMarker struct {
	calls int
	err   error
}

func (m *countingMarker) MarkQueued(context.Context) error {
	m.calls++
	return m.err
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want ProcessingStage
	}{
		{"PREPARE_SCRIPTS", PrepareScripts},
		{"get_data", GetData},
		{" Process_Data ", ProcessData},
		{"PUT_DATA", PutData},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Parse("CLEANUP")
	require.ErrorIs(t, err, ErrUnknownStage)
}

func TestOrdering(t *testing.T) {
	all := All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1], all[i])
	}
	assert.Equal(t, "PROCESS_DATA", ProcessData.String())
	assert.Equal(t, "ProcessingStage(9)", ProcessingStage(9).String())
}

func TestGate_MarkQueued(t *testing.T) {
	for _, s := range All() {
		t.Run(s.String(), func(t *testing.T) {
			m := &countingMarker{}
			marked, err := NewGate(s).MarkQueued(context.Background(), m)
			require.NoError(t, err)

			if s > PrepareScripts {
				assert.True(t, marked)
				assert.Equal(t, 1, m.calls)
			} else {
				assert.False(t, marked)
				assert.Equal(t, 0, m.calls)
			}
		})
	}
}

func TestGate_MarkQueued_NilMarkerAtPrepare(t *testing.T) {
	marked, err := NewGate(PrepareScripts).MarkQueued(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestGate_MarkQueued_PropagatesError(t *testing.T) {
	m := &countingMarker{err: assert.AnError}
	_, err := NewGate(GetData).MarkQueued(context.Background(), m)
	require.ErrorIs(t, err, assert.AnError)
}

func TestGate_Allows(t *testing.T) {
	g := NewGate(ProcessData)
	assert.True(t, g.Allows(GetData))
	assert.True(t, g.Allows(ProcessData))
	assert.False(t, g.Allows(PutData))
}
