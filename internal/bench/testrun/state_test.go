package testrun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/eventbench/internal/common/benchmarkerrors"
)

func TestTransition(t *testing.T) {
	all := States()
	allowed := map[TestRunState][]TestRunState{
		NotScheduled: {NotScheduled, Scheduled},
		Scheduled:    {NotScheduled, Scheduled, Started},
		Started:      {Started, Stopped, Completed},
		Stopped:      {Stopped},
		Completed:    {Completed},
	}
	for _, from := range all {
		for _, to := range all {
			legal := false
			for _, a := range allowed[from] {
				legal = legal || a == to
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				next, err := from.Transition(to)
				if legal {
					require.NoError(t, err)
					assert.Equal(t, to, next)
					return
				}
				var illegal *benchmarkerrors.ErrIllegalTransition
				require.ErrorAs(t, err, &illegal)
				assert.Equal(t, string(from), illegal.From)
				assert.Equal(t, string(to), illegal.To)
				assert.Equal(t, from, next)
			})
		}
	}
}

func TestParseTestRunState(t *testing.T) {
	tests := map[string]struct {
		value   string
		want    TestRunState
		wantErr bool
	}{
		"canonical":  {value: "STARTED", want: Started},
		"lower case": {value: "completed", want: Completed},
		"padded":     {value: " NOT_SCHEDULED ", want: NotScheduled},
		"unknown":    {value: "PAUSED", wantErr: true},
		"empty":      {value: "", wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			state, err := ParseTestRunState(tc.value)
			if tc.wantErr {
				var invalid *benchmarkerrors.ErrInvalidArgument
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, state)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var state TestRunState
	require.NoError(t, state.UnmarshalText([]byte("scheduled")))
	assert.Equal(t, Scheduled, state)
	assert.Error(t, state.UnmarshalText([]byte("bogus")))
	assert.Equal(t, Scheduled, state)
}

func TestStateProperties(t *testing.T) {
	assert.True(t, NotScheduled.PropertiesWritable())
	assert.True(t, Scheduled.PropertiesWritable())
	assert.False(t, Started.PropertiesWritable())
	assert.False(t, Stopped.PropertiesWritable())
	assert.False(t, Completed.PropertiesWritable())

	assert.False(t, Started.IsTerminal())
	assert.True(t, Stopped.IsTerminal())
	assert.True(t, Completed.IsTerminal())
}

func TestNext(t *testing.T) {
	assert.Equal(t, []TestRunState{Started, Stopped, Completed}, Started.Next())

	next := Scheduled.Next()
	next[0] = Completed
	assert.Equal(t, NotScheduled, Scheduled.Next()[0])
}
