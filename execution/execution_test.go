package execution

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/ids"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	e := New("pl_1", "1.0.2", true, t0)
	assert.True(t, ids.HasPrefix(e.ID, ids.ExecutionPrefix))
	assert.Equal(t, StatusRunning, e.Status)
	assert.Equal(t, "1.0.2", e.PipelineVersion)
	assert.True(t, e.DryRun)
	assert.Nil(t, e.EndTime)
	assert.Zero(t, e.Duration())
}

func TestTransitions(t *testing.T) {
	tests := []struct {
		name   string
		finish func(*Execution) error
		want   Status
	}{
		{"complete", func(e *Execution) error { return e.Complete(t0.Add(time.Second), 2, 1) }, StatusCompleted},
		{"fail", func(e *Execution) error { return e.Fail(t0.Add(time.Second), 0, 0) }, StatusFailed},
		{"cancel", func(e *Execution) error { return e.Cancel(t0.Add(time.Second)) }, StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("pl_1", "1.0.0", false, t0)
			require.NoError(t, tt.finish(e))
			assert.Equal(t, tt.want, e.Status)
			assert.Equal(t, time.Second, e.Duration())
			assert.True(t, e.Status.IsTerminal())

			// Terminal states are final
			err := e.Complete(t0.Add(time.Hour), 9, 9)
			require.Error(t, err)
			assert.True(t, errors.HasAssertionFailure(err))
			assert.Equal(t, tt.want, e.Status)
			assert.Equal(t, time.Second, e.Duration())
		})
	}
}

func TestCompleteSetsCounters(t *testing.T) {
	e := New("pl_1", "1.0.0", false, t0)
	require.NoError(t, e.Complete(t0.Add(time.Millisecond), 42, 3))
	assert.Equal(t, 42, e.RecordsProcessed)
	assert.Equal(t, 3, e.RecordsFailed)
}

func TestMarshalJSONDuration(t *testing.T) {
	e := New("pl_1", "1.0.0", false, t0)
	b, err := json.Marshal(e)
	require.NoError(t, err)
	var running map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &running))
	assert.NotContains(t, running, "duration")
	assert.Equal(t, "running", running["status"])
	assert.Equal(t, "pl_1", running["pipelineId"])

	require.NoError(t, e.Complete(t0.Add(1500*time.Millisecond), 1, 0))
	b, err = json.Marshal(e)
	require.NoError(t, err)
	var done map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &done))
	assert.Equal(t, 1500.0, done["duration"])
	assert.Equal(t, 1.0, done["recordsProcessed"])
}

func TestClone(t *testing.T) {
	e := New("pl_1", "1.0.0", false, t0)
	e.Logs = append(e.Logs, LogEntry{Message: "x", Context: map[string]interface{}{"n": 1.0}})
	er := NewError(KindSystem, "boom", t0)
	er.OffendingRecord = map[string]interface{}{"id": 1.0}
	e.Errors = append(e.Errors, er)

	c := e.Clone()
	c.Logs[0].Context["n"] = 2.0
	c.Errors[0].OffendingRecord["id"] = 2.0
	c.Status = StatusFailed

	assert.Equal(t, 1.0, e.Logs[0].Context["n"])
	assert.Equal(t, 1.0, e.Errors[0].OffendingRecord["id"])
	assert.Equal(t, StatusRunning, e.Status)
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("cancelled"))
	assert.False(t, IsValidStatus("queued"))
}
