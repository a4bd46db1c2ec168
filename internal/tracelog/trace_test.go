package tracelog_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/task"
	"taskforge/internal/tracelog"
)

func TestCanonicalizeOrdersEventsDeterministically(t *testing.T) {
	tr := tracelog.ExecutionTrace{
		GraphHash: "abc",
		Events: []tracelog.Event{
			{Kind: tracelog.EventTaskFailed, TaskID: "b"},
			{Kind: tracelog.EventTaskRun, TaskID: "b"},
			{Kind: tracelog.EventTaskRun, TaskID: "a"},
		},
	}
	tr.Canonicalize()

	var got []string
	for _, e := range tr.Events {
		got = append(got, e.TaskID+":"+string(e.Kind))
	}
	assert.Equal(t, []string{"a:TaskRun", "b:TaskRun", "b:TaskFailed"}, got)
}

func TestCanonicalJSONIsStableRegardlessOfInsertionOrder(t *testing.T) {
	a := tracelog.ExecutionTrace{GraphHash: "g", Events: []tracelog.Event{
		{Kind: tracelog.EventTaskRun, TaskID: "a"},
		{Kind: tracelog.EventTaskUpToDate, TaskID: "b"},
	}}
	b := tracelog.ExecutionTrace{GraphHash: "g", Events: []tracelog.Event{
		{Kind: tracelog.EventTaskUpToDate, TaskID: "b"},
		{Kind: tracelog.EventTaskRun, TaskID: "a"},
	}}

	ja, err := a.CanonicalJSON()
	require.NoError(t, err)
	jb, err := b.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestValidateRejectsMissingGraphHash(t *testing.T) {
	tr := tracelog.ExecutionTrace{Events: []tracelog.Event{{Kind: tracelog.EventTaskRun, TaskID: "a"}}}
	assert.Error(t, tr.Validate())
}

func TestGraphHashIsOrderIndependent(t *testing.T) {
	h1 := tracelog.GraphHash(map[string]string{"a": "1", "b": "2"})
	h2 := tracelog.GraphHash(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, h1, h2)

	h3 := tracelog.GraphHash(map[string]string{"a": "1", "b": "3"})
	assert.NotEqual(t, h1, h3)
}

func TestRecorderAccumulatesCanonicalTrace(t *testing.T) {
	rec := tracelog.NewRecorder(zerolog.Nop())
	rec.ExecuteTask(&task.Task{Name: "build"})
	rec.SkipUptodate(&task.Task{Name: "docs"})

	tr := rec.Trace("g")
	require.Len(t, tr.Events, 2)
	assert.Equal(t, "build", tr.Events[0].TaskID)
	assert.Equal(t, tracelog.EventTaskUpToDate, tr.Events[1].Kind)
}
