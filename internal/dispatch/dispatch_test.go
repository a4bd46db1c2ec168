package dispatch_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/dispatch"
	"taskforge/internal/graph"
	"taskforge/internal/task"
)

// drive runs the dispatcher to completion, classifying every yielded node
// as immediately "done" (as if the up-to-date engine always said
// up-to-date), and returns the order nodes were yielded in.
func drive(t *testing.T, d *dispatch.Dispatcher) []string {
	t.Helper()
	var order []string
	var last *dispatch.ExecNode
	for {
		res, err := d.Next(last)
		require.NoError(t, err)
		if res.Done {
			return order
		}
		require.False(t, res.Hold, "dispatcher held with nothing driving it")
		order = append(order, res.Node.Task.Name)
		res.Node.RunStatus = dispatch.StatusDone
		last = res.Node
	}
}

func TestLinearOrderRespectsTaskDep(t *testing.T) {
	tasks := []*task.Task{
		{Name: "a"},
		{Name: "b", TaskDep: []string{"a"}},
		{Name: "c", TaskDep: []string{"b"}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	d := dispatch.New(g, []string{"c"}, false)
	order := drive(t, d)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestCycleDetected(t *testing.T) {
	tasks := []*task.Task{
		{Name: "a", TaskDep: []string{"b"}},
		{Name: "b", TaskDep: []string{"a"}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	d := dispatch.New(g, []string{"a"}, false)
	var last *dispatch.ExecNode
	var derr error
	for i := 0; i < 10; i++ {
		var res dispatch.Result
		res, derr = d.Next(last)
		if derr != nil {
			break
		}
		if res.Done {
			break
		}
		res.Node.RunStatus = dispatch.StatusDone
		last = res.Node
	}
	require.Error(t, derr)
	var cerr *dispatch.CycleError
	assert.ErrorAs(t, derr, &cerr)
}

func TestFailurePropagatesToDependents(t *testing.T) {
	tasks := []*task.Task{
		{Name: "a"},
		{Name: "b", TaskDep: []string{"a"}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	d := dispatch.New(g, []string{"b"}, false)

	res, err := d.Next(nil)
	require.NoError(t, err)
	require.Equal(t, "a", res.Node.Task.Name)
	res.Node.RunStatus = dispatch.StatusFailure
	a := res.Node

	res, err = d.Next(a)
	require.NoError(t, err)
	require.Equal(t, "b", res.Node.Task.Name)
	assert.Len(t, res.Node.BadDeps, 1)
}

func TestSetupTasksRunBeforeSecondYield(t *testing.T) {
	tasks := []*task.Task{
		{Name: "setup"},
		{Name: "main", SetupTasks: []string{"setup"}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	d := dispatch.New(g, []string{"main"}, false)

	res, err := d.Next(nil)
	require.NoError(t, err)
	require.Equal(t, "main", res.Node.Task.Name, "first yield is the selection pass")
	main := res.Node
	main.RunStatus = dispatch.StatusRun

	res, err = d.Next(main)
	require.NoError(t, err)
	require.Equal(t, "setup", res.Node.Task.Name)
	res.Node.RunStatus = dispatch.StatusDone
	setup := res.Node

	res, err = d.Next(setup)
	require.NoError(t, err)
	require.Equal(t, "main", res.Node.Task.Name, "second yield is the execution pass")
}
