package runner_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/depstore"
	"taskforge/internal/dispatch"
	"taskforge/internal/graph"
	"taskforge/internal/runner"
	"taskforge/internal/task"
	"taskforge/internal/uptodate"
)

func newStore(t *testing.T) *depstore.Store {
	t.Helper()
	backend, err := depstore.OpenJSON(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	return depstore.New(backend)
}

func TestRunExecutesInTaskDepOrder(t *testing.T) {
	var order []string
	record := func(name string) task.Action {
		return task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
			order = append(order, name)
			return nil
		})
	}

	tasks := []*task.Task{
		{Name: "a", Actions: []task.Action{record("a")}},
		{Name: "b", TaskDep: []string{"a"}, Actions: []task.Action{record("b")}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	r := runner.New(g, newStore(t), nil)
	res, err := r.Run(context.Background(), []string{"b"}, runner.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, dispatch.StatusDone, res.Status["a"])
	assert.Equal(t, dispatch.StatusDone, res.Status["b"])
}

func TestRunSkipsUpToDateTaskOnSecondRun(t *testing.T) {
	runs := 0
	newTasks := func() []*task.Task {
		return []*task.Task{{
			Name:     "once",
			Uptodate: []task.UptodateEntry{uptodate.RunOnce{}},
			Actions: []task.Action{task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
				runs++
				return nil
			})},
		}}
	}
	store := newStore(t)

	g, err := graph.New(newTasks())
	require.NoError(t, err)
	r := runner.New(g, store, nil)
	res, err := r.Run(context.Background(), []string{"once"}, runner.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	assert.Equal(t, dispatch.StatusDone, res.Status["once"])

	// A fresh graph (as if a new process re-read the same definitions)
	// sharing the same store: run_once must now report up-to-date and the
	// action must not execute a second time.
	g2, err := graph.New(newTasks())
	require.NoError(t, err)
	r2 := runner.New(g2, store, nil)
	res2, err := r2.Run(context.Background(), []string{"once"}, runner.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, runs, "run_once must prevent a second execution")
	assert.Equal(t, dispatch.StatusUpToDate, res2.Status["once"])
}

func TestRunFailurePropagatesSkipToDependents(t *testing.T) {
	tasks := []*task.Task{
		{Name: "a", Actions: []task.Action{task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
			return task.NewFailure("boom")
		})}},
		{Name: "b", TaskDep: []string{"a"}, Actions: []task.Action{task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
			t.Values = map[string]any{"ran": true}
			return nil
		})}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	r := runner.New(g, newStore(t), nil)
	res, err := r.Run(context.Background(), []string{"b"}, runner.Options{})
	require.NoError(t, err, "Run itself only errors on internal/dispatcher faults; task failures surface via Result.Status")

	assert.Equal(t, dispatch.StatusFailure, res.Status["a"])
	assert.Equal(t, dispatch.StatusSkipped, res.Status["b"])
}

func TestRunContinueModeRunsIndependentBranchAfterFailure(t *testing.T) {
	tasks := []*task.Task{
		{Name: "broken", Actions: []task.Action{task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
			return task.NewFailure("boom")
		})}},
		{Name: "independent", Actions: []task.Action{task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
			return nil
		})}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	r := runner.New(g, newStore(t), nil)
	res, err := r.Run(context.Background(), []string{"broken", "independent"}, runner.Options{Continue: true})
	require.NoError(t, err)

	assert.Equal(t, dispatch.StatusFailure, res.Status["broken"])
	assert.Equal(t, dispatch.StatusDone, res.Status["independent"])
}

func TestRunResolvesGetArgsFromProducerValues(t *testing.T) {
	tasks := []*task.Task{
		{Name: "producer", Actions: []task.Action{task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
			t.Values = map[string]any{"version": "1.2.3"}
			return nil
		})}},
		{
			Name:    "consumer",
			TaskDep: []string{"producer"},
			GetArgs: map[string]string{"ver": "producer.version"},
			Actions: []task.Action{task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
				if t.Values["ver"] != "1.2.3" {
					return task.NewFailure("getargs did not resolve, got %v", t.Values["ver"])
				}
				return nil
			})},
		},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	r := runner.New(g, newStore(t), nil)
	res, err := r.Run(context.Background(), []string{"consumer"}, runner.Options{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusDone, res.Status["consumer"])
}

func TestRunExecutesTeardownInReverseOrder(t *testing.T) {
	var teardownOrder []string
	teardown := func(name string) task.Action {
		return task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error {
			teardownOrder = append(teardownOrder, name)
			return nil
		})
	}
	noop := task.ActionFunc(func(t *task.Task, stdout, stderr *task.Sink) error { return nil })

	tasks := []*task.Task{
		{Name: "a", Actions: []task.Action{noop}, Teardown: []task.Action{teardown("a")}},
		{Name: "b", TaskDep: []string{"a"}, Actions: []task.Action{noop}, Teardown: []task.Action{teardown("b")}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	r := runner.New(g, newStore(t), nil)
	_, err = r.Run(context.Background(), []string{"b"}, runner.Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "a"}, teardownOrder)
}
