package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/graph"
	"taskforge/internal/task"
)

func TestNewRejectsDuplicateNames(t *testing.T) {
	tasks := []*task.Task{
		{Name: "build"},
		{Name: "build"},
	}
	_, err := graph.New(tasks)
	require.Error(t, err)
	var gerr *graph.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "invalid-dodo-file", gerr.Kind)
}

func TestNewRejectsUnknownTaskDep(t *testing.T) {
	tasks := []*task.Task{
		{Name: "build", TaskDep: []string{"missing"}},
	}
	_, err := graph.New(tasks)
	require.Error(t, err)
}

func TestNewRejectsDuplicateTarget(t *testing.T) {
	tasks := []*task.Task{
		{Name: "a", Targets: []string{"out.bin"}},
		{Name: "b", Targets: []string{"out.bin"}},
	}
	_, err := graph.New(tasks)
	require.Error(t, err)
}

func TestImplicitTaskDepFromFileDepMatchingTarget(t *testing.T) {
	tasks := []*task.Task{
		{Name: "compile", Targets: []string{"app.o"}},
		{Name: "link", FileDep: []string{"app.o"}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	link, ok := g.Task("link")
	require.True(t, ok)
	assert.Contains(t, link.TaskDep, "compile")
}

func TestWildDepExpandsAgainstDeclaredTasks(t *testing.T) {
	tasks := []*task.Task{
		{Name: "gen:a"},
		{Name: "gen:b"},
		{Name: "all", WildDep: []string{"gen:*"}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	all, ok := g.Task("all")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"gen:a", "gen:b"}, all.TaskDep)
}

func TestFilterByTargetResolvesToProducingTask(t *testing.T) {
	tasks := []*task.Task{
		{Name: "compile", Targets: []string{"app.o"}},
		{Name: "link", FileDep: []string{"app.o"}},
	}
	g, err := graph.New(tasks)
	require.NoError(t, err)

	sel, err := g.Filter([]string{"app.o"})
	require.NoError(t, err)
	assert.Equal(t, []string{"compile"}, sel.Tasks)
}

func TestFilterRejectsUnknownToken(t *testing.T) {
	g, err := graph.New([]*task.Task{{Name: "build"}})
	require.NoError(t, err)

	_, err = g.Filter([]string{"nope"})
	require.Error(t, err)
}

func TestFilterCollectsPerTaskOptions(t *testing.T) {
	g, err := graph.New([]*task.Task{{Name: "build"}, {Name: "test"}})
	require.NoError(t, err)

	sel, err := g.Filter([]string{"build", "--race", "test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "test"}, sel.Tasks)
	assert.Equal(t, []string{"--race"}, sel.Options["build"])
}
