// Package loader reads a TOML task-definition file into the declarative
// task.Task values the rest of the execution core operates on.
//
// Grounded on emergent-company-specmcp's use of github.com/BurntSushi/toml
// for configuration loading (the pack's only concrete example of a TOML
// config reader) and on original_source/dodo.py's role as the declarative
// task-definition source doit itself reads at startup.
package loader

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"taskforge/internal/task"
	"taskforge/internal/uptodate"
)

// FileSpec is the top-level shape of a task-definition file: a flat list
// of [[task]] tables.
type FileSpec struct {
	Task []TaskSpec `toml:"task"`
}

// TaskSpec is the on-disk shape of one task; see spec.md §3 for the
// semantics each field maps onto.
type TaskSpec struct {
	Name       string            `toml:"name"`
	FileDep    []string          `toml:"file_dep"`
	Targets    []string          `toml:"targets"`
	TaskDep    []string          `toml:"task_dep"`
	SetupTasks []string          `toml:"setup_tasks"`
	CalcDep    []string          `toml:"calc_dep"`
	WildDep    []string          `toml:"wild_dep"`
	GetArgs    map[string]string `toml:"getargs"`
	Uptodate   []string          `toml:"uptodate"`
	Run        string            `toml:"run"`
	Actions    []string          `toml:"actions"`
	Teardown   []string          `toml:"teardown"`
	Dir        string            `toml:"dir"`
	Env        map[string]string `toml:"env"`
}

// LoadFile parses path and builds the corresponding []*task.Task, in
// file-declaration order (the order TaskGraph.New needs for deterministic
// canonical indexing).
func LoadFile(path string) ([]*task.Task, error) {
	var spec FileSpec
	if _, err := toml.DecodeFile(path, &spec); err != nil {
		return nil, errors.Wrapf(err, "loader: decode %s", path)
	}
	tasks, err := build(path, spec)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return tasks, nil
}

func build(source string, spec FileSpec) ([]*task.Task, error) {
	tasks := make([]*task.Task, 0, len(spec.Task))
	seen := map[string]bool{}

	for _, ts := range spec.Task {
		if ts.Name == "" {
			return nil, fmt.Errorf("loader: %s: task missing required 'name' field", source)
		}
		if seen[ts.Name] {
			return nil, fmt.Errorf("loader: %s: duplicate task name %q", source, ts.Name)
		}
		seen[ts.Name] = true

		t := &task.Task{
			Name:       ts.Name,
			FileDep:    ts.FileDep,
			Targets:    ts.Targets,
			TaskDep:    ts.TaskDep,
			SetupTasks: ts.SetupTasks,
			CalcDep:    ts.CalcDep,
			WildDep:    ts.WildDep,
			GetArgs:    ts.GetArgs,
		}

		commands := append([]string(nil), ts.Actions...)
		if ts.Run != "" {
			commands = append([]string{ts.Run}, commands...)
		}
		for _, cmd := range commands {
			t.Actions = append(t.Actions, task.NewShellAction(cmd, ts.Dir, ts.Env))
		}
		for _, cmd := range ts.Teardown {
			t.Teardown = append(t.Teardown, task.NewShellAction(cmd, ts.Dir, ts.Env))
		}

		for _, name := range ts.Uptodate {
			entry, err := buildPredicate(ts.Name, name)
			if err != nil {
				return nil, fmt.Errorf("loader: %s: %w", source, err)
			}
			t.Uptodate = append(t.Uptodate, entry)
		}

		tasks = append(tasks, t)
	}
	return tasks, nil
}

// buildPredicate resolves the small set of uptodate predicates a TOML file
// can name directly, without custom Go code: "run_once" is the only
// zero-configuration predicate spec.md's SUPPLEMENTED FEATURES lists.
// config_changed, timeout, check_timestamp_unchanged and result_dep need
// parameters (a config value, a duration, a path, a set of dependency task
// names) that only a Go-level loader extension point can supply; see
// DESIGN.md.
func buildPredicate(taskName, name string) (task.UptodateEntry, error) {
	switch name {
	case "run_once":
		return uptodate.RunOnce{}, nil
	default:
		return nil, fmt.Errorf("task %q: unknown uptodate predicate %q", taskName, name)
	}
}
