// Package graph implements the TaskGraph component of spec.md §4.1: it
// validates and indexes a set of tasks, resolves targets to the tasks that
// produce them, expands wildcard dependencies, and injects implicit
// task_dep edges from file_dep/target matches.
//
// Grounded on the teacher's internal/dag/taskgraph.go (canonical indexing,
// duplicate/self-loop/cycle detection) and on original_source/doit/control.py's
// TaskControl (__init__, _init_implicit_deps, add_implicit_task_dep,
// _get_wild_tasks, _process_filter, _filter_tasks) for the exact
// spec-mandated semantics.
package graph

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"taskforge/internal/task"
)

// Error is a graph validation failure (spec.md §7 InvalidDodoFile /
// InvalidTask, depending on Kind).
type Error struct {
	Kind string // "invalid-task", "invalid-dodo-file", "invalid-command"
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func invalidTask(format string, args ...any) error {
	return &Error{Kind: "invalid-task", Msg: fmt.Sprintf(format, args...)}
}

func invalidDodoFile(format string, args ...any) error {
	return &Error{Kind: "invalid-dodo-file", Msg: fmt.Sprintf(format, args...)}
}

func invalidCommand(format string, args ...any) error {
	return &Error{Kind: "invalid-command", Msg: fmt.Sprintf(format, args...)}
}

// TaskGraph validates and indexes a set of tasks (spec.md §4.1).
//
// It is immutable after construction (aside from the mutations the
// dispatcher performs on individual *task.Task values for calc_dep
// expansion, which do not change the graph's indices).
type TaskGraph struct {
	byName  map[string]*task.Task
	defOrder []string // names, in definition order
	targets map[string]string // target path -> producing task name
}

// New builds and validates a TaskGraph from tasks in definition order,
// performing, in order, the steps spec.md §4.1 lists: uniqueness check,
// a ConfigureTask call on every task.Configurer uptodate entry,
// wild_dep expansion, task_dep/setup_tasks existence validation, target
// index construction with duplicate-target detection, and implicit
// task_dep injection.
func New(tasks []*task.Task) (*TaskGraph, error) {
	g := &TaskGraph{
		byName:  make(map[string]*task.Task, len(tasks)),
		targets: make(map[string]string, len(tasks)),
	}

	// (a) uniqueness check on name.
	for _, t := range tasks {
		if t.Name == "" {
			return nil, invalidTask("task name is required")
		}
		if _, exists := g.byName[t.Name]; exists {
			return nil, invalidDodoFile("duplicate task name: %q", t.Name)
		}
		g.byName[t.Name] = t
		g.defOrder = append(g.defOrder, t.Name)
	}

	// Uptodate entries implementing task.Configurer adjust their task
	// (e.g. result_dep appending a task_dep) before anything is validated.
	for _, t := range tasks {
		for _, entry := range t.Uptodate {
			if c, ok := entry.(task.Configurer); ok {
				c.ConfigureTask(t)
			}
		}
	}

	// (b) expand wild-card task dependencies.
	for _, t := range tasks {
		for _, pattern := range t.WildDep {
			for _, match := range g.wildTasks(pattern) {
				if !contains(t.TaskDep, match) {
					t.TaskDep = append(t.TaskDep, match)
				}
			}
		}
	}

	// (c) validate task_dep / setup_tasks / calc_dep / getargs targets exist.
	for _, t := range tasks {
		for _, dep := range t.TaskDep {
			if _, ok := g.byName[dep]; !ok {
				return nil, invalidTask("%s: task dependency %q does not exist", t.Name, dep)
			}
		}
		for _, st := range t.SetupTasks {
			if _, ok := g.byName[st]; !ok {
				return nil, invalidTask("%s: invalid setup task %q", t.Name, st)
			}
		}
		for _, cd := range t.CalcDep {
			if _, ok := g.byName[cd]; !ok {
				return nil, invalidTask("%s: invalid calc_dep %q", t.Name, cd)
			}
		}
		for param, ref := range t.GetArgs {
			other, _, ok := splitGetArgRef(ref)
			if !ok {
				return nil, invalidTask("%s: malformed getargs %q -> %q", t.Name, param, ref)
			}
			if _, ok := g.byName[other]; !ok {
				return nil, invalidTask("%s: getargs %q references unknown task %q", t.Name, param, other)
			}
		}
	}

	// (d) target -> task-name index, with duplicate-target detection.
	for _, t := range tasks {
		for _, target := range t.Targets {
			if owner, exists := g.targets[target]; exists {
				return nil, invalidTask(
					"two different tasks can't have a common target: %q is a target for %s and %s",
					target, t.Name, owner)
			}
			g.targets[target] = t.Name
		}
	}

	// (e) implicit task_dep injection.
	for _, t := range tasks {
		AddImplicitTaskDep(g.targets, t, t.FileDep)
	}

	return g, nil
}

// AddImplicitTaskDep appends, to t.TaskDep, the producing task name for
// every dep in depsList that matches a known target — unless already
// present. Exported because the dispatcher re-runs this exact step when a
// calc_dep result contributes new file_dep (spec.md §4.2 "Calc-dep
// effect"); see original_source/doit/control.py's
// TaskControl.add_implicit_task_dep (a @staticmethod there for the same
// reason).
func AddImplicitTaskDep(targets map[string]string, t *task.Task, depsList []string) {
	for _, dep := range depsList {
		owner, ok := targets[dep]
		if !ok {
			continue
		}
		if owner == t.Name {
			continue
		}
		if !contains(t.TaskDep, owner) {
			t.TaskDep = append(t.TaskDep, owner)
		}
	}
}

func (g *TaskGraph) wildTasks(pattern string) []string {
	var out []string
	for _, name := range g.defOrder {
		if ok, _ := filepath.Match(pattern, name); ok {
			out = append(out, name)
		}
	}
	return out
}

// Task returns the task registered under name, if any.
func (g *TaskGraph) Task(name string) (*task.Task, bool) {
	t, ok := g.byName[name]
	return t, ok
}

// Targets returns the target -> producing-task-name index.
func (g *TaskGraph) Targets() map[string]string { return g.targets }

// DefinitionOrder returns task names in the order New() received them.
func (g *TaskGraph) DefinitionOrder() []string {
	out := make([]string, len(g.defOrder))
	copy(out, g.defOrder)
	return out
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int { return len(g.defOrder) }

// Selection is the resolved outcome of Filter: an ordered list of task
// names plus any per-task command-line options addressed by the
// selection tokens (SPEC_FULL.md SUPPLEMENTED FEATURES: "Command-line
// task options").
type Selection struct {
	Tasks   []string
	Options map[string][]string // task name -> raw option tokens
}

// Filter resolves the user's command-line-provided selection into an
// ordered list of task names (spec.md §4.1).
//
// Each token is either a task name, a target path (looked up in the
// index), or a glob over task names. A nil/empty tokens slice is
// equivalent to "all tasks in definition order". An unknown token fails
// the whole command (InvalidCommand).
func (g *TaskGraph) Filter(tokens []string) (*Selection, error) {
	if len(tokens) == 0 {
		return &Selection{Tasks: g.DefinitionOrder()}, nil
	}

	sel := &Selection{Options: map[string][]string{}}
	seq := append([]string(nil), tokens...)

	for len(seq) > 0 {
		name := seq[0]
		seq = seq[1:]

		if strings.ContainsAny(name, "*?[") {
			for _, match := range g.wildTasks(name) {
				if err := g.resolveToken(sel, match); err != nil {
					return nil, err
				}
			}
			continue
		}

		if err := g.resolveToken(sel, name); err != nil {
			return nil, err
		}

		// Remaining tokens up to the next recognizable task/target/glob
		// token are this task's own command-line options.
		var opts []string
		for len(seq) > 0 && !g.looksLikeSelector(seq[0]) {
			opts = append(opts, seq[0])
			seq = seq[1:]
		}
		if len(opts) > 0 {
			sel.Options[name] = opts
		}
	}
	return sel, nil
}

func (g *TaskGraph) resolveToken(sel *Selection, token string) error {
	if _, ok := g.byName[token]; ok {
		sel.Tasks = append(sel.Tasks, token)
		return nil
	}
	if owner, ok := g.targets[token]; ok {
		sel.Tasks = append(sel.Tasks, owner)
		return nil
	}
	return invalidCommand(
		`run invalid parameter: %q. Must be a task, or a target. Run "list" to see available tasks`, token)
}

func (g *TaskGraph) looksLikeSelector(token string) bool {
	if _, ok := g.byName[token]; ok {
		return true
	}
	if _, ok := g.targets[token]; ok {
		return true
	}
	return strings.ContainsAny(token, "*?[")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func splitGetArgRef(ref string) (taskName, key string, ok bool) {
	idx := strings.LastIndex(ref, ".")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}

// SplitGetArgRef exposes splitGetArgRef for the runner's getargs
// resolution (spec.md §4.5).
func SplitGetArgRef(ref string) (taskName, key string, ok bool) { return splitGetArgRef(ref) }

// SortedNames is a small helper used by list-style reporting: stable,
// deterministic iteration order.
func SortedNames(m map[string]*task.Task) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
