// Package task defines the declarative unit of work (spec.md §3 "Task") and
// the small set of interfaces the rest of the execution core builds on:
// UptodateEntry (§4.3), Action (§6's action contract), and the typed
// failure/error values actions report.
//
// This package is intentionally inert: it holds data and contracts, never
// performs I/O or makes scheduling decisions. That is left to graph,
// dispatch, uptodate, depstore and runner.
package task

import "fmt"

// Task is the unit of work declared by a configuration source.
//
// Field names follow spec.md §3 verbatim (file_dep, task_dep, setup_tasks,
// calc_dep, wild_dep, getargs) so the rest of the core can be read against
// the spec directly.
type Task struct {
	// Name is the stable identifier, unique per run. May contain ':' to
	// denote a sub-task of a group (e.g. "gen:item1").
	Name string

	// Actions is the ordered list of side-effecting operations. Empty
	// means this is a group task: a pure ordering container.
	Actions []Action

	// FileDep is the set of file paths this task reads.
	FileDep []string

	// Targets is the set of file paths this task produces.
	Targets []string

	// TaskDep is the set of task names that must run (or be confirmed
	// up-to-date) before this task.
	TaskDep []string

	// SetupTasks must run before this task is executed, but only if this
	// task itself has been classified as must-run.
	SetupTasks []string

	// CalcDep is the set of task names whose results contribute additional
	// FileDep/TaskDep/CalcDep to this task, known only after they run.
	CalcDep []string

	// Uptodate is the ordered list of predicate entries consulted by the
	// UpToDateEngine (spec.md §4.3).
	Uptodate []UptodateEntry

	// WildDep is the set of glob patterns over task names, expanded at
	// graph construction into TaskDep.
	WildDep []string

	// Result is the value returned by the last action: either opaque bytes
	// / string (fingerprinted as its digest) or a map[string]any (stored
	// verbatim).
	Result any

	// Values holds user-supplied per-task values persisted across runs.
	Values map[string]any

	// GetArgs maps parameter-name to "other-task.key": before this task
	// runs, each named value is fetched from another task's persisted
	// Values and supplied as a parameter.
	GetArgs map[string]string

	// Teardown actions execute after the whole run, if the task ran.
	Teardown []Action

	// ValueSavers accumulate closures registered by Uptodate predicates
	// during evaluation. The runner invokes them only on success and
	// merges their output into Values before persisting (the upstream
	// doit project's "value_savers" mechanism — see SPEC_FULL.md
	// SUPPLEMENTED FEATURES).
	ValueSavers []func() map[string]any

	// DepChanged is populated by the UpToDateEngine: the file_dep entries
	// found to have changed (or, if not up-to-date because of a missing
	// target, the full FileDep list).
	DepChanged []string

	// HasSubtasks marks a group task whose name is a prefix for
	// "name:sub" sub-tasks. Nothing in the core reads it; the result_dep
	// predicate learns a group's sub-tasks through ResultDep.SubtasksOf.
	HasSubtasks bool

	// params holds resolved command-line options for this task, set by
	// the selection/CLI layer (SPEC_FULL.md SUPPLEMENTED FEATURES:
	// "Command-line task options").
	params map[string][]string
}

// Params returns the command-line options addressed to this task by the
// current selection, or nil if none were supplied.
func (t *Task) Params() map[string][]string { return t.params }

// SetParams installs command-line options addressed to this task. Called
// by the selection/front-end layer, never by the core scheduler.
func (t *Task) SetParams(p map[string][]string) { t.params = p }

// IsGroup reports whether this task is a pure ordering container.
func (t *Task) IsGroup() bool { return len(t.Actions) == 0 }

// MergeCalcDepValues merges the values a finished calc_dep task stored
// (values["file_dep"], values["task_dep"], values["calc_dep"]) into t,
// returning only the genuinely new entries. The dispatcher uses the
// returned file_dep list to re-run implicit task_dep injection against the
// graph's target index (spec.md §4.2 "Calc-dep effect"), and extends its own pending-dependency cursors with the
// returned task_dep/calc_dep.
func (t *Task) MergeCalcDepValues(values map[string]any) (newFileDep, newTaskDep, newCalcDep []string) {
	if v, ok := values["file_dep"]; ok {
		for _, s := range toStringSlice(v) {
			if !contains(t.FileDep, s) {
				t.FileDep = append(t.FileDep, s)
				newFileDep = append(newFileDep, s)
			}
		}
	}
	if v, ok := values["task_dep"]; ok {
		for _, s := range toStringSlice(v) {
			if !contains(t.TaskDep, s) {
				t.TaskDep = append(t.TaskDep, s)
				newTaskDep = append(newTaskDep, s)
			}
		}
	}
	if v, ok := values["calc_dep"]; ok {
		for _, s := range toStringSlice(v) {
			if !contains(t.CalcDep, s) {
				t.CalcDep = append(t.CalcDep, s)
				newCalcDep = append(newCalcDep, s)
			}
		}
	}
	return
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	default:
		return nil
	}
}

// String implements fmt.Stringer for debug/log output.
func (t *Task) String() string { return t.Name }

// UptodateEntry is one entry of Task.Uptodate: a constant, a plain
// predicate function, or a stateful Calculator (spec.md §9 "Dynamic
// predicate objects with saved values").
//
// Evaluate returns nil to mean "abstain" (the Python source's bare `None`
// return). A non-nil *bool true means "checked up-to-date"; false means
// "force run" and short-circuits the rest of the classification.
type UptodateEntry interface {
	Evaluate(t *Task, priorValues map[string]any) (*bool, error)
}

// Configurer is implemented by Uptodate entries that need to mutate the
// task at graph-construction time (e.g. result_dep appending an implicit
// TaskDep). Called once, before TaskGraph validation.
type Configurer interface {
	ConfigureTask(t *Task)
}

type constEntry struct{ val *bool }

func (c constEntry) Evaluate(*Task, map[string]any) (*bool, error) { return c.val, nil }

// Always returns an UptodateEntry that always reports up-to-date.
func Always() UptodateEntry { v := true; return constEntry{&v} }

// Never returns an UptodateEntry that always forces a run.
func Never() UptodateEntry { v := false; return constEntry{&v} }

// Abstain returns an UptodateEntry equivalent to a null/None result: it
// never by itself decides the outcome.
func Abstain() UptodateEntry { return constEntry{nil} }

// PredicateFunc adapts a plain function to UptodateEntry.
type PredicateFunc func(t *Task, priorValues map[string]any) (*bool, error)

// Evaluate implements UptodateEntry.
func (f PredicateFunc) Evaluate(t *Task, v map[string]any) (*bool, error) { return f(t, v) }

// Action is a single side-effecting step of a task (spec.md §6 "Action
// contract"). Execute returns nil on success, a *Failure for a declared
// task failure, or any other error for an unexpected task error.
//
// Execute may mutate t.Result and t.Values; the runner persists them only
// on success.
type Action interface {
	Execute(t *Task, stdout, stderr *Sink) error
}

// ActionFunc adapts a plain function to Action.
type ActionFunc func(t *Task, stdout, stderr *Sink) error

// Execute implements Action.
func (f ActionFunc) Execute(t *Task, stdout, stderr *Sink) error { return f(t, stdout, stderr) }

// Failure is a declared, expected task failure (spec.md §7 TaskFailed):
// the action ran and determined the task did not succeed.
type Failure struct {
	Reason string
}

func (f *Failure) Error() string { return f.Reason }

// NewFailure builds a *Failure with a formatted reason.
func NewFailure(format string, args ...any) *Failure {
	return &Failure{Reason: fmt.Sprintf(format, args...)}
}

// ExecError wraps an unexpected error raised while running an action
// (spec.md §7 TaskError): the action itself misbehaved.
type ExecError struct {
	Err error
}

func (e *ExecError) Error() string { return e.Err.Error() }
func (e *ExecError) Unwrap() error { return e.Err }

// NewExecError wraps err as an unexpected task error.
func NewExecError(err error) *ExecError { return &ExecError{Err: err} }
