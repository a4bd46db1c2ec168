// Package reporter defines the Reporter contract the Runner drives
// (spec.md §6 "Reporting"): a sink for the stream of per-task lifecycle
// events a run produces. Concrete presentations (console, quiet, JSON)
// live outside this package; internal/frontend provides the console one.
//
// Grounded on the teacher's internal/core executor callbacks and on
// original_source/lib/doit/runner.py's reporter argument (start_task,
// execute_task, add_failure, add_success, skip_uptodate, skip_ignore,
// cleanup_error, runtime_error, teardown_task, complete_run).
package reporter

import "taskforge/internal/task"

// Reporter receives every lifecycle event the Runner produces, in the
// order they happen. Implementations must not block the run for long:
// the Runner calls these synchronously from the worker goroutine(s).
type Reporter interface {
	StartTask(t *task.Task)
	ExecuteTask(t *task.Task)
	SkipUptodate(t *task.Task)
	SkipIgnore(t *task.Task)
	SkipDependencyFailed(t *task.Task)
	AddSuccess(t *task.Task)
	AddFailure(t *task.Task, err error)
	RuntimeError(err error)
	TeardownTask(t *task.Task)
	CompleteRun(err error)
}

// Null discards every event. Useful as a base to embed for reporters that
// only care about a subset of the lifecycle, and in tests.
type Null struct{}

func (Null) StartTask(*task.Task)        {}
func (Null) ExecuteTask(*task.Task)      {}
func (Null) SkipUptodate(*task.Task)         {}
func (Null) SkipIgnore(*task.Task)           {}
func (Null) SkipDependencyFailed(*task.Task) {}
func (Null) AddSuccess(*task.Task)           {}
func (Null) AddFailure(*task.Task, error) {}
func (Null) RuntimeError(error)           {}
func (Null) TeardownTask(*task.Task)      {}
func (Null) CompleteRun(error)            {}

// Fanout dispatches every event to each of Reporters, in order.
type Fanout struct {
	Reporters []Reporter
}

func (f Fanout) StartTask(t *task.Task) {
	for _, r := range f.Reporters {
		r.StartTask(t)
	}
}

func (f Fanout) ExecuteTask(t *task.Task) {
	for _, r := range f.Reporters {
		r.ExecuteTask(t)
	}
}

func (f Fanout) SkipUptodate(t *task.Task) {
	for _, r := range f.Reporters {
		r.SkipUptodate(t)
	}
}

func (f Fanout) SkipIgnore(t *task.Task) {
	for _, r := range f.Reporters {
		r.SkipIgnore(t)
	}
}

func (f Fanout) SkipDependencyFailed(t *task.Task) {
	for _, r := range f.Reporters {
		r.SkipDependencyFailed(t)
	}
}

func (f Fanout) AddSuccess(t *task.Task) {
	for _, r := range f.Reporters {
		r.AddSuccess(t)
	}
}

func (f Fanout) AddFailure(t *task.Task, err error) {
	for _, r := range f.Reporters {
		r.AddFailure(t, err)
	}
}

func (f Fanout) RuntimeError(err error) {
	for _, r := range f.Reporters {
		r.RuntimeError(err)
	}
}

func (f Fanout) TeardownTask(t *task.Task) {
	for _, r := range f.Reporters {
		r.TeardownTask(t)
	}
}

func (f Fanout) CompleteRun(err error) {
	for _, r := range f.Reporters {
		r.CompleteRun(err)
	}
}
