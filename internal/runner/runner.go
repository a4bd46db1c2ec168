// Package runner implements the Runner component of spec.md §4.5 and the
// concurrency model of §5: it drives a Dispatcher to completion, classifies
// each yielded node with an UpToDateEngine, executes tasks that must run,
// persists their success, and runs teardown actions in reverse completion
// order once the whole graph is done.
//
// Grounded on original_source/lib/doit/runner.py's run_tasks (the
// single-worker loop: start_task, up-to-date check, skip-if-uptodate,
// execute_task, save_dependencies, add_success/add_failure, continue_ flag,
// teardown) generalized to the asynchronous multi-worker model sketched in
// spec.md §5, using golang.org/x/sync/errgroup (with SetLimit bounding the
// worker pool) the way google-skia-buildbot's executors supervise bounded
// concurrent work.
package runner

import (
	"context"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"taskforge/internal/depstore"
	"taskforge/internal/dispatch"
	"taskforge/internal/graph"
	"taskforge/internal/reporter"
	"taskforge/internal/task"
	"taskforge/internal/uptodate"
)

// Options configures a single Run call (spec.md §5 "Concurrency &
// Resource model", §6 "continue mode").
type Options struct {
	// NumWorkers bounds how many tasks may have actions executing at
	// once. Less than 1 is treated as 1.
	NumWorkers int

	// AlwaysExecute bypasses the UpToDateEngine: every selected task runs.
	AlwaysExecute bool

	// IncludeSetup puts the dispatcher in enumerate-without-waiting mode
	// (used by commands that only need to see the task graph, e.g. a
	// listing that must still walk setup_tasks).
	IncludeSetup bool

	// Continue, when false (the default), stops launching new work after
	// the first task failure but lets already in-flight tasks finish.
	// When true, independent branches keep running after a failure.
	Continue bool

	// Stdout/Stderr, if non-nil, receive a live tee of every task's
	// captured output (verbose mode). Nil means capture-only.
	Stdout, Stderr io.Writer
}

// Result is the outcome of a completed Run.
type Result struct {
	Status map[string]dispatch.RunStatus
	Order  []string
}

// Runner ties a DependencyStore, an UpToDateEngine and a Reporter together
// to execute a TaskGraph.
type Runner struct {
	Graph    *graph.TaskGraph
	Store    *depstore.Store
	Engine   *uptodate.Engine
	Reporter reporter.Reporter
}

// New builds a Runner. If rep is nil, events are discarded.
func New(g *graph.TaskGraph, store *depstore.Store, rep reporter.Reporter) *Runner {
	if rep == nil {
		rep = reporter.Null{}
	}
	return &Runner{
		Graph:    g,
		Store:    store,
		Engine:   uptodate.New(store),
		Reporter: rep,
	}
}

// Run drives the dispatcher for the given selection to completion.
func (r *Runner) Run(ctx context.Context, selected []string, opts Options) (*Result, error) {
	workers := opts.NumWorkers
	if workers < 1 {
		workers = 1
	}

	d := dispatch.New(r.Graph, selected, opts.IncludeSetup)
	var eg errgroup.Group
	eg.SetLimit(workers)
	// Every task executes at most once per run, so a buffer of one slot per
	// task means a finished worker never blocks sending its completion
	// while the controller is itself blocked in eg.Go.
	doneCh := make(chan *dispatch.ExecNode, r.Graph.Len())

	result := &Result{Status: map[string]dispatch.RunStatus{}}
	var executed []*task.Task // completion order, for reverse teardown

	var lastDone *dispatch.ExecNode
	inFlight := 0
	stopped := false
	var runErr error

	for {
		res, err := d.Next(lastDone)
		lastDone = nil
		if err != nil {
			runErr = err
			r.Reporter.RuntimeError(err)
			break
		}

		if res.Hold {
			if inFlight == 0 {
				runErr = fmt.Errorf("runner: dispatcher stalled with nothing in flight")
				r.Reporter.RuntimeError(runErr)
				break
			}
			lastDone = <-doneCh
			inFlight--
			r.completeExecution(lastDone)
			result.Status[lastDone.Task.Name] = lastDone.RunStatus
			if lastDone.RunStatus == dispatch.StatusDone {
				executed = append(executed, lastDone.Task)
			}
			if lastDone.RunStatus == dispatch.StatusFailure && !opts.Continue {
				stopped = true
			}
			continue
		}

		if res.Done {
			break
		}

		node := res.Node
		r.Reporter.StartTask(node.Task)

		if node.RunStatus == dispatch.StatusUnset {
			if len(node.BadDeps) > 0 {
				node.RunStatus = dispatch.StatusSkipped
				r.Reporter.SkipDependencyFailed(node.Task)
				result.Status[node.Task.Name] = node.RunStatus
				result.Order = append(result.Order, node.Task.Name)
				lastDone = node
				continue
			}

			status, cerr := r.classify(node.Task, opts.AlwaysExecute)
			if cerr != nil {
				node.RunStatus = dispatch.StatusFailure
				r.Reporter.AddFailure(node.Task, cerr)
				result.Status[node.Task.Name] = node.RunStatus
				result.Order = append(result.Order, node.Task.Name)
				if !opts.Continue {
					stopped = true
				}
				lastDone = node
				continue
			}

			node.RunStatus = toRunStatus(status)
			if node.RunStatus != dispatch.StatusRun {
				if node.Task.Values == nil {
					node.Task.Values = r.Store.Values(node.Task.Name)
				}
				if node.RunStatus == dispatch.StatusIgnore {
					r.Reporter.SkipIgnore(node.Task)
				} else {
					r.Reporter.SkipUptodate(node.Task)
				}
				result.Status[node.Task.Name] = node.RunStatus
				result.Order = append(result.Order, node.Task.Name)
				lastDone = node
				continue
			}

			// A missing getargs reference fails the task here, at
			// selection time, never reaching a worker goroutine
			// (spec.md §4.5).
			if err := r.resolveGetArgs(node.Task); err != nil {
				node.RunStatus = dispatch.StatusFailure
				r.Reporter.AddFailure(node.Task, err)
				result.Status[node.Task.Name] = node.RunStatus
				result.Order = append(result.Order, node.Task.Name)
				if !opts.Continue {
					stopped = true
				}
				lastDone = node
				continue
			}

			if stopped {
				node.RunStatus = dispatch.StatusSkipped
				r.Reporter.SkipDependencyFailed(node.Task)
				result.Status[node.Task.Name] = node.RunStatus
				result.Order = append(result.Order, node.Task.Name)
				lastDone = node
				continue
			}

			// Needs to run. If it declares setup_tasks, this yield was
			// only the selection pass; the dispatcher will hand it back
			// a second time once setup has run.
			if len(node.Task.SetupTasks) > 0 {
				lastDone = node
				continue
			}
		}

		// Execution pass (either a task with no setup_tasks on its only
		// yield, or a task with setup_tasks on its second yield).
		inFlight++
		result.Order = append(result.Order, node.Task.Name)
		eg.Go(func() error {
			r.execute(node, opts)
			doneCh <- node
			return nil
		})
	}

	for inFlight > 0 {
		n := <-doneCh
		inFlight--
		r.completeExecution(n)
		result.Status[n.Task.Name] = n.RunStatus
		if n.RunStatus == dispatch.StatusDone {
			executed = append(executed, n.Task)
		}
		if n.RunStatus == dispatch.StatusFailure && !opts.Continue {
			stopped = true
		}
	}

	if err := eg.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	teardownErr := r.teardown(executed)
	if teardownErr != nil {
		runErr = combineErrors(runErr, teardownErr)
	}

	r.Reporter.CompleteRun(runErr)
	return result, runErr
}

func (r *Runner) classify(t *task.Task, always bool) (uptodate.Status, error) {
	if always {
		return uptodate.Run, nil
	}
	return r.Engine.Classify(t)
}

func toRunStatus(s uptodate.Status) dispatch.RunStatus {
	switch s {
	case uptodate.UpToDate:
		return dispatch.StatusUpToDate
	case uptodate.Ignore:
		return dispatch.StatusIgnore
	default:
		return dispatch.StatusRun
	}
}

// execute runs every action of an already-selected task in order. It
// mutates node.RunStatus and must only be called from a single goroutine
// per node. getargs resolution happens earlier, at selection time (see the
// classification branch in Run); by the time a node reaches execute its
// getargs are already resolved. execute never touches the DependencyStore
// — that happens back on the controller, in completeExecution, per spec.md
// §5's invariant that the store is owned exclusively by the controller.
func (r *Runner) execute(node *dispatch.ExecNode, opts Options) {
	t := node.Task
	r.Reporter.ExecuteTask(t)

	stdout := task.NewSink(opts.Stdout)
	stderr := task.NewSink(opts.Stderr)

	for _, action := range t.Actions {
		if err := action.Execute(t, stdout, stderr); err != nil {
			node.RunStatus = dispatch.StatusFailure
			r.Reporter.AddFailure(t, err)
			return
		}
	}

	node.RunStatus = dispatch.StatusDone
}

// completeExecution finalizes a node that a worker goroutine has finished
// running: persisting success to the DependencyStore happens here, on the
// controller goroutine, never inside a worker (spec.md §5: "The
// DependencyStore is owned exclusively by the controller; workers never
// touch it").
func (r *Runner) completeExecution(n *dispatch.ExecNode) {
	if n.RunStatus != dispatch.StatusDone {
		return
	}
	if err := r.Store.SaveSuccess(n.Task); err != nil {
		n.RunStatus = dispatch.StatusFailure
		r.Reporter.AddFailure(n.Task, err)
		return
	}
	r.Reporter.AddSuccess(n.Task)
}

// resolveGetArgs fills in parameter values this task requested from
// another task's persisted Values (spec.md §3 Task.getargs). The source
// task is read from its in-memory Values first (fresher, covers the case
// where it just ran this session) and falls back to the store.
func (r *Runner) resolveGetArgs(t *task.Task) error {
	if len(t.GetArgs) == 0 {
		return nil
	}
	if t.Values == nil {
		t.Values = map[string]any{}
	}
	for param, ref := range t.GetArgs {
		otherName, key, ok := graph.SplitGetArgRef(ref)
		if !ok {
			return fmt.Errorf("%s: malformed getargs reference %q", t.Name, ref)
		}

		var val any
		var found bool
		if other, ok := r.Graph.Task(otherName); ok && other.Values != nil {
			val, found = other.Values[key]
		}
		if !found {
			val, found = r.Store.Value(otherName, key)
		}
		if !found {
			return fmt.Errorf("%s: getargs %q: task %q has no persisted value %q", t.Name, param, otherName, key)
		}
		t.Values[param] = val
	}
	return nil
}

// teardown runs every executed task's Teardown actions, in reverse
// completion order, continuing past individual failures and aggregating
// them (spec.md §4.5 "teardown").
func (r *Runner) teardown(executed []*task.Task) error {
	var errs *multierror.Error
	for i := len(executed) - 1; i >= 0; i-- {
		t := executed[i]
		if len(t.Teardown) == 0 {
			continue
		}
		r.Reporter.TeardownTask(t)
		stdout := task.NewSink(nil)
		stderr := task.NewSink(nil)
		for _, action := range t.Teardown {
			if err := action.Execute(t, stdout, stderr); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: teardown: %w", t.Name, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

func combineErrors(a, b error) error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return multierror.Append(a, b).ErrorOrNil()
}
