// Package dispatch implements the Dispatcher component of spec.md §4.2: a
// lazy, incremental, cooperative state machine that streams ready tasks to
// a runner while others are still waiting, resolves calc_dep/task_dep,
// detects cycles, and honours setup_tasks gating.
//
// Grounded field-for-field on original_source/doit/control.py's ExecNode
// and TaskDispatcher (the Python generator-based coroutine spec.md §9
// "Coroutine dispatcher" and "Generator-of-generators" describe mapping to
// an explicit state machine); Go has no generator primitive, so each
// ExecNode owns an explicit phase field driving a resumable step, and the
// dispatcher itself round-robins over a ready/waiting pair exactly as
// _dispatcher_generator does.
package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"taskforge/internal/graph"
	"taskforge/internal/task"
)

// RunStatus is the classification the runner attaches to a node once it is
// known (spec.md §3 ExecNode.run_status).
type RunStatus string

const (
	StatusUnset    RunStatus = ""
	StatusRun      RunStatus = "run"
	StatusUpToDate RunStatus = "up-to-date"
	StatusIgnore   RunStatus = "ignore"
	StatusDone     RunStatus = "done"
	StatusFailure  RunStatus = "failure"
	// StatusSkipped marks a node that was never executed because one of
	// its dependencies failed; it propagates like StatusFailure to its
	// own dependents (spec.md §3 TaskState SKIPPED).
	StatusSkipped RunStatus = "skipped"
)

// CycleError reports a cyclic dependency path (spec.md §7 InvalidDodoFile).
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic/recursive dependency: %s", strings.Join(e.Path, " -> "))
}

// DependencyError reports a calc_dep/task_dep name that does not resolve
// to a known task once dynamically added (spec.md §7 DependencyError).
type DependencyError struct {
	TaskName string
	DepName  string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: dependency %q does not exist", e.TaskName, e.DepName)
}

type nodePhase int

const (
	phaseExpandCalc nodePhase = iota
	phaseExpandTask
	phaseCheckWait
	phaseYieldSelf1
	phaseSetupCheck
	phaseSetupCheckAfterSelect
	phaseExpandSetup
	phaseCheckSetupWait
	phaseYieldSelf2
	phaseDone
)

// ExecNode is the per-task mutable scheduler record (spec.md §3 ExecNode).
type ExecNode struct {
	Task *task.Task

	// Ancestors is the path of task names that caused this node to be
	// created, used for cycle detection.
	Ancestors []string

	WaitRun     map[string]struct{}
	WaitRunCalc map[string]struct{}
	WaitingMe   map[string]*ExecNode

	WaitSelect bool
	RunStatus  RunStatus

	BadDeps     []*ExecNode
	IgnoredDeps []*ExecNode

	// pendingCalcDep / pendingTaskDep are the node's own working copies of
	// not-yet-processed dependency names; they grow when calc_dep results
	// merge in new deps (spec.md §4.2 "Calc-dep effect").
	pendingCalcDep []string
	pendingTaskDep []string

	phase    nodePhase
	calcIdx  int
	taskIdx  int
	setupIdx int
}

func newExecNode(t *task.Task, parent *ExecNode) *ExecNode {
	n := &ExecNode{
		Task:           t,
		WaitRun:        map[string]struct{}{},
		WaitRunCalc:    map[string]struct{}{},
		WaitingMe:      map[string]*ExecNode{},
		pendingCalcDep: append([]string(nil), t.CalcDep...),
		pendingTaskDep: append([]string(nil), t.TaskDep...),
	}
	if parent != nil {
		n.Ancestors = append(n.Ancestors, parent.Ancestors...)
	}
	n.Ancestors = append(n.Ancestors, t.Name)
	return n
}

func (n *ExecNode) parentStatus(parent *ExecNode) {
	switch parent.RunStatus {
	case StatusFailure, StatusSkipped:
		n.BadDeps = append(n.BadDeps, parent)
	case StatusIgnore:
		n.IgnoredDeps = append(n.IgnoredDeps, parent)
	}
}

type yieldKind int

const (
	yieldNode yieldKind = iota
	yieldWait
	yieldTask
	yieldDone
)

type yieldResult struct {
	kind yieldKind
	node *ExecNode
}

// step advances the node's resolution sequence by exactly one yield,
// mirroring one call of the Python generator's next().
func (n *ExecNode) step(d *Dispatcher) yieldResult {
	for {
		switch n.phase {
		case phaseExpandCalc:
			if n.calcIdx < len(n.pendingCalcDep) {
				name := n.pendingCalcDep[n.calcIdx]
				n.calcIdx++
				child, err := d.genNode(n, name)
				if err != nil {
					d.err = err
					n.phase = phaseDone
					return yieldResult{kind: yieldDone}
				}
				if child != nil {
					return yieldResult{kind: yieldNode, node: child}
				}
				continue
			}
			d.addWaitRun(n, n.pendingCalcDep, true)
			n.pendingCalcDep = nil
			n.calcIdx = 0
			n.phase = phaseExpandTask
		case phaseExpandTask:
			if n.taskIdx < len(n.pendingTaskDep) {
				name := n.pendingTaskDep[n.taskIdx]
				n.taskIdx++
				child, err := d.genNode(n, name)
				if err != nil {
					d.err = err
					n.phase = phaseDone
					return yieldResult{kind: yieldDone}
				}
				if child != nil {
					return yieldResult{kind: yieldNode, node: child}
				}
				continue
			}
			d.addWaitRun(n, n.pendingTaskDep, false)
			n.pendingTaskDep = nil
			n.taskIdx = 0
			n.phase = phaseCheckWait
		case phaseCheckWait:
			if (len(n.WaitRun) > 0 || len(n.WaitRunCalc) > 0) && !d.includeSetup {
				n.phase = phaseExpandCalc
				return yieldResult{kind: yieldWait}
			}
			n.phase = phaseYieldSelf1
		case phaseYieldSelf1:
			n.phase = phaseSetupCheck
			return yieldResult{kind: yieldTask}
		case phaseSetupCheck:
			if len(n.Task.SetupTasks) == 0 {
				n.phase = phaseDone
				continue
			}
			if n.RunStatus == StatusUnset {
				n.WaitSelect = true
				n.phase = phaseSetupCheckAfterSelect
				return yieldResult{kind: yieldWait}
			}
			n.phase = phaseSetupCheckAfterSelect
		case phaseSetupCheckAfterSelect:
			if n.RunStatus == StatusRun || d.includeSetup {
				n.phase = phaseExpandSetup
			} else {
				n.phase = phaseDone
			}
		case phaseExpandSetup:
			if n.setupIdx < len(n.Task.SetupTasks) {
				name := n.Task.SetupTasks[n.setupIdx]
				n.setupIdx++
				child, err := d.genNode(n, name)
				if err != nil {
					d.err = err
					n.phase = phaseDone
					return yieldResult{kind: yieldDone}
				}
				if child != nil {
					return yieldResult{kind: yieldNode, node: child}
				}
				continue
			}
			d.addWaitRun(n, n.Task.SetupTasks, false)
			n.phase = phaseCheckSetupWait
		case phaseCheckSetupWait:
			if len(n.WaitRun) > 0 {
				n.phase = phaseYieldSelf2
				return yieldResult{kind: yieldWait}
			}
			n.phase = phaseYieldSelf2
		case phaseYieldSelf2:
			n.phase = phaseDone
			return yieldResult{kind: yieldTask}
		case phaseDone:
			return yieldResult{kind: yieldDone}
		}
	}
}

// Result is one output of Dispatcher.Next: either Node is set (an ExecNode
// ready for the runner to classify/execute), Hold is true (spec.md §4.2
// "hold" semantics), or Done is true (the run is complete).
type Result struct {
	Node *ExecNode
	Hold bool
	Done bool
}

// Dispatcher is the lazy, incremental task dispatcher of spec.md §4.2.
type Dispatcher struct {
	g            *graph.TaskGraph
	includeSetup bool

	nodes   map[string]*ExecNode
	ready   []*ExecNode
	waiting map[string]*ExecNode

	tasksToRun []string // stack (pop from end), root task names reversed
	current    *ExecNode
	err        error
}

// New builds a Dispatcher over the graph for the given selected task
// names. includeSetup, when true, puts the dispatcher in "list setup
// tasks without waiting for execution" mode (spec.md §4.2).
func New(g *graph.TaskGraph, selected []string, includeSetup bool) *Dispatcher {
	rev := make([]string, len(selected))
	for i, s := range selected {
		rev[len(selected)-1-i] = s
	}
	return &Dispatcher{
		g:            g,
		includeSetup: includeSetup,
		nodes:        map[string]*ExecNode{},
		waiting:      map[string]*ExecNode{},
		tasksToRun:   rev,
	}
}

func (d *Dispatcher) genNode(parent *ExecNode, name string) (*ExecNode, error) {
	if _, ok := d.nodes[name]; ok {
		if parent != nil && containsStr(parent.Ancestors, name) {
			path := append(append([]string(nil), parent.Ancestors...), name)
			return nil, &CycleError{Path: path}
		}
		return nil, nil
	}
	t, ok := d.g.Task(name)
	if !ok {
		parentName := "<root>"
		if parent != nil {
			parentName = parent.Task.Name
		}
		return nil, &DependencyError{TaskName: parentName, DepName: name}
	}
	n := newExecNode(t, parent)
	d.nodes[name] = n
	return n, nil
}

func (d *Dispatcher) addWaitRun(n *ExecNode, names []string, calc bool) {
	waitFor := map[string]struct{}{}
	for _, name := range names {
		depNode := d.nodes[name]
		if depNode == nil {
			continue
		}
		if depNode.RunStatus == StatusUnset || depNode.RunStatus == StatusRun {
			waitFor[name] = struct{}{}
		} else {
			n.parentStatus(depNode)
		}
	}
	for name := range waitFor {
		d.nodes[name].WaitingMe[n.Task.Name] = n
	}
	dst := n.WaitRun
	if calc {
		dst = n.WaitRunCalc
	}
	for name := range waitFor {
		dst[name] = struct{}{}
	}
}

func (d *Dispatcher) popReady() *ExecNode {
	if len(d.ready) > 0 {
		n := d.ready[0]
		d.ready = d.ready[1:]
		return n
	}
	for len(d.tasksToRun) > 0 {
		name := d.tasksToRun[len(d.tasksToRun)-1]
		d.tasksToRun = d.tasksToRun[:len(d.tasksToRun)-1]
		n, err := d.genNode(nil, name)
		if err != nil {
			d.err = err
			return nil
		}
		if n != nil {
			return n
		}
	}
	return nil
}

// updateWaiting advances nodes blocked on `processed` (spec.md §4.2
// "Calc-dep effect"). Grounded on control.py's _update_waiting.
func (d *Dispatcher) updateWaiting(processed *ExecNode) {
	if processed == nil {
		return
	}
	node := processed

	if node.WaitSelect {
		d.ready = append(d.ready, node)
		delete(d.waiting, node.Task.Name)
		node.WaitSelect = false
	}

	if node.RunStatus == StatusRun {
		return
	}

	for _, waitingNode := range sortedWaitingMe(node.WaitingMe) {
		waitingNode.parentStatus(node)
		name := node.Task.Name

		var isReady bool
		if _, ok := waitingNode.WaitRun[name]; ok {
			delete(waitingNode.WaitRun, name)
			isReady = len(waitingNode.WaitRun) == 0 && len(waitingNode.WaitRunCalc) == 0
		} else {
			delete(waitingNode.WaitRunCalc, name)
			isReady = true

			values := node.Task.Values
			newFileDep, newTaskDep, newCalcDep := waitingNode.Task.MergeCalcDepValues(values)

			before := len(waitingNode.Task.TaskDep)
			graph.AddImplicitTaskDep(d.g.Targets(), waitingNode.Task, newFileDep)
			implicitlyAdded := waitingNode.Task.TaskDep[before:]

			waitingNode.pendingTaskDep = append(waitingNode.pendingTaskDep, newTaskDep...)
			waitingNode.pendingTaskDep = append(waitingNode.pendingTaskDep, implicitlyAdded...)
			waitingNode.pendingCalcDep = append(waitingNode.pendingCalcDep, newCalcDep...)
		}

		if isReady {
			if _, stillWaiting := d.waiting[waitingNode.Task.Name]; stillWaiting {
				d.ready = append(d.ready, waitingNode)
				delete(d.waiting, waitingNode.Task.Name)
			}
		}
	}
}

// Next is the dispatcher's single entry point (spec.md §4.2): pass back
// the most-recently-reported-finished node (or nil), get back the next
// thing to do.
func (d *Dispatcher) Next(lastDone *ExecNode) (Result, error) {
	if d.err != nil {
		return Result{}, d.err
	}
	d.updateWaiting(lastDone)
	if d.err != nil {
		return Result{}, d.err
	}

	for {
		if d.current == nil {
			d.current = d.popReady()
			if d.err != nil {
				return Result{}, d.err
			}
			if d.current == nil {
				if len(d.waiting) > 0 {
					return Result{Hold: true}, nil
				}
				return Result{Done: true}, nil
			}
		}

		step := d.current.step(d)
		if d.err != nil {
			return Result{}, d.err
		}

		switch step.kind {
		case yieldDone:
			d.current = nil
			continue
		case yieldTask:
			n := d.current
			return Result{Node: n}, nil
		case yieldNode:
			d.ready = append(d.ready, step.node)
			continue
		case yieldWait:
			if !d.includeSetup {
				d.waiting[d.current.Task.Name] = d.current
				d.current = nil
			}
			continue
		}
	}
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedWaitingMe(m map[string]*ExecNode) []*ExecNode {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*ExecNode, len(names))
	for i, name := range names {
		out[i] = m[name]
	}
	return out
}
