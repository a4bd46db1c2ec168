// Package tracelog gives a run two complementary views of what happened:
// structured, human-facing log lines via zerolog, and a deterministic,
// timestamp-free ExecutionTrace that two runs over the same graph can be
// byte-compared against (useful in CI to prove a "should be a no-op"
// re-run really was one).
//
// Grounded on the teacher's internal/trace package: ExecutionTrace,
// TraceEvent, their canonical sort order and canonical JSON encoding are
// adapted here from the task-build domain's event kinds (TaskInvalidated,
// TaskArtifactsRestored, ...) to the dispatcher/up-to-date-engine's own
// lifecycle (TaskRun, TaskUpToDate, TaskIgnored, TaskFailed, TaskSkipped,
// TaskTeardown) in place of the teacher's build-cache vocabulary.
package tracelog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ExecutionTrace is the canonical, deterministic record of a run.
//
// Invariants:
//   - Events carry no timestamps, pointers, or other run-dependent noise.
//   - Canonicalize() imposes a total order so two runs over an unchanged
//     graph produce byte-identical CanonicalJSON, regardless of goroutine
//     scheduling.
type ExecutionTrace struct {
	GraphHash string
	Events    []Event
}

// EventKind is the stable, canonical discriminator for Event. These
// values are part of the trace's canonical bytes; do not rename them.
type EventKind string

const (
	EventTaskRun      EventKind = "TaskRun"
	EventTaskUpToDate EventKind = "TaskUpToDate"
	EventTaskIgnored  EventKind = "TaskIgnored"
	EventTaskFailed   EventKind = "TaskFailed"
	EventTaskSkipped  EventKind = "TaskSkipped"
	EventTaskTeardown EventKind = "TaskTeardown"
)

// Event is a single logical transition: a task being classified,
// executed, skipped or torn down. No error strings or stack traces are
// recorded here (Reason is a stable code); the human-readable detail goes
// to the zerolog sink instead.
type Event struct {
	Kind EventKind

	// TaskID is the task name this event refers to.
	TaskID string

	// Reason is a stable, logical reason code (e.g. a predicate name, or
	// "bad-dep" for a propagated skip). Free-form error text never ends
	// up here — see Recorder's zerolog output for that.
	Reason string

	// CauseTaskID records a related upstream task, e.g. the failed
	// dependency that caused a TaskSkipped event.
	CauseTaskID string
}

// Validate checks basic invariants.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required", i)
		}
	}
	return nil
}

// Canonicalize sorts events by (taskId, kindOrder, reason, causeTaskId)
// so the trace is independent of execution timing or goroutine
// scheduling.
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return a.CauseTaskID < b.CauseTaskID
	})
}

func kindOrder(k EventKind) int {
	switch k {
	case EventTaskRun:
		return 10
	case EventTaskUpToDate:
		return 20
	case EventTaskIgnored:
		return 30
	case EventTaskSkipped:
		return 40
	case EventTaskFailed:
		return 50
	case EventTaskTeardown:
		return 60
	default:
		return 1000
	}
}

// CanonicalJSON returns the canonical JSON encoding of a canonicalized
// copy of the trace; the receiver is left untouched.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	cp := ExecutionTrace{GraphHash: t.GraphHash, Events: append([]Event(nil), t.Events...)}
	cp.Canonicalize()
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&cp)
}

// MarshalJSON fixes field order: graphHash, then events in declaration
// order (callers should CanonicalJSON() first for a stable byte stream).
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"graphHash":`)
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)
	buf.WriteString(`,"events":[`)
	for i, e := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON omits empty optional fields, in a fixed field order.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.WriteString(`"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)
	buf.WriteString(`,"taskId":`)
	tb, _ := json.Marshal(e.TaskID)
	buf.Write(tb)
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		rb, _ := json.Marshal(e.Reason)
		buf.Write(rb)
	}
	if e.CauseTaskID != "" {
		buf.WriteString(`,"causeTaskId":`)
		cb, _ := json.Marshal(e.CauseTaskID)
		buf.Write(cb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Hash returns the deterministic sha256 hex digest of the trace's
// canonical JSON encoding.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return computeHash(b), nil
}
