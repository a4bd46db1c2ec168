package tracelog

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"taskforge/internal/task"
)

// Recorder is a reporter.Reporter that writes one structured zerolog line
// per lifecycle event (for a human or a log aggregator to read) and, at
// the same time, accumulates a deterministic ExecutionTrace a caller can
// retrieve once the run completes.
//
// Adapted from the teacher's internal/trace.Recorder (a concurrency-safe
// in-memory collector, guarded by a single mutex since Canonicalize()
// sorts after the fact so lock contention never affects trace ordering).
type Recorder struct {
	log zerolog.Logger

	mu     sync.Mutex
	events []Event
}

// NewRecorder builds a Recorder that logs through log and records events
// for later retrieval via Trace.
func NewRecorder(log zerolog.Logger) *Recorder {
	return &Recorder{log: log}
}

func (r *Recorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Trace builds the canonicalized ExecutionTrace from events recorded so
// far, tagged with graphHash.
func (r *Recorder) Trace(graphHash string) ExecutionTrace {
	r.mu.Lock()
	events := append([]Event(nil), r.events...)
	r.mu.Unlock()

	tr := ExecutionTrace{GraphHash: graphHash, Events: events}
	tr.Canonicalize()
	return tr
}

func (r *Recorder) StartTask(t *task.Task) {
	r.log.Debug().Str("task", t.Name).Msg("start")
}

func (r *Recorder) ExecuteTask(t *task.Task) {
	r.log.Info().Str("task", t.Name).Msg("executing")
	r.record(Event{Kind: EventTaskRun, TaskID: t.Name})
}

func (r *Recorder) SkipUptodate(t *task.Task) {
	r.log.Info().Str("task", t.Name).Msg("up-to-date, skipping")
	r.record(Event{Kind: EventTaskUpToDate, TaskID: t.Name})
}

func (r *Recorder) SkipIgnore(t *task.Task) {
	r.log.Info().Str("task", t.Name).Msg("ignored, skipping")
	r.record(Event{Kind: EventTaskIgnored, TaskID: t.Name})
}

func (r *Recorder) SkipDependencyFailed(t *task.Task) {
	r.log.Warn().Str("task", t.Name).Msg("skipped: a dependency failed")
	r.record(Event{Kind: EventTaskSkipped, TaskID: t.Name, Reason: "bad-dep"})
}

func (r *Recorder) AddSuccess(t *task.Task) {
	r.log.Info().Str("task", t.Name).Msg("success")
}

func (r *Recorder) AddFailure(t *task.Task, err error) {
	r.log.Error().Str("task", t.Name).Err(err).Msg("failed")
	// The error text goes to the log line above; the trace keeps only a
	// stable code telling a declared failure from an unexpected error.
	reason := "error"
	var failure *task.Failure
	if errors.As(err, &failure) {
		reason = "failure"
	}
	r.record(Event{Kind: EventTaskFailed, TaskID: t.Name, Reason: reason})
}

func (r *Recorder) RuntimeError(err error) {
	r.log.Error().Err(err).Msg("runtime error")
}

func (r *Recorder) TeardownTask(t *task.Task) {
	r.log.Debug().Str("task", t.Name).Msg("teardown")
	r.record(Event{Kind: EventTaskTeardown, TaskID: t.Name})
}

func (r *Recorder) CompleteRun(err error) {
	if err != nil {
		r.log.Error().Err(err).Msg("run complete, with errors")
		return
	}
	r.log.Info().Msg("run complete")
}
