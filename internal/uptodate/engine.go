package uptodate

import (
	"fmt"
	"os"

	"taskforge/internal/depstore"
	"taskforge/internal/task"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Status is the outcome of a Classify call (spec.md §4.3).
type Status int

const (
	// Run means the task must execute.
	Run Status = iota
	// UpToDate means the task can be skipped.
	UpToDate
	// Ignore means the task was explicitly marked ignored (spec.md §6
	// "ignore" command) and is skipped without further checks.
	Ignore
)

func (s Status) String() string {
	switch s {
	case UpToDate:
		return "up-to-date"
	case Ignore:
		return "ignore"
	default:
		return "run"
	}
}

// Engine is the UpToDateEngine: it combines a task's declared uptodate
// predicates with its file_dep fingerprint check to classify whether the
// task can be skipped (spec.md §4.3).
type Engine struct {
	Store *depstore.Store
}

// New builds an Engine over store.
func New(store *depstore.Store) *Engine {
	return &Engine{Store: store}
}

// Classify implements the classification procedure of spec.md §4.3:
//
//  1. A task explicitly ignored is always Ignore.
//     Then, if the task's DefinitionHash differs from the one recorded at
//     its last success (or a record exists with no hash at all), it must
//     Run; this check is not part of spec.md §4.3.
//  2. Every uptodate entry is evaluated against the task's last persisted
//     Values, in declaration order. Abstain (nil) carries no opinion and
//     evaluation continues; a definite false forces Run immediately,
//     short-circuiting the rest of the entries (and the file_dep check). A
//     definite true sets the checkedUpToDate flag — it does not by itself
//     mean UpToDate, only that at least one predicate has vouched for it.
//  3. If the task has no file_dep and checkedUpToDate is still false, it
//     must Run: nothing has actually confirmed up-to-date-ness, and there
//     are no files to fall back on checking.
//  4. If any declared target is missing, the task must Run — a target
//     that vanished invalidates any upstream claim of up-to-dateness.
//  5. Each file_dep is checked against its last persisted Fingerprint: if
//     it was never recorded, or its timestamp/size/MD5 have changed
//     (depstore.CheckModified), it is added to task.DepChanged and the
//     task must Run. A file_dep that cannot be stat'd is an error: the
//     task declared a dependency that does not exist.
//  6. If nothing above forced a run, the task is UpToDate.
func (e *Engine) Classify(t *task.Task) (Status, error) {
	t.DepChanged = nil

	if e.Store.StatusIsIgnore(t.Name) {
		return Ignore, nil
	}

	prior := e.Store.Values(t.Name)

	if prevHash, ok := e.Store.DefinitionHash(t.Name); ok {
		if prevHash != t.DefinitionHash() {
			return Run, nil
		}
	} else if e.Store.HasRecord(t.Name) {
		// A record exists but predates definition hashing: treat as
		// changed once, so every task picks up a baseline hash.
		return Run, nil
	}

	checkedUpToDate := false
	for _, entry := range t.Uptodate {
		result, err := entry.Evaluate(t, prior)
		if err != nil {
			return Run, fmt.Errorf("%s: uptodate check failed: %w", t.Name, err)
		}
		if result == nil {
			continue // abstain
		}
		if !*result {
			return Run, nil
		}
		checkedUpToDate = true
	}

	if len(t.FileDep) == 0 && !checkedUpToDate {
		return Run, nil
	}

	for _, target := range t.Targets {
		if !pathExists(target) {
			return Run, nil
		}
	}

	for _, dep := range t.FileDep {
		if !pathExists(dep) {
			return Run, fmt.Errorf("%s: file dependency %q does not exist", t.Name, dep)
		}
		prior, ok := e.Store.FileFingerprint(t.Name, dep)
		if !ok {
			t.DepChanged = append(t.DepChanged, dep)
			continue
		}
		changed, _, err := depstore.CheckModified(dep, prior)
		if err != nil {
			return Run, fmt.Errorf("%s: checking file dependency %q: %w", t.Name, dep, err)
		}
		if changed {
			t.DepChanged = append(t.DepChanged, dep)
		}
	}

	if len(t.DepChanged) > 0 {
		return Run, nil
	}
	return UpToDate, nil
}
