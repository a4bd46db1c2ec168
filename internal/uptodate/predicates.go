// Package uptodate implements the UpToDateEngine of spec.md §4.3: the
// classification procedure that decides whether a task's file_dep are
// unchanged and its uptodate predicates all agree it can be skipped, plus
// the five canonical predicates spec.md names.
//
// Grounded on original_source/doit/dependency.py's DependencyBase.get_status
// for the classification order, and doit/tools.py for run_once,
// result_dep, config_changed, timeout and check_timestamp_unchanged.
package uptodate

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"taskforge/internal/depstore"
	"taskforge/internal/task"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func boolPtr(b bool) *bool { return &b }

// RunOnce reports up-to-date only once a task has ever completed
// successfully, and forever after — regardless of any other change.
// Grounded on doit/tools.py's run_once.
type RunOnce struct{}

func (RunOnce) Evaluate(t *task.Task, prior map[string]any) (*bool, error) {
	t.ValueSavers = append(t.ValueSavers, func() map[string]any {
		return map[string]any{"run-once": true}
	})
	done, _ := prior["run-once"].(bool)
	return boolPtr(done), nil
}

// ConfigChanged reports up-to-date while an arbitrary configuration value
// (a string, or any JSON-serializable value) stays identical across runs.
// Grounded on doit/tools.py's config_changed.
type ConfigChanged struct {
	Config any
}

func (c ConfigChanged) digest() string {
	if s, ok := c.Config.(string); ok {
		return s
	}
	enc, _ := json.Marshal(c.Config)
	return md5Hex(enc)
}

func (c ConfigChanged) Evaluate(t *task.Task, prior map[string]any) (*bool, error) {
	digest := c.digest()
	t.ValueSavers = append(t.ValueSavers, func() map[string]any {
		return map[string]any{"_config_changed": digest}
	})
	prev, ok := prior["_config_changed"].(string)
	if !ok {
		return boolPtr(false), nil
	}
	return boolPtr(prev == digest), nil
}

// Timeout reports up-to-date while less than Duration has elapsed since
// the task's last successful run. Grounded on doit/tools.py's timeout.
type Timeout struct {
	Duration time.Duration
}

func (tm Timeout) Evaluate(t *task.Task, prior map[string]any) (*bool, error) {
	now := time.Now()
	t.ValueSavers = append(t.ValueSavers, func() map[string]any {
		return map[string]any{"_timeout_last_run": now.Unix()}
	})
	lastRaw, ok := prior["_timeout_last_run"]
	if !ok {
		return boolPtr(false), nil
	}
	last, ok := lastRaw.(float64)
	if !ok {
		return boolPtr(false), nil
	}
	elapsed := now.Sub(time.Unix(int64(last), 0))
	return boolPtr(elapsed < tm.Duration), nil
}

// TimeField selects which stat timestamp CheckTimestampUnchanged compares.
type TimeField int

const (
	ModTime TimeField = iota
	AccessTime
	ChangeTime
)

// CheckTimestampUnchanged reports up-to-date while a given stat timestamp
// of Path is unchanged since the last run. If the path cannot be stat'd,
// the predicate abstains (its outcome is not determinable) rather than
// forcing a run or a skip. Grounded on doit/tools.py's
// check_timestamp_unchanged; Go's os.FileInfo only exposes ModTime
// portably, so Field is not consulted: AccessTime and ChangeTime also
// compare ModTime.
type CheckTimestampUnchanged struct {
	Path  string
	Field TimeField
}

func (c CheckTimestampUnchanged) key() string { return "_timestamp_unchanged:" + c.Path }

func (c CheckTimestampUnchanged) Evaluate(t *task.Task, prior map[string]any) (*bool, error) {
	info, err := os.Stat(c.Path)
	if err != nil {
		return nil, nil // abstain: can't determine
	}
	stamp := float64(info.ModTime().UnixNano())

	t.ValueSavers = append(t.ValueSavers, func() map[string]any {
		return map[string]any{c.key(): stamp}
	})
	prev, ok := prior[c.key()].(float64)
	if !ok {
		return boolPtr(false), nil
	}
	return boolPtr(prev == stamp), nil
}

// ResultDep reports up-to-date while the persisted Result of every task
// in Deps is unchanged since this task last ran. A dep that is itself a
// group task has its subtasks' results combined into a single digest, so
// a change in any subtask is visible at the group level (SPEC_FULL.md
// SUPPLEMENTED FEATURES). Grounded on
// doit/tools.py's result_dep (_result_single / _result_group).
type ResultDep struct {
	Store      *depstore.Store
	Deps       []string
	SubtasksOf func(taskName string) []string // nil or empty => leaf task
}

// ConfigureTask implements task.Configurer: result_dep implies an
// ordering dependency on every task whose result it reads.
func (r *ResultDep) ConfigureTask(t *task.Task) {
	for _, dep := range r.Deps {
		if !containsStr(t.TaskDep, dep) {
			t.TaskDep = append(t.TaskDep, dep)
		}
	}
}

func (r *ResultDep) digestOf(name string) string {
	var subtasks []string
	if r.SubtasksOf != nil {
		subtasks = r.SubtasksOf(name)
	}
	if len(subtasks) == 0 {
		d, _ := r.Store.ResultDigest(name)
		return d
	}
	parts := make([]string, 0, len(subtasks))
	for _, sub := range subtasks {
		d, _ := r.Store.ResultDigest(sub)
		parts = append(parts, sub+"="+d)
	}
	sort.Strings(parts)
	return md5Hex([]byte(strings.Join(parts, "|")))
}

const resultDepKey = "_result_dep:"

func (r *ResultDep) Evaluate(t *task.Task, prior map[string]any) (*bool, error) {
	digests := map[string]any{}
	for _, dep := range r.Deps {
		digests[dep] = r.digestOf(dep)
	}
	t.ValueSavers = append(t.ValueSavers, func() map[string]any {
		return map[string]any{resultDepKey: digests}
	})

	prevRaw, ok := prior[resultDepKey]
	if !ok {
		return boolPtr(false), nil
	}
	prevMap, ok := prevRaw.(map[string]any)
	if !ok {
		return boolPtr(false), nil
	}
	for dep, digest := range digests {
		pv, ok := prevMap[dep]
		if !ok || pv != digest {
			return boolPtr(false), nil
		}
	}
	return boolPtr(true), nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
