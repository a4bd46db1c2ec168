// Package depstore implements the DependencyStore component of spec.md §3
// and §4.3: a small persistent key/value store, keyed by task name and
// then by dependency name, holding file fingerprints, task results and
// user-declared values across runs.
//
// Grounded on original_source/doit/dependency.py (JsonDB, DbmDB,
// DependencyBase: get_md5, check_modified, save_success, get_values,
// get_value, remove_success, ignore, status_is_ignore) and on the
// teacher's internal/core/cache.go for the atomic-write-then-rename
// pattern used by the JSON backend.
package depstore

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"taskforge/internal/task"
)

// Backend is the flat, per-task-namespace key/value store a Store sits on
// top of. Two implementations are provided: JSON (a single file) and DBM
// (github.com/syndtr/goleveldb), matching doit's JsonDB/DbmDB split.
type Backend interface {
	Get(taskName, key string) (string, bool)
	Set(taskName, key, value string)
	Has(taskName string) bool
	Remove(taskName string)
	RemoveAll()
	Close() error
}

const (
	valuesKey   = "_values_:"
	resultKey   = "result:"
	ignoreKey   = "ignore:"
	defHashKey  = "_def_hash:"
)

// Store is the DependencyStore: fingerprint bookkeeping and persisted
// per-task values, independent of which Backend holds the bytes.
type Store struct {
	backend Backend
}

// New wraps a Backend as a Store.
func New(backend Backend) *Store { return &Store{backend: backend} }

// Close flushes and releases the underlying backend.
func (s *Store) Close() error { return s.backend.Close() }

// Fingerprint is the three-tier file identity doit checks file_dep against:
// modification time first (cheap), then size, then content MD5.
type Fingerprint struct {
	ModTime int64
	Size    int64
	MD5     string
}

func (f Fingerprint) encode() string {
	return fmt.Sprintf("%d|%d|%s", f.ModTime, f.Size, f.MD5)
}

func decodeFingerprint(s string) (Fingerprint, bool) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return Fingerprint{}, false
	}
	mtime, err1 := strconv.ParseInt(parts[0], 10, 64)
	size, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return Fingerprint{}, false
	}
	return Fingerprint{ModTime: mtime, Size: size, MD5: parts[2]}, true
}

func md5File(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// FingerprintFile stats and hashes path, producing its current Fingerprint.
func FingerprintFile(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	sum, err := md5File(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{ModTime: info.ModTime().UnixNano(), Size: info.Size(), MD5: sum}, nil
}

// CheckModified reports whether path has changed relative to prior,
// applying doit's check_modified mtime short-circuit: if the modification
// time is unchanged, the file is assumed unchanged without even re-reading
// it. A changed mtime makes it read and hash the file; the file then counts
// as changed unless both its size and its MD5 match prior.
func CheckModified(path string, prior Fingerprint) (changed bool, current Fingerprint, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, Fingerprint{}, err
	}
	mtime := info.ModTime().UnixNano()
	size := info.Size()

	if mtime == prior.ModTime {
		return false, prior, nil
	}
	sum, err := md5File(path)
	if err != nil {
		return false, Fingerprint{}, err
	}
	current = Fingerprint{ModTime: mtime, Size: size, MD5: sum}
	if size == prior.Size && sum == prior.MD5 {
		return false, current, nil
	}
	return true, current, nil
}

// SaveSuccess persists a finished task's bookkeeping: its merged Values
// (base values plus every registered ValueSaver's contribution), its
// Result (a map[string]any as JSON, anything else as its MD5 digest), and
// a fresh Fingerprint for every FileDep (spec.md §4.5:
// "on success, persist run_once markers, file_dep fingerprints, and any
// registered value savers' output").
func (s *Store) SaveSuccess(t *task.Task) error {
	merged := map[string]any{}
	for k, v := range t.Values {
		merged[k] = v
	}
	for _, saver := range t.ValueSavers {
		for k, v := range saver() {
			merged[k] = v
		}
	}
	t.Values = merged

	if len(merged) > 0 {
		enc, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		s.backend.Set(t.Name, valuesKey, string(enc))
	}

	if t.Result != nil {
		if m, ok := t.Result.(map[string]any); ok {
			// A map result is stored verbatim, as its JSON encoding.
			enc, err := json.Marshal(m)
			if err != nil {
				return err
			}
			s.backend.Set(t.Name, resultKey, string(enc))
		} else {
			s.backend.Set(t.Name, resultKey, digestResult(t.Result))
		}
	}

	s.backend.Set(t.Name, defHashKey, t.DefinitionHash())

	for _, dep := range t.FileDep {
		fp, err := FingerprintFile(dep)
		if err != nil {
			// The dependency vanished between the up-to-date check and
			// persistence; nothing to record, next run detects it missing.
			continue
		}
		s.backend.Set(t.Name, dep, fp.encode())
	}
	return nil
}

func digestResult(result any) string {
	switch v := result.(type) {
	case string:
		sum := md5.Sum([]byte(v))
		return hex.EncodeToString(sum[:])
	case []byte:
		sum := md5.Sum(v)
		return hex.EncodeToString(sum[:])
	default:
		enc, _ := json.Marshal(v)
		sum := md5.Sum(enc)
		return hex.EncodeToString(sum[:])
	}
}

// ResultDigest returns the persisted digest of a task's last Result (for a
// map[string]any Result, its JSON encoding), for the result_dep predicate.
func (s *Store) ResultDigest(taskName string) (string, bool) {
	return s.backend.Get(taskName, resultKey)
}

// DefinitionHash returns the task.Task.DefinitionHash recorded the last
// time taskName successfully ran, if any.
func (s *Store) DefinitionHash(taskName string) (string, bool) {
	return s.backend.Get(taskName, defHashKey)
}

// FileFingerprint returns the persisted Fingerprint for a task's
// dependency path, if any was ever recorded.
func (s *Store) FileFingerprint(taskName, path string) (Fingerprint, bool) {
	raw, ok := s.backend.Get(taskName, path)
	if !ok {
		return Fingerprint{}, false
	}
	return decodeFingerprint(raw)
}

// Values returns a task's last persisted value map, or nil if none.
func (s *Store) Values(taskName string) map[string]any {
	raw, ok := s.backend.Get(taskName, valuesKey)
	if !ok {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

// Value returns one key out of a task's last persisted value map.
func (s *Store) Value(taskName, key string) (any, bool) {
	m := s.Values(taskName)
	if m == nil {
		return nil, false
	}
	v, ok := m[key]
	return v, ok
}

// HasRecord reports whether anything at all has ever been persisted for
// taskName — a task with no record has never successfully run.
func (s *Store) HasRecord(taskName string) bool { return s.backend.Has(taskName) }

// RemoveSuccess discards every persisted record for a task (the "forget"
// command, spec.md §6).
func (s *Store) RemoveSuccess(taskName string) { s.backend.Remove(taskName) }

// RemoveAll discards every persisted record for every task.
func (s *Store) RemoveAll() { s.backend.RemoveAll() }

// Ignore marks a task so future up-to-date checks classify it "ignore"
// without evaluating file_dep or uptodate predicates (spec.md §6 "ignore"
// command).
func (s *Store) Ignore(taskName string) { s.backend.Set(taskName, ignoreKey, "1") }

// StatusIsIgnore reports whether taskName was previously marked ignored.
func (s *Store) StatusIsIgnore(taskName string) bool {
	v, ok := s.backend.Get(taskName, ignoreKey)
	return ok && v == "1"
}

// --- JSON backend --------------------------------------------------------

// jsonFile is a single-file Backend: the whole store is one JSON document
// mapping task name to a flat string/string record, matching doit's
// JsonDB. Grounded on the teacher's internal/core/cache.go writeFileAtomic
// helper for the save path.
type jsonFile struct {
	path string
	data map[string]map[string]string
}

// OpenJSON opens (or creates) a JSON-backed Backend at path.
func OpenJSON(path string) (Backend, error) {
	jf := &jsonFile{path: path, data: map[string]map[string]string{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return jf, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return jf, nil
	}
	if err := json.Unmarshal(raw, &jf.data); err != nil {
		// Mirrors dependency.py's DbmDB.DBM_CONTENT_ERROR_MSG recovery: an
		// unrecognised/legacy-format store tells the user how to fix it
		// rather than surfacing a bare json error.
		return nil, fmt.Errorf(
			"dependencies file %q seems to use an old format or is corrupted; "+
				"remove the database file and a new one will be generated: %w",
			path, err)
	}
	return jf, nil
}

func (j *jsonFile) Get(taskName, key string) (string, bool) {
	rec, ok := j.data[taskName]
	if !ok {
		return "", false
	}
	v, ok := rec[key]
	return v, ok
}

func (j *jsonFile) Set(taskName, key, value string) {
	rec, ok := j.data[taskName]
	if !ok {
		rec = map[string]string{}
		j.data[taskName] = rec
	}
	rec[key] = value
}

func (j *jsonFile) Has(taskName string) bool {
	_, ok := j.data[taskName]
	return ok
}

func (j *jsonFile) Remove(taskName string) { delete(j.data, taskName) }

func (j *jsonFile) RemoveAll() { j.data = map[string]map[string]string{} }

func (j *jsonFile) Close() error {
	enc, err := json.Marshal(j.data)
	if err != nil {
		return err
	}
	return writeFileAtomic(j.path, enc)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".depstore-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// SortedTaskNames exposes deterministic iteration of an in-memory JSON
// backend for debugging/list output.
func SortedTaskNames(b Backend) []string {
	jf, ok := b.(*jsonFile)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(jf.data))
	for name := range jf.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
