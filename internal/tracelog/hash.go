package tracelog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// computeHash sha256-hexes an already-canonical byte encoding. Adapted
// from the teacher's internal/trace/hash.go ComputeTraceHash.
func computeHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}

// GraphHash derives a stable identity for a selection from each task's
// name and task.DefinitionHash, so ExecutionTraces from two different
// task definitions are never mistaken for each other even if they
// produce the same sequence of event kinds.
func GraphHash(taskDefHashes map[string]string) string {
	names := make([]string, 0, len(taskDefHashes))
	for name := range taskDefHashes {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(taskDefHashes[name]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
