package task

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// DefinitionHash fingerprints everything about a task's declaration that
// should force a rerun if edited by hand (its actions' commands, its
// file_dep/task_dep/targets lists, its env), independent of the file
// content those file_dep point at. It lets the UpToDateEngine notice "the
// dodo file itself changed" even when no watched file changed.
//
// Grounded on the teacher's internal/core/hasher.go TaskHasher: the same
// length-prefixed SHA-256 encoding over sorted string lists, adapted from
// content-addressed task identity to a definition-change fingerprint.
func (t *Task) DefinitionHash() string {
	h := sha256.New()
	writeLP(h, t.Name)
	writeStrings(h, sortedCopy(t.FileDep))
	writeStrings(h, sortedCopy(t.Targets))
	writeStrings(h, sortedCopy(t.TaskDep))
	writeStrings(h, sortedCopy(t.SetupTasks))
	writeStrings(h, sortedCopy(t.CalcDep))
	writeStrings(h, sortedCopy(t.WildDep))
	for _, a := range t.Actions {
		if cmd, ok := a.(*ShellAction); ok {
			writeLP(h, cmd.Command)
			writeLP(h, cmd.Dir)
			writeStrings(h, sortedEnv(cmd.Env))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func sortedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func writeLP(h interface{ Write([]byte) (int, error) }, s string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
	h.Write(lenBuf[:])
	h.Write([]byte(s))
}

func writeStrings(h interface{ Write([]byte) (int, error) }, ss []string) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(ss)))
	h.Write(lenBuf[:])
	for _, s := range ss {
		writeLP(h, s)
	}
}
