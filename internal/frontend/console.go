// Package frontend wires the execution core into a command-line tool:
// cobra subcommands, a color console reporter, and a tabular task listing.
//
// Grounded on the teacher's internal/cli package (command dispatch,
// exit-code discipline) generalized from its fixed three-command surface
// to cobra's subcommand registration, and on google-skia-buildbot's go.mod
// commitment to github.com/spf13/cobra, github.com/fatih/color and
// github.com/olekukonko/tablewriter for CLI presentation.
package frontend

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"taskforge/internal/task"
)

// Console is the default Reporter: colored, human-readable lines written
// to an io.Writer (normally os.Stdout).
type Console struct {
	Out     io.Writer
	Verbose bool

	mu sync.Mutex
}

// NewConsole builds a Console reporter.
func NewConsole(out io.Writer, verbose bool) *Console {
	return &Console{Out: out, Verbose: verbose}
}

func (c *Console) line(colorFn func(format string, a ...interface{}) string, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.Out, colorFn(format, args...))
}

func (c *Console) StartTask(t *task.Task) {
	if !c.Verbose {
		return
	}
	c.line(color.New(color.FgHiBlack).SprintfFunc(), ". %s", t.Name)
}

func (c *Console) ExecuteTask(t *task.Task) {
	c.line(color.New(color.FgCyan).SprintfFunc(), "%-10s %s", "run", t.Name)
}

func (c *Console) SkipUptodate(t *task.Task) {
	if !c.Verbose {
		return
	}
	c.line(color.New(color.FgGreen).SprintfFunc(), "%-10s %s", "uptodate", t.Name)
}

func (c *Console) SkipIgnore(t *task.Task) {
	c.line(color.New(color.FgYellow).SprintfFunc(), "%-10s %s", "ignore", t.Name)
}

func (c *Console) SkipDependencyFailed(t *task.Task) {
	c.line(color.New(color.FgYellow).SprintfFunc(), "%-10s %s", "skipped", t.Name)
}

func (c *Console) AddSuccess(t *task.Task) {
	if !c.Verbose {
		return
	}
	c.line(color.New(color.FgGreen).SprintfFunc(), "%-10s %s", "ok", t.Name)
}

func (c *Console) AddFailure(t *task.Task, err error) {
	c.line(color.New(color.FgRed).SprintfFunc(), "%-10s %s -- %v", "failed", t.Name, err)
}

func (c *Console) RuntimeError(err error) {
	c.line(color.New(color.FgRed, color.Bold).SprintfFunc(), "error: %v", err)
}

func (c *Console) TeardownTask(t *task.Task) {
	if !c.Verbose {
		return
	}
	c.line(color.New(color.FgHiBlack).SprintfFunc(), "%-10s %s", "teardown", t.Name)
}

func (c *Console) CompleteRun(err error) {
	if err == nil {
		c.line(color.New(color.FgGreen, color.Bold).SprintfFunc(), "%s", "done")
		return
	}
	c.line(color.New(color.FgRed, color.Bold).SprintfFunc(), "failed: %v", err)
}
