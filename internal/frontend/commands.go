package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"taskforge/internal/depstore"
	"taskforge/internal/dispatch"
	"taskforge/internal/graph"
	"taskforge/internal/loader"
	"taskforge/internal/reporter"
	"taskforge/internal/runner"
	"taskforge/internal/tracelog"
	"taskforge/internal/watch"
)

// newLogger builds the process-wide structured logger. Grounded on the
// teacher's internal/cli verbosity handling, generalized from a plain
// boolean to zerolog's level hierarchy.
func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
		Level(lvl).
		With().Timestamp().Logger()
}

// writeTraceFile renders the recorder's accumulated ExecutionTrace as
// canonical JSON and writes it to path.
func writeTraceFile(path string, g *graph.TaskGraph, selected []string, rec *tracelog.Recorder) error {
	hashes := make(map[string]string, len(selected))
	for _, name := range selected {
		if t, ok := g.Task(name); ok {
			hashes[name] = t.DefinitionHash()
		}
	}
	tr := rec.Trace(tracelog.GraphHash(hashes))
	b, err := tr.CanonicalJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Exit codes, grounded on the teacher's internal/cli/input.go invocation
// contract and spec.md §6's table: 0 success, 1 one or more task failures,
// 2 an error returned by the run itself, 3 a pre-execution error (invalid
// selection, invalid task definition, corrupted store, cyclic graph —
// §7's InvalidTask/InvalidDodoFile/InvalidCommand). The runner records an
// action's unexpected error (task.ExecError) as StatusFailure, the same as
// a declared task.Failure, so such a task yields 1, not 2.
const (
	ExitSuccess      = 0
	ExitTaskFailure  = 1
	ExitTaskError    = 2
	ExitPreExecution = 3
)

// Config is the set of flags shared by every subcommand.
type Config struct {
	DefFile    string
	DBFile     string
	DBBackend  string // "json" or "dbm"
	NumWorkers int
	Verbose    bool
	Continue   bool
	Always     bool
	TraceFile  string
	LogLevel   string
}

// NewRootCommand builds the taskforge cobra root command and its
// subcommands (run, list, forget, ignore, auto), mirroring the teacher's
// internal/cli surface generalized to cobra's registration model.
func NewRootCommand() *cobra.Command {
	cfg := &Config{}

	root := &cobra.Command{
		Use:           "taskforge",
		Short:         "A lazy, incremental task automation tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfg.DefFile, "file", "f", "tasks.toml", "task definition file")
	root.PersistentFlags().StringVar(&cfg.DBFile, "db", ".taskforge.db", "dependency database path")
	root.PersistentFlags().StringVar(&cfg.DBBackend, "backend", "json", "dependency database backend: json or dbm")
	root.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "print task output")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", "info", "structured log level: debug, info, warn, error")

	root.AddCommand(newRunCommand(cfg))
	root.AddCommand(newListCommand(cfg))
	root.AddCommand(newForgetCommand(cfg))
	root.AddCommand(newIgnoreCommand(cfg))
	root.AddCommand(newAutoCommand(cfg))
	return root
}

func openStore(cfg *Config) (*depstore.Store, error) {
	var backend depstore.Backend
	var err error
	switch cfg.DBBackend {
	case "dbm":
		backend, err = depstore.OpenDBM(cfg.DBFile)
	default:
		backend, err = depstore.OpenJSON(cfg.DBFile)
	}
	if err != nil {
		return nil, err
	}
	return depstore.New(backend), nil
}

func loadGraph(cfg *Config) (*graph.TaskGraph, error) {
	tasks, err := loader.LoadFile(cfg.DefFile)
	if err != nil {
		return nil, err
	}
	return graph.New(tasks)
}

func newRunCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run the selected tasks (default: all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelection(cfg, args)
		},
	}
	cmd.Flags().IntVarP(&cfg.NumWorkers, "jobs", "j", 1, "number of concurrent workers")
	cmd.Flags().BoolVarP(&cfg.Continue, "continue", "c", false, "keep running independent tasks after a failure")
	cmd.Flags().BoolVarP(&cfg.Always, "always", "a", false, "execute every selected task, ignoring up-to-date checks")
	cmd.Flags().StringVar(&cfg.TraceFile, "trace-file", "", "write a deterministic, timestamp-free execution trace (JSON) to this path")
	return cmd
}

func runSelection(cfg *Config, args []string) error {
	g, err := loadGraph(cfg)
	if err != nil {
		return exitErr(ExitPreExecution, err)
	}
	sel, err := g.Filter(args)
	if err != nil {
		// An unknown task/target in the selection is InvalidCommand
		// (spec.md §7) — a pre-execution error, not a task error.
		return exitErr(ExitPreExecution, err)
	}
	for _, name := range sel.Tasks {
		if t, ok := g.Task(name); ok {
			if opts, ok := sel.Options[name]; ok {
				t.SetParams(map[string][]string{name: opts})
			}
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		return exitErr(ExitPreExecution, err)
	}
	defer store.Close()

	runID := uuid.NewString()
	log := newLogger(cfg.LogLevel).With().Str("run_id", runID).Logger()

	console := NewConsole(os.Stdout, cfg.Verbose)
	rec := tracelog.NewRecorder(log)
	r := runner.New(g, store, reporter.Fanout{Reporters: []reporter.Reporter{console, rec}})

	var stdout, stderr io.Writer
	if cfg.Verbose {
		stdout, stderr = os.Stdout, os.Stderr
	}

	res, err := r.Run(context.Background(), sel.Tasks, runner.Options{
		NumWorkers:    cfg.NumWorkers,
		AlwaysExecute: cfg.Always,
		Continue:      cfg.Continue,
		Stdout:        stdout,
		Stderr:        stderr,
	})
	if cfg.TraceFile != "" {
		if werr := writeTraceFile(cfg.TraceFile, g, sel.Tasks, rec); werr != nil {
			log.Error().Err(werr).Msg("failed to write trace file")
		}
	}
	if err != nil {
		// A cyclic graph is InvalidDodoFile (§7): a pre-execution error,
		// even though the dispatcher only detects it once the run has
		// started expanding the graph. Every other error out of Run (a
		// dispatcher DependencyError, a stalled dispatcher, teardown
		// failures) maps to ExitTaskError; action errors never reach
		// here, they surface as StatusFailure in res.Status.
		var cycleErr *dispatch.CycleError
		if errors.As(err, &cycleErr) {
			return exitErr(ExitPreExecution, err)
		}
		return exitErr(ExitTaskError, err)
	}
	for _, status := range res.Status {
		if status == dispatch.StatusFailure || status == dispatch.StatusSkipped {
			return exitErr(ExitTaskFailure, fmt.Errorf("one or more tasks failed"))
		}
	}
	return nil
}

func newListCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every declared task",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(cfg)
			if err != nil {
				return exitErr(ExitPreExecution, err)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Task", "File deps", "Targets"})
			for _, name := range g.DefinitionOrder() {
				t, _ := g.Task(name)
				table.Append([]string{t.Name, fmt.Sprint(len(t.FileDep)), fmt.Sprint(len(t.Targets))})
			}
			table.Render()
			return nil
		},
	}
}

func newForgetCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "forget [task...]",
		Short: "Discard persisted up-to-date bookkeeping",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return exitErr(ExitPreExecution, err)
			}
			defer store.Close()
			if len(args) == 0 {
				store.RemoveAll()
				return nil
			}
			for _, name := range args {
				store.RemoveSuccess(name)
			}
			return nil
		},
	}
}

func newIgnoreCommand(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ignore [task...]",
		Short: "Mark tasks as ignored",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cfg)
			if err != nil {
				return exitErr(ExitPreExecution, err)
			}
			defer store.Close()
			for _, name := range args {
				store.Ignore(name)
			}
			return nil
		},
	}
}

func newAutoCommand(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auto [task...]",
		Short: "Re-run the selected tasks whenever their file dependencies change",
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(cfg)
			if err != nil {
				return exitErr(ExitPreExecution, err)
			}
			sel, err := g.Filter(args)
			if err != nil {
				return exitErr(ExitPreExecution, err)
			}

			var paths []string
			for _, name := range sel.Tasks {
				if t, ok := g.Task(name); ok {
					for _, dep := range t.FileDep {
						paths = append(paths, absOrSelf(dep))
					}
				}
			}

			rebuild := func([]string) error {
				return runSelection(cfg, args)
			}
			w := watch.New(paths, rebuild)
			if err := rebuild(nil); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&cfg.NumWorkers, "jobs", "j", runtime.NumCPU(), "number of concurrent workers")
	return cmd
}

func absOrSelf(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// exitError carries the exit code a caller (main) should use, alongside
// the error cobra prints.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitErr(code int, err error) error { return &exitError{code: code, err: err} }

// ExitCode extracts the intended process exit code from an error returned
// by a subcommand's RunE, defaulting to ExitTaskError for anything
// that wasn't explicitly classified.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitTaskError
}
