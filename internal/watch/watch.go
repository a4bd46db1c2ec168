// Package watch implements the "auto" rebuild loop (SPEC_FULL.md DOMAIN
// STACK: gopkg.in/fsnotify.v1 wired into an auto/watch command): it watches
// every file_dep of the selected tasks and re-runs the given rebuild
// function whenever one changes, coalescing bursts of events into a
// single rebuild.
//
// The upstream doit project implements the equivalent "auto" command with
// Python's watchdog library; fsnotify is the idiomatic Go analogue the
// pack's go-skia-buildbot dependency set already commits to.
package watch

import (
	"context"
	"time"

	fsnotify "gopkg.in/fsnotify.v1"
)

// Rebuild is called once per coalesced batch of filesystem events.
type Rebuild func(changed []string) error

// Watcher watches a fixed set of paths and calls Rebuild when any change,
// debouncing bursts within Debounce of each other into one call.
type Watcher struct {
	Paths    []string
	Debounce time.Duration
	Rebuild  Rebuild
}

// New builds a Watcher. A zero Debounce defaults to 150ms, enough to
// coalesce a compiler's own writes to the same file.
func New(paths []string, rebuild Rebuild) *Watcher {
	return &Watcher{Paths: paths, Debounce: 150 * time.Millisecond, Rebuild: rebuild}
}

// Run blocks, watching until ctx is cancelled or an unrecoverable watcher
// error occurs.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	for _, p := range w.Paths {
		if err := fw.Add(p); err != nil {
			// A file_dep that doesn't exist yet (a generated file not
			// produced until first build) simply isn't watchable until it
			// exists; skip it rather than failing the whole watch.
			continue
		}
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 150 * time.Millisecond
	}

	var pending map[string]struct{}
	var timer *time.Timer
	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		changed := make([]string, 0, len(pending))
		for p := range pending {
			changed = append(changed, p)
		}
		pending = nil
		return w.Rebuild(changed)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if pending == nil {
				pending = map[string]struct{}{}
			}
			pending[ev.Name] = struct{}{}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounce)
		case <-timerC():
			timer = nil
			if err := flush(); err != nil {
				return err
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}
