// Package watch reruns a build whenever one of its tracked source files
// changes.
package watch

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/reu-dev/razel/src/cli/logging"
)

var log = logging.MustGetLogger("watch")

// debounceInterval is the quiet period drainUntilQuiet waits for: after the
// first event in a batch, further events are discarded until this long
// passes with none arriving, so saving a file through an editor that writes
// several times in a row (write, chmod, rename) triggers one rerun, not
// several.
const debounceInterval = 50 * time.Millisecond

// Watch adds a filesystem watch on the directory of every path in paths
// and calls rerun every time one of them changes, until stop is closed. It
// never returns except by stop being closed or a fatal error setting up the
// watcher.
func Watch(paths []string, stop <-chan struct{}, rerun func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	tracked := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		tracked[abs] = true
		dir := filepath.Dir(abs)
		if !dirs[dir] {
			dirs[dir] = true
			if err := watcher.Add(dir); err != nil {
				log.Warning("could not watch %s: %s", dir, err)
			}
		}
	}
	log.Notice("watching %d source file(s) across %d director(y/ies) for changes", len(tracked), len(dirs))

	for {
		select {
		case <-stop:
			return nil
		case event := <-watcher.Events:
			if !tracked[event.Name] {
				continue
			}
			log.Info("%s changed", event.Name)
			drainUntilQuiet(watcher)
			if err := rerun(); err != nil {
				log.Error("rerun failed: %s", err)
			}
		case err := <-watcher.Errors:
			log.Error("watch error: %s", err)
		}
	}
}

// drainUntilQuiet discards further events until debounceInterval passes
// with none arriving, collapsing a burst of writes into a single rerun.
func drainUntilQuiet(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-watcher.Events:
		case <-time.After(debounceInterval):
			return
		}
	}
}
