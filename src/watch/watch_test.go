package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchTriggersOnChange(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(p, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	reran := make(chan struct{}, 1)
	go func() {
		_ = Watch([]string{p}, stop, func() error {
			select {
			case reran <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// Give the watcher time to register its directory watch before writing.
	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(p, []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reran:
	case <-time.After(2 * time.Second):
		t.Fatal("rerun was not called after the tracked file changed")
	}
	close(stop)
}

func TestWatchIgnoresUntrackedFile(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "tracked.txt")
	untracked := filepath.Join(dir, "untracked.txt")
	if err := os.WriteFile(tracked, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(untracked, []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	reran := make(chan struct{}, 1)
	go func() {
		_ = Watch([]string{tracked}, stop, func() error {
			reran <- struct{}{}
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if err := os.WriteFile(untracked, []byte("b"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reran:
		t.Fatal("rerun fired for a change to an untracked file")
	case <-time.After(200 * time.Millisecond):
	}
	close(stop)
}
