// Package vcs tracks the git branch of the working directory.
package vcs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/pi-agent/pi/internal/event"
	"github.com/pi-agent/pi/internal/logging"
)

// Detached is reported when HEAD points at a commit instead of a branch.
const Detached = "detached"

// Watcher watches .git/HEAD and publishes GitBranchChanged on the bus
// whenever the branch changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	bus     *event.Bus
	gitDir  string
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu      sync.RWMutex
	branch  string
	started bool
}

// NewWatcher creates a watcher for workDir. It returns nil without an
// error when workDir is not inside a git repository.
func NewWatcher(workDir string, bus *event.Bus) (*Watcher, error) {
	gitDir := FindGitDir(workDir)
	if gitDir == "" {
		logging.Debug().Str("workDir", workDir).Msg("not a git repository, branch watcher disabled")
		return nil, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// HEAD is replaced by rename on checkout, so watch the directory.
	if err := w.Add(gitDir); err != nil {
		w.Close()
		return nil, err
	}

	return &Watcher{
		watcher: w,
		bus:     bus,
		gitDir:  gitDir,
		branch:  readBranch(gitDir),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)
	log := logging.Component("vcs")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 && filepath.Base(ev.Name) == "HEAD" {
				w.refresh()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("branch watcher error")
		}
	}
}

// refresh rereads HEAD and publishes when the branch differs from the
// last one seen.
func (w *Watcher) refresh() {
	branch := readBranch(w.gitDir)
	if branch == "" {
		// HEAD is being rewritten.
		return
	}

	w.mu.Lock()
	old := w.branch
	w.branch = branch
	w.mu.Unlock()

	if branch == old {
		return
	}
	logging.Component("vcs").Info().Str("from", old).Str("to", branch).Msg("branch changed")
	if w.bus != nil {
		w.bus.Publish(event.Event{
			Type: event.GitBranchChanged,
			Data: event.GitBranchChangedData{Branch: branch},
		})
	}
}

// Branch returns the last branch seen.
func (w *Watcher) Branch() string {
	if w == nil {
		return ""
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.branch
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

// FindGitDir walks up from dir to the repository's git directory. A .git
// file, as used by worktrees and submodules, is followed to its gitdir.
func FindGitDir(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".git")
		if info, err := os.Stat(candidate); err == nil {
			if info.IsDir() {
				return candidate
			}
			return followGitFile(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func followGitFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	target, ok := strings.CutPrefix(strings.TrimSpace(string(data)), "gitdir:")
	if !ok {
		return ""
	}
	target = strings.TrimSpace(target)
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Clean(target)
}

// Branch returns the current branch of the repository containing dir, or
// "" outside a repository.
func Branch(dir string) string {
	gitDir := FindGitDir(dir)
	if gitDir == "" {
		return ""
	}
	return readBranch(gitDir)
}

func readBranch(gitDir string) string {
	data, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(data))
	if head == "" {
		return ""
	}
	if ref, ok := strings.CutPrefix(head, "ref: "); ok {
		return strings.TrimPrefix(ref, "refs/heads/")
	}
	return Detached
}
