package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pi-agent/pi/internal/logging"
	"github.com/pi-agent/pi/pkg/types"
)

const reloadDebounce = 150 * time.Millisecond

// Watcher reloads settings when a settings file changes.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	onChange  func(*types.Settings)
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Watch starts watching the global and project settings directories.
// onChange receives the freshly merged settings after each change.
// Directories that do not exist are skipped.
func Watch(ctx context.Context, directory string, onChange func(*types.Settings)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dirs := []string{AgentDir()}
	if directory != "" {
		dirs = append(dirs, filepath.Join(directory, ".pi"))
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w := &Watcher{
		watcher:   fw,
		directory: directory,
		onChange:  onChange,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	go w.run(ctx)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	log := logging.Component("config")

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isSettingsFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			settings, err := Load(w.directory)
			if err != nil {
				log.Warn().Err(err).Msg("settings reload had errors")
			}
			log.Info().Msg("settings reloaded")
			if w.onChange != nil {
				w.onChange(settings)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("settings watcher error")
		}
	}
}

func isSettingsFile(path string) bool {
	base := filepath.Base(path)
	for _, name := range settingsFileNames {
		if base == name {
			return true
		}
	}
	return false
}

// Stop stops the watcher and waits for its goroutine.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
	return w.watcher.Close()
}
