// Package watcher reloads the in-memory credential when the token file is
// changed on disk by another process, such as a second wscli invocation or
// a manual edit.
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/wscli-dev/wscli/internal/auth/google"
)

// debounceWindow collapses bursts of events from a single atomic rewrite
// (create temp, rename) into one reload.
const debounceWindow = 200 * time.Millisecond

// TokenWatcher watches the directory holding the token file and reloads the
// token store on changes. The directory is watched rather than the file
// because atomic rename replaces the inode the file watch would be pinned
// to.
type TokenWatcher struct {
	store    *google.TokenStore
	watcher  *fsnotify.Watcher
	reloaded chan struct{}
}

// NewTokenWatcher creates a watcher for the store's token file.
func NewTokenWatcher(store *google.TokenStore) (*TokenWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TokenWatcher{
		store:    store,
		watcher:  fsWatcher,
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reloaded signals after the store has picked up an on-disk change. The
// channel is level-triggered: bursts collapse into one pending signal.
func (w *TokenWatcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Start begins watching until ctx is cancelled.
func (w *TokenWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.run(ctx)
	log.Debugf("watching %s for token file changes", dir)
	return nil
}

func (w *TokenWatcher) run(ctx context.Context) {
	var timer *time.Timer
	target := filepath.Clean(w.store.Path())

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				if w.store.LoadSaved() {
					log.Debug("token file changed on disk, reloaded credential")
				} else {
					log.Debug("token file changed on disk but is missing or unreadable")
				}
				select {
				case w.reloaded <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("token watcher error: %v", err)
		}
	}
}
