package battle

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/twinbattle/internal/logging"
	"github.com/Iron-Ham/twinbattle/internal/state"
)

// stopWatcher watches a battle's state document and calls onStop when
// another process persists a paused or completed status.
type stopWatcher struct {
	watcher *fsnotify.Watcher
	store   *state.Store
	id      string
	onStop  func(state.Status)
	logger  *logging.Logger

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// watchStop starts watching the battle directory. The state file is replaced
// by rename on every save, so the directory is watched rather than the file.
func watchStop(store *state.Store, id string, logger *logging.Logger, onStop func(state.Status)) (*stopWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(state.BattleDir(store.DataDir(), id)); err != nil {
		_ = w.Close()
		return nil, err
	}
	sw := &stopWatcher{
		watcher: w,
		store:   store,
		id:      id,
		onStop:  onStop,
		logger:  logger,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go sw.loop()
	return sw, nil
}

func (sw *stopWatcher) loop() {
	defer close(sw.done)

	// Debounce: one save produces a create and a rename.
	debounce := time.NewTimer(0)
	<-debounce.C
	pending := false

	for {
		select {
		case <-sw.stopCh:
			return

		case ev, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != state.StateFileName {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(25 * time.Millisecond)

		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			sw.check()

		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("state watcher error", "error", err)
		}
	}
}

func (sw *stopWatcher) check() {
	st, err := sw.store.Load(context.Background(), sw.id)
	if err != nil {
		return
	}
	if st.Status == state.StatusPaused || st.Status == state.StatusCompleted {
		sw.onStop(st.Status)
	}
}

// Close stops the watcher and waits for its goroutine.
func (sw *stopWatcher) Close() {
	sw.once.Do(func() {
		close(sw.stopCh)
		_ = sw.watcher.Close()
		<-sw.done
	})
}
