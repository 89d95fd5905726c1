package presence

import (
	"context"
	"sync"
	"time"

	"pairpad/api/internal/realtime"
)

// WatcherConfig tunes staleness classification. Zero values take the
// defaults.
type WatcherConfig struct {
	FreshFor  time.Duration
	GoneAfter time.Duration
	// SweepEvery re-runs classification even when no snapshot arrives, so
	// the last cursor in a silent room still fades and disappears.
	SweepEvery time.Duration
	Now        func() time.Time
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.FreshFor <= 0 {
		c.FreshFor = DefaultFreshFor
	}
	if c.GoneAfter <= 0 {
		c.GoneAfter = DefaultGoneAfter
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = DefaultSweepEvery
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Watcher subscribes to a room's cursors subtree and emits classified views
// of everyone else's cursors. Views are coalesced latest-wins; a consumer
// that falls behind only sees the newest.
type Watcher struct {
	sub     *realtime.Subscription
	cfg     WatcherConfig
	views   chan []RemoteCursor
	refresh chan struct{}

	mu         sync.Mutex
	snapshot   realtime.Snapshot
	selfID     string
	activeFile string

	done chan struct{}
	once sync.Once
}

func NewWatcher(ctx context.Context, ks realtime.Keyspace, roomID, selfID, activeFile string, cfg WatcherConfig) (*Watcher, error) {
	sub, err := ks.Subscribe(ctx, realtime.CursorsSubtree(roomID))
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		sub:        sub,
		cfg:        cfg.withDefaults(),
		views:      make(chan []RemoteCursor, 1),
		refresh:    make(chan struct{}, 1),
		selfID:     selfID,
		activeFile: activeFile,
		done:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Views yields classified cursor views. The channel closes after Close.
func (w *Watcher) Views() <-chan []RemoteCursor {
	return w.views
}

// SetActiveFile changes which file's cursors are visible and triggers a
// re-emit.
func (w *Watcher) SetActiveFile(file string) {
	w.mu.Lock()
	w.activeFile = file
	w.mu.Unlock()
	select {
	case w.refresh <- struct{}{}:
	default:
	}
}

// Close unsubscribes and stops the sweep. Safe to call more than once.
func (w *Watcher) Close() {
	w.once.Do(func() {
		close(w.done)
		w.sub.Close()
	})
}

func (w *Watcher) run() {
	defer close(w.views)
	ticker := time.NewTicker(w.cfg.SweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case snap, ok := <-w.sub.Updates():
			if !ok {
				return
			}
			w.mu.Lock()
			w.snapshot = snap
			w.mu.Unlock()
			w.emit()
		case <-w.refresh:
			w.emit()
		case <-ticker.C:
			w.emit()
		}
	}
}

// emit is only called from run, which is also the goroutine that closes the
// views channel.
func (w *Watcher) emit() {
	w.mu.Lock()
	snap := w.snapshot
	selfID := w.selfID
	activeFile := w.activeFile
	w.mu.Unlock()

	view := VisibleCursors(snap, selfID, activeFile, w.cfg.Now(), w.cfg.FreshFor, w.cfg.GoneAfter)
	for {
		select {
		case w.views <- view:
			return
		default:
		}
		select {
		case <-w.views:
		default:
		}
	}
}
