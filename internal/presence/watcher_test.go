package presence

import (
	"context"
	"testing"
	"time"

	"pairpad/api/internal/realtime"
)

func collectView(t *testing.T, w *Watcher, match func([]RemoteCursor) bool) []RemoteCursor {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case view, ok := <-w.Views():
			if !ok {
				t.Fatal("watcher closed while waiting for view")
			}
			if match(view) {
				return view
			}
		case <-deadline:
			t.Fatal("timed out waiting for matching view")
		}
	}
}

func TestWatcherEmitsPeerCursors(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	defer ks.Close()

	w, err := NewWatcher(context.Background(), ks, "room-1", "self", "main.go", WatcherConfig{})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	seedCursor(t, ks, "room-1", CursorState{UserID: "peer", ActiveFile: "main.go", UpdatedAtMillis: time.Now().UnixMilli()})

	view := collectView(t, w, func(v []RemoteCursor) bool { return len(v) == 1 })
	if view[0].UserID != "peer" || view[0].Visibility != VisibilityFresh {
		t.Errorf("unexpected view: %+v", view)
	}
}

func TestWatcherSweepDecaysSilentRoom(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	defer ks.Close()

	// Tight windows so the sweep alone ages the cursor out with no
	// further traffic from anyone.
	cfg := WatcherConfig{
		FreshFor:   40 * time.Millisecond,
		GoneAfter:  80 * time.Millisecond,
		SweepEvery: 10 * time.Millisecond,
	}
	seedCursor(t, ks, "room-1", CursorState{UserID: "peer", ActiveFile: "main.go", UpdatedAtMillis: time.Now().UnixMilli()})

	w, err := NewWatcher(context.Background(), ks, "room-1", "self", "main.go", cfg)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	collectView(t, w, func(v []RemoteCursor) bool {
		return len(v) == 1 && v[0].Visibility == VisibilityFresh
	})
	collectView(t, w, func(v []RemoteCursor) bool {
		return len(v) == 1 && v[0].Visibility == VisibilityFading
	})
	collectView(t, w, func(v []RemoteCursor) bool { return len(v) == 0 })
}

func TestWatcherActiveFileFilter(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	defer ks.Close()

	seedCursor(t, ks, "room-1", CursorState{UserID: "peer", ActiveFile: "other.go", UpdatedAtMillis: time.Now().UnixMilli()})

	w, err := NewWatcher(context.Background(), ks, "room-1", "self", "main.go", WatcherConfig{SweepEvery: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	collectView(t, w, func(v []RemoteCursor) bool { return len(v) == 0 })

	// Switching to the peer's file makes the cursor visible.
	w.SetActiveFile("other.go")
	collectView(t, w, func(v []RemoteCursor) bool { return len(v) == 1 })
}

func TestWatcherCloseClosesViews(t *testing.T) {
	ks := realtime.NewMemoryKeyspace()
	defer ks.Close()

	w, err := NewWatcher(context.Background(), ks, "room-1", "self", "", WatcherConfig{})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Close()
	w.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Views():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("views channel did not close")
		}
	}
}
