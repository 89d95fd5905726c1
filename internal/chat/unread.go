package chat

import (
	"fmt"
	"sync"
	"time"

	"pairpad/api/internal/util"
)

// UnreadTracker is one client's unread accounting. While the chat panel is
// closed, messages from other users newer than the last-read mark count as
// unread; opening the panel clears the count and advances the mark.
type UnreadTracker struct {
	mu             sync.Mutex
	selfID         string
	lastReadMillis int64
	open           bool
	count          int
	now            func() int64
}

func NewUnreadTracker(selfID string) *UnreadTracker {
	t := &UnreadTracker{selfID: selfID, now: util.NowMillis}
	t.lastReadMillis = t.now()
	return t
}

// Update recomputes the unread count from the full message log. Snapshots
// arrive whole, so recomputing keeps the count correct regardless of how
// many deliveries were coalesced or repeated.
func (t *UnreadTracker) Update(msgs []Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.count = 0
		return 0
	}
	count := 0
	for _, msg := range msgs {
		if msg.AuthorID != t.selfID && msg.TimestampMillis > t.lastReadMillis {
			count++
		}
	}
	t.count = count
	return count
}

// Open marks the panel visible: the count resets and the last-read mark
// advances to now.
func (t *UnreadTracker) Open() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = true
	t.count = 0
	t.lastReadMillis = t.now()
}

// ClosePanel marks the panel hidden again; unread counting resumes from the
// current last-read mark.
func (t *UnreadTracker) ClosePanel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
}

// Unread returns the current count.
func (t *UnreadTracker) Unread() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// LastRead returns the current last-read mark in Unix milliseconds.
func (t *UnreadTracker) LastRead() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastReadMillis
}

// FormatRelativeTime renders a message timestamp for display: "just now"
// under a minute, minutes under an hour, local time-of-day under a day, and
// the local date beyond that.
func FormatRelativeTime(tsMillis int64, now time.Time) string {
	ts := time.UnixMilli(tsMillis)
	age := now.Sub(ts)
	switch {
	case age < time.Minute:
		return "just now"
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return ts.Local().Format("3:04 PM")
	default:
		return ts.Local().Format("Jan 2, 2006")
	}
}
