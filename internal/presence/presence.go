// Package presence tracks live cursors for a room: each user publishes their
// own whole-record cursor state and watches everyone else's, with age-based
// visibility so crashed peers fade and disappear instead of lingering.
package presence

import (
	"hash/fnv"
	"sort"
	"time"

	"pairpad/api/internal/realtime"
)

type State string

const (
	StateNormal State = "normal"
	StateTyping State = "typing"
)

// CursorState is one user's live cursor record. Positions are percentages of
// the editor viewport bounding box, so they survive scroll and resize;
// consumers re-derive pixels against their own viewport. Records are always
// replaced whole, never patched.
type CursorState struct {
	UserID          string  `json:"userId"`
	DisplayName     string  `json:"displayName"`
	AvatarURL       string  `json:"avatarUrl"`
	XPercent        float64 `json:"xPercent"`
	YPercent        float64 `json:"yPercent"`
	State           State   `json:"state"`
	ActiveFile      string  `json:"activeFile"`
	UpdatedAtMillis int64   `json:"updatedAtMillis"`
}

// Visibility is the age-based classification of a remote cursor.
type Visibility string

const (
	// VisibilityFresh: updated within the fresh window, rendered fully.
	VisibilityFresh Visibility = "fresh"
	// VisibilityFading: likely disconnected, rendered at reduced opacity.
	VisibilityFading Visibility = "fading"
	// VisibilityGone: past the cutoff, excluded from the visible set.
	VisibilityGone Visibility = "gone"
)

const (
	// DefaultFreshFor and DefaultGoneAfter are the staleness tiers.
	DefaultFreshFor  = 15 * time.Second
	DefaultGoneAfter = 30 * time.Second
	// DefaultDeadBand is the positional suppression threshold in
	// percentage points.
	DefaultDeadBand = 0.1
	// DefaultTypingTimeout is the keystroke inactivity window before the
	// typing state reverts to normal.
	DefaultTypingTimeout = 2 * time.Second
	// DefaultSweepEvery re-evaluates staleness in silent rooms.
	DefaultSweepEvery = 5 * time.Second
)

// Classify buckets a cursor record by its age at the given instant.
func Classify(updatedAtMillis int64, now time.Time, freshFor, goneAfter time.Duration) Visibility {
	age := now.Sub(time.UnixMilli(updatedAtMillis))
	switch {
	case age < freshFor:
		return VisibilityFresh
	case age < goneAfter:
		return VisibilityFading
	default:
		return VisibilityGone
	}
}

// RemoteCursor is a classified peer cursor ready for rendering.
type RemoteCursor struct {
	CursorState
	Visibility Visibility `json:"visibility"`
	Color      string     `json:"color"`
}

// palette is the fixed set of display colors. Identity-hashed assignment
// keeps a user's color stable across sessions with no server registry.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

// ColorFor maps a user id to its display color.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// VisibleCursors filters and classifies a cursors snapshot: the local user
// and peers on other files are excluded, as is anything past the gone cutoff.
// Results are ordered by user id so repeated renders are stable.
func VisibleCursors(snap realtime.Snapshot, selfID, activeFile string, now time.Time, freshFor, goneAfter time.Duration) []RemoteCursor {
	cursors := make([]RemoteCursor, 0, len(snap))
	for key := range snap {
		var state CursorState
		ok, err := snap.Decode(key, &state)
		if !ok || err != nil {
			continue
		}
		if state.UserID == selfID {
			continue
		}
		if activeFile != "" && state.ActiveFile != activeFile {
			continue
		}
		visibility := Classify(state.UpdatedAtMillis, now, freshFor, goneAfter)
		if visibility == VisibilityGone {
			continue
		}
		cursors = append(cursors, RemoteCursor{
			CursorState: state,
			Visibility:  visibility,
			Color:       ColorFor(state.UserID),
		})
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].UserID < cursors[j].UserID })
	return cursors
}
