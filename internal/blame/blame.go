// Package blame attributes the most recent edit of the document and of each
// line to a user. Entries are overwritten on every edit; no history is kept.
package blame

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"pairpad/api/internal/identity"
	"pairpad/api/internal/realtime"
	"pairpad/api/internal/util"
)

// lastEditorKey is the single child of the room-level blame subtree.
const lastEditorKey = "lastEditor"

var ErrNegativeLine = errors.New("line index must be non-negative")

// Editor identifies who touched a line or the document, and when.
type Editor struct {
	UserID          string `json:"userId"`
	DisplayName     string `json:"displayName"`
	AvatarURL       string `json:"avatarUrl"`
	TimestampMillis int64  `json:"timestampMillis"`
}

// View is the full blame state of a room: the document-level last editor and
// the per-line attribution map, keyed by zero-based line index.
type View struct {
	LastEditor *Editor        `json:"lastEditor,omitempty"`
	Lines      map[int]Editor `json:"lines"`
}

type Recorder struct {
	ks realtime.Keyspace
}

func NewRecorder(ks realtime.Keyspace) *Recorder {
	return &Recorder{ks: ks}
}

// RecordEdit overwrites the per-line entries for every changed line and,
// unconditionally, the room-level last editor. The caller supplies the set of
// changed line indices; each line's entry is replaced whole.
func (r *Recorder) RecordEdit(ctx context.Context, roomID string, editor identity.Identity, changedLines []int) error {
	// Reject the whole batch up front so a bad index leaves no partial state.
	for _, line := range changedLines {
		if line < 0 {
			return ErrNegativeLine
		}
	}

	entry := Editor{
		UserID:          editor.UserID,
		DisplayName:     editor.DisplayName,
		AvatarURL:       editor.AvatarURL,
		TimestampMillis: util.NowMillis(),
	}

	lineSubtree := realtime.LineBlameSubtree(roomID)
	for _, line := range changedLines {
		if err := r.ks.Set(ctx, lineSubtree, strconv.Itoa(line), entry); err != nil {
			return fmt.Errorf("record line %d blame: %w", line, err)
		}
	}
	if err := r.ks.Set(ctx, realtime.CodeBlameSubtree(roomID), lastEditorKey, entry); err != nil {
		return fmt.Errorf("record document blame: %w", err)
	}
	return nil
}

// Read assembles the current blame view from both subtrees.
func (r *Recorder) Read(ctx context.Context, roomID string) (View, error) {
	view := View{Lines: make(map[int]Editor)}

	docSnap, err := r.ks.Read(ctx, realtime.CodeBlameSubtree(roomID))
	if err != nil {
		return View{}, fmt.Errorf("read document blame: %w", err)
	}
	var last Editor
	if ok, err := docSnap.Decode(lastEditorKey, &last); err == nil && ok {
		view.LastEditor = &last
	}

	lineSnap, err := r.ks.Read(ctx, realtime.LineBlameSubtree(roomID))
	if err != nil {
		return View{}, fmt.Errorf("read line blame: %w", err)
	}
	for key := range lineSnap {
		line, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		var entry Editor
		if ok, err := lineSnap.Decode(key, &entry); err == nil && ok {
			view.Lines[line] = entry
		}
	}
	return view, nil
}
