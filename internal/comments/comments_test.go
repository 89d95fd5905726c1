package comments

import (
	"context"
	"testing"

	"pairpad/api/internal/identity"
	"pairpad/api/internal/realtime"
)

func ada() identity.Identity {
	return identity.Identity{UserID: "user-1", DisplayName: "Ada", AvatarURL: "https://example.com/ada.png"}
}

func bob() identity.Identity {
	return identity.Identity{UserID: "user-2", DisplayName: "Bob", AvatarURL: "https://example.com/bob.png"}
}

func newTestStore(t *testing.T, enforce bool) *Store {
	t.Helper()
	ks := realtime.NewMemoryKeyspace()
	t.Cleanup(func() { ks.Close() })
	return NewStore(ks, enforce)
}

func TestAddAndListComment(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	added, err := store.Add(ctx, "room-1", 4, ada(), "fix this")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if added.ID == "" {
		t.Error("expected generated comment id")
	}

	list, err := store.List(ctx, "room-1", 4)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one comment on line 4, got %d", len(list))
	}
	if list[0].Text != "fix this" || list[0].AuthorName != "Ada" {
		t.Errorf("unexpected comment: %+v", list[0])
	}

	// Other lines are untouched.
	other, err := store.List(ctx, "room-1", 5)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no comments on line 5, got %d", len(other))
	}
}

func TestAddRejectsBlankText(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := store.Add(ctx, "room-1", 0, ada(), text); err != ErrEmptyText {
			t.Errorf("text %q: expected ErrEmptyText, got %v", text, err)
		}
	}

	list, err := store.List(ctx, "room-1", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("blank submissions must not reach the store, got %d comments", len(list))
	}
}

func TestAddRejectsNegativeLine(t *testing.T) {
	store := newTestStore(t, false)
	if _, err := store.Add(context.Background(), "room-1", -1, ada(), "hello"); err != ErrNegativeLine {
		t.Errorf("expected ErrNegativeLine, got %v", err)
	}
}

func TestReplyThread(t *testing.T) {
	store := newTestStore(t, false)
	var tick int64
	store.now = func() int64 { tick += 1000; return tick }
	ctx := context.Background()

	comment, err := store.Add(ctx, "room-1", 2, ada(), "question")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	first, err := store.Reply(ctx, "room-1", 2, comment.ID, bob(), "answer")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if _, err := store.Reply(ctx, "room-1", 2, comment.ID, ada(), "thanks"); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	list, err := store.List(ctx, "room-1", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	replies := list[0].SortedReplies()
	if len(replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(replies))
	}
	if replies[0].ID != first.ID {
		t.Errorf("expected replies ordered by timestamp, got %+v", replies)
	}
}

func TestListOrdersByTimestampNotInsertion(t *testing.T) {
	store := newTestStore(t, false)
	stamps := []int64{300, 100, 200}
	i := 0
	store.now = func() int64 { ts := stamps[i]; i++; return ts }
	ctx := context.Background()

	for _, text := range []string{"third", "first", "second"} {
		if _, err := store.Add(ctx, "room-1", 9, ada(), text); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	list, err := store.List(ctx, "room-1", 9)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var got []string
	for _, c := range list {
		got = append(got, c.Text)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected display order %v, got %v", want, got)
		}
	}
}

func TestReplyToMissingComment(t *testing.T) {
	store := newTestStore(t, false)
	if _, err := store.Reply(context.Background(), "room-1", 2, "ghost", bob(), "hello"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteCommentRemovesReplies(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	comment, err := store.Add(ctx, "room-1", 7, ada(), "to be removed")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.Reply(ctx, "room-1", 7, comment.ID, bob(), "reply"); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	if err := store.Delete(ctx, "room-1", 7, comment.ID, bob()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	list, err := store.List(ctx, "room-1", 7)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected comment and replies gone, got %+v", list)
	}
	if err := store.Delete(ctx, "room-1", 7, comment.ID, bob()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteReply(t *testing.T) {
	store := newTestStore(t, false)
	ctx := context.Background()

	comment, err := store.Add(ctx, "room-1", 1, ada(), "thread")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	reply, err := store.Reply(ctx, "room-1", 1, comment.ID, bob(), "noise")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	if err := store.DeleteReply(ctx, "room-1", 1, comment.ID, reply.ID, ada()); err != nil {
		t.Fatalf("DeleteReply failed: %v", err)
	}

	list, err := store.List(ctx, "room-1", 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || len(list[0].Replies) != 0 {
		t.Errorf("expected comment kept and reply gone, got %+v", list)
	}
}

func TestAuthorshipEnforcement(t *testing.T) {
	store := newTestStore(t, true)
	ctx := context.Background()

	comment, err := store.Add(ctx, "room-1", 0, ada(), "mine")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := store.Delete(ctx, "room-1", 0, comment.ID, bob()); err != ErrNotAuthor {
		t.Errorf("expected ErrNotAuthor for foreign delete, got %v", err)
	}
	if err := store.Delete(ctx, "room-1", 0, comment.ID, ada()); err != nil {
		t.Errorf("author delete failed: %v", err)
	}
}

func TestPopupPosition(t *testing.T) {
	cases := []struct {
		name                          string
		line, lineHeight, vh, ph, want int
	}{
		{"top line", 0, 20, 600, 100, 0},
		{"middle", 10, 20, 600, 100, 200},
		{"clamped to bottom", 100, 20, 600, 100, 500},
		{"popup taller than viewport", 5, 20, 80, 100, 0},
	}
	for _, tc := range cases {
		if got := PopupPosition(tc.line, tc.lineHeight, tc.vh, tc.ph); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}
