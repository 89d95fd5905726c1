// Package comments is the per-line threaded discussion store: comments keyed
// by zero-based line index, each holding nested replies. Comments and replies
// are immutable once created except for deletion.
package comments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"pairpad/api/internal/identity"
	"pairpad/api/internal/realtime"
	"pairpad/api/internal/util"
)

var (
	ErrEmptyText    = errors.New("comment text is empty")
	ErrNegativeLine = errors.New("line index must be non-negative")
	ErrNotFound     = errors.New("comment not found")
	ErrNotAuthor    = errors.New("only the author may delete this")
)

// Reply is one nested reply under a comment.
type Reply struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	AuthorID        string `json:"authorId"`
	AuthorName      string `json:"authorName"`
	AuthorAvatar    string `json:"authorAvatar"`
	TimestampMillis int64  `json:"timestampMillis"`
}

// Comment is the stored record: deleting the comment removes the nested
// replies with it.
type Comment struct {
	ID              string           `json:"id"`
	Text            string           `json:"text"`
	AuthorID        string           `json:"authorId"`
	AuthorName      string           `json:"authorName"`
	AuthorAvatar    string           `json:"authorAvatar"`
	TimestampMillis int64            `json:"timestampMillis"`
	Replies         map[string]Reply `json:"replies"`
}

// SortedReplies returns the replies in display order, timestamp ascending.
func (c Comment) SortedReplies() []Reply {
	replies := make([]Reply, 0, len(c.Replies))
	for _, r := range c.Replies {
		replies = append(replies, r)
	}
	sort.Slice(replies, func(i, j int) bool {
		if replies[i].TimestampMillis != replies[j].TimestampMillis {
			return replies[i].TimestampMillis < replies[j].TimestampMillis
		}
		return replies[i].ID < replies[j].ID
	})
	return replies
}

// Store reads and writes comment threads through the shared keyspace.
// EnforceAuthorship gates deletes to the original author; the default is
// permissive, matching the collaborative-room trust boundary.
type Store struct {
	ks                realtime.Keyspace
	enforceAuthorship bool
	now               func() int64
}

func NewStore(ks realtime.Keyspace, enforceAuthorship bool) *Store {
	return &Store{ks: ks, enforceAuthorship: enforceAuthorship, now: util.NowMillis}
}

// Add writes a new comment on the given line. Blank text is rejected before
// any store write.
func (s *Store) Add(ctx context.Context, roomID string, line int, author identity.Identity, text string) (Comment, error) {
	if line < 0 {
		return Comment{}, ErrNegativeLine
	}
	if strings.TrimSpace(text) == "" {
		return Comment{}, ErrEmptyText
	}
	comment := Comment{
		ID:              uuid.NewString(),
		Text:            text,
		AuthorID:        author.UserID,
		AuthorName:      author.DisplayName,
		AuthorAvatar:    author.AvatarURL,
		TimestampMillis: s.now(),
		Replies:         map[string]Reply{},
	}
	subtree := realtime.CommentsSubtree(roomID, line)
	if err := s.ks.Set(ctx, subtree, comment.ID, comment); err != nil {
		return Comment{}, fmt.Errorf("write comment: %w", err)
	}
	return comment, nil
}

// Reply appends a reply under an existing comment. The store has no partial
// updates, so the whole comment record is read and rewritten.
func (s *Store) Reply(ctx context.Context, roomID string, line int, commentID string, author identity.Identity, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyText
	}
	comment, err := s.get(ctx, roomID, line, commentID)
	if err != nil {
		return Reply{}, err
	}
	reply := Reply{
		ID:              uuid.NewString(),
		Text:            text,
		AuthorID:        author.UserID,
		AuthorName:      author.DisplayName,
		AuthorAvatar:    author.AvatarURL,
		TimestampMillis: s.now(),
	}
	if comment.Replies == nil {
		comment.Replies = map[string]Reply{}
	}
	comment.Replies[reply.ID] = reply
	subtree := realtime.CommentsSubtree(roomID, line)
	if err := s.ks.Set(ctx, subtree, comment.ID, comment); err != nil {
		return Reply{}, fmt.Errorf("write reply: %w", err)
	}
	return reply, nil
}

// Delete removes a comment and all of its replies.
func (s *Store) Delete(ctx context.Context, roomID string, line int, commentID string, requester identity.Identity) error {
	comment, err := s.get(ctx, roomID, line, commentID)
	if err != nil {
		return err
	}
	if s.enforceAuthorship && comment.AuthorID != requester.UserID {
		return ErrNotAuthor
	}
	if err := s.ks.Delete(ctx, realtime.CommentsSubtree(roomID, line), commentID); err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return nil
}

// DeleteReply removes a single reply, rewriting the parent comment.
func (s *Store) DeleteReply(ctx context.Context, roomID string, line int, commentID, replyID string, requester identity.Identity) error {
	comment, err := s.get(ctx, roomID, line, commentID)
	if err != nil {
		return err
	}
	reply, ok := comment.Replies[replyID]
	if !ok {
		return ErrNotFound
	}
	if s.enforceAuthorship && reply.AuthorID != requester.UserID {
		return ErrNotAuthor
	}
	delete(comment.Replies, replyID)
	subtree := realtime.CommentsSubtree(roomID, line)
	if err := s.ks.Set(ctx, subtree, comment.ID, comment); err != nil {
		return fmt.Errorf("rewrite comment: %w", err)
	}
	return nil
}

// List returns the line's comments in display order, timestamp ascending
// regardless of store delivery order.
func (s *Store) List(ctx context.Context, roomID string, line int) ([]Comment, error) {
	if line < 0 {
		return nil, ErrNegativeLine
	}
	snap, err := s.ks.Read(ctx, realtime.CommentsSubtree(roomID, line))
	if err != nil {
		return nil, fmt.Errorf("read comments: %w", err)
	}
	list := make([]Comment, 0, len(snap))
	for key := range snap {
		var comment Comment
		if ok, err := snap.Decode(key, &comment); err == nil && ok {
			list = append(list, comment)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].TimestampMillis != list[j].TimestampMillis {
			return list[i].TimestampMillis < list[j].TimestampMillis
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Store) get(ctx context.Context, roomID string, line int, commentID string) (Comment, error) {
	if line < 0 {
		return Comment{}, ErrNegativeLine
	}
	snap, err := s.ks.Read(ctx, realtime.CommentsSubtree(roomID, line))
	if err != nil {
		return Comment{}, fmt.Errorf("read comments: %w", err)
	}
	var comment Comment
	ok, err := snap.Decode(commentID, &comment)
	if err != nil {
		return Comment{}, err
	}
	if !ok {
		return Comment{}, ErrNotFound
	}
	return comment, nil
}

// PopupPosition computes the pixel offset of a comment popup anchored to a
// line, clamped so the popup stays inside the visible editor bounds. Pure
// presentation arithmetic; viewers pass their own dimensions.
func PopupPosition(line, lineHeight, viewportHeight, popupHeight int) int {
	offset := line * lineHeight
	max := viewportHeight - popupHeight
	if max < 0 {
		max = 0
	}
	if offset > max {
		offset = max
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}
