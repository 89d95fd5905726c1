// Package chat is the room-wide message log: append-only, ordered for
// display by timestamp, deletable by id.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	"pairpad/api/internal/identity"
	"pairpad/api/internal/realtime"
	"pairpad/api/internal/util"
)

var (
	ErrEmptyText = errors.New("message text is empty")
	ErrNotFound  = errors.New("message not found")
	ErrNotAuthor = errors.New("only the author may delete this")
)

type Message struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	AuthorID        string `json:"authorId"`
	AuthorName      string `json:"authorName"`
	AuthorAvatar    string `json:"authorAvatar"`
	TimestampMillis int64  `json:"timestampMillis"`
}

// Channel reads and writes one room's chat log through the shared keyspace.
type Channel struct {
	ks                realtime.Keyspace
	enforceAuthorship bool
	now               func() int64
}

func NewChannel(ks realtime.Keyspace, enforceAuthorship bool) *Channel {
	return &Channel{ks: ks, enforceAuthorship: enforceAuthorship, now: util.NowMillis}
}

// Send appends a message. Blank text is rejected before any store write.
// Message ids are ULIDs, so key order roughly tracks send time, but display
// ordering never relies on it.
func (c *Channel) Send(ctx context.Context, roomID string, author identity.Identity, text string) (Message, error) {
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyText
	}
	msg := Message{
		ID:              ulid.Make().String(),
		Text:            text,
		AuthorID:        author.UserID,
		AuthorName:      author.DisplayName,
		AuthorAvatar:    author.AvatarURL,
		TimestampMillis: c.now(),
	}
	if err := c.ks.Set(ctx, realtime.ChatSubtree(roomID), msg.ID, msg); err != nil {
		return Message{}, fmt.Errorf("write message: %w", err)
	}
	return msg, nil
}

// Delete removes a message by id.
func (c *Channel) Delete(ctx context.Context, roomID, messageID string, requester identity.Identity) error {
	subtree := realtime.ChatSubtree(roomID)
	snap, err := c.ks.Read(ctx, subtree)
	if err != nil {
		return fmt.Errorf("read chat: %w", err)
	}
	var msg Message
	ok, err := snap.Decode(messageID, &msg)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if c.enforceAuthorship && msg.AuthorID != requester.UserID {
		return ErrNotAuthor
	}
	if err := c.ks.Delete(ctx, subtree, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// List returns the log in display order, timestamp ascending regardless of
// insertion order.
func (c *Channel) List(ctx context.Context, roomID string) ([]Message, error) {
	snap, err := c.ks.Read(ctx, realtime.ChatSubtree(roomID))
	if err != nil {
		return nil, fmt.Errorf("read chat: %w", err)
	}
	return SortMessages(snap), nil
}

// SortMessages decodes a chat snapshot into display order.
func SortMessages(snap realtime.Snapshot) []Message {
	msgs := make([]Message, 0, len(snap))
	for key := range snap {
		var msg Message
		if ok, err := snap.Decode(key, &msg); err == nil && ok {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].TimestampMillis != msgs[j].TimestampMillis {
			return msgs[i].TimestampMillis < msgs[j].TimestampMillis
		}
		return msgs[i].ID < msgs[j].ID
	})
	return msgs
}
