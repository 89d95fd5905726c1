// Package collab ties the sync components together per room: collaborator
// membership, presence wiring, comments, chat, and blame behind one service.
package collab

import (
	"context"
	"fmt"
	"sort"

	"pairpad/api/internal/blame"
	"pairpad/api/internal/chat"
	"pairpad/api/internal/comments"
	"pairpad/api/internal/identity"
	"pairpad/api/internal/presence"
	"pairpad/api/internal/realtime"
	"pairpad/api/internal/util"
)

// Collaborator is the durable membership record: written on join, removed on
// clean leave. A crash leaves it behind; unlike cursors there is no expiry,
// records accumulate until externally purged.
type Collaborator struct {
	ID               string `json:"id"`
	DisplayName      string `json:"displayName"`
	AvatarURL        string `json:"avatarUrl"`
	IsCreator        bool   `json:"isCreator"`
	LastActiveMillis int64  `json:"lastActiveAt"`
}

// Config carries the room-level policy knobs.
type Config struct {
	// EnforceAuthorship gates comment/chat deletes to their authors.
	// Off by default: the original trust model hides the affordance in
	// the UI only.
	EnforceAuthorship bool
	Publisher         presence.PublisherConfig
	Watcher           presence.WatcherConfig
}

// Service is the room-scoped facade the transport layer talks to. Rooms are
// created implicitly on first write and never explicitly destroyed.
type Service struct {
	ks  realtime.Keyspace
	cfg Config

	Comments *comments.Store
	Chat     *chat.Channel
	Blame    *blame.Recorder
}

func NewService(ks realtime.Keyspace, cfg Config) *Service {
	return &Service{
		ks:       ks,
		cfg:      cfg,
		Comments: comments.NewStore(ks, cfg.EnforceAuthorship),
		Chat:     chat.NewChannel(ks, cfg.EnforceAuthorship),
		Blame:    blame.NewRecorder(ks),
	}
}

// Join writes the caller's collaborator record. The first user to ever join
// a room is marked its creator; rejoining refreshes lastActiveAt but keeps
// the original creator flag.
func (s *Service) Join(ctx context.Context, roomID string, id identity.Identity) (Collaborator, error) {
	subtree := realtime.CollaboratorsSubtree(roomID)
	snap, err := s.ks.Read(ctx, subtree)
	if err != nil {
		return Collaborator{}, fmt.Errorf("read collaborators: %w", err)
	}

	record := Collaborator{
		ID:               id.UserID,
		DisplayName:      id.DisplayName,
		AvatarURL:        id.AvatarURL,
		IsCreator:        len(snap) == 0,
		LastActiveMillis: util.NowMillis(),
	}
	var existing Collaborator
	if ok, err := snap.Decode(id.UserID, &existing); err == nil && ok {
		record.IsCreator = existing.IsCreator
	}

	if err := s.ks.Set(ctx, subtree, id.UserID, record); err != nil {
		return Collaborator{}, fmt.Errorf("write collaborator: %w", err)
	}
	return record, nil
}

// Leave is the clean exit: it removes the collaborator record and the user's
// cursor record so peers see an explicit departure rather than a fade-out.
func (s *Service) Leave(ctx context.Context, roomID, userID string) error {
	if err := s.ks.Delete(ctx, realtime.CursorsSubtree(roomID), userID); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	if err := s.ks.Delete(ctx, realtime.CollaboratorsSubtree(roomID), userID); err != nil {
		return fmt.Errorf("delete collaborator: %w", err)
	}
	return nil
}

// Collaborators lists the room's membership, creator first, then by name.
func (s *Service) Collaborators(ctx context.Context, roomID string) ([]Collaborator, error) {
	snap, err := s.ks.Read(ctx, realtime.CollaboratorsSubtree(roomID))
	if err != nil {
		return nil, fmt.Errorf("read collaborators: %w", err)
	}
	list := make([]Collaborator, 0, len(snap))
	for key := range snap {
		var c Collaborator
		if ok, err := snap.Decode(key, &c); err == nil && ok {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].IsCreator != list[j].IsCreator {
			return list[i].IsCreator
		}
		if list[i].DisplayName != list[j].DisplayName {
			return list[i].DisplayName < list[j].DisplayName
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// NewPublisher builds the cursor publisher for one connected user.
func (s *Service) NewPublisher(roomID string, id identity.Identity, activeFile string) *presence.Publisher {
	return presence.NewPublisher(s.ks, roomID, id, activeFile, s.cfg.Publisher)
}

// NewWatcher builds the classified cursor view stream for one connected
// user.
func (s *Service) NewWatcher(ctx context.Context, roomID, selfID, activeFile string) (*presence.Watcher, error) {
	return presence.NewWatcher(ctx, s.ks, roomID, selfID, activeFile, s.cfg.Watcher)
}

// WatchChat subscribes to a room's chat subtree, for connections that stream
// messages instead of polling.
func (s *Service) WatchChat(ctx context.Context, roomID string) (*realtime.Subscription, error) {
	return s.ks.Subscribe(ctx, realtime.ChatSubtree(roomID))
}

// Ping reports backend health for the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	type pinger interface{ Ping(context.Context) error }
	if p, ok := s.ks.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
