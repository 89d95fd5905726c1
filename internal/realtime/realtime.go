// Package realtime provides the shared keyspace every sync component reads
// and writes through. A keyspace holds subtrees of child records addressed by
// id; subscribers receive the entire current subtree on every change beneath
// it. There are no partial updates and no cross-subtree transactions: every
// write replaces a whole record and the last write observed wins.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrKeyspaceClosed is returned by operations on a closed keyspace.
var ErrKeyspaceClosed = errors.New("keyspace closed")

// Snapshot is the full contents of one subtree, keyed by child id.
type Snapshot map[string]json.RawMessage

// Clone returns an independent copy safe to hand to another goroutine.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Decode unmarshals the record stored under key into target. The second
// return reports whether the key exists.
func (s Snapshot) Decode(key string, target any) (bool, error) {
	raw, ok := s[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return true, fmt.Errorf("decode record %s: %w", key, err)
	}
	return true, nil
}

// Keyspace is the store interface shared by the in-memory and Redis backends.
type Keyspace interface {
	// Set replaces the whole record under subtree/key.
	Set(ctx context.Context, subtree, key string, value any) error
	// Delete removes the record under subtree/key. Deleting a missing key
	// is not an error.
	Delete(ctx context.Context, subtree, key string) error
	// Read returns the current snapshot of the subtree.
	Read(ctx context.Context, subtree string) (Snapshot, error)
	// Subscribe streams the subtree's snapshot: once on subscription, then
	// again after every change. A slow consumer only ever observes the
	// newest snapshot; intermediate ones are coalesced away. Cancelling
	// ctx ends the subscription as if Close had been called.
	Subscribe(ctx context.Context, subtree string) (*Subscription, error)
	Close() error
}

// Subscription is one live subtree subscription. Callers must Close it when
// done; an unclosed subscription leaks its fan-out slot.
type Subscription struct {
	updates chan Snapshot
	done    chan struct{}
	once    sync.Once
	detach  func()
}

func newSubscription(detach func()) *Subscription {
	return &Subscription{
		updates: make(chan Snapshot, 1),
		done:    make(chan struct{}),
		detach:  detach,
	}
}

// Updates yields subtree snapshots. The channel closes after Close.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.updates
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		if s.detach != nil {
			s.detach()
		}
	})
}

// push delivers a snapshot with latest-wins coalescing: if the consumer has
// not drained the previous snapshot it is replaced, never queued behind.
func (s *Subscription) push(snap Snapshot) {
	select {
	case <-s.done:
		return
	default:
	}
	for {
		select {
		case s.updates <- snap:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// Subtree constructors mirror the room namespace layout. They are the only
// place key paths are spelled out; domain packages never concatenate paths
// themselves.

func CollaboratorsSubtree(roomID string) string {
	return "rooms/" + roomID + "/collaborators"
}

func CursorsSubtree(roomID string) string {
	return "rooms/" + roomID + "/cursors"
}

func CodeBlameSubtree(roomID string) string {
	return "rooms/" + roomID + "/codeBlame"
}

func LineBlameSubtree(roomID string) string {
	return "rooms/" + roomID + "/lineBlame"
}

func CommentsSubtree(roomID string, line int) string {
	return "rooms/" + roomID + "/comments/" + strconv.Itoa(line)
}

func ChatSubtree(roomID string) string {
	return "rooms/" + roomID + "/chat"
}
