package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryKeyspace is the in-process backend: a concurrent map of subtrees with
// per-subtree fan-out. It is the default when no Redis URL is configured and
// the fixture every package test runs against.
type MemoryKeyspace struct {
	mu     sync.Mutex
	data   map[string]map[string]json.RawMessage
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewMemoryKeyspace() *MemoryKeyspace {
	return &MemoryKeyspace{
		data: make(map[string]map[string]json.RawMessage),
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

func (m *MemoryKeyspace) Set(ctx context.Context, subtree, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal record %s/%s: %w", subtree, key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrKeyspaceClosed
	}
	tree, ok := m.data[subtree]
	if !ok {
		tree = make(map[string]json.RawMessage)
		m.data[subtree] = tree
	}
	tree[key] = raw
	writesTotal.WithLabelValues("memory").Inc()
	m.fanOutLocked(subtree)
	return nil
}

func (m *MemoryKeyspace) Delete(ctx context.Context, subtree, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrKeyspaceClosed
	}
	tree, ok := m.data[subtree]
	if !ok {
		return nil
	}
	if _, ok := tree[key]; !ok {
		return nil
	}
	delete(tree, key)
	if len(tree) == 0 {
		delete(m.data, subtree)
	}
	deletesTotal.WithLabelValues("memory").Inc()
	m.fanOutLocked(subtree)
	return nil
}

func (m *MemoryKeyspace) Read(ctx context.Context, subtree string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrKeyspaceClosed
	}
	return m.snapshotLocked(subtree), nil
}

func (m *MemoryKeyspace) Subscribe(ctx context.Context, subtree string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrKeyspaceClosed
	}

	var sub *Subscription
	sub = newSubscription(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if set, ok := m.subs[subtree]; ok {
			if _, attached := set[sub]; attached {
				delete(set, sub)
				if len(set) == 0 {
					delete(m.subs, subtree)
				}
				close(sub.updates)
			}
		}
	})

	set, ok := m.subs[subtree]
	if !ok {
		set = make(map[*Subscription]struct{})
		m.subs[subtree] = set
	}
	set[sub] = struct{}{}

	// Initial snapshot so subscribers do not wait for the next change.
	sub.push(m.snapshotLocked(subtree))
	snapshotsTotal.WithLabelValues("memory").Inc()

	// The subscription ends with the caller's context as well as with Close.
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

func (m *MemoryKeyspace) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for subtree, set := range m.subs {
		for sub := range set {
			close(sub.updates)
		}
		delete(m.subs, subtree)
	}
	return nil
}

func (m *MemoryKeyspace) snapshotLocked(subtree string) Snapshot {
	tree := m.data[subtree]
	snap := make(Snapshot, len(tree))
	for k, v := range tree {
		snap[k] = v
	}
	return snap
}

func (m *MemoryKeyspace) fanOutLocked(subtree string) {
	set := m.subs[subtree]
	if len(set) == 0 {
		return
	}
	snap := m.snapshotLocked(subtree)
	for sub := range set {
		sub.push(snap.Clone())
		snapshotsTotal.WithLabelValues("memory").Inc()
	}
}
