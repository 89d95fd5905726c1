package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisKeyspace backs the shared keyspace with Redis: one hash per subtree
// and a pub/sub channel per subtree for change notification. Subscribers
// re-read the whole hash on every notification, which matches the
// snapshot-on-any-change delivery model.
type RedisKeyspace struct {
	client *redis.Client
	prefix string

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewRedisKeyspace(redisURL string) (*RedisKeyspace, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisKeyspaceWithClient(client), nil
}

// NewRedisKeyspaceWithClient wraps an existing Redis client.
func NewRedisKeyspaceWithClient(client *redis.Client) *RedisKeyspace {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &RedisKeyspace{
		client:     client,
		prefix:     "sync:",
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

func (s *RedisKeyspace) hashKey(subtree string) string {
	return s.prefix + subtree
}

func (s *RedisKeyspace) channel(subtree string) string {
	return s.prefix + "notify:" + subtree
}

func (s *RedisKeyspace) Set(ctx context.Context, subtree, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal record %s/%s: %w", subtree, key, err)
	}
	if err := s.client.HSet(ctx, s.hashKey(subtree), key, raw).Err(); err != nil {
		return fmt.Errorf("write record %s/%s: %w", subtree, key, err)
	}
	writesTotal.WithLabelValues("redis").Inc()
	if err := s.client.Publish(ctx, s.channel(subtree), key).Err(); err != nil {
		return fmt.Errorf("notify subtree %s: %w", subtree, err)
	}
	return nil
}

func (s *RedisKeyspace) Delete(ctx context.Context, subtree, key string) error {
	removed, err := s.client.HDel(ctx, s.hashKey(subtree), key).Result()
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", subtree, key, err)
	}
	if removed == 0 {
		return nil
	}
	deletesTotal.WithLabelValues("redis").Inc()
	if err := s.client.Publish(ctx, s.channel(subtree), key).Err(); err != nil {
		return fmt.Errorf("notify subtree %s: %w", subtree, err)
	}
	return nil
}

func (s *RedisKeyspace) Read(ctx context.Context, subtree string) (Snapshot, error) {
	values, err := s.client.HGetAll(ctx, s.hashKey(subtree)).Result()
	if err != nil {
		return nil, fmt.Errorf("read subtree %s: %w", subtree, err)
	}
	snap := make(Snapshot, len(values))
	for k, v := range values {
		snap[k] = json.RawMessage(v)
	}
	return snap, nil
}

func (s *RedisKeyspace) Subscribe(ctx context.Context, subtree string) (*Subscription, error) {
	if err := s.rootCtx.Err(); err != nil {
		return nil, ErrKeyspaceClosed
	}
	pumpCtx, cancel := context.WithCancel(s.rootCtx)
	sub := newSubscription(cancel)
	go s.pump(pumpCtx, subtree, sub)

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

// pump keeps one pub/sub stream alive for the life of the subscription,
// resubscribing with exponential backoff after transient failures.
func (s *RedisKeyspace) pump(ctx context.Context, subtree string, sub *Subscription) {
	defer close(sub.updates)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0

	for {
		streamed, err := s.stream(ctx, subtree, sub)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("realtime: subtree %s stream error: %v", subtree, err)
		}
		if streamed {
			policy.Reset()
		}
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case <-time.After(policy.NextBackOff()):
		}
	}
}

// stream subscribes to the subtree channel and pushes a fresh snapshot on
// every notification. Returns whether at least the initial snapshot was
// delivered, and the error that ended the stream.
func (s *RedisKeyspace) stream(ctx context.Context, subtree string, sub *Subscription) (bool, error) {
	pubsub := s.client.Subscribe(ctx, s.channel(subtree))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return false, fmt.Errorf("subscribe subtree %s: %w", subtree, err)
	}

	snap, err := s.Read(ctx, subtree)
	if err != nil {
		return false, err
	}
	sub.push(snap)
	snapshotsTotal.WithLabelValues("redis").Inc()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return true, nil
		case <-sub.Done():
			return true, nil
		case _, ok := <-messages:
			if !ok {
				return true, fmt.Errorf("subtree %s channel closed", subtree)
			}
			snap, err := s.Read(ctx, subtree)
			if err != nil {
				return true, err
			}
			sub.push(snap)
			snapshotsTotal.WithLabelValues("redis").Inc()
		}
	}
}

func (s *RedisKeyspace) Close() error {
	s.rootCancel()
	return s.client.Close()
}

// Ping checks Redis reachability, used by the readiness probe.
func (s *RedisKeyspace) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
