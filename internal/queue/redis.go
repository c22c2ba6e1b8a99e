package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// projections outlive a day only if the reset worker is down
const projectionTTL = 36 * time.Hour

const updateAttempts = 16

// RedisStore keeps each projection as JSON under its key and publishes every
// write on a channel of the same name. Seq comes from a per key INCR so it
// survives api-server restarts.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, logger: logger}
}

func seqKey(key Key) string {
	return "queue-seq:" + strings.TrimPrefix(key.String(), keyPrefix)
}

func (s *RedisStore) Load(ctx context.Context, key Key) (*Projection, error) {
	return decodeProjection(s.client.Get(ctx, key.String()).Bytes())
}

func decodeProjection(data []byte, err error) (*Projection, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load projection: %w", err)
	}

	var p Projection
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode projection: %w", err)
	}
	return &p, nil
}

// Update runs mutate inside a WATCH/MULTI transaction on the projection
// key and retries from a fresh read when another writer commits first.
func (s *RedisStore) Update(ctx context.Context, key Key, mutate func(*Projection)) (Projection, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		var out Projection
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			p, err := decodeProjection(tx.Get(ctx, key.String()).Bytes())
			if err != nil {
				return err
			}
			if p == nil {
				p = new(Projection)
				*p = Empty(key)
			}
			mutate(p)

			// a seq burned by a failed EXEC leaves a gap, never a reorder
			seq, err := tx.Incr(ctx, seqKey(key)).Result()
			if err != nil {
				return fmt.Errorf("projection seq: %w", err)
			}
			p.Seq = seq

			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key.String(), data, projectionTTL)
				pipe.Expire(ctx, seqKey(key), projectionTTL)
				pipe.Publish(ctx, key.String(), data)
				return nil
			})
			out = *p
			return err
		}, key.String())
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug("projection write raced, retrying",
				zap.String("key", key.String()),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return Projection{}, fmt.Errorf("save projection: %w", err)
		}
		return out, nil
	}
	return Projection{}, fmt.Errorf("save projection %s: %w", key, ErrUpdateContended)
}

func (s *RedisStore) Watch(ctx context.Context, key Key) (<-chan Projection, error) {
	pubsub := s.client.Subscribe(ctx, key.String())

	// wait for the subscription to be confirmed so the caller's snapshot
	// read cannot miss a publish
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	msgs := pubsub.Channel()
	out := make(chan Projection, 16)

	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var p Projection
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					s.logger.Warn("dropping undecodable projection",
						zap.String("channel", msg.Channel),
						zap.Error(err),
					)
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Delete removes the projection but keeps the seq counter so that Seq keeps
// growing for readers that outlive the reset.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	return s.client.Del(ctx, key.String()).Err()
}

func (s *RedisStore) Keys(ctx context.Context) ([]Key, error) {
	var keys []Key
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k, err := ParseKey(iter.Val())
		if err != nil {
			s.logger.Warn("skipping foreign queue key", zap.String("key", iter.Val()))
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan projections: %w", err)
	}
	return keys, nil
}
