package msgbus

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisBus is the cross-process backend (Redis Pub/Sub, no persistence), grounded on the teacher's
// idle_events/game_events Subscribe+Channel pattern in internal/ws/redis.go.
type RedisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) *RedisBus {
	return &RedisBus{rdb: rdb}
}

func (b *RedisBus) Send(ctx context.Context, topic string, payload []byte) error {
	if err := b.rdb.Publish(ctx, topic, payload).Err(); err != nil {
		log.Printf("[MSGBUS] publish to %s failed: %v", topic, err)
		return err
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, topic)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	return &redisSubscription{pubsub: pubsub}, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (s *redisSubscription) Chan() <-chan []byte {
	if s.out != nil {
		return s.out
	}
	s.out = make(chan []byte, 16)
	ch := s.pubsub.Channel()
	go func() {
		defer close(s.out)
		for msg := range ch {
			s.out <- []byte(msg.Payload)
		}
	}()
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
