package fanout

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"backchannel/pkg/interfaces"
	"backchannel/pkg/types"
)

// Redis is the cross-process fan-out broker. Groups map directly onto
// Redis pub/sub channels, so an event published by any process reaches
// every subscribed connection in every process.
type Redis struct {
	rdb *redis.Client
}

// NewRedis creates a broker backed by the given client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Publish encodes the event into its tagged envelope and publishes it
// on the group's channel.
func (r *Redis) Publish(ctx context.Context, group string, event types.Event) error {
	data, err := types.EncodeEvent(event)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, group, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to group %s: %w", group, err)
	}
	return nil
}

// Subscribe attaches to the group's channel. The returned subscription
// decodes envelopes in a background goroutine; payloads that fail to
// decode are logged and skipped so one malformed event cannot wedge the
// stream.
func (r *Redis) Subscribe(ctx context.Context, group string) (interfaces.Subscription, error) {
	pubsub := r.rdb.Subscribe(ctx, group)

	// Receive forces the SUBSCRIBE round trip so a broken broker
	// surfaces here rather than as a silent dead channel.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to group %s: %w", group, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan types.Event, subscriptionBuffer),
	}
	go sub.decodeLoop(group)

	return sub, nil
}

// HealthCheck verifies broker connectivity.
func (r *Redis) HealthCheck(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	events    chan types.Event
	closeOnce sync.Once
}

func (s *redisSubscription) decodeLoop(group string) {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		event, err := types.DecodeEvent([]byte(msg.Payload))
		if err != nil {
			log.Printf("Discarding undecodable event: group=%s err=%v", group, err)
			continue
		}
		select {
		case s.events <- event:
		default:
			log.Printf("Dropping event for slow subscriber: group=%s", group)
		}
	}
}

func (s *redisSubscription) Events() <-chan types.Event {
	return s.events
}

// Close unsubscribes from the channel. The decode loop drains and
// closes the event channel once the underlying pub/sub shuts down.
func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
