package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultChannelPrefix = "clinic:rt:"

// RedisFeed carries change events between processes. Publish goes to Redis;
// Run pattern-subscribes and hands every received event to the local hub,
// including events this process published itself.
type RedisFeed struct {
	client *redis.Client
	hub    *Hub
	prefix string
	log    zerolog.Logger
}

func NewRedisFeed(client *redis.Client, hub *Hub, log zerolog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		hub:    hub,
		prefix: DefaultChannelPrefix,
		log:    log.With().Str("component", "realtime_feed").Logger(),
	}
}

func (f *RedisFeed) Publish(ctx context.Context, topic string, ev ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := f.client.Publish(ctx, f.prefix+topic, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe attaches to the local hub that Run feeds.
func (f *RedisFeed) Subscribe(topics ...string) *Subscription {
	return f.hub.Subscribe(topics...)
}

// Run blocks until ctx is cancelled or the subscription fails.
func (f *RedisFeed) Run(ctx context.Context) error {
	ps := f.client.PSubscribe(ctx, f.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe: %w", err)
	}
	f.log.Info().Str("pattern", f.prefix+"*").Msg("realtime feed subscribed")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("realtime feed channel closed")
			}
			f.dispatch(msg)
		}
	}
}

func (f *RedisFeed) dispatch(msg *redis.Message) {
	topic := strings.TrimPrefix(msg.Channel, f.prefix)

	var ev ChangeEvent
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		f.log.Warn().Err(err).Str("topic", topic).Msg("drop malformed change event")
		return
	}
	f.hub.Deliver(topic, ev)
}
