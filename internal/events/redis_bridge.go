package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// BridgeChannel is the Redis pub/sub channel shared by all request-tier instances.
const BridgeChannel = "events:pdf_audio"

type bridgePayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisBridge relays events between request-tier instances over Redis pub/sub.
type RedisBridge struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisBridge creates a bridge on BridgeChannel.
func NewRedisBridge(client *redis.Client, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBridge{client: client, channel: BridgeChannel, logger: logger}
}

// PublishEvent publishes ev to every instance, this one included.
func (b *RedisBridge) PublishEvent(ctx context.Context, ev Event) error {
	body, err := json.Marshal(bridgePayload{Event: ev.Kind, Data: ev.Data, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, body).Err()
}

// Attach subscribes to the channel, broadcasts incoming events on n and routes n's
// Publish through the bridge. The returned function detaches it.
func (b *RedisBridge) Attach(n *Notifier) (detach func(), err error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	stopped := make(chan struct{})
	ch := pubsub.Channel()
	go func() {
		defer close(stopped)
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p bridgePayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					b.logger.Warn("invalid bridged event", zap.Error(err))
					continue
				}
				n.Broadcast(Event{Kind: p.Event, Data: p.Data})
			}
		}
	}()

	n.SetRemote(b)
	b.logger.Info("event bridge attached", zap.String("channel", b.channel))
	return func() {
		n.SetRemote(nil)
		cancel()
		<-stopped
	}, nil
}
