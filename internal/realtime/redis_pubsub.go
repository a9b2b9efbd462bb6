package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "stream:"
	publishTimeout = 5 * time.Second
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// RedisPubSub bridges session events across instances over Redis pub/sub.
type RedisPubSub struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPubSub creates the Redis bridge.
func NewRedisPubSub(client *redis.Client, logger *zap.Logger) *RedisPubSub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPubSub{client: client, logger: logger}
}

// PublishStreamEvent publishes an event to the session's channel.
func (r *RedisPubSub) PublishStreamEvent(sessionID uuid.UUID, event string, payload []byte) error {
	body, err := json.Marshal(wireEvent{Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, channelPrefix+sessionID.String(), body).Err()
}

// SubscribeStream subscribes to a session's channel, calling handler for each
// message until the returned cancel function is called.
func (r *RedisPubSub) SubscribeStream(sessionID uuid.UUID, handler func(event string, payload []byte)) (func(), error) {
	channel := channelPrefix + sessionID.String()
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					r.logger.Warn("bad pubsub payload", zap.Error(err), zap.String("channel", channel))
					continue
				}
				handler(ev.Event, ev.Data)
			}
		}
	}()
	return cancelCtx, nil
}
