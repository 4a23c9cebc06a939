// Package notify publishes call-lifecycle events for the chat/notification
// delivery layer. The media core fires them; it never consumes them.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ideastream/huddle/internal/domain"
)

// RedisPublisher pushes call events onto a pub/sub channel the backend
// subscribes to.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, err
	}
	return &RedisPublisher{client: client, channel: channel}, nil
}

type event struct {
	Event   string              `json:"event"`
	Call    domain.RoomID       `json:"callId"`
	Reason  string              `json:"reason,omitempty"`
	Summary *domain.CallSummary `json:"summary,omitempty"`
}

func (p *RedisPublisher) publish(ctx context.Context, ev event) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "notify.redis").Msg("marshal event")
		return
	}
	if err := p.client.Publish(ctx, p.channel, b).Err(); err != nil {
		// Notification loss is survivable; the call itself is not affected.
		log.Warn().Err(err).Str("module", "notify.redis").Str("event", ev.Event).Msg("publish failed")
	}
}

func (p *RedisPublisher) CallStarted(ctx context.Context, summary domain.CallSummary) {
	p.publish(ctx, event{Event: "callStarted", Call: summary.CallID, Summary: &summary})
}

func (p *RedisPublisher) CallEnded(ctx context.Context, callID domain.RoomID, reason string) {
	p.publish(ctx, event{Event: "callEnded", Call: callID, Reason: reason})
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
