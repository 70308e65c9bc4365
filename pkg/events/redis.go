package events

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/tensorgrid/deploy-backend/internal/logger"
	"go.uber.org/zap"
)

// RedisPublisher pushes transition events onto a redis pub/sub channel for
// external consumers (audit sink, spend tracking). Delivery is best-effort;
// a publish failure is logged and dropped.
type RedisPublisher struct {
	client  *goredis.Client
	channel string
}

func NewRedisPublisher(client *goredis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(event TransitionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Warn("transition event marshal", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		logger.Warn("transition event publish",
			zap.String("channel", p.channel), zap.Error(err))
	}
}
