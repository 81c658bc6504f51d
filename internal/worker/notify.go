package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"flexiID/internal/tasks"
)

// Notifier 向用户推送批量任务进度。
type Notifier interface {
	Notify(ctx context.Context, userID uint, msg tasks.BatchNotifyMessage) error
}

// RedisNotifier 把消息发布到 user_notify:<id> 频道，由 API 进程的 WebSocket 订阅转发。
type RedisNotifier struct {
	client redis.UniversalClient
}

func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID uint, msg tasks.BatchNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := tasks.NotifyChannel(userID)
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
