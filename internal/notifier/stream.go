package notifier

import (
	"context"
	"fmt"

	commonredis "hospital-queue/common/redis"
	"hospital-queue/internal/models"

	"github.com/go-redis/redis/v8"
)

// DefaultStream 通知事件流
const DefaultStream = "queue:events"

// StreamNotifier 写入 Redis Stream，由推送服务消费
type StreamNotifier struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamNotifier 创建 Redis Stream 通知通道
func NewStreamNotifier(client *redis.Client, stream string, maxLen int64) *StreamNotifier {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamNotifier{client: client, stream: stream, maxLen: maxLen}
}

func (n *StreamNotifier) Notify(ctx context.Context, event models.ChangeEvent) error {
	if _, err := commonredis.PublishJSONToStream(ctx, n.client, n.stream, n.maxLen, event); err != nil {
		return fmt.Errorf("failed to publish %s to stream: %w", event.Kind, err)
	}
	return nil
}
