package notifier

import (
	"context"
	"errors"

	"hospital-queue/internal/models"

	"go.uber.org/zap"
)

// Notifier 接收等待时间变化事件；具体送达（短信、推送等）由下游负责
type Notifier interface {
	Notify(ctx context.Context, event models.ChangeEvent) error
}

// Multi 依次投递到多个通道，单个通道失败不影响其它通道
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event models.ChangeEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier 只记日志（未配置任何通道时使用）
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event models.ChangeEvent) error {
	n.logger.Info("Queue notification",
		zap.String("kind", event.Kind),
		zap.String("entry_id", event.EntryID),
		zap.String("queue_number", event.QueueNumber),
		zap.Int("old_estimate", event.OldEstimate),
		zap.Int("new_estimate", event.NewEstimate),
	)
	return nil
}
