package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"hospital-queue/internal/models"
)

// DefaultMQTTTopic 主题前缀，实际主题为 <prefix>/<patient_id>
const DefaultMQTTTopic = "queue/notifications"

// Publisher MQTT 发布能力（common/mqtt.Client）
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// MQTTNotifier 按患者主题发布
type MQTTNotifier struct {
	publisher Publisher
	prefix    string
}

func NewMQTTNotifier(publisher Publisher, topicPrefix string) *MQTTNotifier {
	if topicPrefix == "" {
		topicPrefix = DefaultMQTTTopic
	}
	return &MQTTNotifier{publisher: publisher, prefix: strings.TrimSuffix(topicPrefix, "/")}
}

// Topic 事件对应的主题；没有患者 ID 时退回到记录 ID
func (n *MQTTNotifier) Topic(event models.ChangeEvent) string {
	recipient := event.PatientID
	if recipient == "" {
		recipient = event.EntryID
	}
	return n.prefix + "/" + recipient
}

func (n *MQTTNotifier) Notify(_ context.Context, event models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.publisher.Publish(n.Topic(event), false, payload); err != nil {
		return fmt.Errorf("failed to publish to mqtt: %w", err)
	}
	return nil
}
