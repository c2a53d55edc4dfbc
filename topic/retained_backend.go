package topic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
)

// RetainedBackend persists the retained-message map so it survives a
// broker restart. The in-memory RetainedManager stays the source of
// truth at runtime; a backend only sees write-throughs and the one
// LoadAll at startup.
type RetainedBackend interface {
	Store(ctx context.Context, topic string, msg *message.ApplicationMessage) error
	Remove(ctx context.Context, topic string) error
	LoadAll(ctx context.Context) (map[string]*message.ApplicationMessage, error)
	Close() error
}

// retainedRecord is the durable form of one retained message.
type retainedRecord struct {
	Topic     string     `json:"topic"`
	Payload   []byte     `json:"payload"`
	QoS       packet.QoS `json:"qos"`
	CreatedAt time.Time  `json:"created"`
}

func encodeRetained(topic string, msg *message.ApplicationMessage) ([]byte, error) {
	return json.Marshal(retainedRecord{
		Topic:     topic,
		Payload:   msg.Payload,
		QoS:       msg.QoS,
		CreatedAt: msg.CreatedAt,
	})
}

func decodeRetained(data []byte) (string, *message.ApplicationMessage, error) {
	var rec retainedRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", nil, err
	}
	msg := message.New(rec.Topic, rec.Payload, rec.QoS, true)
	msg.CreatedAt = rec.CreatedAt
	return rec.Topic, msg, nil
}
