// Package message holds the broker's in-flight representation of an
// application message, independent of the wire packet that carried it.
package message

import (
	"time"

	"github.com/driftmq/mqtt/packet"
)

// ApplicationMessage is a published message as it flows through session
// queues and the retained store, detached from any one PUBLISH packet
// encoding so it can be redelivered with a different packet id, DUP flag,
// or (on retained redelivery) a downgraded QoS.
type ApplicationMessage struct {
	Topic         string
	Payload       []byte
	QoS           packet.QoS
	Retain        bool
	PacketID      uint16
	DUP           bool
	CreatedAt     time.Time
	LastAttemptAt time.Time
	AttemptCount  int
}

// New builds a message for a freshly received PUBLISH.
func New(topic string, payload []byte, qos packet.QoS, retain bool) *ApplicationMessage {
	now := time.Now()
	return &ApplicationMessage{
		Topic:         topic,
		Payload:       payload,
		QoS:           qos,
		Retain:        retain,
		CreatedAt:     now,
		LastAttemptAt: now,
	}
}

// MarkAttempt records a (re)delivery attempt; the second and later attempts
// of the same message are marked DUP.
func (m *ApplicationMessage) MarkAttempt() {
	m.AttemptCount++
	m.LastAttemptAt = time.Now()
	if m.AttemptCount > 1 {
		m.DUP = true
	}
}

// Clone returns a deep copy suitable for handing to an independent
// subscriber's delivery queue, since each subscriber tracks its own packet
// id and attempt count for the same underlying publish.
func (m *ApplicationMessage) Clone() *ApplicationMessage {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)
	clone := *m
	clone.Payload = payload
	return &clone
}

// WithQoS returns a copy downgraded to the given QoS, used when a retained
// message's QoS exceeds the subscription's requested QoS (section 3.8.4):
// the effective QoS is min(retained QoS, subscription QoS).
func (m *ApplicationMessage) WithQoS(qos packet.QoS) *ApplicationMessage {
	if qos >= m.QoS {
		return m
	}
	clone := m.Clone()
	clone.QoS = qos
	return clone
}
