// Package hook implements the plugin manager: named plugins registered
// against a fixed set of core events, fired concurrently with individual
// failures swallowed, plus a separate tri-state voting path for connection
// auth and topic/ACL checks.
package hook

import (
	"net"
	"time"

	"github.com/driftmq/mqtt/packet"
)

// Event is one of the named events the core fires to registered plugins.
type Event byte

const (
	EventPacketReceived Event = iota
	EventPacketSent
	EventConnected
	EventDisconnected
	EventSubscribe
	EventUnsubscribe
	EventBrokerClientConnected
	EventBrokerClientDisconnected
	EventBrokerMessageReceived
)

func (e Event) String() string {
	names := [...]string{
		"mqtt_packet_received",
		"mqtt_packet_sent",
		"mqtt_connected",
		"mqtt_disconnected",
		"mqtt_subscribe",
		"mqtt_unsubscribe",
		"broker_client_connected",
		"broker_client_disconnected",
		"broker_message_received",
	}
	if int(e) < len(names) {
		return names[e]
	}
	return "unknown"
}

// Decision is the tri-state outcome of an auth or ACL vote: a plugin that
// has no opinion returns Undecided rather than forcing an Allow or a Deny,
// so it never vetoes a decision it isn't equipped to make.
type Decision int

const (
	Undecided Decision = iota
	Allow
	Deny
)

// AccessType distinguishes a publish check from a subscribe check when a
// topic-filter/ACL plugin is asked to authorize a topic operation.
type AccessType byte

const (
	AccessPublish AccessType = iota
	AccessSubscribe
)

// Client is the minimal, hook-facing view of a connected peer. It is a
// deliberately separate type from session.Session so this package never
// imports session (the plugin manager is a leaf the session/protocol
// packages depend on, not the reverse).
type Client struct {
	ClientID     string
	Username     string
	RemoteAddr   net.Addr
	CleanSession bool
	ConnectedAt  time.Time
}

// ConnectInfo carries the fields of an inbound CONNECT a plugin needs to
// authenticate or log the attempt.
type ConnectInfo struct {
	ClientID string
	Username string
	Password []byte
	Clean    bool
	Will     *WillInfo
}

// WillInfo mirrors session.WillMessage without importing the session
// package.
type WillInfo struct {
	Topic   string
	Payload []byte
	QoS     packet.QoS
	Retain  bool
}

// PublishInfo carries the fields of a PUBLISH a plugin may observe or gate.
type PublishInfo struct {
	Topic    string
	Payload  []byte
	QoS      packet.QoS
	Retain   bool
	PacketID uint16
}

// SubscriptionInfo carries one (filter, requested-QoS) pair of a SUBSCRIBE.
type SubscriptionInfo struct {
	TopicFilter string
	QoS         packet.QoS
}

// AuthHook authenticates a CONNECT. A hook that implements only AuthHook
// (not the full Hook interface) can still be registered; Manager type-
// asserts for each optional capability.
type AuthHook interface {
	ID() string
	Authenticate(client *Client, info *ConnectInfo) Decision
}

// TopicHook authorizes a publish or subscribe against a topic filter.
type TopicHook interface {
	ID() string
	CheckTopic(client *Client, topic string, access AccessType) Decision
}

// EventHook receives fired core events. Provides reports which events this
// hook wants delivered: a hook that doesn't provide an event is simply
// never invoked for it.
type EventHook interface {
	ID() string
	Provides(event Event) bool
	HandleEvent(event Event, client *Client, args any)
}

// Hook is the union capability surface; embedding Base gives a plugin a
// no-op implementation of everything it doesn't care about.
type Hook interface {
	ID() string
}
