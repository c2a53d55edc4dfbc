package session

import (
	"encoding/json"
	"time"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
)

// Snapshot is the durable form of a session: everything MQTT 3.1.1
// requires a clean-session=false session to carry across restarts, and
// nothing that only makes sense while a connection is live (no delivery
// queue, no handler attachment).
type Snapshot struct {
	ClientID        string       `json:"cid"`
	CleanSession    bool         `json:"clean"`
	State           State        `json:"state"`
	ExpiryInterval  uint32       `json:"expiry,omitempty"`
	CreatedAt       time.Time    `json:"created"`
	LastAccessedAt  time.Time    `json:"accessed"`
	DisconnectedAt  time.Time    `json:"disconnected,omitzero"`
	Will            *WillMessage `json:"will,omitempty"`
	Subscriptions   []SubEntry   `json:"subs,omitempty"`
	InflightOut     []Inflight   `json:"out,omitempty"`
	InflightIn      []Inflight   `json:"in,omitempty"`
	AwaitingPubrel  []uint16     `json:"pubrel,omitempty"`
	AwaitingPubcomp []uint16     `json:"pubcomp,omitempty"`
	NextPacketID    uint16       `json:"next_pid"`
}

// SubEntry is one subscription in a Snapshot.
type SubEntry struct {
	Filter       string     `json:"filter"`
	QoS          packet.QoS `json:"qos"`
	SubscribedAt time.Time  `json:"at,omitzero"`
}

// Inflight is one half-done QoS 1/2 handshake in a Snapshot.
type Inflight struct {
	PacketID uint16     `json:"pid"`
	Topic    string     `json:"topic"`
	Payload  []byte     `json:"payload"`
	QoS      packet.QoS `json:"qos"`
	Retain   bool       `json:"retain,omitempty"`
	DUP      bool       `json:"dup,omitempty"`
}

func inflightOf(id uint16, m *message.ApplicationMessage) Inflight {
	return Inflight{PacketID: id, Topic: m.Topic, Payload: m.Payload, QoS: m.QoS, Retain: m.Retain, DUP: m.DUP}
}

func (f Inflight) toMessage() *message.ApplicationMessage {
	m := message.New(f.Topic, f.Payload, f.QoS, f.Retain)
	m.PacketID = f.PacketID
	m.DUP = f.DUP
	return m
}

// Snapshot captures the session's durable state under its lock.
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		ClientID:       s.ClientID,
		CleanSession:   s.CleanSession,
		State:          s.State,
		ExpiryInterval: s.ExpiryInterval,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		DisconnectedAt: s.DisconnectedAt,
		Will:           s.WillMessage,
		NextPacketID:   s.nextPacketID,
	}

	for _, sub := range s.Subscriptions {
		snap.Subscriptions = append(snap.Subscriptions, SubEntry{Filter: sub.TopicFilter, QoS: sub.QoS, SubscribedAt: sub.SubscribedAt})
	}
	for id, m := range s.PendingPublish {
		snap.InflightOut = append(snap.InflightOut, inflightOf(id, m))
	}
	for id, m := range s.IncomingQoS2 {
		snap.InflightIn = append(snap.InflightIn, inflightOf(id, m))
	}
	for id := range s.PendingPubrel {
		snap.AwaitingPubrel = append(snap.AwaitingPubrel, id)
	}
	for id := range s.PendingPubcomp {
		snap.AwaitingPubcomp = append(snap.AwaitingPubcomp, id)
	}
	return snap
}

// Restore rebuilds a live Session from a Snapshot. The result is fully
// initialized — delivery queue wakeup channel included — so it can be
// attached to a handler directly.
func (snap *Snapshot) Restore() *Session {
	s := New(snap.ClientID, snap.CleanSession, snap.ExpiryInterval)
	s.State = snap.State
	s.CreatedAt = snap.CreatedAt
	s.LastAccessedAt = snap.LastAccessedAt
	s.DisconnectedAt = snap.DisconnectedAt
	s.WillMessage = snap.Will
	if snap.NextPacketID != 0 {
		s.nextPacketID = snap.NextPacketID
	}

	for _, e := range snap.Subscriptions {
		s.Subscriptions[e.Filter] = &Subscription{TopicFilter: e.Filter, QoS: e.QoS, SubscribedAt: e.SubscribedAt}
	}
	for _, f := range snap.InflightOut {
		s.PendingPublish[f.PacketID] = f.toMessage()
	}
	for _, f := range snap.InflightIn {
		s.IncomingQoS2[f.PacketID] = f.toMessage()
	}
	for _, id := range snap.AwaitingPubrel {
		s.PendingPubrel[id] = struct{}{}
	}
	for _, id := range snap.AwaitingPubcomp {
		s.PendingPubcomp[id] = struct{}{}
	}
	return s
}

// Marshal serializes the snapshot for a durable store.
func (snap *Snapshot) Marshal() ([]byte, error) { return json.Marshal(snap) }

// UnmarshalSnapshot parses a stored snapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
