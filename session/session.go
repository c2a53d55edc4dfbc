// Package session holds MQTT session state: subscriptions, in-flight QoS
// 1/2 message tracking, the will message, and packet id allocation.
package session

import (
	"sync"
	"time"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
)

// State is the lifecycle state of a session.
type State byte

const (
	StateNew          State = iota // created, not yet attached to a connection
	StateActive                    // attached to a live connection
	StateDisconnected              // detached, clean-session=false, awaiting reconnect or expiry
	StateExpired                   // past its expiry interval; eligible for removal
)

// WillMessage is the message a session asks the broker to publish on its
// behalf should the connection drop without a prior DISCONNECT (section
// 3.1.2.5). Unlike MQTT5, 3.1.1 has no will-delay: it is published
// immediately once the broker detects the ungraceful disconnect.
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     packet.QoS
	Retain  bool
}

// Subscription is a single topic-filter entry of a session's subscription
// set, as established by SUBSCRIBE (section 3.8).
type Subscription struct {
	TopicFilter  string
	QoS          packet.QoS
	SubscribedAt time.Time
}

// Session is the broker-side state kept for one client id across
// connections, guarded by an internal mutex so the protocol handler and the
// session manager's expiry sweep can touch it concurrently.
type Session struct {
	mu sync.RWMutex

	ClientID       string
	CleanSession   bool
	State          State
	ExpiryInterval uint32 // seconds a disconnected clean-session=false session is kept; 0 = kept indefinitely
	CreatedAt      time.Time
	LastAccessedAt time.Time
	DisconnectedAt time.Time
	WillMessage    *WillMessage

	Subscriptions map[string]*Subscription

	// QoS 1/2 in-flight tracking, keyed by packet id.
	PendingPublish map[uint16]*message.ApplicationMessage // outbound, awaiting PUBACK/PUBREC
	PendingPubrel  map[uint16]struct{}                    // inbound QoS 2, PUBREC sent, awaiting PUBREL
	PendingPubcomp map[uint16]struct{}                    // outbound QoS 2, PUBREL sent, awaiting PUBCOMP

	// IncomingQoS2 holds the payload of an inbound QoS 2 publish between our
	// PUBREC and the peer's PUBREL, keyed the same as PendingPubrel. Without
	// this the broker could not deliver the message on PUBREL receipt after a
	// reconnect that happened between PUBREC and PUBREL, since the peer is
	// not required to retransmit PUBLISH once it has seen our PUBREC.
	IncomingQoS2 map[uint16]*message.ApplicationMessage

	// delivery is the FIFO of received messages awaiting the application;
	// deliveryCh carries at most one pending wakeup for its waiters.
	delivery   []*message.ApplicationMessage
	deliveryCh chan struct{}

	nextPacketID uint16
}

// New creates a fresh session for clientID. expiryInterval is only
// meaningful when cleanSession is false.
func New(clientID string, cleanSession bool, expiryInterval uint32) *Session {
	now := time.Now()
	return &Session{
		ClientID:       clientID,
		CleanSession:   cleanSession,
		State:          StateNew,
		ExpiryInterval: expiryInterval,
		CreatedAt:      now,
		LastAccessedAt: now,
		Subscriptions:  make(map[string]*Subscription),
		PendingPublish: make(map[uint16]*message.ApplicationMessage),
		PendingPubrel:  make(map[uint16]struct{}),
		PendingPubcomp: make(map[uint16]struct{}),
		IncomingQoS2:   make(map[uint16]*message.ApplicationMessage),
		deliveryCh:     make(chan struct{}, 1),
		nextPacketID:   1,
	}
}

func (s *Session) SetActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateActive
	s.LastAccessedAt = time.Now()
}

func (s *Session) SetDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateDisconnected
	s.DisconnectedAt = time.Now()
}

func (s *Session) SetExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = StateExpired
}

// IsExpired reports whether a disconnected, non-clean-session session has
// outlived its expiry interval. A clean-session client is never carried
// across disconnects, so it has no expiry of its own to check here; the
// manager drops it immediately on disconnect instead.
func (s *Session) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ExpiryInterval == 0 {
		return false
	}
	if s.State != StateDisconnected {
		return s.State == StateExpired
	}
	return time.Since(s.DisconnectedAt) > time.Duration(s.ExpiryInterval)*time.Second
}

func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastAccessedAt = time.Now()
}

func (s *Session) SetWillMessage(will *WillMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = will
}

func (s *Session) ClearWillMessage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.WillMessage = nil
}

func (s *Session) GetWillMessage() *WillMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WillMessage
}

func (s *Session) AddSubscription(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions[sub.TopicFilter] = sub
}

func (s *Session) RemoveSubscription(topicFilter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Subscriptions, topicFilter)
}

func (s *Session) GetSubscription(topicFilter string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.Subscriptions[topicFilter]
	return sub, ok
}

func (s *Session) GetAllSubscriptions() map[string]*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make(map[string]*Subscription, len(s.Subscriptions))
	for k, v := range s.Subscriptions {
		subs[k] = v
	}
	return subs
}

func (s *Session) ClearSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]*Subscription)
}

// NextPacketID allocates a packet id from a rolling counter over
// 1..65535, skipping 0 and any id currently tracked by one of the three
// pending maps, so no two in-flight messages in this session ever share
// an id. It returns 0 when every id is outstanding, which callers
// surface as a retry-later error rather than spinning here.
func (s *Session) NextPacketID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tries := 0; tries < 65535; tries++ {
		id := s.nextPacketID
		s.nextPacketID++
		if s.nextPacketID == 0 {
			s.nextPacketID = 1
		}

		if _, ok := s.PendingPublish[id]; ok {
			continue
		}
		if _, ok := s.PendingPubrel[id]; ok {
			continue
		}
		if _, ok := s.PendingPubcomp[id]; ok {
			continue
		}
		return id
	}
	return 0
}

func (s *Session) AddPendingPublish(msg *message.ApplicationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPublish[msg.PacketID] = msg
}

func (s *Session) RemovePendingPublish(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPublish, packetID)
}

func (s *Session) GetPendingPublish(packetID uint16) (*message.ApplicationMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.PendingPublish[packetID]
	return msg, ok
}

func (s *Session) GetAllPendingPublish() map[uint16]*message.ApplicationMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make(map[uint16]*message.ApplicationMessage, len(s.PendingPublish))
	for k, v := range s.PendingPublish {
		msgs[k] = v
	}
	return msgs
}

func (s *Session) AddPendingPubrel(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPubrel[packetID] = struct{}{}
}

func (s *Session) RemovePendingPubrel(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPubrel, packetID)
}

func (s *Session) HasPendingPubrel(packetID uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.PendingPubrel[packetID]
	return ok
}

func (s *Session) AddIncomingQoS2(msg *message.ApplicationMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IncomingQoS2[msg.PacketID] = msg
}

func (s *Session) GetIncomingQoS2(packetID uint16) (*message.ApplicationMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.IncomingQoS2[packetID]
	return msg, ok
}

func (s *Session) RemoveIncomingQoS2(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.IncomingQoS2, packetID)
}

func (s *Session) AddPendingPubcomp(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingPubcomp[packetID] = struct{}{}
}

func (s *Session) RemovePendingPubcomp(packetID uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.PendingPubcomp, packetID)
}

func (s *Session) HasPendingPubcomp(packetID uint16) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.PendingPubcomp[packetID]
	return ok
}

// Clear drops all subscription and in-flight state, as CONNECT with
// clean-session=true requires of any prior session for the same client id.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Subscriptions = make(map[string]*Subscription)
	s.PendingPublish = make(map[uint16]*message.ApplicationMessage)
	s.PendingPubrel = make(map[uint16]struct{})
	s.PendingPubcomp = make(map[uint16]struct{})
	s.IncomingQoS2 = make(map[uint16]*message.ApplicationMessage)
	s.delivery = nil
	s.WillMessage = nil
}

func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

func (s *Session) GetClientID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ClientID
}

func (s *Session) GetCleanSession() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CleanSession
}

func (s *Session) GetExpiryInterval() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ExpiryInterval
}

func (s *Session) UpdateExpiryInterval(interval uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExpiryInterval = interval
}
