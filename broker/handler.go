package broker

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/driftmq/mqtt/hook"
	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
	"github.com/driftmq/mqtt/protocol"
	"github.com/driftmq/mqtt/session"
	"github.com/driftmq/mqtt/topic"
)

// sessionHandler is the Broker Handler specialization of the protocol
// engine: it answers CONNECT-derived inbound PUBLISH/
// SUBSCRIBE/UNSUBSCRIBE through the shared Broker, rather than exposing a
// connect()/subscribe() call surface the way client.Client does.
type sessionHandler struct {
	broker     *Broker
	sess       *session.Session
	handler    *protocol.Handler
	username   string
	remoteAddr net.Addr
	connected  time.Time

	pumpCancel context.CancelFunc
	detachOnce sync.Once
}

// enqueue hands msg to this subscriber's delivery pump. The session's
// FIFO queue is the ordering point: everything the broker fans out to
// one subscriber goes through here, never straight to the wire.
func (sh *sessionHandler) enqueue(msg *message.ApplicationMessage) {
	sh.sess.Deliver(msg)
}

// pump drains the session's delivery queue one message at a time, so
// deliveries to this subscriber keep the broker's receipt order: a QoS
// 1/2 message's handshake completes before the next message goes out.
func (sh *sessionHandler) pump(ctx context.Context) {
	for {
		msg, err := sh.sess.TakeNextDelivery(ctx)
		if err != nil {
			return
		}
		if _, err := sh.handler.Publish(ctx, msg.Topic, msg.Payload, msg.QoS, msg.Retain); err != nil {
			sh.broker.logger.Debug("fan-out publish failed", "client_id", sh.sess.GetClientID(), "topic", msg.Topic, "error", err)
			if errors.Is(err, protocol.ErrHandlerStopped) {
				return
			}
		}
	}
}

// detach stops the delivery pump; safe to call more than once and from
// either the disconnect path or a takeover.
func (sh *sessionHandler) detach() {
	sh.detachOnce.Do(func() {
		if sh.pumpCancel != nil {
			sh.pumpCancel()
		}
	})
}

func (sh *sessionHandler) hookClient() *hook.Client {
	return &hook.Client{
		ClientID:     sh.sess.GetClientID(),
		Username:     sh.username,
		RemoteAddr:   sh.remoteAddr,
		CleanSession: sh.sess.GetCleanSession(),
		ConnectedAt:  sh.connected,
	}
}

// ---- protocol.Dispatcher ----

// HandlePublish runs the topic-filter/ACL vote, then stores/fans the
// message out. A
// denied publish is dropped silently: the QoS ack the protocol.Handler
// sends to the publisher is unaffected by this returning nil either way.
func (sh *sessionHandler) HandlePublish(ctx context.Context, msg *message.ApplicationMessage) error {
	b := sh.broker

	if !b.Hooks.MapPluginTopic(sh.hookClient(), msg.Topic, hook.AccessPublish) {
		return nil
	}

	b.Stats.MessagesReceived.Add(1)
	b.Stats.BytesReceived.Add(int64(len(msg.Payload)))
	b.Hooks.FireEvent(ctx, hook.EventBrokerMessageReceived, sh.hookClient(), &hook.PublishInfo{
		Topic: msg.Topic, Payload: msg.Payload, QoS: msg.QoS, Retain: msg.Retain, PacketID: msg.PacketID,
	})

	return b.deliver(ctx, sh.sess.GetClientID(), msg)
}

// HandleSubscribe runs the topic-filter/ACL vote per (filter, QoS) pair,
// adds the granted subscriptions to both the router and the session, and
// returns the SUBACK.
func (sh *sessionHandler) HandleSubscribe(ctx context.Context, sub *packet.Subscribe) (*packet.Suback, error) {
	b := sh.broker
	clientID := sh.sess.GetClientID()

	codes := make([]byte, len(sub.Subscriptions))
	for i, s := range sub.Subscriptions {
		if !b.Hooks.MapPluginTopic(sh.hookClient(), s.TopicFilter, hook.AccessSubscribe) {
			codes[i] = packet.SubscribeFailure
			continue
		}

		if err := b.Router.Subscribe(&topic.Subscription{ClientID: clientID, TopicFilter: s.TopicFilter, QoS: s.QoS}); err != nil {
			codes[i] = packet.SubscribeFailure
			continue
		}
		sh.sess.AddSubscription(&session.Subscription{TopicFilter: s.TopicFilter, QoS: s.QoS, SubscribedAt: time.Now()})
		codes[i] = byte(s.QoS)
	}

	b.Hooks.FireEvent(ctx, hook.EventSubscribe, sh.hookClient(), sub.Subscriptions)

	return &packet.Suback{PacketID: sub.PacketID, ReturnCodes: codes}, nil
}

// DeliverRetained implements protocol.RetainedDeliverer: for every
// successfully granted subscription, redeliver any retained message
// matching its filter at min(retained-QoS, subscription-QoS) with
// RETAIN=true. Redeliveries go through the same per-subscriber pump as
// live fan-out, so they cannot interleave mid-handshake with it.
func (sh *sessionHandler) DeliverRetained(ctx context.Context, subs []packet.TopicSubscription, sb *packet.Suback) {
	b := sh.broker
	for i, s := range subs {
		if i >= len(sb.ReturnCodes) || sb.ReturnCodes[i] == packet.SubscribeFailure {
			continue
		}

		retained, err := b.Router.GetRetainedMessages(ctx, s.TopicFilter)
		if err != nil {
			continue
		}
		for _, m := range retained {
			out := m.Clone()
			if s.QoS < out.QoS {
				out.QoS = s.QoS
			}
			out.Retain = true
			out.PacketID = 0
			out.DUP = false
			sh.enqueue(out)
		}
	}
}

// HandleUnsubscribe removes the filters from both the router and the
// session.
func (sh *sessionHandler) HandleUnsubscribe(ctx context.Context, unsub *packet.Unsubscribe) (*packet.Unsuback, error) {
	b := sh.broker
	clientID := sh.sess.GetClientID()

	for _, filter := range unsub.TopicFilters {
		b.Router.Unsubscribe(clientID, filter)
		sh.sess.RemoveSubscription(filter)
	}

	b.Hooks.FireEvent(ctx, hook.EventUnsubscribe, sh.hookClient(), unsub.TopicFilters)

	return &packet.Unsuback{PacketID: unsub.PacketID}, nil
}

// HandleDisconnect detaches the session from the broker's live-handler
// registry and, for a clean-session client, drops its subscriptions and
// state entirely. graceful distinguishes a client-initiated DISCONNECT
// (no will published) from a network drop (will published, if configured).
//
// Only the handler currently registered for this client id may tear the
// session down: a handler displaced by takeover has already lost
// ownership, and acting here would clobber the session its replacement
// just resumed. The takeover path does the displaced handler's
// bookkeeping itself.
func (sh *sessionHandler) HandleDisconnect(ctx context.Context, graceful bool) {
	b := sh.broker
	clientID := sh.sess.GetClientID()

	b.mu.Lock()
	owner := b.handlers[clientID] == sh
	if owner {
		delete(b.handlers, clientID)
		b.Stats.ClientsConnected.Add(-1)
	}
	b.mu.Unlock()
	if !owner {
		return
	}

	sh.detach()

	b.Hooks.FireEvent(ctx, hook.EventDisconnected, sh.hookClient(), nil)
	b.Hooks.FireEvent(ctx, hook.EventBrokerClientDisconnected, sh.hookClient(), nil)

	if sh.sess.GetCleanSession() {
		b.Router.UnsubscribeAll(clientID)
	}

	if err := b.Sessions.DisconnectSession(ctx, clientID, !graceful); err != nil {
		b.logger.Warn("disconnect session cleanup failed", "client_id", clientID, "error", err)
	}
}
