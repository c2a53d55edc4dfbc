package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
)

// readLoop decodes packets from the wire and routes each to its per-type
// handler. It exits on a framing error, a protocol error, EOF,
// or handler shutdown.
func (h *Handler) readLoop(ctx context.Context) {
	defer h.wg.Done()
	defer h.dispatcher.HandleDisconnect(ctx, false)

	for {
		if h.isStopped() {
			return
		}

		pkt, err := packet.ReadPacket(h.rw)
		if err != nil {
			var perr *packet.PacketError
			if errors.As(err, &perr) {
				h.logger.Warn("protocol error, closing connection", "error", perr)
			} else {
				h.logger.Debug("connection read closed", "error", err)
			}
			_ = h.Stop()
			return
		}

		h.lastRecv.Store(time.Now().UnixNano())
		if h.onRecv != nil {
			h.onRecv(pkt)
		}

		if err := h.dispatch(ctx, pkt); err != nil {
			h.logger.Error("dispatch failed", "type", pkt.Type().String(), "error", err)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, pkt packet.Packet) error {
	switch p := pkt.(type) {
	case *packet.Publish:
		return h.handleInboundPublish(ctx, p)
	case *packet.Puback:
		// Clear inflight-out before resolving the waiter: Publish must never
		// observe a completed handshake with the entry still present.
		h.sess.RemovePendingPublish(p.PacketID)
		if !resolveWaiter(&h.waitMu, h.pubackWaiters, p.PacketID, p) {
			h.logger.Warn("PUBACK for unknown packet id", "packet_id", p.PacketID)
		}
		return nil
	case *packet.Pubrec:
		resolveWaiter(&h.waitMu, h.pubrecWaiters, p.PacketID, p)
		return nil
	case *packet.Pubrel:
		return h.handleInboundPubrel(ctx, p)
	case *packet.Pubcomp:
		h.sess.RemovePendingPublish(p.PacketID)
		resolveWaiter(&h.waitMu, h.pubcompWaiters, p.PacketID, p)
		return nil
	case *packet.Subscribe:
		return h.handleInboundSubscribe(ctx, p)
	case *packet.Suback:
		resolveWaiter(&h.waitMu, h.subackWaiters, p.PacketID, p)
		return nil
	case *packet.Unsubscribe:
		return h.handleInboundUnsubscribe(ctx, p)
	case *packet.Unsuback:
		resolveWaiter(&h.waitMu, h.unsubackWaiters, p.PacketID, p)
		return nil
	case packet.Pingreq:
		return h.writePacket(&packet.Pingresp{})
	case packet.Pingresp:
		select {
		case h.pingResp <- struct{}{}:
		default:
		}
		return nil
	case packet.Disconnect:
		h.dispatcher.HandleDisconnect(ctx, true)
		_ = h.Stop()
		return nil
	default:
		return nil
	}
}

// handleInboundPublish implements the three incoming-QoS flows.
func (h *Handler) handleInboundPublish(ctx context.Context, p *packet.Publish) error {
	msg := &message.ApplicationMessage{
		Topic:    p.TopicName,
		Payload:  p.Payload,
		QoS:      p.QoS,
		Retain:   p.Retain,
		PacketID: p.PacketID,
		DUP:      p.DUP,
	}

	switch p.QoS {
	case packet.QoS0:
		return h.dispatcher.HandlePublish(ctx, msg)

	case packet.QoS1:
		if err := h.dispatcher.HandlePublish(ctx, msg); err != nil {
			return err
		}
		return h.writePacket(&packet.Puback{PacketID: p.PacketID})

	case packet.QoS2:
		// Duplicate/retransmitted PUBLISH for an id we already PUBREC'd:
		// refresh our cached copy (it may be the only copy we still have
		// after a reconnect) and re-send PUBREC without redelivering.
		h.sess.AddIncomingQoS2(msg)
		if !h.sess.HasPendingPubrel(p.PacketID) {
			h.sess.AddPendingPubrel(p.PacketID)
		}
		return h.writePacket(&packet.Pubrec{PacketID: p.PacketID})
	}
	return nil
}

func (h *Handler) handleInboundPubrel(ctx context.Context, p *packet.Pubrel) error {
	resolveWaiter(&h.waitMu, h.pubrelWaiters, p.PacketID, p)

	msg, ok := h.sess.GetIncomingQoS2(p.PacketID)
	if !ok {
		h.logger.Warn("PUBREL for unknown packet id", "packet_id", p.PacketID)
		return h.writePacket(&packet.Pubcomp{PacketID: p.PacketID})
	}

	if err := h.dispatcher.HandlePublish(ctx, msg); err != nil {
		return err
	}

	h.sess.RemoveIncomingQoS2(p.PacketID)
	h.sess.RemovePendingPubrel(p.PacketID)
	return h.writePacket(&packet.Pubcomp{PacketID: p.PacketID})
}

func (h *Handler) handleInboundSubscribe(ctx context.Context, p *packet.Subscribe) error {
	sb, err := h.dispatcher.HandleSubscribe(ctx, p)
	if err != nil {
		return err
	}
	if err := h.writePacket(sb); err != nil {
		return err
	}

	// Retained redelivery runs on its
	// own goroutine rather than inline: a retained message at QoS 1/2 is
	// sent through the same outgoing handshake as any other publish, which
	// blocks awaiting a PUBACK/PUBREC that this very reader goroutine would
	// otherwise need to be free to receive.
	if rd, ok := h.dispatcher.(RetainedDeliverer); ok {
		go rd.DeliverRetained(ctx, p.Subscriptions, sb)
	}
	return nil
}

func (h *Handler) handleInboundUnsubscribe(ctx context.Context, p *packet.Unsubscribe) error {
	ub, err := h.dispatcher.HandleUnsubscribe(ctx, p)
	if err != nil {
		return err
	}
	return h.writePacket(ub)
}

// retryOnReconnect re-transmits inflight-out state: a
// QoS 1 entry still awaiting PUBACK is re-sent with DUP=true; a QoS 2 entry
// pre-PUBREC is re-sent with DUP=true; a QoS 2 entry post-PUBREC (tracked in
// PendingPubcomp) has its PUBREL re-sent undecorated. Inflight-in QoS 2
// entries need no action: the peer either retransmits PUBLISH(DUP=true)
// until it sees our PUBREC, or sends PUBREL directly if it already has.
func (h *Handler) retryOnReconnect() {
	for id, msg := range h.sess.GetAllPendingPublish() {
		switch msg.QoS {
		case packet.QoS1:
			msg.MarkAttempt()
			_ = h.writePacket(&packet.Publish{DUP: true, QoS: packet.QoS1, Retain: msg.Retain, TopicName: msg.Topic, PacketID: id, Payload: msg.Payload})
		case packet.QoS2:
			if h.sess.HasPendingPubcomp(id) {
				_ = h.writePacket(&packet.Pubrel{PacketID: id})
			} else {
				msg.MarkAttempt()
				_ = h.writePacket(&packet.Publish{DUP: true, QoS: packet.QoS2, Retain: msg.Retain, TopicName: msg.Topic, PacketID: id, Payload: msg.Payload})
			}
		}
	}
}
