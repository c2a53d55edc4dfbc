package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/driftmq/mqtt/hook"
	"github.com/driftmq/mqtt/packet"
	"github.com/driftmq/mqtt/protocol"
	"github.com/driftmq/mqtt/session"
)

// AcceptConn runs the broker half of the connection lifecycle over an
// already-accepted transport: read CONNECT (bounded by
// connectTimeout), validate the protocol version, run the auth vote,
// create or take over the session, answer CONNACK, register the live
// handler, and start the protocol engine's read loop. It blocks until the
// connection's handler stops, so callers run it on its own goroutine per
// connection (network.Listener already runs its per-connection Handler
// that way).
func (b *Broker) AcceptConn(ctx context.Context, rwc io.ReadWriteCloser, remoteAddr net.Addr) error {
	connectPkt, connackErr, err := b.readConnect(rwc)
	if err != nil {
		_ = rwc.Close()
		return err
	}

	if connackErr != nil {
		_ = (&packet.Connack{SessionPresent: false, ReturnCode: connackErr.ReturnCode}).Encode(rwc)
		_ = rwc.Close()
		return connackErr
	}

	rc, sh, err := b.admitConnect(ctx, connectPkt, rwc, remoteAddr)
	if rc != packet.Accepted {
		_ = (&packet.Connack{SessionPresent: false, ReturnCode: rc}).Encode(rwc)
		_ = rwc.Close()
		return err
	}

	sessionPresent := err == errSessionPresent
	if werr := (&packet.Connack{SessionPresent: sessionPresent, ReturnCode: packet.Accepted}).Encode(rwc); werr != nil {
		_ = rwc.Close()
		return werr
	}

	b.Stats.ClientsConnected.Add(1)
	b.Stats.ClientsTotal.Add(1)
	b.Hooks.FireEvent(ctx, hook.EventConnected, sh.hookClient(), connectPkt)
	b.Hooks.FireEvent(ctx, hook.EventBrokerClientConnected, sh.hookClient(), connectPkt)

	keepAlive := time.Duration(connectPkt.KeepAlive) * time.Second
	h := protocol.NewHandler(rwc, rwc, rwc, sh.sess, sh, protocol.Config{
		KeepAlive: keepAlive,
		IsBroker:  true,
		Logger:    b.logger,
		OnPacketReceived: func(pkt packet.Packet) {
			b.Hooks.FireEvent(ctx, hook.EventPacketReceived, sh.hookClient(), pkt)
		},
		OnPacketSent: func(pkt packet.Packet) {
			b.Hooks.FireEvent(ctx, hook.EventPacketSent, sh.hookClient(), pkt)
		},
	})
	sh.handler = h

	// The delivery pump outlives the accept call's context: it stops when
	// the connection is torn down or taken over, not when ctx does.
	pumpCtx, cancelPump := context.WithCancel(context.WithoutCancel(ctx))
	sh.pumpCancel = cancelPump

	b.mu.Lock()
	b.handlers[sh.sess.GetClientID()] = sh
	b.mu.Unlock()

	go sh.pump(pumpCtx)

	h.Start(ctx)
	h.Wait()
	return nil
}

// errSessionPresent is a sentinel returned by admitConnect (never
// propagated to a caller as a real error) to signal a resumed, not fresh,
// session without widening its signature to an extra bool.
var errSessionPresent = errors.New("session present")

// readConnect reads the first packet off the wire, closing rwc if CONNECT
// doesn't arrive within connectTimeout.
// A timer rather than SetReadDeadline, since not every transport this
// broker accepts connections over (e.g. the websocket net.Conn wrapper)
// implements deadlines. A non-nil connackErr means the packet decoded
// enough to answer with a specific CONNACK return code (e.g. unacceptable
// protocol version) rather than just dropping silently.
func (b *Broker) readConnect(rwc io.ReadWriteCloser) (*packet.Connect, *packet.PacketError, error) {
	timer := time.AfterFunc(b.connectTimeout, func() { _ = rwc.Close() })
	pkt, err := packet.ReadPacket(rwc)
	stopped := timer.Stop()

	if err != nil {
		if !stopped {
			return nil, nil, ErrConnectTimeout
		}
		var perr *packet.PacketError
		if errors.As(err, &perr) {
			if connectPkt, ok := pkt.(*packet.Connect); ok {
				return connectPkt, perr, nil
			}
		}
		return nil, nil, ErrMalformedConnect
	}

	connectPkt, ok := pkt.(*packet.Connect)
	if !ok {
		return nil, nil, ErrExpectedConnect
	}
	return connectPkt, nil, nil
}

// admitConnect runs protocol-name/version, identifier, and auth checks, then
// creates or takes over the session. Its error
// return is either nil, errSessionPresent (a prior session was resumed),
// or a real failure; the ReturnCode return is always authoritative for
// what CONNACK to send.
func (b *Broker) admitConnect(ctx context.Context, p *packet.Connect, rwc io.ReadWriteCloser, remoteAddr net.Addr) (packet.ReturnCode, *sessionHandler, error) {
	if p.ProtocolName != packet.ProtocolName {
		return packet.RefusedUnacceptableProtocol, nil, ErrUnacceptableProtocol
	}

	clientID := p.ClientID
	if clientID == "" {
		if !p.CleanSession {
			return packet.RefusedIdentifierRejected, nil, ErrIdentifierRejected
		}
		generated, err := b.Sessions.GenerateClientID(ctx)
		if err != nil {
			return packet.RefusedServerUnavailable, nil, err
		}
		clientID = generated
	}

	hookClient := &hook.Client{ClientID: clientID, Username: p.Username, RemoteAddr: remoteAddr, CleanSession: p.CleanSession, ConnectedAt: time.Now()}
	info := &hook.ConnectInfo{ClientID: clientID, Username: p.Username, Password: p.Password, Clean: p.CleanSession}
	if p.WillFlag {
		info.Will = &hook.WillInfo{Topic: p.WillTopic, Payload: p.WillPayload, QoS: p.WillQoS, Retain: p.WillRetain}
	}
	if !b.Hooks.MapPluginAuth(hookClient, info) {
		return packet.RefusedNotAuthorized, nil, ErrNotAuthorized
	}

	// A second CONNECT for the same client id displaces any existing
	// connection: drop its will before closing it so
	// an orderly takeover never fires a will the new connection caused.
	if err := b.Sessions.TakeoverSession(ctx, clientID); err != nil {
		return packet.RefusedServerUnavailable, nil, err
	}

	// Deregister the old handler before stopping it. Its read loop will
	// run HandleDisconnect asynchronously, find itself no longer the
	// registered handler, and leave the session alone — so the disconnect
	// bookkeeping for the displaced connection happens here instead,
	// before the session is re-created or resumed below.
	b.mu.Lock()
	existing, displaced := b.handlers[clientID]
	if displaced {
		delete(b.handlers, clientID)
	}
	b.mu.Unlock()
	if displaced {
		_ = existing.handler.Stop()
		existing.detach()
		b.Stats.ClientsConnected.Add(-1)
		b.Hooks.FireEvent(ctx, hook.EventDisconnected, existing.hookClient(), nil)
		b.Hooks.FireEvent(ctx, hook.EventBrokerClientDisconnected, existing.hookClient(), nil)
		if existing.sess.GetCleanSession() {
			b.Router.UnsubscribeAll(clientID)
		}
	}

	// timeout-disconnect-delay bounds how long a disconnected
	// clean-session=false session lingers before the expiry sweep
	// finalizes it; 0 keeps it indefinitely.
	sess, sessionPresent, err := b.Sessions.CreateSession(ctx, clientID, p.CleanSession, uint32(b.cfg.TimeoutDisconnectDelay))
	if err != nil {
		return packet.RefusedServerUnavailable, nil, err
	}

	if p.WillFlag {
		sess.SetWillMessage(&session.WillMessage{Topic: p.WillTopic, Payload: p.WillPayload, QoS: p.WillQoS, Retain: p.WillRetain})
	} else {
		sess.ClearWillMessage()
	}
	sess.SetActive()

	sh := &sessionHandler{broker: b, sess: sess, username: p.Username, remoteAddr: remoteAddr, connected: time.Now()}

	if sessionPresent {
		return packet.Accepted, sh, errSessionPresent
	}
	return packet.Accepted, sh, nil
}
