// Package protocol implements the MQTT protocol handler: the per-connection
// engine that owns a session's stream, drives the QoS 0/1/2 handshakes in
// both directions, and serializes outgoing packets behind a single writer
// lock. CONNECT/CONNACK are
// deliberately out of scope here — the client and broker handlers consume
// them directly off the wire before a Handler is constructed, since only
// they know how to build or validate a session from a CONNECT.
package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
	"github.com/driftmq/mqtt/session"
)

// ErrHandlerStopped is returned by every outstanding and future operation
// once Stop has been called.
var ErrHandlerStopped = errors.New("protocol: handler stopped")

// ErrPacketIDSpaceExhausted is returned by Publish when all 65535 packet ids
// are currently in flight for the session.
var ErrPacketIDSpaceExhausted = errors.New("protocol: packet id space exhausted")

// ErrKeepAliveTimeout closes the connection when the broker has not seen any
// traffic within keep-alive * 1.5.
var ErrKeepAliveTimeout = errors.New("protocol: keep-alive timeout")

// Dispatcher receives fully-processed inbound events from the Handler. A
// QoS 0/1 publish reaches HandlePublish immediately; a QoS 2 publish only
// reaches it once the PUBREL four-way handshake completes, so the
// application is notified exactly once regardless of peer retransmissions
//.
type Dispatcher interface {
	HandlePublish(ctx context.Context, msg *message.ApplicationMessage) error
	HandleSubscribe(ctx context.Context, sub *packet.Subscribe) (*packet.Suback, error)
	HandleUnsubscribe(ctx context.Context, unsub *packet.Unsubscribe) (*packet.Unsuback, error)
	HandleDisconnect(ctx context.Context, graceful bool)
}

// RetainedDeliverer is an optional Dispatcher capability: a broker handler
// implements it to redeliver retained messages after a SUBACK is written
//; a client handler simply doesn't implement it, since a
// client never receives an inbound SUBSCRIBE to answer in the first place.
type RetainedDeliverer interface {
	DeliverRetained(ctx context.Context, subs []packet.TopicSubscription, sb *packet.Suback)
}

// Config configures a Handler.
type Config struct {
	// KeepAlive is the negotiated keep-alive interval. Zero disables
	// keepalive enforcement/sending entirely.
	KeepAlive time.Duration
	// IsBroker selects which side of keepalive this handler enforces: the
	// client side sends a PINGREQ every KeepAlive period; the broker side expects traffic
	// within KeepAlive * 1.5 and closes the connection otherwise.
	IsBroker bool
	Logger   *slog.Logger

	// OnPacketReceived/OnPacketSent, when non-nil, observe every decoded
	// inbound packet and every successfully written outbound packet; the
	// broker wires these to its plugin event fan-out.
	OnPacketReceived func(pkt packet.Packet)
	OnPacketSent     func(pkt packet.Packet)
}

type result[T any] struct {
	val T
	err error
}

// Handler is the protocol engine for one live connection: one reader
// goroutine, a writer mutex serializing every outgoing packet, and a set of
// per-packet-type waiter maps used to implement the QoS handshakes as
// blocking calls over an async wire.
type Handler struct {
	rw     io.Reader
	ww     io.Writer
	closer io.Closer

	sess       *session.Session
	dispatcher Dispatcher
	logger     *slog.Logger

	keepAlive time.Duration
	isBroker  bool

	onRecv func(pkt packet.Packet)
	onSent func(pkt packet.Packet)

	writeMu sync.Mutex

	waitMu          sync.Mutex
	pubackWaiters   map[uint16]chan result[*packet.Puback]
	pubrecWaiters   map[uint16]chan result[*packet.Pubrec]
	pubrelWaiters   map[uint16]chan result[*packet.Pubrel]
	pubcompWaiters  map[uint16]chan result[*packet.Pubcomp]
	subackWaiters   map[uint16]chan result[*packet.Suback]
	unsubackWaiters map[uint16]chan result[*packet.Unsuback]

	pingResp chan struct{}

	lastRecv atomic.Int64 // unix nano of the last packet received from the peer

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHandler constructs a Handler bound to an already-attached session.
// Start must be called before any packets are expected; CONNECT/CONNACK
// must already have been exchanged by the caller over rw/ww.
func NewHandler(rw io.Reader, ww io.Writer, closer io.Closer, sess *session.Session, dispatcher Dispatcher, cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		rw:              rw,
		ww:              ww,
		closer:          closer,
		sess:            sess,
		dispatcher:      dispatcher,
		logger:          logger,
		keepAlive:       cfg.KeepAlive,
		isBroker:        cfg.IsBroker,
		onRecv:          cfg.OnPacketReceived,
		onSent:          cfg.OnPacketSent,
		pubackWaiters:   make(map[uint16]chan result[*packet.Puback]),
		pubrecWaiters:   make(map[uint16]chan result[*packet.Pubrec]),
		pubrelWaiters:   make(map[uint16]chan result[*packet.Pubrel]),
		pubcompWaiters:  make(map[uint16]chan result[*packet.Pubcomp]),
		subackWaiters:   make(map[uint16]chan result[*packet.Suback]),
		unsubackWaiters: make(map[uint16]chan result[*packet.Unsuback]),
		pingResp:        make(chan struct{}, 1),
		done:            make(chan struct{}),
	}
	h.lastRecv.Store(time.Now().UnixNano())
	return h
}

// Start re-transmits any in-flight state left over from a prior connection
// and launches the reader and
// keepalive goroutines.
func (h *Handler) Start(ctx context.Context) {
	h.retryOnReconnect()

	h.wg.Add(1)
	go h.readLoop(ctx)

	if h.keepAlive > 0 {
		h.wg.Add(1)
		if h.isBroker {
			go h.keepaliveMonitor(ctx)
		} else {
			go h.keepaliveSender(ctx)
		}
	}
}

// Stop cancels the reader, fails every outstanding waiter with
// ErrHandlerStopped, and closes the underlying transport. Safe to call more
// than once and from any goroutine.
func (h *Handler) Stop() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)

		h.waitMu.Lock()
		failAll(h.pubackWaiters)
		failAll(h.pubrecWaiters)
		failAll(h.pubrelWaiters)
		failAll(h.pubcompWaiters)
		failAll(h.subackWaiters)
		failAll(h.unsubackWaiters)
		h.waitMu.Unlock()

		if h.closer != nil {
			err = h.closer.Close()
		}
	})
	return err
}

// Wait blocks until the reader loop (and keepalive loop, if any) exits.
func (h *Handler) Wait() { h.wg.Wait() }

func failAll[T any](m map[uint16]chan result[T]) {
	var zero T
	for id, ch := range m {
		select {
		case ch <- result[T]{val: zero, err: ErrHandlerStopped}:
		default:
		}
		delete(m, id)
	}
}

func (h *Handler) isStopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// writePacket serializes pkt behind the writer mutex, the single point
// through which every outgoing packet passes.
func (h *Handler) writePacket(pkt packet.Packet) error {
	if h.isStopped() {
		return ErrHandlerStopped
	}
	h.writeMu.Lock()
	err := pkt.Encode(h.ww)
	h.writeMu.Unlock()
	if err != nil && h.isStopped() {
		return ErrHandlerStopped
	}

	if err == nil && h.onSent != nil {
		h.onSent(pkt)
	}
	return err
}

func registerWaiter[T any](mu *sync.Mutex, m map[uint16]chan result[T], id uint16) chan result[T] {
	mu.Lock()
	defer mu.Unlock()
	ch := make(chan result[T], 1)
	m[id] = ch
	return ch
}

// dropWaiter discards a registered waiter that will never be resolved,
// e.g. when the packet it was waiting on failed to go out.
func dropWaiter[T any](mu *sync.Mutex, m map[uint16]chan result[T], id uint16) {
	mu.Lock()
	delete(m, id)
	mu.Unlock()
}

func resolveWaiter[T any](mu *sync.Mutex, m map[uint16]chan result[T], id uint16, val T) bool {
	mu.Lock()
	ch, ok := m[id]
	if ok {
		delete(m, id)
	}
	mu.Unlock()
	if !ok {
		return false
	}
	ch <- result[T]{val: val}
	return true
}

// await blocks on ch, ctx cancellation, or handler shutdown.
func await[T any](ctx context.Context, h *Handler, ch chan result[T]) (T, error) {
	var zero T
	select {
	case res := <-ch:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.done:
		return zero, ErrHandlerStopped
	}
}

// ---- outgoing QoS handshakes ----

// Publish drives an outgoing application publish at the given QoS. QoS 0
// fires-and-forgets; QoS 1/2 blocks until the handshake completes, ctx is
// cancelled, or the handler is stopped.
func (h *Handler) Publish(ctx context.Context, topic string, payload []byte, qos packet.QoS, retain bool) (*message.ApplicationMessage, error) {
	msg := message.New(topic, payload, qos, retain)

	if qos == packet.QoS0 {
		err := h.writePacket(&packet.Publish{QoS: packet.QoS0, Retain: retain, TopicName: topic, Payload: payload})
		return msg, err
	}

	id, err := h.allocatePacketID()
	if err != nil {
		return nil, err
	}
	msg.PacketID = id
	h.sess.AddPendingPublish(msg)

	// The waiter is installed before PUBLISH goes out: over a fast
	// transport the ack can arrive before the write call even returns.
	var ackCh chan result[*packet.Puback]
	var recCh chan result[*packet.Pubrec]
	if qos == packet.QoS1 {
		ackCh = registerWaiter(&h.waitMu, h.pubackWaiters, id)
	} else {
		recCh = registerWaiter(&h.waitMu, h.pubrecWaiters, id)
	}

	if err := h.writePacket(&packet.Publish{QoS: qos, Retain: retain, TopicName: topic, PacketID: id, Payload: payload}); err != nil {
		if qos == packet.QoS1 {
			dropWaiter(&h.waitMu, h.pubackWaiters, id)
		} else {
			dropWaiter(&h.waitMu, h.pubrecWaiters, id)
		}
		h.sess.RemovePendingPublish(id)
		return nil, err
	}

	if qos == packet.QoS1 {
		if _, err := await(ctx, h, ackCh); err != nil {
			return nil, err
		}
		return msg, nil
	}

	// QoS 2: PUBLISH -> PUBREC -> PUBREL -> PUBCOMP.
	if _, err := await(ctx, h, recCh); err != nil {
		return nil, err
	}

	compCh := registerWaiter(&h.waitMu, h.pubcompWaiters, id)
	if err := h.writePacket(&packet.Pubrel{PacketID: id}); err != nil {
		dropWaiter(&h.waitMu, h.pubcompWaiters, id)
		return nil, err
	}
	h.sess.AddPendingPubcomp(id)

	if _, err := await(ctx, h, compCh); err != nil {
		return nil, err
	}
	h.sess.RemovePendingPubcomp(id)
	return msg, nil
}

func (h *Handler) allocatePacketID() (uint16, error) {
	id := h.sess.NextPacketID()
	if id == 0 {
		return 0, ErrPacketIDSpaceExhausted
	}
	return id, nil
}

// Subscribe is the client-side SUBSCRIBE/SUBACK handshake.
func (h *Handler) Subscribe(ctx context.Context, subs []packet.TopicSubscription) (*packet.Suback, error) {
	id, err := h.allocatePacketID()
	if err != nil {
		return nil, err
	}
	ch := registerWaiter(&h.waitMu, h.subackWaiters, id)
	if err := h.writePacket(&packet.Subscribe{PacketID: id, Subscriptions: subs}); err != nil {
		dropWaiter(&h.waitMu, h.subackWaiters, id)
		return nil, err
	}
	return await(ctx, h, ch)
}

// Unsubscribe is the client-side UNSUBSCRIBE/UNSUBACK handshake.
func (h *Handler) Unsubscribe(ctx context.Context, filters []string) (*packet.Unsuback, error) {
	id, err := h.allocatePacketID()
	if err != nil {
		return nil, err
	}
	ch := registerWaiter(&h.waitMu, h.unsubackWaiters, id)
	if err := h.writePacket(&packet.Unsubscribe{PacketID: id, TopicFilters: filters}); err != nil {
		dropWaiter(&h.waitMu, h.unsubackWaiters, id)
		return nil, err
	}
	return await(ctx, h, ch)
}

// Ping sends PINGREQ and waits for PINGRESP (client side).
func (h *Handler) Ping(ctx context.Context) error {
	if err := h.writePacket(&packet.Pingreq{}); err != nil {
		return err
	}
	select {
	case <-h.pingResp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHandlerStopped
	}
}

// SendSuback lets the broker handler answer an inbound SUBSCRIBE.
func (h *Handler) SendSuback(sb *packet.Suback) error { return h.writePacket(sb) }

// SendUnsuback lets the broker handler answer an inbound UNSUBSCRIBE.
func (h *Handler) SendUnsuback(ub *packet.Unsuback) error { return h.writePacket(ub) }

// Disconnect sends DISCONNECT and stops the handler (client side).
func (h *Handler) Disconnect() error {
	err := h.writePacket(&packet.Disconnect{})
	_ = h.Stop()
	return err
}

// Session exposes the attached session for the client/broker handler layer.
func (h *Handler) Session() *session.Session { return h.sess }
