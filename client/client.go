// Package client implements the Client Handler specialization of the
// protocol engine: it builds and sends CONNECT, awaits
// CONNACK, and exposes subscribe/unsubscribe/publish/ping/disconnect on top
// of protocol.Handler.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
	"github.com/driftmq/mqtt/pkg/logger"
	"github.com/driftmq/mqtt/protocol"
	"github.com/driftmq/mqtt/session"
)

// ErrConnectionRefused wraps the CONNACK return code when the broker
// refuses a connection attempt.
type ErrConnectionRefused struct {
	ReturnCode packet.ReturnCode
}

func (e *ErrConnectionRefused) Error() string {
	return fmt.Sprintf("client: connection refused: return code 0x%02x", byte(e.ReturnCode))
}

// Config configures a client Connect call.
type Config struct {
	ClientID       string
	CleanSession   bool
	KeepAlive      time.Duration
	Username       string
	Password       []byte
	Will           *session.WillMessage
	ConnectTimeout time.Duration // default 30s
	Logger         *slog.Logger
}

// Client is the client-side MQTT session: a session, a protocol handler
// bound to it, and a channel of application-visible deliveries.
type Client struct {
	sess    *session.Session
	handler *protocol.Handler
	logger  *slog.Logger

	deliveries chan *message.ApplicationMessage

	pumpCancel context.CancelFunc

	closeOnce  sync.Once
	disconnect chan struct{}
}

// Connect sends CONNECT over rwc, awaits CONNACK, and — on success —
// constructs a fresh session and starts the protocol handler for
// steady-state traffic.
func Connect(ctx context.Context, rwc io.ReadWriteCloser, cfg Config) (*Client, error) {
	sess := session.New(cfg.ClientID, cfg.CleanSession, 0)
	if cfg.Will != nil {
		sess.SetWillMessage(cfg.Will)
	}
	return Resume(ctx, rwc, cfg, sess)
}

// Resume runs the same CONNECT handshake over an existing session: on
// success the protocol handler re-transmits the session's in-flight QoS
// 1/2 state (PUBLISH with DUP, or bare PUBREL past the PUBREC stage)
// before steady-state traffic begins. Reconnecting with
// clean-session=false after a network drop goes through here so no
// half-done handshake is abandoned.
func Resume(ctx context.Context, rwc io.ReadWriteCloser, cfg Config, sess *session.Session) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = logger.New(slog.LevelInfo, os.Stdout)
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	connect := &packet.Connect{
		ProtocolName:  packet.ProtocolName,
		ProtocolLevel: packet.ProtocolLevel311,
		CleanSession:  cfg.CleanSession,
		KeepAlive:     uint16(cfg.KeepAlive / time.Second),
		ClientID:      cfg.ClientID,
	}
	if cfg.Username != "" {
		connect.UsernameFlag = true
		connect.Username = cfg.Username
	}
	if cfg.Password != nil {
		connect.PasswordFlag = true
		connect.Password = cfg.Password
	}
	if cfg.Will != nil {
		connect.WillFlag = true
		connect.WillQoS = cfg.Will.QoS
		connect.WillRetain = cfg.Will.Retain
		connect.WillTopic = cfg.Will.Topic
		connect.WillPayload = cfg.Will.Payload
	}

	if err := connect.Encode(rwc); err != nil {
		return nil, fmt.Errorf("client: send CONNECT: %w", err)
	}

	type connackResult struct {
		ack *packet.Connack
		err error
	}
	resultCh := make(chan connackResult, 1)
	go func() {
		pkt, err := packet.ReadPacket(rwc)
		if err != nil {
			resultCh <- connackResult{err: fmt.Errorf("client: read CONNACK: %w", err)}
			return
		}
		ack, ok := pkt.(*packet.Connack)
		if !ok {
			resultCh <- connackResult{err: errors.New("client: expected CONNACK")}
			return
		}
		resultCh <- connackResult{ack: ack}
	}()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	var ack *packet.Connack
	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		ack = res.ack
	case <-connectCtx.Done():
		_ = rwc.Close()
		return nil, fmt.Errorf("client: CONNACK timeout: %w", connectCtx.Err())
	}

	if ack.ReturnCode != packet.Accepted {
		_ = rwc.Close()
		return nil, &ErrConnectionRefused{ReturnCode: ack.ReturnCode}
	}

	sess.SetActive()

	c := &Client{
		sess:       sess,
		logger:     log,
		deliveries: make(chan *message.ApplicationMessage, 64),
		disconnect: make(chan struct{}),
	}
	c.handler = protocol.NewHandler(rwc, rwc, rwc, sess, c, protocol.Config{
		KeepAlive: cfg.KeepAlive,
		IsBroker:  false,
		Logger:    log,
	})
	c.handler.Start(ctx)

	// The pump outlives the connect call's context: it stops when the
	// connection does, not when the handshake deadline passes.
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.pumpCancel = cancel
	go c.pumpDeliveries(pumpCtx)

	return c, nil
}

// pumpDeliveries moves messages from the session's delivery queue onto
// the application-facing channel in receipt order.
func (c *Client) pumpDeliveries(ctx context.Context) {
	for {
		msg, err := c.sess.TakeNextDelivery(ctx)
		if err != nil {
			return
		}
		select {
		case c.deliveries <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Publish drives an outgoing publish through the protocol handler.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos packet.QoS, retain bool) (*message.ApplicationMessage, error) {
	return c.handler.Publish(ctx, topic, payload, qos, retain)
}

// Subscribe sends SUBSCRIBE and returns the granted/failed per-topic codes.
func (c *Client) Subscribe(ctx context.Context, subs []packet.TopicSubscription) (*packet.Suback, error) {
	sb, err := c.handler.Subscribe(ctx, subs)
	if err != nil {
		return nil, err
	}
	for i, s := range subs {
		if i < len(sb.ReturnCodes) && sb.ReturnCodes[i] != packet.SubscribeFailure {
			c.sess.AddSubscription(&session.Subscription{TopicFilter: s.TopicFilter, QoS: packet.QoS(sb.ReturnCodes[i])})
		}
	}
	return sb, nil
}

// Unsubscribe sends UNSUBSCRIBE and awaits UNSUBACK.
func (c *Client) Unsubscribe(ctx context.Context, filters []string) (*packet.Unsuback, error) {
	ub, err := c.handler.Unsubscribe(ctx, filters)
	if err != nil {
		return nil, err
	}
	for _, f := range filters {
		c.sess.RemoveSubscription(f)
	}
	return ub, nil
}

// Ping sends PINGREQ and waits for PINGRESP.
func (c *Client) Ping(ctx context.Context) error { return c.handler.Ping(ctx) }

// Disconnect sends DISCONNECT and stops the handler cleanly (no will
// message is published by the broker for a graceful disconnect).
func (c *Client) Disconnect() error { return c.handler.Disconnect() }

// Deliveries is the channel of inbound application messages delivered to
// this client, in receipt order, across all QoS levels.
func (c *Client) Deliveries() <-chan *message.ApplicationMessage { return c.deliveries }

// DisconnectWaiter completes when the connection to the broker is lost or
// closed, however that happens.
func (c *Client) DisconnectWaiter() <-chan struct{} { return c.disconnect }

func (c *Client) Session() *session.Session { return c.sess }

// ---- protocol.Dispatcher ----

func (c *Client) HandlePublish(ctx context.Context, msg *message.ApplicationMessage) error {
	c.sess.Deliver(msg)
	return nil
}

func (c *Client) HandleSubscribe(ctx context.Context, sub *packet.Subscribe) (*packet.Suback, error) {
	return nil, errors.New("client: unexpected SUBSCRIBE from broker")
}

func (c *Client) HandleUnsubscribe(ctx context.Context, unsub *packet.Unsubscribe) (*packet.Unsuback, error) {
	return nil, errors.New("client: unexpected UNSUBSCRIBE from broker")
}

func (c *Client) HandleDisconnect(ctx context.Context, graceful bool) {
	c.sess.SetDisconnected()
	c.closeOnce.Do(func() {
		close(c.disconnect)
		if c.pumpCancel != nil {
			c.pumpCancel()
		}
	})
}
