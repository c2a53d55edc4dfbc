// Package broker implements the broker-side dispatch core: CONNECT
// acceptance, subscription matching, authorized delivery fan-out,
// retained-message redelivery, and the $SYS broker-stats topics. It is the
// session owner the protocol.Handler of each connection is built against,
// playing the broker half of an arena model: the broker owns sessions by
// client-id key, and a connection's handler holds only an opaque reference
// to its session, not a back-pointer to the broker.
package broker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftmq/mqtt/config"
	"github.com/driftmq/mqtt/hook"
	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/pkg/logger"
	"github.com/driftmq/mqtt/session"
	"github.com/driftmq/mqtt/topic"
)

// DefaultConnectTimeout is how long the broker waits for CONNECT after
// accepting a connection before closing it.
const DefaultConnectTimeout = 30 * time.Second

// Stats backs the $SYS/broker/... topics.
type Stats struct {
	StartedAt        time.Time
	ClientsConnected atomic.Int64
	ClientsTotal     atomic.Int64
	MessagesReceived atomic.Int64
	MessagesSent     atomic.Int64
	BytesReceived    atomic.Int64
	BytesSent        atomic.Int64
}

// Broker is the broker-wide dispatch core: a session registry, a plugin
// manager, the shared topic router/retained store, and the set of live
// per-connection handlers used to fan a publish out to every matching
// subscriber.
type Broker struct {
	cfg    *config.Config
	logger *slog.Logger

	Sessions *session.Manager
	Hooks    *hook.Manager
	Router   *topic.Router

	Stats *Stats

	connectTimeout time.Duration
	retained       *topic.RetainedManager

	mu       sync.RWMutex
	handlers map[string]*sessionHandler // clientID -> live handler

	sys *SysPublisher
}

// Option customizes a Broker beyond its configuration document.
type Option func(*Broker)

// WithRetained swaps the broker's retained-message store, e.g. for one
// opened over a Pebble or Redis backend so retained messages survive a
// restart.
func WithRetained(rm *topic.RetainedManager) Option {
	return func(b *Broker) { b.retained = rm }
}

// WithConnectTimeout overrides how long an accepted connection may take
// to present its CONNECT.
func WithConnectTimeout(d time.Duration) Option {
	return func(b *Broker) { b.connectTimeout = d }
}

// New constructs a Broker from a parsed configuration document. A nil
// store defaults to an in-memory session.Store; a nil logger defaults to
// the package's colored console handler at info level.
func New(cfg *config.Config, store session.Store, log *slog.Logger, opts ...Option) *Broker {
	if log == nil {
		log = logger.New(slog.LevelInfo, os.Stdout)
	}
	if store == nil {
		store = session.NewMemoryStore()
	}

	b := &Broker{
		cfg:            cfg,
		logger:         log,
		Hooks:          hook.NewManager(log),
		Stats:          &Stats{StartedAt: time.Now()},
		connectTimeout: DefaultConnectTimeout,
		handlers:       make(map[string]*sessionHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.Router = topic.NewRouterWithRetained(b.retained)
	b.Sessions = session.NewManager(session.ManagerConfig{
		Store:         store,
		WillPublisher: b,
		Logger:        log,
	})

	b.registerConfiguredHooks()

	if d := cfg.SysIntervalDuration(); d > 0 {
		b.sys = NewSysPublisher(b, d)
		b.sys.Start()
	}

	return b
}

// registerConfiguredHooks wires the auth/ACL sections of the configuration
// document into the plugin manager: anonymous-access and
// password-file authentication, plus the ACL topic-check hook when
// topic-check is enabled.
func (b *Broker) registerConfiguredHooks() {
	_ = b.Hooks.Add(hook.NewAnonymousAuthHook(b.cfg.Auth.AllowAnonymous))

	if b.cfg.Auth.PasswordFile != "" {
		basic := hook.NewBasicAuthHook()
		if users, err := loadPasswordFile(b.cfg.Auth.PasswordFile); err != nil {
			b.logger.Warn("failed to load password file", "path", b.cfg.Auth.PasswordFile, "error", err)
		} else {
			basic.LoadUsers(users)
		}
		_ = b.Hooks.Add(basic)
	}

	if b.cfg.TopicCheck.Enabled {
		_ = b.Hooks.Add(hook.NewACLHook(b.cfg.TopicCheck.ACL, b.cfg.TopicCheck.PublishACL))
	}

	if b.cfg.RateLimit.Enabled {
		rl := b.cfg.RateLimit
		_ = b.Hooks.Add(hook.NewMultiLevelRateLimitHook(rl.PerClientLimit, rl.PerTopicLimit, rl.GlobalLimit, rl.WindowDuration()))
	}
}

// loadPasswordFile parses a flat "username:password" per line file;
// blank lines and lines starting with '#' are ignored.
func loadPasswordFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		users[parts[0]] = parts[1]
	}
	return users, scanner.Err()
}

// Close stops the $SYS publisher and the session manager's expiry sweep,
// and disconnects every live connection handler.
func (b *Broker) Close() error {
	if b.sys != nil {
		b.sys.Stop()
	}

	b.mu.Lock()
	handlers := make([]*sessionHandler, 0, len(b.handlers))
	for _, sh := range b.handlers {
		handlers = append(handlers, sh)
	}
	b.mu.Unlock()
	for _, sh := range handlers {
		sh.detach()
		_ = sh.handler.Stop()
	}

	_ = b.Router.Close()
	return b.Sessions.Close()
}

// PublishWill implements session.WillPublisher: it dispatches a
// disconnected session's will message through the same matching/fan-out
// path as any ordinary publish.
func (b *Broker) PublishWill(ctx context.Context, will *session.WillMessage, clientID string) error {
	msg := message.New(will.Topic, will.Payload, will.QoS, will.Retain)
	return b.deliver(ctx, clientID, msg)
}

// deliver stores/clears the retained entry for msg.Topic when Retain is
// set, then fans it out to every matching live subscriber at
// min(publish-QoS, subscription-QoS). fromClientID is used only for logging;
// MQTT 3.1.1 has no "no local" option, so a publisher subscribed to its own
// topic receives its own message back like any other subscriber.
func (b *Broker) deliver(ctx context.Context, fromClientID string, msg *message.ApplicationMessage) error {
	if msg.Retain {
		if err := b.Router.SetRetainedMessage(ctx, msg.Topic, msg); err != nil {
			return fmt.Errorf("broker: set retained message: %w", err)
		}
	}

	for _, sub := range b.Router.Match(msg.Topic) {
		b.mu.RLock()
		target, ok := b.handlers[sub.ClientID]
		b.mu.RUnlock()
		if !ok {
			// Subscriber has no live connection; 3.1.1 offline delivery for
			// clean-session=false sessions beyond in-flight retry is not
			// modeled here.
			continue
		}

		qos := msg.QoS
		if sub.QoS < qos {
			qos = sub.QoS
		}

		// Each subscriber gets its own copy on its own serialized delivery
		// queue, so deliveries keep the broker's receipt order per
		// subscriber. RETAIN is cleared on delivery to an established
		// subscription (section 3.3.1); only retained-store redelivery
		// after a new SUBSCRIBE carries the flag.
		out := msg.Clone()
		out.QoS = qos
		out.Retain = false
		out.PacketID = 0
		out.DUP = false
		target.enqueue(out)

		b.Stats.MessagesSent.Add(1)
		b.Stats.BytesSent.Add(int64(len(msg.Payload)))
	}

	return nil
}
