package hook

import (
	"sync"
	"time"
)

// counter is one fixed-window publish counter. take bumps it and reports
// whether the window's budget survives; a window older than the
// configured duration restarts from scratch.
type counter struct {
	n        int
	windowAt time.Time
	seenAt   time.Time
}

func (c *counter) take(limit int, window time.Duration, now time.Time) bool {
	if now.Sub(c.windowAt) > window {
		c.n = 0
		c.windowAt = now
	}
	c.n++
	c.seenAt = now
	return c.n <= limit
}

// counterSet tracks one counter per key with periodic expiry of keys not
// seen for a few windows, so a churning client population doesn't grow
// the map forever.
type counterSet struct {
	byKey map[string]*counter
}

func newCounterSet() *counterSet {
	return &counterSet{byKey: make(map[string]*counter)}
}

func (cs *counterSet) take(key string, limit int, window time.Duration, now time.Time) bool {
	c, ok := cs.byKey[key]
	if !ok {
		c = &counter{windowAt: now}
		cs.byKey[key] = c
	}
	return c.take(limit, window, now)
}

func (cs *counterSet) sweep(maxIdle time.Duration, now time.Time) {
	for key, c := range cs.byKey {
		if now.Sub(c.seenAt) > maxIdle {
			delete(cs.byKey, key)
		}
	}
}

// sweeper reruns fn on a timer until Stop.
type sweeper struct {
	timer *time.Timer
}

func startSweeper(window time.Duration, fn func()) *sweeper {
	interval := 2 * window
	if interval < time.Minute {
		interval = time.Minute
	}
	s := &sweeper{}
	var arm func()
	arm = func() {
		s.timer = time.AfterFunc(interval, func() {
			fn()
			arm()
		})
	}
	arm()
	return s
}

func (s *sweeper) stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// RateLimitHook caps the rate of PUBLISH operations per client. It votes
// Deny on AccessPublish once a client exceeds maxRate within window, and
// never has an opinion on AccessSubscribe.
type RateLimitHook struct {
	*Base
	mu      sync.Mutex
	clients *counterSet
	maxRate int
	window  time.Duration
	sweep   *sweeper
}

// NewRateLimitHook creates a per-client publish rate limiter allowing
// maxRate publishes per window.
func NewRateLimitHook(maxRate int, window time.Duration) *RateLimitHook {
	h := &RateLimitHook{
		Base:    NewHookBase("rate-limit"),
		clients: newCounterSet(),
		maxRate: maxRate,
		window:  window,
	}
	h.sweep = startSweeper(window, h.expireIdle)
	return h
}

// Stop stops the idle-counter sweep.
func (h *RateLimitHook) Stop() error {
	h.sweep.stop()
	return nil
}

// CheckTopic votes Deny once the client has spent its publish budget for
// the current window.
func (h *RateLimitHook) CheckTopic(client *Client, topic string, access AccessType) Decision {
	if access != AccessPublish || client == nil {
		return Undecided
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients.take(client.ClientID, h.maxRate, h.window, time.Now()) {
		return Allow
	}
	return Deny
}

// ResetClient forgets a client's current window.
func (h *RateLimitHook) ResetClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients.byKey, clientID)
}

// ActiveClients returns how many clients currently hold a counter.
func (h *RateLimitHook) ActiveClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients.byKey)
}

func (h *RateLimitHook) expireIdle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients.sweep(3*h.window, time.Now())
}

// MultiLevelRateLimitHook enforces per-client, per-topic, and global
// publish budgets in a single vote; a zero limit disables that level.
type MultiLevelRateLimitHook struct {
	*Base
	mu          sync.Mutex
	clientLimit int
	topicLimit  int
	globalLimit int
	window      time.Duration
	clients     *counterSet
	topics      *counterSet
	global      counter
	sweep       *sweeper
}

// NewMultiLevelRateLimitHook creates a limiter combining the three
// levels; pass 0 for any level that should not be enforced.
func NewMultiLevelRateLimitHook(clientLimit, topicLimit, globalLimit int, window time.Duration) *MultiLevelRateLimitHook {
	h := &MultiLevelRateLimitHook{
		Base:        NewHookBase("multi-level-rate-limit"),
		clientLimit: clientLimit,
		topicLimit:  topicLimit,
		globalLimit: globalLimit,
		window:      window,
		clients:     newCounterSet(),
		topics:      newCounterSet(),
		global:      counter{windowAt: time.Now()},
	}
	h.sweep = startSweeper(window, h.expireIdle)
	return h
}

// Stop stops the idle-counter sweep.
func (h *MultiLevelRateLimitHook) Stop() error {
	h.sweep.stop()
	return nil
}

// CheckTopic votes Deny when any enforced level's budget is spent.
func (h *MultiLevelRateLimitHook) CheckTopic(client *Client, topic string, access AccessType) Decision {
	if access != AccessPublish {
		return Undecided
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()

	if h.globalLimit > 0 && !h.global.take(h.globalLimit, h.window, now) {
		return Deny
	}
	if h.clientLimit > 0 && client != nil && !h.clients.take(client.ClientID, h.clientLimit, h.window, now) {
		return Deny
	}
	if h.topicLimit > 0 && !h.topics.take(topic, h.topicLimit, h.window, now) {
		return Deny
	}
	return Allow
}

func (h *MultiLevelRateLimitHook) expireIdle() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.clients.sweep(3*h.window, now)
	h.topics.sweep(3*h.window, now)
}
