package hook

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Manager registers named plugins and fires events to them. FireEvent fans
// out concurrently to every registered EventHook that provides the event
// and waits for all of them; an individual hook's panic never reaches the
// caller — only a logged error does.
type Manager struct {
	mu     sync.RWMutex
	hooks  map[string]Hook
	order  []string // registration order, so List()/fan-out is deterministic for tests
	logger *slog.Logger
}

// NewManager creates an empty plugin manager. A nil logger falls back to
// slog.Default so the manager is usable without ceremony in tests.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		hooks:  make(map[string]Hook),
		logger: logger,
	}
}

func (m *Manager) Add(h Hook) error {
	if h == nil || h.ID() == "" {
		return ErrEmptyHookID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.hooks[h.ID()]; exists {
		return ErrHookAlreadyExists
	}
	m.hooks[h.ID()] = h
	m.order = append(m.order, h.ID())
	return nil
}

func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.hooks[id]; !exists {
		return ErrHookNotFound
	}
	delete(m.hooks, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Manager) Get(id string) (Hook, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hooks[id]
	return h, ok
}

func (m *Manager) List() []Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Hook, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.hooks[id])
	}
	return result
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooks)
}

func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = make(map[string]Hook)
	m.order = nil
}

// FireEvent invokes HandleEvent on every registered EventHook that
// Provides(event), concurrently, and waits for all of them to return. A
// hook that panics is recovered and logged so one misbehaving plugin can
// never break the fan-out for the others.
func (m *Manager) FireEvent(ctx context.Context, event Event, client *Client, args any) {
	hooks := m.List()

	var g errgroup.Group
	for _, h := range hooks {
		eh, ok := h.(EventHook)
		if !ok || !eh.Provides(event) {
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("hook panicked", "hook", eh.ID(), "event", event.String(), "panic", r)
				}
			}()
			eh.HandleEvent(event, client, args)
			return nil
		})
	}
	_ = g.Wait()
}

// MapPluginAuth runs every registered AuthHook and authorizes the session
// iff none of them returns Deny; an Undecided vote never vetoes. Plugins
// are walked sequentially so every one runs and the
// first Deny observed is deterministic and auditable, rather than racing
// concurrent short-circuit evaluation that would be immaterial for the
// resulting boolean but would hide which plugin actually denied.
func (m *Manager) MapPluginAuth(client *Client, info *ConnectInfo) bool {
	authorized := true
	for _, h := range m.List() {
		ah, ok := h.(AuthHook)
		if !ok {
			continue
		}
		if d := m.safeAuthenticate(ah, client, info); d == Deny {
			authorized = false
		}
	}
	return authorized
}

func (m *Manager) safeAuthenticate(ah AuthHook, client *Client, info *ConnectInfo) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("auth hook panicked", "hook", ah.ID(), "panic", r)
			d = Undecided
		}
	}()
	return ah.Authenticate(client, info)
}

// MapPluginTopic runs every registered TopicHook and permits the topic
// operation iff none of them returns Deny.
func (m *Manager) MapPluginTopic(client *Client, topic string, access AccessType) bool {
	for _, h := range m.List() {
		th, ok := h.(TopicHook)
		if !ok {
			continue
		}
		if d := m.safeCheckTopic(th, client, topic, access); d == Deny {
			return false
		}
	}
	return true
}

func (m *Manager) safeCheckTopic(th TopicHook, client *Client, topic string, access AccessType) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("topic hook panicked", "hook", th.ID(), "panic", r)
			d = Undecided
		}
	}()
	return th.CheckTopic(client, topic, access)
}
