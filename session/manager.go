package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"
)

// Manager owns the client-id -> *Session registry. The broker holds
// sessions by client id rather than the protocol handler holding a
// back-reference to the broker, so a disconnected client's state can
// outlive its connection without either side keeping a cyclic pointer to
// the other.
type Manager struct {
	mu                sync.RWMutex
	store             Store
	activeSessions    map[string]*Session
	expiryCheckTicker *time.Ticker
	stopCh            chan struct{}
	wg                sync.WaitGroup
	willPublisher     WillPublisher
	assignedIDPrefix  string
	logger            *slog.Logger
}

// WillPublisher publishes a disconnected session's will message through the
// broker's normal dispatch path.
type WillPublisher interface {
	PublishWill(ctx context.Context, will *WillMessage, clientID string) error
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	Store               Store
	ExpiryCheckInterval time.Duration
	WillPublisher       WillPublisher
	AssignedIDPrefix    string
	Logger              *slog.Logger
}

func NewManager(config ManagerConfig) *Manager {
	if config.ExpiryCheckInterval == 0 {
		config.ExpiryCheckInterval = 30 * time.Second
	}
	if config.AssignedIDPrefix == "" {
		config.AssignedIDPrefix = "auto-"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	m := &Manager{
		store:             config.Store,
		activeSessions:    make(map[string]*Session),
		expiryCheckTicker: time.NewTicker(config.ExpiryCheckInterval),
		stopCh:            make(chan struct{}),
		willPublisher:     config.WillPublisher,
		assignedIDPrefix:  config.AssignedIDPrefix,
		logger:            config.Logger,
	}

	m.wg.Add(1)
	go m.expiryChecker()

	return m
}

// CreateSession implements the CONNACK session-present logic of section
// 3.2.2.2: a clean-session CONNECT discards any prior session for the
// client id; otherwise a prior non-expired session is resumed and
// session-present is reported true.
func (m *Manager) CreateSession(ctx context.Context, clientID string, cleanSession bool, expiryInterval uint32) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Load(ctx, clientID)
	if err != nil && err != ErrSessionNotFound {
		return nil, false, err
	}

	if existing != nil && !existing.IsExpired() {
		sessionPresent := false
		if cleanSession {
			existing.Clear()
			existing.CleanSession = true
			existing.ExpiryInterval = expiryInterval
			existing.SetActive()
		} else {
			existing.SetActive()
			if expiryInterval > 0 {
				existing.UpdateExpiryInterval(expiryInterval)
			}
			sessionPresent = true
		}
		m.activeSessions[clientID] = existing
		if err := m.store.Save(ctx, existing); err != nil {
			return nil, false, err
		}
		return existing, sessionPresent, nil
	}

	session := New(clientID, cleanSession, expiryInterval)
	session.SetActive()
	m.activeSessions[clientID] = session

	if err := m.store.Save(ctx, session); err != nil {
		delete(m.activeSessions, clientID)
		return nil, false, err
	}
	return session, false, nil
}

func (m *Manager) GetSession(ctx context.Context, clientID string) (*Session, error) {
	m.mu.RLock()
	if session, ok := m.activeSessions[clientID]; ok {
		m.mu.RUnlock()
		return session, nil
	}
	m.mu.RUnlock()

	return m.store.Load(ctx, clientID)
}

// DisconnectSession marks a session disconnected and, when sendWill is true
// (an ungraceful disconnect, not a client-initiated DISCONNECT), publishes
// its will message immediately — 3.1.1 has no will-delay to defer it.
func (m *Manager) DisconnectSession(ctx context.Context, clientID string, sendWill bool) error {
	session, err := m.GetSession(ctx, clientID)
	if err != nil {
		return err
	}

	session.SetDisconnected()

	if will := session.GetWillMessage(); sendWill && will != nil {
		if m.willPublisher != nil {
			if err := m.willPublisher.PublishWill(ctx, will, clientID); err != nil {
				m.logger.Warn("will publish failed", "client_id", clientID, "error", err)
			}
		}
	}
	session.ClearWillMessage()

	m.mu.Lock()
	delete(m.activeSessions, clientID)
	m.mu.Unlock()

	if session.GetCleanSession() {
		return m.store.Delete(ctx, clientID)
	}
	return m.store.Save(ctx, session)
}

func (m *Manager) RemoveSession(ctx context.Context, clientID string) error {
	m.mu.Lock()
	delete(m.activeSessions, clientID)
	m.mu.Unlock()

	return m.store.Delete(ctx, clientID)
}

// TakeoverSession drops the will message of a session being displaced by a
// new connection for the same client id: the old connection must be
// closed, not have its will fire.
func (m *Manager) TakeoverSession(ctx context.Context, clientID string) error {
	session, err := m.GetSession(ctx, clientID)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil
		}
		return err
	}
	session.ClearWillMessage()
	return nil
}

// GenerateClientID assigns a client id for a CONNECT that omitted one
// (allowed only when clean-session=true, section 3.1.3.1).
func (m *Manager) GenerateClientID(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return "", err
		}
		clientID := m.assignedIDPrefix + hex.EncodeToString(b)

		exists, err := m.store.Exists(ctx, clientID)
		if err != nil {
			return "", err
		}
		if !exists {
			return clientID, nil
		}
	}
	return "", ErrSessionAlreadyExists
}

func (m *Manager) expiryChecker() {
	defer m.wg.Done()

	for {
		select {
		case <-m.expiryCheckTicker.C:
			m.checkExpiredSessions()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) checkExpiredSessions() {
	ctx := context.Background()

	clientIDs, err := m.store.List(ctx)
	if err != nil {
		return
	}

	for _, clientID := range clientIDs {
		session, err := m.store.Load(ctx, clientID)
		if err != nil {
			continue
		}
		if !session.IsExpired() {
			continue
		}
		if will := session.GetWillMessage(); will != nil && m.willPublisher != nil {
			_ = m.willPublisher.PublishWill(ctx, will, clientID)
		}
		session.SetExpired()
		_ = m.store.Delete(ctx, clientID)
	}
}

func (m *Manager) Close() error {
	close(m.stopCh)
	m.expiryCheckTicker.Stop()
	m.wg.Wait()

	return m.store.Close()
}

func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activeSessions)
}

func (m *Manager) GetAllActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clientIDs := make([]string, 0, len(m.activeSessions))
	for clientID := range m.activeSessions {
		clientIDs = append(clientIDs, clientID)
	}
	return clientIDs
}
