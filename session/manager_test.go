package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/driftmq/mqtt/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWillPublisher struct {
	mu        sync.Mutex
	published []*WillMessage
	clientIDs []string
}

func (m *mockWillPublisher) PublishWill(ctx context.Context, will *WillMessage, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, will)
	m.clientIDs = append(m.clientIDs, clientID)
	return nil
}

func (m *mockWillPublisher) getPublishedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.published)
}

func newTestManager() *Manager {
	return NewManager(ManagerConfig{Store: NewMemoryStore()})
}

func TestNewManager(t *testing.T) {
	m := NewManager(ManagerConfig{Store: NewMemoryStore(), ExpiryCheckInterval: 10 * time.Second, AssignedIDPrefix: "custom-"})
	require.NotNil(t, m)
	assert.NotNil(t, m.store)
	assert.NotNil(t, m.activeSessions)
	assert.Equal(t, 0, m.GetActiveSessionCount())
	assert.NoError(t, m.Close())
}

func TestManagerCreateSessionNew(t *testing.T) {
	m := newTestManager()
	defer m.Close()

	s, present, err := m.CreateSession(context.Background(), "client1", true, 300)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Equal(t, "client1", s.GetClientID())
	assert.Equal(t, 1, m.GetActiveSessionCount())
}

func TestManagerCreateSessionResumesExisting(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	_, _, err := m.CreateSession(ctx, "client1", false, 300)
	require.NoError(t, err)
	require.NoError(t, m.DisconnectSession(ctx, "client1", false))

	_, present, err := m.CreateSession(ctx, "client1", false, 300)
	require.NoError(t, err)
	assert.True(t, present)
}

func TestManagerCreateSessionCleanSessionDiscardsExisting(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	s, _, err := m.CreateSession(ctx, "client1", false, 300)
	require.NoError(t, err)
	s.AddSubscription(&Subscription{TopicFilter: "a/b", QoS: packet.QoS1})

	s2, present, err := m.CreateSession(ctx, "client1", true, 300)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Empty(t, s2.GetAllSubscriptions())
}

func TestManagerGetSessionFromActiveOrStore(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	_, _, err := m.CreateSession(ctx, "client1", false, 300)
	require.NoError(t, err)

	s, err := m.GetSession(ctx, "client1")
	require.NoError(t, err)
	assert.Equal(t, "client1", s.GetClientID())

	_, err = m.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerDisconnectSessionCleanRemovesFromStore(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	_, _, err := m.CreateSession(ctx, "client1", true, 300)
	require.NoError(t, err)
	require.NoError(t, m.DisconnectSession(ctx, "client1", false))

	assert.Equal(t, 0, m.GetActiveSessionCount())
	_, err = m.GetSession(ctx, "client1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerDisconnectSessionPersistsWhenNotClean(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	_, _, err := m.CreateSession(ctx, "client1", false, 300)
	require.NoError(t, err)
	require.NoError(t, m.DisconnectSession(ctx, "client1", false))

	s, err := m.GetSession(ctx, "client1")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, s.GetState())
}

func TestManagerDisconnectSendsWillOnUngracefulDisconnect(t *testing.T) {
	publisher := &mockWillPublisher{}
	m := NewManager(ManagerConfig{Store: NewMemoryStore(), WillPublisher: publisher})
	defer m.Close()
	ctx := context.Background()

	s, _, err := m.CreateSession(ctx, "client1", true, 300)
	require.NoError(t, err)
	s.SetWillMessage(&WillMessage{Topic: "last/will", Payload: []byte("bye")})

	require.NoError(t, m.DisconnectSession(ctx, "client1", true))
	assert.Equal(t, 1, publisher.getPublishedCount())
}

func TestManagerDisconnectDoesNotSendWillOnGracefulDisconnect(t *testing.T) {
	publisher := &mockWillPublisher{}
	m := NewManager(ManagerConfig{Store: NewMemoryStore(), WillPublisher: publisher})
	defer m.Close()
	ctx := context.Background()

	s, _, err := m.CreateSession(ctx, "client1", true, 300)
	require.NoError(t, err)
	s.SetWillMessage(&WillMessage{Topic: "last/will", Payload: []byte("bye")})

	require.NoError(t, m.DisconnectSession(ctx, "client1", false))
	assert.Equal(t, 0, publisher.getPublishedCount())
}

func TestManagerRemoveSession(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	_, _, err := m.CreateSession(ctx, "client1", false, 300)
	require.NoError(t, err)
	require.NoError(t, m.RemoveSession(ctx, "client1"))

	assert.Equal(t, 0, m.GetActiveSessionCount())
	_, err = m.GetSession(ctx, "client1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerTakeoverSessionClearsWill(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	s, _, err := m.CreateSession(ctx, "client1", true, 300)
	require.NoError(t, err)
	s.SetWillMessage(&WillMessage{Topic: "last/will", Payload: []byte("bye")})

	require.NoError(t, m.TakeoverSession(ctx, "client1"))
	assert.Nil(t, s.GetWillMessage())
}

func TestManagerTakeoverSessionMissingIsNoop(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	assert.NoError(t, m.TakeoverSession(context.Background(), "missing"))
}

func TestManagerGenerateClientIDIsUniqueAndPrefixed(t *testing.T) {
	m := NewManager(ManagerConfig{Store: NewMemoryStore(), AssignedIDPrefix: "auto-"})
	defer m.Close()
	ctx := context.Background()

	id1, err := m.GenerateClientID(ctx)
	require.NoError(t, err)
	assert.Contains(t, id1, "auto-")

	_, _, err = m.CreateSession(ctx, id1, true, 0)
	require.NoError(t, err)

	id2, err := m.GenerateClientID(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestManagerExpiryCheckerExpiresAndPublishesWill(t *testing.T) {
	publisher := &mockWillPublisher{}
	m := NewManager(ManagerConfig{Store: NewMemoryStore(), WillPublisher: publisher, ExpiryCheckInterval: 10 * time.Millisecond})
	defer m.Close()
	ctx := context.Background()

	s, _, err := m.CreateSession(ctx, "client1", false, 1)
	require.NoError(t, err)
	require.NoError(t, m.DisconnectSession(ctx, "client1", false))
	// A graceful disconnect discards the will, so attach one to the
	// stored, disconnected session for the sweep to find.
	s.SetWillMessage(&WillMessage{Topic: "last/will", Payload: []byte("bye")})

	s.mu.Lock()
	s.DisconnectedAt = time.Now().Add(-2 * time.Second)
	s.mu.Unlock()

	assert.Eventually(t, func() bool {
		return publisher.getPublishedCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManagerGetAllActiveSessions(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	_, _, _ = m.CreateSession(ctx, "client1", true, 300)
	_, _, _ = m.CreateSession(ctx, "client2", true, 300)

	ids := m.GetAllActiveSessions()
	assert.ElementsMatch(t, []string{"client1", "client2"}, ids)
}

func TestManagerConcurrentCreateSessionDifferentClients(t *testing.T) {
	m := newTestManager()
	defer m.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			clientID := "client-" + string(rune('a'+i))
			_, _, err := m.CreateSession(ctx, clientID, true, 300)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, m.GetActiveSessionCount())
}
