package topic

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/driftmq/mqtt/message"
)

// RetainedManager holds the single retained message per topic (section
// 3.3.1.3: a retained PUBLISH with a zero-length payload clears the topic's
// retained message rather than storing an empty one). A background sweep
// drops retained messages older than the configured MaxAge, mirroring the
// session manager's expiry checker.
type RetainedManager struct {
	mu              sync.RWMutex
	messages        map[string]*message.ApplicationMessage
	cleanupTicker   *time.Ticker
	cleanupInterval time.Duration
	maxAge          time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
	onCleanup       func(count int)
	backend         RetainedBackend
}

// RetainedConfig configures a RetainedManager. MaxAge is an operational
// cap (not an MQTT 3.1.1 protocol feature — 3.1.1 retained messages have no
// expiry of their own) bounding how long a stale retained message is kept;
// zero disables the sweep.
type RetainedConfig struct {
	CleanupInterval time.Duration
	MaxAge          time.Duration
	OnCleanup       func(count int)

	// Backend, when non-nil, is write-through persistence: the manager
	// loads it once at startup and mirrors every Set/Delete into it.
	Backend RetainedBackend
}

// DefaultRetainedConfig returns sane defaults for a RetainedManager.
func DefaultRetainedConfig() *RetainedConfig {
	return &RetainedConfig{
		CleanupInterval: 5 * time.Minute,
	}
}

// NewRetainedManager creates a retained message store and starts its
// background expiry sweep. Use OpenRetainedManager when a persistence
// backend is configured.
func NewRetainedManager(config *RetainedConfig) *RetainedManager {
	if config == nil {
		config = DefaultRetainedConfig()
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rm := &RetainedManager{
		messages:        make(map[string]*message.ApplicationMessage),
		cleanupInterval: config.CleanupInterval,
		maxAge:          config.MaxAge,
		cleanupTicker:   time.NewTicker(config.CleanupInterval),
		stopCh:          make(chan struct{}),
		onCleanup:       config.OnCleanup,
		backend:         config.Backend,
	}

	rm.wg.Add(1)
	go rm.cleanupLoop()

	return rm
}

// OpenRetainedManager creates a retained store backed by
// config.Backend, pre-populated with every entry the backend persisted
// before the last shutdown.
func OpenRetainedManager(ctx context.Context, config *RetainedConfig) (*RetainedManager, error) {
	if config == nil || config.Backend == nil {
		return nil, errors.New("topic: OpenRetainedManager requires a backend")
	}

	stored, err := config.Backend.LoadAll(ctx)
	if err != nil {
		return nil, err
	}

	rm := NewRetainedManager(config)
	rm.mu.Lock()
	for topic, msg := range stored {
		rm.messages[topic] = msg
	}
	rm.mu.Unlock()
	return rm, nil
}

// Set stores msg as the retained message for topic, or clears it when msg
// has a zero-length payload.
func (rm *RetainedManager) Set(ctx context.Context, topic string, msg *message.ApplicationMessage) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	rm.mu.Lock()
	if len(msg.Payload) == 0 {
		delete(rm.messages, topic)
		rm.mu.Unlock()
		if rm.backend != nil {
			return rm.backend.Remove(ctx, topic)
		}
		return nil
	}
	rm.messages[topic] = msg
	rm.mu.Unlock()

	if rm.backend != nil {
		return rm.backend.Store(ctx, topic, msg)
	}
	return nil
}

// Get returns the retained message stored for topic, if any.
func (rm *RetainedManager) Get(ctx context.Context, topic string) (*message.ApplicationMessage, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	msg, ok := rm.messages[topic]
	if !ok {
		return nil, nil
	}
	return msg, nil
}

// Delete clears the retained message for topic, if any.
func (rm *RetainedManager) Delete(ctx context.Context, topic string) error {
	rm.mu.Lock()
	delete(rm.messages, topic)
	rm.mu.Unlock()

	if rm.backend != nil {
		return rm.backend.Remove(ctx, topic)
	}
	return nil
}

// Match returns every retained message whose topic matches topicFilter, for
// redelivery to a new SUBSCRIBE (section 3.8.4).
func (rm *RetainedManager) Match(ctx context.Context, topicFilter string) ([]*message.ApplicationMessage, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	result := make([]*message.ApplicationMessage, 0)
	for topic, msg := range rm.messages {
		if MatchFilter(topicFilter, topic) {
			result = append(result, msg)
		}
	}
	return result, nil
}

// Count returns the number of topics currently holding a retained message.
func (rm *RetainedManager) Count(ctx context.Context) (int64, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return int64(len(rm.messages)), nil
}

func (rm *RetainedManager) cleanupLoop() {
	defer rm.wg.Done()

	for {
		select {
		case <-rm.cleanupTicker.C:
			rm.cleanup()
		case <-rm.stopCh:
			return
		}
	}
}

func (rm *RetainedManager) cleanup() {
	if rm.maxAge == 0 {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-rm.maxAge)
	var expired []string
	for topic, msg := range rm.messages {
		if msg.CreatedAt.Before(cutoff) {
			delete(rm.messages, topic)
			expired = append(expired, topic)
			removed++
		}
	}
	if rm.backend != nil {
		for _, topic := range expired {
			_ = rm.backend.Remove(context.Background(), topic)
		}
	}
	if removed > 0 && rm.onCleanup != nil {
		rm.onCleanup(removed)
	}
}

// Close stops the background sweep and releases the backend, if any.
func (rm *RetainedManager) Close() error {
	close(rm.stopCh)
	rm.cleanupTicker.Stop()
	rm.wg.Wait()
	if rm.backend != nil {
		return rm.backend.Close()
	}
	return nil
}
