package topic

import (
	"context"
	"sync"

	"github.com/driftmq/mqtt/message"
)

// Router manages the broker-wide set of subscriptions, matches publishes
// against them (section 4.7), and holds the one retained store the whole
// broker shares, since a subscription match and a retained lookup are
// always driven by the same topic filter.
type Router struct {
	trie          *Trie
	subscriptions map[string]map[string]*Subscription // clientID -> filter -> Subscription
	retained      *RetainedManager
	mu            sync.RWMutex
}

// NewRouter creates a new topic router with its own in-memory retained
// message store.
func NewRouter() *Router {
	return NewRouterWithRetained(NewRetainedManager(nil))
}

// NewRouterWithRetained creates a router around an existing retained
// store, e.g. one opened over a Pebble or Redis backend.
func NewRouterWithRetained(retained *RetainedManager) *Router {
	if retained == nil {
		retained = NewRetainedManager(nil)
	}
	return &Router{
		trie:          NewTrie(),
		subscriptions: make(map[string]map[string]*Subscription),
		retained:      retained,
	}
}

// SetRetainedMessage stores or clears the retained message for a topic.
func (r *Router) SetRetainedMessage(ctx context.Context, topic string, msg *message.ApplicationMessage) error {
	return r.retained.Set(ctx, topic, msg)
}

// GetRetainedMessages returns every retained message matching topicFilter,
// for SUBSCRIBE redelivery (section 3.8.4).
func (r *Router) GetRetainedMessages(ctx context.Context, topicFilter string) ([]*message.ApplicationMessage, error) {
	return r.retained.Match(ctx, topicFilter)
}

// DeleteRetainedMessage clears the retained message for a topic.
func (r *Router) DeleteRetainedMessage(ctx context.Context, topic string) error {
	return r.retained.Delete(ctx, topic)
}

// RetainedMessageCount returns the number of topics with a retained message.
func (r *Router) RetainedMessageCount(ctx context.Context) (int64, error) {
	return r.retained.Count(ctx)
}

// Close stops the retained store's background sweep.
func (r *Router) Close() error {
	return r.retained.Close()
}

// Subscribe adds a subscription to the router.
func (r *Router) Subscribe(sub *Subscription) error {
	if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
		return err
	}

	subInfo := SubscriberInfo{
		ClientID: sub.ClientID,
		QoS:      sub.QoS,
	}

	if err := r.trie.Subscribe(sub.TopicFilter, subInfo); err != nil {
		return err
	}

	r.mu.Lock()
	if r.subscriptions[sub.ClientID] == nil {
		r.subscriptions[sub.ClientID] = make(map[string]*Subscription)
	}
	r.subscriptions[sub.ClientID][sub.TopicFilter] = sub
	r.mu.Unlock()

	return nil
}

// Unsubscribe removes a subscription from the router.
func (r *Router) Unsubscribe(clientID, filter string) bool {
	found := r.trie.Unsubscribe(filter, clientID)

	r.mu.Lock()
	if clientSubs, ok := r.subscriptions[clientID]; ok {
		delete(clientSubs, filter)
		if len(clientSubs) == 0 {
			delete(r.subscriptions, clientID)
		}
	}
	r.mu.Unlock()

	return found
}

// UnsubscribeAll removes all subscriptions for a client, e.g. on disconnect
// of a clean-session client.
func (r *Router) UnsubscribeAll(clientID string) int {
	r.mu.Lock()
	clientSubs, ok := r.subscriptions[clientID]
	if !ok {
		r.mu.Unlock()
		return 0
	}

	filters := make([]string, 0, len(clientSubs))
	for filter := range clientSubs {
		filters = append(filters, filter)
	}
	delete(r.subscriptions, clientID)
	r.mu.Unlock()

	count := 0
	for _, filter := range filters {
		if r.Unsubscribe(clientID, filter) {
			count++
		}
	}

	return count
}

// Match finds all subscribers for a topic.
func (r *Router) Match(topic string) []SubscriberInfo {
	return r.trie.Match(topic)
}

// GetSubscription retrieves a specific subscription.
func (r *Router) GetSubscription(clientID, filter string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if clientSubs, ok := r.subscriptions[clientID]; ok {
		sub, ok := clientSubs[filter]
		return sub, ok
	}
	return nil, false
}

// GetClientSubscriptions retrieves all subscriptions for a client.
func (r *Router) GetClientSubscriptions(clientID string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clientSubs, ok := r.subscriptions[clientID]
	if !ok {
		return nil
	}

	result := make([]*Subscription, 0, len(clientSubs))
	for _, sub := range clientSubs {
		result = append(result, sub)
	}
	return result
}

// Count returns the total number of subscriptions.
func (r *Router) Count() int {
	return r.trie.Count()
}

// CountClients returns the number of clients with subscriptions.
func (r *Router) CountClients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions)
}

// Clear removes all subscriptions.
func (r *Router) Clear() {
	r.mu.Lock()
	r.subscriptions = make(map[string]map[string]*Subscription)
	r.mu.Unlock()
	r.trie.Clear()
}
