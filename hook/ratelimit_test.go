package hook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitHookAllowsWithinBudget(t *testing.T) {
	h := NewRateLimitHook(3, time.Minute)
	defer h.Stop()

	client := &Client{ClientID: "c1"}
	for i := 0; i < 3; i++ {
		assert.Equal(t, Allow, h.CheckTopic(client, "a/b", AccessPublish))
	}
	assert.Equal(t, Deny, h.CheckTopic(client, "a/b", AccessPublish))
}

func TestRateLimitHookIgnoresSubscribe(t *testing.T) {
	h := NewRateLimitHook(0, time.Minute)
	defer h.Stop()
	assert.Equal(t, Undecided, h.CheckTopic(&Client{ClientID: "c1"}, "a/b", AccessSubscribe))
}

func TestRateLimitHookResetsAfterWindow(t *testing.T) {
	h := NewRateLimitHook(1, 10*time.Millisecond)
	defer h.Stop()

	client := &Client{ClientID: "c1"}
	assert.Equal(t, Allow, h.CheckTopic(client, "a/b", AccessPublish))
	assert.Equal(t, Deny, h.CheckTopic(client, "a/b", AccessPublish))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Allow, h.CheckTopic(client, "a/b", AccessPublish))
}

func TestRateLimitHookPerClientIsolation(t *testing.T) {
	h := NewRateLimitHook(1, time.Minute)
	defer h.Stop()

	assert.Equal(t, Allow, h.CheckTopic(&Client{ClientID: "c1"}, "a/b", AccessPublish))
	assert.Equal(t, Allow, h.CheckTopic(&Client{ClientID: "c2"}, "a/b", AccessPublish))
	assert.Equal(t, 2, h.ActiveClients())
}

func TestRateLimitHookResetClient(t *testing.T) {
	h := NewRateLimitHook(1, time.Minute)
	defer h.Stop()

	client := &Client{ClientID: "c1"}
	h.CheckTopic(client, "a/b", AccessPublish)
	h.ResetClient("c1")
	assert.Equal(t, Allow, h.CheckTopic(client, "a/b", AccessPublish))
}

func TestMultiLevelRateLimitHookGlobalLimit(t *testing.T) {
	h := NewMultiLevelRateLimitHook(0, 0, 1, time.Minute)
	defer h.Stop()

	assert.Equal(t, Allow, h.CheckTopic(&Client{ClientID: "c1"}, "a/b", AccessPublish))
	assert.Equal(t, Deny, h.CheckTopic(&Client{ClientID: "c2"}, "a/b", AccessPublish))
}

func TestMultiLevelRateLimitHookPerTopicLimit(t *testing.T) {
	h := NewMultiLevelRateLimitHook(0, 1, 0, time.Minute)
	defer h.Stop()

	client := &Client{ClientID: "c1"}
	assert.Equal(t, Allow, h.CheckTopic(client, "a/b", AccessPublish))
	assert.Equal(t, Deny, h.CheckTopic(client, "a/b", AccessPublish))
	assert.Equal(t, Allow, h.CheckTopic(client, "c/d", AccessPublish))
}

func TestMultiLevelRateLimitHookPerClientLimit(t *testing.T) {
	h := NewMultiLevelRateLimitHook(1, 0, 0, time.Minute)
	defer h.Stop()

	assert.Equal(t, Allow, h.CheckTopic(&Client{ClientID: "c1"}, "a/b", AccessPublish))
	assert.Equal(t, Deny, h.CheckTopic(&Client{ClientID: "c1"}, "x/y", AccessPublish))
}
