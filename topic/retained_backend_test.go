package topic

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
)

func TestPebbleRetainedBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	be, err := NewPebbleRetainedBackend(t.TempDir())
	require.NoError(t, err)
	defer be.Close()

	msg := message.New("sensors/1", []byte("42"), packet.QoS1, true)
	require.NoError(t, be.Store(ctx, "sensors/1", msg))

	all, err := be.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []byte("42"), all["sensors/1"].Payload)
	assert.Equal(t, packet.QoS1, all["sensors/1"].QoS)
	assert.True(t, all["sensors/1"].Retain)

	require.NoError(t, be.Remove(ctx, "sensors/1"))
	all, err = be.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPebbleRetainedBackendSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	be, err := NewPebbleRetainedBackend(dir)
	require.NoError(t, err)
	require.NoError(t, be.Store(ctx, "a/b", message.New("a/b", []byte("x"), packet.QoS0, true)))
	require.NoError(t, be.Close())

	reopened, err := NewPebbleRetainedBackend(dir)
	require.NoError(t, err)
	defer reopened.Close()

	all, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, all, "a/b")
	assert.Equal(t, []byte("x"), all["a/b"].Payload)
}

func TestPebbleRetainedBackendClosed(t *testing.T) {
	be, err := NewPebbleRetainedBackend(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, be.Close())

	ctx := context.Background()
	assert.ErrorIs(t, be.Store(ctx, "t", message.New("t", []byte("x"), packet.QoS0, true)), ErrRetainedBackendClosed)
	_, err = be.LoadAll(ctx)
	assert.ErrorIs(t, err, ErrRetainedBackendClosed)
	assert.ErrorIs(t, be.Close(), ErrRetainedBackendClosed)
}

func TestOpenRetainedManagerPreloadsBackend(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// First life: store a retained message through the manager.
	be, err := NewPebbleRetainedBackend(dir)
	require.NoError(t, err)
	rm, err := OpenRetainedManager(ctx, &RetainedConfig{Backend: be})
	require.NoError(t, err)

	require.NoError(t, rm.Set(ctx, "sensors/1", message.New("sensors/1", []byte("42"), packet.QoS0, true)))
	require.NoError(t, rm.Close())

	// Second life: the entry is there before any publish happens.
	be2, err := NewPebbleRetainedBackend(dir)
	require.NoError(t, err)
	rm2, err := OpenRetainedManager(ctx, &RetainedConfig{Backend: be2})
	require.NoError(t, err)
	defer rm2.Close()

	msg, err := rm2.Get(ctx, "sensors/1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []byte("42"), msg.Payload)
}

func TestOpenRetainedManagerWriteThroughDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	be, err := NewPebbleRetainedBackend(dir)
	require.NoError(t, err)
	rm, err := OpenRetainedManager(ctx, &RetainedConfig{Backend: be})
	require.NoError(t, err)

	require.NoError(t, rm.Set(ctx, "a/b", message.New("a/b", []byte("x"), packet.QoS0, true)))
	// A retained publish with an empty payload clears the entry — in the
	// backend too.
	require.NoError(t, rm.Set(ctx, "a/b", message.New("a/b", nil, packet.QoS0, true)))
	require.NoError(t, rm.Close())

	be2, err := NewPebbleRetainedBackend(dir)
	require.NoError(t, err)
	defer be2.Close()
	all, err := be2.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOpenRetainedManagerRequiresBackend(t *testing.T) {
	_, err := OpenRetainedManager(context.Background(), nil)
	assert.Error(t, err)
	_, err = OpenRetainedManager(context.Background(), &RetainedConfig{})
	assert.Error(t, err)
}

func TestRedisRetainedBackendRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	be, err := NewRedisRetainedBackend(RedisRetainedConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	defer be.Close()

	ctx := context.Background()
	t.Cleanup(func() {
		all, _ := be.LoadAll(ctx)
		for topic := range all {
			_ = be.Remove(ctx, topic)
		}
	})

	msg := message.New("r/1", []byte("v"), packet.QoS2, true)
	msg.CreatedAt = time.Now().Truncate(time.Millisecond)
	require.NoError(t, be.Store(ctx, "r/1", msg))

	all, err := be.LoadAll(ctx)
	require.NoError(t, err)
	require.Contains(t, all, "r/1")
	assert.Equal(t, []byte("v"), all["r/1"].Payload)
	assert.Equal(t, packet.QoS2, all["r/1"].QoS)

	require.NoError(t, be.Remove(ctx, "r/1"))
	all, err = be.LoadAll(ctx)
	require.NoError(t, err)
	assert.NotContains(t, all, "r/1")
}
