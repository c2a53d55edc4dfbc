package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftmq/mqtt/message"
	"github.com/driftmq/mqtt/packet"
)

func TestDeliveryFIFO(t *testing.T) {
	s := New("c1", true, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		s.Deliver(message.New(fmt.Sprintf("t/%d", i), []byte{byte(i)}, packet.QoS0, false))
	}
	assert.Equal(t, 5, s.DeliveryBacklog())

	for i := 0; i < 5; i++ {
		msg, err := s.TakeNextDelivery(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("t/%d", i), msg.Topic)
	}
	assert.Zero(t, s.DeliveryBacklog())
}

func TestTakeNextDeliveryBlocksUntilDeliver(t *testing.T) {
	s := New("c1", true, 0)

	got := make(chan *message.ApplicationMessage, 1)
	go func() {
		msg, err := s.TakeNextDelivery(context.Background())
		if err == nil {
			got <- msg
		}
	}()

	select {
	case <-got:
		t.Fatal("TakeNextDelivery returned before anything was delivered")
	case <-time.After(50 * time.Millisecond):
	}

	s.Deliver(message.New("late", []byte("x"), packet.QoS0, false))

	select {
	case msg := <-got:
		assert.Equal(t, "late", msg.Topic)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestTakeNextDeliveryContextCancel(t *testing.T) {
	s := New("c1", true, 0)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.TakeNextDelivery(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter ignored cancellation")
	}
}

func TestDeliveryTwoWaitersBothServed(t *testing.T) {
	s := New("c1", true, 0)
	ctx := context.Background()

	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			msg, err := s.TakeNextDelivery(ctx)
			if err == nil {
				results <- msg.Topic
			}
		}()
	}

	s.Deliver(message.New("a", nil, packet.QoS0, false))
	s.Deliver(message.New("b", nil, packet.QoS0, false))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case topic := <-results:
			seen[topic] = true
		case <-time.After(2 * time.Second):
			t.Fatal("a waiter starved")
		}
	}
	assert.True(t, seen["a"] && seen["b"])
}

func TestClearDropsDeliveryBacklog(t *testing.T) {
	s := New("c1", true, 0)
	s.Deliver(message.New("t", nil, packet.QoS0, false))
	require.Equal(t, 1, s.DeliveryBacklog())

	s.Clear()
	assert.Zero(t, s.DeliveryBacklog())
}
