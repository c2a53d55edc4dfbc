package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/driftmq/mqtt/message"
)

// SysPublisher periodically publishes the $SYS/broker/... statistics
// topics (uptime, clients connected/total, messages and bytes in both
// directions) at the configured sys_interval.
type SysPublisher struct {
	broker   *Broker
	interval time.Duration

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewSysPublisher(b *Broker, interval time.Duration) *SysPublisher {
	return &SysPublisher{broker: b, interval: interval, done: make(chan struct{})}
}

func (s *SysPublisher) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *SysPublisher) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

func (s *SysPublisher) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.publishAll()
		}
	}
}

func (s *SysPublisher) publishAll() {
	b := s.broker
	ctx := context.Background()
	uptime := time.Since(b.Stats.StartedAt).Round(time.Second)

	topics := map[string]string{
		"$SYS/broker/uptime":              uptime.String(),
		"$SYS/broker/version":             "driftmq-mqtt",
		"$SYS/broker/clients/connected":   fmt.Sprintf("%d", b.Stats.ClientsConnected.Load()),
		"$SYS/broker/clients/total":       fmt.Sprintf("%d", b.Stats.ClientsTotal.Load()),
		"$SYS/broker/messages/received":   fmt.Sprintf("%d", b.Stats.MessagesReceived.Load()),
		"$SYS/broker/messages/sent":       fmt.Sprintf("%d", b.Stats.MessagesSent.Load()),
		"$SYS/broker/bytes/received":      fmt.Sprintf("%d", b.Stats.BytesReceived.Load()),
		"$SYS/broker/bytes/sent":          fmt.Sprintf("%d", b.Stats.BytesSent.Load()),
		"$SYS/broker/subscriptions/count": fmt.Sprintf("%d", b.Router.Count()),
	}

	for topic, payload := range topics {
		msg := message.New(topic, []byte(payload), 0, true)
		if err := b.deliver(ctx, "", msg); err != nil {
			b.logger.Debug("sys publish failed", "topic", topic, "error", err)
		}
	}
}
