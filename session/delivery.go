package session

import (
	"context"

	"github.com/driftmq/mqtt/message"
)

// Deliver appends msg to the session's FIFO queue of received messages
// awaiting the application and wakes one TakeNextDelivery waiter.
func (s *Session) Deliver(msg *message.ApplicationMessage) {
	s.mu.Lock()
	s.delivery = append(s.delivery, msg)
	s.mu.Unlock()

	select {
	case s.deliveryCh <- struct{}{}:
	default:
	}
}

// TakeNextDelivery blocks until a received message is available and
// returns the oldest one. Receipt order is preserved.
func (s *Session) TakeNextDelivery(ctx context.Context) (*message.ApplicationMessage, error) {
	for {
		s.mu.Lock()
		if len(s.delivery) > 0 {
			msg := s.delivery[0]
			s.delivery = s.delivery[1:]
			remaining := len(s.delivery) > 0
			s.mu.Unlock()

			// Hand the wakeup on so a second waiter is not left asleep
			// with messages still queued.
			if remaining {
				select {
				case s.deliveryCh <- struct{}{}:
				default:
				}
			}
			return msg, nil
		}
		s.mu.Unlock()

		select {
		case <-s.deliveryCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// DeliveryBacklog returns the number of received messages the application
// has not yet taken.
func (s *Session) DeliveryBacklog() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.delivery)
}
