package protocol

import (
	"context"
	"time"
)

// keepaliveSender is the client side of the keepalive rule: it sends a
// PINGREQ once every KeepAlive period. Other outgoing packets do not
// postpone it; it does not track when the last packet was sent.
func (h *Handler) keepaliveSender(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.keepAlive)
			err := h.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.Warn("keepalive ping failed, stopping handler", "error", err)
				_ = h.Stop()
				return
			}
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

// keepaliveMonitor is the broker side: traffic must arrive within
// KeepAlive * 1.5 or the connection is closed with a protocol error.
func (h *Handler) keepaliveMonitor(ctx context.Context) {
	defer h.wg.Done()

	timeout := time.Duration(float64(h.keepAlive) * 1.5)
	ticker := time.NewTicker(h.keepAlive / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			last := time.Unix(0, h.lastRecv.Load())
			if time.Since(last) > timeout {
				h.logger.Warn("keep-alive timeout, closing connection", "timeout", timeout)
				_ = h.Stop()
				return
			}
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}
