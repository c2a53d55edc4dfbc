package network

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// Backoff yields the wait between reconnect attempts: exponential with
// full jitter, capped at Max. The zero value is usable and gives
// 500ms..30s over unlimited attempts.
type Backoff struct {
	// Initial is the first wait; defaults to 500ms.
	Initial time.Duration
	// Max caps the wait; defaults to 30s.
	Max time.Duration
	// MaxAttempts bounds the number of backoff waits, i.e. the redials
	// after the first failed dial; 0 means retry forever (until the
	// context expires).
	MaxAttempts int

	attempt int
}

func (b *Backoff) next() (time.Duration, bool) {
	if b.MaxAttempts > 0 && b.attempt >= b.MaxAttempts {
		return 0, false
	}

	initial := b.Initial
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}

	d := initial << b.attempt
	if d > max || d <= 0 {
		d = max
	}
	b.attempt++

	// Full jitter: spread simultaneous reconnectors apart.
	return time.Duration(rand.Int63n(int64(d)) + 1), true
}

// Reset rewinds the backoff after a successful connection.
func (b *Backoff) Reset() { b.attempt = 0 }

// Attempt returns the number of backoff waits handed out since the last
// Reset.
func (b *Backoff) Attempt() int { return b.attempt }

// Dialer redials one broker address until a connection sticks, sleeping
// per its Backoff between attempts. It is the client-side counterpart of
// the listener: the session-resume path runs on top of whatever
// connection this eventually returns.
type Dialer struct {
	Address string
	// TLS, when non-nil, dials through crypto/tls.
	TLS *tls.Config
	// Timeout bounds each individual dial attempt; defaults to 10s.
	Timeout time.Duration
	Backoff Backoff
}

// Dial attempts to connect until it succeeds, the backoff's MaxAttempts
// is exhausted (ErrDialGaveUp), or ctx expires.
func (d *Dialer) Dial(ctx context.Context) (*Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var lastErr error
	for {
		nc, err := d.dialOnce(ctx, timeout)
		if err == nil {
			d.Backoff.Reset()
			return WrapConn(nc, d.Address), nil
		}
		lastErr = err

		wait, ok := d.Backoff.next()
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrDialGaveUp, lastErr)
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *Dialer) dialOnce(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nd := &net.Dialer{}
	if d.TLS != nil {
		td := &tls.Dialer{NetDialer: nd, Config: d.TLS}
		return td.DialContext(dialCtx, "tcp", d.Address)
	}
	return nd.DialContext(dialCtx, "tcp", d.Address)
}
