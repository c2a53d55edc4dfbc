package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ListenerConfig configures one accept loop.
type ListenerConfig struct {
	// Address is the host:port to bind.
	Address string
	// TLS, when non-nil, wraps the listener with crypto/tls.
	TLS *tls.Config
	// MaxConnections caps the live connections this listener admits;
	// 0 means unlimited.
	MaxConnections int
	// TCPKeepAlive is applied to accepted TCP connections when nonzero.
	TCPKeepAlive time.Duration
}

// Handler is invoked on its own goroutine for each admitted connection
// and owns the connection until it returns; the listener removes the
// connection from its registry afterwards.
type Handler func(conn *Conn)

// Listener accepts connections on one address and runs the configured
// Handler per connection. Connections beyond MaxConnections are closed
// immediately after accept.
type Listener struct {
	cfg     ListenerConfig
	handler Handler

	ln    net.Listener
	conns *Registry

	seq      atomic.Uint64
	accepted atomic.Uint64
	rejected atomic.Uint64

	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewListener binds cfg.Address (with TLS when configured) and returns a
// listener ready for Serve. The bind happens here, not in Serve, so a
// bad address or busy port fails fast at startup.
func NewListener(cfg ListenerConfig, handler Handler) (*Listener, error) {
	if handler == nil {
		return nil, fmt.Errorf("network: listener %s: nil handler", cfg.Address)
	}

	var ln net.Listener
	var err error
	if cfg.TLS != nil {
		ln, err = tls.Listen("tcp", cfg.Address, cfg.TLS)
	} else {
		ln, err = net.Listen("tcp", cfg.Address)
	}
	if err != nil {
		return nil, fmt.Errorf("network: bind %s: %w", cfg.Address, err)
	}

	return &Listener{
		cfg:     cfg,
		handler: handler,
		ln:      ln,
		conns:   NewRegistry(cfg.MaxConnections),
	}, nil
}

// Serve runs the accept loop on its own goroutine and returns
// immediately.
func (l *Listener) Serve() {
	l.wg.Add(1)
	go l.acceptLoop()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Transient accept failure; the listener itself is still up.
			continue
		}

		if tc, ok := nc.(*net.TCPConn); ok && l.cfg.TCPKeepAlive > 0 {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(l.cfg.TCPKeepAlive)
		}

		conn := WrapConn(nc, l.nextID())
		if err := l.conns.Add(conn); err != nil {
			_ = conn.Close()
			l.rejected.Add(1)
			continue
		}
		l.accepted.Add(1)

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handler(conn)
			_ = l.conns.Remove(conn.ID())
		}()
	}
}

func (l *Listener) nextID() string {
	return fmt.Sprintf("%s#%d", l.cfg.Address, l.seq.Add(1))
}

// Addr returns the bound address, useful when Address was ":0".
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Stats reports accept-loop counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Accepted: l.accepted.Load(),
		Rejected: l.rejected.Load(),
		Live:     l.conns.Len(),
	}
}

// ListenerStats is a point-in-time snapshot of one listener.
type ListenerStats struct {
	Accepted uint64
	Rejected uint64
	Live     int
}

// Close stops accepting, closes every live connection, and waits for all
// per-connection handlers to return.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.ln.Close()
		_ = l.conns.Close()
		l.wg.Wait()
	})
	return err
}
