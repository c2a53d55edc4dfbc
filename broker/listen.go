package broker

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"github.com/driftmq/mqtt/config"
	"github.com/driftmq/mqtt/network"
)

// Listen starts every configured listener and blocks until ctx is cancelled, closing all of them on the way
// out. Each accepted connection is handed to Broker.AcceptConn on its own
// goroutine by the underlying transport (network.Listener for tcp/tls, an
// http.Server handler for ws/wss).
func (b *Broker) Listen(ctx context.Context) error {
	if len(b.cfg.Listeners) == 0 {
		return ErrNoListeners
	}

	var closers []func() error

	for name, lc := range b.cfg.Listeners {
		switch lc.Type {
		case "tcp", "tls":
			nl, err := b.startStreamListener(ctx, lc)
			if err != nil {
				b.closeAll(closers)
				return fmt.Errorf("broker: listener %q: %w", name, err)
			}
			closers = append(closers, nl.Close)

		case "ws", "wss":
			srv, err := b.startWebSocketListener(ctx, lc)
			if err != nil {
				b.closeAll(closers)
				return fmt.Errorf("broker: listener %q: %w", name, err)
			}
			closers = append(closers, func() error { return srv.Close() })

		default:
			b.closeAll(closers)
			return fmt.Errorf("broker: listener %q: %w", name, ErrUnknownListenerType)
		}
	}

	<-ctx.Done()
	b.closeAll(closers)
	return ctx.Err()
}

func (b *Broker) closeAll(closers []func() error) {
	for _, c := range closers {
		_ = c()
	}
}

// startStreamListener wires a tcp or tls listener through network.Listener,
// the raw-socket front end, with Broker.AcceptConn as its per-connection
// handler.
func (b *Broker) startStreamListener(ctx context.Context, lc config.ListenerConfig) (*network.Listener, error) {
	cfg := network.ListenerConfig{
		Address:        lc.Bind,
		MaxConnections: lc.MaxConnections,
		TCPKeepAlive:   30 * time.Second,
	}

	if lc.Type == "tls" || lc.SSL {
		tlsCfg, err := (&network.TLSConfig{CertFile: lc.CertFile, KeyFile: lc.KeyFile}).Build()
		if err != nil {
			return nil, err
		}
		cfg.TLS = tlsCfg
	}

	nl, err := network.NewListener(cfg, func(conn *network.Conn) {
		if err := b.AcceptConn(ctx, conn, conn.RemoteAddr()); err != nil {
			b.logger.Debug("connection rejected", "listener", lc.Bind, "error", err)
		}
	})
	if err != nil {
		return nil, err
	}

	nl.Serve()
	return nl, nil
}

// startWebSocketListener wires a ws or wss listener through
// nhooyr.io/websocket: each upgraded connection is wrapped
// as a net.Conn via websocket.NetConn and handed to the same
// Broker.AcceptConn path as a raw TCP connection.
func (b *Broker) startWebSocketListener(ctx context.Context, lc config.ListenerConfig) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{"mqtt"},
		})
		if err != nil {
			return
		}

		conn := websocket.NetConn(r.Context(), c, websocket.MessageBinary)
		if err := b.AcceptConn(ctx, conn, remoteAddrOf(r)); err != nil {
			b.logger.Debug("websocket connection rejected", "listener", lc.Bind, "error", err)
		}
	})

	srv := &http.Server{Addr: lc.Bind, Handler: mux}
	if lc.Type == "wss" || lc.SSL {
		tlsCfg, err := (&network.TLSConfig{CertFile: lc.CertFile, KeyFile: lc.KeyFile}).Build()
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tlsCfg
	}

	ln, err := net.Listen("tcp", lc.Bind)
	if err != nil {
		return nil, err
	}

	go func() {
		if srv.TLSConfig != nil {
			_ = srv.ServeTLS(ln, "", "")
		} else {
			_ = srv.Serve(ln)
		}
	}()

	return srv, nil
}

func remoteAddrOf(r *http.Request) net.Addr {
	addr, err := net.ResolveTCPAddr("tcp", r.RemoteAddr)
	if err != nil {
		return &net.TCPAddr{}
	}
	return addr
}
