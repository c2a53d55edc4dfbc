package client

import (
	"context"
	"fmt"

	"github.com/driftmq/mqtt/network"
	"github.com/driftmq/mqtt/session"
)

// Dial connects to the broker behind d — redialing with backoff until a
// TCP/TLS connection sticks — then runs the MQTT CONNECT handshake with a
// fresh session.
func Dial(ctx context.Context, d *network.Dialer, cfg Config) (*Client, error) {
	conn, err := d.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", d.Address, err)
	}
	return Connect(ctx, conn, cfg)
}

// Redial re-establishes a dropped clean-session=false connection: it
// dials with backoff, then resumes the existing session so in-flight QoS
// 1/2 handshakes are re-transmitted rather than abandoned.
func Redial(ctx context.Context, d *network.Dialer, cfg Config, sess *session.Session) (*Client, error) {
	conn, err := d.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: redial %s: %w", d.Address, err)
	}
	return Resume(ctx, conn, cfg, sess)
}
