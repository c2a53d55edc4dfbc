package topic

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/driftmq/mqtt/message"
)

// pebbleRetainedKeyspace keeps retained entries apart from any session
// snapshots sharing the same database.
const pebbleRetainedKeyspace = "retained/"

// PebbleRetainedBackend persists retained messages in an embedded Pebble
// database.
type PebbleRetainedBackend struct {
	db     *pebble.DB
	owned  bool
	closed atomic.Bool
}

// NewPebbleRetainedBackend opens (or creates) the database at path.
func NewPebbleRetainedBackend(path string) (*PebbleRetainedBackend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleRetainedBackend{db: db, owned: true}, nil
}

// NewPebbleRetainedBackendFromDB shares an already-open database, e.g.
// with the Pebble session store.
func NewPebbleRetainedBackendFromDB(db *pebble.DB) *PebbleRetainedBackend {
	return &PebbleRetainedBackend{db: db}
}

func pebbleRetainedKey(topic string) []byte {
	return append([]byte(pebbleRetainedKeyspace), topic...)
}

func (p *PebbleRetainedBackend) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed.Load() {
		return ErrRetainedBackendClosed
	}
	return nil
}

func (p *PebbleRetainedBackend) Store(ctx context.Context, topic string, msg *message.ApplicationMessage) error {
	if err := p.guard(ctx); err != nil {
		return err
	}
	value, err := encodeRetained(topic, msg)
	if err != nil {
		return err
	}
	return p.db.Set(pebbleRetainedKey(topic), value, pebble.Sync)
}

func (p *PebbleRetainedBackend) Remove(ctx context.Context, topic string) error {
	if err := p.guard(ctx); err != nil {
		return err
	}
	return p.db.Delete(pebbleRetainedKey(topic), pebble.Sync)
}

func (p *PebbleRetainedBackend) LoadAll(ctx context.Context) (map[string]*message.ApplicationMessage, error) {
	if err := p.guard(ctx); err != nil {
		return nil, err
	}

	lower := []byte(pebbleRetainedKeyspace)
	upper := append([]byte(pebbleRetainedKeyspace[:len(pebbleRetainedKeyspace)-1]), pebbleRetainedKeyspace[len(pebbleRetainedKeyspace)-1]+1)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]*message.ApplicationMessage)
	for iter.First(); iter.Valid(); iter.Next() {
		topic, msg, err := decodeRetained(iter.Value())
		if err != nil {
			// A corrupt entry loses one retained message, not the broker.
			continue
		}
		out[topic] = msg
	}
	return out, iter.Error()
}

func (p *PebbleRetainedBackend) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrRetainedBackendClosed
	}
	if p.owned {
		return p.db.Close()
	}
	return nil
}
