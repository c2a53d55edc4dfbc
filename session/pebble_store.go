package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// pebbleSessKeyspace prefixes session snapshots so the same Pebble
// database can also hold the retained-message keyspace.
const pebbleSessKeyspace = "sess/"

// PebbleStore persists session snapshots in an embedded Pebble database,
// for single-process brokers whose clean-session=false sessions must
// survive a restart.
type PebbleStore struct {
	db     *pebble.DB
	owned  bool // whether Close should close db
	closed atomic.Bool
}

// NewPebbleStore opens (or creates) the database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db, owned: true}, nil
}

// NewPebbleStoreFromDB shares an already-open database, e.g. with a
// retained-message store living in the same file.
func NewPebbleStoreFromDB(db *pebble.DB) *PebbleStore {
	return &PebbleStore{db: db}
}

func (p *PebbleStore) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}

func pebbleSessKey(clientID string) []byte {
	return append([]byte(pebbleSessKeyspace), clientID...)
}

func (p *PebbleStore) Save(ctx context.Context, sess *Session) error {
	if err := p.guard(ctx); err != nil {
		return err
	}
	value, err := sess.Snapshot().Marshal()
	if err != nil {
		return err
	}
	return p.db.Set(pebbleSessKey(sess.GetClientID()), value, pebble.Sync)
}

func (p *PebbleStore) Load(ctx context.Context, clientID string) (*Session, error) {
	if err := p.guard(ctx); err != nil {
		return nil, err
	}
	value, closer, err := p.db.Get(pebbleSessKey(clientID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	defer closer.Close()

	snap, err := UnmarshalSnapshot(value)
	if err != nil {
		return nil, err
	}
	return snap.Restore(), nil
}

func (p *PebbleStore) Delete(ctx context.Context, clientID string) error {
	if err := p.guard(ctx); err != nil {
		return err
	}
	return p.db.Delete(pebbleSessKey(clientID), pebble.Sync)
}

func (p *PebbleStore) Exists(ctx context.Context, clientID string) (bool, error) {
	if err := p.guard(ctx); err != nil {
		return false, err
	}
	_, closer, err := p.db.Get(pebbleSessKey(clientID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_ = closer.Close()
	return true, nil
}

// keyspaceIter returns an iterator bounded to one key prefix.
func keyspaceIter(db *pebble.DB, prefix string) (*pebble.Iterator, error) {
	lower := []byte(prefix)
	upper := append([]byte(prefix[:len(prefix)-1]), prefix[len(prefix)-1]+1)
	return db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
}

func (p *PebbleStore) List(ctx context.Context) ([]string, error) {
	if err := p.guard(ctx); err != nil {
		return nil, err
	}
	iter, err := keyspaceIter(p.db, pebbleSessKeyspace)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		ids = append(ids, string(iter.Key()[len(pebbleSessKeyspace):]))
	}
	return ids, iter.Error()
}

func (p *PebbleStore) Count(ctx context.Context) (int64, error) {
	ids, err := p.List(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (p *PebbleStore) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrStoreClosed
	}
	if p.owned {
		return p.db.Close()
	}
	return nil
}
