package session

import "context"

// Store persists sessions for clean-session=false clients. The in-memory
// store survives reconnects within one process; the Pebble and Redis
// stores additionally survive process restarts.
type Store interface {
	// Save writes the session's current durable state.
	Save(ctx context.Context, sess *Session) error
	// Load rehydrates a session by client id, or ErrSessionNotFound.
	Load(ctx context.Context, clientID string) (*Session, error)
	// Delete removes a session; deleting an absent id is not an error.
	Delete(ctx context.Context, clientID string) error
	// Exists reports whether a session is stored for clientID.
	Exists(ctx context.Context, clientID string) (bool, error)
	// List returns the stored client ids, in no particular order.
	List(ctx context.Context) ([]string, error)
	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int64, error)
	// Close releases the store; every later call fails ErrStoreClosed.
	Close() error
}
