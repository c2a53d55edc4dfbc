package network

import "errors"

var (
	ErrListenerClosed  = errors.New("network: listener closed")
	ErrTooManyConns    = errors.New("network: connection limit reached")
	ErrRegistryClosed  = errors.New("network: registry closed")
	ErrUnknownConn     = errors.New("network: unknown connection")
	ErrMissingCertPair = errors.New("network: certfile and keyfile required")
	ErrDialGaveUp      = errors.New("network: dial attempts exhausted")
)
