package broker

import "errors"

var (
	ErrNoListeners          = errors.New("broker: no listeners configured")
	ErrUnknownListenerType  = errors.New("broker: unknown listener type")
	ErrExpectedConnect      = errors.New("broker: expected CONNECT as first packet")
	ErrConnectTimeout       = errors.New("broker: timed out waiting for CONNECT")
	ErrIdentifierRejected   = errors.New("broker: client id rejected")
	ErrUnacceptableProtocol = errors.New("broker: unacceptable protocol name or version")
	ErrNotAuthorized        = errors.New("broker: connection not authorized")
	ErrMalformedConnect     = errors.New("broker: malformed CONNECT packet")
)
