package topic

import "errors"

var ErrRetainedBackendClosed = errors.New("topic: retained backend closed")
