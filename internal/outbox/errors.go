package outbox

import "errors"

var (
	ErrTxRequired         = errors.New("outbox: append requires an ambient transaction")
	ErrEventNotFound      = errors.New("outbox: event not found")
	ErrDuplicateEvent     = errors.New("outbox: duplicate event id")
	ErrTransitionConflict = errors.New("outbox: status transition not allowed")
	ErrUnknownEventType   = errors.New("outbox: no handler for event type")
	ErrAggregateNotFound  = errors.New("outbox: aggregate not found")
	ErrHandlerRegistered  = errors.New("outbox: handler already registered")
	ErrInvalidEvent       = errors.New("outbox: invalid event")
)
