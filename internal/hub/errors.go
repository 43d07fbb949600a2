package hub

import "errors"

var (
	ErrShortWrite        = errors.New("hub: short write")
	ErrNotConnected      = errors.New("hub: not connected")
	ErrNodeNotFound      = errors.New("hub: node not found")
	ErrIDSpaceExhausted  = errors.New("hub: node id space exhausted")
	ErrAlreadyRegistered = errors.New("hub: connection already registered")
	ErrUnknownConnection = errors.New("hub: connection not tracked")
	ErrServiceStopped    = errors.New("hub: service stopped")
	ErrAlreadyStarted    = errors.New("hub: service already started")
)
