package squaled

import "errors"

// Sentinel errors for the taxonomy in spec.md §7.
var (
	ErrPoolNotFound      = errors.New("pool not found")
	ErrPoolClosed        = errors.New("pool is closed")
	ErrNoWorkersRunning  = errors.New("pool has no running workers")
	ErrAdmissionBlocked  = errors.New("pool admission blocked: pending queue at threshold")
	ErrProtocolTimeout   = errors.New("client protocol timeout")
	ErrFramingError      = errors.New("malformed wire frame")
)
