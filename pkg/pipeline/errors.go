package pipeline

import "errors"

var (
	// ErrMalformedEnvelope is returned when MQTT payload bytes are not a usable ServiceEnvelope.
	ErrMalformedEnvelope = errors.New("malformed service envelope")
	// ErrDuplicatePacket signals that a packet id was already processed.
	ErrDuplicatePacket = errors.New("duplicate packet")
	// ErrHandlerFailure wraps any error or panic raised by a port handler.
	ErrHandlerFailure = errors.New("handler failure")

	ErrPoolClosed = errors.New("worker pool closed")
)
