package iso7816

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the codec, the protocol engine and the channel layer.
// Callers match them with errors.Is; most are wrapped with context.
var (
	// ErrTransportUnavailable means the secure element link is not usable right now.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrTransportFailure means the transport could not complete an exchange.
	ErrTransportFailure = errors.New("transport failure")
	// ErrChannelsNotSupported maps SW 6881.
	ErrChannelsNotSupported = errors.New("logical channels not supported")
	// ErrNoFreeChannel maps SW 6A81 on MANAGE CHANNEL open.
	ErrNoFreeChannel = errors.New("no free logical channel")
	// ErrMalformedResponse means a response could not be interpreted.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrInvalidChannelNumber means a channel number is outside the range allowed for the operation.
	ErrInvalidChannelNumber = errors.New("invalid logical channel number")
	// ErrSelectFailed means the application selection following a channel open failed.
	ErrSelectFailed = errors.New("select failed")
	// ErrProtocolViolation means the card kept signalling 61XX beyond the chaining bound.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrUnsupportedOperation is returned for features this terminal never provides.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrInvalidCommand means a command APDU cannot be encoded or decoded in short form.
	ErrInvalidCommand = errors.New("invalid command APDU")
)

// TransportError wraps an error reported by the transport collaborator.
// It matches ErrTransportFailure and unwraps to the underlying cause.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

// Unwrap exposes the transport cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransportFailure as a match.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransportFailure
}
