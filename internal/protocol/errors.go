package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFrame reports a header or length inconsistency. The stream
	// cannot be resynchronised after it.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrUnknownMessageType reports a message type this client does not handle.
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
)

// ProtocolError is an error reported by the server in an error frame.
type ProtocolError struct {
	Code    uint32
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tts server error %d: %s", e.Code, e.Message)
}
