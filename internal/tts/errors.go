package tts

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/lexiqai/volc-tts-gateway/internal/protocol"
)

// ErrTimeout reports that no frame arrived within the per-frame read deadline.
var ErrTimeout = errors.New("tts: timed out waiting for frame")

// ConnectionError wraps handshake and transport failures, including the
// socket closing before the terminal frame.
type ConnectionError struct {
	Op         string // dial, write or read
	StatusCode int    // HTTP status of a rejected handshake, 0 otherwise
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("tts connection %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("tts connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsRetryable reports whether a caller may retry the call. Sessions never
// retry on their own. Rejected credentials are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		switch connErr.StatusCode {
		case 401, 403:
			return false
		}
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ErrorType labels err for metrics and caller responses.
func ErrorType(err error) string {
	var connErr *ConnectionError
	var protoErr *protocol.ProtocolError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &protoErr):
		return "server"
	case errors.Is(err, protocol.ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, protocol.ErrUnknownMessageType):
		return "unknown_message_type"
	default:
		return "internal"
	}
}
