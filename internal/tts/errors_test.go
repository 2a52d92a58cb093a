package tts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lexiqai/volc-tts-gateway/internal/protocol"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", fmt.Errorf("%w after 1s", ErrTimeout), true},
		{"read failure", &ConnectionError{Op: "read", Err: errors.New("EOF")}, true},
		{"dial refused", &ConnectionError{Op: "dial", Err: errors.New("connection refused")}, true},
		{"unauthorized", &ConnectionError{Op: "dial", StatusCode: 401, Err: errors.New("bad handshake")}, false},
		{"server error", &protocol.ProtocolError{Code: 55, Message: "invalid voice"}, false},
		{"malformed", protocol.ErrMalformedFrame, false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("Expected IsRetryable=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestConnectionError_Message(t *testing.T) {
	err := &ConnectionError{Op: "dial", StatusCode: 403, Err: errors.New("bad handshake")}
	want := "tts connection dial failed (status 403): bad handshake"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
	if !errors.Is(err, err.Err) {
		t.Error("Expected ConnectionError to unwrap")
	}
}

func TestErrorType(t *testing.T) {
	if got := ErrorType(fmt.Errorf("wrap: %w", protocol.ErrUnknownMessageType)); got != "unknown_message_type" {
		t.Errorf("Expected unknown_message_type, got %s", got)
	}
	if got := ErrorType(errors.New("other")); got != "internal" {
		t.Errorf("Expected internal, got %s", got)
	}
}
