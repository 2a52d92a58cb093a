package protocol

import (
	"encoding/binary"
	"fmt"
)

// Result is what a single response frame contributes to the stream.
type Result struct {
	MessageType MessageType

	// Audio holds PCM bytes carried by an audio-only frame; empty otherwise.
	Audio []byte

	// Sequence is only meaningful when HasSequence is set.
	Sequence     int32
	DeclaredSize uint32
	HasSequence  bool

	// Control is the decompressed frontend payload. It is metadata, not audio.
	Control []byte

	// Terminal is set when the caller must stop reading from the socket.
	Terminal bool
}

// Interpret classifies a decoded frame. Error frames yield a *ProtocolError
// and unknown message types wrap ErrUnknownMessageType; both end the stream.
func Interpret(f *ResponseFrame) (Result, error) {
	res := Result{MessageType: f.MessageType}

	switch f.MessageType {
	case MessageAudioOnly:
		if f.Flags == FlagNoSequence {
			// ack
			return res, nil
		}
		if len(f.Payload) < audioSubHeader {
			return res, fmt.Errorf("%w: audio payload is %d bytes, need %d for sequence header",
				ErrMalformedFrame, len(f.Payload), audioSubHeader)
		}
		res.HasSequence = true
		res.Sequence = int32(binary.BigEndian.Uint32(f.Payload[0:sequenceLen]))
		res.DeclaredSize = binary.BigEndian.Uint32(f.Payload[sequenceLen:audioSubHeader])
		res.Audio = f.Payload[audioSubHeader:]
		if uint64(len(res.Audio)) != uint64(res.DeclaredSize) {
			return res, fmt.Errorf("%w: audio payload declares %d bytes, carries %d",
				ErrMalformedFrame, res.DeclaredSize, len(res.Audio))
		}
		res.Terminal = res.Sequence < 0
		return res, nil

	case MessageFrontend:
		if len(f.Payload) < payloadSizeLen {
			return res, fmt.Errorf("%w: frontend payload is %d bytes", ErrMalformedFrame, len(f.Payload))
		}
		body := f.Payload[payloadSizeLen:]
		if f.Compression == CompressionGzip {
			var err error
			body, err = gzipDecompress(body)
			if err != nil {
				return res, fmt.Errorf("%w: frontend payload: %v", ErrMalformedFrame, err)
			}
		}
		res.Control = body
		return res, nil

	case MessageError:
		res.Terminal = true
		if len(f.Payload) < errorSubHeader {
			return res, fmt.Errorf("%w: error payload is %d bytes", ErrMalformedFrame, len(f.Payload))
		}
		code := binary.BigEndian.Uint32(f.Payload[0:4])
		msg := f.Payload[errorSubHeader:]
		if f.Compression == CompressionGzip {
			var err error
			msg, err = gzipDecompress(msg)
			if err != nil {
				return res, fmt.Errorf("%w: error message: %v", ErrMalformedFrame, err)
			}
		}
		return res, &ProtocolError{Code: code, Message: string(msg)}

	default:
		res.Terminal = true
		return res, fmt.Errorf("%w: 0x%x", ErrUnknownMessageType, byte(f.MessageType))
	}
}
