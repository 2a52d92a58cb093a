package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Response encoders produce server-side frames. They back the in-process
// fake servers used by session and gateway tests, and the ttsctl loopback.

// DecodeRequest parses a full client request frame back into the request
// document.
func DecodeRequest(raw []byte) (*SynthesisRequest, error) {
	f, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	if f.MessageType != MessageFullClientRequest {
		return nil, fmt.Errorf("%w: expected full client request, got %s", ErrUnknownMessageType, f.MessageType)
	}
	if len(f.Payload) < payloadSizeLen {
		return nil, fmt.Errorf("%w: request payload is %d bytes", ErrMalformedFrame, len(f.Payload))
	}
	size := binary.BigEndian.Uint32(f.Payload[:payloadSizeLen])
	body := f.Payload[payloadSizeLen:]
	if uint64(len(body)) != uint64(size) {
		return nil, fmt.Errorf("%w: request declares %d bytes, carries %d", ErrMalformedFrame, size, len(body))
	}
	if f.Compression == CompressionGzip {
		body, err = gzipDecompress(body)
		if err != nil {
			return nil, fmt.Errorf("%w: request payload: %v", ErrMalformedFrame, err)
		}
	}

	var req SynthesisRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("unmarshal synthesis request: %w", err)
	}
	return &req, nil
}

// EncodeAudio builds an audio-only response carrying seq and pcm.
func EncodeAudio(seq int32, pcm []byte) []byte {
	flags := FlagPositiveSequence
	if seq < 0 {
		flags = FlagLastMessage
	}
	out := make([]byte, fixedHeaderLen+audioSubHeader+len(pcm))
	out[0] = ProtocolVersion<<4 | DefaultHeaderSize
	out[1] = byte(MessageAudioOnly)<<4 | byte(flags)
	out[2] = byte(SerializationNone)<<4 | byte(CompressionNone)
	binary.BigEndian.PutUint32(out[4:8], uint32(seq))
	binary.BigEndian.PutUint32(out[8:12], uint32(len(pcm)))
	copy(out[12:], pcm)
	return out
}

// EncodeAck builds an audio-only acknowledgement without a sequence number.
func EncodeAck() []byte {
	return []byte{
		ProtocolVersion<<4 | DefaultHeaderSize,
		byte(MessageAudioOnly) << 4,
		0x00,
		0x00,
	}
}

// EncodeError builds an error frame, gzip-compressing message when asked.
func EncodeError(code uint32, message string, compress bool) ([]byte, error) {
	return encodeSized(MessageError, code, []byte(message), compress, true)
}

// EncodeFrontend builds a frontend (control) frame around a JSON body.
func EncodeFrontend(body []byte, compress bool) ([]byte, error) {
	return encodeSized(MessageFrontend, 0, body, compress, false)
}

func encodeSized(mt MessageType, code uint32, body []byte, compress, withCode bool) ([]byte, error) {
	c := CompressionNone
	if compress {
		c = CompressionGzip
		var err error
		body, err = gzipCompress(body)
		if err != nil {
			return nil, fmt.Errorf("compress %s body: %w", mt, err)
		}
	}

	prefix := payloadSizeLen
	if withCode {
		prefix += 4
	}
	out := make([]byte, fixedHeaderLen+prefix+len(body))
	out[0] = ProtocolVersion<<4 | DefaultHeaderSize
	out[1] = byte(mt) << 4
	out[2] = byte(SerializationJSON)<<4 | byte(c)

	off := fixedHeaderLen
	if withCode {
		binary.BigEndian.PutUint32(out[off:off+4], code)
		off += 4
	}
	binary.BigEndian.PutUint32(out[off:off+payloadSizeLen], uint32(len(body)))
	copy(out[off+payloadSizeLen:], body)
	return out, nil
}
