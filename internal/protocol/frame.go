// Package protocol implements the binary framing used by the Volcengine
// streaming TTS websocket API.
//
// Every frame starts with a 4-byte header:
//
//	byte 0: protocol version (high nibble) | header size in 4-byte units (low nibble)
//	byte 1: message type (high nibble)     | message type specific flags (low nibble)
//	byte 2: serialization (high nibble)    | compression (low nibble)
//	byte 3: reserved
//
// followed by an optional header extension and the payload.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

const (
	// ProtocolVersion is the version written into every request header.
	ProtocolVersion byte = 0x1
	// DefaultHeaderSize is the header length of requests, in 4-byte units.
	DefaultHeaderSize byte = 0x1

	headerUnit      = 4
	fixedHeaderLen  = 4
	payloadSizeLen  = 4
	sequenceLen     = 4
	audioSubHeader  = sequenceLen + payloadSizeLen
	errorSubHeader  = 4 + payloadSizeLen
	requestOverhead = fixedHeaderLen + payloadSizeLen
)

// MessageType is the high nibble of header byte 1.
type MessageType byte

const (
	MessageFullClientRequest MessageType = 0x1
	MessageAudioOnly         MessageType = 0xb
	MessageFrontend          MessageType = 0xc
	MessageError             MessageType = 0xf
)

func (m MessageType) String() string {
	switch m {
	case MessageFullClientRequest:
		return "full client request"
	case MessageAudioOnly:
		return "audio-only server response"
	case MessageFrontend:
		return "frontend server response"
	case MessageError:
		return "error message from server"
	default:
		return fmt.Sprintf("unknown(0x%x)", byte(m))
	}
}

// Flags is the low nibble of header byte 1. Its meaning depends on the
// message type; for audio-only responses it describes the sequence number.
type Flags byte

const (
	FlagNoSequence       Flags = 0x0
	FlagPositiveSequence Flags = 0x1
	FlagLastMessage      Flags = 0x2
	FlagNegativeSequence Flags = 0x3
)

func (f Flags) String() string {
	switch f {
	case FlagNoSequence:
		return "no sequence number"
	case FlagPositiveSequence:
		return "sequence number > 0"
	case FlagLastMessage:
		return "last message from server (seq < 0)"
	case FlagNegativeSequence:
		return "sequence number < 0"
	default:
		return fmt.Sprintf("flags(0x%x)", byte(f))
	}
}

// Serialization is the high nibble of header byte 2.
type Serialization byte

const (
	SerializationNone   Serialization = 0x0
	SerializationJSON   Serialization = 0x1
	SerializationCustom Serialization = 0xf
)

func (s Serialization) String() string {
	switch s {
	case SerializationNone:
		return "no serialization"
	case SerializationJSON:
		return "JSON"
	case SerializationCustom:
		return "custom type"
	default:
		return fmt.Sprintf("serialization(0x%x)", byte(s))
	}
}

// Compression is the low nibble of header byte 2.
type Compression byte

const (
	CompressionNone   Compression = 0x0
	CompressionGzip   Compression = 0x1
	CompressionCustom Compression = 0xf
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "no compression"
	case CompressionGzip:
		return "gzip"
	case CompressionCustom:
		return "custom compression method"
	default:
		return fmt.Sprintf("compression(0x%x)", byte(c))
	}
}

// RequestFrame is a full client request. It is built once per synthesis
// call and never mutated afterwards.
type RequestFrame struct {
	Version       byte
	HeaderSize    byte
	MessageType   MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Reserved      byte
	Payload       []byte
}

// NewRequestFrame returns the JSON full client request for payload. The
// payload is stored as given; compression happens in MarshalBinary.
func NewRequestFrame(payload []byte, compress bool) RequestFrame {
	c := CompressionNone
	if compress {
		c = CompressionGzip
	}
	return RequestFrame{
		Version:       ProtocolVersion,
		HeaderSize:    DefaultHeaderSize,
		MessageType:   MessageFullClientRequest,
		Flags:         FlagNoSequence,
		Serialization: SerializationJSON,
		Compression:   c,
		Payload:       payload,
	}
}

// Header returns the packed 4-byte fixed header.
func (f RequestFrame) Header() [fixedHeaderLen]byte {
	return [fixedHeaderLen]byte{
		f.Version<<4 | f.HeaderSize&0x0f,
		byte(f.MessageType)<<4 | byte(f.Flags)&0x0f,
		byte(f.Serialization)<<4 | byte(f.Compression)&0x0f,
		f.Reserved,
	}
}

// MarshalBinary returns header, big-endian payload length and payload. The
// length always describes the bytes actually appended, after compression.
func (f RequestFrame) MarshalBinary() ([]byte, error) {
	body := f.Payload
	if f.Compression == CompressionGzip {
		var err error
		body, err = gzipCompress(f.Payload)
		if err != nil {
			return nil, fmt.Errorf("compress request payload: %w", err)
		}
	}

	header := f.Header()
	out := make([]byte, requestOverhead+len(body))
	copy(out, header[:])
	binary.BigEndian.PutUint32(out[fixedHeaderLen:requestOverhead], uint32(len(body)))
	copy(out[requestOverhead:], body)
	return out, nil
}

// Encode builds a full client request frame around payload.
func Encode(payload []byte, compress bool) ([]byte, error) {
	return NewRequestFrame(payload, compress).MarshalBinary()
}

// ResponseFrame is one decoded server message.
type ResponseFrame struct {
	Version         byte
	HeaderSize      byte
	MessageType     MessageType
	Flags           Flags
	Serialization   Serialization
	Compression     Compression
	Reserved        byte
	HeaderExtension []byte
	Payload         []byte
}

// PayloadOffset is where the payload starts in the raw frame.
func (f *ResponseFrame) PayloadOffset() int {
	return int(f.HeaderSize) * headerUnit
}

// Decode parses raw into a ResponseFrame. The returned frame aliases raw.
func Decode(raw []byte) (*ResponseFrame, error) {
	if len(raw) < fixedHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the fixed header", ErrMalformedFrame, len(raw))
	}

	f := &ResponseFrame{
		Version:       raw[0] >> 4,
		HeaderSize:    raw[0] & 0x0f,
		MessageType:   MessageType(raw[1] >> 4),
		Flags:         Flags(raw[1] & 0x0f),
		Serialization: Serialization(raw[2] >> 4),
		Compression:   Compression(raw[2] & 0x0f),
		Reserved:      raw[3],
	}

	if f.HeaderSize == 0 {
		return nil, fmt.Errorf("%w: header size is zero", ErrMalformedFrame)
	}
	offset := f.PayloadOffset()
	if offset > len(raw) {
		return nil, fmt.Errorf("%w: header size %d bytes exceeds frame length %d", ErrMalformedFrame, offset, len(raw))
	}

	f.HeaderExtension = raw[fixedHeaderLen:offset]
	f.Payload = raw[offset:]
	return f, nil
}

func gzipCompress(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(p); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(p []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
