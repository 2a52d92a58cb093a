package tts

import "context"

// AudioChunk is one closed segment after resampling, ready for the caller
type AudioChunk struct {
	Data       []byte // 16-bit little-endian PCM, or μ-law when Encoding is "pcmu"
	SampleRate int    // Sample rate in Hz
	Channels   int    // Number of channels (1 for mono)
	Index      int    // Segment index within the session
	Encoding   string // "pcm" or "pcmu"
}

// Request is one synthesis call
type Request struct {
	Text string

	// VoiceType overrides the client's current voice for this call only.
	VoiceType string

	// ArtifactPath receives the merged WAV when the session completes.
	// Empty falls back to the client's artifact directory, if any.
	ArtifactPath string
}

// Sink receives each chunk in segment order. Returning an error fails the session.
type Sink func(*AudioChunk) error

// TTSClient defines the interface for a Text-to-Speech client
type TTSClient interface {
	// Stream runs one session and hands every chunk to sink before returning
	Stream(ctx context.Context, req Request, sink Sink) (*Summary, error)

	// Synthesize converts text to audio and streams it
	Synthesize(ctx context.Context, text string) (<-chan *AudioChunk, <-chan error)

	// SetVoice changes the voice used by later calls
	SetVoice(voiceType string)
}

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateConnected
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
