package tts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/lexiqai/volc-tts-gateway/internal/config"
	"github.com/lexiqai/volc-tts-gateway/internal/observability"
	"github.com/lexiqai/volc-tts-gateway/internal/protocol"
	"github.com/lexiqai/volc-tts-gateway/internal/segment"
)

const chunkBufferSize = 16

// VolcClient implements TTSClient against the Volcengine binary websocket
// API. Each call opens its own session and socket.
type VolcClient struct {
	config *config.Config
	alloc  segment.Allocator
	logger zerolog.Logger

	mu        sync.RWMutex
	voiceType string

	active atomic.Int32
}

// NewVolcClient creates a client. alloc provides segment storage per session;
// nil keeps segments in memory.
func NewVolcClient(cfg *config.Config, alloc segment.Allocator, logger zerolog.Logger) *VolcClient {
	if alloc == nil {
		alloc = segment.MemoryAllocator()
	}
	return &VolcClient{
		config:    cfg,
		alloc:     alloc,
		logger:    logger.With().Str("component", "volc_tts").Logger(),
		voiceType: cfg.VolcVoiceType,
	}
}

// SetVoice switches the voice for subsequent calls. Running sessions keep
// the voice they started with.
func (c *VolcClient) SetVoice(voiceType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Debug().Str("voice_type", voiceType).Msg("Switching TTS voice")
	c.voiceType = voiceType
}

// VoiceType returns the voice used when a request does not name one.
func (c *VolcClient) VoiceType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.voiceType
}

// ActiveSessions returns how many sessions are running.
func (c *VolcClient) ActiveSessions() int {
	return int(c.active.Load())
}

// SessionConfig builds the per-call session settings for req.
func (c *VolcClient) SessionConfig(sessionID string, req Request) SessionConfig {
	voiceType := req.VoiceType
	if voiceType == "" {
		voiceType = c.VoiceType()
	}
	artifact := req.ArtifactPath
	if artifact == "" && c.config.ArtifactDir != "" {
		artifact = filepath.Join(c.config.ArtifactDir, sessionID+".wav")
	}

	return SessionConfig{
		Endpoint: c.config.VolcEndpoint,
		Token:    c.config.VolcAccessToken,
		Request: protocol.RequestOptions{
			AppID:       c.config.VolcAppID,
			Cluster:     c.config.VolcCluster,
			UID:         c.config.VolcUID,
			Voice:       c.config.VolcVoice,
			VoiceType:   voiceType,
			SpeedRatio:  c.config.VolcSpeedRatio,
			VolumeRatio: c.config.VolcVolumeRatio,
			PitchRatio:  c.config.VolcPitchRatio,
		},
		Threshold:        c.config.SegmentThreshold,
		SourceRate:       c.config.SourceSampleRate,
		OutputRate:       c.config.OutputSampleRate,
		OutputEncoding:   c.config.OutputEncoding,
		HandshakeTimeout: c.config.HandshakeTimeoutDuration(),
		ReadTimeout:      c.config.FrameReadTimeoutDuration(),
		ArtifactPath:     artifact,
	}
}

// NewSession allocates storage and returns an idle session for req.
func (c *VolcClient) NewSession(req Request) (*Session, error) {
	id := observability.NewCorrelationID()
	store, err := c.alloc(id)
	if err != nil {
		return nil, fmt.Errorf("allocate segment store: %w", err)
	}
	return NewSession(id, c.SessionConfig(id, req), store, c.logger), nil
}

// Stream runs one session, delivering chunks to sink in segment order
func (c *VolcClient) Stream(ctx context.Context, req Request, sink Sink) (*Summary, error) {
	session, err := c.NewSession(req)
	if err != nil {
		return nil, err
	}

	c.active.Add(1)
	defer c.active.Add(-1)

	return session.Run(ctx, req.Text, sink)
}

// Synthesize converts text to audio and streams it. The error channel
// receives at most one value and both channels are closed when the session
// ends. Cancel ctx to abandon the call.
func (c *VolcClient) Synthesize(ctx context.Context, text string) (<-chan *AudioChunk, <-chan error) {
	audioChan := make(chan *AudioChunk, chunkBufferSize)
	errChan := make(chan error, 1)

	go func() {
		defer close(errChan)
		defer close(audioChan)

		_, err := c.Stream(ctx, Request{Text: text}, func(chunk *AudioChunk) error {
			select {
			case audioChan <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errChan <- err
		}
	}()

	return audioChan, errChan
}

// SynthesizeFile runs one session without a sink and merges it into a WAV
// file at path.
func (c *VolcClient) SynthesizeFile(ctx context.Context, text, path string) (*Summary, error) {
	return c.Stream(ctx, Request{Text: text, ArtifactPath: path}, nil)
}
