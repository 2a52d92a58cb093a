package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/volc-tts-gateway/internal/audio"
	"github.com/lexiqai/volc-tts-gateway/internal/observability"
	"github.com/lexiqai/volc-tts-gateway/internal/protocol"
	"github.com/lexiqai/volc-tts-gateway/internal/segment"
)

const (
	EncodingPCM  = "pcm"
	EncodingPCMU = "pcmu"

	cleanupTimeout = 5 * time.Second
)

// SessionConfig holds everything one session needs. It is copied into the
// session, so later changes do not affect a running call.
type SessionConfig struct {
	Endpoint string
	Token    string
	Request  protocol.RequestOptions

	Threshold      int
	SourceRate     int
	OutputRate     int
	OutputEncoding string

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // zero disables the per-frame deadline

	ArtifactPath string
}

// Summary reports what a session produced. It is returned on failure too,
// describing the partial output already handed to the sink.
type Summary struct {
	SessionID  string
	RequestID  string
	State      State
	Frames     int
	AudioBytes int64 // audio payload bytes received from the server
	Segments   int   // segments that produced output for the sink
	Artifact   *audio.Artifact
}

// Session owns the socket for one synthesis call. It is not reusable.
type Session struct {
	id      string
	cfg     SessionConfig
	dialer  *websocket.Dialer
	store   segment.Store
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	state State
	ran   bool
}

// NewSession prepares an idle session. Closed segments are kept in store
// until the merge; the store is cleaned up when Run returns.
func NewSession(id string, cfg SessionConfig, store segment.Store, logger zerolog.Logger) *Session {
	if id == "" {
		id = observability.NewCorrelationID()
	}
	if store == nil {
		store = segment.NewMemoryStore()
	}
	if cfg.OutputEncoding == "" {
		cfg.OutputEncoding = EncodingPCM
	}
	return &Session{
		id:  id,
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		store:   store,
		logger:  logger,
		metrics: observability.NewSessionMetrics(id),
		state:   StateIdle,
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run synthesizes text. Every closed segment is resampled and handed to sink
// before the next frame is read. On failure the returned summary still
// describes the segments already delivered.
func (s *Session) Run(ctx context.Context, text string, sink Sink) (*Summary, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, errors.New("tts: session already used")
	}
	s.ran = true
	s.mu.Unlock()

	req := protocol.NewSynthesisRequest(s.cfg.Request, text)
	logger := observability.WithSession(s.logger, s.id, req.Request.ReqID)
	sum := &Summary{SessionID: s.id, RequestID: req.Request.ReqID, State: StateIdle}

	s.metrics.RecordSessionStart()
	defer func() {
		s.cleanup(logger)
	}()

	err := s.run(ctx, req, sink, sum, logger)
	sum.State = s.State()

	status := observability.StatusCompleted
	if err != nil {
		status = observability.StatusFailed
		if ctx.Err() != nil {
			status = observability.StatusCanceled
		}
		s.metrics.RecordError(ErrorType(err), "session")
		logger.Error().Err(err).
			Str("error_type", ErrorType(err)).
			Int("segments_delivered", sum.Segments).
			Msg("Synthesis session failed")
	} else {
		logger.Info().
			Int("segments", sum.Segments).
			Int64("audio_bytes", sum.AudioBytes).
			Int("frames", sum.Frames).
			Msg("Synthesis session completed")
	}
	s.metrics.RecordSessionEnd(status)
	return sum, err
}

func (s *Session) run(ctx context.Context, req protocol.SynthesisRequest, sink Sink, sum *Summary, logger zerolog.Logger) error {
	frame, err := req.Frame()
	if err != nil {
		s.setState(StateFailed)
		return err
	}

	conn, err := s.dial(ctx)
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	defer conn.Close()
	s.setState(StateConnected)
	logger.Debug().Str("endpoint", s.cfg.Endpoint).Msg("Connected to TTS service")

	// Closing the socket is the only way to interrupt a blocked read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if s.cfg.ReadTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		s.setState(StateFailed)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ConnectionError{Op: "write", Err: err}
	}
	s.metrics.RecordRequestSent()
	s.setState(StateStreaming)
	logger.Debug().Int("frame_bytes", len(frame)).Msg("Sent synthesis request")

	asm := segment.NewAssembler(s.cfg.Threshold)
	out := &outputStage{cfg: s.cfg, sink: sink}

	for {
		if s.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		_, raw, err := conn.ReadMessage()
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		if err != nil {
			return s.fail(asm, s.readError(ctx, err))
		}
		sum.Frames++

		resp, err := protocol.Decode(raw)
		if err != nil {
			return s.fail(asm, err)
		}
		s.metrics.RecordFrame(resp.MessageType.String())

		res, err := protocol.Interpret(resp)
		logFrame(logger, resp, res)
		if err != nil {
			var protoErr *protocol.ProtocolError
			if errors.As(err, &protoErr) {
				logger.Error().
					Uint32("code", protoErr.Code).
					Str("message", protoErr.Message).
					Msg("TTS server reported an error")
			}
			return s.fail(asm, err)
		}

		if len(res.Audio) > 0 {
			asm.Append(res.Audio)
			sum.AudioBytes += int64(len(res.Audio))
			s.metrics.RecordAudioReceived(len(res.Audio))
		}

		if seg := asm.MaybeClose(res.Terminal); seg != nil {
			if err := s.store.Put(ctx, seg); err != nil {
				return s.fail(asm, fmt.Errorf("store segment %d: %w", seg.Index, err))
			}
			n, err := out.deliver(seg)
			if err != nil {
				return s.fail(asm, err)
			}
			// A segment shorter than one output sample is carried, not delivered.
			if n > 0 {
				sum.Segments++
				s.metrics.RecordSegment(n)
			}
			logger.Debug().
				Int("segment", seg.Index).
				Int("segment_bytes", len(seg.Data)).
				Int("output_bytes", n).
				Msg("Segment closed")
		}

		if res.Terminal {
			break
		}
	}

	s.setState(StateCompleted)
	// The socket is not needed for the merge.
	conn.Close()

	if s.cfg.ArtifactPath == "" || asm.Closed() == 0 {
		return nil
	}
	segments, err := s.store.Load(ctx)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("load segments: %w", err)
	}
	format := audio.Format{SampleRate: s.cfg.SourceRate, Channels: 1, BitDepth: 16}
	artifact, err := audio.MergeSegments(segments, s.cfg.ArtifactPath, format)
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("merge segments: %w", err)
	}
	sum.Artifact = artifact
	logger.Info().
		Str("path", artifact.Path).
		Dur("duration", artifact.Duration).
		Msg("Merged session artifact")
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.Token)

	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.Endpoint, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		connErr := &ConnectionError{Op: "dial", Err: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
		}
		return nil, connErr
	}
	return conn, nil
}

// fail discards the open segment; delivered segments stay with the caller.
func (s *Session) fail(asm *segment.Assembler, err error) error {
	asm.Discard()
	s.setState(StateFailed)
	return err
}

func (s *Session) readError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w after %s", ErrTimeout, s.cfg.ReadTimeout)
	}
	return &ConnectionError{Op: "read", Err: err}
}

func (s *Session) cleanup(logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.store.Cleanup(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to clean up segment store")
	}
}

func logFrame(logger zerolog.Logger, f *protocol.ResponseFrame, res protocol.Result) {
	e := logger.Debug()
	if !e.Enabled() {
		return
	}
	e = e.Uint8("version", f.Version).
		Int("header_bytes", f.PayloadOffset()).
		Str("message_type", f.MessageType.String()).
		Str("flags", f.Flags.String()).
		Str("serialization", f.Serialization.String()).
		Str("compression", f.Compression.String()).
		Int("payload_bytes", len(f.Payload))
	if res.HasSequence {
		e = e.Int32("sequence", res.Sequence).Uint32("declared_size", res.DeclaredSize)
	}
	if len(res.Control) > 0 {
		e = e.Bytes("frontend", res.Control)
	}
	e.Bool("terminal", res.Terminal).Msg("Frame received")
}

// outputStage resamples closed segments and hands them to the sink. Segment
// boundaries fall on byte counts, so an odd trailing byte is carried into the
// next segment to keep samples aligned. Each segment is resampled on its own
// and the output length is floored, so a boundary may drop one output sample;
// the merged artifact is built from the source segments and is unaffected.
type outputStage struct {
	cfg   SessionConfig
	sink  Sink
	carry []byte
}

func (o *outputStage) deliver(seg *segment.Segment) (int, error) {
	pcm := make([]byte, 0, len(o.carry)+len(seg.Data))
	pcm = append(pcm, o.carry...)
	pcm = append(pcm, seg.Data...)
	even := len(pcm) - len(pcm)%2
	o.carry = append(o.carry[:0], pcm[even:]...)
	pcm = pcm[:even]
	if len(pcm) == 0 {
		return 0, nil
	}

	data, err := audio.Resample(pcm, o.cfg.SourceRate, o.cfg.OutputRate)
	if err != nil {
		return 0, fmt.Errorf("resample segment %d: %w", seg.Index, err)
	}
	if len(data) == 0 {
		return 0, nil
	}
	if o.cfg.OutputEncoding == EncodingPCMU {
		data, err = audio.ConvertPCMToPCMU(data, o.cfg.OutputRate, o.cfg.OutputRate)
		if err != nil {
			return 0, fmt.Errorf("encode segment %d: %w", seg.Index, err)
		}
	}

	if o.sink != nil {
		chunk := &AudioChunk{
			Data:       data,
			SampleRate: o.cfg.OutputRate,
			Channels:   1,
			Index:      seg.Index,
			Encoding:   o.cfg.OutputEncoding,
		}
		if err := o.sink(chunk); err != nil {
			return 0, fmt.Errorf("deliver segment %d: %w", seg.Index, err)
		}
	}
	return len(data), nil
}
