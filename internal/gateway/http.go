package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/lexiqai/volc-tts-gateway/internal/config"
	"github.com/lexiqai/volc-tts-gateway/internal/protocol"
	"github.com/lexiqai/volc-tts-gateway/internal/resilience"
	"github.com/lexiqai/volc-tts-gateway/internal/tts"
)

const (
	// TrailerSynthesisError carries a failure that happened after audio was
	// already written to the response body.
	TrailerSynthesisError = "X-Synthesis-Error"
	// HeaderSessionID names the session in error responses and trailers.
	HeaderSessionID = "X-Session-Id"

	maxRequestBytes = 64 << 10
)

// SynthesizeRequest is the body of POST /v1/synthesize.
type SynthesizeRequest struct {
	Text      string `json:"text"`
	VoiceType string `json:"voice_type,omitempty"`
}

// ErrorResponse is written when a call fails before any audio.
type ErrorResponse struct {
	Error     string `json:"error"`
	Type      string `json:"type"`
	Code      uint32 `json:"code,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Server wires the caller surfaces onto an HTTP mux.
type Server struct {
	caller *Caller
	config *config.Config
	logger zerolog.Logger
}

// NewServer creates the gateway surfaces.
func NewServer(caller *Caller, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		caller: caller,
		config: cfg,
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// Register adds the synthesis routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/synthesize", s.HandleSynthesize)
	mux.HandleFunc("/streams/tts", s.HandleStream)
}

// ContentType describes the audio the gateway yields.
func ContentType(encoding string, sampleRate int) string {
	if encoding == config.EncodingPCMU {
		return fmt.Sprintf("audio/PCMU;rate=%d;channels=1", sampleRate)
	}
	return fmt.Sprintf("audio/L16;rate=%d;channels=1", sampleRate)
}

// HandleSynthesize streams one synthesis as a chunked HTTP response.
func (s *Server) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body SynthesizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&body); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Type: "bad_request"})
		return
	}
	if body.Text == "" {
		s.writeJSONError(w, http.StatusBadRequest, ErrorResponse{Error: "text is required", Type: "bad_request"})
		return
	}

	logger := s.logger.With().Str("surface", "http").Logger()
	w.Header().Set("Trailer", TrailerSynthesisError)

	rc := http.NewResponseController(w)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", ContentType(s.config.OutputEncoding, s.config.OutputSampleRate))
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
	}

	sum, err := s.caller.Synthesize(r.Context(), "http", tts.Request{Text: body.Text, VoiceType: body.VoiceType}, func(chunk *tts.AudioChunk) error {
		start()
		if _, err := w.Write(chunk.Data); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		return rc.Flush()
	})

	if err == nil {
		start()
		logger.Info().
			Str("session_id", sum.SessionID).
			Int("segments", sum.Segments).
			Msg("HTTP synthesis completed")
		return
	}

	resp := errorResponse(err, sum)
	if !started {
		if sum != nil {
			w.Header().Set(HeaderSessionID, sum.SessionID)
		}
		s.writeJSONError(w, StatusFor(err), resp)
		return
	}

	// Headers are gone; report the failure after the partial body.
	w.Header().Set(TrailerSynthesisError, fmt.Sprintf("%s: %s", resp.Type, resp.Error))
	logger.Warn().Err(err).
		Str("session_id", resp.SessionID).
		Msg("HTTP synthesis failed after partial audio")
}

func errorResponse(err error, sum *tts.Summary) ErrorResponse {
	resp := ErrorResponse{Error: err.Error(), Type: tts.ErrorType(err)}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		resp.Type = "circuit_open"
	}
	var protoErr *protocol.ProtocolError
	if errors.As(err, &protoErr) {
		resp.Code = protoErr.Code
		resp.Error = protoErr.Message
	}
	if sum != nil {
		resp.SessionID = sum.SessionID
	}
	return resp
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to write error response")
	}
}
