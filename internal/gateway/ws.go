package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/volc-tts-gateway/internal/protocol"
	"github.com/lexiqai/volc-tts-gateway/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Callers are internal services; origin is not checked.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 32 << 10,
}

// Client and server events on /streams/tts.
const (
	EventSynthesize = "synthesize"
	EventCancel     = "cancel"
	EventStarted    = "started"
	EventDone       = "done"
	EventError      = "error"
)

// ClientMessage is a JSON text message sent by the websocket client.
type ClientMessage struct {
	Event     string `json:"event"`
	Text      string `json:"text,omitempty"`
	VoiceType string `json:"voice_type,omitempty"`
}

// ServerMessage is a JSON text message sent to the websocket client. Audio
// itself travels in binary messages between "started" and "done"/"error".
type ServerMessage struct {
	Event      string `json:"event"`
	SessionID  string `json:"session_id,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Segments   int    `json:"segments,omitempty"`
	Type       string `json:"type,omitempty"`
	Code       uint32 `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// streamConn serializes synthesis requests on one websocket. Only the
// handler goroutine writes; the reader goroutine only enqueues and cancels.
// A cancel applies to the running request and to every request queued
// before it.
type streamConn struct {
	conn *websocket.Conn

	mu              sync.Mutex
	cancel          context.CancelFunc
	enqueued        uint64
	canceledThrough uint64
}

// queuedRequest is a client message tagged with its arrival order.
type queuedRequest struct {
	ClientMessage
	seq uint64
}

func (sc *streamConn) enqueue(msg ClientMessage) queuedRequest {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.enqueued++
	return queuedRequest{ClientMessage: msg, seq: sc.enqueued}
}

// begin installs cancel for request seq. It reports false when the request
// was canceled while queued.
func (sc *streamConn) begin(seq uint64, cancel context.CancelFunc) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if seq <= sc.canceledThrough {
		return false
	}
	sc.cancel = cancel
	return true
}

func (sc *streamConn) end() {
	sc.mu.Lock()
	sc.cancel = nil
	sc.mu.Unlock()
}

func (sc *streamConn) cancelAll() {
	sc.mu.Lock()
	sc.canceledThrough = sc.enqueued
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.mu.Unlock()
}

// HandleStream runs synthesis requests received over a websocket, one at a
// time. A client disconnect cancels the running session.
func (s *Server) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	logger := s.logger.With().Str("surface", "websocket").Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("TTS stream connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sc := &streamConn{conn: conn}
	requests := make(chan queuedRequest, 8)

	go func() {
		defer close(requests)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("WebSocket read error")
				}
				cancel()
				return
			}

			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				logger.Debug().Err(err).Msg("Ignoring malformed client message")
				continue
			}
			if msg.Event == EventCancel {
				sc.cancelAll()
				continue
			}

			select {
			case requests <- sc.enqueue(msg):
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range requests {
		switch msg.Event {
		case EventSynthesize:
			if err := s.streamOne(ctx, sc, msg); err != nil {
				logger.Debug().Err(err).Msg("TTS stream write failed")
				return
			}
		default:
			if err := conn.WriteJSON(ServerMessage{Event: EventError, Type: "bad_request", Message: "unknown event " + msg.Event}); err != nil {
				return
			}
		}
	}
	logger.Info().Msg("TTS stream closed")
}

// streamOne runs one request. The returned error is a write failure on the
// websocket; synthesis failures are reported to the client as events.
func (s *Server) streamOne(parent context.Context, sc *streamConn, msg queuedRequest) error {
	if msg.Text == "" {
		return sc.conn.WriteJSON(ServerMessage{Event: EventError, Type: "bad_request", Message: "text is required"})
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if !sc.begin(msg.seq, cancel) {
		return sc.conn.WriteJSON(ServerMessage{Event: EventError, Type: tts.ErrorType(context.Canceled), Message: "canceled before start"})
	}
	defer sc.end()

	if err := sc.conn.WriteJSON(ServerMessage{
		Event:      EventStarted,
		Encoding:   s.config.OutputEncoding,
		SampleRate: s.config.OutputSampleRate,
	}); err != nil {
		return err
	}

	var writeErr error
	sum, err := s.caller.Synthesize(ctx, "websocket", tts.Request{Text: msg.Text, VoiceType: msg.VoiceType}, func(chunk *tts.AudioChunk) error {
		if err := sc.conn.WriteMessage(websocket.BinaryMessage, chunk.Data); err != nil {
			writeErr = err
			return err
		}
		return nil
	})
	if writeErr != nil {
		return writeErr
	}

	if err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		out := ServerMessage{Event: EventError, Type: tts.ErrorType(err), Message: err.Error()}
		var protoErr *protocol.ProtocolError
		if errors.As(err, &protoErr) {
			out.Code = protoErr.Code
			out.Message = protoErr.Message
		}
		if sum != nil {
			out.SessionID = sum.SessionID
			out.Segments = sum.Segments
		}
		return sc.conn.WriteJSON(out)
	}

	return sc.conn.WriteJSON(ServerMessage{
		Event:     EventDone,
		SessionID: sum.SessionID,
		Segments:  sum.Segments,
	})
}
