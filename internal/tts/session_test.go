package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/volc-tts-gateway/internal/protocol"
	"github.com/lexiqai/volc-tts-gateway/internal/segment"
)

// fakeServer plays the synthesis service: it records the handshake and the
// request document, then runs script on the connection.
type fakeServer struct {
	*httptest.Server

	mu      sync.Mutex
	auth    string
	request *protocol.SynthesisRequest
}

func newFakeServer(t *testing.T, script func(conn *websocket.Conn)) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	upgrader := websocket.Upgrader{}

	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := protocol.DecodeRequest(raw)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.auth = r.Header.Get("Authorization")
		fs.request = req
		fs.mu.Unlock()

		script(conn)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fakeServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func (fs *fakeServer) received() (string, *protocol.SynthesisRequest) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.auth, fs.request
}

func send(conn *websocket.Conn, frames ...[]byte) {
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
			return
		}
	}
}

func testSessionConfig(endpoint string) SessionConfig {
	return SessionConfig{
		Endpoint: endpoint,
		Token:    "secret-token",
		Request: protocol.RequestOptions{
			AppID:     "app-1",
			Cluster:   "volcano_tts",
			UID:       "uid-1",
			VoiceType: "BV001_streaming",
		},
		Threshold:        64000,
		SourceRate:       24000,
		OutputRate:       16000,
		HandshakeTimeout: 2 * time.Second,
		ReadTimeout:      2 * time.Second,
	}
}

type collector struct {
	chunks []*AudioChunk
}

func (c *collector) sink(chunk *AudioChunk) error {
	c.chunks = append(c.chunks, chunk)
	return nil
}

func TestSession_EndToEnd(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn,
			protocol.EncodeAck(),
			protocol.EncodeAudio(1, make([]byte, 30000)),
			protocol.EncodeAudio(2, make([]byte, 30000)),
			protocol.EncodeAudio(-3, make([]byte, 5000)),
		)
	})

	cfg := testSessionConfig(srv.wsURL())
	cfg.ArtifactPath = filepath.Join(t.TempDir(), "hello.wav")
	store := segment.NewMemoryStore()
	session := NewSession("sess-e2e", cfg, store, zerolog.Nop())
	require.Equal(t, StateIdle, session.State())

	var c collector
	sum, err := session.Run(context.Background(), "hello", c.sink)
	require.NoError(t, err)

	require.Equal(t, StateCompleted, sum.State)
	require.Equal(t, StateCompleted, session.State())
	require.Equal(t, 1, sum.Segments)
	require.EqualValues(t, 65000, sum.AudioBytes)
	require.Equal(t, 4, sum.Frames)

	require.Len(t, c.chunks, 1)
	chunk := c.chunks[0]
	require.Equal(t, 0, chunk.Index)
	require.Equal(t, 16000, chunk.SampleRate)
	require.Equal(t, 1, chunk.Channels)
	require.Equal(t, EncodingPCM, chunk.Encoding)
	// 32500 samples at 24 kHz resample to 21666 at 16 kHz.
	require.Len(t, chunk.Data, 21666*2)

	require.NotNil(t, sum.Artifact)
	require.Equal(t, 32500, sum.Artifact.Samples)
	_, err = os.Stat(cfg.ArtifactPath)
	require.NoError(t, err)

	auth, req := srv.received()
	require.Equal(t, "Bearer secret-token", auth)
	require.NotNil(t, req)
	require.Equal(t, "hello", req.Request.Text)
	require.Equal(t, protocol.OperationSubmit, req.Request.Operation)
	require.Equal(t, protocol.EncodingPCM, req.Audio.Encoding)
	require.Equal(t, "BV001_streaming", req.Audio.VoiceType)
	require.Equal(t, sum.RequestID, req.Request.ReqID)

	leftover, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, leftover, "segment store should be cleaned up")
}

func TestSession_CarriesOddByteAcrossSegments(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn,
			protocol.EncodeAudio(1, []byte{1, 2, 3}),
			protocol.EncodeAudio(2, []byte{4, 5, 6, 7, 8}),
			protocol.EncodeAudio(-3, nil),
		)
	})

	cfg := testSessionConfig(srv.wsURL())
	cfg.Threshold = 0
	cfg.OutputRate = cfg.SourceRate

	var c collector
	sum, err := NewSession("", cfg, nil, zerolog.Nop()).Run(context.Background(), "odd", c.sink)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Segments)

	require.Len(t, c.chunks, 2)
	require.Equal(t, []byte{1, 2}, c.chunks[0].Data)
	require.Equal(t, []byte{3, 4, 5, 6, 7, 8}, c.chunks[1].Data)
}

func TestSession_CarriedSegmentIsNotCounted(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn,
			protocol.EncodeAudio(1, []byte{1}),
			protocol.EncodeAudio(2, []byte{2, 3, 4}),
			protocol.EncodeAudio(-3, nil),
		)
	})

	cfg := testSessionConfig(srv.wsURL())
	cfg.Threshold = 0
	cfg.OutputRate = cfg.SourceRate

	var c collector
	sum, err := NewSession("", cfg, nil, zerolog.Nop()).Run(context.Background(), "odd", c.sink)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Segments)
	require.Len(t, c.chunks, 1)
	require.Equal(t, []byte{1, 2, 3, 4}, c.chunks[0].Data)
	require.Equal(t, 1, c.chunks[0].Index)
}

func TestSession_ZeroAudioCompletes(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		frontend, _ := protocol.EncodeFrontend([]byte(`{"phonemes":[]}`), true)
		send(conn,
			protocol.EncodeAck(),
			frontend,
			protocol.EncodeAudio(-1, nil),
		)
	})

	cfg := testSessionConfig(srv.wsURL())
	cfg.ArtifactPath = filepath.Join(t.TempDir(), "silence.wav")

	var c collector
	sum, err := NewSession("", cfg, nil, zerolog.Nop()).Run(context.Background(), "", c.sink)
	require.NoError(t, err)
	require.Equal(t, StateCompleted, sum.State)
	require.Zero(t, sum.Segments)
	require.Empty(t, c.chunks)
	require.Nil(t, sum.Artifact)

	_, err = os.Stat(cfg.ArtifactPath)
	require.True(t, os.IsNotExist(err), "no artifact expected for a silent session")
}

func TestSession_ErrorFrameKeepsPartialOutput(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		errFrame, _ := protocol.EncodeError(55, "invalid voice", true)
		send(conn,
			protocol.EncodeAudio(1, make([]byte, 1000)),
			protocol.EncodeAudio(2, make([]byte, 100)),
			errFrame,
		)
	})

	cfg := testSessionConfig(srv.wsURL())
	cfg.Threshold = 500

	var c collector
	sum, err := NewSession("", cfg, nil, zerolog.Nop()).Run(context.Background(), "hello", c.sink)

	var protoErr *protocol.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.EqualValues(t, 55, protoErr.Code)
	require.Equal(t, "invalid voice", protoErr.Message)
	require.False(t, IsRetryable(err))
	require.Equal(t, "server", ErrorType(err))

	require.Equal(t, StateFailed, sum.State)
	require.Equal(t, 1, sum.Segments)
	require.Len(t, c.chunks, 1, "delivered segment stays delivered, open buffer is dropped")
}

func TestSession_ReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	cfg := testSessionConfig(srv.wsURL())
	cfg.ReadTimeout = 100 * time.Millisecond

	sum, err := NewSession("", cfg, nil, zerolog.Nop()).Run(context.Background(), "hello", nil)
	require.ErrorIs(t, err, ErrTimeout)
	require.True(t, IsRetryable(err))
	require.Equal(t, StateFailed, sum.State)
}

func TestSession_HandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	session := NewSession("", testSessionConfig("ws"+strings.TrimPrefix(srv.URL, "http")), nil, zerolog.Nop())
	sum, err := session.Run(context.Background(), "hello", nil)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "dial", connErr.Op)
	require.Equal(t, http.StatusUnauthorized, connErr.StatusCode)
	require.False(t, IsRetryable(err))
	require.Equal(t, StateFailed, sum.State)
}

func TestSession_SocketClosedMidStream(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, protocol.EncodeAudio(1, make([]byte, 10)))
	})

	sum, err := NewSession("", testSessionConfig(srv.wsURL()), nil, zerolog.Nop()).Run(context.Background(), "hello", nil)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	require.Equal(t, "read", connErr.Op)
	require.True(t, IsRetryable(err))
	require.Equal(t, StateFailed, sum.State)
	require.Zero(t, sum.Segments)
}

func TestSession_MalformedFrame(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, []byte{0x11, 0xb1, 0x00})
	})

	_, err := NewSession("", testSessionConfig(srv.wsURL()), nil, zerolog.Nop()).Run(context.Background(), "hello", nil)
	require.ErrorIs(t, err, protocol.ErrMalformedFrame)
	require.False(t, IsRetryable(err))
}

func TestSession_UnknownMessageType(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, []byte{0x11, 0x20, 0x00, 0x00})
	})

	_, err := NewSession("", testSessionConfig(srv.wsURL()), nil, zerolog.Nop()).Run(context.Background(), "hello", nil)
	require.ErrorIs(t, err, protocol.ErrUnknownMessageType)
}

func TestSession_CancelDiscardsOpenSegment(t *testing.T) {
	sent := make(chan struct{})
	release := make(chan struct{})
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, protocol.EncodeAudio(1, make([]byte, 100)))
		close(sent)
		<-release
	})
	t.Cleanup(func() { close(release) })

	cfg := testSessionConfig(srv.wsURL())
	cfg.ReadTimeout = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var c collector
	type result struct {
		sum *Summary
		err error
	}
	done := make(chan result, 1)
	session := NewSession("", cfg, nil, zerolog.Nop())
	go func() {
		sum, err := session.Run(ctx, "hello", c.sink)
		done <- result{sum, err}
	}()

	<-sent
	cancel()

	select {
	case r := <-done:
		require.ErrorIs(t, r.err, context.Canceled)
		require.Equal(t, StateFailed, r.sum.State)
		require.Zero(t, r.sum.Segments)
		require.Empty(t, c.chunks)
		require.Equal(t, "canceled", ErrorType(r.err))
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after cancellation")
	}
}

func TestSession_SinkErrorFails(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn,
			protocol.EncodeAudio(1, make([]byte, 10)),
			protocol.EncodeAudio(-2, make([]byte, 10)),
		)
	})

	cfg := testSessionConfig(srv.wsURL())
	cfg.Threshold = 0
	boom := errors.New("client went away")

	sum, err := NewSession("", cfg, nil, zerolog.Nop()).Run(context.Background(), "hello", func(*AudioChunk) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, StateFailed, sum.State)
}

func TestSession_PCMUOutput(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, protocol.EncodeAudio(-1, make([]byte, 4800)))
	})

	cfg := testSessionConfig(srv.wsURL())
	cfg.OutputRate = 8000
	cfg.OutputEncoding = EncodingPCMU

	var c collector
	_, err := NewSession("", cfg, nil, zerolog.Nop()).Run(context.Background(), "hello", c.sink)
	require.NoError(t, err)
	require.Len(t, c.chunks, 1)
	// 2400 samples at 24 kHz become 800 μ-law bytes at 8 kHz.
	require.Len(t, c.chunks[0].Data, 800)
	require.Equal(t, EncodingPCMU, c.chunks[0].Encoding)
}

func TestSession_RunOnce(t *testing.T) {
	srv := newFakeServer(t, func(conn *websocket.Conn) {
		send(conn, protocol.EncodeAudio(-1, nil))
	})

	session := NewSession("", testSessionConfig(srv.wsURL()), nil, zerolog.Nop())
	_, err := session.Run(context.Background(), "a", nil)
	require.NoError(t, err)

	_, err = session.Run(context.Background(), "b", nil)
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "streaming", StateStreaming.String())
	require.Equal(t, "failed", StateFailed.String())
	require.Equal(t, "unknown", State(42).String())
}
