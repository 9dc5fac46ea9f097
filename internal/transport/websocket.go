package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arvelin/voxbridge/internal/protocol"
	"github.com/arvelin/voxbridge/internal/session"
)

// WebSocketConfig configures the socket transport. The realtime API speaks
// the same event protocol over a websocket as over the peer data channel;
// input audio travels as base64 append events instead of a media track.
type WebSocketConfig struct {
	// APIURL is the websocket endpoint, e.g. wss://api.openai.com/v1/realtime.
	APIURL string
	// DialTimeout bounds the handshake.
	DialTimeout time.Duration
	// TLSConfig overrides the dialer's TLS settings. Nil uses defaults.
	TLSConfig *tls.Config
	// Mic supplies local audio. Nil means text/control only.
	Mic MicSource
}

// WebSocket is the alternative realtime transport used where media devices
// or UDP are unavailable.
type WebSocket struct {
	cfg WebSocketConfig

	mu        sync.Mutex
	writeMu   sync.Mutex
	conn      *websocket.Conn
	micStream io.ReadCloser
	closed    bool

	micEnabled atomic.Bool
}

func NewWebSocket(cfg WebSocketConfig) *WebSocket {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	t := &WebSocket{cfg: cfg}
	t.micEnabled.Store(true)
	return t
}

func (t *WebSocket) Start(ctx context.Context, cred session.Credential, model string, h Handlers) error {
	u, err := url.Parse(strings.TrimSpace(t.cfg.APIURL))
	if err != nil || (u.Scheme != "wss" && u.Scheme != "https") {
		return ErrInsecureEndpoint
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	}
	if model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cred.Value)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.DialTimeout,
		TLSClientConfig:  t.cfg.TLSConfig,
	}
	conn, res, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		return &NegotiationError{Status: status, Err: fmt.Errorf("dial realtime websocket: %w", err)}
	}

	var micStream io.ReadCloser
	if t.cfg.Mic != nil {
		micStream, err = t.cfg.Mic.Open(ctx)
		if err != nil {
			_ = conn.Close()
			return &PermissionError{Err: err}
		}
	}

	t.mu.Lock()
	t.conn = conn
	t.micStream = micStream
	t.closed = false
	t.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen()
	}
	go t.readLoop(conn, h)
	if micStream != nil {
		go t.pumpMic(micStream)
	}
	return nil
}

func (t *WebSocket) readLoop(conn *websocket.Conn, h Handlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.OnClose != nil && !t.isClosed() {
				h.OnClose(err)
			}
			return
		}
		if h.OnEvent != nil {
			h.OnEvent(data)
		}
	}
}

// pumpMic ships 20ms PCM frames as input_audio_buffer.append events.
func (t *WebSocket) pumpMic(stream io.ReadCloser) {
	sampleRate := 16000
	if t.cfg.Mic != nil && t.cfg.Mic.SampleRate() > 0 {
		sampleRate = t.cfg.Mic.SampleRate()
	}
	frame := make([]byte, sampleRate*2/50)

	for {
		if _, err := io.ReadFull(stream, frame); err != nil {
			return
		}
		if t.isClosed() {
			return
		}
		if !t.micEnabled.Load() {
			continue
		}
		evt := protocol.InputAudioAppend{
			Type:  protocol.TypeInputAudioAppend,
			Audio: base64.StdEncoding.EncodeToString(frame),
		}
		if err := t.SendEvent(evt); err != nil {
			return
		}
	}
}

func (t *WebSocket) SendEvent(evt any) error {
	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed || conn == nil {
		return ErrChannelClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(evt)
}

func (t *WebSocket) SetMicEnabled(enabled bool) {
	t.micEnabled.Store(enabled)
}

func (t *WebSocket) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	mic := t.micStream
	t.conn = nil
	t.micStream = nil
	t.mu.Unlock()

	closeQuiet(mic)
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (t *WebSocket) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
