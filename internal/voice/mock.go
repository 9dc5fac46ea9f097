package voice

import (
	"context"
	"io"
	"sync"

	"github.com/arvelin/voxbridge/internal/gateway"
	"github.com/arvelin/voxbridge/internal/session"
	"github.com/arvelin/voxbridge/internal/transport"
)

// MockTransport is an in-memory transport used by tests and by the mock
// run mode. Start opens the channel synchronously; Deliver injects
// inbound events.
type MockTransport struct {
	mu         sync.Mutex
	handlers   transport.Handlers
	open       bool
	micEnabled bool
	sent       []any

	// StartErr, when set, makes Start fail without opening the channel.
	StartErr error
}

func NewMockTransport() *MockTransport {
	return &MockTransport{micEnabled: true}
}

func (m *MockTransport) Start(_ context.Context, _ session.Credential, _ string, h transport.Handlers) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.mu.Lock()
	m.handlers = h
	m.open = true
	m.mu.Unlock()
	if h.OnOpen != nil {
		h.OnOpen()
	}
	return nil
}

func (m *MockTransport) SendEvent(evt any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return transport.ErrChannelClosed
	}
	m.sent = append(m.sent, evt)
	return nil
}

func (m *MockTransport) SetMicEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.micEnabled = enabled
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// Deliver feeds one raw inbound frame through the installed handler.
func (m *MockTransport) Deliver(raw []byte) {
	m.mu.Lock()
	h := m.handlers
	m.mu.Unlock()
	if h.OnEvent != nil {
		h.OnEvent(raw)
	}
}

// FailConnection simulates a transport-level failure.
func (m *MockTransport) FailConnection(err error) {
	m.mu.Lock()
	h := m.handlers
	m.mu.Unlock()
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

func (m *MockTransport) SentEvents() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.sent...)
}

func (m *MockTransport) MicEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micEnabled
}

// MockGateway scripts the three backend calls.
type MockGateway struct {
	mu sync.Mutex

	Grant    gateway.SessionGrant
	GrantErr error

	ToolFunc func(name, args string) (gateway.ToolResult, error)
	TTSAudio []byte
	TTSErr   error

	createCalls int
	toolCalls   []ToolInvocation
}

// ToolInvocation records one ExecuteTool call.
type ToolInvocation struct {
	Name      string
	Arguments string
}

// NewMockGateway returns a gateway granting a text-only session (custom
// TTS enabled) whose tools all succeed with an empty object.
func NewMockGateway() *MockGateway {
	g := &MockGateway{}
	g.Grant.ClientSecret.Value = "mock-secret"
	g.Grant.Model = "mock-realtime"
	g.Grant.Modalities = []string{"text"}
	return g
}

func (g *MockGateway) CreateSession(_ context.Context) (gateway.SessionGrant, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()
	if g.GrantErr != nil {
		return gateway.SessionGrant{}, g.GrantErr
	}
	return g.Grant, nil
}

func (g *MockGateway) ExecuteTool(_ context.Context, name, args string) (gateway.ToolResult, error) {
	g.mu.Lock()
	g.toolCalls = append(g.toolCalls, ToolInvocation{Name: name, Arguments: args})
	fn := g.ToolFunc
	g.mu.Unlock()
	if fn != nil {
		return fn(name, args)
	}
	return gateway.ToolResult{OK: true, Payload: []byte(`{}`)}, nil
}

func (g *MockGateway) TextToSpeech(_ context.Context, _ string) ([]byte, error) {
	if g.TTSErr != nil {
		return nil, g.TTSErr
	}
	if g.TTSAudio != nil {
		return g.TTSAudio, nil
	}
	return make([]byte, 64), nil
}

func (g *MockGateway) CreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

func (g *MockGateway) ToolCalls() []ToolInvocation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ToolInvocation(nil), g.toolCalls...)
}

// MockOutput swallows clips instantly.
type MockOutput struct {
	mu    sync.Mutex
	plays int
}

func (o *MockOutput) Play(r io.Reader) error {
	o.mu.Lock()
	o.plays++
	o.mu.Unlock()
	_, err := io.Copy(io.Discard, r)
	return err
}

func (o *MockOutput) Stop()  {}
func (o *MockOutput) Reset() {}

func (o *MockOutput) Plays() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plays
}
