package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status enumerates every state the orchestrator can be in.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusRecording    Status = "recording"
	StatusProcessing   Status = "processing"
	StatusSpeaking     Status = "speaking"
	StatusToolWait     Status = "tool_wait"
	StatusIdle         Status = "idle"
	StatusError        Status = "error"
)

// Credential is the ephemeral bearer token issued per session.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Message is one immutable conversational turn for display.
type Message struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is one function invocation requested by the model. CallID is
// supplied by the model and must be echoed back verbatim.
type ToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id"`
}

// Snapshot is the complete observable session state at one instant.
// Subscribers receive value copies; mutating a snapshot has no effect.
type Snapshot struct {
	Status        Status     `json:"status"`
	StatusMessage string     `json:"status_message,omitempty"`
	Messages      []Message  `json:"messages"`
	Transcript    string     `json:"transcript"`
	PendingTools  []ToolCall `json:"pending_tools"`
	Model         string     `json:"model"`
	Modalities    []string   `json:"modalities"`
	CustomTTS     bool       `json:"custom_tts"`
}

// Store holds the single mutable session snapshot and notifies subscribers
// synchronously after every mutation.
type Store struct {
	mu         sync.Mutex
	status     Status
	statusMsg  string
	credential Credential
	model      string
	modalities []string
	messages   []Message
	transcript []byte
	tools      []ToolCall
	subs       map[int]func(Snapshot)
	nextSub    int
}

func NewStore() *Store {
	return &Store{
		status: StatusDisconnected,
		subs:   make(map[int]func(Snapshot)),
	}
}

// Subscribe registers a listener invoked synchronously after each mutation.
// The returned function removes it.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Store) Credential() Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential
}

// CustomTTS reports whether assistant speech must be synthesized via the
// backend instead of the native audio modality. It is a pure function of
// the negotiated modalities: true exactly when "audio" is absent.
func (s *Store) CustomTTS() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return customTTS(s.modalities)
}

func (s *Store) SetStatus(status Status) {
	s.mu.Lock()
	s.status = status
	if status != StatusError {
		s.statusMsg = ""
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Fail moves to the error state with a human-readable message.
func (s *Store) Fail(msg string) {
	s.mu.Lock()
	s.status = StatusError
	s.statusMsg = msg
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// SetSessionData records the negotiated credential, model and modality set
// from the backend's session grant.
func (s *Store) SetSessionData(cred Credential, model string, modalities []string) {
	s.mu.Lock()
	s.credential = cred
	s.model = model
	s.modalities = append([]string(nil), modalities...)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) AppendMessage(role, content string) Message {
	msg := Message{ID: uuid.NewString(), Role: role, Content: content}
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return msg
}

func (s *Store) AppendTranscript(delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, delta...)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// FlushTranscript empties the in-progress buffer and, when non-empty,
// appends it as an assistant message. Returns the flushed text.
func (s *Store) FlushTranscript() string {
	s.mu.Lock()
	text := string(s.transcript)
	s.transcript = s.transcript[:0]
	if text != "" {
		s.messages = append(s.messages, Message{
			ID:      uuid.NewString(),
			Role:    "assistant",
			Content: text,
		})
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return text
}

func (s *Store) ClearTranscript() {
	s.mu.Lock()
	s.transcript = s.transcript[:0]
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) EnqueueTool(call ToolCall) {
	s.mu.Lock()
	s.tools = append(s.tools, call)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// PeekTool returns the head of the queue without removing it.
func (s *Store) PeekTool() (ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tools) == 0 {
		return ToolCall{}, false
	}
	return s.tools[0], true
}

func (s *Store) DequeueTool() (ToolCall, bool) {
	s.mu.Lock()
	if len(s.tools) == 0 {
		s.mu.Unlock()
		return ToolCall{}, false
	}
	call := s.tools[0]
	s.tools = s.tools[1:]
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
	return call, true
}

func (s *Store) PendingToolCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tools)
}

// Reset wipes everything back to the initial disconnected state. Called
// when a new session starts.
func (s *Store) Reset() {
	s.mu.Lock()
	s.status = StatusDisconnected
	s.statusMsg = ""
	s.credential = Credential{}
	s.model = ""
	s.modalities = nil
	s.messages = nil
	s.transcript = s.transcript[:0]
	s.tools = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Status:        s.status,
		StatusMessage: s.statusMsg,
		Messages:      append([]Message(nil), s.messages...),
		Transcript:    string(s.transcript),
		PendingTools:  append([]ToolCall(nil), s.tools...),
		Model:         s.model,
		Modalities:    append([]string(nil), s.modalities...),
		CustomTTS:     customTTS(s.modalities),
	}
}

func (s *Store) notify(snap Snapshot) {
	s.mu.Lock()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func customTTS(modalities []string) bool {
	for _, m := range modalities {
		if m == "audio" {
			return false
		}
	}
	return true
}
