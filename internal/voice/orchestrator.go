package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arvelin/voxbridge/internal/audio"
	"github.com/arvelin/voxbridge/internal/gateway"
	"github.com/arvelin/voxbridge/internal/observability"
	"github.com/arvelin/voxbridge/internal/protocol"
	"github.com/arvelin/voxbridge/internal/reliability"
	"github.com/arvelin/voxbridge/internal/session"
	"github.com/arvelin/voxbridge/internal/transport"
)

// Gateway is the narrow backend contract the orchestrator needs.
// Satisfied by *gateway.Client.
type Gateway interface {
	CreateSession(ctx context.Context) (gateway.SessionGrant, error)
	ExecuteTool(ctx context.Context, name, argumentsJSON string) (gateway.ToolResult, error)
	TextToSpeech(ctx context.Context, text string) ([]byte, error)
}

var ErrSessionActive = errors.New("a session is already active")

const (
	defaultGatewayTimeout = 30 * time.Second
	startRetryBase        = 250 * time.Millisecond
	startRetryCap         = 2 * time.Second
)

// Config enumerates every recognized orchestrator option.
type Config struct {
	// Model is used when the session grant does not name one.
	Model string
	// GatewayTimeout bounds each backend call. Zero means 30s.
	GatewayTimeout time.Duration
	// StartAttempts is how many times a retryable credential failure is
	// retried during StartSession. Zero means no retry.
	StartAttempts int
}

// Orchestrator owns one voice session's lifecycle: it interprets every
// inbound protocol event, drives state transitions in the Store, sequences
// tool execution against the backend, and manages custom-TTS playback.
type Orchestrator struct {
	state     *session.Store
	gw        Gateway
	transport transport.Transport
	playback  *audio.Service
	out       audio.Output
	metrics   *observability.Metrics
	cfg       Config

	// mu serializes event dispatch; handlers run to completion between
	// asynchronous boundaries.
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	gen           uint64
	toolsBusy     bool
	currentCallID string
	preTool       session.Status
	turnStartedAt time.Time
	firstAudio    bool
}

func NewOrchestrator(
	state *session.Store,
	gw Gateway,
	tr transport.Transport,
	playback *audio.Service,
	out audio.Output,
	metrics *observability.Metrics,
	cfg Config,
) *Orchestrator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	return &Orchestrator{
		state:     state,
		gw:        gw,
		transport: tr,
		playback:  playback,
		out:       out,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// StartSession requests credentials, negotiates the transport and leaves
// the machine in connecting (then recording once the channel opens). Only
// valid from disconnected or error.
func (o *Orchestrator) StartSession(ctx context.Context) error {
	o.mu.Lock()
	st := o.state.Status()
	if st != session.StatusDisconnected && st != session.StatusError {
		o.mu.Unlock()
		return ErrSessionActive
	}
	o.gen++
	gen := o.gen
	sctx, cancel := context.WithCancel(ctx)
	o.ctx = sctx
	o.cancel = cancel
	o.toolsBusy = false
	o.currentCallID = ""
	o.mu.Unlock()

	o.state.Reset()
	o.transition(session.StatusConnecting)

	grant, err := o.createSessionWithRetry(sctx)
	if err != nil {
		o.failIfCurrent(gen, "could not start voice session: "+err.Error())
		return err
	}

	model := grant.Model
	if model == "" {
		model = o.cfg.Model
	}
	o.state.SetSessionData(grant.Credential(), model, grant.Modalities)

	err = o.transport.Start(sctx, grant.Credential(), model, transport.Handlers{
		OnOpen:  func() { o.onChannelOpen(gen) },
		OnEvent: o.HandleServerEvent,
		OnTrack: func(remote io.Reader) { o.onRemoteTrack(gen, remote) },
		OnClose: func(err error) { o.onTransportClosed(gen, err) },
	})
	if err != nil {
		_ = o.transport.Close()
		o.failIfCurrent(gen, "could not connect: "+err.Error())
		return err
	}
	return nil
}

// StopSession tears the session down from any state. Idempotent; the sole
// cancellation primitive. Results of in-flight backend calls are discarded
// once this returns.
func (o *Orchestrator) StopSession() {
	o.mu.Lock()
	o.gen++
	cancel := o.cancel
	o.cancel = nil
	o.currentCallID = ""
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if o.playback != nil {
		o.playback.Interrupt()
	}
	_ = o.transport.Close()
	o.state.ClearTranscript()
	o.transition(session.StatusDisconnected)
}

// SetPressToTalk switches between manual and automatic turn-taking.
// Holding disables server VAD; releasing re-enables it, commits the input
// buffer and requests the next model turn.
func (o *Orchestrator) SetPressToTalk(held bool) error {
	if held {
		if o.state.Status() != session.StatusRecording {
			return nil
		}
		return o.transport.SendEvent(protocol.NewTurnDetectionUpdate(false))
	}
	if err := o.transport.SendEvent(protocol.NewTurnDetectionUpdate(true)); err != nil {
		return err
	}
	if err := o.transport.SendEvent(protocol.InputAudioCommit{Type: protocol.TypeInputAudioCommit}); err != nil {
		return err
	}
	return o.transport.SendEvent(protocol.ResponseCreate{Type: protocol.TypeResponseCreate})
}

// HandleServerEvent interprets one inbound control-channel frame.
// Malformed JSON is counted and dropped; unknown event types are no-ops.
// The state after any event is always one of the enumerated statuses.
func (o *Orchestrator) HandleServerEvent(raw []byte) {
	parsed, err := protocol.ParseServerEvent(raw)
	if err != nil {
		o.metrics.DroppedEvents.Inc()
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	switch evt := parsed.(type) {
	case protocol.SessionCreated:
		o.countEvent(evt.Type)
	case protocol.SessionUpdated:
		o.countEvent(evt.Type)
	case protocol.SpeechStarted:
		o.countEvent(evt.Type)
		o.transport.SetMicEnabled(true)
		o.transition(session.StatusRecording)
	case protocol.SpeechStopped:
		o.countEvent(evt.Type)
		if o.state.Status() == session.StatusRecording {
			o.transition(session.StatusProcessing)
		}
	case protocol.InputCommitted:
		o.countEvent(evt.Type)
	case protocol.InputTranscriptDone:
		o.countEvent(evt.Type)
		if evt.Transcript != "" {
			o.state.AppendMessage("user", evt.Transcript)
		}
	case protocol.ResponseCreated:
		o.countEvent(evt.Type)
		if o.state.Status() != session.StatusToolWait {
			o.state.ClearTranscript()
		}
		o.turnStartedAt = time.Now()
		o.firstAudio = false
	case protocol.AudioTranscriptDelta:
		o.countEvent(evt.Type)
		o.state.AppendTranscript(evt.Delta)
	case protocol.TextDelta:
		o.countEvent(evt.Type)
		o.state.AppendTranscript(evt.Delta)
	case protocol.AudioDelta:
		o.countEvent(evt.Type)
		if !o.state.CustomTTS() {
			if !o.firstAudio && !o.turnStartedAt.IsZero() {
				o.firstAudio = true
				o.metrics.ObserveFirstAudioLatency(time.Since(o.turnStartedAt))
			}
			o.transition(session.StatusSpeaking)
		}
	case protocol.FunctionCallArgsDelta:
		o.countEvent(evt.Type)
		o.enterToolWait()
	case protocol.ResponseDone:
		o.countEvent(evt.Type)
		o.handleResponseDone(evt.Response)
	case protocol.OutputAudioStopped:
		o.countEvent(evt.Type)
		if !o.state.CustomTTS() {
			o.transition(session.StatusIdle)
		}
	case protocol.ServerError:
		o.countEvent(evt.Type)
		if reliability.IsRetryableRealtimeErrorCode(evt.Error.Code) {
			// Transient server-side conditions recover on their own;
			// tearing the session down would be worse than the error.
			o.metrics.GatewayErrors.WithLabelValues("realtime", evt.Error.Code).Inc()
			return
		}
		o.state.Fail(evt.Error.Message)
	case protocol.UnknownEvent:
		o.metrics.ServerEvents.WithLabelValues("unknown").Inc()
	}
}

// handleResponseDone flushes the transcript, enqueues every function call
// from the response output in arrival order, and kicks off custom TTS
// and/or the tool pump. Called with mu held.
func (o *Orchestrator) handleResponseDone(resp protocol.Response) {
	if resp.Status == protocol.ResponseStatusFailed {
		msg := "assistant response failed"
		if resp.StatusDetails != nil && resp.StatusDetails.Error != nil && resp.StatusDetails.Error.Message != "" {
			msg = resp.StatusDetails.Error.Message
		}
		o.state.Fail(msg)
		return
	}

	text := o.state.FlushTranscript()
	queued := 0
	for _, item := range resp.Output {
		switch item.Type {
		case protocol.ItemTypeFunctionCall:
			o.state.EnqueueTool(session.ToolCall{
				Name:      item.Name,
				Arguments: item.Arguments,
				CallID:    item.CallID,
			})
			queued++
		case protocol.ItemTypeMessage:
			// Text that never streamed as deltas still becomes a message.
			if text == "" {
				if t := item.Text(); t != "" {
					o.state.AppendMessage("assistant", t)
					text = t
				}
			}
		}
	}

	if o.state.CustomTTS() && text != "" {
		go o.playCustomTTS(o.ctx, o.gen, text)
	}

	if queued > 0 {
		o.enterToolWait()
		if !o.toolsBusy {
			o.toolsBusy = true
			go o.pumpTools(o.ctx, o.gen)
		}
	}
}

// pumpTools resolves queued calls strictly one at a time, FIFO. Every call
// the model issued gets a result, success or failure, never silence.
func (o *Orchestrator) pumpTools(ctx context.Context, gen uint64) {
	for {
		if o.stale(gen) {
			o.mu.Lock()
			o.toolsBusy = false
			o.mu.Unlock()
			return
		}
		call, ok := o.state.PeekTool()
		if !ok {
			break
		}

		o.mu.Lock()
		o.currentCallID = call.CallID
		o.mu.Unlock()

		output := o.executeTool(ctx, call)
		if o.stale(gen) {
			// Session stopped while the tool ran; discard the result.
			o.mu.Lock()
			o.toolsBusy = false
			o.mu.Unlock()
			return
		}
		if err := o.sendToolResult(call.CallID, output); err != nil {
			o.metrics.DroppedEvents.Inc()
		}
		o.state.DequeueTool()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		o.toolsBusy = false
		return
	}
	// The refill check and the busy handoff must share one critical
	// section: a response.done that lands between the empty peek above
	// and this point sees toolsBusy set and will not spawn a pump, so
	// its calls would otherwise never be answered.
	if _, ok := o.state.PeekTool(); ok {
		go o.pumpTools(o.ctx, o.gen)
		return
	}
	o.toolsBusy = false
	if o.state.Status() == session.StatusToolWait {
		pre := o.preTool
		if pre != session.StatusRecording {
			pre = session.StatusIdle
		}
		o.transition(pre)
	}
}

// executeTool runs one call against the backend and always produces an
// output string for the model: the success payload, or a structured
// {error:true,...} document on any failure.
func (o *Orchestrator) executeTool(ctx context.Context, call session.ToolCall) string {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	res, err := o.gw.ExecuteTool(cctx, call.Name, call.Arguments)
	o.metrics.ObserveToolLatency(time.Since(start))

	if err != nil {
		o.metrics.ToolExecutions.WithLabelValues(call.Name, "transport_error").Inc()
		o.metrics.GatewayErrors.WithLabelValues("execute_tool", "network_error").Inc()
		return errorOutput("Network error", "network_error")
	}
	if !res.OK {
		o.metrics.ToolExecutions.WithLabelValues(call.Name, "tool_error").Inc()
		return errorOutput(res.Message, res.Code)
	}
	o.metrics.ToolExecutions.WithLabelValues(call.Name, "ok").Inc()
	return string(res.Payload)
}

// sendToolResult writes the function_call_output for exactly the call
// being processed, then requests the next model turn. A call_id that does
// not match the in-flight call is a protocol error and is rejected.
func (o *Orchestrator) sendToolResult(callID, output string) error {
	o.mu.Lock()
	current := o.currentCallID
	o.mu.Unlock()
	if callID != current {
		return fmt.Errorf("tool result call_id %q does not match in-flight call %q", callID, current)
	}

	if err := o.transport.SendEvent(protocol.NewFunctionCallOutput(callID, output)); err != nil {
		return err
	}
	return o.transport.SendEvent(protocol.ResponseCreate{Type: protocol.TypeResponseCreate})
}

// playCustomTTS mutes the microphone so the model cannot hear its own
// voice, plays the synthesized clip, and resumes recording afterwards —
// unless the session disconnected while the clip was playing.
func (o *Orchestrator) playCustomTTS(ctx context.Context, gen uint64, text string) {
	o.transport.SetMicEnabled(false)

	err := o.playback.PlaySynthesis(ctx, text, o.out,
		func() {
			if !o.stale(gen) {
				o.transition(session.StatusSpeaking)
			}
		},
		func() {
			if o.stale(gen) {
				return
			}
			if o.state.Status() == session.StatusDisconnected {
				return
			}
			o.transport.SetMicEnabled(true)
			o.transition(session.StatusRecording)
		},
	)
	if err != nil && ctx.Err() == nil && !o.stale(gen) {
		o.state.Fail("speech playback failed: " + err.Error())
	}
}

func (o *Orchestrator) createSessionWithRetry(ctx context.Context) (gateway.SessionGrant, error) {
	var lastErr error
	attempts := o.cfg.StartAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return gateway.SessionGrant{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, startRetryBase, startRetryCap)):
			}
		}
		cctx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
		grant, err := o.gw.CreateSession(cctx)
		cancel()
		if err == nil {
			return grant, nil
		}
		lastErr = err
		o.metrics.GatewayErrors.WithLabelValues("create_session", gatewayErrorCode(err)).Inc()

		var statusErr *gateway.StatusError
		if errors.As(err, &statusErr) && !reliability.IsRetryableHTTPStatus(statusErr.Status) {
			break
		}
	}
	return gateway.SessionGrant{}, lastErr
}

func (o *Orchestrator) onChannelOpen(gen uint64) {
	if o.stale(gen) {
		return
	}
	o.transition(session.StatusRecording)
}

func (o *Orchestrator) onRemoteTrack(gen uint64, remote io.Reader) {
	if o.stale(gen) || o.out == nil || o.state.CustomTTS() {
		return
	}
	// Native audio: bind the remote track to the output for the session's
	// lifetime. The reader ends when the transport closes.
	go func() { _ = o.out.Play(remote) }()
}

func (o *Orchestrator) onTransportClosed(gen uint64, err error) {
	if o.stale(gen) {
		return
	}
	_ = o.transport.Close()
	msg := "connection lost"
	if err != nil {
		msg = "connection lost: " + err.Error()
	}
	o.state.Fail(msg)
}

// enterToolWait records the pre-tool state for the return transition.
// Called with mu held.
func (o *Orchestrator) enterToolWait() {
	st := o.state.Status()
	if st == session.StatusToolWait {
		return
	}
	if st == session.StatusRecording {
		o.preTool = session.StatusRecording
	} else {
		o.preTool = session.StatusIdle
	}
	o.transition(session.StatusToolWait)
}

func (o *Orchestrator) transition(st session.Status) {
	o.state.SetStatus(st)
	o.metrics.StateTransitions.WithLabelValues(string(st)).Inc()
}

func (o *Orchestrator) failIfCurrent(gen uint64, msg string) {
	if o.stale(gen) {
		return
	}
	o.state.Fail(msg)
	o.metrics.StateTransitions.WithLabelValues(string(session.StatusError)).Inc()
}

func (o *Orchestrator) stale(gen uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return gen != o.gen
}

func (o *Orchestrator) countEvent(t protocol.EventType) {
	o.metrics.ServerEvents.WithLabelValues(string(t)).Inc()
}

func gatewayErrorCode(err error) string {
	var statusErr *gateway.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("status_%d", statusErr.Status)
	}
	return "network_error"
}

func errorOutput(message, code string) string {
	if message == "" {
		message = "tool execution failed"
	}
	raw, err := json.Marshal(map[string]any{
		"error":   true,
		"message": message,
		"code":    code,
	})
	if err != nil {
		return `{"error":true,"message":"tool execution failed"}`
	}
	return string(raw)
}
