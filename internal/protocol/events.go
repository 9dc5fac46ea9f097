package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType identifies realtime control-channel payload variants.
type EventType string

// Server events (inbound).
const (
	TypeSessionCreated        EventType = "session.created"
	TypeSessionUpdated        EventType = "session.updated"
	TypeSpeechStarted         EventType = "input_audio_buffer.speech_started"
	TypeSpeechStopped         EventType = "input_audio_buffer.speech_stopped"
	TypeInputCommitted        EventType = "input_audio_buffer.committed"
	TypeInputTranscriptDone   EventType = "conversation.item.input_audio_transcription.completed"
	TypeResponseCreated       EventType = "response.created"
	TypeAudioTranscriptDelta  EventType = "response.audio_transcript.delta"
	TypeTextDelta             EventType = "response.text.delta"
	TypeAudioDelta            EventType = "response.audio.delta"
	TypeFunctionCallArgsDelta EventType = "response.function_call_arguments.delta"
	TypeResponseDone          EventType = "response.done"
	TypeOutputAudioStopped    EventType = "output_audio_buffer.stopped"
	TypeServerError           EventType = "error"
)

// Client events (outbound).
const (
	TypeSessionUpdate    EventType = "session.update"
	TypeInputAudioAppend EventType = "input_audio_buffer.append"
	TypeInputAudioCommit EventType = "input_audio_buffer.commit"
	TypeItemCreate       EventType = "conversation.item.create"
	TypeResponseCreate   EventType = "response.create"
)

// Response statuses reported on response.done.
const (
	ResponseStatusCompleted = "completed"
	ResponseStatusFailed    = "failed"
)

// Output item types inside a response.done payload.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

type Envelope struct {
	Type EventType `json:"type"`
}

// --- Server events ---

type SessionCreated struct {
	Type    EventType   `json:"type"`
	Session SessionInfo `json:"session"`
}

type SessionUpdated struct {
	Type    EventType   `json:"type"`
	Session SessionInfo `json:"session"`
}

type SessionInfo struct {
	ID         string   `json:"id"`
	Model      string   `json:"model"`
	Modalities []string `json:"modalities"`
}

type SpeechStarted struct {
	Type       EventType `json:"type"`
	AudioStart int64     `json:"audio_start_ms"`
	ItemID     string    `json:"item_id"`
}

type SpeechStopped struct {
	Type     EventType `json:"type"`
	AudioEnd int64     `json:"audio_end_ms"`
	ItemID   string    `json:"item_id"`
}

type InputCommitted struct {
	Type   EventType `json:"type"`
	ItemID string    `json:"item_id"`
}

type InputTranscriptDone struct {
	Type       EventType `json:"type"`
	ItemID     string    `json:"item_id"`
	Transcript string    `json:"transcript"`
}

type ResponseCreated struct {
	Type     EventType `json:"type"`
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

type AudioTranscriptDelta struct {
	Type  EventType `json:"type"`
	Delta string    `json:"delta"`
}

type TextDelta struct {
	Type  EventType `json:"type"`
	Delta string    `json:"delta"`
}

type AudioDelta struct {
	Type  EventType `json:"type"`
	Delta string    `json:"delta"`
}

type FunctionCallArgsDelta struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`
	Delta  string    `json:"delta"`
}

type ResponseDone struct {
	Type     EventType `json:"type"`
	Response Response  `json:"response"`
}

type Response struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	StatusDetails *StatusDetails `json:"status_details,omitempty"`
	Output        []OutputItem   `json:"output"`
}

type StatusDetails struct {
	Type  string       `json:"type"`
	Error *ErrorDetail `json:"error,omitempty"`
}

type OutputItem struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Role      string        `json:"role,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// Text returns the first non-empty text or transcript in a message item.
func (i OutputItem) Text() string {
	for _, part := range i.Content {
		if part.Text != "" {
			return part.Text
		}
		if part.Transcript != "" {
			return part.Transcript
		}
	}
	return ""
}

type OutputAudioStopped struct {
	Type EventType `json:"type"`
}

type ServerError struct {
	Type  EventType   `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// UnknownEvent carries the discriminant of an event this client does not
// interpret. Receiving one is not an error.
type UnknownEvent struct {
	Type EventType
}

// --- Client events ---

type SessionUpdate struct {
	Type    EventType    `json:"type"`
	Session SessionPatch `json:"session"`
}

// SessionPatch deliberately omits omitempty on TurnDetection: a nil value
// marshals as explicit null, which is how server VAD is switched off.
type SessionPatch struct {
	TurnDetection *TurnDetection `json:"turn_detection"`
}

type TurnDetection struct {
	Type string `json:"type"`
}

// NewTurnDetectionUpdate builds the session.update that toggles server VAD.
func NewTurnDetectionUpdate(enabled bool) SessionUpdate {
	evt := SessionUpdate{Type: TypeSessionUpdate}
	if enabled {
		evt.Session.TurnDetection = &TurnDetection{Type: "server_vad"}
	}
	return evt
}

type InputAudioAppend struct {
	Type  EventType `json:"type"`
	Audio string    `json:"audio"`
}

type InputAudioCommit struct {
	Type EventType `json:"type"`
}

type ResponseCreate struct {
	Type EventType `json:"type"`
}

type ItemCreate struct {
	Type EventType        `json:"type"`
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// NewFunctionCallOutput builds the conversation.item.create carrying one
// tool result. The call_id must be echoed verbatim from the function_call
// item it answers.
func NewFunctionCallOutput(callID, output string) ItemCreate {
	return ItemCreate{
		Type: TypeItemCreate,
		Item: ConversationItem{
			Type:   ItemTypeFunctionCallOutput,
			CallID: callID,
			Output: output,
		},
	}
}

// ParseServerEvent decodes one inbound control-channel frame into its typed
// event. Unrecognized discriminants return UnknownEvent with a nil error;
// malformed JSON is the only failure.
func ParseServerEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionCreated:
		var evt SessionCreated
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeSessionUpdated:
		var evt SessionUpdated
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeSpeechStarted:
		var evt SpeechStarted
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeSpeechStopped:
		var evt SpeechStopped
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeInputCommitted:
		var evt InputCommitted
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeInputTranscriptDone:
		var evt InputTranscriptDone
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeResponseCreated:
		var evt ResponseCreated
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeAudioTranscriptDelta:
		var evt AudioTranscriptDelta
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeTextDelta:
		var evt TextDelta
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeAudioDelta:
		var evt AudioDelta
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeFunctionCallArgsDelta:
		var evt FunctionCallArgsDelta
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeResponseDone:
		var evt ResponseDone
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeOutputAudioStopped:
		var evt OutputAudioStopped
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	case TypeServerError:
		var evt ServerError
		if err := json.Unmarshal(raw, &evt); err != nil {
			return nil, err
		}
		return evt, nil
	default:
		return UnknownEvent{Type: env.Type}, nil
	}
}
