package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseServerEventTypes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "speech started",
			raw:  `{"type":"input_audio_buffer.speech_started","audio_start_ms":120,"item_id":"item_1"}`,
			want: SpeechStarted{Type: TypeSpeechStarted, AudioStart: 120, ItemID: "item_1"},
		},
		{
			name: "speech stopped",
			raw:  `{"type":"input_audio_buffer.speech_stopped","audio_end_ms":950,"item_id":"item_1"}`,
			want: SpeechStopped{Type: TypeSpeechStopped, AudioEnd: 950, ItemID: "item_1"},
		},
		{
			name: "input transcript",
			raw:  `{"type":"conversation.item.input_audio_transcription.completed","item_id":"item_1","transcript":"hello"}`,
			want: InputTranscriptDone{Type: TypeInputTranscriptDone, ItemID: "item_1", Transcript: "hello"},
		},
		{
			name: "audio transcript delta",
			raw:  `{"type":"response.audio_transcript.delta","delta":"Sure, "}`,
			want: AudioTranscriptDelta{Type: TypeAudioTranscriptDelta, Delta: "Sure, "},
		},
		{
			name: "function call args delta",
			raw:  `{"type":"response.function_call_arguments.delta","call_id":"call_1","delta":"{\"ti"}`,
			want: FunctionCallArgsDelta{Type: TypeFunctionCallArgsDelta, CallID: "call_1", Delta: `{"ti`},
		},
		{
			name: "server error",
			raw:  `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`,
			want: ServerError{Type: TypeServerError, Error: ErrorDetail{Type: "invalid_request_error", Code: "bad", Message: "nope"}},
		},
		{
			name: "output audio stopped",
			raw:  `{"type":"output_audio_buffer.stopped"}`,
			want: OutputAudioStopped{Type: TypeOutputAudioStopped},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseServerEvent([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseServerEvent: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestParseServerEventResponseDone(t *testing.T) {
	raw := `{
		"type": "response.done",
		"response": {
			"id": "resp_1",
			"status": "completed",
			"output": [
				{"id":"item_1","type":"message","role":"assistant","content":[{"type":"audio","transcript":"The post is live."}]},
				{"id":"item_2","type":"function_call","name":"create_post","arguments":"{\"title\":\"x\"}","call_id":"call_abc"}
			]
		}
	}`

	got, err := ParseServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseServerEvent: %v", err)
	}
	done, ok := got.(ResponseDone)
	if !ok {
		t.Fatalf("got %T, want ResponseDone", got)
	}
	if done.Response.Status != ResponseStatusCompleted {
		t.Fatalf("status = %q", done.Response.Status)
	}
	if len(done.Response.Output) != 2 {
		t.Fatalf("output len = %d", len(done.Response.Output))
	}
	if got := done.Response.Output[0].Text(); got != "The post is live." {
		t.Fatalf("message text = %q", got)
	}
	fc := done.Response.Output[1]
	if fc.Name != "create_post" || fc.CallID != "call_abc" {
		t.Fatalf("function call = %#v", fc)
	}
}

func TestParseServerEventFailedResponse(t *testing.T) {
	raw := `{"type":"response.done","response":{"id":"r","status":"failed","status_details":{"type":"failed","error":{"code":"server_error","message":"boom"}},"output":[]}}`
	got, err := ParseServerEvent([]byte(raw))
	if err != nil {
		t.Fatalf("ParseServerEvent: %v", err)
	}
	done := got.(ResponseDone)
	if done.Response.Status != ResponseStatusFailed {
		t.Fatalf("status = %q", done.Response.Status)
	}
	if done.Response.StatusDetails == nil || done.Response.StatusDetails.Error == nil {
		t.Fatal("missing status details")
	}
	if done.Response.StatusDetails.Error.Message != "boom" {
		t.Fatalf("error message = %q", done.Response.StatusDetails.Error.Message)
	}
}

func TestParseServerEventUnknownType(t *testing.T) {
	got, err := ParseServerEvent([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("unknown type should not error, got %v", err)
	}
	unk, ok := got.(UnknownEvent)
	if !ok {
		t.Fatalf("got %T, want UnknownEvent", got)
	}
	if unk.Type != "rate_limits.updated" {
		t.Fatalf("type = %q", unk.Type)
	}
}

func TestParseServerEventMalformed(t *testing.T) {
	if _, err := ParseServerEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestTurnDetectionUpdateMarshalsNull(t *testing.T) {
	raw, err := json.Marshal(NewTurnDetectionUpdate(false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"turn_detection":null`) {
		t.Fatalf("disabling VAD must send explicit null, got %s", raw)
	}

	raw, err = json.Marshal(NewTurnDetectionUpdate(true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"server_vad"`) {
		t.Fatalf("enabling VAD must send server_vad, got %s", raw)
	}
}

func TestFunctionCallOutputEchoesCallID(t *testing.T) {
	evt := NewFunctionCallOutput("call_42", `{"ok":true}`)
	raw, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Type string `json:"type"`
		Item struct {
			Type   string `json:"type"`
			CallID string `json:"call_id"`
			Output string `json:"output"`
		} `json:"item"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != string(TypeItemCreate) {
		t.Fatalf("type = %q", decoded.Type)
	}
	if decoded.Item.Type != ItemTypeFunctionCallOutput {
		t.Fatalf("item type = %q", decoded.Item.Type)
	}
	if decoded.Item.CallID != "call_42" {
		t.Fatalf("call_id = %q", decoded.Item.CallID)
	}
	if decoded.Item.Output != `{"ok":true}` {
		t.Fatalf("output = %q", decoded.Item.Output)
	}
}
