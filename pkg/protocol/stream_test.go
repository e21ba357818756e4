package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseStreamEvent_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		kind     StreamKind
		text     string
		hasText  bool
		errorMsg string
	}{
		{"state delta", `{"state":"delta","delta":"Hel"}`, StreamDelta, "Hel", true, ""},
		{"bare delta", `{"delta":"lo"}`, StreamDelta, "lo", true, ""},
		{"kind delta text", `{"kind":"delta","text":"a"}`, StreamDelta, "a", true, ""},
		{"kind delta content", `{"kind":"delta","content":"b"}`, StreamDelta, "b", true, ""},
		{"delta message blocks", `{"state":"delta","message":{"role":"assistant","content":[{"type":"text","text":"c"}]}}`, StreamDelta, "c", true, ""},
		{"final empty", `{"state":"final"}`, StreamFinal, "", false, ""},
		{"done with content", `{"kind":"done","content":"all"}`, StreamFinal, "all", true, ""},
		{"complete with text", `{"state":"complete","text":"t"}`, StreamFinal, "t", true, ""},
		{"end with message", `{"state":"end","message":{"content":"m"}}`, StreamFinal, "m", true, ""},
		{"ack", `{"state":"ack"}`, StreamAck, "", false, ""},
		{"error", `{"state":"error","errorMessage":"boom"}`, StreamError, "", false, "boom"},
		{"aborted", `{"state":"aborted"}`, StreamError, "", false, "run aborted"},
		{"delta without text", `{"state":"delta"}`, StreamIgnore, "", false, ""},
		{"unknown tag", `{"state":"thinking","text":"x"}`, StreamIgnore, "", false, ""},
		{"not an object", `"hello"`, StreamIgnore, "", false, ""},
		{"empty", `{}`, StreamIgnore, "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := ParseStreamEvent(EventChat, json.RawMessage(tt.payload))
			if ev.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", ev.Kind, tt.kind)
			}
			if ev.Text != tt.text || ev.HasText != tt.hasText {
				t.Errorf("text = %q (has=%v), want %q (has=%v)", ev.Text, ev.HasText, tt.text, tt.hasText)
			}
			if ev.Err != tt.errorMsg {
				t.Errorf("err = %q, want %q", ev.Err, tt.errorMsg)
			}
		})
	}
}

func TestParseStreamEvent_Identity(t *testing.T) {
	ev := ParseStreamEvent(EventAgent, json.RawMessage(`{"state":"delta","delta":"x","sessionKey":"agent:a:b","runId":"r1"}`))
	if ev.SessionKey != "agent:a:b" || ev.RunID != "r1" || ev.Event != EventAgent {
		t.Errorf("unexpected identity: %+v", ev)
	}
}
