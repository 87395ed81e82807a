package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageStop(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"speech_control","action":" Stop "}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	control, ok := msg.(SpeechControl)
	if !ok {
		t.Fatalf("message type = %T, want SpeechControl", msg)
	}
	if control.Action != ActionStop {
		t.Fatalf("Action = %q, want %q", control.Action, ActionStop)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"speech_control","action":"rewind"}`))
	if !errors.Is(err, ErrUnsupportedAction) {
		t.Fatalf("error = %v, want ErrUnsupportedAction", err)
	}
}

func TestParseClientMessageRejectsMissingAction(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"speech_control"}`)); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestParseClientMessageRejectsGarbage(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestSpeechEventOmitsEmptyFields(t *testing.T) {
	b, err := json.Marshal(SpeechEvent{Type: TypeSpeechEvent, Kind: "started", State: "speaking", TSMs: 1})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if got, want := string(b), `{"type":"speech_event","kind":"started","state":"speaking","ts_ms":1}`; got != want {
		t.Fatalf("json = %s, want %s", got, want)
	}
}

func BenchmarkParseClientMessageControl(b *testing.B) {
	raw := []byte(`{"type":"speech_control","action":"stop"}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := ParseClientMessage(raw); err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
	}
}
