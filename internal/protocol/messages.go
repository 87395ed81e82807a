package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeSpeechControl MessageType = "speech_control"
	TypeSpeechEvent   MessageType = "speech_event"
	TypeErrorEvent    MessageType = "error_event"
)

// Speech control actions a client may send.
const (
	ActionStop   = "stop"
	ActionStatus = "status"
)

var (
	ErrUnsupportedType   = errors.New("unsupported message type")
	ErrUnsupportedAction = errors.New("unsupported action")
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type SpeechControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// SpeechEvent reports a job lifecycle transition. It never carries job ids,
// file paths or process ids.
type SpeechEvent struct {
	Type   MessageType `json:"type"`
	Kind   string      `json:"kind"`
	State  string      `json:"state"`
	Audio  bool        `json:"audio,omitempty"`
	Detail string      `json:"detail,omitempty"`
	TSMs   int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeSpeechControl:
		var msg SpeechControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Action = strings.ToLower(strings.TrimSpace(msg.Action))
		switch msg.Action {
		case ActionStop, ActionStatus:
			return msg, nil
		case "":
			return nil, errors.New("invalid speech_control: missing action")
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, msg.Action)
		}
	default:
		return nil, ErrUnsupportedType
	}
}
