package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client message type identifiers.
const (
	TypeInput        = "input"
	TypeEntityAction = "entityAction"
	TypeUseItem      = "useItem"
	TypePlayerAction = "playerAction"
	TypeHeartbeat    = "heartbeat"
	TypeConsole      = "console"
)

// Entity actions a client may report.
const (
	ActionStartSprinting        = "start_sprinting"
	ActionStopSprinting         = "stop_sprinting"
	ActionStartFlyingWithElytra = "start_flying_with_elytra"
)

// Player action statuses a client may report.
const (
	StatusReleaseUseItem = "release_use_item"
)

// Hands a client may raise.
const (
	HandMain = "main"
	HandOff  = "off"
)

var (
	ErrUnknownMessage = errors.New("proto: unknown client message type")
	ErrMalformed      = errors.New("proto: malformed client message")
)

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver    int        `json:"ver,omitempty"`
	Type   string     `json:"type"`
	Keys   *InputKeys `json:"keys,omitempty"`
	Action string     `json:"action,omitempty"`
	Hand   string     `json:"hand,omitempty"`
	Status string     `json:"status,omitempty"`
	SentAt int64      `json:"sentAt,omitempty"`
	Cmd    string     `json:"cmd,omitempty"`
	Args   []string   `json:"args,omitempty"`
}

// InputKeys mirrors the movement keys held by the client.
type InputKeys struct {
	Forward  bool `json:"forward,omitempty"`
	Backward bool `json:"backward,omitempty"`
	Left     bool `json:"left,omitempty"`
	Right    bool `json:"right,omitempty"`
	Jump     bool `json:"jump,omitempty"`
	Shift    bool `json:"shift,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// ClientPacket is a decoded client-to-server packet.
type ClientPacket interface {
	Type() string
}

type ClientInput struct {
	Keys InputKeys
}

type ClientEntityAction struct {
	Action string
}

type ClientUseItem struct {
	Hand string
}

type ClientPlayerAction struct {
	Status string
}

type ClientHeartbeat struct {
	SentAt int64
}

type ClientConsole struct {
	Cmd  string
	Args []string
}

func (*ClientInput) Type() string        { return TypeInput }
func (*ClientEntityAction) Type() string { return TypeEntityAction }
func (*ClientUseItem) Type() string      { return TypeUseItem }
func (*ClientPlayerAction) Type() string { return TypePlayerAction }
func (*ClientHeartbeat) Type() string    { return TypeHeartbeat }
func (*ClientConsole) Type() string      { return TypeConsole }

// ClientPacketOf validates a decoded message and returns its packet form.
func ClientPacketOf(msg ClientMessage) (ClientPacket, error) {
	switch msg.Type {
	case TypeInput:
		if msg.Keys == nil {
			return nil, fmt.Errorf("%w: input without keys", ErrMalformed)
		}
		return &ClientInput{Keys: *msg.Keys}, nil
	case TypeEntityAction:
		switch msg.Action {
		case ActionStartSprinting, ActionStopSprinting, ActionStartFlyingWithElytra:
			return &ClientEntityAction{Action: msg.Action}, nil
		}
		return nil, fmt.Errorf("%w: entity action %q", ErrMalformed, msg.Action)
	case TypeUseItem:
		hand := msg.Hand
		if hand == "" {
			hand = HandMain
		}
		if hand != HandMain && hand != HandOff {
			return nil, fmt.Errorf("%w: hand %q", ErrMalformed, msg.Hand)
		}
		return &ClientUseItem{Hand: hand}, nil
	case TypePlayerAction:
		if msg.Status != StatusReleaseUseItem {
			return nil, fmt.Errorf("%w: player action %q", ErrMalformed, msg.Status)
		}
		return &ClientPlayerAction{Status: msg.Status}, nil
	case TypeHeartbeat:
		return &ClientHeartbeat{SentAt: msg.SentAt}, nil
	case TypeConsole:
		cmd := strings.TrimSpace(msg.Cmd)
		if cmd == "" {
			return nil, fmt.Errorf("%w: empty console command", ErrMalformed)
		}
		return &ClientConsole{Cmd: cmd, Args: msg.Args}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMessage, msg.Type)
	}
}

// ParseClientPacket decodes and validates one client frame.
func ParseClientPacket(payload []byte) (ClientPacket, error) {
	msg, err := DecodeClientMessage(payload)
	if err != nil {
		return nil, err
	}
	return ClientPacketOf(msg)
}
