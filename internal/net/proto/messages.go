package proto

import (
	"encoding/json"
	"errors"
	"fmt"

	"stutterguard/server/internal/metadata"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for outbound websocket frames.
	typeJoinGame         = "joinGame"
	typeSpawnPlayer      = "spawnPlayer"
	typeDestroyEntities  = "destroyEntities"
	typeEntityMetadata   = "entityMetadata"
	typeEntityAttributes = "entityAttributes"
	typeHeartbeat        = "heartbeat"
	typeConsoleAck       = "console_ack"
)

// Exported aliases for outbound frame type identifiers.
const (
	TypeEntityMetadata   = typeEntityMetadata
	TypeEntityAttributes = typeEntityAttributes
	TypeSpawnPlayer      = typeSpawnPlayer
	TypeDestroyEntities  = typeDestroyEntities
	TypeJoinGame         = typeJoinGame
	TypeConsoleAck       = typeConsoleAck
	TypeHeartbeatAck     = typeHeartbeat
)

var ErrUnknownFrame = errors.New("proto: unknown frame type")

// Packet is an outbound server frame. The set of variants is closed; only
// this package implements it.
type Packet interface {
	frameType() string
}

// EntityMetadata broadcasts changed metadata fields of one entity.
type EntityMetadata struct {
	EntityID int32        `json:"entityId"`
	Fields   metadata.Map `json:"fields"`
}

// EntityAttributes broadcasts computed attribute values of one entity.
type EntityAttributes struct {
	EntityID   int32               `json:"entityId"`
	Properties []AttributeProperty `json:"properties"`
}

// AttributeProperty is one computed attribute value.
type AttributeProperty struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// AttributeMovementSpeed is the key of the sprint-dependent speed attribute.
const AttributeMovementSpeed = "movement_speed"

// PlayerInfo describes a connected player in join and spawn frames.
type PlayerInfo struct {
	EntityID int32        `json:"entityId"`
	UUID     string       `json:"uuid"`
	Name     string       `json:"name"`
	Fields   metadata.Map `json:"fields,omitempty"`
}

// JoinGame is sent once to a freshly subscribed player.
type JoinGame struct {
	Self     PlayerInfo   `json:"self"`
	Players  []PlayerInfo `json:"players,omitempty"`
	Profile  string       `json:"profile"`
	TickRate int          `json:"tickRate"`
}

// SpawnPlayer announces another player to observers.
type SpawnPlayer struct {
	Player PlayerInfo `json:"player"`
}

// DestroyEntities removes entities from the receiving client.
type DestroyEntities struct {
	EntityIDs []int32 `json:"entityIds"`
}

// HeartbeatAck echoes timing metadata back to the client.
type HeartbeatAck struct {
	ServerTime int64 `json:"serverTime"`
	ClientTime int64 `json:"clientTime"`
	RTTMillis  int64 `json:"rtt"`
}

// ConsoleAck captures the outcome of a console command.
type ConsoleAck struct {
	Cmd    string `json:"cmd"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// NewConsoleAck constructs a baseline acknowledgement for the given command.
func NewConsoleAck(cmd string) *ConsoleAck {
	return &ConsoleAck{Cmd: cmd}
}

func (*EntityMetadata) frameType() string   { return typeEntityMetadata }
func (*EntityAttributes) frameType() string { return typeEntityAttributes }
func (*JoinGame) frameType() string         { return typeJoinGame }
func (*SpawnPlayer) frameType() string      { return typeSpawnPlayer }
func (*DestroyEntities) frameType() string  { return typeDestroyEntities }
func (*HeartbeatAck) frameType() string     { return typeHeartbeat }
func (*ConsoleAck) frameType() string       { return typeConsoleAck }

// TypeOf reports the wire type identifier of a packet.
func TypeOf(p Packet) string {
	if p == nil {
		return ""
	}
	return p.frameType()
}

type frame struct {
	Ver  int             `json:"ver"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode renders a packet inside the versioned frame envelope.
func Encode(p Packet) ([]byte, error) {
	if p == nil {
		return nil, errors.New("proto: encode nil packet")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("proto: encode %s: %w", p.frameType(), err)
	}
	return json.Marshal(frame{Ver: Version, Type: p.frameType(), Data: data})
}

// DecodeServerFrame parses an outbound frame back into its packet variant.
func DecodeServerFrame(payload []byte) (Packet, error) {
	var env frame
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.Ver != Version {
		return nil, fmt.Errorf("unsupported server protocol version %d", env.Ver)
	}

	var p Packet
	switch env.Type {
	case typeEntityMetadata:
		p = &EntityMetadata{}
	case typeEntityAttributes:
		p = &EntityAttributes{}
	case typeJoinGame:
		p = &JoinGame{}
	case typeSpawnPlayer:
		p = &SpawnPlayer{}
	case typeDestroyEntities:
		p = &DestroyEntities{}
	case typeHeartbeat:
		p = &HeartbeatAck{}
	case typeConsoleAck:
		p = &ConsoleAck{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFrame, env.Type)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("proto: decode %s: %w", env.Type, err)
	}
	return p, nil
}
