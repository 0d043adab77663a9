package metadata

import (
	"encoding/json"
	"fmt"
	"math"
)

// FieldID is the stable numeric index of one metadata field.
type FieldID uint8

// Type identifies the wire type of an Entry value.
type Type uint8

const (
	TypeByte Type = iota
	TypeVarInt
	TypeFloat
	TypeString
	TypeBool
	TypePose
)

var typeNames = map[Type]string{
	TypeByte:   "byte",
	TypeVarInt: "varint",
	TypeFloat:  "float",
	TypeString: "string",
	TypeBool:   "bool",
	TypePose:   "pose",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func parseType(name string) (Type, bool) {
	for t, candidate := range typeNames {
		if candidate == name {
			return t, true
		}
	}
	return 0, false
}

// Entry is one typed metadata value. Entries are immutable.
type Entry struct {
	typ   Type
	value any
}

func Byte(value byte) Entry      { return Entry{typ: TypeByte, value: value} }
func VarInt(value int32) Entry   { return Entry{typ: TypeVarInt, value: value} }
func Float(value float32) Entry  { return Entry{typ: TypeFloat, value: value} }
func String(value string) Entry  { return Entry{typ: TypeString, value: value} }
func Bool(value bool) Entry      { return Entry{typ: TypeBool, value: value} }
func PoseEntry(value Pose) Entry { return Entry{typ: TypePose, value: value} }

func (e Entry) Type() Type { return e.typ }
func (e Entry) Value() any { return e.value }

// Equal reports whether both entries carry the same type and value.
func (e Entry) Equal(other Entry) bool {
	return e.typ == other.typ && e.value == other.value
}

// AsByte reports the value of a bit-packable entry.
func (e Entry) AsByte() (byte, bool) {
	if e.typ != TypeByte {
		return 0, false
	}
	value, ok := e.value.(byte)
	return value, ok
}

// AsPose reports the value of a pose entry.
func (e Entry) AsPose() (Pose, bool) {
	if e.typ != TypePose {
		return 0, false
	}
	value, ok := e.value.(Pose)
	return value, ok
}

func (e Entry) String() string {
	switch e.typ {
	case TypeByte:
		return fmt.Sprintf("byte(0x%02x)", e.value)
	case TypePose:
		if pose, ok := e.value.(Pose); ok {
			return fmt.Sprintf("pose(%s)", pose)
		}
	}
	return fmt.Sprintf("%s(%v)", e.typ, e.value)
}

type entryWire struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entryWire{Type: e.typ.String(), Value: raw})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var wire entryWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	typ, ok := parseType(wire.Type)
	if !ok {
		return fmt.Errorf("metadata: unknown entry type %q", wire.Type)
	}

	switch typ {
	case TypeByte, TypeVarInt, TypePose:
		var number int64
		if err := json.Unmarshal(wire.Value, &number); err != nil {
			return fmt.Errorf("metadata: decode %s value: %w", typ, err)
		}
		switch typ {
		case TypeByte:
			if number < 0 || number > math.MaxUint8 {
				return fmt.Errorf("metadata: byte value %d out of range", number)
			}
			*e = Byte(byte(number))
		case TypeVarInt:
			if number < math.MinInt32 || number > math.MaxInt32 {
				return fmt.Errorf("metadata: varint value %d out of range", number)
			}
			*e = VarInt(int32(number))
		default:
			*e = PoseEntry(Pose(number))
		}
	case TypeFloat:
		var number float32
		if err := json.Unmarshal(wire.Value, &number); err != nil {
			return fmt.Errorf("metadata: decode float value: %w", err)
		}
		*e = Float(number)
	case TypeString:
		var text string
		if err := json.Unmarshal(wire.Value, &text); err != nil {
			return fmt.Errorf("metadata: decode string value: %w", err)
		}
		*e = String(text)
	case TypeBool:
		var flag bool
		if err := json.Unmarshal(wire.Value, &flag); err != nil {
			return fmt.Errorf("metadata: decode bool value: %w", err)
		}
		*e = Bool(flag)
	}
	return nil
}
