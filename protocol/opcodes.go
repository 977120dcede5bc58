package protocol

import "fmt"

// Version is the protocol version written in every packet header.
const Version uint16 = 0x0001

// Flags is the packet header flag set.
type Flags uint16

// FlagUseZlib marks a zlib compressed payload.
const FlagUseZlib Flags = 0x0100

// Opcode identifies the kind of packet.
type Opcode uint8

const (
	OpNoop          Opcode = 0x00
	OpActions       Opcode = 0x01
	OpDisconnect    Opcode = 0x02
	OpObjects       Opcode = 0x70
	OpSuccess       Opcode = 0x80
	OpProcessing    Opcode = 0x81
	OpFailure       Opcode = 0x82
	OpDisconnectAck Opcode = 0x83
)

// OpcodeNames maps opcodes to names for logging and metrics labels.
var OpcodeNames = map[Opcode]string{
	OpNoop:          "NOOP",
	OpActions:       "ACTIONS",
	OpDisconnect:    "DISCONNECT",
	OpObjects:       "OBJECTS",
	OpSuccess:       "SUCCESS",
	OpProcessing:    "PROCESSING",
	OpFailure:       "FAILURE",
	OpDisconnectAck: "DISCONNECT_ACK",
}

func (o Opcode) String() string {
	if n, ok := OpcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("0x%02x", uint8(o))
}

// TagType is the primitive type of a tag value.
type TagType uint8

const (
	TypeU8     TagType = 0x01
	TypeU16    TagType = 0x02
	TypeU32    TagType = 0x03
	TypeString TagType = 0x05
)

func (t TagType) String() string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeString:
		return "string"
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Known reports whether t has a defined primitive encoding.
func (t TagType) Known() bool {
	switch t {
	case TypeU8, TypeU16, TypeU32, TypeString:
		return true
	}
	return false
}

// Tag names. All names are even.
const (
	TagReason       uint16 = 0x0010
	TagProcessingID uint16 = 0x0012

	TagObjectRef     uint16 = 0x0700
	TagObjectType    uint16 = 0x0704
	TagProperty      uint16 = 0x0706
	TagPropertyValue uint16 = 0x0708

	TagMatchQuery  uint16 = 0x0710
	TagDetailLevel uint16 = 0x0712
	TagOffset      uint16 = 0x0714
	TagLimit       uint16 = 0x0716
	TagTypes       uint16 = 0x0718
	TagSortField   uint16 = 0x071A
	TagSortReverse uint16 = 0x071C

	TagExpression        uint16 = 0x0720
	TagCriterion         uint16 = 0x0722
	TagCriterionProperty uint16 = 0x0724
	TagCriterionValue    uint16 = 0x0726

	TagActionQuery   uint16 = 0x0730
	TagActionExecute uint16 = 0x0732
	TagProcessor     uint16 = 0x0734
	TagParam         uint16 = 0x0736
	TagParamValue    uint16 = 0x0738
	TagAction        uint16 = 0x073A
	TagParamType     uint16 = 0x073C
	TagParamOptional uint16 = 0x073E
)

// Detail levels for match queries.
const (
	DetailRefs  uint8 = 0
	DetailTypes uint8 = 1
	DetailProps uint8 = 2
)
