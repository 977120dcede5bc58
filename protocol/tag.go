package protocol

import (
	"errors"
	"fmt"
)

// Tag is a named, typed value with optional ordered subtags.
type Tag struct {
	// Name is the even tag name; the subtag bit is derived from Subtags.
	Name    uint16
	Type    TagType
	Num     uint32
	Str     string
	Subtags []*Tag
	// Raw holds the primitive body of a tag whose type is unknown.
	Raw []byte
}

func U8(name uint16, v uint8) *Tag   { return &Tag{Name: name, Type: TypeU8, Num: uint32(v)} }
func U16(name uint16, v uint16) *Tag { return &Tag{Name: name, Type: TypeU16, Num: uint32(v)} }
func U32(name uint16, v uint32) *Tag { return &Tag{Name: name, Type: TypeU32, Num: v} }
func Str(name uint16, s string) *Tag { return &Tag{Name: name, Type: TypeString, Str: s} }

// Add appends subtags and returns t.
func (t *Tag) Add(sub ...*Tag) *Tag {
	t.Subtags = append(t.Subtags, sub...)
	return t
}

// Sub returns the first subtag named name, or nil.
func (t *Tag) Sub(name uint16) *Tag {
	return find(t.Subtags, name)
}

// SubAll returns every subtag named name, in order.
func (t *Tag) SubAll(name uint16) []*Tag {
	return findAll(t.Subtags, name)
}

// Uint returns the value of an integer tag.
func (t *Tag) Uint() (uint32, error) {
	switch t.Type {
	case TypeU8, TypeU16, TypeU32:
		return t.Num, nil
	case TypeString:
		return 0, fmt.Errorf("tag 0x%04x: %w", t.Name, ErrWrongType)
	}
	return 0, fmt.Errorf("tag 0x%04x type 0x%02x: %w", t.Name, uint8(t.Type), ErrUnknownTagType)
}

// Text returns the value of a string tag.
func (t *Tag) Text() (string, error) {
	switch t.Type {
	case TypeString:
		return t.Str, nil
	case TypeU8, TypeU16, TypeU32:
		return "", fmt.Errorf("tag 0x%04x: %w", t.Name, ErrWrongType)
	}
	return "", fmt.Errorf("tag 0x%04x type 0x%02x: %w", t.Name, uint8(t.Type), ErrUnknownTagType)
}

// Equal compares two tags including subtag order.
func (t *Tag) Equal(o *Tag) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Name != o.Name || t.Type != o.Type || t.Num != o.Num || t.Str != o.Str ||
		string(t.Raw) != string(o.Raw) || len(t.Subtags) != len(o.Subtags) {
		return false
	}
	for i := range t.Subtags {
		if !t.Subtags[i].Equal(o.Subtags[i]) {
			return false
		}
	}
	return true
}

// Packet is a decoded protocol packet.
type Packet struct {
	Version uint16
	// Flags never carries FlagUseZlib; compression is chosen per write
	// through EncodeOptions.
	Flags  Flags
	Opcode Opcode
	Tags   []*Tag

	// Compressed reports that the packet arrived with a zlib payload. It is
	// set by the decoder only and ignored by Equal.
	Compressed bool
}

// NewPacket returns a packet for the current protocol version.
func NewPacket(op Opcode, tags ...*Tag) *Packet {
	return &Packet{Version: Version, Opcode: op, Tags: tags}
}

// Add appends tags and returns p.
func (p *Packet) Add(tags ...*Tag) *Packet {
	p.Tags = append(p.Tags, tags...)
	return p
}

// Tag returns the first tag named name, or nil.
func (p *Packet) Tag(name uint16) *Tag {
	return find(p.Tags, name)
}

// TagsNamed returns every tag named name, in order.
func (p *Packet) TagsNamed(name uint16) []*Tag {
	return findAll(p.Tags, name)
}

// Equal compares two packets component-wise.
func (p *Packet) Equal(o *Packet) bool {
	if p.Version != o.Version || p.Flags != o.Flags || p.Opcode != o.Opcode || len(p.Tags) != len(o.Tags) {
		return false
	}
	for i := range p.Tags {
		if !p.Tags[i].Equal(o.Tags[i]) {
			return false
		}
	}
	return true
}

func find(tags []*Tag, name uint16) *Tag {
	for _, t := range tags {
		if t.Name == name {
			return t
		}
	}
	return nil
}

func findAll(tags []*Tag, name uint16) []*Tag {
	var out []*Tag
	for _, t := range tags {
		if t.Name == name {
			out = append(out, t)
		}
	}
	return out
}

var (
	// ErrVersionMismatch is returned when a header declares another protocol version.
	ErrVersionMismatch = errors.New("protocol version mismatch")
	// ErrFraming is returned for truncated or malformed packets.
	ErrFraming = errors.New("malformed packet")
	// ErrUnknownTagType is returned when reading the value of a tag of unknown type.
	ErrUnknownTagType = errors.New("unknown tag type")
	// ErrWrongType is returned when reading a tag value as the wrong primitive.
	ErrWrongType = errors.New("wrong tag type")
)
