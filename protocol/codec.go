package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

const (
	// HeaderSize is the size of the fixed packet header.
	HeaderSize = 8
	// MaxPayloadSize bounds the payload a reader accepts, compressed or not.
	MaxPayloadSize = 16 << 20

	maxDepth = 32
)

// EncodeOptions controls packet encoding.
type EncodeOptions struct {
	Zlib bool
}

// Header is the fixed packet header.
type Header struct {
	Version uint16
	Flags   Flags
	Length  uint32
}

// ParseHeader decodes and checks a packet header. A version other than
// Version fails with ErrVersionMismatch.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d bytes)", ErrFraming, len(b))
	}
	h := Header{
		Version: binary.BigEndian.Uint16(b[0:2]),
		Flags:   Flags(binary.BigEndian.Uint16(b[2:4])),
		Length:  binary.BigEndian.Uint32(b[4:8]),
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: got 0x%04x, want 0x%04x", ErrVersionMismatch, h.Version, Version)
	}
	if h.Length > MaxPayloadSize {
		return h, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrFraming, h.Length)
	}
	return h, nil
}

// Encode serializes p. The zlib flag of the output header is taken from
// opts, not from p.Flags.
func Encode(p *Packet, opts EncodeOptions) ([]byte, error) {
	var payload []byte
	payload = append(payload, uint8(p.Opcode))
	if len(p.Tags) > 0xffff {
		return nil, fmt.Errorf("protocol: too many tags (%d)", len(p.Tags))
	}
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(p.Tags)))
	for _, t := range p.Tags {
		var err error
		if payload, err = appendTag(payload, t, 0); err != nil {
			return nil, err
		}
	}

	flags := p.Flags &^ FlagUseZlib
	if opts.Zlib {
		flags |= FlagUseZlib
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		payload = buf.Bytes()
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("protocol: payload of %d bytes exceeds limit", len(payload))
	}

	version := p.Version
	if version == 0 {
		version = Version
	}
	out := make([]byte, 0, HeaderSize+len(payload))
	out = binary.BigEndian.AppendUint16(out, version)
	out = binary.BigEndian.AppendUint16(out, uint16(flags))
	out = binary.BigEndian.AppendUint32(out, uint32(len(payload)))
	return append(out, payload...), nil
}

// Decode parses a complete packet. The returned packet never carries the
// zlib flag; compression is a property of the encoding only.
func Decode(b []byte) (*Packet, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if uint32(len(b)-HeaderSize) != h.Length {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, got %d", ErrFraming, h.Length, len(b)-HeaderSize)
	}
	return decodePayload(h, b[HeaderSize:])
}

// ReadPacket reads one packet from r. The header is checked before the
// payload is read. A clean end of stream before any header byte returns io.EOF.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated header", ErrFraming)
		}
		return nil, err
	}
	h, err := ParseHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated payload", ErrFraming)
		}
		return nil, err
	}
	return decodePayload(h, payload)
}

// WritePacket encodes p and writes it to w in one call.
func WritePacket(w io.Writer, p *Packet, opts EncodeOptions) error {
	b, err := Encode(p, opts)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func decodePayload(h Header, payload []byte) (*Packet, error) {
	if h.Flags&FlagUseZlib != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrFraming, err)
		}
		inflated, err := io.ReadAll(io.LimitReader(zr, MaxPayloadSize+1))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrFraming, err)
		}
		if len(inflated) > MaxPayloadSize {
			return nil, fmt.Errorf("%w: inflated payload exceeds limit", ErrFraming)
		}
		payload = inflated
	}

	r := &cursor{b: payload}
	op, err := r.u8()
	if err != nil {
		return nil, err
	}
	count, err := r.u16()
	if err != nil {
		return nil, err
	}
	p := &Packet{
		Version:    h.Version,
		Flags:      h.Flags &^ FlagUseZlib,
		Opcode:     Opcode(op),
		Compressed: h.Flags&FlagUseZlib != 0,
	}
	for i := 0; i < int(count); i++ {
		t, err := readTag(r, 0)
		if err != nil {
			return nil, err
		}
		p.Tags = append(p.Tags, t)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrFraming, r.remaining())
	}
	return p, nil
}

func primitive(t *Tag) ([]byte, error) {
	switch t.Type {
	case TypeU8:
		if t.Num > 0xff {
			return nil, fmt.Errorf("protocol: tag 0x%04x: %d overflows u8", t.Name, t.Num)
		}
		return []byte{uint8(t.Num)}, nil
	case TypeU16:
		if t.Num > 0xffff {
			return nil, fmt.Errorf("protocol: tag 0x%04x: %d overflows u16", t.Name, t.Num)
		}
		return binary.BigEndian.AppendUint16(nil, uint16(t.Num)), nil
	case TypeU32:
		return binary.BigEndian.AppendUint32(nil, t.Num), nil
	case TypeString:
		if strings.IndexByte(t.Str, 0) >= 0 {
			return nil, fmt.Errorf("protocol: tag 0x%04x: string contains NUL", t.Name)
		}
		return append([]byte(t.Str), 0), nil
	}
	return t.Raw, nil
}

func appendTag(b []byte, t *Tag, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("protocol: tags nested deeper than %d", maxDepth)
	}
	prim, err := primitive(t)
	if err != nil {
		return nil, err
	}
	name := t.Name &^ 1
	if len(t.Subtags) > 0 {
		name |= 1
	}
	b = binary.BigEndian.AppendUint16(b, name)
	b = append(b, uint8(t.Type))
	lenAt := len(b)
	b = binary.BigEndian.AppendUint32(b, 0)
	start := len(b)
	if len(t.Subtags) > 0 {
		if len(t.Subtags) > 0xffff {
			return nil, fmt.Errorf("protocol: tag 0x%04x: too many subtags", t.Name)
		}
		b = binary.BigEndian.AppendUint16(b, uint16(len(t.Subtags)))
		for _, s := range t.Subtags {
			if b, err = appendTag(b, s, depth+1); err != nil {
				return nil, err
			}
		}
	}
	b = append(b, prim...)
	binary.BigEndian.PutUint32(b[lenAt:], uint32(len(b)-start))
	return b, nil
}

func readTag(r *cursor, depth int) (*Tag, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: tags nested deeper than %d", ErrFraming, maxDepth)
	}
	rawName, err := r.u16()
	if err != nil {
		return nil, err
	}
	typ, err := r.u8()
	if err != nil {
		return nil, err
	}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	body, err := r.take(int(n))
	if err != nil {
		return nil, err
	}

	t := &Tag{Name: rawName &^ 1, Type: TagType(typ)}
	br := &cursor{b: body}
	if rawName&1 != 0 {
		count, err := br.u16()
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(count); i++ {
			s, err := readTag(br, depth+1)
			if err != nil {
				return nil, err
			}
			t.Subtags = append(t.Subtags, s)
		}
	}

	prim := br.b[br.off:]
	switch t.Type {
	case TypeU8:
		if len(prim) != 1 {
			return nil, fmt.Errorf("%w: u8 tag 0x%04x has %d body bytes", ErrFraming, t.Name, len(prim))
		}
		t.Num = uint32(prim[0])
	case TypeU16:
		if len(prim) != 2 {
			return nil, fmt.Errorf("%w: u16 tag 0x%04x has %d body bytes", ErrFraming, t.Name, len(prim))
		}
		t.Num = uint32(binary.BigEndian.Uint16(prim))
	case TypeU32:
		if len(prim) != 4 {
			return nil, fmt.Errorf("%w: u32 tag 0x%04x has %d body bytes", ErrFraming, t.Name, len(prim))
		}
		t.Num = binary.BigEndian.Uint32(prim)
	case TypeString:
		if len(prim) == 0 || prim[len(prim)-1] != 0 {
			return nil, fmt.Errorf("%w: string tag 0x%04x is not NUL terminated", ErrFraming, t.Name)
		}
		s := prim[:len(prim)-1]
		if bytes.IndexByte(s, 0) >= 0 || !utf8.Valid(s) {
			return nil, fmt.Errorf("%w: string tag 0x%04x is not valid UTF-8", ErrFraming, t.Name)
		}
		t.Str = string(s)
	default:
		t.Raw = append([]byte(nil), prim...)
	}
	return t, nil
}

type cursor struct {
	b   []byte
	off int
}

func (c *cursor) remaining() int { return len(c.b) - c.off }

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrFraming, n, c.remaining())
	}
	out := c.b[c.off : c.off+n]
	c.off += n
	return out, nil
}

func (c *cursor) u8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}
