// Package protocol implements the binary tag protocol spoken on the nestor
// control socket.
//
// A packet is an 8-byte header followed by a payload:
//
//	header:  u16 version | u16 flags | u32 payload_length
//	payload: u8 opcode | u16 tag_count | tags...
//	tag:     u16 name|has_subtags | u8 type | u32 body_length
//	         [u16 subtag_count | subtags...] primitive
//
// Integers are big-endian. Strings are UTF-8 followed by one NUL byte. The
// body length covers everything after the length field, so a decoder can
// skip tags of unknown type. When FlagUseZlib is set the payload is a single
// zlib stream and payload_length is its compressed size.
//
// Tag names are even; the low bit of the encoded name only signals that
// subtags follow. Tag and subtag order is preserved in both directions and
// lookups by name return the first occurrence.
package protocol
