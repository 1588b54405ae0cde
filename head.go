package cbor

import "encoding/binary"

// This file holds the head codec primitives shared by every higher layer
// (writer, reader, and the stream helpers that need to emit a head of a
// caller-chosen width rather than the writer's usual minimal width).

// emitHeadFixedWidth appends a head for (mt, value) using exactly
// argWidth bytes of argument (1, 2, 4 or 8), regardless of whether a
// shorter encoding would round-trip the same value. It is used only by the
// CBOR sequence prolog, which fixes the protocol tag's head at "da" (4
// byte argument) so the 12-byte layout is recognizable regardless of the
// protocol tag's numeric value.
func emitHeadFixedWidth(buf []byte, mt MajorType, value uint64, argWidth int) []byte {
	switch argWidth {
	case 1:
		buf = append(buf, encodeInitialByte(mt, byte(AdditionalInfo8Bit)), byte(value))
	case 2:
		buf = append(buf, encodeInitialByte(mt, byte(AdditionalInfo16Bit)))
		buf = binary.BigEndian.AppendUint16(buf, uint16(value))
	case 4:
		buf = append(buf, encodeInitialByte(mt, byte(AdditionalInfo32Bit)))
		buf = binary.BigEndian.AppendUint32(buf, uint32(value))
	case 8:
		buf = append(buf, encodeInitialByte(mt, byte(AdditionalInfo64Bit)))
		buf = binary.BigEndian.AppendUint64(buf, value)
	default:
		panic("cbor: invalid fixed head width")
	}
	return buf
}

// sequenceMagic is the self-describe tag (55799) encoded at its minimal
// (2-byte argument) width: bytes d9 d9 f7. The RFC 8742 sequence prolog
// this package writes reuses that well-known 3-byte marker as its first
// field; see DESIGN.md for why this differs from spec.md's prose label of
// "tag 55800" while matching its own worked example byte-for-byte.
var sequenceMagic = emitHeadFixedWidth(nil, MajorTypeTag, uint64(TagSelfDescribedCbor), 2)
