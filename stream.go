package cbor

// buildSequenceProlog assembles the fixed 12-byte protocol header of §4.5:
// the self-describe marker, a tag whose number is the caller's
// protocol_tag forced to a 4-byte argument width ("da PP PP PP PP"), and
// the 3-byte text string "BOR". Bytes 0-2 are the minimal 2-byte-argument
// encoding of tag 55799; the distilled spec's prose labels this "tag
// 55800", but the byte math (and its own worked example) only produce
// 55799 (0xD9F7) -- see DESIGN.md for the resolution.
func buildSequenceProlog(protocolTag uint32) []byte {
	buf := append([]byte(nil), sequenceMagic...)
	buf = emitHeadFixedWidth(buf, MajorTypeTag, uint64(protocolTag), 4)
	buf = append(buf, encodeInitialByte(MajorTypeTextString, 3))
	buf = append(buf, "BOR"...)
	return buf
}

// SequenceWriter encodes a stream of top-level CBOR data items back to back
// with no enclosing array (RFC 8742).
type SequenceWriter struct {
	buf  []byte
	opts []EncOption
}

// NewSequenceWriter returns a writer that, when protocolTag is non-zero,
// prefixes the stream with the fixed 12-byte prolog naming that protocol
// tag before the first item.
func NewSequenceWriter(protocolTag uint32, opts ...EncOption) *SequenceWriter {
	sw := &SequenceWriter{opts: opts}
	if protocolTag != 0 {
		sw.buf = append(sw.buf, buildSequenceProlog(protocolTag)...)
	}
	return sw
}

// WriteItem appends one encoded data item to the sequence.
func (sw *SequenceWriter) WriteItem(v any) error {
	data, err := Encode(v, sw.opts...)
	if err != nil {
		return err
	}
	sw.buf = append(sw.buf, data...)
	return nil
}

// Bytes returns the accumulated sequence.
func (sw *SequenceWriter) Bytes() []byte { return sw.buf }

// SequenceReader is a lazy forward-only iterator over a CBOR sequence.
type SequenceReader struct {
	data []byte
	opts []DecOption
}

// NewSequenceReader wraps data for sequential item-by-item decoding. When
// headerTags is non-empty, the first 12 bytes must be a prolog naming one
// of those protocol tags; a mismatch fails before any item is produced
// (§4.5: "fails MalformedItem before producing any item"). An empty
// headerTags means the sequence begins immediately with no prolog.
func NewSequenceReader(data []byte, headerTags []uint32, opts ...DecOption) (*SequenceReader, error) {
	if len(headerTags) == 0 {
		return &SequenceReader{data: data, opts: opts}, nil
	}

	const prologLen = 12
	if len(data) < prologLen || string(data[:3]) != string(sequenceMagic) {
		return nil, ErrMalformedItemDetail("missing CBOR sequence prolog")
	}
	mt, ai := decodeInitialByte(data[3])
	if mt != MajorTypeTag || ai != byte(AdditionalInfo32Bit) {
		return nil, ErrMalformedItemDetail("sequence prolog protocol tag is not 4-byte encoded")
	}
	gotTag := uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7])
	matched := false
	for _, want := range headerTags {
		if want == gotTag {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrMalformedItemDetail("sequence prolog protocol tag does not match header_tags")
	}
	if string(data[8:12]) != "\x63BOR" {
		return nil, ErrMalformedItemDetail("sequence prolog missing protocol label")
	}
	return &SequenceReader{data: data[prologLen:], opts: opts}, nil
}

// More reports whether another item remains to be read.
func (sr *SequenceReader) More() bool { return len(sr.data) > 0 }

// Next decodes and returns the next item in the sequence. It fails with
// ErrUnexpectedEndOfData if the stream ends mid-item.
func (sr *SequenceReader) Next() (Value, error) {
	o := newDecOptions(sr.opts)
	d := newDecodeState(sr.data, o)
	v, err := d.decodeTop()
	if err != nil {
		return nil, err
	}
	sr.data = sr.data[d.r.CurrentOffset():]
	return v, nil
}
