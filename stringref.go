package cbor

// stringRefEntry is one string-ref table slot: the raw bytes plus whether
// they came from a text string (major type 3) or a byte string (major type
// 2), so a tag-25 backreference can reconstruct the same Value kind that was
// originally registered.
type stringRefEntry struct {
	raw    []byte
	isText bool
}

// stringRefScope is one tag-256 namespace: the sequence of byte/text
// strings emitted (encode) or seen (decode) since the scope was entered.
// Nested scopes do not inherit parent entries, so scopes nest as a stack.
type stringRefScope struct {
	entries []stringRefEntry // byte strings and text strings share one namespace, keyed also by kind
}

type stringRefStack struct {
	scopes []*stringRefScope
}

func (s *stringRefStack) push() *stringRefScope {
	scope := &stringRefScope{}
	s.scopes = append(s.scopes, scope)
	return scope
}

func (s *stringRefStack) pop() {
	s.scopes = s.scopes[:len(s.scopes)-1]
}

func (s *stringRefStack) active() *stringRefScope {
	if len(s.scopes) == 0 {
		return nil
	}
	return s.scopes[len(s.scopes)-1]
}

// indexOf returns the table index of raw/isText within the active scope, if
// the active scope already emitted/saw that exact raw content with that
// exact kind. A byte string and a text string with identical bytes are
// distinct entries, since a backreference must resolve to the same Value
// kind the original was.
func (s *stringRefScope) indexOf(raw []byte, isText bool) (int, bool) {
	for i, e := range s.entries {
		if e.isText == isText && string(e.raw) == string(raw) {
			return i, true
		}
	}
	return 0, false
}

func (s *stringRefScope) append(raw []byte, isText bool) int {
	s.entries = append(s.entries, stringRefEntry{raw: raw, isText: isText})
	return len(s.entries) - 1
}

func (s *stringRefScope) at(index int) (stringRefEntry, error) {
	if index < 0 || index >= len(s.entries) {
		return stringRefEntry{}, ErrShareIndexInvalid
	}
	return s.entries[index], nil
}

// stringRefEligible reports whether referencing the string already at
// table index idx (about to become old size n) is strictly shorter than
// emitting it raw again, per the formula in §4.3: the reference is only
// worth taking when tag25's head-for-idx plus its own head is shorter than
// the head-for-length(raw) plus raw itself.
func stringRefEligible(idx int, raw []byte) bool {
	refLen := headByteLen(uint64(TagStringRef)) + headByteLen(uint64(idx))
	rawLen := headByteLen(uint64(len(raw))) + len(raw)
	return refLen < rawLen
}

// headByteLen returns the number of bytes emit_head would produce for a
// head whose argument is v (major type doesn't affect the width).
func headByteLen(v uint64) int {
	switch {
	case v < 24:
		return 1
	case v <= 0xFF:
		return 2
	case v <= 0xFFFF:
		return 3
	case v <= 0xFFFFFFFF:
		return 5
	default:
		return 9
	}
}
