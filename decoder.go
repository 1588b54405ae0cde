package cbor

import (
	"reflect"
	"strings"
	"unicode/utf8"
)

// decodeState is the recursive-descent decoder engine (§4.4): it owns the
// share-table of reserved Cells, the string-ref scope stack, and the
// immutable-context flag threaded into map keys and tag-258 set elements.
type decodeState struct {
	r           *CborReader
	opts        *DecOptions
	shareTable  decodeShareTable
	stringRefs  stringRefStack
	immutable   bool
	pendingCell *Cell
	depth       int
}

// Decode reads exactly one CBOR data item from data into the Value domain.
func Decode(data []byte, opts ...DecOption) (Value, error) {
	o := newDecOptions(opts)
	return decodeTopLevel(data, o)
}

// DecodeFrom reads exactly one CBOR data item from data and fails with
// ErrTrailingData if bytes remain afterward.
func DecodeFrom(data []byte, opts ...DecOption) (Value, error) {
	o := newDecOptions(opts)
	d := newDecodeState(data, o)
	v, err := d.decodeTop()
	if err != nil {
		return nil, err
	}
	if d.r.BytesRemaining() > 0 {
		return nil, ErrTrailingData
	}
	return v, nil
}

func decodeTopLevel(data []byte, o *DecOptions) (Value, error) {
	d := newDecodeState(data, o)
	return d.decodeTop()
}

func newDecodeState(data []byte, o *DecOptions) *decodeState {
	d := &decodeState{
		r:    NewCborReader(data, WithReaderConformanceMode(o.ConformanceMode), WithReaderMaxNestingDepth(o.MaxDepth)),
		opts: o,
	}
	return d
}

func (d *decodeState) decodeTop() (Value, error) {
	v, err := d.decodeValue()
	if err != nil {
		return nil, err
	}
	if d.opts.ObjectHook != nil {
		v = d.applyObjectHookDeep(v)
	}
	return v, nil
}

// applyObjectHookDeep returns v unchanged: the object hook is applied
// inline in decodeMap to every decoded map, the top-level one included, so
// nothing is left to rewrite here.
func (d *decodeState) applyObjectHookDeep(v Value) Value {
	return v
}

func (d *decodeState) enterDepth() error {
	d.depth++
	if d.depth > d.opts.MaxDepth {
		return ErrStackOverflow
	}
	return nil
}

func (d *decodeState) leaveDepth() { d.depth-- }

// decodeValue reads one data item, handling the always-on tags (28/29/256)
// before falling through to the general tag-dispatch/major-type switch.
func (d *decodeState) decodeValue() (Value, error) {
	state, err := d.r.PeekState()
	if err != nil {
		return nil, err
	}

	switch state {
	case StateUnsignedInteger:
		v, err := d.r.ReadUint64()
		if err != nil {
			return nil, err
		}
		return NewUint(v), nil

	case StateNegativeInteger:
		n, err := d.r.ReadBigInt()
		if err != nil {
			return nil, err
		}
		return NewBigInt(n), nil

	case StateByteString, StateStartIndefiniteLengthByteString:
		b, err := d.r.ReadByteString()
		if err != nil {
			return nil, err
		}
		d.trackStringRef(b, false)
		return Bytes(b), nil

	case StateTextString, StateStartIndefiniteLengthTextString:
		s, err := d.decodeTextString()
		if err != nil {
			return nil, err
		}
		d.trackStringRef([]byte(s), true)
		return Text(s), nil

	case StateStartArray:
		return d.decodeArray()

	case StateStartMap:
		return d.decodeMap()

	case StateTag:
		return d.decodeTag()

	case StateBoolean:
		b, err := d.r.ReadBoolean()
		if err != nil {
			return nil, err
		}
		return Bool(b), nil

	case StateNull:
		if err := d.r.ReadNull(); err != nil {
			return nil, err
		}
		return Null{}, nil

	case StateUndefinedValue:
		if err := d.r.ReadUndefined(); err != nil {
			return nil, err
		}
		return Undefined{}, nil

	case StateSimpleValue:
		sv, err := d.r.ReadSimpleValue()
		if err != nil {
			return nil, err
		}
		return Simple(sv), nil

	case StateHalfPrecisionFloat, StateSinglePrecisionFloat, StateDoublePrecisionFloat:
		f, err := d.r.ReadFloat()
		if err != nil {
			return nil, err
		}
		return Float(f), nil

	default:
		return nil, ErrInvalidCbor
	}
}

func (d *decodeState) decodeTextString() (string, error) {
	s, err := d.r.ReadTextString()
	if err != nil {
		return "", err
	}
	if utf8.ValidString(s) {
		return s, nil
	}
	switch d.opts.StrErrors {
	case StrErrorsReplace:
		return strings.ToValidUTF8(s, "�"), nil
	case StrErrorsIgnore:
		return strings.ToValidUTF8(s, ""), nil
	}
	return "", ErrInvalidUtf8
}

func (d *decodeState) decodeArray() (Value, error) {
	if err := d.enterDepth(); err != nil {
		return nil, err
	}
	defer d.leaveDepth()

	n, err := d.r.ReadStartArray()
	if err != nil {
		return nil, err
	}

	items := make([]Value, 0)
	if n >= 0 {
		items = make([]Value, 0, n)
	}
	for {
		state, err := d.r.PeekState()
		if err != nil {
			return nil, err
		}
		if state == StateEndArray {
			break
		}
		v, err := d.decodeValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := d.r.ReadEndArray(); err != nil {
		return nil, err
	}
	return Array{Items: items, Immutable: d.immutable}, nil
}

func (d *decodeState) decodeMap() (Value, error) {
	if err := d.enterDepth(); err != nil {
		return nil, err
	}
	defer d.leaveDepth()

	n, err := d.r.ReadStartMap()
	if err != nil {
		return nil, err
	}

	entries := make([]MapEntry, 0)
	if n >= 0 {
		entries = make([]MapEntry, 0, n)
	}

	seen := make(map[string]bool)
	var lastKeyBytes []byte
	for {
		state, err := d.r.PeekState()
		if err != nil {
			return nil, err
		}
		if state == StateEndMap {
			break
		}

		prevImmutable := d.immutable
		d.immutable = true
		key, err := d.decodeValue()
		d.immutable = prevImmutable
		if err != nil {
			return nil, err
		}

		val, err := d.decodeValue()
		if err != nil {
			return nil, err
		}

		kb, err := CanonicalBytes(key)
		if err == nil {
			if d.r.conformanceMode >= ConformanceStrict && seen[string(kb)] {
				return nil, ErrDuplicateKey
			}
			seen[string(kb)] = true
			if d.r.conformanceMode >= ConformanceCanonical && lastKeyBytes != nil && string(kb) < string(lastKeyBytes) {
				return nil, ErrUnsortedKeys
			}
			lastKeyBytes = kb
		}

		entries = append(entries, MapEntry{Key: key, Val: val})
	}
	if err := d.r.ReadEndMap(); err != nil {
		return nil, err
	}

	m := Map{Entries: entries, Immutable: d.immutable}

	if d.opts.ObjectHook != nil {
		h := &DecodeHandler{dec: d}
		replacement, err := d.opts.ObjectHook(h, m)
		if err != nil {
			return nil, &TagHookError{Err: err}
		}
		return replacement, nil
	}
	return m, nil
}

// decodeTag implements §4.2/§4.4's tag dispatch: always-on sharing/string-ref
// tags first, then user TagHooks, then the built-in table, and finally the
// opaque Tag escape hatch.
func (d *decodeState) decodeTag() (Value, error) {
	tag, err := d.r.ReadTag()
	if err != nil {
		return nil, err
	}
	tagNum := uint64(tag)

	switch CborTag(tagNum) {
	case TagShareable:
		return d.decodeShareable()
	case TagSharedRef:
		return d.decodeSharedRef()
	case TagStringRefNamespace:
		return d.decodeStringRefNamespace()
	case TagStringRef:
		return d.decodeStringRefValue()
	}

	if d.opts.TagHooks != nil {
		if fn, ok := d.opts.TagHooks.lookup(tagNum); ok {
			content, err := d.decodeTagContent(tagNum)
			if err != nil {
				return nil, err
			}
			h := &DecodeHandler{dec: d}
			v, err := fn(h, tagNum, content)
			if err != nil {
				return nil, &TagHookError{Tag: CborTag(tagNum), Err: err}
			}
			return v, nil
		}
	}

	if !d.opts.DisableBuiltinTags {
		content, err := d.decodeTagContent(tagNum)
		if err != nil {
			return nil, err
		}
		v, handled, err := decodeBuiltinTag(tagNum, content, d.immutable)
		if err != nil {
			return nil, err
		}
		if handled {
			return v, nil
		}
		return Tag{Number: tagNum, Content: content}, nil
	}

	content, err := d.decodeTagContent(tagNum)
	if err != nil {
		return nil, err
	}
	return Tag{Number: tagNum, Content: content}, nil
}

// decodeTagContent decodes a tag's payload, forcing the immutable-context
// flag for tag 258 (set) the same way decodeMap forces it around keys: a
// set's elements must come back hashable regardless of which of the three
// dispatch paths above handles the tag.
func (d *decodeState) decodeTagContent(tagNum uint64) (Value, error) {
	if CborTag(tagNum) != TagSet {
		return d.decodeValue()
	}
	prevImmutable := d.immutable
	d.immutable = true
	v, err := d.decodeValue()
	d.immutable = prevImmutable
	return v, err
}

// decodeShareable reserves a Cell before descending into the payload, so a
// cyclic structure's inner tag-29 references resolve to the same Cell the
// outer container will be stored into.
func (d *decodeState) decodeShareable() (Value, error) {
	idx, cell := d.shareTable.reserve()
	_ = idx

	prevPending := d.pendingCell
	d.pendingCell = cell
	v, err := d.decodeValue()
	d.pendingCell = prevPending
	if err != nil {
		return nil, err
	}
	cell.Value = v
	return Ref{Cell: cell}, nil
}

func (d *decodeState) decodeSharedRef() (Value, error) {
	idxVal, err := d.r.ReadInt64()
	if err != nil {
		return nil, err
	}
	cell, err := d.shareTable.at(int(idxVal))
	if err != nil {
		return nil, err
	}
	return Ref{Cell: cell}, nil
}

// decodeStringRefNamespace pushes a fresh string-reference scope for its
// single tagged child and pops it on the way back out (§4.2's namespace
// tag 256 scoping rule).
func (d *decodeState) decodeStringRefNamespace() (Value, error) {
	d.stringRefs.push()
	defer d.stringRefs.pop()
	return d.decodeValue()
}

// trackStringRef mirrors the encoder's registration rule for every literal
// string/byte-string read inside an active scope, so table indices stay
// aligned with what the encoder assigned them. isText records whether raw
// came from a text string or a byte string, so a later tag-25 backreference
// can reconstruct the matching Value kind.
func (d *decodeState) trackStringRef(raw []byte, isText bool) {
	scope := d.stringRefs.active()
	if scope == nil {
		return
	}
	nextIdx := len(scope.entries)
	if stringRefEligible(nextIdx, raw) {
		scope.append(raw, isText)
	}
}

// decodeStringRefValue resolves a tag-25 backreference against the active
// string-reference scope, reconstructing the Value kind (Text or Bytes) the
// referenced entry was originally registered with.
func (d *decodeState) decodeStringRefValue() (Value, error) {
	idxVal, err := d.r.ReadInt64()
	if err != nil {
		return nil, err
	}
	scope := d.stringRefs.active()
	if scope == nil {
		return nil, ErrMalformedItemDetail("string-ref tag outside an active namespace")
	}
	entry, err := scope.at(int(idxVal))
	if err != nil {
		return nil, err
	}
	if entry.isText {
		return Text(entry.raw), nil
	}
	return Bytes(entry.raw), nil
}

// Into decodes data and converts the result into dst, a pointer to a native
// Go value. It is a thin convenience layer over DecodeFrom (so trailing
// bytes are an error) for callers that do not want to work with the Value
// domain directly.
func Into(data []byte, dst any, opts ...DecOption) error {
	v, err := DecodeFrom(data, opts...)
	if err != nil {
		return err
	}
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return ErrUnsupportedValue
	}
	return assignValue(Resolve(v), rv.Elem())
}

func assignValue(v Value, dst reflect.Value) error {
	switch x := v.(type) {
	case Int:
		switch dst.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if !x.IsInt64() {
				return ErrOverflow
			}
			dst.SetInt(x.Int64())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if !x.IsUint64() {
				return ErrOverflow
			}
			dst.SetUint(x.Uint64())
		case reflect.Interface:
			dst.Set(reflect.ValueOf(x))
		default:
			return ErrUnsupportedValue
		}
	case Text:
		if dst.Kind() != reflect.String && dst.Kind() != reflect.Interface {
			return ErrUnsupportedValue
		}
		if dst.Kind() == reflect.Interface {
			dst.Set(reflect.ValueOf(string(x)))
		} else {
			dst.SetString(string(x))
		}
	case Bytes:
		if dst.Kind() == reflect.Interface {
			dst.Set(reflect.ValueOf([]byte(x)))
			return nil
		}
		if dst.Kind() != reflect.Slice || dst.Type().Elem().Kind() != reflect.Uint8 {
			return ErrUnsupportedValue
		}
		dst.SetBytes([]byte(x))
	case Bool:
		if dst.Kind() == reflect.Interface {
			dst.Set(reflect.ValueOf(bool(x)))
			return nil
		}
		if dst.Kind() != reflect.Bool {
			return ErrUnsupportedValue
		}
		dst.SetBool(bool(x))
	case Float:
		if dst.Kind() == reflect.Interface {
			dst.Set(reflect.ValueOf(float64(x)))
			return nil
		}
		if dst.Kind() != reflect.Float32 && dst.Kind() != reflect.Float64 {
			return ErrUnsupportedValue
		}
		dst.SetFloat(float64(x))
	case Null, Undefined:
		dst.Set(reflect.Zero(dst.Type()))
	case Array:
		return assignArray(x, dst)
	case Map:
		return assignMap(x, dst)
	default:
		if dst.Kind() == reflect.Interface {
			dst.Set(reflect.ValueOf(v))
			return nil
		}
		return ErrUnsupportedValue
	}
	return nil
}

func assignArray(a Array, dst reflect.Value) error {
	if dst.Kind() == reflect.Interface {
		out := make([]any, len(a.Items))
		for i, it := range a.Items {
			out[i] = it
		}
		dst.Set(reflect.ValueOf(out))
		return nil
	}
	if dst.Kind() != reflect.Slice && dst.Kind() != reflect.Array {
		return ErrUnsupportedValue
	}
	if dst.Kind() == reflect.Slice {
		dst.Set(reflect.MakeSlice(dst.Type(), len(a.Items), len(a.Items)))
	}
	for i, it := range a.Items {
		if i >= dst.Len() {
			break
		}
		if err := assignValue(Resolve(it), dst.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

func assignMap(m Map, dst reflect.Value) error {
	if dst.Kind() == reflect.Interface {
		out := make(map[string]any, len(m.Entries))
		for _, e := range m.Entries {
			if t, ok := e.Key.(Text); ok {
				out[string(t)] = e.Val
			}
		}
		dst.Set(reflect.ValueOf(out))
		return nil
	}
	if dst.Kind() != reflect.Map {
		return ErrUnsupportedValue
	}
	dst.Set(reflect.MakeMapWithSize(dst.Type(), len(m.Entries)))
	keyType := dst.Type().Key()
	valType := dst.Type().Elem()
	for _, e := range m.Entries {
		kv := reflect.New(keyType).Elem()
		if err := assignValue(Resolve(e.Key), kv); err != nil {
			return err
		}
		vv := reflect.New(valType).Elem()
		if err := assignValue(Resolve(e.Val), vv); err != nil {
			return err
		}
		dst.SetMapIndex(kv, vv)
	}
	return nil
}
