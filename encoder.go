package cbor

import (
	"bytes"
	"io"
	"math/big"
	"net"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// encodeState is the recursive-descent encoder engine (§4.3): it owns the
// share table, string-ref scope stack, and the cycle-detection set used
// when sharing is off, all scoped to a single top-level Encode call.
type encodeState struct {
	w          *CborWriter
	opts       *EncOptions
	shareTable *encodeShareTable
	stringRefs *stringRefStack
	visiting   map[shareKey]bool
	depth      int
}

// Encode writes value as exactly one CBOR data item and returns the bytes.
// When string referencing is enabled, the item is wrapped in tag 256 so a
// decoder knows to activate a string-reference table for it (the
// string-ref draft's namespace tag; §4.2).
func Encode(value any, opts ...EncOption) ([]byte, error) {
	o := newEncOptions(opts)
	e := newEncodeState(o)
	if o.StringReferencing {
		e.stringRefs.push()
		defer e.stringRefs.pop()
		if err := e.w.WriteTag(TagStringRefNamespace); err != nil {
			return nil, err
		}
	}
	if err := e.encodeAny(value); err != nil {
		return nil, err
	}
	return e.w.BytesCopy(), nil
}

// EncodeInto writes value's CBOR encoding to sink.
func EncodeInto(value any, sink io.Writer, opts ...EncOption) error {
	data, err := Encode(value, opts...)
	if err != nil {
		return err
	}
	_, err = sink.Write(data)
	return err
}

func newEncodeState(o *EncOptions) *encodeState {
	e := &encodeState{
		w:          NewCborWriter(WithInitialCapacity(256), WithMaxNestingDepth(o.MaxDepth)),
		opts:       o,
		stringRefs: &stringRefStack{},
	}
	if o.Canonical {
		e.w.conformanceMode = ConformanceCanonical
	}
	if o.ValueSharing {
		e.shareTable = newEncodeShareTable()
	} else {
		e.visiting = make(map[shareKey]bool)
	}
	return e
}

func (e *encodeState) enterDepth() error {
	e.depth++
	if e.depth > e.opts.MaxDepth {
		return ErrStackOverflow
	}
	return nil
}

func (e *encodeState) leaveDepth() { e.depth-- }

// trackIdentity implements the shareable-check / cycle-detection steps of
// §4.3 for one container identity. done reports whether the caller already
// wrote everything needed (a tag-29 backreference) and should return
// immediately; release must be deferred by the caller when !done and
// sharing is off, to pop the cycle-detection set on the way back out.
func (e *encodeState) trackIdentity(key shareKey, ok bool) (done bool, release func(), err error) {
	if !ok {
		return false, func() {}, nil
	}
	if e.opts.ValueSharing {
		if idx, seen := e.shareTable.lookup(key); seen {
			if err := e.w.WriteTag(TagSharedRef); err != nil {
				return true, nil, err
			}
			return true, nil, e.w.WriteInt64(int64(idx))
		}
		idx := e.shareTable.register(key)
		if err := e.w.WriteTag(TagShareable); err != nil {
			return true, nil, err
		}
		_ = idx
		return false, func() {}, nil
	}
	if e.visiting[key] {
		return true, nil, ErrCyclicReference
	}
	e.visiting[key] = true
	return false, func() { delete(e.visiting, key) }, nil
}

// encodeAny dispatches a Go value (either a cbor.Value or a native Go
// value reached via reflection) to the wire.
func (e *encodeState) encodeAny(v any) error {
	if val, ok := v.(Value); ok {
		return e.encodeValue(val)
	}

	switch x := v.(type) {
	case nil:
		return e.w.WriteNull()
	case bool:
		return e.w.WriteBoolean(x)
	case int:
		return e.w.WriteInt64(int64(x))
	case int8:
		return e.w.WriteInt64(int64(x))
	case int16:
		return e.w.WriteInt64(int64(x))
	case int32:
		return e.w.WriteInt64(int64(x))
	case int64:
		return e.w.WriteInt64(x)
	case uint:
		return e.w.WriteUint64(uint64(x))
	case uint8:
		return e.w.WriteUint64(uint64(x))
	case uint16:
		return e.w.WriteUint64(uint64(x))
	case uint32:
		return e.w.WriteUint64(uint64(x))
	case uint64:
		return e.w.WriteUint64(x)
	case float32:
		return e.w.WriteFloat(float64(x))
	case float64:
		return e.w.WriteFloat(x)
	case string:
		return e.writeStringRefAware([]byte(x), true, func(b []byte) error { return e.w.WriteTextString(string(b)) })
	case []byte:
		return e.writeStringRefAware(x, false, e.w.WriteByteString)
	case *big.Int:
		if x == nil {
			return e.w.WriteNull()
		}
		return e.w.WriteBigInt(x)
	case time.Time:
		return e.encodeValue(DateTime{Time: x})
	case uuid.UUID:
		return e.encodeValue(UUID{x})
	case net.IP:
		return e.encodeValue(IPAddress{x})
	case decimal.Decimal:
		return e.encodeValue(Decimal{x})
	case *regexp.Regexp:
		return e.encodeValue(Regexp{x})
	}

	return e.encodeReflect(reflect.ValueOf(v))
}

func (e *encodeState) encodeReflect(rv reflect.Value) error {
	if !rv.IsValid() {
		return e.w.WriteNull()
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return e.w.WriteNull()
		}
		key, ok := nativeShareKey(rv)
		done, release, err := e.trackIdentity(key, ok)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		defer release()
		return e.encodeAny(rv.Elem().Interface())

	case reflect.Interface:
		if rv.IsNil() {
			return e.w.WriteNull()
		}
		return e.encodeAny(rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.writeStringRefAware(rv.Bytes(), false, e.w.WriteByteString)
		}
		key, ok := nativeShareKey(rv)
		done, release, err := e.trackIdentity(key, ok)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if release != nil {
			defer release()
		}
		if err := e.enterDepth(); err != nil {
			return err
		}
		defer e.leaveDepth()
		n := rv.Len()
		if err := e.w.WriteStartArray(n); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := e.encodeAny(rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return e.w.WriteEndArray()

	case reflect.Map:
		if rv.IsNil() {
			return e.w.WriteNull()
		}
		key, ok := nativeShareKey(rv)
		done, release, err := e.trackIdentity(key, ok)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		defer release()
		return e.encodeReflectMap(rv)

	case reflect.Struct:
		return e.encodeReflectStruct(rv)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.w.WriteInt64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return e.w.WriteUint64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return e.w.WriteFloat(rv.Float())
	case reflect.String:
		return e.writeStringRefAware([]byte(rv.String()), true, func(b []byte) error { return e.w.WriteTextString(string(b)) })
	case reflect.Bool:
		return e.w.WriteBoolean(rv.Bool())
	}

	if e.opts.Default != nil {
		replacement, err := e.opts.Default(&EncodeHandler{enc: e}, rv.Interface())
		if err != nil {
			return &TagHookError{Err: err}
		}
		return e.encodeValue(replacement)
	}
	return ErrUnsupportedValue
}

// reflectMapEntry pairs a map key/value for sorting into deterministic
// output. Go's map iteration order is randomized, which the source
// language (the codec's sharing/string-ref tests assume a stable wire
// form for) never has to deal with — sorting every native Go map by its
// key's canonical bytes is this port's fix for that gap, applied
// regardless of the Canonical option.
type reflectMapEntry struct {
	keyVal any
	key    []byte
	val    reflect.Value
}

func (e *encodeState) encodeReflectMap(rv reflect.Value) error {
	if err := e.enterDepth(); err != nil {
		return err
	}
	defer e.leaveDepth()

	keys := rv.MapKeys()
	entries := make([]reflectMapEntry, 0, len(keys))
	for _, k := range keys {
		kb, err := CanonicalBytes(goValueToValue(k.Interface()))
		if err != nil {
			return err
		}
		entries = append(entries, reflectMapEntry{keyVal: k.Interface(), key: kb, val: rv.MapIndex(k)})
	}
	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].key, entries[j].key) < 0 })

	if err := e.w.WriteStartMap(len(entries)); err != nil {
		return err
	}
	for _, en := range entries {
		if err := e.encodeAny(en.keyVal); err != nil {
			return err
		}
		if err := e.encodeAny(en.val.Interface()); err != nil {
			return err
		}
	}
	return e.w.WriteEndMap()
}

func (e *encodeState) encodeReflectStruct(rv reflect.Value) error {
	if err := e.enterDepth(); err != nil {
		return err
	}
	defer e.leaveDepth()

	t := rv.Type()
	type field struct {
		name string
		val  reflect.Value
	}
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" {
			continue // unexported
		}
		name, omitempty, skip := parseCborTag(sf)
		if skip {
			continue
		}
		fv := rv.Field(i)
		if omitempty && isEmptyValue(fv) {
			continue
		}
		fields = append(fields, field{name: name, val: fv})
	}

	if err := e.w.WriteStartMap(len(fields)); err != nil {
		return err
	}
	for _, f := range fields {
		if err := e.encodeAny(f.name); err != nil {
			return err
		}
		if err := e.encodeAny(f.val.Interface()); err != nil {
			return err
		}
	}
	return e.w.WriteEndMap()
}

func parseCborTag(sf reflect.StructField) (name string, omitempty bool, skip bool) {
	tag := sf.Tag.Get("cbor")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = sf.Name
	if parts[0] != "" {
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitempty = true
		}
	}
	return name, omitempty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	}
	return false
}

// goValueToValue adapts a Go map key (almost always a comparable scalar)
// into the Value domain just well enough to compute canonical sort bytes.
func goValueToValue(v any) Value {
	switch x := v.(type) {
	case string:
		return Text(x)
	case int:
		return NewInt(int64(x))
	case int64:
		return NewInt(x)
	case uint:
		return NewUint(uint64(x))
	case uint64:
		return NewUint(x)
	case bool:
		return Bool(x)
	default:
		return Native{V: v}
	}
}

// encodeValue dispatches a Value-domain value to the wire (§4.3 step 3:
// type dispatch). It is also the re-entry point after a Default/TagHook
// hands back a replacement.
func (e *encodeState) encodeValue(v Value) error {
	switch x := v.(type) {
	case Int:
		return e.w.WriteBigInt(&x.Int)
	case Bytes:
		return e.writeStringRefAware([]byte(x), false, e.w.WriteByteString)
	case Text:
		return e.writeStringRefAware([]byte(x), true, func(b []byte) error { return e.w.WriteTextString(string(b)) })
	case Array:
		return e.encodeContainerArray(x.Items, 0, false)
	case Set:
		return e.encodeContainerArray(x.Items, TagSet, true)
	case Map:
		return e.encodeContainerMap(x)
	case Tag:
		if err := e.w.WriteTag(CborTag(x.Number)); err != nil {
			return err
		}
		return e.encodeValue(x.Content)
	case Ref:
		key := cellShareKey(x.Cell)
		done, release, err := e.trackIdentity(key, true)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		defer release()
		return e.encodeValue(x.Cell.Value)
	case DateTime:
		return e.encodeDateTime(x)
	case Decimal:
		return e.encodeExpMantissa(TagDecimalFraction, int64(x.Exponent()), x.Coefficient())
	case BigFloat:
		return e.encodeExpMantissa(TagBigFloat, x.Exponent, x.Mantissa)
	case Rational:
		if err := e.w.WriteTag(TagRational); err != nil {
			return err
		}
		if err := e.w.WriteStartArray(2); err != nil {
			return err
		}
		if err := e.w.WriteBigInt(x.Num); err != nil {
			return err
		}
		if err := e.w.WriteBigInt(x.Den); err != nil {
			return err
		}
		return e.w.WriteEndArray()
	case Regexp:
		if err := e.w.WriteTag(TagRegularExpression); err != nil {
			return err
		}
		return e.w.WriteTextString(x.String())
	case MIMEMessage:
		if err := e.w.WriteTag(TagMIMEMessage); err != nil {
			return err
		}
		text, err := serializeMIME(x)
		if err != nil {
			return err
		}
		return e.w.WriteTextString(text)
	case UUID:
		if err := e.w.WriteTag(TagUUID); err != nil {
			return err
		}
		b := x.UUID
		return e.w.WriteByteString(b[:])
	case IPAddress:
		if err := e.w.WriteTag(TagNetworkAddress); err != nil {
			return err
		}
		ip := x.IP
		if v4 := ip.To4(); v4 != nil {
			return e.w.WriteByteString(v4)
		}
		return e.w.WriteByteString(ip.To16())
	case IPNetwork:
		if err := e.w.WriteTag(TagNetworkPrefix); err != nil {
			return err
		}
		ones, _ := x.Mask.Size()
		if err := e.w.WriteStartMap(1); err != nil {
			return err
		}
		if err := e.w.WriteByteString(x.IP); err != nil {
			return err
		}
		if err := e.w.WriteInt64(int64(ones)); err != nil {
			return err
		}
		return e.w.WriteEndMap()
	case Bool:
		return e.w.WriteBoolean(bool(x))
	case Null:
		return e.w.WriteNull()
	case Undefined:
		return e.w.WriteUndefined()
	case Float:
		return e.w.WriteFloat(float64(x))
	case Simple:
		return e.w.WriteSimpleValue(SimpleValue(x))
	case Native:
		return e.encodeAny(x.V)
	default:
		return ErrUnsupportedValue
	}
}

func shareKeyForTagContent(v Value) (shareKey, bool) {
	switch x := v.(type) {
	case Array:
		return sliceShareKey(x.Items)
	case Set:
		return sliceShareKey(x.Items)
	case Map:
		return entriesShareKey(x.Entries)
	default:
		return shareKey{}, false
	}
}

func sliceShareKey[T any](s []T) (shareKey, bool) {
	if len(s) == 0 {
		return shareKey{}, false
	}
	return shareKey{ptr: reflect.ValueOf(s).Pointer()}, true
}

func entriesShareKey(s []MapEntry) (shareKey, bool) {
	if len(s) == 0 {
		return shareKey{}, false
	}
	return shareKey{ptr: reflect.ValueOf(s).Pointer()}, true
}

func (e *encodeState) encodeContainerArray(items []Value, wrapTag CborTag, wrap bool) error {
	key, ok := sliceShareKey(items)
	done, release, err := e.trackIdentity(key, ok)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if release != nil {
		defer release()
	}
	if err := e.enterDepth(); err != nil {
		return err
	}
	defer e.leaveDepth()

	if wrap {
		if err := e.w.WriteTag(wrapTag); err != nil {
			return err
		}
	}

	ordered := items
	if e.opts.Canonical && wrap {
		ordered = sortValuesCanonical(items)
	}
	if err := e.w.WriteStartArray(len(ordered)); err != nil {
		return err
	}
	for _, item := range ordered {
		if err := e.encodeValue(item); err != nil {
			return err
		}
	}
	return e.w.WriteEndArray()
}

func sortValuesCanonical(items []Value) []Value {
	type keyed struct {
		b []byte
		v Value
	}
	ks := make([]keyed, len(items))
	for i, it := range items {
		b, _ := CanonicalBytes(it)
		ks[i] = keyed{b: b, v: it}
	}
	sort.Slice(ks, func(i, j int) bool { return bytes.Compare(ks[i].b, ks[j].b) < 0 })
	out := make([]Value, len(ks))
	for i, k := range ks {
		out[i] = k.v
	}
	return out
}

func (e *encodeState) encodeContainerMap(m Map) error {
	key, ok := entriesShareKey(m.Entries)
	done, release, err := e.trackIdentity(key, ok)
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if release != nil {
		defer release()
	}
	if err := e.enterDepth(); err != nil {
		return err
	}
	defer e.leaveDepth()

	entries := m.Entries
	if e.opts.Canonical {
		entries = sortEntriesCanonical(entries)
	}
	if err := e.w.WriteStartMap(len(entries)); err != nil {
		return err
	}
	for _, en := range entries {
		if err := e.encodeValue(en.Key); err != nil {
			return err
		}
		if err := e.encodeValue(en.Val); err != nil {
			return err
		}
	}
	return e.w.WriteEndMap()
}

func sortEntriesCanonical(entries []MapEntry) []MapEntry {
	type keyed struct {
		b []byte
		e MapEntry
	}
	ks := make([]keyed, len(entries))
	for i, en := range entries {
		b, _ := CanonicalBytes(en.Key)
		ks[i] = keyed{b: b, e: en}
	}
	sort.Slice(ks, func(i, j int) bool { return bytes.Compare(ks[i].b, ks[j].b) < 0 })
	out := make([]MapEntry, len(ks))
	for i, k := range ks {
		out[i] = k.e
	}
	return out
}

func (e *encodeState) encodeDateTime(dt DateTime) error {
	t := dt.Time
	if dt.Naive {
		if e.opts.Timezone == nil {
			return ErrUnsupportedValue
		}
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), e.opts.Timezone)
	}
	if e.opts.DatetimeAsTimestamp {
		if err := e.w.WriteTag(TagUnixTime); err != nil {
			return err
		}
		if t.Nanosecond() != 0 {
			return e.w.WriteFloat64(float64(t.Unix()) + float64(t.Nanosecond())/1e9)
		}
		return e.w.WriteInt64(t.Unix())
	}
	if err := e.w.WriteTag(TagDateTimeString); err != nil {
		return err
	}
	return e.w.WriteTextString(t.Format(time.RFC3339Nano))
}

func (e *encodeState) encodeExpMantissa(tag CborTag, exp int64, mantissa *big.Int) error {
	if err := e.w.WriteTag(tag); err != nil {
		return err
	}
	if err := e.w.WriteStartArray(2); err != nil {
		return err
	}
	if err := e.w.WriteInt64(exp); err != nil {
		return err
	}
	if err := e.w.WriteBigInt(mantissa); err != nil {
		return err
	}
	return e.w.WriteEndArray()
}

// writeStringRefAware implements §4.3 step 2: reference an already-seen
// string with tag 25 when that is strictly shorter, otherwise add it to
// the active scope's table (when it clears the eligibility threshold) and
// write it raw via writeRaw.
func (e *encodeState) writeStringRefAware(raw []byte, isText bool, writeRaw func([]byte) error) error {
	if !e.opts.StringReferencing {
		return writeRaw(raw)
	}
	scope := e.stringRefs.active()
	if scope == nil {
		return writeRaw(raw)
	}
	if idx, ok := scope.indexOf(raw, isText); ok && stringRefEligible(idx, raw) {
		if err := e.w.WriteTag(TagStringRef); err != nil {
			return err
		}
		return e.w.WriteInt64(int64(idx))
	}
	if _, ok := scope.indexOf(raw, isText); !ok {
		nextIdx := len(scope.entries)
		if stringRefEligible(nextIdx, raw) {
			scope.append(raw, isText)
		}
	}
	return writeRaw(raw)
}

// CanonicalBytes encodes v in canonical mode with sharing/string-ref off,
// for use as a deterministic sort/comparison key (map key ordering, Set
// ordering, Map.Get lookups).
func CanonicalBytes(v Value) ([]byte, error) {
	return Encode(v, WithCanonical(true))
}

func serializeMIME(m MIMEMessage) (string, error) {
	var b strings.Builder
	for k, vs := range m.Header {
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	if m.Body != nil {
		body, err := io.ReadAll(m.Body)
		if err != nil {
			return "", err
		}
		b.Write(body)
	}
	return b.String(), nil
}
