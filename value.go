package cbor

import (
	"math/big"
	"net"
	"net/mail"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies which variant of the universal CBOR value domain a Value
// holds. It mirrors the major-type/tag dispatch table rather than a Go type
// switch, so decoding a tag always lands on exactly one Kind.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindText
	KindArray
	KindMap
	KindSet
	KindTag
	KindDateTime
	KindDecimal
	KindBigFloat
	KindRational
	KindRegexp
	KindMIME
	KindUUID
	KindIPAddress
	KindIPNetwork
	KindBool
	KindNull
	KindUndefined
	KindFloat
	KindSimple
	KindNative
	KindRef
)

// Value is the closed sum type described in the data model: every concrete
// type in this file implements it, and Kind() lets callers switch
// exhaustively without a type assertion chain.
type Value interface {
	Kind() Kind
}

// Int is an arbitrary-precision signed integer (CBOR major types 0 and 1,
// and tags 2/3 once resolved).
type Int struct{ big.Int }

func (Int) Kind() Kind { return KindInt }

// NewInt wraps an int64 as an Int value.
func NewInt(v int64) Int {
	var i Int
	i.SetInt64(v)
	return i
}

// NewUint wraps a uint64 as an Int value.
func NewUint(v uint64) Int {
	var i Int
	i.SetUint64(v)
	return i
}

// NewBigInt wraps a *big.Int as an Int value.
func NewBigInt(v *big.Int) Int {
	var i Int
	i.Set(v)
	return i
}

// Bytes is a finite byte string.
type Bytes []byte

func (Bytes) Kind() Kind { return KindBytes }

// Text is a UTF-8 text string.
type Text string

func (Text) Kind() Kind { return KindText }

// Array is an ordered sequence of values.
type Array struct {
	Items     []Value
	Immutable bool // true when decoded as a map key or set element (tuple-equivalent)
}

func (Array) Kind() Kind { return KindArray }

// MapEntry is one key/value pair of a Map, in encounter/insertion order.
type MapEntry struct {
	Key Value
	Val Value
}

// Map is an ordered sequence of key-value pairs with CBOR-distinct keys.
type Map struct {
	Entries   []MapEntry
	Immutable bool // true when the map itself was decoded as a hashable key/element
}

func (Map) Kind() Kind { return KindMap }

// Get returns the value for a key, comparing by canonical encoded form.
func (m Map) Get(key Value) (Value, bool) {
	kb, err := CanonicalBytes(key)
	if err != nil {
		return nil, false
	}
	for _, e := range m.Entries {
		eb, err := CanonicalBytes(e.Key)
		if err == nil && string(eb) == string(kb) {
			return e.Val, true
		}
	}
	return nil, false
}

// Set is the decoded form of tag 258: an array with set semantics. Kept as
// a distinct Kind (rather than reusing Array) so a decoded set stays
// distinguishable from a list; the frozenset-equivalent case (a set decoded
// in a map-key or set-element position) is recorded by Immutable, not by a
// separate type.
type Set struct {
	Items     []Value
	Immutable bool
}

func (Set) Kind() Kind { return KindSet }

// Tag is the escape hatch for a tag number with neither a built-in nor a
// user decoder: it round-trips byte for byte.
type Tag struct {
	Number  uint64
	Content Value
}

func (Tag) Kind() Kind { return KindTag }

// DateTime is a timestamp (tags 0 and 1). Naive marks a date-time with no
// meaningful offset attached (Go's time.Time always carries a Location, so
// there is no way to observe "naive" on the wire type itself); construct
// one with NaiveDateTime to require the encoder's WithTimezone option.
type DateTime struct {
	time.Time
	Naive bool
}

func (DateTime) Kind() Kind { return KindDateTime }

// NaiveDateTime builds a DateTime that the encoder must localize via
// WithTimezone before it can be written (§6: "encoder MUST reject naive
// date-times when absent").
func NaiveDateTime(t time.Time) DateTime {
	return DateTime{Time: t, Naive: true}
}

// Decimal is an arbitrary-precision base-10 value (tag 4).
type Decimal struct{ decimal.Decimal }

func (Decimal) Kind() Kind { return KindDecimal }

// BigFloat is mantissa * 2^exponent (tag 5); CBOR's bigfloat has no
// standard-library or ecosystem concrete type, so it is represented
// directly as the pair the wire format carries.
type BigFloat struct {
	Mantissa *big.Int
	Exponent int64
}

func (BigFloat) Kind() Kind { return KindBigFloat }

// Rational is numerator/denominator (tag 30).
type Rational struct {
	Num *big.Int
	Den *big.Int
}

func (Rational) Kind() Kind { return KindRational }

// Regexp is a compiled regular expression (tag 35).
type Regexp struct{ *regexp.Regexp }

func (Regexp) Kind() Kind { return KindRegexp }

// MIMEMessage is a parsed MIME message (tag 36).
type MIMEMessage struct{ *mail.Message }

func (MIMEMessage) Kind() Kind { return KindMIME }

// UUID is a 16-byte UUID (tag 37).
type UUID struct{ uuid.UUID }

func (UUID) Kind() Kind { return KindUUID }

// IPAddress is an IPv4/IPv6 address (tag 260, 4 or 16 bytes).
type IPAddress struct{ net.IP }

func (IPAddress) Kind() Kind { return KindIPAddress }

// IPNetwork is an IP network (tag 261: a single-entry map {address: prefix length}).
type IPNetwork struct{ net.IPNet }

func (IPNetwork) Kind() Kind { return KindIPNetwork }

// Bool is a CBOR boolean simple value.
type Bool bool

func (Bool) Kind() Kind { return KindBool }

// Null is the CBOR null simple value.
type Null struct{}

func (Null) Kind() Kind { return KindNull }

// Undefined is the CBOR undefined simple value.
type Undefined struct{}

func (Undefined) Kind() Kind { return KindUndefined }

// Float is an IEEE-754 floating point number, always carried at double
// width in memory; the encoder chooses the narrowest lossless wire width.
type Float float64

func (Float) Kind() Kind { return KindFloat }

// Simple is a reserved/unassigned simple value (0-19, 32-255) that isn't
// one of false/true/null/undefined, kept so it round-trips losslessly.
type Simple byte

func (Simple) Kind() Kind { return KindSimple }

// Native wraps an arbitrary Go value produced by a TagHook or ObjectHook.
// It lets user hooks hand back any Go type without widening the Value
// interface, at the cost of that branch not being exhaustively dispatched.
type Native struct{ V any }

func (Native) Kind() Kind { return KindNative }

// Cell is a forward-reference slot: an allocated, addressable shell that a
// cyclic graph's children can point at before it is filled. Both the
// encoder (for hand-built cyclic Value graphs) and the decoder (for every
// shareable container, per the shared-value registry) route identity
// through a *Cell rather than through Value's by-value semantics.
type Cell struct{ Value Value }

// Ref is a reference to a shared/forward-declared Cell (CBOR tags 28/29).
// Two Refs observed at different positions are the "same object" exactly
// when their Cell pointers are equal.
type Ref struct{ Cell *Cell }

func (Ref) Kind() Kind { return KindRef }

// Resolve follows v through any Ref indirection to the underlying value.
func Resolve(v Value) Value {
	for {
		r, ok := v.(Ref)
		if !ok {
			return v
		}
		v = r.Cell.Value
	}
}
