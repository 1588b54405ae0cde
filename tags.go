package cbor

import (
	"math/big"
	"net"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TagHook is a user-registered dynamic decoder (§4.2: "dynamic decoder").
// It receives the decode-time handler so it can query the immutable-context
// flag or call SetShareable. The hook runs after its content has been
// decoded.
type TagHook func(h *DecodeHandler, tag uint64, content Value) (Value, error)

// TagRegistry maps tag numbers to user TagHooks. The zero value is usable.
type TagRegistry struct {
	hooks map[uint64]TagHook
}

// NewTagRegistry returns an empty registry.
func NewTagRegistry() *TagRegistry {
	return &TagRegistry{hooks: make(map[uint64]TagHook)}
}

// Register installs fn as the decoder for tag.
func (r *TagRegistry) Register(tag uint64, fn TagHook) {
	if r.hooks == nil {
		r.hooks = make(map[uint64]TagHook)
	}
	r.hooks[tag] = fn
}

func (r *TagRegistry) lookup(tag uint64) (TagHook, bool) {
	if r == nil || r.hooks == nil {
		return nil, false
	}
	fn, ok := r.hooks[tag]
	return fn, ok
}

// DecodeHandler is the capability surface a TagHook receives: enough to
// participate in sharing and to observe the immutable-context flag without
// reaching into decoder internals.
type DecodeHandler struct {
	dec *decodeState
}

// Immutable reports whether the value currently being decoded sits in a
// map-key or set-element position.
func (h *DecodeHandler) Immutable() bool { return h.dec.immutable }

// SetShareable stores v in the share-table slot reserved by the innermost
// enclosing tag 28, and does nothing when there is none. The slot's Cell
// exists before the tagged content is decoded, so tag-29 references inside
// that content already point at it; when the tag-28 item finishes decoding,
// the slot is set to its decoded value, replacing v.
func (h *DecodeHandler) SetShareable(v Value) {
	if h.dec.pendingCell != nil {
		h.dec.pendingCell.Value = v
	}
}

// DecodeFrom lets a tag hook recursively decode a nested CBOR byte string
// payload (e.g. tag 24, encoded CBOR data item) using the same options.
func (h *DecodeHandler) DecodeFrom(data []byte) (Value, error) {
	return decodeTopLevel(data, h.dec.opts)
}

// decodeBuiltinTag implements the built-in semantic ↔ concrete mapping of
// §4.2's table. content is the already-decoded payload (Bytes for 2/3/37,
// a 2-element Array for 4/5/30, a Text for 0/35/36, etc.).
// It returns (nil, false) when tagNum isn't one of the built-ins, so the
// caller falls through to the opaque Tag escape hatch.
func decodeBuiltinTag(tagNum uint64, content Value, immutable bool) (Value, bool, error) {
	switch CborTag(tagNum) {
	case TagDateTimeString:
		text, ok := content.(Text)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		t, err := time.Parse(time.RFC3339Nano, string(text))
		if err != nil {
			return nil, true, &TagHookError{Tag: CborTag(tagNum), Err: err}
		}
		return DateTime{Time: t}, true, nil

	case TagUnixTime:
		switch v := content.(type) {
		case Int:
			return DateTime{Time: time.Unix(v.Int64(), 0).UTC()}, true, nil
		case Float:
			sec := float64(v)
			whole := int64(sec)
			frac := sec - float64(whole)
			return DateTime{Time: time.Unix(whole, int64(frac*1e9)).UTC()}, true, nil
		default:
			return nil, true, ErrMalformedForTag(tagNum)
		}

	case TagUnsignedBignum, TagNegativeBignum:
		b, ok := content.(Bytes)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		n := new(big.Int).SetBytes(b)
		if CborTag(tagNum) == TagNegativeBignum {
			n.Neg(n).Sub(n, big.NewInt(1))
		}
		return NewBigInt(n), true, nil

	case TagDecimalFraction:
		exp, mant, err := decodeExpMantissa(content)
		if err != nil {
			return nil, true, err
		}
		return Decimal{decimal.NewFromBigInt(mant, int32(exp))}, true, nil

	case TagBigFloat:
		exp, mant, err := decodeExpMantissa(content)
		if err != nil {
			return nil, true, err
		}
		return BigFloat{Mantissa: mant, Exponent: exp}, true, nil

	case TagRational:
		arr, ok := content.(Array)
		if !ok || len(arr.Items) != 2 {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		num, ok1 := arr.Items[0].(Int)
		den, ok2 := arr.Items[1].(Int)
		if !ok1 || !ok2 {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		n, d := new(big.Int).Set(&num.Int), new(big.Int).Set(&den.Int)
		return Rational{Num: n, Den: d}, true, nil

	case TagRegularExpression:
		text, ok := content.(Text)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		re, err := regexp.Compile(string(text))
		if err != nil {
			return nil, true, &TagHookError{Tag: CborTag(tagNum), Err: err}
		}
		return Regexp{re}, true, nil

	case TagMIMEMessage:
		text, ok := content.(Text)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		msg, err := mail.ReadMessage(strings.NewReader(string(text)))
		if err != nil {
			return nil, true, &TagHookError{Tag: CborTag(tagNum), Err: err}
		}
		return MIMEMessage{msg}, true, nil

	case TagUUID:
		b, ok := content.(Bytes)
		if !ok || len(b) != 16 {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		id, err := uuid.FromBytes(b)
		if err != nil {
			return nil, true, &TagHookError{Tag: CborTag(tagNum), Err: err}
		}
		return UUID{id}, true, nil

	case TagSet:
		arr, ok := content.(Array)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		return Set{Items: arr.Items, Immutable: immutable}, true, nil

	case TagNetworkAddress:
		b, ok := content.(Bytes)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		switch len(b) {
		case 4, 16:
			return IPAddress{net.IP(append([]byte(nil), b...))}, true, nil
		default:
			// Length-6 (MAC address) and anything else falls through to
			// the opaque Tag escape hatch: see DESIGN.md's "Open Question
			// decisions" for why no built-in MAC representation is
			// fabricated here.
			return nil, false, nil
		}

	case TagNetworkPrefix:
		m, ok := content.(Map)
		if !ok || len(m.Entries) != 1 {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		addrBytes, ok := m.Entries[0].Key.(Bytes)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		prefixLen, ok := m.Entries[0].Val.(Int)
		if !ok {
			return nil, true, ErrMalformedForTag(tagNum)
		}
		bits := len(addrBytes) * 8
		ipnet := net.IPNet{
			IP:   net.IP(append([]byte(nil), addrBytes...)),
			Mask: net.CIDRMask(int(prefixLen.Int64()), bits),
		}
		return IPNetwork{ipnet}, true, nil

	case TagSelfDescribedCbor:
		return content, true, nil

	default:
		return nil, false, nil
	}
}

func decodeExpMantissa(content Value) (exp int64, mant *big.Int, err error) {
	arr, ok := content.(Array)
	if !ok || len(arr.Items) != 2 {
		return 0, nil, ErrMalformedItemDetail("decimal/bigfloat payload must be a 2-element array")
	}
	e, ok1 := arr.Items[0].(Int)
	m, ok2 := arr.Items[1].(Int)
	if !ok1 || !ok2 {
		return 0, nil, ErrMalformedItemDetail("decimal/bigfloat payload elements must be integers")
	}
	return e.Int64(), new(big.Int).Set(&m.Int), nil
}

// ErrMalformedForTag wraps ErrInvalidCbor with the offending tag number.
func ErrMalformedForTag(tag uint64) error {
	return &CborError{Err: ErrInvalidCbor, Message: "payload shape does not match built-in tag " + strconv.FormatUint(tag, 10)}
}

// ErrMalformedItemDetail wraps ErrInvalidCbor with a free-form message.
func ErrMalformedItemDetail(msg string) error {
	return &CborError{Err: ErrInvalidCbor, Message: msg}
}
