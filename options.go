package cbor

import "time"

// DefaultMaxDepth is the recursion/nesting limit enforced by the encoder
// and decoder engines when no explicit limit is supplied (§4.4: "Recursion
// depth > configured limit (default 500) -> StackOverflow").
const DefaultMaxDepth = 500

// EncodeHandler is the capability surface the Default hook receives: a way
// to re-enter the encoder for the replacement value it returns.
type EncodeHandler struct {
	enc *encodeState
}

// Encode re-enters the encoder engine for v, honoring the same options,
// share table and string-ref table as the call that invoked the hook.
func (h *EncodeHandler) Encode(v any) error {
	return h.enc.encodeAny(v)
}

// EncOptions configures a single Encode/EncodeInto call.
type EncOptions struct {
	Timezone             *time.Location
	DatetimeAsTimestamp  bool
	DateAsDatetime       bool
	ValueSharing         bool
	StringReferencing    bool
	Canonical            bool
	MaxDepth             int
	Default              func(h *EncodeHandler, v any) (Value, error)
}

// EncOption mutates an EncOptions; see the teacher's WriterOption for the
// pattern this generalizes.
type EncOption func(*EncOptions)

// WithTimezone sets the default timezone applied to naive date-times.
// Without it, encoding a naive time.Time fails with ErrUnsupportedValue.
func WithTimezone(loc *time.Location) EncOption {
	return func(o *EncOptions) { o.Timezone = loc }
}

// WithDatetimeAsTimestamp selects tag-1 (epoch number) encoding for
// date-times instead of the tag-0 RFC 3339 text form. Tag 1 loses the UTC
// offset, keeping only the instant.
func WithDatetimeAsTimestamp(v bool) EncOption {
	return func(o *EncOptions) { o.DatetimeAsTimestamp = v }
}

// WithValueSharing turns on tag 28/29 emission: every container with an
// observable identity is wrapped in tag 28 on its first appearance, and each
// later appearance is written as a tag-29 reference.
func WithValueSharing(v bool) EncOption {
	return func(o *EncOptions) { o.ValueSharing = v }
}

// WithStringReferencing turns on tag 25/256 emission, wrapping the
// top-level item in a string-ref scope.
func WithStringReferencing(v bool) EncOption {
	return func(o *EncOptions) { o.StringReferencing = v }
}

// WithCanonical enables the canonical encoding discipline of §4.3.
func WithCanonical(v bool) EncOption {
	return func(o *EncOptions) { o.Canonical = v }
}

// WithEncodeDefault registers the hook invoked for values the encoder has
// no native or Value-domain representation for.
func WithEncodeDefault(fn func(h *EncodeHandler, v any) (Value, error)) EncOption {
	return func(o *EncOptions) { o.Default = fn }
}

// WithEncodeMaxDepth overrides DefaultMaxDepth for this encode call.
func WithEncodeMaxDepth(depth int) EncOption {
	return func(o *EncOptions) { o.MaxDepth = depth }
}

func newEncOptions(opts []EncOption) *EncOptions {
	o := &EncOptions{MaxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StrErrorsPolicy controls how invalid UTF-8 in a text string is handled.
// Under the Strict and Canonical conformance modes the reader itself
// rejects invalid UTF-8 with ErrInvalidUtf8, whatever the policy.
type StrErrorsPolicy int

const (
	// StrErrorsStrict fails decoding with MalformedItem on invalid UTF-8.
	StrErrorsStrict StrErrorsPolicy = iota
	// StrErrorsReplace substitutes the Unicode replacement character for
	// each run of invalid bytes.
	StrErrorsReplace
	// StrErrorsIgnore drops invalid bytes silently.
	StrErrorsIgnore
)

// DecOptions configures a single Decode/DecodeFrom call.
type DecOptions struct {
	TagHooks           *TagRegistry
	ObjectHook         func(h *DecodeHandler, m Map) (Value, error)
	DisableBuiltinTags bool
	StrErrors          StrErrorsPolicy
	MaxDepth           int
	ConformanceMode    CborConformanceMode
}

// DecOption mutates a DecOptions.
type DecOption func(*DecOptions)

// WithTagHooks installs a registry of user tag decoders.
func WithTagHooks(r *TagRegistry) DecOption {
	return func(o *DecOptions) { o.TagHooks = r }
}

// WithObjectHook installs a hook invoked on every decoded map, giving the
// caller an opportunity to rewrite it (e.g. into a domain struct).
func WithObjectHook(fn func(h *DecodeHandler, m Map) (Value, error)) DecOption {
	return func(o *DecOptions) { o.ObjectHook = fn }
}

// WithDisableBuiltinTags skips the built-in tag registry, routing every
// tag through TagHooks instead. Per §9's recommended default, this does
// NOT disable the always-on sharing/string-ref machinery tags (28/29/256):
// those remain active whenever ValueSharing/StringReferencing is set on
// the encode side that produced the data; on decode they are recognized
// unconditionally since they carry no semantic payload of their own to
// hand to a user hook.
func WithDisableBuiltinTags(v bool) DecOption {
	return func(o *DecOptions) { o.DisableBuiltinTags = v }
}

// WithStrErrors sets the invalid-UTF-8 policy for text strings.
func WithStrErrors(p StrErrorsPolicy) DecOption {
	return func(o *DecOptions) { o.StrErrors = p }
}

// WithDecodeMaxDepth overrides DefaultMaxDepth for this decode call.
func WithDecodeMaxDepth(depth int) DecOption {
	return func(o *DecOptions) { o.MaxDepth = depth }
}

// WithDecodeConformanceMode sets the reader's conformance mode, enabling
// duplicate-key and sorted-key checks (Strict/Canonical) or CTAP2 rules.
func WithDecodeConformanceMode(mode CborConformanceMode) DecOption {
	return func(o *DecOptions) { o.ConformanceMode = mode }
}

func newDecOptions(opts []DecOption) *DecOptions {
	o := &DecOptions{MaxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
