package cbor

import (
	"errors"
	"fmt"
)

// Common CBOR errors.
var (
	// ErrUnexpectedEndOfData is returned when the data ends unexpectedly.
	ErrUnexpectedEndOfData = errors.New("cbor: unexpected end of data")

	// ErrInvalidCbor is returned when the CBOR data is malformed.
	ErrInvalidCbor = errors.New("cbor: invalid CBOR data")

	// ErrInvalidMajorType is returned when an unexpected major type is encountered.
	ErrInvalidMajorType = errors.New("cbor: invalid major type")

	// ErrInvalidSimpleValue is returned when an invalid simple value is encountered.
	ErrInvalidSimpleValue = errors.New("cbor: invalid simple value")

	// ErrInvalidUtf8 is returned when a text string contains invalid UTF-8.
	ErrInvalidUtf8 = errors.New("cbor: invalid UTF-8 in text string")

	// ErrOverflow is returned when a value overflows the target type.
	ErrOverflow = errors.New("cbor: integer overflow")

	// ErrUnexpectedBreak is returned when a break byte is encountered unexpectedly.
	ErrUnexpectedBreak = errors.New("cbor: unexpected break")

	// ErrNonCanonical is returned in strict/canonical mode when encoding is non-canonical.
	ErrNonCanonical = errors.New("cbor: non-canonical encoding")

	// ErrNotAtEnd is returned when there is remaining data after the root value.
	ErrNotAtEnd = errors.New("cbor: unexpected data after root value")

	// ErrInvalidState is returned when an operation is attempted in an invalid state.
	ErrInvalidState = errors.New("cbor: invalid reader state for this operation")

	// ErrDuplicateKey is returned when a duplicate key is found in a map (in strict mode).
	ErrDuplicateKey = errors.New("cbor: duplicate key in map")

	// ErrUnsortedKeys is returned when map keys are not sorted (in canonical mode).
	ErrUnsortedKeys = errors.New("cbor: map keys are not sorted")

	// ErrIndefiniteLengthNotAllowed is returned when indefinite length is used in canonical mode.
	ErrIndefiniteLengthNotAllowed = errors.New("cbor: indefinite length not allowed in canonical mode")

	// ErrBufferTooSmall is returned when the buffer is too small for the operation.
	ErrBufferTooSmall = errors.New("cbor: buffer too small")

	// ErrNestingDepthExceeded is returned when the maximum nesting depth is exceeded.
	ErrNestingDepthExceeded = errors.New("cbor: maximum nesting depth exceeded")

	// ErrMissingBreak is returned when an indefinite-length item is not terminated.
	ErrMissingBreak = errors.New("cbor: missing break for indefinite-length item")

	// ErrIncompleteContainer is returned when a container has fewer items than expected.
	ErrIncompleteContainer = errors.New("cbor: incomplete container")

	// ErrExtraItems is returned when a container has more items than expected.
	ErrExtraItems = errors.New("cbor: extra items in container")

	// ErrUnsupportedValue is returned when the encoder cannot represent a
	// given value: a naive date-time with no default timezone, a Default
	// hook that returns something still unencodable, or an integer that
	// exceeds 64 bits with the bignum path unavailable.
	ErrUnsupportedValue = errors.New("cbor: value cannot be represented in CBOR")

	// ErrCyclicReference is returned when the encoder detects a cycle and
	// value sharing is not enabled to represent it.
	ErrCyclicReference = errors.New("cbor: cyclic reference detected without value sharing")

	// ErrShareIndexInvalid is returned when a tag-29 reference names a
	// share-table slot that no tag 28 has reserved, or a tag-25 reference
	// names an index outside the active string-reference table.
	ErrShareIndexInvalid = errors.New("cbor: invalid shared-value index")

	// ErrTrailingData is returned when decode_from finds bytes remaining
	// after a complete top-level item.
	ErrTrailingData = errors.New("cbor: trailing data after top-level value")

	// ErrStackOverflow is returned when recursion/nesting exceeds the
	// configured depth limit.
	ErrStackOverflow = errors.New("cbor: maximum recursion depth exceeded")
)

// TagHookError wraps an error raised by a user-supplied tag hook, default
// hook, or object hook, or by a built-in tag decoder that could not parse
// its payload, together with the tag number that triggered it (0 when the
// failing hook is the encoder's Default or the decoder's object hook).
type TagHookError struct {
	Tag CborTag
	Err error
}

func (e *TagHookError) Error() string {
	return fmt.Sprintf("cbor: hook for tag %d failed: %v", e.Tag, e.Err)
}

func (e *TagHookError) Unwrap() error {
	return e.Err
}

// CborError provides detailed error information.
type CborError struct {
	Err     error
	Offset  int
	Message string
}

// Error implements the error interface.
func (e *CborError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cbor error at offset %d: %s: %v", e.Offset, e.Message, e.Err)
	}
	return fmt.Sprintf("cbor error at offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *CborError) Unwrap() error {
	return e.Err
}

// NewCborError creates a new CborError.
func NewCborError(err error, offset int, message string) *CborError {
	return &CborError{
		Err:     err,
		Offset:  offset,
		Message: message,
	}
}

// TypeMismatchError is returned when the expected type doesn't match the actual type.
type TypeMismatchError struct {
	Expected CborReaderState
	Actual   CborReaderState
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cbor: expected %s but got %s", e.Expected, e.Actual)
}
