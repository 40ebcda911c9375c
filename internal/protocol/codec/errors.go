package codec

import (
	"errors"
	"fmt"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

var (
	ErrUnexpectedTag       = errors.New("codec: unexpected tag in this context")
	ErrEmptyValue          = errors.New("codec: empty value for required field")
	ErrLengthExceedsParent = errors.New("codec: length exceeds enclosing construct")
	ErrExtraElement        = errors.New("codec: more than one element in explicit tag")
	ErrPDUTooLarge         = errors.New("codec: pdu exceeds maximum size")
	ErrPrematureEnd        = errors.New("codec: construct ended before required fields")
	ErrTooDeep             = errors.New("codec: nesting too deep")
	ErrTruncated           = errors.New("codec: truncated message")
	ErrTrailingBytes       = errors.New("codec: trailing bytes after message")
	ErrTargetType          = errors.New("codec: action target has unexpected type")
)

// ErrorKind separates wire damage from well-formed input the grammar rejects.
type ErrorKind uint8

const (
	// KindMalformed covers length encoding, budget and size violations.
	KindMalformed ErrorKind = iota + 1
	// KindGrammar covers tags and values the active grammar does not accept.
	KindGrammar
)

func (k ErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindGrammar:
		return "grammar"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DecodeError reports where a session failed. Offset counts bytes from the
// start of the session's stream to the tag of the offending TLV.
type DecodeError struct {
	Kind    ErrorKind
	Grammar string
	State   string
	Tag     tlv.Tag
	HasTag  bool
	Offset  int64
	Err     error
}

func (e *DecodeError) Error() string {
	if e.HasTag {
		return fmt.Sprintf("codec: %s error in %s at %s tag=%s offset=%d: %v",
			e.Kind, e.Grammar, e.State, e.Tag, e.Offset, e.Err)
	}
	return fmt.Sprintf("codec: %s error in %s at %s offset=%d: %v",
		e.Kind, e.Grammar, e.State, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// malformedValue lists value errors that mean the bytes themselves are bad,
// as opposed to a grammar-level rejection raised by an action.
var malformedValue = []error{
	tlv.ErrInvalidLength,
	tlv.ErrLengthTooLarge,
	tlv.ErrMultiByteTag,
	tlv.ErrIndefiniteLength,
	tlv.ErrIntegerOverflow,
	tlv.ErrNonMinimalInteger,
	tlv.ErrInvalidBool,
	tlv.ErrInvalidTime,
	tlv.ErrInvalidBitString,
	tlv.ErrInvalidNull,
	ErrLengthExceedsParent,
	ErrPDUTooLarge,
	ErrTooDeep,
	ErrTruncated,
	ErrTrailingBytes,
}

func classify(err error) ErrorKind {
	for _, target := range malformedValue {
		if errors.Is(err, target) {
			return KindMalformed
		}
	}
	return KindGrammar
}
