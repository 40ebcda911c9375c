// Package tlv reads and writes BER tag-length headers and the primitive value
// encodings shared by the directory and ticket protocols.
//
// Only the definite-length, single-byte-tag subset of BER is supported. Both
// protocols stay inside that subset; anything else is rejected as malformed.
package tlv

import (
	"errors"
	"fmt"
	"math"
)

// MaxHeaderLen is the largest header this package reads or writes: one tag
// byte, one length-of-length byte and four length bytes.
const MaxHeaderLen = 6

// MaxLength is the largest value length read or written.
const MaxLength = math.MaxInt32

var (
	ErrShortHeader       = errors.New("tlv: short header")
	ErrMultiByteTag      = errors.New("tlv: multi-byte tag numbers unsupported")
	ErrIndefiniteLength  = errors.New("tlv: indefinite length unsupported")
	ErrInvalidLength     = errors.New("tlv: invalid length encoding")
	ErrLengthTooLarge    = errors.New("tlv: length too large")
	ErrEmptyValue        = errors.New("tlv: empty value")
	ErrIntegerOverflow   = errors.New("tlv: integer overflow")
	ErrNonMinimalInteger = errors.New("tlv: non-minimal integer encoding")
	ErrInvalidBool       = errors.New("tlv: invalid boolean")
	ErrInvalidTime       = errors.New("tlv: invalid generalized time")
	ErrInvalidBitString  = errors.New("tlv: invalid bit string")
	ErrInvalidNull       = errors.New("tlv: null with content")
)

// Header is one decoded tag/length pair. Size is the number of bytes the
// header occupied on the wire; the value starts Size bytes after the tag.
type Header struct {
	Tag    Tag
	Length int
	Size   int
}

// End returns the offset just past the value, relative to the tag byte.
func (h Header) End() int {
	return h.Size + h.Length
}

func (h Header) String() string {
	return fmt.Sprintf("%s len=%d", h.Tag, h.Length)
}

// ReadHeader parses one header from the front of b. Nothing is consumed: the
// caller advances by h.Size once it accepts the header. ErrShortHeader means b
// ends inside the header and more input is needed; every other error means the
// input is malformed.
func ReadHeader(b []byte) (Header, error) {
	if len(b) < 2 {
		if len(b) == 1 && Tag(b[0]).Number() == tagNumberLong {
			return Header{}, ErrMultiByteTag
		}
		return Header{}, ErrShortHeader
	}
	tag := Tag(b[0])
	if tag.Number() == tagNumberLong {
		return Header{}, ErrMultiByteTag
	}
	first := b[1]
	if first < 0x80 {
		return Header{Tag: tag, Length: int(first), Size: 2}, nil
	}
	n := int(first & 0x7f)
	switch {
	case n == 0:
		return Header{}, ErrIndefiniteLength
	case n > 4:
		return Header{}, fmt.Errorf("%w: %d length bytes", ErrInvalidLength, n)
	}
	if len(b) < 2+n {
		return Header{}, ErrShortHeader
	}
	var length uint64
	for _, c := range b[2 : 2+n] {
		length = length<<8 | uint64(c)
	}
	if length > MaxLength {
		return Header{}, fmt.Errorf("%w: %d", ErrLengthTooLarge, length)
	}
	return Header{Tag: tag, Length: int(length), Size: 2 + n}, nil
}

// CheckLength rejects lengths that cannot be encoded in four length bytes
// or that the decoder would refuse.
func CheckLength(length int) error {
	if length < 0 || length > MaxLength {
		return fmt.Errorf("%w: %d", ErrLengthTooLarge, length)
	}
	return nil
}

// LengthSize returns how many bytes the minimal encoding of length takes.
func LengthSize(length int) int {
	switch {
	case length < 0x80:
		return 1
	case length <= 0xff:
		return 2
	case length <= 0xffff:
		return 3
	case length <= 0xffffff:
		return 4
	default:
		return 5
	}
}

// HeaderSize returns the encoded size of a header carrying length.
func HeaderSize(length int) int {
	return 1 + LengthSize(length)
}

// AppendHeader appends the minimal encoding of (tag, length) to dst.
func AppendHeader(dst []byte, tag Tag, length int) []byte {
	dst = append(dst, byte(tag))
	return AppendLength(dst, length)
}

// AppendLength appends the minimal definite-length encoding of length.
func AppendLength(dst []byte, length int) []byte {
	n := LengthSize(length)
	if n == 1 {
		return append(dst, byte(length))
	}
	dst = append(dst, 0x80|byte(n-1))
	for i := n - 2; i >= 0; i-- {
		dst = append(dst, byte(length>>(8*i)))
	}
	return dst
}
