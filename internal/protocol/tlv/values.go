package tlv

import (
	"fmt"
	"time"
)

// ParseInt decodes a two's-complement INTEGER of at most eight bytes. The
// encoding must be minimal: no leading 0x00 before a byte whose high bit is
// clear and no leading 0xff before one whose high bit is set.
func ParseInt(v []byte) (int64, error) {
	if len(v) == 0 {
		return 0, ErrEmptyValue
	}
	if len(v) > 8 {
		return 0, fmt.Errorf("%w: %d bytes", ErrIntegerOverflow, len(v))
	}
	if len(v) > 1 {
		if (v[0] == 0x00 && v[1]&0x80 == 0) || (v[0] == 0xff && v[1]&0x80 != 0) {
			return 0, ErrNonMinimalInteger
		}
	}
	var n int64
	if v[0]&0x80 != 0 {
		n = -1
	}
	for _, c := range v {
		n = n<<8 | int64(c)
	}
	return n, nil
}

// ParseInt32 decodes an INTEGER that must fit in 32 bits.
func ParseInt32(v []byte) (int32, error) {
	n, err := ParseInt(v)
	if err != nil {
		return 0, err
	}
	if n < -1<<31 || n > 1<<31-1 {
		return 0, fmt.Errorf("%w: %d exceeds int32", ErrIntegerOverflow, n)
	}
	return int32(n), nil
}

// ParseUint32 decodes an INTEGER constrained to 0..2^32-1, such as Kerberos
// UInt32 nonces.
func ParseUint32(v []byte) (uint32, error) {
	n, err := ParseInt(v)
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 1<<32-1 {
		return 0, fmt.Errorf("%w: %d exceeds uint32", ErrIntegerOverflow, n)
	}
	return uint32(n), nil
}

// IntSize returns the number of bytes in the minimal encoding of n.
func IntSize(n int64) int {
	size := 1
	for n > 0x7f || n < -0x80 {
		size++
		n >>= 8
	}
	return size
}

// AppendInt appends the minimal two's-complement encoding of n.
func AppendInt(dst []byte, n int64) []byte {
	for i := IntSize(n) - 1; i >= 0; i-- {
		dst = append(dst, byte(n>>(8*i)))
	}
	return dst
}

// ParseBool decodes a BOOLEAN. Any non-zero byte is true, as BER allows.
func ParseBool(v []byte) (bool, error) {
	if len(v) != 1 {
		return false, fmt.Errorf("%w: %d bytes", ErrInvalidBool, len(v))
	}
	return v[0] != 0, nil
}

// AppendBool appends the DER form of b (0xff for true).
func AppendBool(dst []byte, b bool) []byte {
	if b {
		return append(dst, 0xff)
	}
	return append(dst, 0x00)
}

// ParseNull checks that a NULL carries no content.
func ParseNull(v []byte) error {
	if len(v) != 0 {
		return ErrInvalidNull
	}
	return nil
}

// GeneralizedTimeLayout is the UTC-only form Kerberos mandates.
const GeneralizedTimeLayout = "20060102150405Z"

// ParseGeneralizedTime decodes a GeneralizedTime in YYYYMMDDHHMMSSZ form.
func ParseGeneralizedTime(v []byte) (time.Time, error) {
	if len(v) != len(GeneralizedTimeLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, v)
	}
	t, err := time.Parse(GeneralizedTimeLayout, string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}
	return t, nil
}

// AppendGeneralizedTime appends t, truncated to whole seconds, in UTC.
func AppendGeneralizedTime(dst []byte, t time.Time) []byte {
	return t.UTC().AppendFormat(dst, GeneralizedTimeLayout)
}

// BitString is a decoded BIT STRING. Bits are numbered from the most
// significant bit of the first byte, as X.690 does.
type BitString struct {
	Bytes     []byte
	BitLength int
}

// At reports whether bit i is set. Out-of-range bits read as zero.
func (b BitString) At(i int) bool {
	if i < 0 || i >= b.BitLength || i/8 >= len(b.Bytes) {
		return false
	}
	return b.Bytes[i/8]&(0x80>>uint(i%8)) != 0
}

// ParseBitString decodes a BIT STRING: a leading count of unused trailing
// bits followed by the bit bytes.
func ParseBitString(v []byte) (BitString, error) {
	if len(v) == 0 {
		return BitString{}, ErrEmptyValue
	}
	unused := int(v[0])
	if unused > 7 || (len(v) == 1 && unused != 0) {
		return BitString{}, fmt.Errorf("%w: %d unused bits", ErrInvalidBitString, unused)
	}
	if unused > 0 && v[len(v)-1]&(1<<uint(unused)-1) != 0 {
		return BitString{}, fmt.Errorf("%w: padding bits set", ErrInvalidBitString)
	}
	out := make([]byte, len(v)-1)
	copy(out, v[1:])
	return BitString{Bytes: out, BitLength: len(out)*8 - unused}, nil
}

// AppendBitString appends the BIT STRING content octets for b. Missing bytes
// are written as zero and bits past BitLength are cleared.
func AppendBitString(dst []byte, b BitString) []byte {
	if b.BitLength < 0 {
		b.BitLength = 0
	}
	n := (b.BitLength + 7) / 8
	unused := n*8 - b.BitLength
	dst = append(dst, byte(unused))
	start := len(dst)
	dst = append(dst, b.Bytes[:min(n, len(b.Bytes))]...)
	for len(dst)-start < n {
		dst = append(dst, 0)
	}
	if unused > 0 {
		dst[len(dst)-1] &^= byte(1<<uint(unused) - 1)
	}
	return dst
}

// Clone returns a copy of v that does not alias the session buffer.
func Clone(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
