package codec

import (
	"time"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// The helpers below bind a primitive value to one field of the active *T.
// The accessor returns the field's address.

// String stores the value as a string.
func String[T any](field func(m *T) *string) Action {
	return Set(func(m *T, v []byte) error {
		*field(m) = string(v)
		return nil
	})
}

// Bytes stores a copy of the value. A present but empty value is stored as a
// non-nil empty slice.
func Bytes[T any](field func(m *T) *[]byte) Action {
	return Set(func(m *T, v []byte) error {
		*field(m) = tlv.Clone(v)
		return nil
	})
}

// Int32 stores an INTEGER or ENUMERATED that must fit in 32 bits.
func Int32[T any](field func(m *T) *int32) Action {
	return Set(func(m *T, v []byte) error {
		n, err := tlv.ParseInt32(v)
		if err != nil {
			return err
		}
		*field(m) = n
		return nil
	})
}

// Uint32 stores an INTEGER constrained to 0..2^32-1.
func Uint32[T any](field func(m *T) *uint32) Action {
	return Set(func(m *T, v []byte) error {
		n, err := tlv.ParseUint32(v)
		if err != nil {
			return err
		}
		*field(m) = n
		return nil
	})
}

// Bool stores a BOOLEAN.
func Bool[T any](field func(m *T) *bool) Action {
	return Set(func(m *T, v []byte) error {
		b, err := tlv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(m) = b
		return nil
	})
}

// Time stores a GeneralizedTime.
func Time[T any](field func(m *T) *time.Time) Action {
	return Set(func(m *T, v []byte) error {
		ts, err := tlv.ParseGeneralizedTime(v)
		if err != nil {
			return err
		}
		*field(m) = ts
		return nil
	})
}

// Bits stores a BIT STRING.
func Bits[T any](field func(m *T) *tlv.BitString) Action {
	return Set(func(m *T, v []byte) error {
		b, err := tlv.ParseBitString(v)
		if err != nil {
			return err
		}
		*field(m) = b
		return nil
	})
}

// AppendString appends the value to a string list, as SEQUENCE OF items do.
func AppendString[T any](field func(m *T) *[]string) Action {
	return Set(func(m *T, v []byte) error {
		p := field(m)
		*p = append(*p, string(v))
		return nil
	})
}

// AppendBytes appends a copy of the value to a byte-string list.
func AppendBytes[T any](field func(m *T) *[][]byte) Action {
	return Set(func(m *T, v []byte) error {
		p := field(m)
		*p = append(*p, tlv.Clone(v))
		return nil
	})
}

// AppendInt32 appends an INTEGER to a list.
func AppendInt32[T any](field func(m *T) *[]int32) Action {
	return Set(func(m *T, v []byte) error {
		n, err := tlv.ParseInt32(v)
		if err != nil {
			return err
		}
		p := field(m)
		*p = append(*p, n)
		return nil
	})
}
