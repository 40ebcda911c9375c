package encoder

import (
	"time"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// Sequence returns a universal SEQUENCE.
func Sequence(children ...*Node) *Node {
	return Constructed(tlv.Sequence, children...)
}

// Set returns a universal SET.
func Set(children ...*Node) *Node {
	return Constructed(tlv.Set, children...)
}

// Explicit wraps inner in a constructed context tag, the Kerberos field form.
// A nil inner yields nil so optional fields vanish.
func Explicit(number int, inner *Node) *Node {
	if inner == nil {
		return nil
	}
	return Constructed(tlv.Context(number), inner)
}

// Int returns an INTEGER-shaped node carrying n under tag.
func Int(tag tlv.Tag, n int64) *Node {
	return Primitive(tag, tlv.AppendInt(nil, n))
}

// Integer returns a universal INTEGER.
func Integer(n int64) *Node {
	return Int(tlv.Integer, n)
}

// Enum returns a universal ENUMERATED.
func Enum(n int64) *Node {
	return Int(tlv.Enumerated, n)
}

// Bool returns a BOOLEAN-shaped node under tag.
func Bool(tag tlv.Tag, b bool) *Node {
	return Primitive(tag, tlv.AppendBool(nil, b))
}

// Boolean returns a universal BOOLEAN.
func Boolean(b bool) *Node {
	return Bool(tlv.Boolean, b)
}

// OctetString returns a universal OCTET STRING.
func OctetString(v []byte) *Node {
	return Primitive(tlv.OctetString, v)
}

// String returns an octet-string-shaped node under tag.
func String(tag tlv.Tag, s string) *Node {
	return Primitive(tag, []byte(s))
}

// Null returns a universal NULL.
func Null() *Node {
	return Primitive(tlv.Null, nil)
}

// GeneralizedTime returns a universal GeneralizedTime in UTC.
func GeneralizedTime(t time.Time) *Node {
	return Primitive(tlv.GeneralizedTime, tlv.AppendGeneralizedTime(nil, t))
}

// BitString returns a universal BIT STRING.
func BitString(b tlv.BitString) *Node {
	return Primitive(tlv.BitStringTag, tlv.AppendBitString(nil, b))
}
