package tlv

import "fmt"

// Tag is a single-byte BER identifier: two class bits, the constructed bit
// and a tag number below 31.
type Tag byte

// Class is the two high bits of a tag.
type Class byte

const (
	ClassUniversal   Class = 0x00
	ClassApplication Class = 0x40
	ClassContext     Class = 0x80
	ClassPrivate     Class = 0xc0
)

const (
	constructedBit = 0x20
	tagNumberLong  = 0x1f
)

// Universal tags used by the directory and ticket protocols.
const (
	Boolean         Tag = 0x01
	Integer         Tag = 0x02
	BitStringTag    Tag = 0x03
	OctetString     Tag = 0x04
	Null            Tag = 0x05
	Enumerated      Tag = 0x0a
	UTF8String      Tag = 0x0c
	IA5String       Tag = 0x16
	GeneralizedTime Tag = 0x18
	GeneralString   Tag = 0x1b
	Sequence        Tag = 0x30
	Set             Tag = 0x31
)

// NewTag builds a tag from its parts. It panics if number does not fit in the
// single identifier byte; tags are program constants, never wire input.
func NewTag(class Class, constructed bool, number int) Tag {
	if number < 0 || number >= tagNumberLong {
		panic(fmt.Sprintf("tlv: tag number %d does not fit a single byte", number))
	}
	t := Tag(class) | Tag(number)
	if constructed {
		t |= constructedBit
	}
	return t
}

// Application returns a constructed APPLICATION tag.
func Application(number int) Tag {
	return NewTag(ClassApplication, true, number)
}

// ApplicationPrimitive returns a primitive APPLICATION tag.
func ApplicationPrimitive(number int) Tag {
	return NewTag(ClassApplication, false, number)
}

// Context returns a constructed context-specific tag, the form used for
// explicit tagging.
func Context(number int) Tag {
	return NewTag(ClassContext, true, number)
}

// ContextPrimitive returns a primitive context-specific tag, the form used for
// implicit tagging of primitive types.
func ContextPrimitive(number int) Tag {
	return NewTag(ClassContext, false, number)
}

func (t Tag) Class() Class {
	return Class(t & 0xc0)
}

func (t Tag) Constructed() bool {
	return t&constructedBit != 0
}

func (t Tag) Number() int {
	return int(t & tagNumberLong)
}

func (t Tag) String() string {
	var class string
	switch t.Class() {
	case ClassUniversal:
		class = "UNIVERSAL"
	case ClassApplication:
		class = "APPLICATION"
	case ClassContext:
		class = "CONTEXT"
	default:
		class = "PRIVATE"
	}
	form := "p"
	if t.Constructed() {
		form = "c"
	}
	return fmt.Sprintf("[%s %d]/%s(0x%02x)", class, t.Number(), form, byte(t))
}
