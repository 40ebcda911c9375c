package tlv

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestReadHeaderShortForm(t *testing.T) {
	h, err := ReadHeader([]byte{0x30, 0x05, 0x02, 0x01, 0x05})
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.Tag != Sequence || h.Length != 5 || h.Size != 2 {
		t.Fatalf("unexpected header: %+v", h)
	}
	if h.End() != 7 {
		t.Fatalf("unexpected end: %d", h.End())
	}
}

func TestReadHeaderLongForm(t *testing.T) {
	h, err := ReadHeader([]byte{0x04, 0x82, 0x01, 0x00})
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.Tag != OctetString || h.Length != 256 || h.Size != 4 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestReadHeaderZeroLengthIsNotShort(t *testing.T) {
	h, err := ReadHeader([]byte{0x30, 0x00})
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.Length != 0 || h.Size != 2 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestReadHeaderShortInputSuspends(t *testing.T) {
	for _, in := range [][]byte{nil, {0x30}, {0x04, 0x82}, {0x04, 0x82, 0x01}} {
		if _, err := ReadHeader(in); !errors.Is(err, ErrShortHeader) {
			t.Fatalf("input % x: expected ErrShortHeader, got %v", in, err)
		}
	}
}

func TestReadHeaderRejectsUnsupportedForms(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want error
	}{
		{name: "indefinite", in: []byte{0x30, 0x80}, want: ErrIndefiniteLength},
		{name: "too many length bytes", in: []byte{0x04, 0x85, 0, 0, 0, 0, 1}, want: ErrInvalidLength},
		{name: "reserved length byte", in: []byte{0x04, 0xff}, want: ErrInvalidLength},
		{name: "multi-byte tag", in: []byte{0x1f, 0x81, 0x01}, want: ErrMultiByteTag},
		{name: "multi-byte tag first byte only", in: []byte{0x7f}, want: ErrMultiByteTag},
		{name: "length above int32", in: []byte{0x04, 0x84, 0x80, 0, 0, 0}, want: ErrLengthTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadHeader(tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAppendHeaderMinimalLengths(t *testing.T) {
	cases := []struct {
		length int
		want   []byte
	}{
		{0, []byte{0x04, 0x00}},
		{127, []byte{0x04, 0x7f}},
		{128, []byte{0x04, 0x81, 0x80}},
		{255, []byte{0x04, 0x81, 0xff}},
		{256, []byte{0x04, 0x82, 0x01, 0x00}},
		{1 << 16, []byte{0x04, 0x83, 0x01, 0x00, 0x00}},
		{1 << 24, []byte{0x04, 0x84, 0x01, 0x00, 0x00, 0x00}},
	}
	for _, tc := range cases {
		got := AppendHeader(nil, OctetString, tc.length)
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("length %d: got % x want % x", tc.length, got, tc.want)
		}
		if HeaderSize(tc.length) != len(tc.want) {
			t.Fatalf("length %d: header size %d want %d", tc.length, HeaderSize(tc.length), len(tc.want))
		}
		h, err := ReadHeader(got)
		if err != nil || h.Length != tc.length || h.Size != len(tc.want) {
			t.Fatalf("length %d: read back %+v err=%v", tc.length, h, err)
		}
	}
}

func TestTagParts(t *testing.T) {
	tag := Application(3)
	if tag != 0x63 || tag.Class() != ClassApplication || !tag.Constructed() || tag.Number() != 3 {
		t.Fatalf("unexpected application tag: %s", tag)
	}
	if ContextPrimitive(7) != 0x87 || Context(0) != 0xa0 || ApplicationPrimitive(2) != 0x42 {
		t.Fatalf("unexpected context/application tags")
	}
}

func TestNewTagPanicsOnLongNumber(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = NewTag(ClassContext, false, 31)
}

func TestIntegerEncodingIsMinimal(t *testing.T) {
	cases := []struct {
		n    int64
		want []byte
	}{
		{0, []byte{0x00}},
		{5, []byte{0x05}},
		{127, []byte{0x7f}},
		{128, []byte{0x00, 0x80}},
		{256, []byte{0x01, 0x00}},
		{-1, []byte{0xff}},
		{-128, []byte{0x80}},
		{-129, []byte{0xff, 0x7f}},
		{1<<31 - 1, []byte{0x7f, 0xff, 0xff, 0xff}},
		{1<<32 - 1, []byte{0x00, 0xff, 0xff, 0xff, 0xff}},
	}
	for _, tc := range cases {
		got := AppendInt(nil, tc.n)
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("%d: got % x want % x", tc.n, got, tc.want)
		}
		back, err := ParseInt(got)
		if err != nil || back != tc.n {
			t.Fatalf("%d: parse back %d err=%v", tc.n, back, err)
		}
	}
}

func TestParseIntRejectsBadEncodings(t *testing.T) {
	if _, err := ParseInt(nil); !errors.Is(err, ErrEmptyValue) {
		t.Fatalf("expected ErrEmptyValue, got %v", err)
	}
	if _, err := ParseInt([]byte{0x00, 0x05}); !errors.Is(err, ErrNonMinimalInteger) {
		t.Fatalf("expected ErrNonMinimalInteger, got %v", err)
	}
	if _, err := ParseInt([]byte{0xff, 0x80}); !errors.Is(err, ErrNonMinimalInteger) {
		t.Fatalf("expected ErrNonMinimalInteger, got %v", err)
	}
	if _, err := ParseInt(make([]byte, 9)); !errors.Is(err, ErrIntegerOverflow) {
		t.Fatalf("expected ErrIntegerOverflow, got %v", err)
	}
	if _, err := ParseInt32([]byte{0x00, 0x80, 0x00, 0x00, 0x00}); !errors.Is(err, ErrIntegerOverflow) {
		t.Fatalf("expected int32 overflow, got %v", err)
	}
	if _, err := ParseUint32([]byte{0xff}); !errors.Is(err, ErrIntegerOverflow) {
		t.Fatalf("expected uint32 overflow for negative, got %v", err)
	}
}

func TestBoolAndNull(t *testing.T) {
	if v, err := ParseBool([]byte{0xff}); err != nil || !v {
		t.Fatalf("expected true, got %v err=%v", v, err)
	}
	if v, err := ParseBool([]byte{0x00}); err != nil || v {
		t.Fatalf("expected false, got %v err=%v", v, err)
	}
	if _, err := ParseBool(nil); !errors.Is(err, ErrInvalidBool) {
		t.Fatalf("expected ErrInvalidBool, got %v", err)
	}
	if err := ParseNull([]byte{0x00}); !errors.Is(err, ErrInvalidNull) {
		t.Fatalf("expected ErrInvalidNull, got %v", err)
	}
}

func TestGeneralizedTimeRoundTrip(t *testing.T) {
	in := time.Date(2026, 10, 19, 8, 30, 15, 0, time.UTC)
	enc := AppendGeneralizedTime(nil, in)
	if string(enc) != "20261019083015Z" {
		t.Fatalf("unexpected encoding %q", enc)
	}
	out, err := ParseGeneralizedTime(enc)
	if err != nil || !out.Equal(in) {
		t.Fatalf("round trip: %v err=%v", out, err)
	}
	if _, err := ParseGeneralizedTime([]byte("20261019083015")); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("expected ErrInvalidTime, got %v", err)
	}
}

func TestBitString(t *testing.T) {
	bs, err := ParseBitString([]byte{0x00, 0x40, 0x81, 0x00, 0x10})
	if err != nil {
		t.Fatalf("parse bit string: %v", err)
	}
	if bs.BitLength != 32 || !bs.At(1) || !bs.At(8) || !bs.At(15) || !bs.At(27) || bs.At(0) {
		t.Fatalf("unexpected bits: %+v", bs)
	}
	if got := AppendBitString(nil, bs); !bytes.Equal(got, []byte{0x00, 0x40, 0x81, 0x00, 0x10}) {
		t.Fatalf("unexpected re-encoding % x", got)
	}
	if _, err := ParseBitString([]byte{0x03, 0xff}); !errors.Is(err, ErrInvalidBitString) {
		t.Fatalf("expected padding error, got %v", err)
	}
	if _, err := ParseBitString([]byte{0x08, 0x00}); !errors.Is(err, ErrInvalidBitString) {
		t.Fatalf("expected unused-count error, got %v", err)
	}
}

func TestCheckLength(t *testing.T) {
	for _, n := range []int{0, 1 << 24, MaxLength} {
		if err := CheckLength(n); err != nil {
			t.Fatalf("length %d: %v", n, err)
		}
	}
	for _, n := range []int{-1, MaxLength + 1, 1 << 32} {
		if err := CheckLength(n); !errors.Is(err, ErrLengthTooLarge) {
			t.Fatalf("length %d: expected ErrLengthTooLarge, got %v", n, err)
		}
	}
}
