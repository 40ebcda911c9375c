// Package frame delimits messages on stream transports that do not carry
// their own boundaries: every message is preceded by a 4-byte big-endian
// length whose high bit is reserved and must be zero.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/dirauth/internal/protocol/codec"
)

// HeaderLen is the size of the length prefix.
const HeaderLen = 4

const reservedBit = 1 << 31

var (
	ErrShortHeader       = errors.New("frame: short length prefix")
	ErrReservedLengthBit = errors.New("frame: reserved length bit set")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
)

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: codec.DefaultMaxPDU,
	}
}

func (l Limits) check(n uint32) error {
	if n > l.MaxPayloadBytes {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, l.MaxPayloadBytes)
	}
	return nil
}

// EncodeHeader returns the prefix for a payload of n bytes.
func EncodeHeader(n uint32) [HeaderLen]byte {
	var b [HeaderLen]byte
	binary.BigEndian.PutUint32(b[:], n)
	return b
}

// AppendHeader appends the prefix for a payload of n bytes to dst.
func AppendHeader(dst []byte, n uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, n)
}

// DecodeHeader reads a prefix. b must hold at least HeaderLen bytes.
func DecodeHeader(b []byte) (uint32, error) {
	if len(b) < HeaderLen {
		return 0, ErrShortHeader
	}
	n := binary.BigEndian.Uint32(b[:HeaderLen])
	if n&reservedBit != 0 {
		return 0, ErrReservedLengthBit
	}
	return n, nil
}

// ReadFrame blocks until one whole frame has been read from r. The payload
// size is validated before any payload byte is read.
func ReadFrame(r io.Reader, limits Limits) ([]byte, error) {
	var prefix [HeaderLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrShortHeader
		}
		return nil, err
	}
	n, err := DecodeHeader(prefix[:])
	if err != nil {
		return nil, err
	}
	if err := limits.check(n); err != nil {
		return nil, err
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// WriteFrame writes payload with its prefix in a single Write call.
func WriteFrame(w io.Writer, payload []byte, limits Limits) error {
	if uint64(len(payload)) >= reservedBit {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	n := uint32(len(payload))
	if err := limits.check(n); err != nil {
		return err
	}
	buf := make([]byte, 0, HeaderLen+len(payload))
	buf = AppendHeader(buf, n)
	buf = append(buf, payload...)
	_, err := w.Write(buf)
	return err
}
