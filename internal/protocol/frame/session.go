package frame

import (
	"github.com/danmuck/dirauth/internal/protocol/codec"
)

// Session decodes length-prefixed messages. Each frame must hold exactly one
// message of the session's grammar.
type Session struct {
	frames *Reassembler
	codec  *codec.Session
}

// NewSession returns a framed session. The codec's PDU limit follows
// limits.MaxPayloadBytes unless opts override it.
func NewSession(g *codec.Grammar, limits Limits, opts ...codec.Option) *Session {
	opts = append([]codec.Option{codec.WithMaxPDU(int(limits.MaxPayloadBytes))}, opts...)
	return &Session{
		frames: NewReassembler(limits),
		codec:  codec.NewSession(g, opts...),
	}
}

// Feed appends p and decodes the next complete frame, if any. Framing errors
// and decode errors tear both layers down.
func (s *Session) Feed(p []byte) codec.Result {
	payload, err := s.frames.Next(p)
	if err != nil {
		s.Reset()
		return codec.Result{Status: codec.Failed, Err: err}
	}
	if payload == nil {
		return codec.Result{Status: codec.NeedMoreInput}
	}
	msg, err := s.codec.Decode(payload)
	if err != nil {
		s.Reset()
		return codec.Result{Status: codec.Failed, Err: err}
	}
	return codec.Result{Status: codec.Complete, Message: msg, Consumed: HeaderLen + len(payload)}
}

// Drain decodes the next frame already buffered.
func (s *Session) Drain() codec.Result {
	return s.Feed(nil)
}

// Buffered returns how many received bytes belong to frames not yet decoded.
func (s *Session) Buffered() int {
	return s.frames.Buffered()
}

// Reset discards buffered frames and any partial decode.
func (s *Session) Reset() {
	s.frames.Reset()
	s.codec.Reset()
}
