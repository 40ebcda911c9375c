package codec

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// Feed appends p to the session and advances the decoder as far as the
// buffered bytes allow. It returns after at most one complete message; bytes
// past that message stay buffered for Drain or the next Feed.
//
// p is copied. Values handed to actions alias the session buffer and are only
// valid for the duration of the action.
func (s *Session) Feed(p []byte) Result {
	if len(p) > 0 {
		s.buf = append(s.buf, p...)
	}
	return s.run()
}

// Drain advances the decoder over already buffered bytes without new input.
// Callers loop on Drain after a Complete result to pick up pipelined messages.
func (s *Session) Drain() Result {
	return s.run()
}

func (s *Session) run() Result {
	for {
		if s.pending != nil {
			if len(s.buf)-s.pos < s.hdr.Length {
				s.compact()
				return Result{Status: NeedMoreInput}
			}
			if res, done := s.finishPrimitive(); done {
				return res
			}
			continue
		}
		if s.pos == len(s.buf) {
			s.compact()
			return Result{Status: NeedMoreInput}
		}

		at := s.offset + int64(s.pos)
		h, err := tlv.ReadHeader(s.buf[s.pos:])
		if errors.Is(err, tlv.ErrShortHeader) {
			s.compact()
			return Result{Status: NeedMoreInput}
		}
		if err != nil {
			h.Tag = tlv.Tag(s.buf[s.pos])
			return s.fail(err, at, &h)
		}
		if res, done := s.step(h, at); done {
			return res
		}
	}
}

// step accepts one header: it charges the enclosing construct, resolves the
// transition through any nested grammars and consumes the header bytes.
func (s *Session) step(h tlv.Header, at int64) (Result, bool) {
	if len(s.frames) == 0 {
		if h.End() > s.maxPDU {
			return s.fail(fmt.Errorf("%w: %d > %d", ErrPDUTooLarge, h.End(), s.maxPDU), at, &h), true
		}
		s.frames = append(s.frames, frame{
			grammar: s.grammar,
			state:   s.grammar.start,
			target:  s.grammar.New(),
		})
		s.msgStart = at
	} else if err := s.admit(h); err != nil {
		return s.fail(err, at, &h), true
	}

	t, err := s.dispatch(h)
	if err != nil {
		return s.fail(err, at, &h), true
	}
	if t.Required && h.Length == 0 {
		return s.fail(ErrEmptyValue, at, &h), true
	}
	s.pos += h.Size

	if t.Kind == Primitive {
		s.pending = t
		s.hdr = h
		s.tagOffset = at
		return Result{}, false
	}

	if len(s.open) >= s.maxDepth {
		return s.fail(ErrTooDeep, at, &h), true
	}
	s.open = append(s.open, construct{
		remaining: h.Length,
		via:       t,
		single:    t.Single,
	})
	if t.Action != nil {
		if err := t.Action(s, h, nil); err != nil {
			return s.fail(err, at, &h), true
		}
	}
	s.top().state = t.To
	return s.unwind()
}

// admit checks a child header against the innermost open construct and
// charges the whole TLV to it.
func (s *Session) admit(h tlv.Header) error {
	c := &s.open[len(s.open)-1]
	if c.single && c.children > 0 {
		return ErrExtraElement
	}
	if h.End() > c.remaining {
		return fmt.Errorf("%w: %d > %d", ErrLengthExceedsParent, h.End(), c.remaining)
	}
	c.remaining -= h.End()
	c.children++
	return nil
}

// dispatch looks tag up in the active frame, pushing a frame for every nested
// transition until a grammar consumes the TLV itself.
func (s *Session) dispatch(h tlv.Header) (*Transition, error) {
	for {
		f := s.top()
		t, ok := f.grammar.Lookup(f.state, h.Tag)
		if !ok {
			return nil, ErrUnexpectedTag
		}
		if t.Kind != Nested {
			return t, nil
		}
		if t.Required && h.Length == 0 {
			return nil, ErrEmptyValue
		}
		if len(s.frames) >= s.maxDepth {
			return nil, ErrTooDeep
		}
		sub := t.Sub()
		child, err := enterTarget(f.target, t, sub)
		if err != nil {
			return nil, err
		}
		s.frames = append(s.frames, frame{
			grammar: sub,
			state:   sub.start,
			target:  child,
			base:    len(s.open),
			via:     t,
		})
	}
}

func enterTarget(parent any, t *Transition, sub *Grammar) (any, error) {
	if t.enter != nil {
		return t.enter(parent)
	}
	if child := sub.New(); child != nil {
		return child, nil
	}
	return parent, nil
}

func (s *Session) finishPrimitive() (Result, bool) {
	t, h := s.pending, s.hdr
	value := s.buf[s.pos : s.pos+h.Length]
	if t.Action != nil {
		if err := t.Action(s, h, value); err != nil {
			return s.fail(err, s.tagOffset, &h), true
		}
	}
	s.pending = nil
	s.pos += h.Length
	s.top().state = t.To
	return s.unwind()
}

// unwind closes every exhausted construct and returns finished sub-grammar
// frames to their parents. When the root frame finishes the message is
// delivered.
func (s *Session) unwind() (Result, bool) {
	for {
		f := s.top()
		if len(s.open) > f.base {
			c := s.open[len(s.open)-1]
			if c.remaining > 0 {
				return Result{}, false
			}
			if c.via.hasClose {
				if !c.via.canClose(f.state) {
					return s.fail(ErrPrematureEnd, s.offset+int64(s.pos), nil), true
				}
				f.state = c.via.closeTo
			}
			s.open = s.open[:len(s.open)-1]
			continue
		}

		at := s.offset + int64(s.pos)
		if !f.grammar.CanEnd(f.state) {
			return s.fail(ErrPrematureEnd, at, nil), true
		}
		target := f.target
		if f.grammar.finish != nil {
			out, err := f.grammar.finish(target)
			if err != nil {
				return s.fail(err, at, nil), true
			}
			target = out
		}
		if len(s.frames) == 1 {
			return s.complete(target), true
		}

		via := f.via
		s.frames[len(s.frames)-1] = frame{}
		s.frames = s.frames[:len(s.frames)-1]
		parent := s.top()
		if via.exit != nil {
			if err := via.exit(parent.target, target); err != nil {
				return s.fail(err, at, nil), true
			}
		}
		parent.state = via.To
	}
}

func (s *Session) complete(msg any) Result {
	consumed := int(s.offset + int64(s.pos) - s.msgStart)
	s.resetMessage()
	return Result{Status: Complete, Message: msg, Consumed: consumed}
}

func (s *Session) decodeError(err error, at int64, h *tlv.Header) *DecodeError {
	de := &DecodeError{
		Kind:    classify(err),
		Grammar: s.grammar.Name(),
		State:   s.grammar.StateName(s.grammar.start),
		Offset:  at,
		Err:     err,
	}
	if len(s.frames) > 0 {
		f := s.top()
		de.Grammar = f.grammar.Name()
		de.State = f.grammar.StateName(f.state)
	}
	if h != nil {
		de.Tag = h.Tag
		de.HasTag = true
	}
	return de
}

// fail aborts the message. Partial state is never resumable, so the buffer
// goes with it.
func (s *Session) fail(err error, at int64, h *tlv.Header) Result {
	de := s.decodeError(err, at, h)
	log.Debug().Msgf("codec.Session decode failed grammar=%q state=%q offset=%d err=%v",
		de.Grammar, de.State, de.Offset, err)
	s.Reset()
	return Result{Status: Failed, Err: de}
}

// Decode decodes b as exactly one message of g. Incomplete input is
// ErrTruncated and bytes after the message are ErrTrailingBytes.
func Decode(g *Grammar, b []byte, opts ...Option) (any, error) {
	return NewSession(g, opts...).Decode(b)
}

// Decode is the one-shot form on a reusable session. Any buffered input is
// discarded first.
func (s *Session) Decode(b []byte) (any, error) {
	s.Reset()
	s.offset = 0
	res := s.Feed(b)
	switch res.Status {
	case Failed:
		return nil, res.Err
	case NeedMoreInput:
		err := s.decodeError(ErrTruncated, int64(len(b)), nil)
		s.Reset()
		return nil, err
	}
	if res.Consumed != len(b) {
		s.Reset()
		return nil, s.decodeError(
			fmt.Errorf("%w: %d of %d bytes used", ErrTrailingBytes, res.Consumed, len(b)),
			int64(res.Consumed), nil,
		)
	}
	return res.Message, nil
}
