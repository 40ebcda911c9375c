package codec

import (
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

const (
	// DefaultMaxPDU bounds a top-level message when no limit is configured.
	DefaultMaxPDU = 8 * 1024 * 1024
	// DefaultMaxDepth bounds open constructs and nested grammar frames.
	DefaultMaxDepth = 64
)

// Option configures a Session.
type Option func(*Session)

// WithMaxPDU sets the largest top-level message, header included, the
// session accepts. Non-positive values keep the default.
func WithMaxPDU(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxPDU = n
		}
	}
}

// WithMaxDepth bounds construct nesting. Non-positive values keep the default.
func WithMaxDepth(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// construct is one open constructed TLV.
type construct struct {
	remaining int
	via       *Transition
	single    bool
	children  int
}

// frame is one active grammar. base is len(open) when the frame was pushed:
// the frame is finished once its constructs are all closed again.
type frame struct {
	grammar *Grammar
	state   State
	target  any
	base    int
	via     *Transition
}

// Session is the per-connection decode state for one grammar. It is not safe
// for concurrent use.
type Session struct {
	grammar  *Grammar
	maxPDU   int
	maxDepth int

	buf    []byte
	pos    int
	offset int64

	open   []construct
	frames []frame

	// pending is a primitive whose header was accepted but whose value bytes
	// have not all arrived.
	pending   *Transition
	hdr       tlv.Header
	tagOffset int64
	msgStart  int64
}

// NewSession binds a session to the grammar of its connection.
func NewSession(g *Grammar, opts ...Option) *Session {
	s := &Session{
		grammar:  g,
		maxPDU:   DefaultMaxPDU,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Grammar returns the grammar the session decodes.
func (s *Session) Grammar() *Grammar {
	return s.grammar
}

// MaxPDU returns the configured top-level size limit.
func (s *Session) MaxPDU() int {
	return s.maxPDU
}

// Target returns the value the active frame is building, or nil between
// messages. Actions use it to reach their typed target.
func (s *Session) Target() any {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1].target
}

// Depth returns how many constructs are open.
func (s *Session) Depth() int {
	return len(s.open)
}

// Frames returns how many grammar frames are active.
func (s *Session) Frames() int {
	return len(s.frames)
}

// Buffered returns how many received bytes have not been consumed yet.
func (s *Session) Buffered() int {
	return len(s.buf) - s.pos
}

// InProgress reports whether a message has started decoding.
func (s *Session) InProgress() bool {
	return len(s.frames) > 0
}

// Reset discards the in-progress message and every buffered byte.
func (s *Session) Reset() {
	s.resetMessage()
	s.offset += int64(len(s.buf))
	s.buf = s.buf[:0]
	s.pos = 0
}

func (s *Session) resetMessage() {
	s.open = s.open[:0]
	for i := range s.frames {
		s.frames[i] = frame{}
	}
	s.frames = s.frames[:0]
	s.pending = nil
	s.hdr = tlv.Header{}
}

// compact drops consumed bytes from the front of the buffer.
func (s *Session) compact() {
	if s.pos == 0 {
		return
	}
	n := copy(s.buf, s.buf[s.pos:])
	s.buf = s.buf[:n]
	s.offset += int64(s.pos)
	s.pos = 0
}

func (s *Session) top() *frame {
	return &s.frames[len(s.frames)-1]
}
