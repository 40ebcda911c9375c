package codec

import (
	"fmt"
	"sync"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

func target[T any](s *Session) (*T, error) {
	m, ok := s.Target().(*T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("%w: have %T, want *%T", ErrTargetType, s.Target(), zero)
	}
	return m, nil
}

// Set binds fn to the active frame's *T. v aliases the session buffer; fn
// must copy anything it keeps.
func Set[T any](fn func(m *T, v []byte) error) Action {
	return func(s *Session, _ tlv.Header, v []byte) error {
		m, err := target[T](s)
		if err != nil {
			return err
		}
		return fn(m, v)
	}
}

// Touch binds fn to the active frame's *T for transitions that carry no
// value worth reading, such as opening a construct.
func Touch[T any](fn func(m *T)) Action {
	return func(s *Session, _ tlv.Header, _ []byte) error {
		m, err := target[T](s)
		if err != nil {
			return err
		}
		fn(m)
		return nil
	}
}

// Enter derives a nested frame's *C from its parent's *P.
func Enter[P, C any](fn func(p *P) *C) EnterFunc {
	return func(parent any) (any, error) {
		p, ok := parent.(*P)
		if !ok {
			var zero P
			return nil, fmt.Errorf("%w: have %T, want *%T", ErrTargetType, parent, zero)
		}
		return fn(p), nil
	}
}

// Exit hands a finished *C back to its parent *P.
func Exit[P, C any](fn func(p *P, c *C) error) ExitFunc {
	return func(parent, child any) error {
		p, ok := parent.(*P)
		if !ok {
			var zero P
			return fmt.Errorf("%w: have %T, want *%T", ErrTargetType, parent, zero)
		}
		c, ok := child.(*C)
		if !ok {
			var zero C
			return fmt.Errorf("%w: have %T, want *%T", ErrTargetType, child, zero)
		}
		return fn(p, c)
	}
}

// Lazy defers building a grammar until first use and then shares it.
func Lazy(build func() *Grammar) func() *Grammar {
	return sync.OnceValue(build)
}
