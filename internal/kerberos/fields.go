package kerberos

import (
	"errors"
	"fmt"

	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

var (
	ErrPVNO    = errors.New("kerberos: unsupported protocol version")
	ErrMsgType = errors.New("kerberos: msg-type does not match application tag")
)

// field is one explicitly tagged member of a Kerberos SEQUENCE.
type field struct {
	name     string
	optional bool
	// declare adds the transitions that enter the field from one predecessor
	// state and leave it in to. item is the loop state of a SEQUENCE OF.
	declare func(b *codec.Builder, from, to, item codec.State)
	// items adds the SEQUENCE OF element transitions, once per field.
	items func(b *codec.Builder, item codec.State)
}

func (f field) opt() field {
	f.optional = true
	return f
}

// prim is a [n] field holding one primitive of type inner.
func prim(name string, n int, inner tlv.Tag, a codec.Action) field {
	return field{name: name, declare: func(b *codec.Builder, from, to, _ codec.State) {
		b.Explicit(from, n, inner, to, a)
	}}
}

// nest is a [n] field decoded by sub.
func nest(name string, n int, inner tlv.Tag, sub func() *codec.Grammar, opts ...codec.TransitionOption) field {
	return field{name: name, declare: func(b *codec.Builder, from, to, _ codec.State) {
		b.ExplicitNest(from, n, inner, to, sub, opts...)
	}}
}

// list is a [n] SEQUENCE OF field. onOpen runs when the SEQUENCE opens, so an
// empty list is told apart from an absent one.
func list(name string, n int, onOpen codec.Action, items func(b *codec.Builder, item codec.State)) field {
	return field{
		name: name,
		declare: func(b *codec.Builder, from, to, item codec.State) {
			b.ExplicitOpen(from, n, tlv.Sequence, item, codec.CloseTo(to), codec.OnOpen(onOpen))
		},
		items: items,
	}
}

// sequence declares the body of a SEQUENCE whose fields are numbered in
// order. from is the state just inside the SEQUENCE; states after it are
// allocated here. A field can follow the previous mandatory field or any
// optional field in between, and the body may end after the last mandatory
// field or any optional field that follows it.
func sequence(b *codec.Builder, from codec.State, fields ...field) *codec.Builder {
	labels := make(map[codec.State]string)
	next := from + 1
	preds := []codec.State{from}
	for _, f := range fields {
		to := next
		labels[to] = f.name
		next++

		var item codec.State
		if f.items != nil {
			item = next
			labels[item] = f.name + "-item"
			next++
			f.items(b, item)
		}
		for _, p := range preds {
			f.declare(b, p, to, item)
		}
		if f.optional {
			preds = append(preds, to)
		} else {
			preds = []codec.State{to}
		}
	}
	return b.Label(labels).End(preds...)
}

// pvno checks the protocol version field.
func pvno(_ *codec.Session, _ tlv.Header, v []byte) error {
	n, err := tlv.ParseInt32(v)
	if err != nil {
		return err
	}
	if n != PVNO {
		return fmt.Errorf("%w: %d", ErrPVNO, n)
	}
	return nil
}

// msgType checks the msg-type field against the message's application tag.
func msgType(want int32) codec.Action {
	return func(_ *codec.Session, _ tlv.Header, v []byte) error {
		n, err := tlv.ParseInt32(v)
		if err != nil {
			return err
		}
		if n != want {
			return fmt.Errorf("%w: got %d want %d", ErrMsgType, n, want)
		}
		return nil
	}
}
