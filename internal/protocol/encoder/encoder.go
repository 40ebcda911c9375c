// Package encoder serializes typed message trees into definite-length BER.
//
// BER writes a length before its value, and a constructed value's length is
// the encoded size of all of its children. Encoding is therefore two passes
// over a Node tree: Size walks the tree post-order and caches every node's
// content length, then the write pass emits tag, length and value top-down
// into a buffer allocated at the exact final size.
package encoder

import (
	"errors"
	"io"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

var (
	ErrNilNode          = errors.New("encoder: nil node")
	ErrPrimitiveHasKids = errors.New("encoder: primitive node with children")
)

// Marshaler is implemented by every typed protocol message.
type Marshaler interface {
	Node() *Node
}

// Node is one TLV in a message tree. A node is either primitive (Value set,
// no children) or constructed (children only).
type Node struct {
	Tag      tlv.Tag
	Value    []byte
	Children []*Node

	constructed bool
	length      int
}

// Primitive returns a leaf node holding value as-is.
func Primitive(tag tlv.Tag, value []byte) *Node {
	return &Node{Tag: tag, Value: value}
}

// Constructed returns a node whose value is the concatenation of children.
// Nil children are skipped, which lets optional fields be passed inline.
func Constructed(tag tlv.Tag, children ...*Node) *Node {
	n := &Node{Tag: tag, constructed: true}
	n.Append(children...)
	return n
}

// Append adds children to a constructed node, skipping nils.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

// IsConstructed reports whether n was built as a constructed node.
func (n *Node) IsConstructed() bool {
	return n.constructed
}

// Size computes content lengths bottom-up and returns the total encoded size
// of n, header included. Any length above tlv.MaxLength is an error.
func Size(n *Node) (int, error) {
	if n == nil {
		return 0, ErrNilNode
	}
	if !n.constructed {
		if len(n.Children) > 0 {
			return 0, ErrPrimitiveHasKids
		}
		if err := tlv.CheckLength(len(n.Value)); err != nil {
			return 0, err
		}
		n.length = len(n.Value)
		return tlv.HeaderSize(n.length) + n.length, nil
	}
	total := 0
	for _, c := range n.Children {
		size, err := Size(c)
		if err != nil {
			return 0, err
		}
		total += size
		if err := tlv.CheckLength(total); err != nil {
			return 0, err
		}
	}
	n.length = total
	return tlv.HeaderSize(total) + total, nil
}

// Marshal encodes n into a new buffer.
func Marshal(n *Node) ([]byte, error) {
	size, err := Size(n)
	if err != nil {
		return nil, err
	}
	return write(make([]byte, 0, size), n), nil
}

// MarshalMessage encodes a typed message.
func MarshalMessage(m Marshaler) ([]byte, error) {
	if m == nil {
		return nil, ErrNilNode
	}
	return Marshal(m.Node())
}

// MarshalTo encodes n and writes it to w in one call.
func MarshalTo(w io.Writer, n *Node) error {
	b, err := Marshal(n)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// write relies on the lengths cached by Size.
func write(dst []byte, n *Node) []byte {
	dst = tlv.AppendHeader(dst, n.Tag, n.length)
	if !n.constructed {
		return append(dst, n.Value...)
	}
	for _, c := range n.Children {
		dst = write(dst, c)
	}
	return dst
}
