package codec

import (
	"fmt"
	"sort"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// State is a position inside one grammar. Values are only meaningful
// relative to the grammar that declares them.
type State int

// Kind says what the driver does with the TLV a transition matched.
type Kind uint8

const (
	// Primitive transitions hand the value bytes to the action.
	Primitive Kind = iota + 1
	// Constructed transitions open a construct: a length counter is pushed
	// and the value is decoded as further TLVs in the same grammar.
	Constructed
	// Nested transitions hand the TLV to a sub-grammar running in its own
	// frame. Control returns at To once the sub-message is complete.
	Nested
)

func (k Kind) String() string {
	switch k {
	case Primitive:
		return "primitive"
	case Constructed:
		return "constructed"
	case Nested:
		return "nested"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Action reads the matched TLV and mutates the session's current target.
// Constructed transitions run their action on open with a nil value.
type Action func(s *Session, h tlv.Header, value []byte) error

// EnterFunc produces the target a nested sub-grammar builds, usually a
// pointer into the parent target.
type EnterFunc func(parent any) (child any, err error)

// ExitFunc runs when a nested sub-message is complete.
type ExitFunc func(parent, child any) error

// Transition is one row of a grammar table.
type Transition struct {
	From State
	Tag  tlv.Tag
	To   State
	Kind Kind

	Action Action

	// Required rejects a zero-length value at this position.
	Required bool
	// Single limits a construct to exactly one child TLV, the shape of an
	// explicit tag.
	Single bool

	closeTo  State
	hasClose bool
	closeIn  []State

	sub   func() *Grammar
	enter EnterFunc
	exit  ExitFunc
}

// CloseTo returns the state the grammar moves to when this construct's
// length is exhausted, if the transition sets one.
func (t *Transition) CloseTo() (State, bool) {
	return t.closeTo, t.hasClose
}

// canClose reports whether the construct this transition opened may close
// while the grammar is in state s.
func (t *Transition) canClose(s State) bool {
	if len(t.closeIn) == 0 {
		return s == t.To
	}
	for _, c := range t.closeIn {
		if c == s {
			return true
		}
	}
	return false
}

// Sub resolves the sub-grammar of a nested transition.
func (t *Transition) Sub() *Grammar {
	if t.sub == nil {
		return nil
	}
	return t.sub()
}

type transitionKey struct {
	state State
	tag   tlv.Tag
}

// Grammar is the immutable transition table for one message type.
type Grammar struct {
	name   string
	start  State
	names  map[State]string
	ends   map[State]bool
	table  map[transitionKey]*Transition
	newFn  func() any
	finish func(any) (any, error)
}

// Name identifies the grammar in errors, logs and the registry.
func (g *Grammar) Name() string {
	return g.name
}

// Start is the state a fresh frame of this grammar begins in.
func (g *Grammar) Start() State {
	return g.start
}

// Lookup returns the transition for tag in state s.
func (g *Grammar) Lookup(s State, tag tlv.Tag) (*Transition, bool) {
	t, ok := g.table[transitionKey{state: s, tag: tag}]
	return t, ok
}

// CanEnd reports whether the grammar's outer construct may close in s.
func (g *Grammar) CanEnd(s State) bool {
	return g.ends[s]
}

// StateName returns the declared name of s, or its number.
func (g *Grammar) StateName(s State) string {
	if name, ok := g.names[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// New allocates the root target for a top-level decode.
func (g *Grammar) New() any {
	if g.newFn == nil {
		return nil
	}
	return g.newFn()
}

// Transitions returns every transition sorted by (state, tag).
func (g *Grammar) Transitions() []Transition {
	out := make([]Transition, 0, len(g.table))
	for _, t := range g.table {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// StateCount returns how many distinct states the table mentions.
func (g *Grammar) StateCount() int {
	seen := map[State]struct{}{g.start: {}}
	for _, t := range g.table {
		seen[t.From] = struct{}{}
		seen[t.To] = struct{}{}
		if t.hasClose {
			seen[t.closeTo] = struct{}{}
		}
	}
	return len(seen)
}

func (g *Grammar) String() string {
	return fmt.Sprintf("grammar %s (%d states, %d transitions)", g.name, g.StateCount(), len(g.table))
}
