package codec

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// autoStateBase keeps builder-allocated states clear of grammar constants.
const autoStateBase State = 1 << 20

// BuildError lists every problem found in a grammar table. Grammars are
// program data, so a BuildError is a programming error.
type BuildError struct {
	Grammar  string
	Problems []string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("codec: grammar %s: %s", e.Grammar, strings.Join(e.Problems, "; "))
}

// TransitionOption adjusts one transition as it is declared.
type TransitionOption func(*Transition)

// Required rejects a zero-length value at this position.
func Required() TransitionOption {
	return func(t *Transition) { t.Required = true }
}

// Single limits a construct to exactly one child TLV.
func Single() TransitionOption {
	return func(t *Transition) { t.Single = true }
}

// CloseTo moves the grammar to s when the opened construct is exhausted.
func CloseTo(s State) TransitionOption {
	return func(t *Transition) {
		t.closeTo = s
		t.hasClose = true
	}
}

// CloseIn lists the states in which the construct may close. Without it a
// construct with a close state may only close in the state it opened into,
// which is the shape of a SEQUENCE OF.
func CloseIn(states ...State) TransitionOption {
	return func(t *Transition) { t.closeIn = append(t.closeIn, states...) }
}

// OnOpen runs a when a construct is opened.
func OnOpen(a Action) TransitionOption {
	return func(t *Transition) { t.Action = a }
}

// EnterWith sets how a nested transition derives its child target.
func EnterWith(fn EnterFunc) TransitionOption {
	return func(t *Transition) { t.enter = fn }
}

// ExitWith sets the hook run when a nested sub-message completes.
func ExitWith(fn ExitFunc) TransitionOption {
	return func(t *Transition) { t.exit = fn }
}

type midKey struct {
	number int
	inner  tlv.Tag
	to     State
}

// Builder declares a grammar. It collects problems instead of failing
// early so Build can report all of them at once.
type Builder struct {
	g        *Grammar
	problems []string
	next     State
	mids     map[midKey]State
}

// NewBuilder starts a grammar whose frames begin in start. newFn allocates
// the root target for top-level decodes and may be nil for grammars that are
// only ever nested.
func NewBuilder(name string, start State, newFn func() any) *Builder {
	return &Builder{
		g: &Grammar{
			name:  name,
			start: start,
			names: make(map[State]string),
			ends:  make(map[State]bool),
			table: make(map[transitionKey]*Transition),
			newFn: newFn,
		},
		next: autoStateBase,
		mids: make(map[midKey]State),
	}
}

// Label names states for error messages.
func (b *Builder) Label(names map[State]string) *Builder {
	for s, name := range names {
		b.g.names[s] = name
	}
	return b
}

// End declares states in which the grammar's outer construct may close.
func (b *Builder) End(states ...State) *Builder {
	for _, s := range states {
		b.g.ends[s] = true
	}
	return b
}

// Finish sets a hook that turns the completed root target into the value
// delivered to the caller. It may also reject the message.
func (b *Builder) Finish(fn func(any) (any, error)) *Builder {
	b.g.finish = fn
	return b
}

// Primitive declares a transition that consumes a primitive value.
func (b *Builder) Primitive(from State, tag tlv.Tag, to State, action Action, opts ...TransitionOption) *Builder {
	t := &Transition{From: from, Tag: tag, To: to, Kind: Primitive, Action: action}
	return b.add(t, opts)
}

// Open declares a transition into a constructed value.
func (b *Builder) Open(from State, tag tlv.Tag, to State, opts ...TransitionOption) *Builder {
	t := &Transition{From: from, Tag: tag, To: to, Kind: Constructed}
	return b.add(t, opts)
}

// Nest declares a transition that decodes the TLV with sub, then resumes at to.
func (b *Builder) Nest(from State, tag tlv.Tag, to State, sub func() *Grammar, opts ...TransitionOption) *Builder {
	t := &Transition{From: from, Tag: tag, To: to, Kind: Nested, sub: sub}
	return b.add(t, opts)
}

// Explicit declares an explicitly tagged primitive field: a constructed
// context tag [number] holding exactly one inner TLV. opts apply to the
// inner primitive.
func (b *Builder) Explicit(from State, number int, inner tlv.Tag, to State, action Action, opts ...TransitionOption) *Builder {
	mid, fresh := b.mid(from, number, inner, to)
	if fresh {
		b.Primitive(mid, inner, to, action, opts...)
	}
	return b
}

// ExplicitOpen declares an explicitly tagged constructed field, such as a
// SEQUENCE OF. opts apply to the inner construct.
func (b *Builder) ExplicitOpen(from State, number int, inner tlv.Tag, to State, opts ...TransitionOption) *Builder {
	mid, fresh := b.mid(from, number, inner, to)
	if fresh {
		b.Open(mid, inner, to, opts...)
	}
	return b
}

// ExplicitNest declares an explicitly tagged field decoded by sub.
func (b *Builder) ExplicitNest(from State, number int, inner tlv.Tag, to State, sub func() *Grammar, opts ...TransitionOption) *Builder {
	mid, fresh := b.mid(from, number, inner, to)
	if fresh {
		b.Nest(mid, inner, to, sub, opts...)
	}
	return b
}

// mid returns the state inside [number] on the way to `to`, declaring the
// opening transition from `from`. Different predecessors share one mid state.
func (b *Builder) mid(from State, number int, inner tlv.Tag, to State) (State, bool) {
	key := midKey{number: number, inner: inner, to: to}
	mid, ok := b.mids[key]
	if !ok {
		mid = b.next
		b.next++
		b.mids[key] = mid
		b.g.names[mid] = fmt.Sprintf("%s.[%d]", b.g.StateName(to), number)
	}
	b.Open(from, tlv.Context(number), mid, Single(), Required())
	return mid, !ok
}

func (b *Builder) add(t *Transition, opts []TransitionOption) *Builder {
	for _, opt := range opts {
		opt(t)
	}
	key := transitionKey{state: t.From, tag: t.Tag}
	if prev, ok := b.g.table[key]; ok {
		b.problems = append(b.problems, fmt.Sprintf(
			"overlapping transitions from %s on %s (to %s and %s)",
			b.g.StateName(t.From), t.Tag, b.g.StateName(prev.To), b.g.StateName(t.To),
		))
		return b
	}
	b.g.table[key] = t
	return b
}

// Build validates the table and returns the immutable grammar.
func (b *Builder) Build() (*Grammar, error) {
	g := b.g
	problems := append([]string(nil), b.problems...)

	outgoing := make(map[State]bool)
	for _, t := range g.table {
		outgoing[t.From] = true
		switch t.Kind {
		case Primitive:
			if t.Tag.Constructed() {
				problems = append(problems, fmt.Sprintf("primitive transition from %s on constructed tag %s", g.StateName(t.From), t.Tag))
			}
			if t.hasClose || t.Single || len(t.closeIn) > 0 {
				problems = append(problems, fmt.Sprintf("construct options on primitive transition from %s on %s", g.StateName(t.From), t.Tag))
			}
		case Constructed:
			if !t.Tag.Constructed() {
				problems = append(problems, fmt.Sprintf("constructed transition from %s on primitive tag %s", g.StateName(t.From), t.Tag))
			}
			if len(t.closeIn) > 0 && !t.hasClose {
				problems = append(problems, fmt.Sprintf("close states without a close target from %s on %s", g.StateName(t.From), t.Tag))
			}
			if !t.hasClose && !closesWithParent(g, t) {
				problems = append(problems, fmt.Sprintf("inner construct from %s on %s has no close state", g.StateName(t.From), t.Tag))
			}
		case Nested:
			if t.sub == nil {
				problems = append(problems, fmt.Sprintf("nested transition from %s on %s has no sub-grammar", g.StateName(t.From), t.Tag))
			}
		}
	}

	if !outgoing[g.start] {
		problems = append(problems, fmt.Sprintf("start state %s has no transitions", g.StateName(g.start)))
	}

	reached := map[State]bool{g.start: true}
	closing := make(map[State]bool)
	for _, t := range g.table {
		reached[t.To] = true
		if t.hasClose {
			reached[t.closeTo] = true
		}
		for _, s := range t.closeIn {
			closing[s] = true
		}
	}
	for s := range closing {
		if !reached[s] {
			problems = append(problems, fmt.Sprintf("close state %s is never reached", g.StateName(s)))
		}
	}
	var dangling []State
	for s := range reached {
		if !outgoing[s] && !g.ends[s] && !closing[s] {
			dangling = append(dangling, s)
		}
	}
	for s := range g.ends {
		if !reached[s] {
			problems = append(problems, fmt.Sprintf("end state %s is never reached", g.StateName(s)))
		}
	}
	sort.Slice(dangling, func(i, j int) bool { return dangling[i] < dangling[j] })
	for _, s := range dangling {
		problems = append(problems, fmt.Sprintf("state %s has no transitions and is not an end state", g.StateName(s)))
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, &BuildError{Grammar: g.name, Problems: problems}
	}
	b.g = nil
	return g, nil
}

// closesWithParent reports whether a construct without a close state still
// ends in a checked state. The outer construct is checked against the end
// states. A required single-child construct ends where its child leaves it.
func closesWithParent(g *Grammar, t *Transition) bool {
	if t.From == g.start || (t.Single && t.Required) {
		return true
	}
	for _, u := range g.table {
		if u.Kind == Constructed && u.Single && u.From == g.start && u.To == t.From {
			return true
		}
	}
	return false
}

// MustBuild is Build for package-level grammar singletons. It panics on a
// malformed table.
func (b *Builder) MustBuild() *Grammar {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
