package ldap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

// FilterKind is the CHOICE arm of a search filter.
type FilterKind uint8

const (
	FilterAnd FilterKind = iota
	FilterOr
	FilterNot
	FilterEquality
	FilterSubstrings
	FilterGreaterOrEqual
	FilterLessOrEqual
	FilterPresent
	FilterApprox
	FilterExtensible
)

var filterKindNames = [...]string{
	FilterAnd:            "and",
	FilterOr:             "or",
	FilterNot:            "not",
	FilterEquality:       "equalityMatch",
	FilterSubstrings:     "substrings",
	FilterGreaterOrEqual: "greaterOrEqual",
	FilterLessOrEqual:    "lessOrEqual",
	FilterPresent:        "present",
	FilterApprox:         "approxMatch",
	FilterExtensible:     "extensibleMatch",
}

func (k FilterKind) String() string {
	if int(k) < len(filterKindNames) {
		return filterKindNames[k]
	}
	return fmt.Sprintf("filterKind(%d)", uint8(k))
}

// Tag returns the context tag the filter arm is encoded under. Present is
// the only primitive arm.
func (k FilterKind) Tag() tlv.Tag {
	if k == FilterPresent {
		return tlv.ContextPrimitive(int(k))
	}
	return tlv.Context(int(k))
}

var ErrSubstringOrder = errors.New("ldap: substring elements out of order")

// Filter is one node of a search filter tree. Fields are used according to
// Kind:
//   - and, or, not: Children (not has exactly one)
//   - equality, >=, <=, approx: Attribute and Value
//   - present: Attribute
//   - substrings: Attribute, Initial, Any, Final
//   - extensible: MatchingRule, Attribute, Value, DNAttributes
type Filter struct {
	Kind      FilterKind
	Children  []*Filter
	Attribute string
	Value     []byte

	Initial []byte
	Any     [][]byte
	Final   []byte

	MatchingRule string
	DNAttributes bool
}

const (
	fStart codec.State = iota
	fSet
	fNot
	fNotDone
	fAVAType
	fAVAValue
	fSubType
	fSubs
	fSub
	fSubsDone
	fExtRule
	fExtType
	fExtValue
	fExtDN
	fDone
)

var filterTags = []tlv.Tag{
	FilterAnd.Tag(), FilterOr.Tag(), FilterNot.Tag(), FilterEquality.Tag(),
	FilterSubstrings.Tag(), FilterGreaterOrEqual.Tag(), FilterLessOrEqual.Tag(),
	FilterPresent.Tag(), FilterApprox.Tag(), FilterExtensible.Tag(),
}

var (
	filterOnce sync.Once
	filterG    *codec.Grammar
)

// FilterGrammar decodes one Filter. It refers to itself for and/or/not.
func FilterGrammar() *codec.Grammar {
	filterOnce.Do(func() {
		filterG = codec.Register(buildFilterGrammar())
	})
	return filterG
}

func kind(k FilterKind) codec.TransitionOption {
	return codec.OnOpen(codec.Touch(func(f *Filter) {
		f.Kind = k
		if k == FilterAnd || k == FilterOr || k == FilterNot {
			f.Children = []*Filter{}
		}
	}))
}

func buildFilterGrammar() *codec.Grammar {
	child := codec.EnterWith(codec.Enter(func(f *Filter) *Filter {
		c := &Filter{}
		f.Children = append(f.Children, c)
		return c
	}))
	attr := codec.String(func(f *Filter) *string { return &f.Attribute })
	value := codec.Bytes(func(f *Filter) *[]byte { return &f.Value })

	b := codec.NewBuilder("ldap.Filter", fStart, func() any { return &Filter{} }).
		Label(map[codec.State]string{
			fStart: "start", fSet: "set", fNot: "not", fNotDone: "not-done",
			fAVAType: "ava-type", fAVAValue: "ava-value",
			fSubType: "substrings-type", fSubs: "substrings", fSub: "substring", fSubsDone: "substrings-done",
			fExtRule: "ext-rule", fExtType: "ext-type", fExtValue: "ext-value", fExtDN: "ext-dn",
			fDone: "done",
		}).
		Open(fStart, FilterAnd.Tag(), fSet, codec.CloseTo(fDone), kind(FilterAnd)).
		Open(fStart, FilterOr.Tag(), fSet, codec.CloseTo(fDone), kind(FilterOr)).
		Open(fStart, FilterNot.Tag(), fNot, codec.Single(), codec.Required(), kind(FilterNot)).
		Open(fStart, FilterEquality.Tag(), fAVAType, kind(FilterEquality)).
		Open(fStart, FilterGreaterOrEqual.Tag(), fAVAType, kind(FilterGreaterOrEqual)).
		Open(fStart, FilterLessOrEqual.Tag(), fAVAType, kind(FilterLessOrEqual)).
		Open(fStart, FilterApprox.Tag(), fAVAType, kind(FilterApprox)).
		Open(fStart, FilterSubstrings.Tag(), fSubType, kind(FilterSubstrings)).
		Open(fStart, FilterExtensible.Tag(), fExtRule, kind(FilterExtensible)).
		Primitive(fStart, FilterPresent.Tag(), fDone, codec.Set(func(f *Filter, v []byte) error {
			f.Kind = FilterPresent
			f.Attribute = string(v)
			return nil
		}), codec.Required()).
		Primitive(fAVAType, tlv.OctetString, fAVAValue, attr).
		Primitive(fAVAValue, tlv.OctetString, fDone, value).
		Primitive(fSubType, tlv.OctetString, fSubs, attr).
		Open(fSubs, tlv.Sequence, fSub, codec.CloseTo(fSubsDone), codec.Required()).
		Primitive(fSub, tlv.ContextPrimitive(0), fSub, codec.Set(substringInitial)).
		Primitive(fSub, tlv.ContextPrimitive(1), fSub, codec.Set(substringAny)).
		Primitive(fSub, tlv.ContextPrimitive(2), fSub, codec.Set(substringFinal)).
		Primitive(fExtRule, tlv.ContextPrimitive(1), fExtType,
			codec.String(func(f *Filter) *string { return &f.MatchingRule })).
		Primitive(fExtRule, tlv.ContextPrimitive(2), fExtValue, attr).
		Primitive(fExtType, tlv.ContextPrimitive(2), fExtValue, attr).
		Primitive(fExtRule, tlv.ContextPrimitive(3), fExtDN, value).
		Primitive(fExtType, tlv.ContextPrimitive(3), fExtDN, value).
		Primitive(fExtValue, tlv.ContextPrimitive(3), fExtDN, value).
		Primitive(fExtDN, tlv.ContextPrimitive(4), fDone,
			codec.Bool(func(f *Filter) *bool { return &f.DNAttributes })).
		End(fDone, fNotDone, fSubsDone, fExtDN)

	for _, tag := range filterTags {
		b.Nest(fSet, tag, fSet, FilterGrammar, child)
		b.Nest(fNot, tag, fNotDone, FilterGrammar, child)
	}
	return b.MustBuild()
}

func substringInitial(f *Filter, v []byte) error {
	if f.Initial != nil || len(f.Any) > 0 || f.Final != nil {
		return fmt.Errorf("%w: initial after other elements", ErrSubstringOrder)
	}
	f.Initial = tlv.Clone(v)
	return nil
}

func substringAny(f *Filter, v []byte) error {
	if f.Final != nil {
		return fmt.Errorf("%w: any after final", ErrSubstringOrder)
	}
	f.Any = append(f.Any, tlv.Clone(v))
	return nil
}

func substringFinal(f *Filter, v []byte) error {
	if f.Final != nil {
		return fmt.Errorf("%w: repeated final", ErrSubstringOrder)
	}
	f.Final = tlv.Clone(v)
	return nil
}

// Node encodes the filter.
func (f *Filter) Node() *encoder.Node {
	switch f.Kind {
	case FilterAnd, FilterOr, FilterNot:
		n := encoder.Constructed(f.Kind.Tag())
		for _, c := range f.Children {
			n.Append(c.Node())
		}
		return n
	case FilterEquality, FilterGreaterOrEqual, FilterLessOrEqual, FilterApprox:
		return encoder.Constructed(f.Kind.Tag(),
			encoder.String(tlv.OctetString, f.Attribute),
			encoder.OctetString(f.Value),
		)
	case FilterPresent:
		return encoder.String(f.Kind.Tag(), f.Attribute)
	case FilterSubstrings:
		subs := encoder.Sequence()
		if f.Initial != nil {
			subs.Append(encoder.Primitive(tlv.ContextPrimitive(0), f.Initial))
		}
		for _, a := range f.Any {
			subs.Append(encoder.Primitive(tlv.ContextPrimitive(1), a))
		}
		if f.Final != nil {
			subs.Append(encoder.Primitive(tlv.ContextPrimitive(2), f.Final))
		}
		return encoder.Constructed(f.Kind.Tag(), encoder.String(tlv.OctetString, f.Attribute), subs)
	case FilterExtensible:
		n := encoder.Constructed(f.Kind.Tag())
		if f.MatchingRule != "" {
			n.Append(encoder.String(tlv.ContextPrimitive(1), f.MatchingRule))
		}
		if f.Attribute != "" {
			n.Append(encoder.String(tlv.ContextPrimitive(2), f.Attribute))
		}
		n.Append(encoder.Primitive(tlv.ContextPrimitive(3), f.Value))
		if f.DNAttributes {
			n.Append(encoder.Bool(tlv.ContextPrimitive(4), true))
		}
		return n
	default:
		// An unknown kind has no encoding; a malformed node makes Marshal fail.
		return &encoder.Node{Tag: tlv.OctetString, Children: []*encoder.Node{encoder.Null()}}
	}
}
