package ldap

import (
	"errors"
	"fmt"

	"github.com/danmuck/dirauth/internal/protocol/codec"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

var (
	ErrBindVersion = errors.New("ldap: bind version out of range")
	ErrEnumRange   = errors.New("ldap: enumerated value out of range")
)

// enum stores an ENUMERATED value after checking it against [lo, hi].
func enum[T ~int32](p *T, v []byte, lo, hi T) error {
	n, err := tlv.ParseInt32(v)
	if err != nil {
		return err
	}
	if T(n) < lo || T(n) > hi {
		return fmt.Errorf("%w: %d", ErrEnumRange, n)
	}
	*p = T(n)
	return nil
}

// bind

const (
	bStart codec.State = iota
	bVersion
	bName
	bAuth
	bMech
	bCreds
	bSASLDone
	bDone
)

var bindRequestGrammar = codec.Lazy(func() *codec.Grammar {
	return codec.Register(codec.NewBuilder("ldap.BindRequest", bStart, func() any { return &BindRequest{} }).
		Label(map[codec.State]string{
			bStart: "start", bVersion: "version", bName: "name", bAuth: "authentication",
			bMech: "sasl-mechanism", bCreds: "sasl-credentials", bSASLDone: "sasl-done", bDone: "done",
		}).
		Open(bStart, TagBindRequest, bVersion).
		Primitive(bVersion, tlv.Integer, bName, codec.Set(func(m *BindRequest, v []byte) error {
			n, err := tlv.ParseInt32(v)
			if err != nil {
				return err
			}
			if n < 1 || n > 127 {
				return fmt.Errorf("%w: %d", ErrBindVersion, n)
			}
			m.Version = n
			return nil
		})).
		Primitive(bName, tlv.OctetString, bAuth, codec.String(func(m *BindRequest) *string { return &m.Name })).
		Primitive(bAuth, tlv.ContextPrimitive(0), bDone, codec.Bytes(func(m *BindRequest) *[]byte { return &m.Password })).
		Open(bAuth, tlv.Context(3), bMech, codec.CloseTo(bDone), codec.CloseIn(bCreds, bSASLDone),
			codec.OnOpen(codec.Touch(func(m *BindRequest) {
				m.SASL = &SASLCredentials{}
			}))).
		Primitive(bMech, tlv.OctetString, bCreds, codec.Set(func(m *BindRequest, v []byte) error {
			m.SASL.Mechanism = string(v)
			return nil
		})).
		Primitive(bCreds, tlv.OctetString, bSASLDone, codec.Set(func(m *BindRequest, v []byte) error {
			m.SASL.Credentials = tlv.Clone(v)
			return nil
		})).
		End(bDone).
		MustBuild())
})

// search

const (
	sStart codec.State = iota
	sBase
	sScope
	sDeref
	sSize
	sTime
	sTypes
	sFilter
	sAttrs
	sAttr
	sDone
)

var searchRequestGrammar = codec.Lazy(func() *codec.Grammar {
	b := codec.NewBuilder("ldap.SearchRequest", sStart, func() any { return &SearchRequest{} }).
		Label(map[codec.State]string{
			sStart: "start", sBase: "base-object", sScope: "scope", sDeref: "deref-aliases",
			sSize: "size-limit", sTime: "time-limit", sTypes: "types-only", sFilter: "filter",
			sAttrs: "attributes", sAttr: "attribute", sDone: "done",
		}).
		Open(sStart, TagSearchRequest, sBase).
		Primitive(sBase, tlv.OctetString, sScope, codec.String(func(m *SearchRequest) *string { return &m.BaseDN })).
		Primitive(sScope, tlv.Enumerated, sDeref, codec.Set(func(m *SearchRequest, v []byte) error {
			return enum(&m.Scope, v, ScopeBaseObject, ScopeWholeSubtree)
		})).
		Primitive(sDeref, tlv.Enumerated, sSize, codec.Set(func(m *SearchRequest, v []byte) error {
			return enum(&m.DerefAliases, v, NeverDerefAliases, DerefAlways)
		})).
		Primitive(sSize, tlv.Integer, sTime, codec.Int32(func(m *SearchRequest) *int32 { return &m.SizeLimit })).
		Primitive(sTime, tlv.Integer, sTypes, codec.Int32(func(m *SearchRequest) *int32 { return &m.TimeLimit })).
		Primitive(sTypes, tlv.Boolean, sFilter, codec.Bool(func(m *SearchRequest) *bool { return &m.TypesOnly })).
		Open(sAttrs, tlv.Sequence, sAttr, codec.CloseTo(sDone), codec.OnOpen(codec.Touch(func(m *SearchRequest) {
			m.Attributes = []string{}
		}))).
		Primitive(sAttr, tlv.OctetString, sAttr, codec.AppendString(func(m *SearchRequest) *[]string { return &m.Attributes })).
		End(sDone)

	enter := codec.EnterWith(codec.Enter(func(m *SearchRequest) *Filter {
		m.Filter = &Filter{}
		return m.Filter
	}))
	for _, tag := range filterTags {
		b.Nest(sFilter, tag, sAttrs, FilterGrammar, enter)
	}
	return codec.Register(b.MustBuild())
})

// attributes

const (
	aStart codec.State = iota
	aType
	aVals
	aVal
	aDone
)

// attributeGrammar decodes PartialAttribute and Attribute.
var attributeGrammar = codec.Lazy(func() *codec.Grammar {
	return codec.Register(codec.NewBuilder("ldap.Attribute", aStart, func() any { return &Attribute{} }).
		Label(map[codec.State]string{aStart: "start", aType: "type", aVals: "vals", aVal: "value", aDone: "done"}).
		Open(aStart, tlv.Sequence, aType).
		Primitive(aType, tlv.OctetString, aVals, codec.String(func(m *Attribute) *string { return &m.Type })).
		Open(aVals, tlv.Set, aVal, codec.CloseTo(aDone), codec.OnOpen(codec.Touch(func(m *Attribute) {
			m.Values = [][]byte{}
		}))).
		Primitive(aVal, tlv.OctetString, aVal, codec.AppendBytes(func(m *Attribute) *[][]byte { return &m.Values })).
		End(aDone).
		MustBuild())
})

// attributeList declares "SEQUENCE OF Attribute" from state from; exit adds
// each decoded attribute to the parent.
func attributeList[P any](b *codec.Builder, from, item, done codec.State, list func(p *P) *[]Attribute) *codec.Builder {
	return b.
		Open(from, tlv.Sequence, item, codec.CloseTo(done), codec.OnOpen(codec.Touch(func(p *P) {
			*list(p) = []Attribute{}
		}))).
		Nest(item, tlv.Sequence, item, attributeGrammar, codec.ExitWith(codec.Exit(func(p *P, a *Attribute) error {
			*list(p) = append(*list(p), *a)
			return nil
		})))
}

// search result entry

const (
	enStart codec.State = iota
	enName
	enAttrs
	enAttr
	enDone
)

var searchResultEntryGrammar = codec.Lazy(func() *codec.Grammar {
	b := codec.NewBuilder("ldap.SearchResultEntry", enStart, func() any { return &SearchResultEntry{} }).
		Label(map[codec.State]string{enStart: "start", enName: "object-name", enAttrs: "attributes", enAttr: "attribute", enDone: "done"}).
		Open(enStart, TagSearchResultEntry, enName).
		Primitive(enName, tlv.OctetString, enAttrs, codec.String(func(m *SearchResultEntry) *string { return &m.ObjectName })).
		End(enDone)
	attributeList(b, enAttrs, enAttr, enDone, func(m *SearchResultEntry) *[]Attribute { return &m.Attributes })
	return codec.Register(b.MustBuild())
})

// search result reference

const (
	rfStart codec.State = iota
	rfURI
	rfMore
)

var searchResultReferenceGrammar = codec.Lazy(func() *codec.Grammar {
	uri := codec.AppendString(func(m *SearchResultReference) *[]string { return &m.URIs })
	return codec.Register(codec.NewBuilder("ldap.SearchResultReference", rfStart, func() any { return &SearchResultReference{} }).
		Label(map[codec.State]string{rfStart: "start", rfURI: "uri", rfMore: "more"}).
		Open(rfStart, TagSearchResultReference, rfURI, codec.Required()).
		Primitive(rfURI, tlv.OctetString, rfMore, uri).
		Primitive(rfMore, tlv.OctetString, rfMore, uri).
		End(rfMore).
		MustBuild())
})

// modify

const (
	mStart codec.State = iota
	mObject
	mChanges
	mChange
	mDone
)

const (
	chStart codec.State = iota
	chOp
	chMod
	chDone
)

var changeGrammar = codec.Lazy(func() *codec.Grammar {
	return codec.Register(codec.NewBuilder("ldap.Change", chStart, func() any { return &Change{} }).
		Label(map[codec.State]string{chStart: "start", chOp: "operation", chMod: "modification", chDone: "done"}).
		Open(chStart, tlv.Sequence, chOp).
		Primitive(chOp, tlv.Enumerated, chMod, codec.Set(func(m *Change, v []byte) error {
			return enum(&m.Operation, v, ModifyAdd, ModifyIncrement)
		})).
		Nest(chMod, tlv.Sequence, chDone, attributeGrammar, codec.EnterWith(codec.Enter(func(m *Change) *Attribute {
			return &m.Modification
		}))).
		End(chDone).
		MustBuild())
})

var modifyRequestGrammar = codec.Lazy(func() *codec.Grammar {
	return codec.Register(codec.NewBuilder("ldap.ModifyRequest", mStart, func() any { return &ModifyRequest{} }).
		Label(map[codec.State]string{mStart: "start", mObject: "object", mChanges: "changes", mChange: "change", mDone: "done"}).
		Open(mStart, TagModifyRequest, mObject).
		Primitive(mObject, tlv.OctetString, mChanges, codec.String(func(m *ModifyRequest) *string { return &m.Object })).
		Open(mChanges, tlv.Sequence, mChange, codec.CloseTo(mDone), codec.OnOpen(codec.Touch(func(m *ModifyRequest) {
			m.Changes = []Change{}
		}))).
		Nest(mChange, tlv.Sequence, mChange, changeGrammar, codec.ExitWith(codec.Exit(func(m *ModifyRequest, c *Change) error {
			m.Changes = append(m.Changes, *c)
			return nil
		}))).
		End(mDone).
		MustBuild())
})

// add

const (
	adStart codec.State = iota
	adEntry
	adAttrs
	adAttr
	adDone
)

var addRequestGrammar = codec.Lazy(func() *codec.Grammar {
	b := codec.NewBuilder("ldap.AddRequest", adStart, func() any { return &AddRequest{} }).
		Label(map[codec.State]string{adStart: "start", adEntry: "entry", adAttrs: "attributes", adAttr: "attribute", adDone: "done"}).
		Open(adStart, TagAddRequest, adEntry).
		Primitive(adEntry, tlv.OctetString, adAttrs, codec.String(func(m *AddRequest) *string { return &m.Entry })).
		End(adDone)
	attributeList(b, adAttrs, adAttr, adDone, func(m *AddRequest) *[]Attribute { return &m.Attributes })
	return codec.Register(b.MustBuild())
})

// modify dn

const (
	mdStart codec.State = iota
	mdEntry
	mdRDN
	mdDelete
	mdSuperior
	mdDone
)

var modifyDNRequestGrammar = codec.Lazy(func() *codec.Grammar {
	return codec.Register(codec.NewBuilder("ldap.ModifyDNRequest", mdStart, func() any { return &ModifyDNRequest{} }).
		Label(map[codec.State]string{
			mdStart: "start", mdEntry: "entry", mdRDN: "new-rdn", mdDelete: "delete-old-rdn",
			mdSuperior: "new-superior", mdDone: "done",
		}).
		Open(mdStart, TagModifyDNRequest, mdEntry).
		Primitive(mdEntry, tlv.OctetString, mdRDN, codec.String(func(m *ModifyDNRequest) *string { return &m.Entry })).
		Primitive(mdRDN, tlv.OctetString, mdDelete, codec.String(func(m *ModifyDNRequest) *string { return &m.NewRDN })).
		Primitive(mdDelete, tlv.Boolean, mdSuperior, codec.Bool(func(m *ModifyDNRequest) *bool { return &m.DeleteOldRDN })).
		Primitive(mdSuperior, tlv.ContextPrimitive(0), mdDone, codec.Set(func(m *ModifyDNRequest, v []byte) error {
			m.NewSuperior, m.HasNewSuperior = string(v), true
			return nil
		})).
		End(mdSuperior, mdDone).
		MustBuild())
})

// compare

const (
	cmStart codec.State = iota
	cmEntry
	cmAVA
	cmDesc
	cmValue
	cmAVADone
	cmDone
)

var compareRequestGrammar = codec.Lazy(func() *codec.Grammar {
	return codec.Register(codec.NewBuilder("ldap.CompareRequest", cmStart, func() any { return &CompareRequest{} }).
		Label(map[codec.State]string{
			cmStart: "start", cmEntry: "entry", cmAVA: "ava", cmDesc: "attribute-desc", cmValue: "assertion-value",
			cmAVADone: "ava-done", cmDone: "done",
		}).
		Open(cmStart, TagCompareRequest, cmEntry).
		Primitive(cmEntry, tlv.OctetString, cmAVA, codec.String(func(m *CompareRequest) *string { return &m.Entry })).
		Open(cmAVA, tlv.Sequence, cmDesc, codec.CloseTo(cmDone), codec.CloseIn(cmAVADone)).
		Primitive(cmDesc, tlv.OctetString, cmValue, codec.String(func(m *CompareRequest) *string { return &m.Attribute })).
		Primitive(cmValue, tlv.OctetString, cmAVADone, codec.Bytes(func(m *CompareRequest) *[]byte { return &m.Value })).
		End(cmDone).
		MustBuild())
})

// extended and intermediate

const (
	xStart codec.State = iota
	xName
	xValue
	xDone
)

var extendedRequestGrammar = codec.Lazy(func() *codec.Grammar {
	return codec.Register(codec.NewBuilder("ldap.ExtendedRequest", xStart, func() any { return &ExtendedRequest{} }).
		Label(map[codec.State]string{xStart: "start", xName: "request-name", xValue: "request-value", xDone: "done"}).
		Open(xStart, TagExtendedRequest, xName).
		Primitive(xName, tlv.ContextPrimitive(0), xValue,
			codec.String(func(m *ExtendedRequest) *string { return &m.Name }), codec.Required()).
		Primitive(xValue, tlv.ContextPrimitive(1), xDone, codec.Bytes(func(m *ExtendedRequest) *[]byte { return &m.Value })).
		End(xValue, xDone).
		MustBuild())
})

var intermediateResponseGrammar = codec.Lazy(func() *codec.Grammar {
	value := codec.Bytes(func(m *IntermediateResponse) *[]byte { return &m.Value })
	return codec.Register(codec.NewBuilder("ldap.IntermediateResponse", xStart, func() any { return &IntermediateResponse{} }).
		Label(map[codec.State]string{xStart: "start", xName: "response-name", xValue: "response-value", xDone: "done"}).
		Open(xStart, TagIntermediateResponse, xName).
		Primitive(xName, tlv.ContextPrimitive(0), xValue, codec.Set(func(m *IntermediateResponse, v []byte) error {
			m.Name, m.HasName = string(v), true
			return nil
		})).
		Primitive(xName, tlv.ContextPrimitive(1), xDone, value).
		Primitive(xValue, tlv.ContextPrimitive(1), xDone, value).
		End(xName, xValue, xDone).
		MustBuild())
})
