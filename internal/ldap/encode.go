package ldap

import (
	"github.com/danmuck/dirauth/internal/protocol/encoder"
	"github.com/danmuck/dirauth/internal/protocol/tlv"
)

func (a *Attribute) Node() *encoder.Node {
	vals := encoder.Set()
	for _, v := range a.Values {
		vals.Append(encoder.OctetString(v))
	}
	return encoder.Sequence(encoder.String(tlv.OctetString, a.Type), vals)
}

func attributesNode(attrs []Attribute) *encoder.Node {
	n := encoder.Sequence()
	for i := range attrs {
		n.Append(attrs[i].Node())
	}
	return n
}

func (m *BindRequest) Node() *encoder.Node {
	n := encoder.Constructed(TagBindRequest,
		encoder.Integer(int64(m.Version)),
		encoder.String(tlv.OctetString, m.Name),
	)
	if m.SASL != nil {
		sasl := encoder.Constructed(tlv.Context(3), encoder.String(tlv.OctetString, m.SASL.Mechanism))
		if m.SASL.Credentials != nil {
			sasl.Append(encoder.OctetString(m.SASL.Credentials))
		}
		return n.Append(sasl)
	}
	return n.Append(encoder.Primitive(tlv.ContextPrimitive(0), m.Password))
}

func (m *SearchRequest) Node() *encoder.Node {
	attrs := encoder.Sequence()
	for _, a := range m.Attributes {
		attrs.Append(encoder.String(tlv.OctetString, a))
	}
	filter := m.Filter
	if filter == nil {
		filter = &Filter{Kind: FilterPresent, Attribute: "objectClass"}
	}
	return encoder.Constructed(TagSearchRequest,
		encoder.String(tlv.OctetString, m.BaseDN),
		encoder.Enum(int64(m.Scope)),
		encoder.Enum(int64(m.DerefAliases)),
		encoder.Integer(int64(m.SizeLimit)),
		encoder.Integer(int64(m.TimeLimit)),
		encoder.Boolean(m.TypesOnly),
		filter.Node(),
		attrs,
	)
}

func (m *SearchResultEntry) Node() *encoder.Node {
	return encoder.Constructed(TagSearchResultEntry,
		encoder.String(tlv.OctetString, m.ObjectName),
		attributesNode(m.Attributes),
	)
}

func (m *SearchResultReference) Node() *encoder.Node {
	n := encoder.Constructed(TagSearchResultReference)
	for _, uri := range m.URIs {
		n.Append(encoder.String(tlv.OctetString, uri))
	}
	return n
}

func (m *ModifyRequest) Node() *encoder.Node {
	changes := encoder.Sequence()
	for i := range m.Changes {
		c := &m.Changes[i]
		changes.Append(encoder.Sequence(encoder.Enum(int64(c.Operation)), c.Modification.Node()))
	}
	return encoder.Constructed(TagModifyRequest, encoder.String(tlv.OctetString, m.Object), changes)
}

func (m *AddRequest) Node() *encoder.Node {
	return encoder.Constructed(TagAddRequest,
		encoder.String(tlv.OctetString, m.Entry),
		attributesNode(m.Attributes),
	)
}

func (m *ModifyDNRequest) Node() *encoder.Node {
	n := encoder.Constructed(TagModifyDNRequest,
		encoder.String(tlv.OctetString, m.Entry),
		encoder.String(tlv.OctetString, m.NewRDN),
		encoder.Boolean(m.DeleteOldRDN),
	)
	if m.HasNewSuperior {
		n.Append(encoder.String(tlv.ContextPrimitive(0), m.NewSuperior))
	}
	return n
}

func (m *CompareRequest) Node() *encoder.Node {
	return encoder.Constructed(TagCompareRequest,
		encoder.String(tlv.OctetString, m.Entry),
		encoder.Sequence(
			encoder.String(tlv.OctetString, m.Attribute),
			encoder.OctetString(m.Value),
		),
	)
}

func (m *ExtendedRequest) Node() *encoder.Node {
	n := encoder.Constructed(TagExtendedRequest, encoder.String(tlv.ContextPrimitive(0), m.Name))
	if m.Value != nil {
		n.Append(encoder.Primitive(tlv.ContextPrimitive(1), m.Value))
	}
	return n
}

func (m *IntermediateResponse) Node() *encoder.Node {
	n := encoder.Constructed(TagIntermediateResponse)
	if m.HasName {
		n.Append(encoder.String(tlv.ContextPrimitive(0), m.Name))
	}
	if m.Value != nil {
		n.Append(encoder.Primitive(tlv.ContextPrimitive(1), m.Value))
	}
	return n
}
